package billing

import (
	"errors"
	"strings"
	"time"

	"github.com/platinummonkey/entitle/pkg/entitlement"
)

// Plan is a purchasable price point
type Plan string

const (
	PlanPro        Plan = "pro"
	PlanProYearly  Plan = "pro_yearly"
	PlanTeam       Plan = "team"
	PlanTeamYearly Plan = "team_yearly"
)

// ErrReferenceGone is returned when provider state arrives for a user or
// organization that no longer exists
var ErrReferenceGone = errors.New("billing reference no longer exists")

// Plans lists every plan
var Plans = []Plan{PlanPro, PlanProYearly, PlanTeam, PlanTeamYearly}

// Tier returns the tier the plan grants
func (p Plan) Tier() entitlement.Tier {
	switch p {
	case PlanPro, PlanProYearly:
		return entitlement.TierPro
	case PlanTeam, PlanTeamYearly:
		return entitlement.TierTeam
	default:
		return entitlement.TierFree
	}
}

// Valid reports whether p is a known plan
func (p Plan) Valid() bool {
	return p.Tier() != entitlement.TierFree
}

// ParsePlan parses a plan name
func ParsePlan(s string) (Plan, error) {
	p := Plan(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", entitlement.InvalidInput("Unknown plan " + s)
	}
	return p, nil
}

// Action is a billing operation mediated by the Gate
type Action string

const (
	ActionView    Action = "view"
	ActionUpgrade Action = "upgrade"
	ActionCancel  Action = "cancel"
	ActionRestore Action = "restore"
)

// Mutating reports whether the action changes the subscription
func (a Action) Mutating() bool {
	return a == ActionUpgrade || a == ActionCancel || a == ActionRestore
}

// ReferenceKind says who a subscription belongs to
type ReferenceKind int

const (
	ReferencePersonal ReferenceKind = iota + 1
	ReferenceOrganization
)

// Reference is a parsed subscription reference id
type Reference struct {
	ID   string
	Kind ReferenceKind
}

// ParseReference classifies a reference id by prefix: "usr_" is a personal
// subscription, "org_" an organization's.
func ParseReference(id string) (Reference, error) {
	switch {
	case strings.HasPrefix(id, "usr_") && len(id) > len("usr_"):
		return Reference{ID: id, Kind: ReferencePersonal}, nil
	case strings.HasPrefix(id, "org_") && len(id) > len("org_"):
		return Reference{ID: id, Kind: ReferenceOrganization}, nil
	default:
		return Reference{}, entitlement.InvalidInput("Invalid subscription reference")
	}
}

// Accepts reports whether the plan may be bought for this reference
func (r Reference) Accepts(p Plan) bool {
	if r.Kind == ReferencePersonal {
		return p.Tier() == entitlement.TierPro
	}
	return p.Tier() == entitlement.TierTeam
}

// SubscriptionStatus mirrors the provider's subscription status
type SubscriptionStatus string

const (
	StatusActive     SubscriptionStatus = "active"
	StatusTrialing   SubscriptionStatus = "trialing"
	StatusPastDue    SubscriptionStatus = "past_due"
	StatusIncomplete SubscriptionStatus = "incomplete"
	StatusCanceled   SubscriptionStatus = "canceled"
	StatusUnpaid     SubscriptionStatus = "unpaid"
)

// Entitles reports whether a subscription in this status grants its plan
func (s SubscriptionStatus) Entitles() bool {
	return s == StatusActive || s == StatusTrialing
}

// Subscription is the local copy of a provider subscription
type Subscription struct {
	ID                     string             `json:"id"`
	ReferenceID            string             `json:"referenceId"`
	Plan                   Plan               `json:"plan"`
	Status                 SubscriptionStatus `json:"status"`
	Seats                  int                `json:"seats,omitempty"`
	ProviderCustomerID     string             `json:"-"`
	ProviderSubscriptionID string             `json:"-"`
	CancelAtPeriodEnd      bool               `json:"cancelAtPeriodEnd"`
	PeriodEnd              *time.Time         `json:"periodEnd,omitempty"`
	UpdatedAt              time.Time          `json:"updatedAt"`
}

// EffectiveTier is the tier the subscription grants right now
func (s *Subscription) EffectiveTier() entitlement.Tier {
	if s == nil || !s.Status.Entitles() {
		return entitlement.TierFree
	}
	return s.Plan.Tier()
}

// CheckoutRequest describes a checkout session to open with the provider
type CheckoutRequest struct {
	Plan          Plan
	ReferenceID   string
	CustomerID    string
	CustomerEmail string
	Seats         int
}

// CheckoutSession is where the caller is sent to pay
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"checkoutUrl"`
}

// ProviderSubscription is the provider's view of a subscription
type ProviderSubscription struct {
	ID                string
	CustomerID        string
	ReferenceID       string
	Plan              Plan
	Status            SubscriptionStatus
	Seats             int
	CancelAtPeriodEnd bool
	PeriodEnd         *time.Time
}
