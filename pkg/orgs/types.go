package orgs

import (
	"time"

	"github.com/platinummonkey/entitle/pkg/auth"
	"github.com/platinummonkey/entitle/pkg/entitlement"
)

const (
	// DefaultSeats is the seat count of a new organization
	DefaultSeats = 10
	// InvitationTTL is how long an invitation stays acceptable
	InvitationTTL = 7 * 24 * time.Hour
	// MaxNameLength bounds organization names
	MaxNameLength = 100
)

// User is a signed-up person with a personal subscription tier
type User struct {
	ID               string           `json:"id"`
	Email            string           `json:"email"`
	Name             string           `json:"name"`
	SubscriptionTier entitlement.Tier `json:"subscriptionTier"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// Metadata is the billing snapshot cached on an organization.
// It mirrors the payment provider and is refreshed by webhooks.
type Metadata struct {
	SubscriptionTier  entitlement.Tier `json:"subscriptionTier"`
	SubscriptionSeats int              `json:"subscriptionSeats"`
	CreatedBy         string           `json:"createdBy"`
}

// Organization is a team account
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Metadata  Metadata  `json:"metadata"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsTeam reports whether the cached tier is team
func (o *Organization) IsTeam() bool {
	return o.Metadata.SubscriptionTier == entitlement.TierTeam
}

// Membership binds a user to an organization with a role
type Membership struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId"`
	UserID         string    `json:"userId"`
	Role           auth.Role `json:"role"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Member is a membership joined with the user's profile
type Member struct {
	Membership
	Email string `json:"email"`
	Name  string `json:"name"`
}

// InvitationStatus is the lifecycle state of an invitation
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationExpired  InvitationStatus = "expired"
	InvitationCanceled InvitationStatus = "canceled"
)

// Invitation is a pending offer of membership sent to an email address
type Invitation struct {
	ID             string           `json:"id"`
	OrganizationID string           `json:"organizationId"`
	Email          string           `json:"email"`
	Role           auth.Role        `json:"role"`
	Token          string           `json:"-"`
	InvitedBy      string           `json:"invitedBy"`
	Status         InvitationStatus `json:"status"`
	ExpiresAt      time.Time        `json:"expiresAt"`
	CreatedAt      time.Time        `json:"createdAt"`
	AcceptedAt     *time.Time       `json:"acceptedAt,omitempty"`
	AcceptedBy     string           `json:"acceptedBy,omitempty"`
}

// Acceptable reports whether the invitation can still be accepted at now
func (i *Invitation) Acceptable(now time.Time) bool {
	return i.Status == InvitationPending && now.Before(i.ExpiresAt)
}

// OrganizationWithRole is an organization as seen by one of its members
type OrganizationWithRole struct {
	Organization
	Role auth.Role `json:"role"`
}

// OrganizationDetails is the full view returned to a member
type OrganizationDetails struct {
	Organization
	Role    auth.Role `json:"role"`
	Members []*Member `json:"members"`
}
