package billing

import (
	"context"
	"errors"

	"github.com/platinummonkey/entitle/pkg/entitlement"
	"github.com/platinummonkey/entitle/pkg/observability"
	"github.com/platinummonkey/entitle/pkg/orgs"
)

// MembershipLookup reads a live membership row
type MembershipLookup interface {
	GetMembership(ctx context.Context, orgID, userID string) (*orgs.Membership, error)
}

// Gate decides whether a user may act on a subscription reference.
// It always reads membership from the directory store, never from a cache.
type Gate struct {
	members MembershipLookup
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewGate creates a billing gate
func NewGate(members MembershipLookup, logger *observability.Logger, metrics *observability.Metrics) *Gate {
	if logger == nil {
		logger = observability.GetLogger(context.Background())
	}
	return &Gate{members: members, logger: logger, metrics: metrics}
}

// Authorize reports whether userID may perform action on referenceID.
//
// A personal reference is only ever the user's own. For an organization
// reference, view needs any membership and every mutating action needs the
// owner. Unknown actions and malformed references are denied.
func (g *Gate) Authorize(ctx context.Context, userID, referenceID string, action Action) (bool, error) {
	allowed, err := g.authorize(ctx, userID, referenceID, action)
	if err != nil {
		return false, err
	}
	g.metrics.RecordBillingDecision(string(action), allowed)
	if !allowed {
		g.logger.WithFields(map[string]interface{}{
			"user_id":      userID,
			"reference_id": referenceID,
			"action":       string(action),
		}).Info("Billing action denied")
	}
	return allowed, nil
}

func (g *Gate) authorize(ctx context.Context, userID, referenceID string, action Action) (bool, error) {
	if userID == "" {
		return false, nil
	}
	ref, err := ParseReference(referenceID)
	if err != nil {
		return false, nil
	}

	if ref.Kind == ReferencePersonal {
		return ref.ID == userID, nil
	}

	membership, err := g.members.GetMembership(ctx, ref.ID, userID)
	if errors.Is(err, entitlement.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	switch {
	case action == ActionView:
		return true, nil
	case action.Mutating():
		return membership.Role.IsOwner(), nil
	default:
		return false, nil
	}
}

// Require is Authorize with a denial turned into an Unauthorized error.
// A malformed reference is InvalidInput.
func (g *Gate) Require(ctx context.Context, userID, referenceID string, action Action) (Reference, error) {
	ref, err := ParseReference(referenceID)
	if err != nil {
		return Reference{}, err
	}
	allowed, err := g.Authorize(ctx, userID, referenceID, action)
	if err != nil {
		return Reference{}, err
	}
	if !allowed {
		if ref.Kind == ReferencePersonal {
			return Reference{}, entitlement.Unauthorized("You can only manage your own subscription")
		}
		if action.Mutating() {
			return Reference{}, entitlement.Unauthorized("Only organization owners can manage billing")
		}
		return Reference{}, entitlement.Unauthorized("You do not have access to this subscription")
	}
	return ref, nil
}
