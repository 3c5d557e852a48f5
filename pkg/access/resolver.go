package access

import (
	"context"

	"github.com/platinummonkey/entitle/pkg/auth"
	"github.com/platinummonkey/entitle/pkg/cache"
	"github.com/platinummonkey/entitle/pkg/entitlement"
	"github.com/platinummonkey/entitle/pkg/observability"
	"github.com/platinummonkey/entitle/pkg/orgs"
)

// Directory is the part of the directory store the resolver reads
type Directory interface {
	GetUser(ctx context.Context, id string) (*orgs.User, error)
	GetOrganization(ctx context.Context, id string) (*orgs.Organization, error)
	GetMembership(ctx context.Context, orgID, userID string) (*orgs.Membership, error)
}

// Resolver loads the inputs of the access evaluator for a session
type Resolver struct {
	dir    Directory
	tiers  *cache.TierCache
	logger *observability.Logger
}

// NewResolver creates a resolver reading tiers through tiers
func NewResolver(dir Directory, tiers *cache.TierCache, logger *observability.Logger) *Resolver {
	if logger == nil {
		logger = observability.GetLogger(context.Background())
	}
	return &Resolver{dir: dir, tiers: tiers, logger: logger}
}

// GetAccess computes what the session may do. Anonymous sessions get the free
// tier. An active organization the user no longer belongs to is ignored.
func (r *Resolver) GetAccess(ctx context.Context, session *auth.Session) (entitlement.Access, error) {
	if !session.Authenticated() {
		return entitlement.Evaluate(entitlement.Input{}), nil
	}

	personal, err := r.tiers.Get(ctx, session.UserID, func(ctx context.Context) (cache.Snapshot, error) {
		user, err := r.dir.GetUser(ctx, session.UserID)
		if entitlement.KindOf(err) == entitlement.KindNotFound {
			return cache.Snapshot{Tier: entitlement.TierFree}, nil
		}
		if err != nil {
			return cache.Snapshot{}, err
		}
		return cache.Snapshot{Tier: user.SubscriptionTier}, nil
	})
	if err != nil {
		return entitlement.Access{}, err
	}

	in := entitlement.Input{
		Authenticated: true,
		PersonalTier:  personal.Tier,
	}

	orgID := session.ActiveOrganizationID
	if orgID != "" {
		_, err := r.dir.GetMembership(ctx, orgID, session.UserID)
		switch {
		case err == nil:
			org, err := r.tiers.Get(ctx, orgID, func(ctx context.Context) (cache.Snapshot, error) {
				o, err := r.dir.GetOrganization(ctx, orgID)
				if err != nil {
					return cache.Snapshot{}, err
				}
				return cache.Snapshot{Tier: o.Metadata.SubscriptionTier, Seats: o.Metadata.SubscriptionSeats}, nil
			})
			if err != nil {
				return entitlement.Access{}, err
			}
			in.ActiveOrganizationID = orgID
			in.OrganizationTier = org.Tier
		case entitlement.KindOf(err) == entitlement.KindNotFound:
			r.logger.WithFields(map[string]interface{}{
				"user_id":         session.UserID,
				"organization_id": orgID,
			}).Debug("Ignoring active organization without membership")
		default:
			return entitlement.Access{}, err
		}
	}

	return entitlement.Evaluate(in), nil
}
