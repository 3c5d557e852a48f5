package orgs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/platinummonkey/entitle/pkg/auth"
	"github.com/platinummonkey/entitle/pkg/entitlement"
	"github.com/platinummonkey/entitle/pkg/storage"
)

const slugAttempts = 5

// CreateOrganization creates a free organization owned by creatorID
func (m *Manager) CreateOrganization(ctx context.Context, creatorID, name string) (*Organization, error) {
	name, err := ValidateName(name)
	if err != nil {
		return nil, err
	}

	base := Slugify(name)
	for attempt := 0; attempt < slugAttempts; attempt++ {
		slug := base
		if attempt > 0 {
			suffix, err := randomString(4)
			if err != nil {
				return nil, err
			}
			slug = base + "-" + suffix
		}

		org, err := m.createOrganization(ctx, creatorID, name, slug)
		if err == nil {
			m.logger.WithFields(map[string]interface{}{
				"organization_id": org.ID,
				"user_id":         creatorID,
			}).Info("Organization created")
			return org, nil
		}
		if !storage.IsUniqueViolation(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("failed to create organization: no free slug for %q", base)
}

func (m *Manager) createOrganization(ctx context.Context, creatorID, name, slug string) (*Organization, error) {
	id, err := NewOrganizationID(name)
	if err != nil {
		return nil, err
	}

	now := m.clock()
	org := &Organization{
		ID:   id,
		Name: name,
		Slug: slug,
		Metadata: Metadata{
			SubscriptionTier:  entitlement.TierFree,
			SubscriptionSeats: DefaultSeats,
			CreatedBy:         creatorID,
		},
		CreatedAt: now,
	}

	err = m.store.InTx(ctx, func(q Queries) error {
		if _, err := q.GetUser(ctx, creatorID); err != nil {
			return err
		}
		if err := q.CreateOrganization(ctx, org); err != nil {
			return err
		}
		return q.CreateMembership(ctx, &Membership{
			ID:             uuid.New().String(),
			OrganizationID: org.ID,
			UserID:         creatorID,
			Role:           auth.RoleOwner,
			CreatedAt:      now,
		})
	})
	if err != nil {
		return nil, err
	}
	return org, nil
}

// GetOrganization returns the organization, the caller's role and its members
func (m *Manager) GetOrganization(ctx context.Context, userID, orgID string) (*OrganizationDetails, error) {
	org, err := m.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}

	membership, err := requireMember(ctx, m.store, orgID, userID)
	if err != nil {
		return nil, err
	}

	members, err := m.store.ListMembers(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if members == nil {
		members = []*Member{}
	}

	return &OrganizationDetails{
		Organization: *org,
		Role:         membership.Role,
		Members:      members,
	}, nil
}

// DeleteOrganization removes the organization with its memberships and
// invitations. A paid subscription is canceled with the provider first; if
// that fails nothing is deleted.
func (m *Manager) DeleteOrganization(ctx context.Context, userID, orgID string) error {
	org, err := m.store.GetOrganization(ctx, orgID)
	if err != nil {
		return err
	}

	membership, err := requireMember(ctx, m.store, orgID, userID)
	if err != nil {
		return err
	}
	if !membership.Role.IsOwner() {
		return entitlement.Unauthorized("Only the owner can delete the organization")
	}

	if org.Metadata.SubscriptionTier != entitlement.TierFree && m.canceler != nil {
		if err := m.canceler.CancelOrganizationSubscription(ctx, userID, orgID); err != nil {
			return err
		}
	}

	err = m.store.InTx(ctx, func(q Queries) error {
		if _, err := q.LockOrganization(ctx, orgID); err != nil {
			return err
		}
		current, err := requireMember(ctx, q, orgID, userID)
		if err != nil {
			return err
		}
		if !current.Role.IsOwner() {
			return entitlement.Unauthorized("Only the owner can delete the organization")
		}
		return q.DeleteOrganization(ctx, orgID)
	})
	if err != nil {
		return err
	}

	m.metrics.RecordMembershipChange("delete_organization")
	m.logger.WithFields(map[string]interface{}{
		"organization_id": orgID,
		"user_id":         userID,
	}).Info("Organization deleted")
	return nil
}
