package orgs

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/platinummonkey/entitle/pkg/entitlement"
	"github.com/platinummonkey/entitle/pkg/observability"
)

// AcceptInvitation turns a pending invitation into a membership for userID.
// The seat check and the insert share the organization lock with Invite, so
// concurrent acceptances cannot overfill a team.
func (m *Manager) AcceptInvitation(ctx context.Context, token, userID string) (membership *Membership, err error) {
	ctx, span := m.startSpan(ctx, "AcceptInvitation", "", userID)
	defer func() { observability.EndSpan(span, err) }()
	return m.acceptInvitation(ctx, token, userID)
}

func (m *Manager) acceptInvitation(ctx context.Context, token, userID string) (*Membership, error) {
	user, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var membership *Membership
	err = m.store.InTx(ctx, func(q Queries) error {
		inv, err := q.GetInvitationByToken(ctx, token)
		if err != nil {
			return err
		}

		org, err := q.LockOrganization(ctx, inv.OrganizationID)
		if err != nil {
			return err
		}

		if inv.Status == InvitationAccepted && inv.AcceptedBy == userID {
			membership, err = q.GetMembership(ctx, inv.OrganizationID, userID)
			return err
		}

		now := m.clock()
		if !inv.Acceptable(now) {
			if inv.Status == InvitationPending {
				return entitlement.InvalidInput("This invitation has expired")
			}
			return entitlement.InvalidInput("This invitation is no longer valid")
		}
		if !strings.EqualFold(inv.Email, user.Email) {
			return entitlement.Unauthorized("This invitation was sent to a different email address")
		}

		existing, err := q.GetMembership(ctx, inv.OrganizationID, userID)
		if err == nil {
			membership = existing
			return q.MarkInvitationAccepted(ctx, inv.ID, userID, now)
		}
		if entitlement.KindOf(err) != entitlement.KindNotFound {
			return err
		}

		count, err := q.CountMembers(ctx, inv.OrganizationID)
		if err != nil {
			return err
		}
		if err := CheckCapacity(org, count); err != nil {
			return err
		}

		membership = &Membership{
			ID:             uuid.New().String(),
			OrganizationID: inv.OrganizationID,
			UserID:         userID,
			Role:           inv.Role,
			CreatedAt:      now,
		}
		if err := q.CreateMembership(ctx, membership); err != nil {
			return err
		}
		return q.MarkInvitationAccepted(ctx, inv.ID, userID, now)
	})
	if err != nil {
		if entitlement.KindOf(err) == entitlement.KindSeatLimitReached {
			m.metrics.RecordSeatLimitRejection()
		}
		return nil, err
	}

	m.metrics.RecordMembershipChange("accept_invitation")
	return membership, nil
}

// ListInvitations returns the organization's invitations to an owner or admin
func (m *Manager) ListInvitations(ctx context.Context, userID, orgID string) ([]*Invitation, error) {
	membership, err := requireMember(ctx, m.store, orgID, userID)
	if err != nil {
		return nil, err
	}
	if !membership.Role.CanManageMembers() {
		return nil, entitlement.Unauthorized("Only owners and admins can view invitations")
	}

	invitations, err := m.store.ListInvitations(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if invitations == nil {
		invitations = []*Invitation{}
	}
	return invitations, nil
}

// CancelInvitation withdraws a pending invitation
func (m *Manager) CancelInvitation(ctx context.Context, userID, orgID, invitationID string) error {
	return m.store.InTx(ctx, func(q Queries) error {
		if _, err := q.LockOrganization(ctx, orgID); err != nil {
			return err
		}

		membership, err := requireMember(ctx, q, orgID, userID)
		if err != nil {
			return err
		}
		if !membership.Role.CanManageMembers() {
			return entitlement.Unauthorized("Only owners and admins can cancel invitations")
		}

		inv, err := q.GetInvitation(ctx, orgID, invitationID)
		if err != nil {
			return err
		}
		if inv.Status != InvitationPending {
			return entitlement.InvalidInput("Only pending invitations can be canceled")
		}
		return q.SetInvitationStatus(ctx, inv.ID, InvitationCanceled)
	})
}

// ExpireInvitations marks every pending invitation past its expiry as expired
func (m *Manager) ExpireInvitations(ctx context.Context) (int64, error) {
	n, err := m.store.ExpireInvitations(ctx, m.clock())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.WithField("count", n).Info("Expired invitations")
	}
	return n, nil
}
