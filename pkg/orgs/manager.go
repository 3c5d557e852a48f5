package orgs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/entitle/pkg/async"
	"github.com/platinummonkey/entitle/pkg/auth"
	"github.com/platinummonkey/entitle/pkg/entitlement"
	"github.com/platinummonkey/entitle/pkg/notify"
	"github.com/platinummonkey/entitle/pkg/observability"
	"go.opentelemetry.io/otel/trace"
)

// SubscriptionCanceler cancels an organization's paid subscription with the
// payment provider. DeleteOrganization calls it before removing anything.
type SubscriptionCanceler interface {
	CancelOrganizationSubscription(ctx context.Context, userID, orgID string) error
}

// Manager runs every membership-changing operation. Each operation is one
// directory store transaction that starts by locking the organization row.
type Manager struct {
	store         Store
	notifier      notify.Notifier
	canceler      SubscriptionCanceler
	background    *async.Group
	logger        *observability.Logger
	metrics       *observability.Metrics
	tracer        trace.Tracer
	now           func() time.Time
	notifyTimeout time.Duration
	appURL        string
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics sets the metrics sink
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithNotifyTimeout bounds each notification
func WithNotifyTimeout(d time.Duration) Option {
	return func(m *Manager) { m.notifyTimeout = d }
}

// WithSubscriptionCanceler sets the provider hook used when deleting paid organizations
func WithSubscriptionCanceler(c SubscriptionCanceler) Option {
	return func(m *Manager) { m.canceler = c }
}

// WithAppURL sets the base URL used in emailed links
func WithAppURL(url string) Option {
	return func(m *Manager) { m.appURL = strings.TrimRight(url, "/") }
}

// NewManager creates a membership manager
func NewManager(store Store, notifier notify.Notifier, opts ...Option) *Manager {
	m := &Manager{
		store:         store,
		notifier:      notifier,
		tracer:        observability.Tracer(),
		now:           time.Now,
		notifyTimeout: notify.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = observability.GetLogger(context.Background())
	}
	m.background = async.NewGroup(m.logger)
	return m
}

// Wait blocks until in-flight notifications finish
func (m *Manager) Wait() {
	m.background.Wait()
}

// Drain waits up to timeout for in-flight notifications
func (m *Manager) Drain(ctx context.Context) error {
	timeout := m.notifyTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !m.background.WaitTimeout(timeout) {
		return errors.New("notifications still in flight")
	}
	return nil
}

func (m *Manager) startSpan(ctx context.Context, name, orgID, userID string) (context.Context, trace.Span) {
	return observability.StartSpan(ctx, m.tracer, "orgs", name,
		observability.AttrOrgID.String(orgID),
		observability.AttrUserID.String(userID),
	)
}

func (m *Manager) clock() time.Time {
	return m.now().UTC()
}

// EnsureUser records the session's user so memberships can reference it
func (m *Manager) EnsureUser(ctx context.Context, session *auth.Session) (*User, error) {
	if !session.Authenticated() {
		return nil, entitlement.Unauthenticated("Please sign in")
	}
	if !auth.ValidUserID(session.UserID) {
		return nil, entitlement.Unauthenticated("Session does not carry a valid user id")
	}

	user := &User{
		ID:        session.UserID,
		Email:     strings.ToLower(strings.TrimSpace(session.Email)),
		Name:      session.Name,
		CreatedAt: m.clock(),
	}
	if err := m.store.UpsertUser(ctx, user); err != nil {
		return nil, err
	}
	return m.store.GetUser(ctx, user.ID)
}

// requireMember returns the caller's membership or Unauthorized
func requireMember(ctx context.Context, q Queries, orgID, userID string) (*Membership, error) {
	membership, err := q.GetMembership(ctx, orgID, userID)
	if entitlement.KindOf(err) == entitlement.KindNotFound {
		return nil, entitlement.Unauthorized("You are not a member of this organization")
	}
	return membership, err
}

// Invite creates a pending invitation for email and mails it. Inviting an
// address that already has a pending invitation refreshes that invitation.
func (m *Manager) Invite(ctx context.Context, orgID, inviterID, email, role string) (inv *Invitation, err error) {
	ctx, span := m.startSpan(ctx, "Invite", orgID, inviterID)
	defer func() { observability.EndSpan(span, err) }()
	return m.invite(ctx, orgID, inviterID, email, role)
}

func (m *Manager) invite(ctx context.Context, orgID, inviterID, email, role string) (*Invitation, error) {
	var (
		org       *Organization
		inv       *Invitation
		refreshed bool
	)

	err := m.store.InTx(ctx, func(q Queries) error {
		var err error
		org, err = q.LockOrganization(ctx, orgID)
		if err != nil {
			return err
		}

		inviter, err := requireMember(ctx, q, orgID, inviterID)
		if err != nil {
			return err
		}
		if !inviter.Role.CanManageMembers() {
			return entitlement.Unauthorized("Only owners and admins can invite members")
		}

		address, err := NormalizeEmail(email)
		if err != nil {
			return err
		}
		inviteRole, err := InviteRole(role)
		if err != nil {
			return err
		}

		if existing, err := q.GetUserByEmail(ctx, address); err == nil {
			if _, err := q.GetMembership(ctx, orgID, existing.ID); err == nil {
				return entitlement.InvalidInput("This user is already a member of the organization")
			} else if entitlement.KindOf(err) != entitlement.KindNotFound {
				return err
			}
		} else if entitlement.KindOf(err) != entitlement.KindNotFound {
			return err
		}

		count, err := q.CountMembers(ctx, orgID)
		if err != nil {
			return err
		}
		if err := CheckCapacity(org, count); err != nil {
			return err
		}

		token, err := NewInvitationToken()
		if err != nil {
			return err
		}
		now := m.clock()

		pending, err := q.FindPendingInvitation(ctx, orgID, address)
		if err != nil {
			return err
		}
		if pending != nil {
			pending.Role = inviteRole
			pending.InvitedBy = inviterID
			pending.Token = token
			pending.ExpiresAt = now.Add(InvitationTTL)
			inv, refreshed = pending, true
			return q.RefreshInvitation(ctx, pending)
		}

		inv = &Invitation{
			ID:             uuid.New().String(),
			OrganizationID: orgID,
			Email:          address,
			Role:           inviteRole,
			Token:          token,
			InvitedBy:      inviterID,
			Status:         InvitationPending,
			ExpiresAt:      now.Add(InvitationTTL),
			CreatedAt:      now,
		}
		refreshed = false
		return q.CreateInvitation(ctx, inv)
	})
	if err != nil {
		if entitlement.KindOf(err) == entitlement.KindSeatLimitReached {
			m.metrics.RecordSeatLimitRejection()
		}
		m.metrics.RecordInvitation(string(entitlement.KindOf(err)))
		return nil, err
	}

	if refreshed {
		m.metrics.RecordInvitation("refreshed")
	} else {
		m.metrics.RecordInvitation("created")
	}

	m.sendInvitation(ctx, org, inv)
	return inv, nil
}

// sendInvitation mails the invitation. Failure is logged and swallowed.
func (m *Manager) sendInvitation(ctx context.Context, org *Organization, inv *Invitation) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.notifyTimeout)
	defer cancel()

	msg := notify.Message{
		To:       inv.Email,
		Subject:  fmt.Sprintf("You've been invited to join %s", org.Name),
		Template: notify.TemplateInvitation,
		Data: map[string]string{
			"organizationName": org.Name,
			"role":             string(inv.Role),
			"acceptUrl":        m.appURL + "/invitations/" + inv.Token + "/accept",
			"expiresAt":        inv.ExpiresAt.Format(time.RFC3339),
		},
	}
	if err := m.notifier.Send(ctx, msg); err != nil {
		m.logger.WithError(err).WithFields(map[string]interface{}{
			"organization_id": org.ID,
			"invitation_id":   inv.ID,
		}).Warn("Failed to send invitation email")
	}
}

// Remove deletes targetID's membership. Owners may only remove themselves.
// When the last owner leaves, ownership passes to the longest-standing admin
// in the same transaction; without an admin to inherit, nothing changes.
func (m *Manager) Remove(ctx context.Context, orgID, removerID, targetID string) (err error) {
	ctx, span := m.startSpan(ctx, "Remove", orgID, removerID)
	defer func() { observability.EndSpan(span, err) }()
	return m.remove(ctx, orgID, removerID, targetID)
}

func (m *Manager) remove(ctx context.Context, orgID, removerID, targetID string) error {
	var (
		org        *Organization
		newOwnerID string
	)

	err := m.store.InTx(ctx, func(q Queries) error {
		newOwnerID = ""

		var err error
		org, err = q.LockOrganization(ctx, orgID)
		if err != nil {
			return err
		}

		remover, err := requireMember(ctx, q, orgID, removerID)
		if err != nil {
			return err
		}
		if !remover.Role.CanManageMembers() {
			return entitlement.Unauthorized("Only owners and admins can remove members")
		}

		target, err := q.GetMembership(ctx, orgID, targetID)
		if err != nil {
			return err
		}

		if target.Role.IsOwner() {
			if targetID != removerID {
				return entitlement.Unauthorized("Owners can only remove themselves")
			}
			owners, err := q.CountOwners(ctx, orgID)
			if err != nil {
				return err
			}
			if owners <= 1 {
				newOwnerID, err = TransferOwnership(ctx, q, orgID, targetID)
				if err != nil {
					return err
				}
			}
		}

		return q.DeleteMembership(ctx, orgID, targetID)
	})
	if err != nil {
		if entitlement.KindOf(err) == entitlement.KindNoAdminAvailable {
			m.metrics.RecordOwnershipTransfer("no_admin_available")
		}
		return err
	}

	m.metrics.RecordMembershipChange("remove")
	if newOwnerID != "" {
		m.metrics.RecordOwnershipTransfer("transferred")
		m.logger.WithFields(map[string]interface{}{
			"organization_id": orgID,
			"previous_owner":  targetID,
			"new_owner":       newOwnerID,
		}).Info("Billing ownership transferred")
		m.notifyNewOwner(ctx, org, newOwnerID)
	}
	return nil
}

// notifyNewOwner tells the promoted admin they now own billing. It runs after
// commit and in the background; the transfer stands whatever happens here.
func (m *Manager) notifyNewOwner(ctx context.Context, org *Organization, userID string) {
	m.background.Go(ctx, m.notifyTimeout, "billing owner notification", func(ctx context.Context) error {
		user, err := m.store.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		return m.notifier.Send(ctx, notify.Message{
			To:       user.Email,
			Subject:  fmt.Sprintf("You are now the billing owner of %s", org.Name),
			Template: notify.TemplateOwnerTransfer,
			Data: map[string]string{
				"organizationName": org.Name,
				"billingUrl":       m.appURL + "/orgs/" + org.ID + "/billing",
			},
		})
	})
}

// ChangeRole sets targetID's role. Only owners reassign roles, and may make
// another member an owner. An owner's role can only change while another
// owner remains.
func (m *Manager) ChangeRole(ctx context.Context, orgID, actorID, targetID, role string) error {
	err := m.store.InTx(ctx, func(q Queries) error {
		if _, err := q.LockOrganization(ctx, orgID); err != nil {
			return err
		}

		actor, err := requireMember(ctx, q, orgID, actorID)
		if err != nil {
			return err
		}
		if !actor.Role.IsOwner() {
			return entitlement.Unauthorized("Only owners can update member roles")
		}

		target, err := q.GetMembership(ctx, orgID, targetID)
		if err != nil {
			return err
		}

		newRole, err := auth.ParseRole(role)
		if err != nil {
			return entitlement.InvalidInput("Role must be owner, admin or member")
		}
		if target.Role == newRole {
			return nil
		}
		if target.Role.IsOwner() {
			owners, err := q.CountOwners(ctx, orgID)
			if err != nil {
				return err
			}
			if owners <= 1 {
				return entitlement.InvalidInput("The only owner's role cannot be changed")
			}
		}

		return q.UpdateRole(ctx, orgID, targetID, newRole)
	})
	if err != nil {
		return err
	}

	m.metrics.RecordMembershipChange("change_role")
	return nil
}

// ListForUser returns the organizations userID belongs to with their role
func (m *Manager) ListForUser(ctx context.Context, userID string) ([]*OrganizationWithRole, error) {
	result, err := m.store.ListOrganizationsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = []*OrganizationWithRole{}
	}
	return result, nil
}

// SetActive checks that userID may select orgID as the active organization.
// An empty orgID clears the selection and always succeeds.
func (m *Manager) SetActive(ctx context.Context, userID, orgID string) error {
	if orgID == "" {
		return nil
	}
	_, err := requireMember(ctx, m.store, orgID, userID)
	return err
}
