package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/entitle/pkg/auth"
	"github.com/platinummonkey/entitle/pkg/entitlement"
	"github.com/platinummonkey/entitle/pkg/storage"
)

// queries implements Queries over a pool or a transaction.
// Placeholders are numbered in order of appearance so the same statements run
// on both dialects.
type queries struct {
	q       storage.Querier
	dialect storage.Dialect
}

type rowScanner interface {
	Scan(dest ...any) error
}

const userColumns = `id, email, name, subscription_tier, created_at`

func scanUser(row rowScanner) (*User, error) {
	u := &User{}
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.SubscriptionTier, &u.CreatedAt); err != nil {
		return nil, err
	}
	return u, nil
}

// GetUser retrieves a user by ID
func (s *queries) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entitlement.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetUserByEmail retrieves a user by lowercased email
func (s *queries) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entitlement.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// UpsertUser inserts the user or refreshes its profile. The tier is left alone
// on conflict; only the webhook path writes it.
func (s *queries) UpsertUser(ctx context.Context, u *User) error {
	if u.SubscriptionTier == "" {
		u.SubscriptionTier = entitlement.TierFree
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users (id, email, name, subscription_tier, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET email = excluded.email, name = excluded.name`,
		u.ID, u.Email, u.Name, u.SubscriptionTier, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// SetUserTier rewrites the cached personal tier
func (s *queries) SetUserTier(ctx context.Context, id string, tier entitlement.Tier) error {
	res, err := s.q.ExecContext(ctx, `UPDATE users SET subscription_tier = $1 WHERE id = $2`, tier, id)
	if err != nil {
		return fmt.Errorf("failed to set user tier: %w", err)
	}
	return expectOne(res, "user not found")
}

// ListUserIDs returns every user id
func (s *queries) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const orgColumns = `id, name, slug, subscription_tier, subscription_seats, created_by, created_at`

func scanOrganization(row rowScanner, extra ...any) (*Organization, error) {
	o := &Organization{}
	dest := []any{
		&o.ID, &o.Name, &o.Slug,
		&o.Metadata.SubscriptionTier, &o.Metadata.SubscriptionSeats, &o.Metadata.CreatedBy,
		&o.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return o, nil
}

// CreateOrganization inserts an organization. A taken slug surfaces as a
// unique violation for the caller to retry.
func (s *queries) CreateOrganization(ctx context.Context, o *Organization) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO organizations (id, name, slug, subscription_tier, subscription_seats, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		o.ID, o.Name, o.Slug, o.Metadata.SubscriptionTier, o.Metadata.SubscriptionSeats,
		o.Metadata.CreatedBy, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

// GetOrganization retrieves an organization by ID
func (s *queries) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	return s.getOrganization(ctx, id, "")
}

// LockOrganization reads the organization and holds its row lock until the
// transaction ends. Every mutation of an organization's memberships or
// invitations starts here so concurrent writers queue on the same row.
func (s *queries) LockOrganization(ctx context.Context, id string) (*Organization, error) {
	return s.getOrganization(ctx, id, s.dialect.ForUpdate())
}

func (s *queries) getOrganization(ctx context.Context, id, lock string) (*Organization, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = $1`+lock, id)
	o, err := scanOrganization(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entitlement.NotFound("organization not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return o, nil
}

// ListOrganizationsForUser returns the user's organizations with their role, oldest first
func (s *queries) ListOrganizationsForUser(ctx context.Context, userID string) ([]*OrganizationWithRole, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT o.id, o.name, o.slug, o.subscription_tier, o.subscription_seats, o.created_by, o.created_at, m.role
		FROM organizations o
		JOIN memberships m ON m.organization_id = o.id
		WHERE m.user_id = $1
		ORDER BY m.created_at ASC, o.id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var result []*OrganizationWithRole
	for rows.Next() {
		var role auth.Role
		o, err := scanOrganization(rows, &role)
		if err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		result = append(result, &OrganizationWithRole{Organization: *o, Role: role})
	}
	return result, rows.Err()
}

// SetOrganizationSubscription rewrites the cached tier and seat count
func (s *queries) SetOrganizationSubscription(ctx context.Context, id string, tier entitlement.Tier, seats int) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE organizations SET subscription_tier = $1, subscription_seats = $2 WHERE id = $3`,
		tier, seats, id)
	if err != nil {
		return fmt.Errorf("failed to update organization subscription: %w", err)
	}
	return expectOne(res, "organization not found")
}

// DeleteOrganization removes the organization with its invitations,
// memberships and local subscription row
func (s *queries) DeleteOrganization(ctx context.Context, id string) error {
	for _, stmt := range []string{
		`DELETE FROM invitations WHERE organization_id = $1`,
		`DELETE FROM memberships WHERE organization_id = $1`,
		`DELETE FROM subscriptions WHERE reference_id = $1`,
	} {
		if _, err := s.q.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("failed to delete organization: %w", err)
		}
	}

	res, err := s.q.ExecContext(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}
	return expectOne(res, "organization not found")
}

const membershipColumns = `id, organization_id, user_id, role, created_at`

func scanMembership(row rowScanner) (*Membership, error) {
	m := &Membership{}
	if err := row.Scan(&m.ID, &m.OrganizationID, &m.UserID, &m.Role, &m.CreatedAt); err != nil {
		return nil, err
	}
	return m, nil
}

// GetMembership retrieves the user's membership in an organization
func (s *queries) GetMembership(ctx context.Context, orgID, userID string) (*Membership, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+membershipColumns+`
		FROM memberships
		WHERE organization_id = $1 AND user_id = $2`, orgID, userID)
	m, err := scanMembership(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entitlement.NotFound("member not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// ListMembers returns the organization's members in join order
func (s *queries) ListMembers(ctx context.Context, orgID string) ([]*Member, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT m.id, m.organization_id, m.user_id, m.role, m.created_at, u.email, u.name
		FROM memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.organization_id = $1
		ORDER BY m.created_at ASC, m.id ASC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		m := &Member{}
		if err := rows.Scan(&m.ID, &m.OrganizationID, &m.UserID, &m.Role, &m.CreatedAt, &m.Email, &m.Name); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// CountMembers returns the number of memberships in an organization
func (s *queries) CountMembers(ctx context.Context, orgID string) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memberships WHERE organization_id = $1`, orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return count, nil
}

// CountOwners returns the number of owner memberships in an organization
func (s *queries) CountOwners(ctx context.Context, orgID string) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memberships WHERE organization_id = $1 AND role = $2`,
		orgID, auth.RoleOwner).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count owners: %w", err)
	}
	return count, nil
}

// EarliestAdmin returns the longest-standing admin, or nil when there is none.
// Ties on creation time go to the lowest membership id.
func (s *queries) EarliestAdmin(ctx context.Context, orgID string) (*Membership, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+membershipColumns+`
		FROM memberships
		WHERE organization_id = $1 AND role = $2
		ORDER BY created_at ASC, id ASC
		LIMIT 1`, orgID, auth.RoleAdmin)
	m, err := scanMembership(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find admin: %w", err)
	}
	return m, nil
}

// CreateMembership inserts a membership. An existing membership for the same
// user is reported as invalid input and left unchanged.
func (s *queries) CreateMembership(ctx context.Context, m *Membership) error {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO memberships (id, organization_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (organization_id, user_id) DO NOTHING`,
		m.ID, m.OrganizationID, m.UserID, m.Role, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create membership: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to create membership: %w", err)
	}
	if n == 0 {
		return entitlement.InvalidInput("user is already a member of this organization")
	}
	return nil
}

// UpdateRole changes a member's role
func (s *queries) UpdateRole(ctx context.Context, orgID, userID string, role auth.Role) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE memberships SET role = $1 WHERE organization_id = $2 AND user_id = $3`,
		role, orgID, userID)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	return expectOne(res, "member not found")
}

// DeleteMembership removes a member
func (s *queries) DeleteMembership(ctx context.Context, orgID, userID string) error {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM memberships WHERE organization_id = $1 AND user_id = $2`, orgID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete membership: %w", err)
	}
	return expectOne(res, "member not found")
}

const invitationColumns = `id, organization_id, email, role, token, invited_by, status, expires_at, created_at, accepted_at, accepted_by`

func scanInvitation(row rowScanner) (*Invitation, error) {
	inv := &Invitation{}
	var acceptedAt sql.NullTime
	var acceptedBy sql.NullString
	err := row.Scan(&inv.ID, &inv.OrganizationID, &inv.Email, &inv.Role, &inv.Token, &inv.InvitedBy,
		&inv.Status, &inv.ExpiresAt, &inv.CreatedAt, &acceptedAt, &acceptedBy)
	if err != nil {
		return nil, err
	}
	if acceptedAt.Valid {
		at := acceptedAt.Time
		inv.AcceptedAt = &at
	}
	inv.AcceptedBy = acceptedBy.String
	return inv, nil
}

// CreateInvitation inserts a pending invitation
func (s *queries) CreateInvitation(ctx context.Context, inv *Invitation) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO invitations (id, organization_id, email, role, token, invited_by, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		inv.ID, inv.OrganizationID, inv.Email, inv.Role, inv.Token, inv.InvitedBy,
		inv.Status, inv.ExpiresAt, inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	return nil
}

// FindPendingInvitation returns the newest pending invitation for email, or nil
func (s *queries) FindPendingInvitation(ctx context.Context, orgID, email string) (*Invitation, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+invitationColumns+`
		FROM invitations
		WHERE organization_id = $1 AND email = $2 AND status = $3
		ORDER BY created_at DESC
		LIMIT 1`, orgID, email, InvitationPending)
	inv, err := scanInvitation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find invitation: %w", err)
	}
	return inv, nil
}

// RefreshInvitation rewrites the role, inviter, token and expiry of a pending invitation
func (s *queries) RefreshInvitation(ctx context.Context, inv *Invitation) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE invitations SET role = $1, invited_by = $2, token = $3, expires_at = $4
		WHERE id = $5`,
		inv.Role, inv.InvitedBy, inv.Token, inv.ExpiresAt, inv.ID)
	if err != nil {
		return fmt.Errorf("failed to refresh invitation: %w", err)
	}
	return expectOne(res, "invitation not found")
}

// GetInvitation retrieves an invitation within an organization
func (s *queries) GetInvitation(ctx context.Context, orgID, id string) (*Invitation, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+invitationColumns+`
		FROM invitations
		WHERE organization_id = $1 AND id = $2`, orgID, id)
	inv, err := scanInvitation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entitlement.NotFound("invitation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

// GetInvitationByToken retrieves an invitation by its secret token.
// Writers hold the organization lock, not an invitation row lock.
func (s *queries) GetInvitationByToken(ctx context.Context, token string) (*Invitation, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+invitationColumns+`
		FROM invitations
		WHERE token = $1`, token)
	inv, err := scanInvitation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entitlement.NotFound("invitation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

// ListInvitations returns every invitation of an organization, newest first
func (s *queries) ListInvitations(ctx context.Context, orgID string) ([]*Invitation, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+invitationColumns+`
		FROM invitations
		WHERE organization_id = $1
		ORDER BY created_at DESC, id ASC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}
	return invitations, rows.Err()
}

// MarkInvitationAccepted records who accepted the invitation and when
func (s *queries) MarkInvitationAccepted(ctx context.Context, id, userID string, at time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE invitations SET status = $1, accepted_at = $2, accepted_by = $3 WHERE id = $4`,
		InvitationAccepted, at, userID, id)
	if err != nil {
		return fmt.Errorf("failed to accept invitation: %w", err)
	}
	return expectOne(res, "invitation not found")
}

// SetInvitationStatus moves an invitation to status
func (s *queries) SetInvitationStatus(ctx context.Context, id string, status InvitationStatus) error {
	res, err := s.q.ExecContext(ctx, `UPDATE invitations SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update invitation: %w", err)
	}
	return expectOne(res, "invitation not found")
}

// ExpireInvitations marks pending invitations past their expiry as expired
func (s *queries) ExpireInvitations(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE invitations SET status = $1 WHERE status = $2 AND expires_at <= $3`,
		InvitationExpired, InvitationPending, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire invitations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to expire invitations: %w", err)
	}
	return n, nil
}

func expectOne(res sql.Result, notFound string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return entitlement.NotFound(notFound)
	}
	return nil
}
