package orgs

import (
	"context"
	"time"

	"github.com/platinummonkey/entitle/pkg/auth"
	"github.com/platinummonkey/entitle/pkg/entitlement"
	"github.com/platinummonkey/entitle/pkg/storage"
)

// Queries is the directory store's data access surface. The same methods run
// against the pool or inside a transaction.
//
// Lookups of a single row return an *entitlement.Error of kind not_found when
// the row is absent. FindPendingInvitation and EarliestAdmin return nil, nil
// instead because absence is an expected answer for them.
type Queries interface {
	// Users
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpsertUser(ctx context.Context, user *User) error
	SetUserTier(ctx context.Context, id string, tier entitlement.Tier) error
	ListUserIDs(ctx context.Context) ([]string, error)

	// Organizations
	CreateOrganization(ctx context.Context, org *Organization) error
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	LockOrganization(ctx context.Context, id string) (*Organization, error)
	ListOrganizationsForUser(ctx context.Context, userID string) ([]*OrganizationWithRole, error)
	SetOrganizationSubscription(ctx context.Context, id string, tier entitlement.Tier, seats int) error
	DeleteOrganization(ctx context.Context, id string) error

	// Memberships
	GetMembership(ctx context.Context, orgID, userID string) (*Membership, error)
	ListMembers(ctx context.Context, orgID string) ([]*Member, error)
	CountMembers(ctx context.Context, orgID string) (int, error)
	CountOwners(ctx context.Context, orgID string) (int, error)
	EarliestAdmin(ctx context.Context, orgID string) (*Membership, error)
	CreateMembership(ctx context.Context, m *Membership) error
	UpdateRole(ctx context.Context, orgID, userID string, role auth.Role) error
	DeleteMembership(ctx context.Context, orgID, userID string) error

	// Invitations
	CreateInvitation(ctx context.Context, inv *Invitation) error
	FindPendingInvitation(ctx context.Context, orgID, email string) (*Invitation, error)
	RefreshInvitation(ctx context.Context, inv *Invitation) error
	GetInvitation(ctx context.Context, orgID, id string) (*Invitation, error)
	GetInvitationByToken(ctx context.Context, token string) (*Invitation, error)
	ListInvitations(ctx context.Context, orgID string) ([]*Invitation, error)
	MarkInvitationAccepted(ctx context.Context, id, userID string, at time.Time) error
	SetInvitationStatus(ctx context.Context, id string, status InvitationStatus) error
	ExpireInvitations(ctx context.Context, now time.Time) (int64, error)
}

// Store is the directory store: Queries plus transactions
type Store interface {
	Queries
	// InTx runs fn in a single serializable transaction. fn may be re-run when
	// the database reports a serialization conflict, so it must not have side
	// effects outside q.
	InTx(ctx context.Context, fn func(q Queries) error) error
}

// SQLStore implements Store on PostgreSQL or SQLite
type SQLStore struct {
	*queries
	db *storage.DB
}

// NewSQLStore creates a directory store over db
func NewSQLStore(db *storage.DB) *SQLStore {
	return &SQLStore{
		queries: &queries{q: db, dialect: db.Dialect()},
		db:      db,
	}
}

// InTx runs fn inside a transaction
func (s *SQLStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	return s.db.InTx(ctx, func(tx storage.Querier) error {
		return fn(&queries{q: tx, dialect: s.db.Dialect()})
	})
}
