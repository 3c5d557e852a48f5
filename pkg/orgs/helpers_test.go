package orgs

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/platinummonkey/entitle/pkg/auth"
	"github.com/platinummonkey/entitle/pkg/entitlement"
	"github.com/platinummonkey/entitle/pkg/migrations"
	"github.com/platinummonkey/entitle/pkg/notify"
	"github.com/platinummonkey/entitle/pkg/storage"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()

	sqlDB, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	db := storage.NewDB(sqlDB, storage.DialectSQLite)
	_, err = migrations.Apply(context.Background(), db)
	require.NoError(t, err)

	return NewSQLStore(db)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (n *recordingNotifier) Send(ctx context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) messages() []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Message(nil), n.sent...)
}

type fixture struct {
	t        *testing.T
	store    *SQLStore
	notifier *recordingNotifier
	manager  *Manager
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	store := newTestStore(t)
	notifier := &recordingNotifier{}
	opts = append([]Option{
		WithClock(func() time.Time { return epoch }),
		WithAppURL("https://app.example.com"),
	}, opts...)

	return &fixture{
		t:        t,
		store:    store,
		notifier: notifier,
		manager:  NewManager(store, notifier, opts...),
	}
}

func (f *fixture) user(id, email string) {
	f.t.Helper()
	require.NoError(f.t, f.store.UpsertUser(context.Background(), &User{
		ID: id, Email: email, Name: id, CreatedAt: epoch,
	}))
}

// org creates an organization owned by ownerID; the owner user must exist
func (f *fixture) org(id string, tier entitlement.Tier, seats int, ownerID string) *Organization {
	f.t.Helper()
	org := &Organization{
		ID:   id,
		Name: "Org " + id,
		Slug: id,
		Metadata: Metadata{
			SubscriptionTier:  tier,
			SubscriptionSeats: seats,
			CreatedBy:         ownerID,
		},
		CreatedAt: epoch,
	}
	require.NoError(f.t, f.store.CreateOrganization(context.Background(), org))
	f.member(id, ownerID, auth.RoleOwner, 0)
	return org
}

// member adds userID to orgID, joined offset after epoch. The user is created on demand.
func (f *fixture) member(orgID, userID string, role auth.Role, offset time.Duration) {
	f.t.Helper()
	ctx := context.Background()
	if _, err := f.store.GetUser(ctx, userID); err != nil {
		f.user(userID, userID+"@example.com")
	}
	require.NoError(f.t, f.store.CreateMembership(ctx, &Membership{
		ID:             "mem_" + orgID + "_" + userID,
		OrganizationID: orgID,
		UserID:         userID,
		Role:           role,
		CreatedAt:      epoch.Add(offset),
	}))
}

func (f *fixture) role(orgID, userID string) auth.Role {
	f.t.Helper()
	m, err := f.store.GetMembership(context.Background(), orgID, userID)
	require.NoError(f.t, err)
	return m.Role
}

func (f *fixture) hasMember(orgID, userID string) bool {
	_, err := f.store.GetMembership(context.Background(), orgID, userID)
	return err == nil
}
