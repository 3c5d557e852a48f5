package billing

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/platinummonkey/entitle/pkg/auth"
	"github.com/platinummonkey/entitle/pkg/entitlement"
	"github.com/platinummonkey/entitle/pkg/migrations"
	"github.com/platinummonkey/entitle/pkg/orgs"
	"github.com/platinummonkey/entitle/pkg/storage"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type providerCall struct {
	op          string
	id          string
	atPeriodEnd bool
	checkout    CheckoutRequest
}

type fakeProvider struct {
	mu    sync.Mutex
	calls []providerCall
	subs  map[string]*ProviderSubscription
	err   error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{subs: map[string]*ProviderSubscription{}}
}

func (p *fakeProvider) record(c providerCall) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, c)
}

func (p *fakeProvider) ops() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, c := range p.calls {
		out = append(out, c.op)
	}
	return out
}

func (p *fakeProvider) lookup(id string) *ProviderSubscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	ps := *p.subs[id]
	return &ps
}

func (p *fakeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	p.record(providerCall{op: "checkout", checkout: req})
	if p.err != nil {
		return nil, p.err
	}
	return &CheckoutSession{ID: "cs_test", URL: "https://checkout.example.com/cs_test"}, nil
}

func (p *fakeProvider) CancelSubscription(ctx context.Context, id string, atPeriodEnd bool) (*ProviderSubscription, error) {
	p.record(providerCall{op: "cancel", id: id, atPeriodEnd: atPeriodEnd})
	if p.err != nil {
		return nil, p.err
	}
	ps := p.lookup(id)
	if atPeriodEnd {
		ps.CancelAtPeriodEnd = true
	} else {
		ps.Status = StatusCanceled
	}
	return ps, nil
}

func (p *fakeProvider) RestoreSubscription(ctx context.Context, id string) (*ProviderSubscription, error) {
	p.record(providerCall{op: "restore", id: id})
	if p.err != nil {
		return nil, p.err
	}
	ps := p.lookup(id)
	ps.CancelAtPeriodEnd = false
	return ps, nil
}

func (p *fakeProvider) GetSubscription(ctx context.Context, id string) (*ProviderSubscription, error) {
	p.record(providerCall{op: "get", id: id})
	if p.err != nil {
		return nil, p.err
	}
	return p.lookup(id), nil
}

func (p *fakeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	p.record(providerCall{op: "portal", id: customerID})
	if p.err != nil {
		return "", p.err
	}
	return "https://portal.example.com/" + customerID + "?return=" + returnURL, nil
}

type recordingInvalidator struct {
	mu   sync.Mutex
	keys []string
}

func (c *recordingInvalidator) Invalidate(ctx context.Context, referenceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, referenceID)
	return nil
}

type fixture struct {
	t        *testing.T
	dir      *orgs.SQLStore
	subs     *SQLSubscriptionStore
	provider *fakeProvider
	cache    *recordingInvalidator
	service  *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	sqlDB, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	db := storage.NewDB(sqlDB, storage.DialectSQLite)
	_, err = migrations.Apply(context.Background(), db)
	require.NoError(t, err)

	f := &fixture{
		t:        t,
		dir:      orgs.NewSQLStore(db),
		subs:     NewSQLSubscriptionStore(db),
		provider: newFakeProvider(),
		cache:    &recordingInvalidator{},
	}
	f.service = NewService(f.provider, f.subs, f.dir,
		WithClock(func() time.Time { return epoch }),
		WithInvalidator(f.cache),
		WithPortalReturnURL("https://app.example.com/billing"),
	)
	return f
}

func (f *fixture) user(id string) {
	f.t.Helper()
	require.NoError(f.t, f.dir.UpsertUser(context.Background(), &orgs.User{
		ID: id, Email: id + "@example.com", Name: id, CreatedAt: epoch,
	}))
}

// org creates orgID owned by ownerID, plus the given extra members
func (f *fixture) org(orgID, ownerID string, members map[string]auth.Role) {
	f.t.Helper()
	ctx := context.Background()
	f.user(ownerID)
	require.NoError(f.t, f.dir.CreateOrganization(ctx, &orgs.Organization{
		ID:   orgID,
		Name: orgID,
		Slug: orgID,
		Metadata: orgs.Metadata{
			SubscriptionTier:  entitlement.TierFree,
			SubscriptionSeats: orgs.DefaultSeats,
			CreatedBy:         ownerID,
		},
		CreatedAt: epoch,
	}))
	f.member(orgID, ownerID, auth.RoleOwner)
	for userID, role := range members {
		f.user(userID)
		f.member(orgID, userID, role)
	}
}

func (f *fixture) member(orgID, userID string, role auth.Role) {
	f.t.Helper()
	require.NoError(f.t, f.dir.CreateMembership(context.Background(), &orgs.Membership{
		ID:             "mem_" + orgID + "_" + userID,
		OrganizationID: orgID,
		UserID:         userID,
		Role:           role,
		CreatedAt:      epoch,
	}))
}

// subscribed stores a provider-backed subscription both locally and in the fake provider
func (f *fixture) subscribed(referenceID string, plan Plan, seats int) {
	f.t.Helper()
	ps := &ProviderSubscription{
		ID:          "sub_" + referenceID,
		CustomerID:  "cus_" + referenceID,
		ReferenceID: referenceID,
		Plan:        plan,
		Status:      StatusActive,
		Seats:       seats,
	}
	f.provider.subs[ps.ID] = ps
	_, err := f.service.Apply(context.Background(), ps)
	require.NoError(f.t, err)
	f.provider.calls = nil
	f.cache.keys = nil
}
