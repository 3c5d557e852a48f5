package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/platinummonkey/entitle/pkg/access"
	"github.com/platinummonkey/entitle/pkg/auth"
	"github.com/platinummonkey/entitle/pkg/billing"
	"github.com/platinummonkey/entitle/pkg/cache"
	"github.com/platinummonkey/entitle/pkg/middleware"
	"github.com/platinummonkey/entitle/pkg/migrations"
	"github.com/platinummonkey/entitle/pkg/notify"
	"github.com/platinummonkey/entitle/pkg/observability"
	"github.com/platinummonkey/entitle/pkg/orgs"
	"github.com/platinummonkey/entitle/pkg/storage"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// tokenVerifier accepts "token-<user id>" and looks up the session it describes
type tokenVerifier struct {
	mu       sync.Mutex
	sessions map[string]*auth.Session
}

func (v *tokenVerifier) Verify(ctx context.Context, raw string) (*auth.Session, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.sessions[raw]; ok {
		copy := *s
		return &copy, nil
	}
	return nil, errors.New("unknown token")
}

type outbox struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (o *outbox) Send(ctx context.Context, msg notify.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

// lastToken returns the token from the most recent invitation email
func (o *outbox) lastToken(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.sent)
	url := o.sent[len(o.sent)-1].Data["acceptUrl"]
	parts := strings.Split(url, "/")
	require.GreaterOrEqual(t, len(parts), 2)
	return parts[len(parts)-2]
}

type stubProvider struct {
	mu       sync.Mutex
	requests []billing.CheckoutRequest
	err      error
}

func (p *stubProvider) CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.requests = append(p.requests, req)
	return &billing.CheckoutSession{ID: "cs_1", URL: "https://checkout.example.com/cs_1"}, nil
}

func (p *stubProvider) CancelSubscription(ctx context.Context, id string, atPeriodEnd bool) (*billing.ProviderSubscription, error) {
	return nil, errors.New("not used")
}

func (p *stubProvider) RestoreSubscription(ctx context.Context, id string) (*billing.ProviderSubscription, error) {
	return nil, errors.New("not used")
}

func (p *stubProvider) GetSubscription(ctx context.Context, id string) (*billing.ProviderSubscription, error) {
	return nil, errors.New("not used")
}

func (p *stubProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	return "", errors.New("not used")
}

type testServer struct {
	t        *testing.T
	server   *Server
	store    *orgs.SQLStore
	manager  *orgs.Manager
	verifier *tokenVerifier
	outbox   *outbox
	provider *stubProvider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	sqlDB, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	db := storage.NewDB(sqlDB, storage.DialectSQLite)
	_, err = migrations.Apply(context.Background(), db)
	require.NoError(t, err)

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	store := orgs.NewSQLStore(db)
	box := &outbox{}
	provider := &stubProvider{}

	cfg := storage.DefaultConfig()
	cfg.CacheEnabled = false
	tiers := cache.NewTierCache(nil, cfg, logger, nil)

	billingService := billing.NewService(provider, billing.NewSQLSubscriptionStore(db), store,
		billing.WithLogger(logger),
		billing.WithInvalidator(tiers),
	)
	manager := orgs.NewManager(store, box,
		orgs.WithLogger(logger),
		orgs.WithClock(func() time.Time { return epoch }),
		orgs.WithAppURL("https://app.example.com"),
		orgs.WithSubscriptionCanceler(billingService),
	)
	t.Cleanup(manager.Wait)

	verifier := &tokenVerifier{sessions: map[string]*auth.Session{}}
	server := NewServer(Deps{
		Orgs:          manager,
		Billing:       billingService,
		Access:        access.NewResolver(store, tiers, logger),
		Sessions:      middleware.NewSessionMiddleware(verifier, true),
		InviteLimiter: middleware.NewMemoryLimiter(middleware.RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Hour}),
		Logger:        logger,
	})

	return &testServer{
		t:        t,
		server:   server,
		store:    store,
		manager:  manager,
		verifier: verifier,
		outbox:   box,
		provider: provider,
	}
}

// login registers a session for userID and returns its bearer token
func (ts *testServer) login(userID, activeOrg string) string {
	ts.verifier.mu.Lock()
	defer ts.verifier.mu.Unlock()
	token := "token-" + userID
	ts.verifier.sessions[token] = &auth.Session{
		UserID:               userID,
		Email:                userID + "@example.com",
		Name:                 userID,
		ActiveOrganizationID: activeOrg,
	}
	return token
}

func (ts *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	ts.t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(ts.t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type errorBody struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]int `json:"details"`
}

// createOrg creates an organization through the API and returns its id
func (ts *testServer) createOrg(token, name string) string {
	ts.t.Helper()
	rec := ts.do(http.MethodPost, "/api/v1/orgs", token, map[string]string{"name": name})
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[orgs.Organization](ts.t, rec).ID
}

// join invites userID into orgID as role and accepts on their behalf
func (ts *testServer) join(ownerToken, orgID, userID, role string) {
	ts.t.Helper()
	rec := ts.do(http.MethodPost, "/api/v1/orgs/"+orgID+"/invitations", ownerToken,
		map[string]string{"email": userID + "@example.com", "role": role})
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())

	token := ts.outbox.lastToken(ts.t)
	rec = ts.do(http.MethodPost, "/api/v1/invitations/"+token+"/accept", ts.login(userID, ""), nil)
	require.Equal(ts.t, http.StatusOK, rec.Code, rec.Body.String())
}
