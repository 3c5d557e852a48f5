package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/entitle/pkg/access"
	"github.com/platinummonkey/entitle/pkg/auth"
	"github.com/platinummonkey/entitle/pkg/billing"
	"github.com/platinummonkey/entitle/pkg/httputil"
	"github.com/platinummonkey/entitle/pkg/middleware"
	"github.com/platinummonkey/entitle/pkg/observability"
	"github.com/platinummonkey/entitle/pkg/orgs"
)

// Deps are the components the API serves
type Deps struct {
	Orgs     *orgs.Manager
	Billing  *billing.Service
	Access   *access.Resolver
	Webhooks http.Handler

	Sessions      *middleware.SessionMiddleware
	InviteLimiter middleware.Limiter

	Logger  *observability.Logger
	Metrics *observability.Metrics

	// AllowedOrigins enables CORS for the browser front end
	AllowedOrigins []string
}

// Server represents our API server
type Server struct {
	deps   Deps
	router *mux.Router
	logger *observability.Logger
}

// NewServer creates a new API server and registers every route
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	s := &Server{
		deps:   deps,
		router: mux.NewRouter(),
		logger: logger,
	}
	s.setupRoutes()
	return s
}

// Router returns the root router so callers can mount health and metrics routes
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RequestLogger(s.logger))
	s.router.Use(observability.RecoveryMiddleware(s.logger))
	s.router.Use(observability.HTTPMetricsMiddleware(s.deps.Metrics))
	if len(s.deps.AllowedOrigins) > 0 {
		s.router.Use(httputil.CORSMiddleware(s.deps.AllowedOrigins))
	}

	v1 := s.router.PathPrefix("/api/v1").Subrouter()

	// signed by the provider, not by a session
	if s.deps.Webhooks != nil {
		v1.Handle("/webhooks/stripe", s.deps.Webhooks).Methods(http.MethodPost)
	}

	public := v1.NewRoute().Subrouter()
	public.Use(s.deps.Sessions.Handler)
	public.HandleFunc("/access", s.getAccess).Methods(http.MethodGet)

	authed := v1.NewRoute().Subrouter()
	authed.Use(s.deps.Sessions.Handler)
	authed.Use(middleware.RequireSession)
	authed.Use(httputil.ContentTypeMiddleware)
	authed.Use(httputil.MaxBytesMiddleware(1 << 20))
	authed.Use(s.ensureUser)

	// Organizations
	authed.HandleFunc("/orgs", s.createOrganization).Methods(http.MethodPost)
	authed.HandleFunc("/orgs", s.listOrganizations).Methods(http.MethodGet)
	authed.HandleFunc("/orgs/{id}", s.getOrganization).Methods(http.MethodGet)
	authed.HandleFunc("/orgs/{id}", s.deleteOrganization).Methods(http.MethodDelete)

	// Members
	authed.HandleFunc("/orgs/{id}/members/{user_id}", s.changeRole).Methods(http.MethodPut)
	authed.HandleFunc("/orgs/{id}/members/{user_id}", s.removeMember).Methods(http.MethodDelete)

	// Invitations
	invite := http.Handler(http.HandlerFunc(s.inviteMember))
	if s.deps.InviteLimiter != nil {
		invite = middleware.RateLimit(s.deps.InviteLimiter, "invite")(invite)
	}
	authed.Handle("/orgs/{id}/invitations", invite).Methods(http.MethodPost)
	authed.HandleFunc("/orgs/{id}/invitations", s.listInvitations).Methods(http.MethodGet)
	authed.HandleFunc("/orgs/{id}/invitations/{invitation_id}", s.cancelInvitation).Methods(http.MethodDelete)
	authed.HandleFunc("/invitations/{token}/accept", s.acceptInvitation).Methods(http.MethodPost)

	// Session
	authed.HandleFunc("/session/active-organization", s.setActiveOrganization).Methods(http.MethodPut)

	// Billing
	authed.HandleFunc("/billing/upgrade", s.upgradePersonal).Methods(http.MethodPost)
	authed.HandleFunc("/orgs/{id}/billing/upgrade", s.upgradeOrganization).Methods(http.MethodPost)
	authed.HandleFunc("/billing/{reference_id}", s.getSubscription).Methods(http.MethodGet)
	authed.HandleFunc("/billing/{reference_id}/cancel", s.cancelSubscription).Methods(http.MethodPost)
	authed.HandleFunc("/billing/{reference_id}/restore", s.restoreSubscription).Methods(http.MethodPost)
	authed.HandleFunc("/billing/{reference_id}/portal", s.createPortalSession).Methods(http.MethodPost)
}

// ensureUser mirrors the verified session into the users table
func (s *Server) ensureUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.deps.Orgs.EnsureUser(r.Context(), middleware.SessionFromRequest(r)); err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func sessionOrNil(r *http.Request) *auth.Session {
	return middleware.SessionFromRequest(r)
}

// userID returns the caller. Routes behind RequireSession always have one.
func userID(r *http.Request) string {
	return middleware.SessionFromRequest(r).UserID
}
