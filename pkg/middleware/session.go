package middleware

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/entitle/pkg/auth"
	"github.com/platinummonkey/entitle/pkg/contextkeys"
	"github.com/platinummonkey/entitle/pkg/httputil"
	"github.com/platinummonkey/entitle/pkg/observability"
)

// SessionCookie is read when no Authorization header is present
const SessionCookie = "entitle_session"

// SessionMiddleware verifies the signed session handed over by the request
// layer and stores it in the request context.
type SessionMiddleware struct {
	verifier auth.SessionVerifier
	optional bool // If true, allow requests without a session
}

// NewSessionMiddleware creates a new session middleware
func NewSessionMiddleware(verifier auth.SessionVerifier, optional bool) *SessionMiddleware {
	return &SessionMiddleware{
		verifier: verifier,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with session verification. A present but
// invalid token is always rejected, even in optional mode.
func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := sessionToken(r)
		if !ok {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthenticated(w, "missing session")
			return
		}

		session, err := m.verifier.Verify(r.Context(), token)
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Debug("Session verification failed")
			httputil.WriteUnauthenticated(w, "invalid or expired session")
			return
		}

		ctx := contextkeys.WithSession(r.Context(), session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionToken reads "Authorization: Bearer <token>" or the session cookie
func sessionToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
			return "", false
		}
		return token, true
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}
	return "", false
}

// RequireSession rejects requests that carry no verified session
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !contextkeys.GetSession(r.Context()).Authenticated() {
			httputil.WriteUnauthenticated(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SessionFromRequest returns the verified session, or nil for anonymous callers
func SessionFromRequest(r *http.Request) *auth.Session {
	return contextkeys.GetSession(r.Context())
}
