package auth

import (
	"context"
	"crypto"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// ErrInvalidSession is returned when a session token cannot be verified
var ErrInvalidSession = errors.New("invalid session")

// SessionVerifier turns a raw session token into a verified Session
type SessionVerifier interface {
	Verify(ctx context.Context, rawToken string) (*Session, error)
}

// sessionClaims are the claims the request layer signs into the session token
type sessionClaims struct {
	Email                string `json:"email"`
	Name                 string `json:"name"`
	ActiveOrganizationID string `json:"active_organization_id"`
}

// OIDCVerifier verifies session tokens signed by the identity provider
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the issuer's signing keys and returns a verifier
// bound to the given audience.
func NewOIDCVerifier(ctx context.Context, issuerURL, audience string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover session issuer: %w", err)
	}

	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: audience}),
	}, nil
}

// NewStaticKeyVerifier verifies session tokens against a fixed set of public keys.
// Used when the request layer signs sessions with its own key pair.
func NewStaticKeyVerifier(issuer, audience string, keys ...crypto.PublicKey) *OIDCVerifier {
	keySet := &oidc.StaticKeySet{PublicKeys: keys}
	return &OIDCVerifier{
		verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{ClientID: audience}),
	}
}

// Verify checks the token signature, issuer, audience and expiry
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*Session, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	var claims sessionClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to parse claims: %v", ErrInvalidSession, err)
	}

	if idToken.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidSession)
	}
	if !ValidUserID(idToken.Subject) {
		return nil, fmt.Errorf("%w: subject %q is not a user id", ErrInvalidSession, idToken.Subject)
	}

	return &Session{
		UserID:               idToken.Subject,
		Email:                claims.Email,
		Name:                 claims.Name,
		ActiveOrganizationID: claims.ActiveOrganizationID,
	}, nil
}
