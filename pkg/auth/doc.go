// Package auth defines organization roles and the verified caller session.
//
// # Roles
//
// Roles form a closed set with a partial order:
//
//	owner > admin > member
//
// Owners and admins manage members. Only the owner acts on billing.
//
//	if !role.CanManageMembers() {
//		return entitlement.Unauthorized("only owners and admins can invite members")
//	}
//
// # Sessions
//
// The request layer resolves the caller and hands us a signed session token.
// SessionVerifier checks the signature with go-oidc and returns a Session that
// carries the user id, email and the currently selected organization:
//
//	verifier, err := auth.NewOIDCVerifier(ctx, "https://id.example.com", "entitle")
//	session, err := verifier.Verify(ctx, rawToken)
//
// The active organization is session state owned by the request layer. This
// package never mutates it.
package auth
