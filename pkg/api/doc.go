// Package api exposes organizations, invitations, billing and access
// evaluation over HTTP.
//
// All routes live under /api/v1. The caller's identity comes from a signed
// session token (Authorization: Bearer or the entitle_session cookie) that
// the session middleware verifies before any handler runs. GET /access also
// serves anonymous callers; the Stripe webhook is authenticated by its
// signature instead of a session.
//
// Handlers are thin: they parse the request, call orgs.Manager,
// billing.Service or access.Resolver, and map entitlement error kinds to
// status codes through httputil.WriteError.
package api
