// Package middleware provides the HTTP middleware in front of the entitlement API.
//
//	router.Use(middleware.RequestID)
//	router.Use(middleware.RequestLogger(logger))
//	router.Use(middleware.NewSessionMiddleware(verifier, true).Handler)
//
// SessionMiddleware verifies the Bearer token (or the entitle_session cookie)
// and stores the auth.Session in the context. In optional mode anonymous
// requests pass through; RequireSession then guards the routes that need a
// caller.
//
// RateLimit bounds invitation sends per user. RedisLimiter shares counters
// across instances; MemoryLimiter serves single-instance deployments.
package middleware
