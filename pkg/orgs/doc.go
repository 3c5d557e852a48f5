// Package orgs is the directory of users, organizations, memberships and
// invitations, and the manager that changes them.
//
// # Invariants
//
// A user holds at most one membership per organization. An organization with
// members always has exactly one owner. A team organization never has more
// members than seats; free organizations are not seat limited.
//
// # Concurrency
//
// Every write path runs in one transaction that first locks the organization
// row (SELECT ... FOR UPDATE on PostgreSQL). Seat checks and the insert they
// guard, and an owner's departure together with the promotion of the
// successor, therefore commit or fail as a unit.
//
//	manager := orgs.NewManager(orgs.NewSQLStore(db), notifier,
//		orgs.WithLogger(logger),
//		orgs.WithMetrics(metrics),
//	)
//	inv, err := manager.Invite(ctx, orgID, session.UserID, "bob@example.com", "member")
//
// Notifications go out after commit. Their failure is logged and never undoes
// the change.
package orgs
