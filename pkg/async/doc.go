// Package async runs best-effort background work such as post-commit
// notifications.
//
// Tasks started with Group.Go survive the request that spawned them, are
// bounded by a timeout, and never crash the process:
//
//	group := async.NewGroup(logger)
//	group.Go(ctx, 5*time.Second, "invitation email", func(ctx context.Context) error {
//		return notifier.Send(ctx, msg)
//	})
//
// Call Wait (or WaitTimeout during shutdown) to drain in-flight tasks.
package async
