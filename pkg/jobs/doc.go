// Package jobs schedules the worker's periodic maintenance with robfig/cron.
//
//	s := jobs.NewScheduler(logger, metrics)
//	s.Add(jobs.ExpireInvitationsJob, "*/15 * * * *", jobs.ExpireInvitations(manager))
//	s.Add(jobs.ReconcileTiersJob, "0 * * * *", jobs.ReconcileTiers(billingService))
//	s.Start(ctx)
//	defer s.Stop(shutdownCtx)
//
// RunOnce runs every job immediately, which the worker exposes as --run-once.
package jobs
