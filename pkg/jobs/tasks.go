package jobs

import (
	"context"
)

const (
	// ExpireInvitationsJob marks overdue pending invitations expired
	ExpireInvitationsJob = "expire_invitations"
	// ReconcileTiersJob re-reads provider subscriptions and repairs cached tiers
	ReconcileTiersJob = "reconcile_tiers"
)

// InvitationExpirer is satisfied by *orgs.Manager
type InvitationExpirer interface {
	ExpireInvitations(ctx context.Context) (int64, error)
}

// TierReconciler is satisfied by *billing.Service
type TierReconciler interface {
	Reconcile(ctx context.Context) (int, error)
}

// ExpireInvitations wraps the invitation sweep as a job
func ExpireInvitations(expirer InvitationExpirer) Func {
	return func(ctx context.Context) error {
		_, err := expirer.ExpireInvitations(ctx)
		return err
	}
}

// ReconcileTiers wraps subscription reconciliation as a job
func ReconcileTiers(reconciler TierReconciler) Func {
	return func(ctx context.Context) error {
		_, err := reconciler.Reconcile(ctx)
		return err
	}
}
