package orgs

import (
	"context"

	"github.com/platinummonkey/entitle/pkg/auth"
	"github.com/platinummonkey/entitle/pkg/entitlement"
)

// TransferOwnership promotes the organization's longest-standing admin to
// owner and returns the new owner's user id. It runs inside the caller's
// transaction; the caller deletes leavingOwnerID's membership in that same
// transaction, so the organization is never seen without an owner.
//
// When no admin exists it returns NoAdminAvailable and writes nothing.
func TransferOwnership(ctx context.Context, q Queries, orgID, leavingOwnerID string) (string, error) {
	leaving, err := q.GetMembership(ctx, orgID, leavingOwnerID)
	if err != nil {
		return "", err
	}
	if !leaving.Role.IsOwner() {
		return "", entitlement.InvalidInput("only the owner's departure transfers ownership")
	}

	successor, err := q.EarliestAdmin(ctx, orgID)
	if err != nil {
		return "", err
	}
	if successor == nil {
		return "", entitlement.NoAdminAvailable()
	}

	if err := q.UpdateRole(ctx, orgID, successor.UserID, auth.RoleOwner); err != nil {
		return "", err
	}
	return successor.UserID, nil
}
