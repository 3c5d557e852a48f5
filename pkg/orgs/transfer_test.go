package orgs

import (
	"context"
	"testing"
	"time"

	"github.com/platinummonkey/entitle/pkg/auth"
	"github.com/platinummonkey/entitle/pkg/entitlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransferOwnership_PromotesEarliestAdmin(t *testing.T) {
	f := newFixture(t)
	f.user("usr_owner", "owner@example.com")
	f.org("org_acme", entitlement.TierTeam, 10, "usr_owner")
	f.member("org_acme", "usr_late", auth.RoleAdmin, 2*time.Hour)
	f.member("org_acme", "usr_early", auth.RoleAdmin, time.Hour)
	f.member("org_acme", "usr_member", auth.RoleMember, time.Minute)

	var newOwner string
	err := f.store.InTx(context.Background(), func(q Queries) error {
		var err error
		newOwner, err = TransferOwnership(context.Background(), q, "org_acme", "usr_owner")
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, "usr_early", newOwner)
	assert.Equal(t, auth.RoleOwner, f.role("org_acme", "usr_early"))
	assert.Equal(t, auth.RoleAdmin, f.role("org_acme", "usr_late"))
	// the leaving owner is still owner until the caller deletes the membership
	assert.Equal(t, auth.RoleOwner, f.role("org_acme", "usr_owner"))
}

func TestTransferOwnership_TieBrokenByMembershipID(t *testing.T) {
	f := newFixture(t)
	f.user("usr_owner", "owner@example.com")
	f.org("org_acme", entitlement.TierFree, 10, "usr_owner")
	// membership ids are "mem_org_acme_<user>", so usr_a sorts first
	f.member("org_acme", "usr_b", auth.RoleAdmin, time.Hour)
	f.member("org_acme", "usr_a", auth.RoleAdmin, time.Hour)

	newOwner, err := TransferOwnership(context.Background(), f.store, "org_acme", "usr_owner")
	require.NoError(t, err)
	assert.Equal(t, "usr_a", newOwner)
}

func TestTransferOwnership_NoAdmin(t *testing.T) {
	f := newFixture(t)
	f.user("usr_owner", "owner@example.com")
	f.org("org_acme", entitlement.TierTeam, 10, "usr_owner")
	f.member("org_acme", "usr_member", auth.RoleMember, time.Hour)

	_, err := TransferOwnership(context.Background(), f.store, "org_acme", "usr_owner")
	require.ErrorIs(t, err, entitlement.ErrNoAdminAvailable)

	assert.Equal(t, auth.RoleOwner, f.role("org_acme", "usr_owner"))
	assert.Equal(t, auth.RoleMember, f.role("org_acme", "usr_member"))
}

func TestTransferOwnership_LeavingUserNotOwner(t *testing.T) {
	f := newFixture(t)
	f.user("usr_owner", "owner@example.com")
	f.org("org_acme", entitlement.TierTeam, 10, "usr_owner")
	f.member("org_acme", "usr_admin", auth.RoleAdmin, time.Hour)

	_, err := TransferOwnership(context.Background(), f.store, "org_acme", "usr_admin")
	assert.ErrorIs(t, err, entitlement.ErrInvalidInput)
	assert.Equal(t, auth.RoleAdmin, f.role("org_acme", "usr_admin"))
}
