package billing

import (
	"context"
	"testing"

	"github.com/platinummonkey/entitle/pkg/auth"
	"github.com/platinummonkey/entitle/pkg/entitlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateAuthorize(t *testing.T) {
	f := newFixture(t)
	f.org("org_acme", "usr_owner", map[string]auth.Role{
		"usr_admin":  auth.RoleAdmin,
		"usr_member": auth.RoleMember,
	})
	f.user("usr_outsider")
	gate := f.service.Gate()

	tests := []struct {
		name      string
		userID    string
		reference string
		action    Action
		want      bool
	}{
		{"own personal upgrade", "usr_member", "usr_member", ActionUpgrade, true},
		{"own personal view", "usr_member", "usr_member", ActionView, true},
		{"someone else's personal", "usr_owner", "usr_member", ActionView, false},
		{"owner upgrades org", "usr_owner", "org_acme", ActionUpgrade, true},
		{"owner cancels org", "usr_owner", "org_acme", ActionCancel, true},
		{"owner restores org", "usr_owner", "org_acme", ActionRestore, true},
		{"admin cannot upgrade org", "usr_admin", "org_acme", ActionUpgrade, false},
		{"admin cannot cancel org", "usr_admin", "org_acme", ActionCancel, false},
		{"member views org", "usr_member", "org_acme", ActionView, true},
		{"member cannot restore org", "usr_member", "org_acme", ActionRestore, false},
		{"outsider cannot view org", "usr_outsider", "org_acme", ActionView, false},
		{"unknown org", "usr_owner", "org_missing", ActionView, false},
		{"unknown action", "usr_owner", "org_acme", Action("refund"), false},
		{"malformed reference", "usr_owner", "acme", ActionView, false},
		{"anonymous", "", "org_acme", ActionView, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allowed, err := gate.Authorize(context.Background(), tt.userID, tt.reference, tt.action)
			require.NoError(t, err)
			assert.Equal(t, tt.want, allowed)
		})
	}
}

func TestGateRequire(t *testing.T) {
	f := newFixture(t)
	f.org("org_acme", "usr_owner", map[string]auth.Role{"usr_admin": auth.RoleAdmin})
	gate := f.service.Gate()
	ctx := context.Background()

	ref, err := gate.Require(ctx, "usr_owner", "org_acme", ActionUpgrade)
	require.NoError(t, err)
	assert.Equal(t, ReferenceOrganization, ref.Kind)

	_, err = gate.Require(ctx, "usr_admin", "org_acme", ActionUpgrade)
	require.ErrorIs(t, err, entitlement.ErrUnauthorized)
	assert.Equal(t, "Only organization owners can manage billing", err.Error())

	_, err = gate.Require(ctx, "usr_admin", "usr_owner", ActionView)
	require.ErrorIs(t, err, entitlement.ErrUnauthorized)
	assert.Equal(t, "You can only manage your own subscription", err.Error())

	_, err = gate.Require(ctx, "google-oauth2|1234", "google-oauth2|1234", ActionUpgrade)
	require.ErrorIs(t, err, entitlement.ErrInvalidInput)
	assert.Equal(t, "Invalid subscription reference", err.Error())
}

func TestGateSeesRoleChangesImmediately(t *testing.T) {
	f := newFixture(t)
	f.org("org_acme", "usr_owner", map[string]auth.Role{"usr_admin": auth.RoleAdmin})
	gate := f.service.Gate()
	ctx := context.Background()

	allowed, err := gate.Authorize(ctx, "usr_admin", "org_acme", ActionCancel)
	require.NoError(t, err)
	assert.False(t, allowed)

	require.NoError(t, f.dir.UpdateRole(ctx, "org_acme", "usr_owner", auth.RoleAdmin))
	require.NoError(t, f.dir.UpdateRole(ctx, "org_acme", "usr_admin", auth.RoleOwner))

	allowed, err = gate.Authorize(ctx, "usr_admin", "org_acme", ActionCancel)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = gate.Authorize(ctx, "usr_owner", "org_acme", ActionCancel)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestParseReference(t *testing.T) {
	ref, err := ParseReference("usr_123")
	require.NoError(t, err)
	assert.Equal(t, ReferencePersonal, ref.Kind)
	assert.True(t, ref.Accepts(PlanProYearly))
	assert.False(t, ref.Accepts(PlanTeam))

	ref, err = ParseReference("org_acme_x1y2")
	require.NoError(t, err)
	assert.Equal(t, ReferenceOrganization, ref.Kind)
	assert.True(t, ref.Accepts(PlanTeamYearly))
	assert.False(t, ref.Accepts(PlanPro))

	for _, bad := range []string{"", "usr_", "org_", "team_1"} {
		_, err := ParseReference(bad)
		assert.ErrorIs(t, err, entitlement.ErrInvalidInput, bad)
	}
}

func TestPlan(t *testing.T) {
	assert.Equal(t, entitlement.TierPro, PlanPro.Tier())
	assert.Equal(t, entitlement.TierPro, PlanProYearly.Tier())
	assert.Equal(t, entitlement.TierTeam, PlanTeam.Tier())
	assert.Equal(t, entitlement.TierTeam, PlanTeamYearly.Tier())

	p, err := ParsePlan(" Team_Yearly ")
	require.NoError(t, err)
	assert.Equal(t, PlanTeamYearly, p)

	_, err = ParsePlan("enterprise")
	assert.ErrorIs(t, err, entitlement.ErrInvalidInput)
}
