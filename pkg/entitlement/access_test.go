package entitlement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		input    Input
		wantTier Tier
		wantAPI  bool
		wantFull bool
	}{
		{
			name:     "anonymous always free",
			input:    Input{PersonalTier: TierPro, ActiveOrganizationID: "org_a_1234", OrganizationTier: TierTeam},
			wantTier: TierFree,
		},
		{
			name:     "free user without organization",
			input:    Input{Authenticated: true, PersonalTier: TierFree},
			wantTier: TierFree,
		},
		{
			name:     "pro user without organization",
			input:    Input{Authenticated: true, PersonalTier: TierPro},
			wantTier: TierPro,
			wantFull: true,
		},
		{
			name:     "free user in team organization",
			input:    Input{Authenticated: true, PersonalTier: TierFree, ActiveOrganizationID: "org_a_1234", OrganizationTier: TierTeam},
			wantTier: TierTeam,
			wantAPI:  true,
			wantFull: true,
		},
		{
			name:     "pro user in free organization keeps pro",
			input:    Input{Authenticated: true, PersonalTier: TierPro, ActiveOrganizationID: "org_a_1234", OrganizationTier: TierFree},
			wantTier: TierPro,
			wantFull: true,
		},
		{
			name:     "team tier ignored without active organization",
			input:    Input{Authenticated: true, PersonalTier: TierFree, OrganizationTier: TierTeam},
			wantTier: TierFree,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			access := Evaluate(tt.input)
			assert.Equal(t, tt.wantTier, access.Tier)
			assert.Equal(t, tt.input.Authenticated, access.IsAuthenticated)
			assert.Equal(t, tt.wantAPI, access.CanAccessAPI)
			assert.Equal(t, tt.wantFull, access.CanWatchFullVideos)
			assert.True(t, access.CanBrowse)
		})
	}
}

func TestEvaluate_ProWithoutOrganization(t *testing.T) {
	access := Evaluate(Input{Authenticated: true, PersonalTier: TierPro})

	assert.Equal(t, TierPro, access.Tier)
	assert.True(t, access.CanWatchFullVideos)
	assert.False(t, access.CanAccessAPI)
}

func TestEvaluate_FreeUserInTeamOrganization(t *testing.T) {
	access := Evaluate(Input{
		Authenticated:        true,
		PersonalTier:         TierFree,
		ActiveOrganizationID: "org_acme_9f3c",
		OrganizationTier:     TierTeam,
	})

	assert.Equal(t, TierTeam, access.Tier)
	assert.True(t, access.CanAccessAPI)
	assert.Equal(t, "org_acme_9f3c", access.ActiveOrganizationID)
}

func TestCapabilitiesMonotonic(t *testing.T) {
	free := CapabilitiesFor(TierFree)
	pro := CapabilitiesFor(TierPro)
	team := CapabilitiesFor(TierTeam)

	assert.True(t, team.Contains(pro))
	assert.True(t, pro.Contains(free))
	assert.True(t, team.Contains(free))
	assert.False(t, free.Contains(pro))
	assert.False(t, pro.Contains(team))

	assert.Equal(t, Capabilities{CanBrowse: true}, free)
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier("")
	require.NoError(t, err)
	assert.Equal(t, TierFree, tier)

	tier, err = ParseTier("team")
	require.NoError(t, err)
	assert.Equal(t, TierTeam, tier)

	_, err = ParseTier("enterprise")
	assert.Error(t, err)
}

func TestPaywall(t *testing.T) {
	anonymous := Evaluate(Input{})
	assert.Equal(t, 0.5, PaywallThreshold(anonymous))
	assert.Equal(t, "Sign in to watch more", UpgradePrompt(anonymous))

	free := Evaluate(Input{Authenticated: true})
	assert.Equal(t, 0.5, PaywallThreshold(free))
	assert.Equal(t, "Upgrade to Pro to watch the full earnings call", UpgradePrompt(free))

	pro := Evaluate(Input{Authenticated: true, PersonalTier: TierPro})
	assert.Equal(t, 1.0, PaywallThreshold(pro))
	assert.Equal(t, "Continue watching", UpgradePrompt(pro))
}
