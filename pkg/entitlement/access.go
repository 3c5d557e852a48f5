package entitlement

import "fmt"

// Tier is an effective access level. It is always derived, never stored.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
	TierTeam Tier = "team"
)

// Rank orders tiers: team > pro > free. Unknown tiers rank as free.
func (t Tier) Rank() int {
	switch t {
	case TierTeam:
		return 2
	case TierPro:
		return 1
	default:
		return 0
	}
}

// ParseTier parses a cached tier value. Empty means free.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case "", TierFree:
		return TierFree, nil
	case TierPro:
		return TierPro, nil
	case TierTeam:
		return TierTeam, nil
	default:
		return "", fmt.Errorf("unknown tier %q", s)
	}
}

// Capabilities are the feature flags unlocked by a tier
type Capabilities struct {
	CanBrowse              bool `json:"canBrowse"`
	CanWatchFullVideos     bool `json:"canWatchFullVideos"`
	CanInteractWithCharts  bool `json:"canInteractWithCharts"`
	CanDownloadTranscripts bool `json:"canDownloadTranscripts"`
	CanAccessAPI           bool `json:"canAccessAPI"`
}

// Contains reports whether every capability in other is also in c
func (c Capabilities) Contains(other Capabilities) bool {
	return (c.CanBrowse || !other.CanBrowse) &&
		(c.CanWatchFullVideos || !other.CanWatchFullVideos) &&
		(c.CanInteractWithCharts || !other.CanInteractWithCharts) &&
		(c.CanDownloadTranscripts || !other.CanDownloadTranscripts) &&
		(c.CanAccessAPI || !other.CanAccessAPI)
}

// CapabilitiesFor returns the capability set granted by a tier
func CapabilitiesFor(t Tier) Capabilities {
	caps := Capabilities{CanBrowse: true}
	if t.Rank() >= TierPro.Rank() {
		caps.CanWatchFullVideos = true
		caps.CanInteractWithCharts = true
		caps.CanDownloadTranscripts = true
	}
	if t.Rank() >= TierTeam.Rank() {
		caps.CanAccessAPI = true
	}
	return caps
}

// Input is everything the evaluator needs. The request layer fills it from
// the verified session and the cached subscription snapshot.
type Input struct {
	Authenticated bool

	// PersonalTier is the user's own subscription tier (free or pro)
	PersonalTier Tier

	// ActiveOrganizationID is empty when no organization is selected. The
	// caller must already have checked that the user belongs to it.
	ActiveOrganizationID string
	OrganizationTier     Tier
}

// Access is the result of evaluating a caller
type Access struct {
	Tier                 Tier   `json:"tier"`
	IsAuthenticated      bool   `json:"isAuthenticated"`
	ActiveOrganizationID string `json:"activeOrganizationId,omitempty"`
	Capabilities
}

// Evaluate computes the effective tier and capability set. It has no side effects.
func Evaluate(in Input) Access {
	if !in.Authenticated {
		return Access{
			Tier:         TierFree,
			Capabilities: CapabilitiesFor(TierFree),
		}
	}

	tier := TierFree
	switch {
	case in.ActiveOrganizationID != "" && in.OrganizationTier == TierTeam:
		tier = TierTeam
	case in.PersonalTier == TierPro:
		tier = TierPro
	}

	return Access{
		Tier:                 tier,
		IsAuthenticated:      true,
		ActiveOrganizationID: in.ActiveOrganizationID,
		Capabilities:         CapabilitiesFor(tier),
	}
}
