package entitlement

const (
	// PreviewFraction is how much of a video a caller without full playback may watch
	PreviewFraction = 0.5
)

// PaywallThreshold returns the fraction of a video the caller may watch before the paywall
func PaywallThreshold(a Access) float64 {
	if a.CanWatchFullVideos {
		return 1.0
	}
	return PreviewFraction
}

// UpgradePrompt returns the call to action shown when the paywall is reached
func UpgradePrompt(a Access) string {
	switch {
	case !a.IsAuthenticated:
		return "Sign in to watch more"
	case !a.CanWatchFullVideos:
		return "Upgrade to Pro to watch the full earnings call"
	default:
		return "Continue watching"
	}
}
