package orgs

import (
	"github.com/platinummonkey/entitle/pkg/entitlement"
)

// CheckCapacity decides whether one more member fits in the organization.
// Only team organizations are bounded; free and pro organizations accept
// any number of members. memberCount must be read under the organization's
// row lock, in the same transaction as the insert that follows.
func CheckCapacity(org *Organization, memberCount int) error {
	if !org.IsTeam() {
		return nil
	}

	seats := org.Metadata.SubscriptionSeats
	if memberCount >= seats {
		return entitlement.SeatLimit(memberCount, seats)
	}
	return nil
}
