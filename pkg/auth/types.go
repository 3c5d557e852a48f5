package auth

import (
	"fmt"
	"strings"
)

// Role represents an organization membership role
type Role string

const (
	RoleOwner  Role = "owner"  // Billing owner, at least one per organization with members
	RoleAdmin  Role = "admin"  // Manages members
	RoleMember Role = "member" // Regular member
)

// Rank returns the position of the role in the owner > admin > member order.
// Unknown roles rank below member.
func (r Role) Rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleAdmin:
		return 2
	case RoleMember:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether r ranks at or above other
func (r Role) AtLeast(other Role) bool {
	return r.Rank() >= other.Rank() && r.Valid()
}

// CanManageMembers reports whether the role may invite and remove members
func (r Role) CanManageMembers() bool {
	return r.AtLeast(RoleAdmin)
}

// IsOwner reports whether the role is the billing owner
func (r Role) IsOwner() bool {
	return r == RoleOwner
}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	return r.Rank() > 0
}

// ParseRole parses a role name, case-insensitively
func ParseRole(s string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(s)))
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return role, nil
}

// UserIDPrefix marks user ids. Personal subscriptions are keyed by user id,
// so the prefix is what tells them apart from organization references.
const UserIDPrefix = "usr_"

// ValidUserID reports whether id is a prefixed user id
func ValidUserID(id string) bool {
	return strings.HasPrefix(id, UserIDPrefix) && len(id) > len(UserIDPrefix)
}

// Session is the verified identity handed to us by the request layer.
// ActiveOrganizationID is empty when no organization is selected.
type Session struct {
	UserID               string `json:"user_id"`
	Email                string `json:"email"`
	Name                 string `json:"name,omitempty"`
	ActiveOrganizationID string `json:"active_organization_id,omitempty"`
}

// Authenticated reports whether the session belongs to a signed-in user
func (s *Session) Authenticated() bool {
	return s != nil && s.UserID != ""
}
