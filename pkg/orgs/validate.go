package orgs

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/platinummonkey/entitle/pkg/auth"
	"github.com/platinummonkey/entitle/pkg/entitlement"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	slugInvalid  = regexp.MustCompile(`[^a-z0-9]+`)
	idInvalid    = regexp.MustCompile(`[^a-z0-9\s]`)
	idSpaces     = regexp.MustCompile(`\s+`)
)

// NormalizeEmail trims and lowercases an address and checks its shape
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !emailPattern.MatchString(email) {
		return "", entitlement.InvalidInput("Please provide a valid email address")
	}
	return email, nil
}

// ValidateName trims an organization name and checks its length
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", entitlement.InvalidInput("Organization name is required")
	}
	if len([]rune(name)) > MaxNameLength {
		return "", entitlement.InvalidInput(fmt.Sprintf("Organization name must be at most %d characters", MaxNameLength))
	}
	return name, nil
}

// InviteRole parses the role of an invitation. Owners are never invited.
func InviteRole(role string) (auth.Role, error) {
	parsed, err := auth.ParseRole(role)
	if err != nil || parsed.IsOwner() {
		return "", entitlement.InvalidInput("Role must be admin or member")
	}
	return parsed, nil
}

// Slugify lowercases name and collapses every run of other characters to '-'
func Slugify(name string) string {
	slug := slugInvalid.ReplaceAllString(strings.ToLower(name), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "org"
	}
	return slug
}

// NewOrganizationID builds "org_{key}_{rand4}" from an organization name.
// Punctuation is dropped before whitespace becomes '_', so "Acme's Co" keys
// as "acmes_co".
func NewOrganizationID(name string) (string, error) {
	suffix, err := randomString(4)
	if err != nil {
		return "", err
	}
	return "org_" + idKey(name) + "_" + suffix, nil
}

func idKey(name string) string {
	key := idInvalid.ReplaceAllString(strings.ToLower(name), "")
	key = strings.Trim(idSpaces.ReplaceAllString(key, "_"), "_")
	if key == "" {
		return "org"
	}
	return key
}

// NewInvitationToken returns 32 random bytes, hex encoded
func NewInvitationToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomString(n int) (string, error) {
	var sb strings.Builder
	max := big.NewInt(int64(len(idAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate id: %w", err)
		}
		sb.WriteByte(idAlphabet[idx.Int64()])
	}
	return sb.String(), nil
}
