package domain

// Profile is the part of a user profile the ranking core reads and writes.
type Profile struct {
	UserID           string          `json:"user_id"`
	DisplayName      string          `json:"display_name"`
	Badges           map[string]bool `json:"badges"`
	LastBadgeSummary string          `json:"last_badge_summary,omitempty"`
}

// Claims holds custom auth claims keyed by name.
type Claims map[string]any

// Custom claim names.
const (
	// ClaimHasProfile is set once a user completes profile verification.
	ClaimHasProfile = "hasProfile"
	// ClaimAdmin marks operators allowed to trigger grant cycles.
	ClaimAdmin = "admin"
)

// Enabled reports whether the claim is stored as JSON true.
func (c Claims) Enabled(key string) bool {
	v, ok := c[key].(bool)
	return ok && v
}
