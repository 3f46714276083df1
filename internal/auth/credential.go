package auth

import (
	"time"

	"github.com/vibemate/vibemate/internal/config"
)

// Credential is the normalized persisted form of a vendor token set. Vendor
// differences are confined to which optional fields are populated: Codex
// carries an ID token and workspace account ID, the Google vendors carry the
// millisecond issue timestamp used by their staleness rule, and Antigravity
// additionally records the resolved cloud project.
type Credential struct {
	Type         config.AgentType `json:"type"`
	AccessToken  string           `json:"access_token"`
	RefreshToken string           `json:"refresh_token"`
	IDToken      string           `json:"id_token,omitempty"`
	AccountID    string           `json:"account_id,omitempty"`
	ProjectID    string           `json:"project_id,omitempty"`
	Email        string           `json:"email"`
	ExpiresIn    int64            `json:"expires_in,omitempty"`
	Timestamp    int64            `json:"timestamp,omitempty"`
	Expire       string           `json:"expire,omitempty"`
	LastRefresh  string           `json:"last_refresh,omitempty"`
}

// ExpireTime parses the RFC3339 expiry. The zero time is returned when the
// field is absent or malformed, which every staleness check treats as stale.
func (c Credential) ExpireTime() time.Time {
	if c.Expire == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, c.Expire)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Account is a summary row for the accounts listing.
type Account struct {
	Type          config.AgentType `json:"type"`
	Email         string           `json:"email,omitempty"`
	Authenticated bool             `json:"authenticated"`
}
