package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vibemate/vibemate/internal/config"
)

// AuthorizeRequest is everything the flow orchestrator needs to run one
// browser login: the URL to open, the loopback listener the vendor will
// redirect to, and the PKCE verifier to replay during code exchange.
type AuthorizeRequest struct {
	URL          string
	CallbackPort int
	CallbackPath string
	PKCEVerifier string
}

// RawToken is a vendor token response before normalization.
type RawToken struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresIn    int64
	// Email is set when the vendor embeds identity in the token response
	// itself; otherwise ResolveIdentity fills it in.
	Email string
}

// QuotaEntry is one labeled usage window. ResetAt is a Unix epoch in
// seconds, zero when the vendor reports no reset time.
type QuotaEntry struct {
	Label       string  `json:"label"`
	UsedPercent float64 `json:"used_percent"`
	ResetAt     int64   `json:"reset_at,omitempty"`
}

// Quota is the vendor-independent usage report shape.
type Quota struct {
	PlanType           string       `json:"plan_type,omitempty"`
	LimitReached       *bool        `json:"limit_reached,omitempty"`
	SessionUsedPercent float64      `json:"session_used_percent"`
	SessionResetAt     int64        `json:"session_reset_at,omitempty"`
	WeekUsedPercent    float64      `json:"week_used_percent"`
	WeekResetAt        int64        `json:"week_reset_at,omitempty"`
	Entries            []QuotaEntry `json:"entries,omitempty"`
	Note               string       `json:"note,omitempty"`
}

// Adapter is the per-vendor credential lifecycle. Implementations hold no
// mutable state; the shared http.Client they are built with honors the
// application proxy settings.
type Adapter interface {
	Type() config.AgentType

	// AuthorizeRequest builds the authorization URL for the given state.
	AuthorizeRequest(state string) (AuthorizeRequest, error)

	// ExchangeCode redeems an authorization code for tokens. state and
	// verifier are passed through for vendors whose token endpoint wants
	// them echoed back.
	ExchangeCode(ctx context.Context, code, state, verifier string) (*RawToken, error)

	// ResolveIdentity returns the account email for a fresh token set.
	ResolveIdentity(ctx context.Context, token *RawToken) (string, error)

	// Credential normalizes a token set into the persisted form, resolving
	// any vendor extras (workspace account, cloud project).
	Credential(ctx context.Context, token *RawToken, email string) (Credential, error)

	// Refresh obtains a new access token, carrying forward fields the
	// vendor's refresh response omits.
	Refresh(ctx context.Context, cred Credential) (Credential, error)

	// IsStale reports whether the credential should be refreshed before use.
	IsStale(cred Credential, now time.Time) bool

	// FetchQuota retrieves current usage for the account.
	FetchQuota(ctx context.Context, cred Credential) (*Quota, error)
}

// NewAdapter returns the adapter for an agent type. All vendor traffic goes
// through the supplied client.
func NewAdapter(t config.AgentType, client *http.Client) (Adapter, error) {
	switch t {
	case config.AgentCodex:
		return newCodexAdapter(client), nil
	case config.AgentClaudeCode:
		return newClaudeAdapter(client), nil
	case config.AgentGeminiCLI:
		return newGeminiAdapter(client), nil
	case config.AgentAntigravity:
		return newAntigravityAdapter(client), nil
	default:
		return nil, fmt.Errorf("unsupported agent type %q", t)
	}
}
