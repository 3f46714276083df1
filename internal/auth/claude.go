package auth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/vibemate/vibemate/internal/config"
)

const (
	claudeAuthURL      = "https://claude.ai/oauth/authorize"
	claudeTokenURL     = "https://console.anthropic.com/v1/oauth/token"
	claudeUsageURL     = "https://api.anthropic.com/api/oauth/usage"
	claudeClientID     = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
	claudeRedirectURI  = "http://localhost:54545/callback"
	claudeCallbackPort = 54545
	claudeCallbackPath = "/callback"
	claudeScopes       = "org:create_api_key user:profile user:inference"

	claudeStaleWindow = 5 * time.Minute
)

type claudeAdapter struct {
	httpClient *http.Client
}

func newClaudeAdapter(client *http.Client) *claudeAdapter {
	return &claudeAdapter{httpClient: client}
}

func (a *claudeAdapter) Type() config.AgentType { return config.AgentClaudeCode }

func (a *claudeAdapter) AuthorizeRequest(state string) (AuthorizeRequest, error) {
	verifier, challenge := GeneratePKCE()
	// The consent page expects code=true as the leading parameter, so the
	// query is assembled by hand instead of through url.Values.
	pairs := [][2]string{
		{"code", "true"},
		{"client_id", claudeClientID},
		{"response_type", "code"},
		{"redirect_uri", claudeRedirectURI},
		{"scope", claudeScopes},
		{"code_challenge", challenge},
		{"code_challenge_method", "S256"},
		{"state", state},
	}
	var query strings.Builder
	for i, p := range pairs {
		if i > 0 {
			query.WriteByte('&')
		}
		query.WriteString(url.QueryEscape(p[0]))
		query.WriteByte('=')
		query.WriteString(url.QueryEscape(p[1]))
	}
	return AuthorizeRequest{
		URL:          claudeAuthURL + "?" + query.String(),
		CallbackPort: claudeCallbackPort,
		CallbackPath: claudeCallbackPath,
		PKCEVerifier: verifier,
	}, nil
}

func (a *claudeAdapter) doTokenRequest(ctx context.Context, payload string) (gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, claudeTokenURL, bytes.NewReader([]byte(payload)))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, statusError(resp.StatusCode, body)
	}
	return gjson.ParseBytes(body), nil
}

func (a *claudeAdapter) ExchangeCode(ctx context.Context, code, state, verifier string) (*RawToken, error) {
	payload := "{}"
	for _, kv := range [][2]string{
		{"code", code},
		{"state", state},
		{"grant_type", "authorization_code"},
		{"client_id", claudeClientID},
		{"redirect_uri", claudeRedirectURI},
		{"code_verifier", verifier},
	} {
		payload, _ = sjson.Set(payload, kv[0], kv[1])
	}
	result, err := a.doTokenRequest(ctx, payload)
	if err != nil {
		return nil, err
	}
	access := result.Get("access_token").String()
	if access == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}
	return &RawToken{
		AccessToken:  access,
		RefreshToken: result.Get("refresh_token").String(),
		ExpiresIn:    result.Get("expires_in").Int(),
		Email:        result.Get("account.email_address").String(),
	}, nil
}

func (a *claudeAdapter) ResolveIdentity(_ context.Context, token *RawToken) (string, error) {
	if token.Email == "" {
		return "", fmt.Errorf("token response has no account email")
	}
	return token.Email, nil
}

func (a *claudeAdapter) Credential(_ context.Context, token *RawToken, email string) (Credential, error) {
	now := time.Now()
	return Credential{
		Type:         config.AgentClaudeCode,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Email:        email,
		Expire:       now.Add(time.Duration(token.ExpiresIn) * time.Second).Format(time.RFC3339),
		LastRefresh:  now.Format(time.RFC3339),
	}, nil
}

func (a *claudeAdapter) Refresh(ctx context.Context, cred Credential) (Credential, error) {
	payload := "{}"
	payload, _ = sjson.Set(payload, "client_id", claudeClientID)
	payload, _ = sjson.Set(payload, "grant_type", "refresh_token")
	payload, _ = sjson.Set(payload, "refresh_token", cred.RefreshToken)
	result, err := a.doTokenRequest(ctx, payload)
	if err != nil {
		return Credential{}, fmt.Errorf("refresh claude token: %w", err)
	}
	now := time.Now()
	next := cred
	next.AccessToken = result.Get("access_token").String()
	if rt := result.Get("refresh_token").String(); rt != "" {
		next.RefreshToken = rt
	}
	next.Expire = now.Add(time.Duration(result.Get("expires_in").Int()) * time.Second).Format(time.RFC3339)
	next.LastRefresh = now.Format(time.RFC3339)
	return next, nil
}

func (a *claudeAdapter) IsStale(cred Credential, now time.Time) bool {
	expire := cred.ExpireTime()
	if expire.IsZero() {
		return true
	}
	return expire.Sub(now) < claudeStaleWindow
}

func (a *claudeAdapter) FetchQuota(ctx context.Context, cred Credential) (*Quota, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, claudeUsageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create usage request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("anthropic-beta", "oauth-2025-04-20")
	req.Header.Set("Accept", "application/json")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("usage request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read usage response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, body)
	}
	return parseClaudeUsage(body)
}

func parseClaudeUsage(body []byte) (*Quota, error) {
	result := gjson.ParseBytes(body)
	fiveHour := result.Get("five_hour")
	sevenDay := result.Get("seven_day")
	if !fiveHour.Exists() || !sevenDay.Exists() {
		return nil, fmt.Errorf("usage response missing rate windows: %s", truncate(string(body), 200))
	}
	quota := &Quota{
		PlanType:           "Claude Code",
		SessionUsedPercent: fiveHour.Get("utilization").Float(),
		SessionResetAt:     rfc3339ToEpoch(fiveHour.Get("resets_at").String()),
		WeekUsedPercent:    sevenDay.Get("utilization").Float(),
		WeekResetAt:        rfc3339ToEpoch(sevenDay.Get("resets_at").String()),
	}
	quota.Entries = []QuotaEntry{
		{Label: "5h", UsedPercent: quota.SessionUsedPercent, ResetAt: quota.SessionResetAt},
		{Label: "7d", UsedPercent: quota.WeekUsedPercent, ResetAt: quota.WeekResetAt},
	}
	for _, w := range []struct {
		key, label string
	}{
		{"seven_day_sonnet", "7d sonnet"},
		{"seven_day_opus", "7d opus"},
	} {
		if v := result.Get(w.key); v.Exists() {
			quota.Entries = append(quota.Entries, QuotaEntry{
				Label:       w.label,
				UsedPercent: v.Get("utilization").Float(),
				ResetAt:     rfc3339ToEpoch(v.Get("resets_at").String()),
			})
		}
	}
	return quota, nil
}

func rfc3339ToEpoch(value string) int64 {
	if value == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return 0
	}
	return t.Unix()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
