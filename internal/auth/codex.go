package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/vibemate/vibemate/internal/config"
)

const (
	codexAuthURL      = "https://auth.openai.com/oauth/authorize"
	codexTokenURL     = "https://auth.openai.com/oauth/token"
	codexUsageURL     = "https://chatgpt.com/backend-api/wham/usage"
	codexClientID     = "app_EMoamEEZ73f0CkXaXp7hrann"
	codexRedirectURI  = "http://localhost:1455/auth/callback"
	codexCallbackPort = 1455
	codexCallbackPath = "/auth/callback"
	codexScopes       = "openid email profile offline_access"

	// Access tokens are refreshed once they are within five days of expiry.
	codexStaleWindow = 5 * 24 * time.Hour
)

type codexAdapter struct {
	httpClient *http.Client
}

func newCodexAdapter(client *http.Client) *codexAdapter {
	return &codexAdapter{httpClient: client}
}

func (a *codexAdapter) Type() config.AgentType { return config.AgentCodex }

func (a *codexAdapter) AuthorizeRequest(state string) (AuthorizeRequest, error) {
	verifier, challenge := GeneratePKCE()
	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", codexClientID)
	params.Set("redirect_uri", codexRedirectURI)
	params.Set("scope", codexScopes)
	params.Set("state", state)
	params.Set("code_challenge", challenge)
	params.Set("code_challenge_method", "S256")
	params.Set("id_token_add_organizations", "true")
	params.Set("codex_cli_simplified_flow", "true")
	params.Set("originator", "codex_cli_rs")
	return AuthorizeRequest{
		URL:          codexAuthURL + "?" + params.Encode(),
		CallbackPort: codexCallbackPort,
		CallbackPath: codexCallbackPath,
		PKCEVerifier: verifier,
	}, nil
}

func (a *codexAdapter) ExchangeCode(ctx context.Context, code, _, verifier string) (*RawToken, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", codexRedirectURI)
	form.Set("client_id", codexClientID)
	form.Set("code_verifier", verifier)
	return a.doTokenRequest(ctx, form)
}

func (a *codexAdapter) doTokenRequest(ctx context.Context, form url.Values) (*RawToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, codexTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, body)
	}
	result := gjson.ParseBytes(body)
	access := result.Get("access_token").String()
	if access == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}
	return &RawToken{
		AccessToken:  access,
		RefreshToken: result.Get("refresh_token").String(),
		IDToken:      result.Get("id_token").String(),
		ExpiresIn:    result.Get("expires_in").Int(),
	}, nil
}

func (a *codexAdapter) ResolveIdentity(_ context.Context, token *RawToken) (string, error) {
	claims, err := DecodeJWTClaims(token.IDToken)
	if err != nil {
		return "", fmt.Errorf("decode id_token: %w", err)
	}
	email := claims.Get("email").String()
	if email == "" {
		return "", fmt.Errorf("id_token has no email claim")
	}
	return email, nil
}

// codexAccountID extracts the workspace account ID from the id_token's
// OpenAI auth claims, preferring the last listed organization.
func codexAccountID(idToken string) string {
	claims, err := DecodeJWTClaims(idToken)
	if err != nil {
		return ""
	}
	orgs := claims.Get(`https://api\.openai\.com/auth`).Get("organizations").Array()
	if len(orgs) == 0 {
		return ""
	}
	last := orgs[len(orgs)-1]
	if id := last.Get("id").String(); id != "" {
		return id
	}
	return last.Get("uuid").String()
}

func (a *codexAdapter) Credential(_ context.Context, token *RawToken, email string) (Credential, error) {
	now := time.Now()
	cred := Credential{
		Type:         config.AgentCodex,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		IDToken:      token.IDToken,
		AccountID:    codexAccountID(token.IDToken),
		Email:        email,
		Expire:       now.Add(time.Duration(token.ExpiresIn) * time.Second).Format(time.RFC3339),
		LastRefresh:  now.Format(time.RFC3339),
	}
	return cred, nil
}

func (a *codexAdapter) Refresh(ctx context.Context, cred Credential) (Credential, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", cred.RefreshToken)
	form.Set("client_id", codexClientID)
	form.Set("scope", codexScopes)
	token, err := a.doTokenRequest(ctx, form)
	if err != nil {
		return Credential{}, fmt.Errorf("refresh codex token: %w", err)
	}
	now := time.Now()
	next := cred
	next.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		next.RefreshToken = token.RefreshToken
	}
	if token.IDToken != "" {
		next.IDToken = token.IDToken
		if id := codexAccountID(token.IDToken); id != "" {
			next.AccountID = id
		}
	}
	next.Expire = now.Add(time.Duration(token.ExpiresIn) * time.Second).Format(time.RFC3339)
	next.LastRefresh = now.Format(time.RFC3339)
	return next, nil
}

func (a *codexAdapter) IsStale(cred Credential, now time.Time) bool {
	expire := cred.ExpireTime()
	if expire.IsZero() {
		return true
	}
	return expire.Sub(now) < codexStaleWindow
}

func (a *codexAdapter) FetchQuota(ctx context.Context, cred Credential) (*Quota, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, codexUsageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create usage request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	if cred.AccountID != "" {
		req.Header.Set("ChatGPT-Account-Id", cred.AccountID)
	}
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
	return parseCodexUsage(body)
}

func parseCodexUsage(body []byte) (*Quota, error) {
	result := gjson.ParseBytes(body)
	limits := result.Get("rate_limit")
	if !limits.Exists() {
		return nil, fmt.Errorf("usage response missing rate_limit")
	}
	reached := limits.Get("limit_reached").Bool()
	return &Quota{
		PlanType:           result.Get("plan_type").String(),
		LimitReached:       &reached,
		SessionUsedPercent: limits.Get("primary_window.used_percent").Float(),
		SessionResetAt:     limits.Get("primary_window.reset_at").Int(),
		WeekUsedPercent:    limits.Get("secondary_window.used_percent").Float(),
		WeekResetAt:        limits.Get("secondary_window.reset_at").Int(),
	}, nil
}
