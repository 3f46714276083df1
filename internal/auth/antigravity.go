package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/vibemate/vibemate/internal/config"
)

const (
	antigravityClientID     = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	antigravityClientSecret = "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"
	antigravityRedirectURI  = "http://localhost:51121/oauth-callback"
	antigravityCallbackPort = 51121
	antigravityCallbackPath = "/oauth-callback"

	antigravityModelsURL  = "https://cloudcode-pa.googleapis.com/v1internal:fetchAvailableModels"
	antigravityAssistURL  = "https://cloudcode-pa.googleapis.com/v1internal:loadCodeAssist"
	antigravityOnboardURL = "https://cloudcode-pa.googleapis.com/v1internal:onboardUser"
	antigravityUserAgent  = "antigravity/1.11.3 Darwin/arm64"

	onboardAttempts = 5
	onboardInterval = 2 * time.Second
)

var antigravityScopes = []string{
	"openid",
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/cclog",
	"https://www.googleapis.com/auth/experimentsandconfigs",
}

type antigravityAdapter struct {
	oauth      *googleOAuth
	httpClient *http.Client
}

func newAntigravityAdapter(client *http.Client) *antigravityAdapter {
	return &antigravityAdapter{
		oauth:      newGoogleOAuth(antigravityClientID, antigravityClientSecret, antigravityRedirectURI, antigravityScopes, client),
		httpClient: client,
	}
}

func (a *antigravityAdapter) Type() config.AgentType { return config.AgentAntigravity }

func (a *antigravityAdapter) AuthorizeRequest(state string) (AuthorizeRequest, error) {
	return AuthorizeRequest{
		URL:          a.oauth.authorizeURL(state),
		CallbackPort: antigravityCallbackPort,
		CallbackPath: antigravityCallbackPath,
	}, nil
}

func (a *antigravityAdapter) ExchangeCode(ctx context.Context, code, _, _ string) (*RawToken, error) {
	return a.oauth.exchange(ctx, code)
}

func (a *antigravityAdapter) ResolveIdentity(ctx context.Context, token *RawToken) (string, error) {
	return a.oauth.resolveGoogleEmail(ctx, token)
}

func (a *antigravityAdapter) Credential(ctx context.Context, token *RawToken, email string) (Credential, error) {
	projectID, err := a.resolveProject(ctx, token.AccessToken)
	if err != nil {
		return Credential{}, fmt.Errorf("resolve antigravity project: %w", err)
	}
	now := time.Now()
	return Credential{
		Type:         config.AgentAntigravity,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ProjectID:    projectID,
		Email:        email,
		ExpiresIn:    token.ExpiresIn,
		Timestamp:    now.UnixMilli(),
		Expire:       now.Add(time.Duration(token.ExpiresIn) * time.Second).Format(time.RFC3339),
		LastRefresh:  now.Format(time.RFC3339),
	}, nil
}

func (a *antigravityAdapter) Refresh(ctx context.Context, cred Credential) (Credential, error) {
	token, err := a.oauth.refresh(ctx, cred.RefreshToken)
	if err != nil {
		return Credential{}, err
	}
	now := time.Now()
	next := cred
	next.AccessToken = token.AccessToken
	next.RefreshToken = token.RefreshToken
	next.ExpiresIn = token.ExpiresIn
	next.Timestamp = now.UnixMilli()
	next.Expire = now.Add(time.Duration(token.ExpiresIn) * time.Second).Format(time.RFC3339)
	next.LastRefresh = now.Format(time.RFC3339)
	return next, nil
}

func (a *antigravityAdapter) IsStale(cred Credential, now time.Time) bool {
	return googleStale(cred, now)
}

func (a *antigravityAdapter) postJSON(ctx context.Context, url, accessToken, payload string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", antigravityUserAgent)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, body)
	}
	return body, nil
}

func (a *antigravityAdapter) FetchQuota(ctx context.Context, cred Credential) (*Quota, error) {
	payload := "{}"
	if cred.ProjectID != "" {
		payload, _ = sjson.Set(payload, "project", cred.ProjectID)
	}
	body, err := a.postJSON(ctx, antigravityModelsURL, cred.AccessToken, payload)
	if err != nil {
		return nil, err
	}
	return parseAntigravityModels(body), nil
}

func parseAntigravityModels(body []byte) *Quota {
	var entries []QuotaEntry
	gjson.GetBytes(body, "models").ForEach(func(name, model gjson.Result) bool {
		info := model.Get("quotaInfo")
		if !info.Exists() {
			return true
		}
		entries = append(entries, QuotaEntry{
			Label:       name.String(),
			UsedPercent: (1 - info.Get("remainingFraction").Float()) * 100,
			ResetAt:     rfc3339ToEpoch(info.Get("resetTime").String()),
		})
		return true
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].Label < entries[j].Label })

	quota := &Quota{PlanType: "Antigravity", Entries: entries}
	if len(entries) == 0 {
		quota.Note = "No quota data returned for this project."
		return quota
	}
	session := entries[0]
	week := session
	if len(entries) > 1 {
		week = entries[1]
	}
	quota.SessionUsedPercent = session.UsedPercent
	quota.SessionResetAt = session.ResetAt
	quota.WeekUsedPercent = week.UsedPercent
	quota.WeekResetAt = week.ResetAt
	return quota
}

const antigravityClientMetadata = `{"metadata":{"ideType":"ANTIGRAVITY","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}}`

// resolveProject finds the cloud project backing the account. An existing
// project reference wins; otherwise the user is onboarded onto the default
// tier, polling until the long-running operation completes.
func (a *antigravityAdapter) resolveProject(ctx context.Context, accessToken string) (string, error) {
	body, err := a.postJSON(ctx, antigravityAssistURL, accessToken, antigravityClientMetadata)
	if err != nil {
		return "", err
	}
	result := gjson.ParseBytes(body)
	if id := projectRefID(result.Get("cloudaicompanionProject")); id != "" {
		return id, nil
	}

	tiers := result.Get("allowedTiers").Array()
	tierID := ""
	for _, tier := range tiers {
		if tier.Get("isDefault").Bool() {
			tierID = tier.Get("id").String()
			break
		}
	}
	if tierID == "" && len(tiers) > 0 {
		tierID = tiers[0].Get("id").String()
	}
	if tierID == "" {
		return "", fmt.Errorf("no available tier")
	}
	return a.onboardUser(ctx, accessToken, tierID)
}

func (a *antigravityAdapter) onboardUser(ctx context.Context, accessToken, tierID string) (string, error) {
	payload, _ := sjson.Set(antigravityClientMetadata, "tierId", tierID)
	for attempt := 1; attempt <= onboardAttempts; attempt++ {
		body, err := a.postJSON(ctx, antigravityOnboardURL, accessToken, payload)
		if err != nil {
			return "", err
		}
		result := gjson.ParseBytes(body)
		if result.Get("done").Bool() {
			if id := projectRefID(result.Get("response.cloudaicompanionProject")); id != "" {
				return id, nil
			}
			return "", fmt.Errorf("onboarding succeeded without project id")
		}
		if attempt < onboardAttempts {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(onboardInterval):
			}
		}
	}
	return "", fmt.Errorf("onboarding timeout")
}

// projectRefID accepts the two shapes the API returns for a project
// reference: a bare string or an object with an id field.
func projectRefID(v gjson.Result) string {
	switch {
	case v.Type == gjson.String:
		return v.String()
	case v.IsObject():
		return v.Get("id").String()
	default:
		return ""
	}
}
