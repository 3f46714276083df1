package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/vibemate/vibemate/internal/config"
)

const (
	geminiClientID     = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	geminiClientSecret = "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"
	geminiRedirectURI  = "http://localhost:8085/oauth2callback"
	geminiCallbackPort = 8085
	geminiCallbackPath = "/oauth2callback"
)

var geminiScopes = []string{
	"openid",
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

type geminiAdapter struct {
	oauth *googleOAuth
}

func newGeminiAdapter(client *http.Client) *geminiAdapter {
	return &geminiAdapter{
		oauth: newGoogleOAuth(geminiClientID, geminiClientSecret, geminiRedirectURI, geminiScopes, client),
	}
}

func (a *geminiAdapter) Type() config.AgentType { return config.AgentGeminiCLI }

func (a *geminiAdapter) AuthorizeRequest(state string) (AuthorizeRequest, error) {
	return AuthorizeRequest{
		URL:          a.oauth.authorizeURL(state),
		CallbackPort: geminiCallbackPort,
		CallbackPath: geminiCallbackPath,
	}, nil
}

func (a *geminiAdapter) ExchangeCode(ctx context.Context, code, _, _ string) (*RawToken, error) {
	return a.oauth.exchange(ctx, code)
}

func (a *geminiAdapter) ResolveIdentity(ctx context.Context, token *RawToken) (string, error) {
	return a.oauth.resolveGoogleEmail(ctx, token)
}

func (a *geminiAdapter) Credential(_ context.Context, token *RawToken, email string) (Credential, error) {
	now := time.Now()
	return Credential{
		Type:         config.AgentGeminiCLI,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Email:        email,
		ExpiresIn:    token.ExpiresIn,
		Timestamp:    now.UnixMilli(),
		Expire:       now.Add(time.Duration(token.ExpiresIn) * time.Second).Format(time.RFC3339),
		LastRefresh:  now.Format(time.RFC3339),
	}, nil
}

func (a *geminiAdapter) Refresh(ctx context.Context, cred Credential) (Credential, error) {
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

func (a *geminiAdapter) IsStale(cred Credential, now time.Time) bool {
	return googleStale(cred, now)
}

// FetchQuota returns a static report. There is no public quota API for the
// Gemini CLI today.
func (a *geminiAdapter) FetchQuota(_ context.Context, _ Credential) (*Quota, error) {
	return &Quota{
		PlanType: "Google Account",
		Note:     "Gemini CLI does not expose a quota API yet.",
	}, nil
}
