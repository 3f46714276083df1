package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/tidwall/gjson"
)

const googleUserinfoURL = "https://www.googleapis.com/oauth2/v1/userinfo?alt=json"

// googleRefreshSkewMs refreshes roughly 50 minutes before expiry, tolerating
// long gaps between quota checks.
const googleRefreshSkewMs = 3_000_000

// googleOAuth holds the shared machinery for the two Google-based vendors.
// They differ only in client credentials, scopes, and redirect.
type googleOAuth struct {
	conf       *oauth2.Config
	httpClient *http.Client
}

func newGoogleOAuth(clientID, clientSecret, redirectURL string, scopes []string, client *http.Client) *googleOAuth {
	return &googleOAuth{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       scopes,
			Endpoint:     google.Endpoint,
		},
		httpClient: client,
	}
}

func (g *googleOAuth) context(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
}

// authorizeURL requests offline access with forced consent so a refresh
// token is always issued. No PKCE; these clients authenticate with their
// secret at the token endpoint instead.
func (g *googleOAuth) authorizeURL(state string) string {
	return g.conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func rawTokenFromGoogle(tok *oauth2.Token) *RawToken {
	expiresIn := int64(time.Until(tok.Expiry).Round(time.Second) / time.Second)
	if v, ok := tok.Extra("expires_in").(float64); ok && v > 0 {
		expiresIn = int64(v)
	}
	idToken, _ := tok.Extra("id_token").(string)
	return &RawToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IDToken:      idToken,
		ExpiresIn:    expiresIn,
	}
}

func (g *googleOAuth) exchange(ctx context.Context, code string) (*RawToken, error) {
	tok, err := g.conf.Exchange(g.context(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("google code exchange: %w", mapOAuthError(err))
	}
	return rawTokenFromGoogle(tok), nil
}

func (g *googleOAuth) refresh(ctx context.Context, refreshToken string) (*RawToken, error) {
	src := g.conf.TokenSource(g.context(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("google token refresh: %w", mapOAuthError(err))
	}
	raw := rawTokenFromGoogle(tok)
	if raw.RefreshToken == "" {
		raw.RefreshToken = refreshToken
	}
	return raw, nil
}

func mapOAuthError(err error) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) && retrieve.Response != nil {
		return statusError(retrieve.Response.StatusCode, retrieve.Body)
	}
	return err
}

// resolveGoogleEmail prefers the id_token claims and falls back to the
// userinfo endpoint when the claim is missing or undecodable.
func (g *googleOAuth) resolveGoogleEmail(ctx context.Context, token *RawToken) (string, error) {
	if token.IDToken != "" {
		if claims, err := DecodeJWTClaims(token.IDToken); err == nil {
			if email := claims.Get("email").String(); email != "" {
				return email, nil
			}
		}
	}
	return g.fetchUserinfoEmail(ctx, token.AccessToken)
}

func (g *googleOAuth) fetchUserinfoEmail(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, googleUserinfoURL, nil)
	if err != nil {
		return "", fmt.Errorf("create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("userinfo request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read userinfo response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp.StatusCode, body)
	}
	email := gjson.GetBytes(body, "email").String()
	if email == "" {
		return "", fmt.Errorf("userinfo response has no email")
	}
	return email, nil
}

// googleStale implements the shared staleness rule for Google-issued tokens:
// stale once now passes issue time plus lifetime minus the refresh skew.
func googleStale(cred Credential, now time.Time) bool {
	if cred.Timestamp == 0 || cred.ExpiresIn == 0 {
		return true
	}
	return now.UnixMilli() >= cred.Timestamp+cred.ExpiresIn*1000-googleRefreshSkewMs
}
