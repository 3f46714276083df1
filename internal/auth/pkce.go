// Package auth implements the credential lifecycle for the supported coding
// agents: OAuth authorization flows (PKCE where the vendor uses it), token
// exchange and refresh, identity resolution, credential persistence, and
// normalized quota reporting.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/tidwall/gjson"
)

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func randomAlphanumeric(n int) string {
	out := make([]byte, n)
	max := big.NewInt(int64(len(alphanumeric)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform's entropy source is
			// broken; there is no meaningful recovery.
			panic(fmt.Sprintf("auth: read random: %v", err))
		}
		out[i] = alphanumeric[idx.Int64()]
	}
	return string(out)
}

// GeneratePKCE returns a 128-character code verifier and its S256 challenge.
func GeneratePKCE() (verifier, challenge string) {
	verifier = randomAlphanumeric(128)
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge
}

// RandomState returns the CSRF-binding nonce round-tripped through the OAuth
// redirect.
func RandomState() string {
	return randomAlphanumeric(32)
}

// DecodeJWTClaims extracts the claims object from a JWT without verifying
// its signature. The tokens decoded here come straight from the vendor's
// TLS-protected token endpoint, so the transport is the trust boundary.
func DecodeJWTClaims(token string) (gjson.Result, error) {
	parts := splitJWT(token)
	if len(parts) != 3 {
		return gjson.Result{}, fmt.Errorf("invalid JWT format")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return gjson.Result{}, fmt.Errorf("decode JWT payload: %w", err)
	}
	if !gjson.ValidBytes(payload) {
		return gjson.Result{}, fmt.Errorf("JWT payload is not valid JSON")
	}
	return gjson.ParseBytes(payload), nil
}

func splitJWT(token string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(token); i++ {
		if token[i] == '.' {
			parts = append(parts, token[start:i])
			start = i + 1
		}
	}
	return append(parts, token[start:])
}
