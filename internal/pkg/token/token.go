// Package token generates the opaque bearer credentials issued by the service.
// Session tokens, API keys and password reset tokens are all random values
// from crypto/rand; nothing about them is derivable or ordered.
package token

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

const apiKeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// APIKeyLength is the length of generated API keys.
const APIKeyLength = 50

// NewSession returns a session token: 32 random bytes, base64url encoded.
func NewSession() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// NewReset returns a password reset token: 32 random bytes, base64url encoded.
func NewReset() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate reset token: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// NewAPIKey returns an alphanumeric API key of APIKeyLength characters.
// Rejection sampling keeps the distribution uniform over the alphabet.
func NewAPIKey() (string, error) {
	out := make([]byte, 0, APIKeyLength)
	buf := make([]byte, 64)
	// 62 * 4 = 248 is the largest multiple of len(alphabet) below 256
	const max = byte(248)
	for len(out) < APIKeyLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate api key: %w", err)
		}
		for _, b := range buf {
			if b >= max {
				continue
			}
			out = append(out, apiKeyAlphabet[int(b)%len(apiKeyAlphabet)])
			if len(out) == APIKeyLength {
				break
			}
		}
	}
	return string(out), nil
}

// Equal compares two tokens in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
