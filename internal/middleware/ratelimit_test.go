package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:4455"
	assert.Equal(t, "ip:192.0.2.10:4455", ClientID(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	assert.Equal(t, "ip:203.0.113.7", ClientID(req))

	req.Header.Set("X-API-Key", "ak_0123456789abcdef0123456789")
	assert.Equal(t, "apikey:ak_0123456789abcdef", ClientID(req))
}

func TestCredentialEndpointKey_PerClient(t *testing.T) {
	keyFunc := CredentialEndpointKey("/v1/auth/login", "/v1/auth/register")

	first := httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil)
	first.Header.Set("X-Forwarded-For", "203.0.113.7")
	second := httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil)
	second.Header.Set("X-Forwarded-For", "198.51.100.23")

	// Distinct clients hammering the same endpoint land in distinct
	// buckets; one client cannot lock the endpoint for everyone.
	assert.NotEqual(t, keyFunc(first), keyFunc(second))
	assert.Contains(t, keyFunc(first), "203.0.113.7")
	assert.Contains(t, keyFunc(second), "198.51.100.23")
}

func TestCredentialEndpointKey_SameClientSameBucket(t *testing.T) {
	keyFunc := CredentialEndpointKey("/v1/auth/login")

	first := httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil)
	first.Header.Set("X-Forwarded-For", "203.0.113.7")
	second := httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil)
	second.Header.Set("X-Forwarded-For", "203.0.113.7")

	assert.Equal(t, keyFunc(first), keyFunc(second))
}

func TestCredentialEndpointKey_OtherPathsFallThrough(t *testing.T) {
	keyFunc := CredentialEndpointKey("/v1/auth/login", "/v1/auth/register")

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	assert.Empty(t, keyFunc(req))
}
