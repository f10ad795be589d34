// Package captcha verifies captcha responses submitted with credential
// endpoints (register, login, password reset).
package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Verifier checks a captcha response token.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}

// HTTPClient interface for making HTTP requests (allows mocking in tests).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client verifies tokens against a reCAPTCHA-compatible siteverify endpoint.
type Client struct {
	verifyURL  string
	secret     string
	httpClient HTTPClient
}

// NewClient creates a captcha verifier.
func NewClient(verifyURL, secret string) *Client {
	return &Client{
		verifyURL:  verifyURL,
		secret:     secret,
		httpClient: http.DefaultClient,
	}
}

// NewClientWithHTTP creates a captcha verifier with a custom HTTP client.
// This is primarily used for testing.
func NewClientWithHTTP(verifyURL, secret string, httpClient HTTPClient) *Client {
	c := NewClient(verifyURL, secret)
	c.httpClient = httpClient
	return c
}

// Verify posts the token to the siteverify endpoint.
func (c *Client) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	form := url.Values{}
	form.Set("secret", c.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("captcha verification request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("captcha endpoint returned status %d", resp.StatusCode)
	}

	var result struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("failed to decode captcha response: %w", err)
	}
	return result.Success, nil
}

// Disabled is a Verifier that accepts everything. Used when no captcha secret
// is configured (local development).
type Disabled struct{}

// Verify always succeeds.
func (Disabled) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	return true, nil
}

var (
	_ Verifier = (*Client)(nil)
	_ Verifier = Disabled{}
)
