package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	authClientID        = "ast-app"
	defaultTokenTTL     = 600 * time.Second
	tokenRefreshLeeway  = 60 * time.Second
	maxErrorBodyPreview = 512
)

// TokenSource exchanges the API key for short-lived access tokens and caches
// them until shortly before expiry.
type TokenSource struct {
	mu         sync.Mutex
	endpoint   string
	apiKey     string
	httpClient *http.Client
	token      string
	expiry     time.Time
	now        func() time.Time
}

// NewTokenSource creates a token source for the tenant's realm on the IAM host.
func NewTokenSource(iamURL, tenant, apiKey string, httpClient *http.Client) *TokenSource {
	endpoint := fmt.Sprintf("%s/auth/realms/%s/protocol/openid-connect/token",
		strings.TrimRight(iamURL, "/"), url.PathEscape(tenant))
	return &TokenSource{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: httpClient,
		now:        time.Now,
	}
}

// Token returns a cached token or fetches a new one.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Before(s.expiry) {
		return s.token, nil
	}

	token, ttl, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	s.token = token
	s.expiry = s.now().Add(ttl - tokenRefreshLeeway)
	return s.token, nil
}

// Invalidate drops the cached token so the next call fetches a fresh one.
func (s *TokenSource) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (s *TokenSource) fetch(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {authClientID},
		"refresh_token": {s.apiKey},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("request token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyPreview))
		return "", 0, fmt.Errorf("%w: token endpoint returned HTTP %d: %s",
			ErrAuthFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", 0, fmt.Errorf("%w: decode token response: %v", ErrAuthFailed, err)
	}
	if tr.AccessToken == "" {
		return "", 0, fmt.Errorf("%w: token response has no access_token", ErrAuthFailed)
	}

	ttl := defaultTokenTTL
	if tr.ExpiresIn > 0 {
		ttl = time.Duration(tr.ExpiresIn) * time.Second
	}
	return tr.AccessToken, ttl, nil
}
