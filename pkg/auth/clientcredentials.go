package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// TokenSource yields an access token for machine-to-machine calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ClientCredentialsSource fetches tokens from the identity provider with
// the OAuth2 client_credentials grant and caches them until shortly
// before expiry. The health prober uses it to act as a cluster's service
// account.
type ClientCredentialsSource struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

// expirySlack is subtracted from the advertised lifetime so a token is
// never handed out moments before it dies.
const expirySlack = 30 * time.Second

func NewClientCredentialsSource(tokenURL, clientID, clientSecret string) *ClientCredentialsSource {
	return &ClientCredentialsSource{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *ClientCredentialsSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Before(s.expires) {
		return s.token, nil
	}

	form := url.Values{
		"grant_type":    []string{"client_credentials"},
		"client_id":     []string{s.clientID},
		"client_secret": []string{s.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned no access token")
	}

	s.token = payload.AccessToken
	lifetime := time.Duration(payload.ExpiresIn)*time.Second - expirySlack
	if lifetime < 0 {
		lifetime = 0
	}
	s.expires = time.Now().Add(lifetime)
	return s.token, nil
}

// StaticTokenSource returns the same token forever; useful in tests and
// for deployments without a token endpoint.
type StaticTokenSource string

func (s StaticTokenSource) Token(ctx context.Context) (string, error) {
	return string(s), nil
}
