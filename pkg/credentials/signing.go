package credentials

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// SigningProvider obtains a short-lived SSH certificate from a remote
// signing service. A fresh ed25519 keypair is generated per call; only the
// public key leaves the gateway process, together with the user's access
// token acting as a one-time token.
type SigningProvider struct {
	url    string
	client *http.Client
}

// signRequest is the wire format expected by the signing service.
type signRequest struct {
	PublicKey string `json:"PublicKey"`
	OTT       string `json:"OTT"`
}

// NewSigningProvider creates a provider that talks to the service at url.
// maxConnections bounds the idle connection pool towards the signer.
func NewSigningProvider(url string, maxConnections int, timeout time.Duration) *SigningProvider {
	if maxConnections <= 0 {
		maxConnections = 10
	}
	return &SigningProvider{
		url: url,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: maxConnections,
				MaxConnsPerHost:     maxConnections,
			},
		},
	}
}

// Credentials generates a keypair and asks the signer for a certificate on
// the public half.
func (p *SigningProvider) Credentials(ctx context.Context, username, accessToken string) (*SSHCredentials, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to convert public key: %w", err)
	}

	pemBlock, err := ssh.MarshalPrivateKey(privateKey, "")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	body, err := json.Marshal(signRequest{
		PublicKey: strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub))),
		OTT:       accessToken,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	certificate, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrTokenRejected
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", ErrServiceUnavailable, resp.StatusCode)
	}

	return &SSHCredentials{
		PrivateKey:        string(pem.EncodeToMemory(pemBlock)),
		PublicCertificate: strings.TrimSpace(string(certificate)),
	}, nil
}
