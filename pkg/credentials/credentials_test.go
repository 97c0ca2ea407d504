package credentials

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eth-cscs/firecrest/pkg/config"
)

func TestStaticProvider(t *testing.T) {
	provider := NewStaticProvider(map[string]config.SSHUserKeys{
		"alice": {
			PrivateKey: "PRIVATE",
			PublicCert: "ssh-ed25519-cert alice",
			Passphrase: "pass",
		},
	})

	creds, err := provider.Credentials(context.Background(), "alice", "tok")
	require.NoError(t, err)
	assert.Equal(t, "PRIVATE", creds.PrivateKey)
	assert.Equal(t, "ssh-ed25519-cert alice", creds.PublicCertificate)
	assert.Equal(t, "pass", creds.Passphrase)
}

func TestStaticProviderUnknownUser(t *testing.T) {
	provider := NewStaticProvider(map[string]config.SSHUserKeys{})

	_, err := provider.Credentials(context.Background(), "mallory", "tok")
	assert.ErrorIs(t, err, ErrUnknownUser)
	assert.Contains(t, err.Error(), "mallory")
}

func TestSigningProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req signRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, strings.HasPrefix(req.PublicKey, "ssh-ed25519 "), req.PublicKey)
		assert.Equal(t, "user-token", req.OTT)

		w.Write([]byte("ssh-ed25519-cert-v01@openssh.com AAAA...\n"))
	}))
	defer server.Close()

	provider := NewSigningProvider(server.URL, 5, time.Second)
	creds, err := provider.Credentials(context.Background(), "alice", "user-token")
	require.NoError(t, err)

	assert.Contains(t, creds.PrivateKey, "OPENSSH PRIVATE KEY")
	assert.Equal(t, "ssh-ed25519-cert-v01@openssh.com AAAA...", creds.PublicCertificate)
	assert.Empty(t, creds.Passphrase)
}

func TestSigningProviderRejectedToken(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		provider := NewSigningProvider(server.URL, 5, time.Second)
		_, err := provider.Credentials(context.Background(), "alice", "expired")
		assert.ErrorIs(t, err, ErrTokenRejected, status)
		server.Close()
	}
}

func TestSigningProviderUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	provider := NewSigningProvider(server.URL, 5, time.Second)
	_, err := provider.Credentials(context.Background(), "alice", "tok")
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestSigningProviderUnreachable(t *testing.T) {
	// closed server, nothing listening
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	provider := NewSigningProvider(server.URL, 5, time.Second)
	_, err := provider.Credentials(context.Background(), "alice", "tok")
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}
