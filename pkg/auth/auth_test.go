package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256"}`))
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".signature"
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer abc.def.ghi")

	token, err := BearerToken(r)
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)
}

func TestBearerTokenCaseInsensitiveScheme(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "bearer abc")

	token, err := BearerToken(r)
	require.NoError(t, err)
	assert.Equal(t, "abc", token)
}

func TestBearerTokenMissing(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := BearerToken(r)
	assert.ErrorIs(t, err, ErrNoBearerToken)

	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	_, err = BearerToken(r)
	assert.ErrorIs(t, err, ErrNoBearerToken)

	r.Header.Set("Authorization", "Bearer")
	_, err = BearerToken(r)
	assert.ErrorIs(t, err, ErrNoBearerToken)
}

func TestDecodeClaims(t *testing.T) {
	token := makeToken(t, map[string]any{"username": "alice", "scope": "openid"})

	claims, err := DecodeClaims(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims["username"])
	assert.Equal(t, "openid", claims["scope"])
}

func TestDecodeClaimsMalformed(t *testing.T) {
	for _, token := range []string{"", "onlyone", "a.b", "a.!!!.c"} {
		_, err := DecodeClaims(token)
		assert.ErrorIs(t, err, ErrMalformedToken, token)
	}
}

func TestClaim(t *testing.T) {
	token := makeToken(t, map[string]any{"username": "alice", "count": 3})

	value, ok := Claim(token, "username")
	assert.True(t, ok)
	assert.Equal(t, "alice", value)

	// non-string claims do not resolve
	_, ok = Claim(token, "count")
	assert.False(t, ok)

	_, ok = Claim(token, "missing")
	assert.False(t, ok)
}

func TestIdentityFromToken(t *testing.T) {
	token := makeToken(t, map[string]any{"preferred_username": "bob"})

	identity, err := IdentityFromToken(token, "preferred_username")
	require.NoError(t, err)
	assert.Equal(t, "bob", identity.Username)
	assert.Equal(t, token, identity.AccessToken)

	_, err = IdentityFromToken(token, "username")
	assert.ErrorIs(t, err, ErrClaimMissing)
}

func TestClientCredentialsSource(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		assert.Equal(t, "svc-ca", r.Form.Get("client_id"))
		assert.Equal(t, "hunter2", r.Form.Get("client_secret"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-1",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	source := NewClientCredentialsSource(server.URL, "svc-ca", "hunter2")

	token, err := source.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)

	// second call is served from the cache
	token, err = source.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
	assert.Equal(t, 1, requests)
}

func TestClientCredentialsSourceExpiry(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok",
			// shorter than the expiry slack, so never cached
			"expires_in": 1,
		})
	}))
	defer server.Close()

	source := NewClientCredentialsSource(server.URL, "svc", "secret")

	_, err := source.Token(context.Background())
	require.NoError(t, err)
	_, err = source.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, requests)
}

func TestClientCredentialsSourceErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	source := NewClientCredentialsSource(server.URL, "svc", "wrong")
	_, err := source.Token(context.Background())
	assert.Error(t, err)
}

func TestStaticTokenSource(t *testing.T) {
	token, err := StaticTokenSource("fixed").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fixed", token)
}
