package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNoBearerToken means the request carried no usable Authorization
	// header.
	ErrNoBearerToken = errors.New("missing bearer token")

	// ErrMalformedToken means the token is not a decodable JWT.
	ErrMalformedToken = errors.New("malformed access token")

	// ErrClaimMissing means the configured username claim is absent from
	// the token payload.
	ErrClaimMissing = errors.New("username claim missing in access token")
)

// Identity is the caller identity every handler operates under: the
// username resolved from the token plus the raw token for backends that
// forward it.
type Identity struct {
	Username    string
	AccessToken string
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoBearerToken
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", ErrNoBearerToken
	}
	return token, nil
}

// DecodeClaims returns the JWT payload without verifying the signature.
// Signature verification happens at the identity provider facing proxy;
// the gateway only needs the claims to resolve the username.
func DecodeClaims(token string) (map[string]any, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrMalformedToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return claims, nil
}

// Claim returns the named string claim from the token payload.
func Claim(token, name string) (string, bool) {
	claims, err := DecodeClaims(token)
	if err != nil {
		return "", false
	}
	value, ok := claims[name].(string)
	return value, ok && value != ""
}

// IdentityFromToken resolves the caller identity using the configured
// username claim.
func IdentityFromToken(token, usernameClaim string) (*Identity, error) {
	username, ok := Claim(token, usernameClaim)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrClaimMissing, usernameClaim)
	}
	return &Identity{Username: username, AccessToken: token}, nil
}
