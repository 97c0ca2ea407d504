package credentials

import (
	"context"
	"errors"
)

// SSHCredentials is the material needed to authenticate one SSH connection
// as a specific user: a private key, an optional signed certificate for
// that key and an optional passphrase protecting the key.
type SSHCredentials struct {
	PrivateKey        string
	PublicCertificate string
	Passphrase        string
}

var (
	// ErrUnknownUser is returned when no credentials exist for a user.
	ErrUnknownUser = errors.New("no SSH credentials found for user")

	// ErrTokenRejected is returned when the signing service refuses the
	// user's access token.
	ErrTokenRejected = errors.New("signing service rejected access token")

	// ErrServiceUnavailable is returned when the signing service cannot
	// be reached or answers with an unexpected status.
	ErrServiceUnavailable = errors.New("SSH keys signing service unavailable")
)

// Provider obtains SSH credentials for a user. The access token is the raw
// OIDC token of the request; the signing-service implementation forwards it
// as a one-time token, the static implementation ignores it.
type Provider interface {
	Credentials(ctx context.Context, username, accessToken string) (*SSHCredentials, error)
}
