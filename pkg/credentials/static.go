package credentials

import (
	"context"
	"fmt"

	"github.com/eth-cscs/firecrest/pkg/config"
)

// StaticProvider serves pre-loaded keys from the sshCredentials.keys map.
type StaticProvider struct {
	keys map[string]config.SSHUserKeys
}

// NewStaticProvider creates a provider backed by the configured key map.
func NewStaticProvider(keys map[string]config.SSHUserKeys) *StaticProvider {
	return &StaticProvider{keys: keys}
}

// Credentials returns the stored keypair for username.
func (p *StaticProvider) Credentials(ctx context.Context, username, accessToken string) (*SSHCredentials, error) {
	userKeys, ok := p.keys[username]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, username)
	}
	return &SSHCredentials{
		PrivateKey:        userKeys.PrivateKey.Value(),
		PublicCertificate: userKeys.PublicCert,
		Passphrase:        userKeys.Passphrase.Value(),
	}, nil
}
