/*
Package credentials brokers SSH credentials for end users.

Every SSH connection the gateway opens authenticates as the requesting user,
never as a shared privileged account. This package turns a verified username
plus the raw access token of the request into an SSH keypair, optionally
accompanied by a certificate and a passphrase.

# Core Components

Provider:
  - Credentials(ctx, username, accessToken) -> *SSHCredentials
  - Implemented by StaticProvider and SigningProvider

StaticProvider:
  - Serves keys pre-loaded from the sshCredentials.keys config map
  - Fails with ErrUnknownUser for unconfigured users
  - Credential lifetime: stable for the process lifetime

SigningProvider:
  - Generates a fresh ed25519 keypair per call
  - POSTs {PublicKey, OTT} to the configured signer, where OTT is the
    user's OIDC access token used as a one-time token
  - Receives a short-lived SSH certificate in the response body
  - The private key never leaves the gateway process
  - Credential lifetime: per request; the SSH pool re-provisions after an
    authentication failure

# Error Semantics

  - ErrUnknownUser: static map has no entry for the user (maps to 401)
  - ErrTokenRejected: signer refused the one-time token (maps to 401)
  - ErrServiceUnavailable: signer unreachable or unexpected status (502)

Certificate expiry is enforced by the SSH handshake itself, not checked
here; an expired certificate simply fails authentication and the connection
pool re-provisions on the next request.
*/
package credentials
