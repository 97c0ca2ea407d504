/*
Package auth extracts the caller's identity from incoming requests.

Token verification (signature, audience, expiry) is performed upstream by
the API gateway in front of this service; this package only parses the
already-verified bearer token and resolves the configured username claim.

# Core Components

Request parsing:
  - BearerToken: pulls the token from the Authorization header,
    scheme case-insensitive
  - DecodeClaims: decodes the JWT payload segment without verifying the
    signature
  - Claim: resolves one string claim from a token
  - IdentityFromToken: token + claim name -> Identity{Username, AccessToken}

Service tokens:
  - TokenSource: anything able to produce an access token on demand
  - ClientCredentialsSource: OAuth2 client_credentials grant against the
    configured token endpoint, with the token cached until shortly before
    its expiry; used by the health prober's service account
  - StaticTokenSource: fixed token, for tests and local setups

# Error Semantics

  - ErrNoBearerToken: no usable Authorization header (maps to 401)
  - ErrMalformedToken: token is not a three-segment JWT (401)
  - ErrClaimMissing: the username claim is absent or not a string (401)
*/
package auth
