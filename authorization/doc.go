// Package authorization defines the in-memory model of an OAuth 2.0 / OIDC
// authorization grant and of the registered clients that own them.
//
// An Authorization is the aggregate consumed by the token-issuance pipeline.
// It carries up to four independent token slots (authorization code, access
// token, refresh token and OIDC ID token); any subset may be present at the
// same time, which is why they are modelled as optional fields rather than a
// single variant.
//
// Grant types and client authentication methods are open enumerations: a
// fixed set of well-known values plus a custom variant that carries the raw
// string unchanged, so organisation-specific extension grants keep working.
package authorization
