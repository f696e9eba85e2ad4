package authorization

// GrantType is an OAuth 2.0 authorization grant type.
//
// Values are comparable with ==. Well-known grant types are exposed as
// package variables; any other value is a custom grant type carrying the raw
// string as received.
type GrantType struct {
	value  string
	custom bool
}

// Well-known grant types.
var (
	GrantTypeAuthorizationCode = GrantType{value: "authorization_code"}
	GrantTypeClientCredentials = GrantType{value: "client_credentials"}
	GrantTypeRefreshToken      = GrantType{value: "refresh_token"}
	GrantTypePassword          = GrantType{value: "password"}
	GrantTypeJWTBearer         = GrantType{value: "urn:ietf:params:oauth:grant-type:jwt-bearer"}
	GrantTypeDeviceCode        = GrantType{value: "urn:ietf:params:oauth:grant-type:device_code"}
	GrantTypeTokenExchange     = GrantType{value: "urn:ietf:params:oauth:grant-type:token-exchange"}
)

var wellKnownGrantTypes = []GrantType{
	GrantTypeAuthorizationCode,
	GrantTypeClientCredentials,
	GrantTypeRefreshToken,
	GrantTypePassword,
	GrantTypeJWTBearer,
	GrantTypeDeviceCode,
	GrantTypeTokenExchange,
}

// ResolveGrantType maps s to a well-known grant type, or wraps it as a custom
// grant type. The string is never validated or rejected.
func ResolveGrantType(s string) GrantType {
	for _, gt := range wellKnownGrantTypes {
		if gt.value == s {
			return gt
		}
	}
	return GrantType{value: s, custom: true}
}

// CustomGrantType wraps s as a custom grant type without consulting the
// well-known set. Prefer ResolveGrantType for values read from storage or
// requests.
func CustomGrantType(s string) GrantType {
	return GrantType{value: s, custom: true}
}

// String returns the wire value of the grant type.
func (g GrantType) String() string { return g.value }

// IsCustom reports whether g is an extension value outside the well-known set.
func (g GrantType) IsCustom() bool { return g.custom }

// IsZero reports whether g is the zero value.
func (g GrantType) IsZero() bool { return g.value == "" && !g.custom }

// MarshalText implements encoding.TextMarshaler.
func (g GrantType) MarshalText() ([]byte, error) { return []byte(g.value), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (g *GrantType) UnmarshalText(text []byte) error {
	*g = ResolveGrantType(string(text))
	return nil
}

// ClientAuthenticationMethod is the way a client authenticates at the token
// endpoint. It follows the same open-enumeration rules as GrantType.
type ClientAuthenticationMethod struct {
	value  string
	custom bool
}

// Well-known client authentication methods.
var (
	ClientAuthenticationMethodClientSecretBasic       = ClientAuthenticationMethod{value: "client_secret_basic"}
	ClientAuthenticationMethodClientSecretPost        = ClientAuthenticationMethod{value: "client_secret_post"}
	ClientAuthenticationMethodClientSecretJWT         = ClientAuthenticationMethod{value: "client_secret_jwt"}
	ClientAuthenticationMethodPrivateKeyJWT           = ClientAuthenticationMethod{value: "private_key_jwt"}
	ClientAuthenticationMethodNone                    = ClientAuthenticationMethod{value: "none"}
	ClientAuthenticationMethodTLSClientAuth           = ClientAuthenticationMethod{value: "tls_client_auth"}
	ClientAuthenticationMethodSelfSignedTLSClientAuth = ClientAuthenticationMethod{value: "self_signed_tls_client_auth"}
)

var wellKnownClientAuthenticationMethods = []ClientAuthenticationMethod{
	ClientAuthenticationMethodClientSecretBasic,
	ClientAuthenticationMethodClientSecretPost,
	ClientAuthenticationMethodClientSecretJWT,
	ClientAuthenticationMethodPrivateKeyJWT,
	ClientAuthenticationMethodNone,
	ClientAuthenticationMethodTLSClientAuth,
	ClientAuthenticationMethodSelfSignedTLSClientAuth,
}

// ResolveClientAuthenticationMethod maps s to a well-known method or wraps it
// as a custom one.
func ResolveClientAuthenticationMethod(s string) ClientAuthenticationMethod {
	for _, m := range wellKnownClientAuthenticationMethods {
		if m.value == s {
			return m
		}
	}
	return ClientAuthenticationMethod{value: s, custom: true}
}

// String returns the wire value of the method.
func (m ClientAuthenticationMethod) String() string { return m.value }

// IsCustom reports whether m is an extension value outside the well-known set.
func (m ClientAuthenticationMethod) IsCustom() bool { return m.custom }

// MarshalText implements encoding.TextMarshaler.
func (m ClientAuthenticationMethod) MarshalText() ([]byte, error) { return []byte(m.value), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *ClientAuthenticationMethod) UnmarshalText(text []byte) error {
	*m = ResolveClientAuthenticationMethod(string(text))
	return nil
}
