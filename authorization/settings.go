package authorization

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// Client settings keys.
const (
	SettingRequireProofKey                             = "settings.client.require-proof-key"
	SettingRequireAuthorizationConsent                 = "settings.client.require-authorization-consent"
	SettingJWKSetURL                                   = "settings.client.jwk-set-url"
	SettingTokenEndpointAuthenticationSigningAlgorithm = "settings.client.token-endpoint-authentication-signing-algorithm"
	SettingX509CertificateSubjectDN                    = "settings.client.x509-certificate-subject-dn"
)

// Token settings keys.
const (
	SettingAuthorizationCodeTimeToLive      = "settings.token.authorization-code-time-to-live"
	SettingAccessTokenTimeToLive            = "settings.token.access-token-time-to-live"
	SettingAccessTokenFormat                = "settings.token.access-token-format"
	SettingDeviceCodeTimeToLive             = "settings.token.device-code-time-to-live"
	SettingReuseRefreshTokens               = "settings.token.reuse-refresh-tokens"
	SettingRefreshTokenTimeToLive           = "settings.token.refresh-token-time-to-live"
	SettingIDTokenSignatureAlgorithm        = "settings.token.id-token-signature-algorithm"
	SettingX509CertificateBoundAccessTokens = "settings.token.x509-certificate-bound-access-tokens"
)

// Access token formats.
const (
	AccessTokenFormatSelfContained = "self-contained"
	AccessTokenFormatReference     = "reference"
)

// ClientSettings holds per-client behaviour switches. Keys this package does
// not know about are preserved in Extra.
type ClientSettings struct {
	RequireProofKey                             bool
	RequireAuthorizationConsent                 bool
	JWKSetURL                                   string
	TokenEndpointAuthenticationSigningAlgorithm string
	X509CertificateSubjectDN                    string
	Extra                                       map[string]any
}

// DefaultClientSettings returns the settings applied to a client that has none.
func DefaultClientSettings() ClientSettings {
	return ClientSettings{}
}

// ToMap returns the storable form of s. It is the exact inverse of
// ClientSettingsFromMap.
func (s ClientSettings) ToMap() map[string]any {
	m := make(map[string]any, len(s.Extra)+5)
	maps.Copy(m, s.Extra)
	m[SettingRequireProofKey] = s.RequireProofKey
	m[SettingRequireAuthorizationConsent] = s.RequireAuthorizationConsent
	if s.JWKSetURL != "" {
		m[SettingJWKSetURL] = s.JWKSetURL
	}
	if s.TokenEndpointAuthenticationSigningAlgorithm != "" {
		m[SettingTokenEndpointAuthenticationSigningAlgorithm] = s.TokenEndpointAuthenticationSigningAlgorithm
	}
	if s.X509CertificateSubjectDN != "" {
		m[SettingX509CertificateSubjectDN] = s.X509CertificateSubjectDN
	}
	return m
}

// ClientSettingsFromMap builds ClientSettings from its storable form.
func ClientSettingsFromMap(m map[string]any) (ClientSettings, error) {
	s := DefaultClientSettings()
	extra := maps.Clone(m)
	var err error

	if s.RequireProofKey, err = takeBool(extra, SettingRequireProofKey, s.RequireProofKey); err != nil {
		return ClientSettings{}, err
	}
	if s.RequireAuthorizationConsent, err = takeBool(extra, SettingRequireAuthorizationConsent, s.RequireAuthorizationConsent); err != nil {
		return ClientSettings{}, err
	}
	if s.JWKSetURL, err = takeString(extra, SettingJWKSetURL, s.JWKSetURL); err != nil {
		return ClientSettings{}, err
	}
	if s.TokenEndpointAuthenticationSigningAlgorithm, err = takeString(extra, SettingTokenEndpointAuthenticationSigningAlgorithm, ""); err != nil {
		return ClientSettings{}, err
	}
	if s.X509CertificateSubjectDN, err = takeString(extra, SettingX509CertificateSubjectDN, ""); err != nil {
		return ClientSettings{}, err
	}

	if len(extra) > 0 {
		s.Extra = extra
	}
	return s, nil
}

// TokenSettings controls the lifetime and shape of tokens issued to a client.
type TokenSettings struct {
	AuthorizationCodeTimeToLive      time.Duration
	AccessTokenTimeToLive            time.Duration
	AccessTokenFormat                string
	DeviceCodeTimeToLive             time.Duration
	ReuseRefreshTokens               bool
	RefreshTokenTimeToLive           time.Duration
	IDTokenSignatureAlgorithm        string
	X509CertificateBoundAccessTokens bool
	Extra                            map[string]any
}

// DefaultTokenSettings returns the settings applied to a client that has none.
func DefaultTokenSettings() TokenSettings {
	return TokenSettings{
		AuthorizationCodeTimeToLive: 5 * time.Minute,
		AccessTokenTimeToLive:       5 * time.Minute,
		AccessTokenFormat:           AccessTokenFormatSelfContained,
		DeviceCodeTimeToLive:        5 * time.Minute,
		ReuseRefreshTokens:          true,
		RefreshTokenTimeToLive:      60 * time.Minute,
		IDTokenSignatureAlgorithm:   "RS256",
	}
}

// ToMap returns the storable form of s. Durations are written as seconds.
func (s TokenSettings) ToMap() map[string]any {
	m := make(map[string]any, len(s.Extra)+8)
	maps.Copy(m, s.Extra)
	m[SettingAuthorizationCodeTimeToLive] = s.AuthorizationCodeTimeToLive.Seconds()
	m[SettingAccessTokenTimeToLive] = s.AccessTokenTimeToLive.Seconds()
	m[SettingAccessTokenFormat] = s.AccessTokenFormat
	m[SettingDeviceCodeTimeToLive] = s.DeviceCodeTimeToLive.Seconds()
	m[SettingReuseRefreshTokens] = s.ReuseRefreshTokens
	m[SettingRefreshTokenTimeToLive] = s.RefreshTokenTimeToLive.Seconds()
	m[SettingIDTokenSignatureAlgorithm] = s.IDTokenSignatureAlgorithm
	m[SettingX509CertificateBoundAccessTokens] = s.X509CertificateBoundAccessTokens
	return m
}

// TokenSettingsFromMap builds TokenSettings from its storable form. Missing
// keys fall back to DefaultTokenSettings.
func TokenSettingsFromMap(m map[string]any) (TokenSettings, error) {
	s := DefaultTokenSettings()
	extra := maps.Clone(m)
	var err error

	if s.AuthorizationCodeTimeToLive, err = takeDuration(extra, SettingAuthorizationCodeTimeToLive, s.AuthorizationCodeTimeToLive); err != nil {
		return TokenSettings{}, err
	}
	if s.AccessTokenTimeToLive, err = takeDuration(extra, SettingAccessTokenTimeToLive, s.AccessTokenTimeToLive); err != nil {
		return TokenSettings{}, err
	}
	if s.AccessTokenFormat, err = takeString(extra, SettingAccessTokenFormat, s.AccessTokenFormat); err != nil {
		return TokenSettings{}, err
	}
	if s.DeviceCodeTimeToLive, err = takeDuration(extra, SettingDeviceCodeTimeToLive, s.DeviceCodeTimeToLive); err != nil {
		return TokenSettings{}, err
	}
	if s.ReuseRefreshTokens, err = takeBool(extra, SettingReuseRefreshTokens, s.ReuseRefreshTokens); err != nil {
		return TokenSettings{}, err
	}
	if s.RefreshTokenTimeToLive, err = takeDuration(extra, SettingRefreshTokenTimeToLive, s.RefreshTokenTimeToLive); err != nil {
		return TokenSettings{}, err
	}
	if s.IDTokenSignatureAlgorithm, err = takeString(extra, SettingIDTokenSignatureAlgorithm, s.IDTokenSignatureAlgorithm); err != nil {
		return TokenSettings{}, err
	}
	if s.X509CertificateBoundAccessTokens, err = takeBool(extra, SettingX509CertificateBoundAccessTokens, s.X509CertificateBoundAccessTokens); err != nil {
		return TokenSettings{}, err
	}

	if len(extra) > 0 {
		s.Extra = extra
	}
	return s, nil
}

// takeBool removes key from m and returns its value, or def when absent.
func takeBool(m map[string]any, key string, def bool) (bool, error) {
	v, ok := m[key]
	if !ok {
		return def, nil
	}
	delete(m, key)
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("setting %s: expected bool, got %T", key, v)
	}
	return b, nil
}

func takeString(m map[string]any, key, def string) (string, error) {
	v, ok := m[key]
	if !ok {
		return def, nil
	}
	delete(m, key)
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("setting %s: expected string, got %T", key, v)
	}
	return s, nil
}

// takeDuration accepts seconds as a JSON number or a Go duration string.
func takeDuration(m map[string]any, key string, def time.Duration) (time.Duration, error) {
	v, ok := m[key]
	if !ok {
		return def, nil
	}
	delete(m, key)

	switch d := v.(type) {
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	case int:
		return time.Duration(d) * time.Second, nil
	case int64:
		return time.Duration(d) * time.Second, nil
	case json.Number:
		f, err := d.Float64()
		if err != nil {
			return 0, fmt.Errorf("setting %s: %w", key, err)
		}
		return time.Duration(f * float64(time.Second)), nil
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, fmt.Errorf("setting %s: %w", key, err)
		}
		return parsed, nil
	case time.Duration:
		return d, nil
	default:
		return 0, fmt.Errorf("setting %s: expected duration, got %T", key, v)
	}
}
