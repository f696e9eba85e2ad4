package authorization

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestTokenSettings_MapRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		settings TokenSettings
	}{
		{name: "defaults", settings: DefaultTokenSettings()},
		{
			name: "custom",
			settings: TokenSettings{
				AuthorizationCodeTimeToLive:      time.Minute,
				AccessTokenTimeToLive:            30 * time.Minute,
				AccessTokenFormat:                AccessTokenFormatReference,
				DeviceCodeTimeToLive:             10 * time.Minute,
				ReuseRefreshTokens:               false,
				RefreshTokenTimeToLive:           24 * time.Hour,
				IDTokenSignatureAlgorithm:        "ES256",
				X509CertificateBoundAccessTokens: true,
				Extra:                            map[string]any{"settings.token.custom": "x"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TokenSettingsFromMap(tt.settings.ToMap())
			if err != nil {
				t.Fatalf("TokenSettingsFromMap() error = %v", err)
			}
			if diff := cmp.Diff(tt.settings, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTokenSettingsFromMap_Defaults(t *testing.T) {
	got, err := TokenSettingsFromMap(nil)
	if err != nil {
		t.Fatalf("TokenSettingsFromMap(nil) error = %v", err)
	}
	if diff := cmp.Diff(DefaultTokenSettings(), got); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestTokenSettingsFromMap_DurationForms(t *testing.T) {
	got, err := TokenSettingsFromMap(map[string]any{
		SettingAccessTokenTimeToLive:  float64(600),
		SettingRefreshTokenTimeToLive: "2h",
		SettingDeviceCodeTimeToLive:   120,
	})
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if got.AccessTokenTimeToLive != 10*time.Minute {
		t.Errorf("AccessTokenTimeToLive = %v", got.AccessTokenTimeToLive)
	}
	if got.RefreshTokenTimeToLive != 2*time.Hour {
		t.Errorf("RefreshTokenTimeToLive = %v", got.RefreshTokenTimeToLive)
	}
	if got.DeviceCodeTimeToLive != 2*time.Minute {
		t.Errorf("DeviceCodeTimeToLive = %v", got.DeviceCodeTimeToLive)
	}
}

func TestTokenSettingsFromMap_WrongType(t *testing.T) {
	if _, err := TokenSettingsFromMap(map[string]any{SettingReuseRefreshTokens: "yes"}); err == nil {
		t.Error("expected error for non-bool reuse flag")
	}
	if _, err := TokenSettingsFromMap(map[string]any{SettingAccessTokenTimeToLive: "soon"}); err == nil {
		t.Error("expected error for unparsable duration")
	}
}

func TestClientSettings_MapRoundTrip(t *testing.T) {
	settings := ClientSettings{
		RequireProofKey:             true,
		RequireAuthorizationConsent: true,
		JWKSetURL:                   "https://client.example.com/jwks",
		TokenEndpointAuthenticationSigningAlgorithm: "RS256",
		Extra: map[string]any{"settings.client.tenant": "acme"},
	}

	got, err := ClientSettingsFromMap(settings.ToMap())
	if err != nil {
		t.Fatalf("ClientSettingsFromMap() error = %v", err)
	}
	if diff := cmp.Diff(settings, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	empty, err := ClientSettingsFromMap(map[string]any{})
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if diff := cmp.Diff(DefaultClientSettings(), empty); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}
