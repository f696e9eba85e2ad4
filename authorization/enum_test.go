package authorization

import "testing"

func TestResolveGrantType(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		want       GrantType
		wantCustom bool
	}{
		{name: "authorization code", input: "authorization_code", want: GrantTypeAuthorizationCode},
		{name: "client credentials", input: "client_credentials", want: GrantTypeClientCredentials},
		{name: "refresh token", input: "refresh_token", want: GrantTypeRefreshToken},
		{name: "password", input: "password", want: GrantTypePassword},
		{name: "jwt bearer", input: "urn:ietf:params:oauth:grant-type:jwt-bearer", want: GrantTypeJWTBearer},
		{name: "device code", input: "urn:ietf:params:oauth:grant-type:device_code", want: GrantTypeDeviceCode},
		{name: "custom", input: "my_custom_grant", want: CustomGrantType("my_custom_grant"), wantCustom: true},
		{name: "empty string is custom", input: "", want: CustomGrantType(""), wantCustom: true},
		{name: "case sensitive", input: "Password", want: CustomGrantType("Password"), wantCustom: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveGrantType(tt.input)
			if got != tt.want {
				t.Errorf("ResolveGrantType(%q) = %#v, want %#v", tt.input, got, tt.want)
			}
			if got.IsCustom() != tt.wantCustom {
				t.Errorf("IsCustom() = %v, want %v", got.IsCustom(), tt.wantCustom)
			}
			if got.String() != tt.input {
				t.Errorf("String() = %q, want %q", got.String(), tt.input)
			}
		})
	}
}

func TestResolveGrantType_CustomIsStable(t *testing.T) {
	a := ResolveGrantType("my_custom_grant")
	b := ResolveGrantType("my_custom_grant")
	if a != b {
		t.Fatalf("repeated resolution differs: %#v != %#v", a, b)
	}
	for _, known := range wellKnownGrantTypes {
		if a == known {
			t.Errorf("custom grant type equals well-known %q", known)
		}
	}
}

func TestResolveClientAuthenticationMethod(t *testing.T) {
	if got := ResolveClientAuthenticationMethod("client_secret_basic"); got != ClientAuthenticationMethodClientSecretBasic {
		t.Errorf("got %#v, want client_secret_basic", got)
	}
	if got := ResolveClientAuthenticationMethod("none"); got != ClientAuthenticationMethodNone || got.IsCustom() {
		t.Errorf("got %#v, want well-known none", got)
	}

	custom := ResolveClientAuthenticationMethod("mtls_with_magic")
	if !custom.IsCustom() {
		t.Error("expected custom method")
	}
	if custom != ResolveClientAuthenticationMethod("mtls_with_magic") {
		t.Error("custom method is not stable across resolutions")
	}
	if custom.String() != "mtls_with_magic" {
		t.Errorf("String() = %q", custom.String())
	}
}

func TestGrantType_TextRoundTrip(t *testing.T) {
	for _, gt := range []GrantType{GrantTypePassword, CustomGrantType("urn:example:grant")} {
		text, err := gt.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText() error = %v", err)
		}
		var got GrantType
		if err := got.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText() error = %v", err)
		}
		if got != gt {
			t.Errorf("round trip = %#v, want %#v", got, gt)
		}
	}
}

func TestGrantType_IsZero(t *testing.T) {
	var zero GrantType
	if !zero.IsZero() {
		t.Error("zero value should report IsZero")
	}
	if GrantTypePassword.IsZero() {
		t.Error("password should not be zero")
	}
	if CustomGrantType("").IsZero() {
		t.Error("explicit custom empty grant should not be zero")
	}
}
