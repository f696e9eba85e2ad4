// Package codec converts string-keyed attribute maps (token metadata, ID token
// claims, authorization attributes, client and token settings) to and from the
// text form kept in storage.
//
// The text form is a JSON object. Numbers decode as float64, so a map holding
// only JSON-native values survives Encode followed by Decode unchanged.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/giantswarm/oauth-authz/security"
)

// ErrDecode is returned when stored text cannot be turned back into a map.
// Callers treat it as fatal: corrupt persisted state is never partially applied.
var ErrDecode = errors.New("codec: failed to decode stored map")

// Encode returns the text form of m. A nil map encodes as "{}".
func Encode(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("codec: failed to encode map: %w", err)
	}
	return string(b), nil
}

// Decode parses text produced by Encode. Empty text decodes to an empty map.
func Decode(text string) (map[string]any, error) {
	if text == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// Codec encodes maps and optionally seals the result with AES-256-GCM before
// it reaches storage. The zero value does not encrypt.
type Codec struct {
	encryptor *security.Encryptor
}

// New returns a Codec sealing with enc. A nil or disabled encryptor leaves
// text in the clear.
func New(enc *security.Encryptor) *Codec {
	return &Codec{encryptor: enc}
}

func (c *Codec) sealing() bool {
	return c != nil && c.encryptor != nil && c.encryptor.IsEnabled()
}

// Encode returns the storable form of m.
func (c *Codec) Encode(m map[string]any) (string, error) {
	text, err := Encode(m)
	if err != nil || !c.sealing() {
		return text, err
	}
	sealed, err := c.encryptor.Encrypt(text)
	if err != nil {
		return "", fmt.Errorf("codec: %w", err)
	}
	return sealed, nil
}

// Decode reverses Encode. A value that fails authentication is reported as
// ErrDecode like any other corrupt text.
func (c *Codec) Decode(text string) (map[string]any, error) {
	if text == "" || !c.sealing() {
		return Decode(text)
	}
	plain, err := c.encryptor.Decrypt(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return Decode(plain)
}
