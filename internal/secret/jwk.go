package secret

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// JWK is the exportable form of the symmetric key. Wrapped keys carry the
// passphrase envelope fields and a sealed K.
type JWK struct {
	Kty    string   `json:"kty"`
	K      string   `json:"k"`
	Alg    string   `json:"alg,omitempty"`
	Ext    bool     `json:"ext,omitempty"`
	KeyOps []string `json:"key_ops,omitempty"`

	Wrap string `json:"wrap,omitempty"`
	Salt string `json:"salt,omitempty"`
	IV   string `json:"iv,omitempty"`
	Iter int    `json:"iter,omitempty"`
}

func NewJWK(raw []byte) JWK {
	return JWK{
		Kty:    "oct",
		K:      base64.RawURLEncoding.EncodeToString(raw),
		Alg:    "A256GCM",
		Ext:    true,
		KeyOps: []string{"encrypt", "decrypt"},
	}
}

// Key decodes the raw key bytes of an unwrapped JWK.
func (j JWK) Key() ([]byte, error) {
	if j.Wrap != "" {
		return nil, errors.New("jwk is still wrapped")
	}
	if j.Kty != "oct" {
		return nil, fmt.Errorf("unsupported jwk kty %q", j.Kty)
	}
	raw, err := base64.RawURLEncoding.DecodeString(j.K)
	if err != nil {
		return nil, fmt.Errorf("decode jwk: %w", err)
	}
	if len(raw) != KeySize {
		return nil, fmt.Errorf("jwk key length %d, want %d", len(raw), KeySize)
	}
	return raw, nil
}

// Bytes marshals as a JSON array of integers, the layout the credential
// blob has always been stored in.
type Bytes []byte

func (b Bytes) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(b))
	for i, v := range b {
		ints[i] = int(v)
	}
	return json.Marshal(ints)
}

func (b *Bytes) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("byte value %d out of range", v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}
