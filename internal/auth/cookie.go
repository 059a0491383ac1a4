package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/storage"
)

// KeyCookieSecret holds the generated signing secret in the Local area.
const KeyCookieSecret = "cookie_signing_secret"

const secretSize = 32

var ErrInvalidCookie = errors.New("invalid cookie")

// Signer signs tab cookies in the format "value|signature", both base64url.
type Signer struct {
	key []byte
}

func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) < 16 {
		return nil, errors.New("cookie secret must be at least 16 bytes")
	}
	return &Signer{key: append([]byte(nil), secret...)}, nil
}

func (s *Signer) mac(value string) []byte {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(value))
	return mac.Sum(nil)
}

// Sign creates a signed cookie value.
func (s *Signer) Sign(value string) string {
	return fmt.Sprintf("%s|%s",
		base64.URLEncoding.EncodeToString([]byte(value)),
		base64.URLEncoding.EncodeToString(s.mac(value)))
}

// Verify checks a signed cookie and returns the original value.
func (s *Signer) Verify(signed string) (string, error) {
	parts := strings.Split(signed, "|")
	if len(parts) != 2 {
		return "", fmt.Errorf("%w: format", ErrInvalidCookie)
	}

	valueBytes, err := base64.URLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("%w: value encoding", ErrInvalidCookie)
	}
	signature, err := base64.URLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: signature encoding", ErrInvalidCookie)
	}

	value := string(valueBytes)
	if !hmac.Equal(signature, s.mac(value)) {
		return "", fmt.Errorf("%w: signature", ErrInvalidCookie)
	}
	return value, nil
}

// LoadOrCreateSecret returns the signing secret kept in storage, generating
// one on first use. Concurrent first calls agree on a single secret.
func LoadOrCreateSecret(ctx context.Context, st storage.Store) ([]byte, error) {
	var encoded string
	found, err := st.Get(ctx, storage.Local, KeyCookieSecret, &encoded)
	if err != nil {
		return nil, err
	}
	if !found {
		buf := make([]byte, secretSize)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate cookie secret: %w", err)
		}
		candidate := base64.StdEncoding.EncodeToString(buf)
		if _, err := st.SetIfAbsent(ctx, storage.Local, KeyCookieSecret, candidate); err != nil {
			return nil, err
		}
		if _, err := st.Get(ctx, storage.Local, KeyCookieSecret, &encoded); err != nil {
			return nil, err
		}
	}
	secret, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("stored cookie secret is corrupt: %w", err)
	}
	return secret, nil
}
