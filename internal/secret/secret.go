// Package secret keeps the OpenRouter API key encrypted at rest.
//
// The credential is sealed with AES-256-GCM under a symmetric key that is
// generated once per installation and persisted through a KeyVault. Only
// the sealed form {iv, encrypted} is ever written to storage.
package secret

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/storage"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// IVSize is the GCM nonce length in bytes.
	IVSize = 12
)

// DecryptionError reports a credential that can't be opened: the key changed
// since it was sealed, or the blob is corrupt.
type DecryptionError struct {
	Err error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decrypt credential: %v", e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// Sealed is the persisted form of an encrypted value. Both fields are
// encoded as JSON integer arrays.
type Sealed struct {
	IV        Bytes `json:"iv"`
	Encrypted Bytes `json:"encrypted"`
}

type Store struct {
	storage storage.Store
	vault   KeyVault

	// mu serializes the load-or-generate sequence inside this process;
	// the vault's StoreIfAbsent settles races with other processes.
	mu sync.Mutex
}

func New(st storage.Store, vault KeyVault) *Store {
	return &Store{storage: st, vault: vault}
}

// Init creates the symmetric key at startup so request paths never race to
// generate it.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.GetOrCreateKey(ctx)
	return err
}

// GetOrCreateKey returns the installation key, generating and persisting a
// fresh 256-bit key when none exists. Concurrent first calls all return the
// key that won the vault write.
func (s *Store) GetOrCreateKey(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jwk, found, err := s.vault.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load encryption key: %w", err)
	}
	if found {
		return jwk.Key()
	}

	raw := make([]byte, KeySize)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate encryption key: %w", err)
	}
	winner, err := s.vault.StoreIfAbsent(ctx, NewJWK(raw))
	if err != nil {
		return nil, fmt.Errorf("persist encryption key: %w", err)
	}
	logrus.Info("generated credential encryption key")
	return winner.Key()
}

func (s *Store) aead(ctx context.Context) (cipher.AEAD, error) {
	key, err := s.GetOrCreateKey(ctx)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under the installation key with a fresh random IV.
func (s *Store) Encrypt(ctx context.Context, plaintext string) (Sealed, error) {
	gcm, err := s.aead(ctx)
	if err != nil {
		return Sealed{}, err
	}
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return Sealed{}, fmt.Errorf("generate iv: %w", err)
	}
	return Sealed{
		IV:        iv,
		Encrypted: gcm.Seal(nil, iv, []byte(plaintext), nil),
	}, nil
}

// Decrypt opens a sealed value. Any failure to authenticate is returned as
// a *DecryptionError.
func (s *Store) Decrypt(ctx context.Context, sealed Sealed) (string, error) {
	gcm, err := s.aead(ctx)
	if err != nil {
		return "", err
	}
	if len(sealed.IV) != IVSize {
		return "", &DecryptionError{Err: fmt.Errorf("iv length %d", len(sealed.IV))}
	}
	plain, err := gcm.Open(nil, sealed.IV, sealed.Encrypted, nil)
	if err != nil {
		return "", &DecryptionError{Err: err}
	}
	return string(plain), nil
}

// StoreCredential encrypts the API key and persists the sealed form.
func (s *Store) StoreCredential(ctx context.Context, apiKey string) error {
	if apiKey == "" {
		return errors.New("API key is empty")
	}
	sealed, err := s.Encrypt(ctx, apiKey)
	if err != nil {
		return err
	}
	if err := s.storage.Set(ctx, storage.Local, storage.KeyCredential, sealed); err != nil {
		return err
	}
	logrus.WithField("fingerprint", Fingerprint(apiKey)).Info("stored API key")
	return nil
}

// LoadCredential returns the decrypted API key. found is false, with a nil
// error, when no credential has been stored yet.
func (s *Store) LoadCredential(ctx context.Context) (apiKey string, found bool, err error) {
	var sealed Sealed
	ok, err := s.storage.Get(ctx, storage.Local, storage.KeyCredential, &sealed)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	apiKey, err = s.Decrypt(ctx, sealed)
	if err != nil {
		return "", false, err
	}
	return apiKey, true, nil
}

func (s *Store) ClearCredential(ctx context.Context) error {
	return s.storage.Remove(ctx, storage.Local, storage.KeyCredential)
}

// Fingerprint identifies a credential in logs without revealing it.
func Fingerprint(apiKey string) string {
	if apiKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(h[:4])
}
