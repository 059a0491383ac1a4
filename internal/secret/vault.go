package secret

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/pbkdf2"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/storage"
)

// KeyVault persists the symmetric key.
type KeyVault interface {
	Load(ctx context.Context) (jwk JWK, found bool, err error)
	// StoreIfAbsent persists jwk unless a key already exists and returns the
	// key that is persisted afterwards.
	StoreIfAbsent(ctx context.Context, jwk JWK) (JWK, error)
}

// StorageVault keeps the JWK in the local storage area.
type StorageVault struct {
	Storage storage.Store
}

func (v *StorageVault) Load(ctx context.Context) (JWK, bool, error) {
	var jwk JWK
	found, err := v.Storage.Get(ctx, storage.Local, storage.KeyEncryptionKey, &jwk)
	return jwk, found, err
}

func (v *StorageVault) StoreIfAbsent(ctx context.Context, jwk JWK) (JWK, error) {
	stored, err := v.Storage.SetIfAbsent(ctx, storage.Local, storage.KeyEncryptionKey, jwk)
	if err != nil {
		return JWK{}, err
	}
	if stored {
		return jwk, nil
	}
	// Lost the race: adopt the key that is already there.
	winner, found, err := v.Load(ctx)
	if err != nil {
		return JWK{}, err
	}
	if !found {
		return JWK{}, errors.New("encryption key vanished after conflicting write")
	}
	return winner, nil
}

const keyringService = "orchat"

// KeyringVault keeps the JWK in the OS keyring. The keyring has no
// compare-and-set, so check-then-set is only serialized within this process.
type KeyringVault struct {
	User string

	mu sync.Mutex
}

func NewKeyringVault(user string) *KeyringVault {
	if user == "" {
		user = storage.KeyEncryptionKey
	}
	return &KeyringVault{User: user}
}

func (v *KeyringVault) Load(ctx context.Context) (JWK, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.load()
}

func (v *KeyringVault) load() (JWK, bool, error) {
	raw, err := keyring.Get(keyringService, v.User)
	if errors.Is(err, keyring.ErrNotFound) {
		return JWK{}, false, nil
	}
	if err != nil {
		return JWK{}, false, fmt.Errorf("keyring get: %w", err)
	}
	var jwk JWK
	if err := json.Unmarshal([]byte(raw), &jwk); err != nil {
		return JWK{}, false, fmt.Errorf("keyring decode: %w", err)
	}
	return jwk, true, nil
}

func (v *KeyringVault) StoreIfAbsent(ctx context.Context, jwk JWK) (JWK, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	existing, found, err := v.load()
	if err != nil {
		return JWK{}, err
	}
	if found {
		return existing, nil
	}
	data, err := json.Marshal(jwk)
	if err != nil {
		return JWK{}, err
	}
	if err := keyring.Set(keyringService, v.User, string(data)); err != nil {
		return JWK{}, fmt.Errorf("keyring set: %w", err)
	}
	return jwk, nil
}

const (
	wrapScheme = "PBKDF2-SHA256+A256GCM"
	// DefaultPBKDF2Iterations is used when PassphraseVault.Iterations is zero.
	DefaultPBKDF2Iterations = 210000
	saltSize                = 16
)

// PassphraseVault seals the JWK under a passphrase-derived key before it
// reaches the inner vault.
type PassphraseVault struct {
	Inner      KeyVault
	Passphrase string
	Iterations int
}

func (v *PassphraseVault) iterations() int {
	if v.Iterations > 0 {
		return v.Iterations
	}
	return DefaultPBKDF2Iterations
}

func (v *PassphraseVault) Load(ctx context.Context) (JWK, bool, error) {
	wrapped, found, err := v.Inner.Load(ctx)
	if err != nil || !found {
		return JWK{}, found, err
	}
	jwk, err := v.unwrap(wrapped)
	if err != nil {
		return JWK{}, false, err
	}
	return jwk, true, nil
}

func (v *PassphraseVault) StoreIfAbsent(ctx context.Context, jwk JWK) (JWK, error) {
	wrapped, err := v.wrap(jwk)
	if err != nil {
		return JWK{}, err
	}
	winner, err := v.Inner.StoreIfAbsent(ctx, wrapped)
	if err != nil {
		return JWK{}, err
	}
	return v.unwrap(winner)
}

func (v *PassphraseVault) gcm(salt []byte, iter int) (cipher.AEAD, error) {
	kek := pbkdf2.Key([]byte(v.Passphrase), salt, iter, KeySize, sha256.New)
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (v *PassphraseVault) wrap(jwk JWK) (JWK, error) {
	raw, err := jwk.Key()
	if err != nil {
		return JWK{}, err
	}
	salt := make([]byte, saltSize)
	iv := make([]byte, IVSize)
	if _, err := rand.Read(salt); err != nil {
		return JWK{}, err
	}
	if _, err := rand.Read(iv); err != nil {
		return JWK{}, err
	}
	iter := v.iterations()
	gcm, err := v.gcm(salt, iter)
	if err != nil {
		return JWK{}, err
	}
	out := jwk
	out.K = base64.RawURLEncoding.EncodeToString(gcm.Seal(nil, iv, raw, nil))
	out.Wrap = wrapScheme
	out.Salt = base64.RawURLEncoding.EncodeToString(salt)
	out.IV = base64.RawURLEncoding.EncodeToString(iv)
	out.Iter = iter
	return out, nil
}

func (v *PassphraseVault) unwrap(wrapped JWK) (JWK, error) {
	if wrapped.Wrap == "" {
		logrus.Warn("encryption key is stored without passphrase protection")
		return wrapped, nil
	}
	if wrapped.Wrap != wrapScheme {
		return JWK{}, fmt.Errorf("unsupported key wrap %q", wrapped.Wrap)
	}
	if wrapped.Iter <= 0 {
		return JWK{}, fmt.Errorf("invalid key wrap iteration count %d", wrapped.Iter)
	}
	salt, err := base64.RawURLEncoding.DecodeString(wrapped.Salt)
	if err != nil {
		return JWK{}, fmt.Errorf("decode salt: %w", err)
	}
	iv, err := base64.RawURLEncoding.DecodeString(wrapped.IV)
	if err != nil {
		return JWK{}, fmt.Errorf("decode iv: %w", err)
	}
	sealed, err := base64.RawURLEncoding.DecodeString(wrapped.K)
	if err != nil {
		return JWK{}, fmt.Errorf("decode wrapped key: %w", err)
	}
	gcm, err := v.gcm(salt, wrapped.Iter)
	if err != nil {
		return JWK{}, err
	}
	if len(iv) != gcm.NonceSize() {
		return JWK{}, &DecryptionError{Err: fmt.Errorf("wrap iv length %d", len(iv))}
	}
	raw, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return JWK{}, &DecryptionError{Err: fmt.Errorf("unwrap key: %w", err)}
	}
	out := wrapped
	out.K = base64.RawURLEncoding.EncodeToString(raw)
	out.Wrap, out.Salt, out.IV, out.Iter = "", "", "", 0
	return out, nil
}
