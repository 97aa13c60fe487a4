package secrets

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync"

	kerrors "github.com/PolarWolf314/sbox/internal/errors"
)

// CommonKeySize is the size of an SBox common key (AES-256).
const CommonKeySize = 32

// Keyring is the ownership table of unwrapped SBox common keys, indexed by
// SBox id. A missing entry means "not unwrapped yet", not "does not exist".
type Keyring struct {
	identity *Identity

	mu   sync.RWMutex
	keys map[string][]byte
}

// NewKeyring returns an empty keyring that wraps and unwraps with identity.
func NewKeyring(identity *Identity) *Keyring {
	return &Keyring{identity: identity, keys: make(map[string][]byte)}
}

// CreateSymmetricKey generates a new random common key.
func CreateSymmetricKey() ([]byte, error) {
	key := make([]byte, CommonKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrKeyGeneration, err)
	}
	return key, nil
}

// Generate creates a fresh common key for sboxRef. Used only at SBox creation.
func (k *Keyring) Generate(sboxRef string) error {
	key, err := CreateSymmetricKey()
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if old, ok := k.keys[sboxRef]; ok {
		Zero(old)
	}
	k.keys[sboxRef] = key
	return nil
}

// HasKey reports whether the common key for sboxRef is cached.
func (k *Keyring) HasKey(sboxRef string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.keys[sboxRef]
	return ok
}

// Wrap encrypts the cached key for sboxRef with RSA-OAEP (SHA-256) and returns
// it base64 encoded. A nil recipient wraps for the keyring's own identity.
//
// Returns ErrNoKey if the key is not cached.
func (k *Keyring) Wrap(sboxRef string, recipient *rsa.PublicKey) (string, error) {
	if recipient == nil {
		recipient = k.identity.PublicKey()
	}
	if recipient == nil {
		return "", kerrors.ErrNotLoggedIn
	}

	k.mu.RLock()
	key, ok := k.keys[sboxRef]
	k.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("wrapping key for sbox %s: %w", sboxRef, kerrors.ErrNoKey)
	}

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, recipient, key, nil)
	if err != nil {
		return "", fmt.Errorf("%w: wrapping common key: %v", kerrors.ErrEncryption, err)
	}
	return base64.StdEncoding.EncodeToString(wrapped), nil
}

// Unwrap decrypts wrappedKeyB64 with the identity's private key and caches
// the result under sboxRef. It is a no-op if the key is already cached.
func (k *Keyring) Unwrap(sboxRef string, wrappedKeyB64 string) error {
	if k.HasKey(sboxRef) {
		return nil
	}
	if !k.identity.Active() {
		return kerrors.ErrNotLoggedIn
	}

	wrapped, err := base64.StdEncoding.DecodeString(wrappedKeyB64)
	if err != nil {
		return fmt.Errorf("%w: wrapped key is not base64: %v", kerrors.ErrDecode, err)
	}

	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, k.identity.privateKey, wrapped, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", kerrors.ErrKeyUnwrap, err)
	}
	if len(key) != CommonKeySize {
		Zero(key)
		return fmt.Errorf("%w: unexpected key length %d", kerrors.ErrKeyUnwrap, len(key))
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.keys[sboxRef]; ok {
		Zero(key)
		return nil
	}
	k.keys[sboxRef] = key
	return nil
}

// Evict drops the cached key for sboxRef.
func (k *Keyring) Evict(sboxRef string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if key, ok := k.keys[sboxRef]; ok {
		Zero(key)
		delete(k.keys, sboxRef)
	}
}

// Purge drops every cached key.
func (k *Keyring) Purge() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for ref, key := range k.keys {
		Zero(key)
		delete(k.keys, ref)
	}
}

// withKey runs fn with the cached key for sboxRef while holding the read lock.
func (k *Keyring) withKey(sboxRef string, fn func(key []byte) error) error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[sboxRef]
	if !ok {
		return fmt.Errorf("sbox %s: %w", sboxRef, kerrors.ErrNoKey)
	}
	return fn(key)
}
