package secrets

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	kerrors "github.com/PolarWolf314/sbox/internal/errors"
)

// Engine performs authenticated encryption with the common keys held in a Keyring.
//
// Documents use a nonce derived from their timestamp (see TimestampNonce),
// files use a random nonce that is returned to the caller.
type Engine struct {
	keys *Keyring
}

// NewEngine returns an engine backed by keys.
func NewEngine(keys *Keyring) *Engine {
	return &Engine{keys: keys}
}

// Encrypt serializes value to JSON and seals it under the SBox common key with
// the nonce derived from timestampMillis. additionalData is authenticated but
// not encrypted. The result is base64.
func (e *Engine) Encrypt(sboxRef string, value any, timestampMillis int64, additionalData []byte) (string, error) {
	plaintext, err := marshalDocument(value)
	if err != nil {
		return "", fmt.Errorf("%w: serializing document: %v", kerrors.ErrDecode, err)
	}
	defer Zero(plaintext)

	var ciphertext []byte
	err = e.keys.withKey(sboxRef, func(key []byte) error {
		aead, err := newGCM(key)
		if err != nil {
			return err
		}
		ciphertext = aead.Seal(nil, TimestampNonce(timestampMillis), plaintext, additionalData)
		return nil
	})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt opens ciphertextB64 and unmarshals the plaintext into out.
//
// Returns ErrIntegrity if the tag does not verify (wrong key, tampered data,
// wrong timestamp or additional data) and ErrDecode for encoding problems.
func (e *Engine) Decrypt(sboxRef string, ciphertextB64 string, timestampMillis int64, additionalData []byte, out any) error {
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return fmt.Errorf("%w: ciphertext is not base64: %v", kerrors.ErrDecode, err)
	}

	var plaintext []byte
	err = e.keys.withKey(sboxRef, func(key []byte) error {
		aead, err := newGCM(key)
		if err != nil {
			return err
		}
		plaintext, err = aead.Open(nil, TimestampNonce(timestampMillis), ciphertext, additionalData)
		if err != nil {
			return kerrors.ErrIntegrity
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer Zero(plaintext)

	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("%w: deserializing document: %v", kerrors.ErrDecode, err)
	}
	return nil
}

// EncryptFile seals raw bytes with a random nonce. The nonce is returned
// base64 encoded since the receiver cannot derive it.
func (e *Engine) EncryptFile(sboxRef string, raw []byte, additionalData []byte) ([]byte, string, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, "", fmt.Errorf("%w: generating nonce: %v", kerrors.ErrEncryption, err)
	}

	var ciphertext []byte
	err := e.keys.withKey(sboxRef, func(key []byte) error {
		aead, err := newGCM(key)
		if err != nil {
			return err
		}
		ciphertext = aead.Seal(nil, nonce, raw, additionalData)
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return ciphertext, base64.StdEncoding.EncodeToString(nonce), nil
}

// DecryptFile is the counterpart of EncryptFile.
func (e *Engine) DecryptFile(sboxRef string, ciphertext []byte, ivB64 string, additionalData []byte) ([]byte, error) {
	nonce, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce is not base64: %v", kerrors.ErrDecode, err)
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes, got %d", kerrors.ErrDecode, NonceSize, len(nonce))
	}

	var plaintext []byte
	err = e.keys.withKey(sboxRef, func(key []byte) error {
		aead, err := newGCM(key)
		if err != nil {
			return err
		}
		plaintext, err = aead.Open(nil, nonce, ciphertext, additionalData)
		if err != nil {
			return kerrors.ErrIntegrity
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// marshalDocument encodes value as compact JSON without HTML escaping.
func marshalDocument(value any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrEncryption, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrEncryption, err)
	}
	return aead, nil
}
