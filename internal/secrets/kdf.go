package secrets

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	// WrappingKeySize is the size of the password-derived key that wraps the private key.
	WrappingKeySize = 32

	// NonceSize is the AES-GCM nonce size used for documents and files.
	NonceSize = 12
)

// KDFParams tunes the Argon2id stretch applied to passwords before HKDF.
type KDFParams struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// DefaultKDFParams returns the parameters used when the config does not override them.
func DefaultKDFParams() KDFParams {
	return KDFParams{Time: 1, MemoryKiB: 64 * 1024, Threads: 4}
}

func (p KDFParams) normalized() KDFParams {
	d := DefaultKDFParams()
	if p.Time == 0 {
		p.Time = d.Time
	}
	if p.MemoryKiB == 0 {
		p.MemoryKiB = d.MemoryKiB
	}
	if p.Threads == 0 {
		p.Threads = d.Threads
	}
	return p
}

// DeriveWrappingKey derives the symmetric key that wraps a user's private key.
//
// The salt is SHA-256(password), so the same password always yields the same
// key without storing a salt. contextInfo is bound as HKDF info for domain
// separation between deployments or key purposes.
func DeriveWrappingKey(password []byte, contextInfo string, params KDFParams) ([]byte, error) {
	if len(password) == 0 {
		return nil, fmt.Errorf("password cannot be empty")
	}
	params = params.normalized()

	salt := sha256.Sum256(password)
	stretched := argon2.IDKey(password, salt[:], params.Time, params.MemoryKiB, params.Threads, WrappingKeySize)
	defer Zero(stretched)

	key := make([]byte, WrappingKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, stretched, salt[:], []byte(contextInfo)), key); err != nil {
		return nil, fmt.Errorf("deriving wrapping key: %w", err)
	}
	return key, nil
}

// TimestampNonce derives the 12-byte document nonce from a millisecond timestamp:
// the first 12 bytes of SHA-256 over the 8-byte big-endian value.
func TimestampNonce(timestampMillis int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(timestampMillis))
	sum := sha256.Sum256(buf[:])
	nonce := make([]byte, NonceSize)
	copy(nonce, sum[:NonceSize])
	return nonce
}

// HashBytes returns the base64 SHA-256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Zero overwrites b with zeros. Best effort only: the runtime may hold copies.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
