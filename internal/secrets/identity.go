package secrets

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"io"

	kerrors "github.com/PolarWolf314/sbox/internal/errors"

	"golang.org/x/crypto/nacl/secretbox"
)

// IdentityKeyBits is the RSA modulus size of identity key pairs.
const IdentityKeyBits = 2048

// KeyExports holds an identity's keys in their persisted form.
type KeyExports struct {
	// PublicKey is the PKIX DER encoding of the public key.
	PublicKey []byte

	// PrivateKey is the PKCS#8 DER private key sealed with secretbox under the
	// password-derived wrapping key. The 24-byte nonce is prepended.
	PrivateKey []byte
}

// Identity holds one user's unwrapped key pair. It is the only place the
// private key exists in plaintext.
type Identity struct {
	publicKey  *rsa.PublicKey
	privateKey *rsa.PrivateKey
}

// InitializeIdentity generates a fresh key pair and wraps the private key
// under a key derived from password and contextInfo.
func InitializeIdentity(password []byte, contextInfo string, params KDFParams) (*Identity, *KeyExports, error) {
	wrappingKey, err := DeriveWrappingKey(password, contextInfo, params)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", kerrors.ErrKeyGeneration, err)
	}
	defer Zero(wrappingKey)

	privateKey, err := rsa.GenerateKey(rand.Reader, IdentityKeyBits)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: generating RSA key pair: %v", kerrors.ErrKeyGeneration, err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: marshaling public key: %v", kerrors.ErrKeyGeneration, err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: marshaling private key: %v", kerrors.ErrKeyGeneration, err)
	}
	defer Zero(privDER)

	sealed, err := sealWithKey(wrappingKey, privDER)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: wrapping private key: %v", kerrors.ErrKeyGeneration, err)
	}

	id := &Identity{publicKey: &privateKey.PublicKey, privateKey: privateKey}
	return id, &KeyExports{PublicKey: pubDER, PrivateKey: sealed}, nil
}

// StartIdentity re-derives the wrapping key from password, unwraps the
// persisted private key and imports both keys.
//
// Returns ErrCredential if the private key cannot be unwrapped.
func StartIdentity(password []byte, exports KeyExports, contextInfo string, params KDFParams) (*Identity, error) {
	wrappingKey, err := DeriveWrappingKey(password, contextInfo, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrCredential, err)
	}
	defer Zero(wrappingKey)

	privDER, ok := openWithKey(wrappingKey, exports.PrivateKey)
	if !ok {
		return nil, kerrors.ErrCredential
	}
	defer Zero(privDER)

	parsed, err := x509.ParsePKCS8PrivateKey(privDER)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing private key: %v", kerrors.ErrCredential, err)
	}
	privateKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA private key", kerrors.ErrCredential)
	}

	publicKey, err := ParsePublicKey(exports.PublicKey)
	if err != nil {
		return nil, err
	}
	if publicKey.N.Cmp(privateKey.N) != 0 || publicKey.E != privateKey.E {
		return nil, fmt.Errorf("%w: public key does not match private key", kerrors.ErrCredential)
	}

	return &Identity{publicKey: publicKey, privateKey: privateKey}, nil
}

// ParsePublicKey imports a PKIX DER RSA public key.
func ParsePublicKey(der []byte) (*rsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing public key: %v", kerrors.ErrDecode, err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA public key", kerrors.ErrDecode)
	}
	return rsaPub, nil
}

// PublicKey returns the identity's public key, or nil once destroyed.
func (id *Identity) PublicKey() *rsa.PublicKey {
	if id == nil {
		return nil
	}
	return id.publicKey
}

// Active reports whether the identity still holds its private key.
func (id *Identity) Active() bool {
	return id != nil && id.privateKey != nil
}

// Destroy drops the key material. Zeroing the big integers is best effort.
func (id *Identity) Destroy() {
	if id == nil || id.privateKey == nil {
		return
	}
	id.privateKey.D.SetInt64(0)
	for _, p := range id.privateKey.Primes {
		p.SetInt64(0)
	}
	id.privateKey = nil
	id.publicKey = nil
}

func sealWithKey(key, plaintext []byte) ([]byte, error) {
	var k [32]byte
	copy(k[:], key)
	defer Zero(k[:])

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &k), nil
}

func openWithKey(key, sealed []byte) ([]byte, bool) {
	if len(sealed) < 24+secretbox.Overhead {
		return nil, false
	}
	var k [32]byte
	copy(k[:], key)
	defer Zero(k[:])

	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	return secretbox.Open(nil, sealed[24:], &nonce, &k)
}
