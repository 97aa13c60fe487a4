package secrets

import (
	"errors"
	"testing"

	kerrors "github.com/PolarWolf314/sbox/internal/errors"
)

func TestInitializeAndStartIdentity(t *testing.T) {
	id, exports, err := InitializeIdentity([]byte("space3design"), "ctx", testKDF)
	if err != nil {
		t.Fatalf("Failed to initialize identity: %v", err)
	}
	if !id.Active() {
		t.Fatal("Expected a freshly initialized identity to be active")
	}
	if len(exports.PublicKey) == 0 || len(exports.PrivateKey) == 0 {
		t.Fatal("Expected both exported keys to be non-empty")
	}

	restored, err := StartIdentity([]byte("space3design"), *exports, "ctx", testKDF)
	if err != nil {
		t.Fatalf("Failed to start identity: %v", err)
	}
	if restored.PublicKey().N.Cmp(id.PublicKey().N) != 0 {
		t.Error("Restored public key does not match the generated one")
	}
	if restored.privateKey.D.Cmp(id.privateKey.D) != 0 {
		t.Error("Restored private key does not match the generated one")
	}
}

func TestStartIdentity_WrongPassword(t *testing.T) {
	_, exports, err := InitializeIdentity([]byte("space3design"), "ctx", testKDF)
	if err != nil {
		t.Fatalf("Failed to initialize identity: %v", err)
	}

	_, err = StartIdentity([]byte("wrong"), *exports, "ctx", testKDF)
	if !errors.Is(err, kerrors.ErrCredential) {
		t.Errorf("Expected ErrCredential, got %v", err)
	}

	_, err = StartIdentity([]byte("space3design"), *exports, "other-ctx", testKDF)
	if !errors.Is(err, kerrors.ErrCredential) {
		t.Errorf("Expected ErrCredential for a different context, got %v", err)
	}
}

func TestStartIdentity_CorruptedKey(t *testing.T) {
	_, exports, err := InitializeIdentity([]byte("space3design"), "ctx", testKDF)
	if err != nil {
		t.Fatalf("Failed to initialize identity: %v", err)
	}
	exports.PrivateKey[len(exports.PrivateKey)-1] ^= 0xff

	if _, err := StartIdentity([]byte("space3design"), *exports, "ctx", testKDF); !errors.Is(err, kerrors.ErrCredential) {
		t.Errorf("Expected ErrCredential for corrupted data, got %v", err)
	}

	exports.PrivateKey = []byte("short")
	if _, err := StartIdentity([]byte("space3design"), *exports, "ctx", testKDF); !errors.Is(err, kerrors.ErrCredential) {
		t.Errorf("Expected ErrCredential for truncated data, got %v", err)
	}
}

func TestIdentity_Destroy(t *testing.T) {
	id, _, err := InitializeIdentity([]byte("space3design"), "ctx", testKDF)
	if err != nil {
		t.Fatalf("Failed to initialize identity: %v", err)
	}

	id.Destroy()
	if id.Active() {
		t.Error("Expected identity to be inactive after Destroy")
	}
	if id.PublicKey() != nil {
		t.Error("Expected public key to be dropped after Destroy")
	}

	// Destroying twice is harmless.
	id.Destroy()
}
