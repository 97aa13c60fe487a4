package secrets

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	kerrors "github.com/PolarWolf314/sbox/internal/errors"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	ring := NewKeyring(newTestIdentity(t))
	if err := ring.Generate("box"); err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	return NewEngine(ring)
}

func TestEngine_RoundTrip(t *testing.T) {
	engine := newTestEngine(t)
	ad := []byte(`{"channel":"general"}`)

	values := []any{
		map[string]any{"title": "t", "content": "c"},
		"plain string",
		float64(42),
		[]any{"a", float64(1), true},
		nil,
	}

	for i, v := range values {
		ts := int64(1700000000000 + i*1000)
		ct, err := engine.Encrypt("box", v, ts, ad)
		if err != nil {
			t.Fatalf("Failed to encrypt value %d: %v", i, err)
		}

		var got any
		if err := engine.Decrypt("box", ct, ts, ad, &got); err != nil {
			t.Fatalf("Failed to decrypt value %d: %v", i, err)
		}

		want, _ := json.Marshal(v)
		have, _ := json.Marshal(got)
		if !bytes.Equal(want, have) {
			t.Errorf("Value %d: expected %s, got %s", i, want, have)
		}
	}
}

func TestEngine_RawDocumentBytesPreserved(t *testing.T) {
	engine := newTestEngine(t)
	doc := json.RawMessage(`{"html":"<p>a & b</p>"}`)

	ct, err := engine.Encrypt("box", doc, 1700000000000, nil)
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}
	var got json.RawMessage
	if err := engine.Decrypt("box", ct, 1700000000000, nil, &got); err != nil {
		t.Fatalf("Failed to decrypt: %v", err)
	}
	if string(got) != string(doc) {
		t.Errorf("Expected %s, got %s", doc, got)
	}
}

func TestEngine_TamperDetection(t *testing.T) {
	engine := newTestEngine(t)
	const ts = int64(1700000000000)
	ad := []byte(`{"a":1}`)

	ct, err := engine.Encrypt("box", map[string]string{"title": "t"}, ts, ad)
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}
	raw, _ := base64.StdEncoding.DecodeString(ct)

	var out any
	for i := 0; i < len(raw)*8; i += 7 {
		flipped := append([]byte(nil), raw...)
		flipped[i/8] ^= 1 << (i % 8)
		err := engine.Decrypt("box", base64.StdEncoding.EncodeToString(flipped), ts, ad, &out)
		if !errors.Is(err, kerrors.ErrIntegrity) {
			t.Fatalf("Bit %d: expected ErrIntegrity, got %v", i, err)
		}
	}

	if err := engine.Decrypt("box", ct, ts, []byte(`{"a":2}`), &out); !errors.Is(err, kerrors.ErrIntegrity) {
		t.Errorf("Expected ErrIntegrity for different additional data, got %v", err)
	}
	if err := engine.Decrypt("box", ct, ts+1000, ad, &out); !errors.Is(err, kerrors.ErrIntegrity) {
		t.Errorf("Expected ErrIntegrity for a different timestamp, got %v", err)
	}
}

func TestEngine_MissingKey(t *testing.T) {
	engine := newTestEngine(t)

	if _, err := engine.Encrypt("other", "x", 1, nil); !errors.Is(err, kerrors.ErrNoKey) {
		t.Errorf("Expected ErrNoKey, got %v", err)
	}
	var out any
	if err := engine.Decrypt("other", "AAAA", 1, nil, &out); !errors.Is(err, kerrors.ErrNoKey) {
		t.Errorf("Expected ErrNoKey, got %v", err)
	}
}

func TestEngine_DecodeErrors(t *testing.T) {
	engine := newTestEngine(t)
	var out any

	if err := engine.Decrypt("box", "%%%", 1, nil, &out); !errors.Is(err, kerrors.ErrDecode) {
		t.Errorf("Expected ErrDecode for bad base64, got %v", err)
	}

	ct, err := engine.Encrypt("box", map[string]string{"k": "v"}, 1, nil)
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}
	var wrongType []int
	if err := engine.Decrypt("box", ct, 1, nil, &wrongType); !errors.Is(err, kerrors.ErrDecode) {
		t.Errorf("Expected ErrDecode for mismatched type, got %v", err)
	}

	if _, err := engine.Encrypt("box", make(chan int), 1, nil); !errors.Is(err, kerrors.ErrDecode) {
		t.Errorf("Expected ErrDecode for unserializable value, got %v", err)
	}
}

func TestEngine_FileRoundTrip(t *testing.T) {
	engine := newTestEngine(t)
	data := bytes.Repeat([]byte("0123456789abcdef"), 4096)
	ad := []byte(`{"kind":"file"}`)

	ct, iv, err := engine.EncryptFile("box", data, ad)
	if err != nil {
		t.Fatalf("Failed to encrypt file: %v", err)
	}
	if bytes.Contains(ct, []byte("0123456789abcdef")) {
		t.Error("Ciphertext contains plaintext")
	}

	got, err := engine.DecryptFile("box", ct, iv, ad)
	if err != nil {
		t.Fatalf("Failed to decrypt file: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("Decrypted file does not match original")
	}

	ct[10] ^= 0x01
	if _, err := engine.DecryptFile("box", ct, iv, ad); !errors.Is(err, kerrors.ErrIntegrity) {
		t.Errorf("Expected ErrIntegrity for corrupted file, got %v", err)
	}
}

func TestEngine_FileNoncesAreRandom(t *testing.T) {
	engine := newTestEngine(t)

	_, iv1, err := engine.EncryptFile("box", []byte("same"), nil)
	if err != nil {
		t.Fatalf("Failed to encrypt file: %v", err)
	}
	_, iv2, err := engine.EncryptFile("box", []byte("same"), nil)
	if err != nil {
		t.Fatalf("Failed to encrypt file: %v", err)
	}
	if iv1 == iv2 {
		t.Error("Expected distinct random nonces")
	}

	if _, err := engine.DecryptFile("box", []byte("x"), base64.StdEncoding.EncodeToString([]byte("short")), nil); !errors.Is(err, kerrors.ErrDecode) {
		t.Errorf("Expected ErrDecode for short nonce, got %v", err)
	}
}
