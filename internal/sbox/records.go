package sbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	kerrors "github.com/PolarWolf314/sbox/internal/errors"
	"github.com/PolarWolf314/sbox/internal/storage"
)

// timestampLayout is the persisted form of record timestamps. The backend
// rejects sub-second precision, and the document nonce is derived from the
// same whole-second value.
const timestampLayout = "2006-01-02T15:04:05Z"

// Index fields used for exact-match lookups.
const (
	fieldUserID     = "user_id"
	fieldSBoxID     = "sbox_id"
	fieldOwnerID    = "owner_id"
	fieldWriterID   = "writer_id"
	fieldUploaderID = "uploader_id"
)

// User attribute names.
const (
	attrPrivateKey = "private_key"
	attrPublicKey  = "public_key"
	attrUserInfo   = "user_info"
)

type keyRecord struct {
	UserID           string `json:"user_id"`
	WrappedCommonKey string `json:"wrapped_common_key"`
}

type documentRecord struct {
	Ciphertext     string          `json:"ciphertext"`
	CreatedAt      string          `json:"created_at"`
	WriterID       string          `json:"writer_id"`
	AdditionalData json.RawMessage `json:"additional_data"`
}

type fileRecord struct {
	BlobReference  string          `json:"blob_reference"`
	UploadedAt     string          `json:"uploaded_at"`
	UploaderID     string          `json:"uploader_id"`
	Nonce          string          `json:"nonce"`
	PlaintextHash  string          `json:"plaintext_hash"`
	CipherHash     string          `json:"cipher_hash"`
	NameCiphertext string          `json:"name_ciphertext"`
	NameNonce      string          `json:"name_nonce"`
	Size           int64           `json:"size"`
	AdditionalData json.RawMessage `json:"additional_data"`
}

type linkRecord struct {
	UserID string `json:"user_id"`
	SBoxID string `json:"sbox_id"`
}

type sboxRecord struct {
	Name                  string `json:"name"`
	OwnerID               string `json:"owner_id"`
	GroupID               string `json:"group_id"`
	DocumentsCollectionID string `json:"documents"`
	FilesCollectionID     string `json:"files"`
	KeysCollectionID      string `json:"keys"`
}

type publicKeyRecord struct {
	UserID    string `json:"user_id"`
	PublicKey string `json:"public_key"`
}

// encodeRecord marshals v without HTML escaping so embedded additional data
// is stored byte for byte.
func encodeRecord(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: encoding record: %v", kerrors.ErrDecode, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func decodeRecord(doc storage.Document, v any) error {
	if err := json.Unmarshal(doc.Content, v); err != nil {
		return fmt.Errorf("%w: record %s: %v", kerrors.ErrDecode, doc.ID, err)
	}
	return nil
}

// canonicalAD returns additional data in the exact form it will be persisted
// in, so the bytes authenticated at encryption match those read back later.
// Empty input becomes {}.
func canonicalAD(ad json.RawMessage) ([]byte, error) {
	if len(ad) == 0 {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, ad); err != nil {
		return nil, fmt.Errorf("%w: additional data is not valid JSON: %v", kerrors.ErrDecode, err)
	}
	return buf.Bytes(), nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(timestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q: %v", kerrors.ErrDecode, s, err)
	}
	return t, nil
}
