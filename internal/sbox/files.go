package sbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	kerrors "github.com/PolarWolf314/sbox/internal/errors"
	"github.com/PolarWolf314/sbox/internal/secrets"
	"github.com/PolarWolf314/sbox/internal/storage"

	chunker "github.com/ipfs/boxo/chunker"
	"golang.org/x/sync/errgroup"
)

// transferConcurrency bounds parallel chunk uploads and blob downloads.
const transferConcurrency = 4

// File is a decrypted file.
type File struct {
	ID             string
	Name           string
	Data           []byte
	Timestamp      time.Time
	UploaderID     string
	AdditionalData json.RawMessage
}

// InsertFile encrypts data with a random nonce, uploads the ciphertext in
// chunks and stores a file record. The name is encrypted separately.
func (sb *SBox) InsertFile(ctx context.Context, caller *User, name string, data []byte, additionalData json.RawMessage) (string, error) {
	if err := caller.active(); err != nil {
		return "", err
	}
	if err := sb.ensureKey(ctx, caller); err != nil {
		return "", fmt.Errorf("inserting file into %s: %w", sb.ID, err)
	}

	ad, err := canonicalAD(additionalData)
	if err != nil {
		return "", err
	}

	ciphertext, nonce, err := caller.engine.EncryptFile(sb.ID, data, ad)
	if err != nil {
		return "", fmt.Errorf("encrypting file %s: %w", name, err)
	}
	nameCiphertext, nameNonce, err := caller.engine.EncryptFile(sb.ID, []byte(name), ad)
	if err != nil {
		return "", fmt.Errorf("encrypting file name: %w", err)
	}

	blobID, err := sb.upload(ctx, ciphertext)
	if err != nil {
		return "", fmt.Errorf("uploading file %s: %w", name, err)
	}

	ts := sb.nextTimestamp()
	content, err := encodeRecord(fileRecord{
		BlobReference:  blobID,
		UploadedAt:     formatTimestamp(ts),
		UploaderID:     caller.ID,
		Nonce:          nonce,
		PlaintextHash:  secrets.HashBytes(data),
		CipherHash:     secrets.HashBytes(ciphertext),
		NameCiphertext: base64.StdEncoding.EncodeToString(nameCiphertext),
		NameNonce:      nameNonce,
		Size:           int64(len(data)),
		AdditionalData: ad,
	})
	if err != nil {
		return "", err
	}

	doc, err := sb.client.backend.CreateDocument(ctx, &storage.Document{
		CollectionID: sb.FilesCollectionID,
		Index:        map[string]string{fieldUploaderID: caller.ID},
		Timestamp:    ts,
		Content:      content,
	})
	if err != nil {
		return "", fmt.Errorf("storing file record for %s: %w", name, err)
	}

	sb.client.log.Debugf("Inserted file %s (%d bytes) into %s", doc.ID, len(data), sb.ID)
	return doc.ID, nil
}

func (sb *SBox) upload(ctx context.Context, ciphertext []byte) (string, error) {
	backend := sb.client.backend
	uploadID, err := backend.CreateUpload(ctx, int64(len(ciphertext)))
	if err != nil {
		return "", err
	}

	splitter := chunker.NewSizeSplitter(bytes.NewReader(ciphertext), int64(sb.client.opts.ChunkSize))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(transferConcurrency)

	var offset int64
	for {
		chunk, err := splitter.NextBytes()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = g.Wait()
			return "", err
		}

		off := offset
		offset += int64(len(chunk))
		g.Go(func() error {
			return backend.UploadChunk(gctx, uploadID, off, chunk)
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	return backend.CommitUpload(ctx, uploadID)
}

// RetrieveFiles downloads and decrypts the SBox files. Each blob is checked
// against its ciphertext hash, then authenticated by AES-GCM, then checked
// against its plaintext hash. Any failure fails the whole batch with
// ErrIntegrity.
func (sb *SBox) RetrieveFiles(ctx context.Context, caller *User, opts RetrieveOptions) ([]File, error) {
	if err := caller.active(); err != nil {
		return nil, err
	}
	if err := sb.ensureKey(ctx, caller); err != nil {
		return nil, fmt.Errorf("retrieving files from %s: %w", sb.ID, err)
	}

	docs, err := sb.client.searchAll(ctx, sb.FilesCollectionID, storage.Query{Since: opts.Since})
	if err != nil {
		return nil, fmt.Errorf("retrieving files from %s: %w", sb.ID, err)
	}

	files := make([]File, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(transferConcurrency)
	for i, doc := range docs {
		g.Go(func() error {
			f, err := sb.openFile(gctx, caller, doc)
			if err != nil {
				return err
			}
			files[i] = *f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if opts.Sorted {
		sort.SliceStable(files, func(i, j int) bool {
			return files[i].Timestamp.Before(files[j].Timestamp)
		})
	}

	sb.client.log.Debugf("Retrieved %d files from %s", len(files), sb.ID)
	return files, nil
}

func (sb *SBox) openFile(ctx context.Context, caller *User, doc storage.Document) (*File, error) {
	var rec fileRecord
	if err := decodeRecord(doc, &rec); err != nil {
		return nil, err
	}
	ts, err := parseTimestamp(rec.UploadedAt)
	if err != nil {
		return nil, err
	}
	ad, err := canonicalAD(rec.AdditionalData)
	if err != nil {
		return nil, err
	}

	ciphertext, err := sb.client.backend.DownloadBlob(ctx, rec.BlobReference)
	if err != nil {
		return nil, fmt.Errorf("downloading file %s: %w", doc.ID, err)
	}
	if secrets.HashBytes(ciphertext) != rec.CipherHash {
		return nil, fmt.Errorf("file %s: %w: ciphertext hash mismatch", doc.ID, kerrors.ErrIntegrity)
	}

	data, err := caller.engine.DecryptFile(sb.ID, ciphertext, rec.Nonce, ad)
	if err != nil {
		return nil, fmt.Errorf("decrypting file %s: %w", doc.ID, err)
	}
	if secrets.HashBytes(data) != rec.PlaintextHash {
		return nil, fmt.Errorf("file %s: %w: plaintext hash mismatch", doc.ID, kerrors.ErrIntegrity)
	}

	nameCiphertext, err := base64.StdEncoding.DecodeString(rec.NameCiphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: file %s name: %v", kerrors.ErrDecode, doc.ID, err)
	}
	name, err := caller.engine.DecryptFile(sb.ID, nameCiphertext, rec.NameNonce, ad)
	if err != nil {
		return nil, fmt.Errorf("decrypting name of file %s: %w", doc.ID, err)
	}

	return &File{
		ID:             doc.ID,
		Name:           string(name),
		Data:           data,
		Timestamp:      ts,
		UploaderID:     rec.UploaderID,
		AdditionalData: json.RawMessage(ad),
	}, nil
}

// RemoveFile deletes a file record and its blob.
func (sb *SBox) RemoveFile(ctx context.Context, caller *User, fileID string) error {
	if err := caller.active(); err != nil {
		return err
	}
	backend := sb.client.backend

	doc, err := backend.GetDocument(ctx, sb.FilesCollectionID, fileID)
	if err != nil {
		return fmt.Errorf("removing file %s from %s: %w", fileID, sb.ID, err)
	}
	var rec fileRecord
	if err := decodeRecord(*doc, &rec); err != nil {
		return err
	}

	return sb.client.runSaga(ctx, "remove file "+fileID, []step{
		{"delete blob", func(ctx context.Context) error {
			err := backend.DeleteBlob(ctx, rec.BlobReference)
			if errors.Is(err, kerrors.ErrNotFound) {
				return nil
			}
			return err
		}},
		{"delete record", func(ctx context.Context) error {
			return backend.DeleteDocument(ctx, sb.FilesCollectionID, fileID)
		}},
	})
}
