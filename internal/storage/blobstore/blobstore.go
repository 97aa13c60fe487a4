// Package blobstore implements chunked blob storage on badger.
//
// Key layout:
//
//	upload/<uploadID>          declared size of an open upload
//	chunk/<uploadID>/<offset>  chunk bytes, offset as 16 hex digits
//	blob/<blobID>              blobMeta of a committed upload
//
// Chunks are never copied on commit: the blob record points at the upload's
// chunk prefix.
package blobstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	kerrors "github.com/PolarWolf314/sbox/internal/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Store is a badger-backed storage.Blobs.
type Store struct {
	db *badger.DB
}

type blobMeta struct {
	UploadID string  `json:"upload_id"`
	Size     int64   `json:"size"`
	Offsets  []int64 `json:"offsets"`
}

// Open opens the blob store at path. An empty path keeps everything in memory.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening blob store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateUpload reserves an upload of size bytes.
func (s *Store) CreateUpload(ctx context.Context, size int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if size < 0 {
		return "", fmt.Errorf("invalid upload size %d", size)
	}

	id := uuid.New().String()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(size))

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(uploadKey(id), buf[:])
	})
	if err != nil {
		return "", fmt.Errorf("creating upload: %w", err)
	}
	return id, nil
}

// UploadChunk stores data at offset. Re-sending the same offset replaces it.
func (s *Store) UploadChunk(ctx context.Context, uploadID string, offset int64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		size, err := uploadSize(txn, uploadID)
		if err != nil {
			return err
		}
		if offset < 0 || offset+int64(len(data)) > size {
			return fmt.Errorf("chunk [%d, %d) outside upload of %d bytes", offset, offset+int64(len(data)), size)
		}
		return txn.Set(chunkKey(uploadID, offset), data)
	})
}

// CommitUpload closes the upload and publishes it as a blob.
//
// Returns ErrUploadIncomplete unless the chunks cover the declared size
// exactly, without gaps or overlaps.
func (s *Store) CommitUpload(ctx context.Context, uploadID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	blobID := uuid.New().String()
	err := s.db.Update(func(txn *badger.Txn) error {
		size, err := uploadSize(txn, uploadID)
		if err != nil {
			return err
		}

		spans, err := chunkSpans(txn, uploadID)
		if err != nil {
			return err
		}

		var covered int64
		offsets := make([]int64, 0, len(spans))
		for _, sp := range spans {
			if sp.offset != covered {
				return fmt.Errorf("%w: expected chunk at %d, found %d", kerrors.ErrUploadIncomplete, covered, sp.offset)
			}
			covered += sp.length
			offsets = append(offsets, sp.offset)
		}
		if covered != size {
			return fmt.Errorf("%w: %d of %d bytes uploaded", kerrors.ErrUploadIncomplete, covered, size)
		}

		meta, err := json.Marshal(blobMeta{UploadID: uploadID, Size: size, Offsets: offsets})
		if err != nil {
			return err
		}
		if err := txn.Set(blobKey(blobID), meta); err != nil {
			return err
		}
		return txn.Delete(uploadKey(uploadID))
	})
	if err != nil {
		return "", fmt.Errorf("committing upload %s: %w", uploadID, err)
	}
	return blobID, nil
}

// DownloadBlob returns the full contents of a committed blob.
func (s *Store) DownloadBlob(ctx context.Context, blobID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		meta, err := readMeta(txn, blobID)
		if err != nil {
			return err
		}

		out = make([]byte, 0, meta.Size)
		for _, off := range meta.Offsets {
			item, err := txn.Get(chunkKey(meta.UploadID, off))
			if err != nil {
				return fmt.Errorf("reading chunk %d: %w", off, err)
			}
			err = item.Value(func(val []byte) error {
				out = append(out, val...)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteBlob removes a blob and its chunks.
func (s *Store) DeleteBlob(ctx context.Context, blobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var meta *blobMeta
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		meta, err = readMeta(txn, blobID)
		if err != nil {
			return err
		}
		return txn.Delete(blobKey(blobID))
	})
	if err != nil {
		return err
	}
	return s.db.DropPrefix(chunkPrefix(meta.UploadID))
}

func uploadSize(txn *badger.Txn, uploadID string) (int64, error) {
	item, err := txn.Get(uploadKey(uploadID))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, fmt.Errorf("upload %s: %w", uploadID, kerrors.ErrNotFound)
		}
		return 0, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	if len(val) != 8 {
		return 0, fmt.Errorf("upload %s: corrupt size record", uploadID)
	}
	return int64(binary.BigEndian.Uint64(val)), nil
}

func readMeta(txn *badger.Txn, blobID string) (*blobMeta, error) {
	item, err := txn.Get(blobKey(blobID))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("blob %s: %w", blobID, kerrors.ErrNotFound)
		}
		return nil, err
	}
	var meta blobMeta
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &meta)
	})
	if err != nil {
		return nil, fmt.Errorf("blob %s: %w", blobID, err)
	}
	return &meta, nil
}

type span struct {
	offset int64
	length int64
}

func chunkSpans(txn *badger.Txn, uploadID string) ([]span, error) {
	prefix := chunkPrefix(uploadID)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	var spans []span
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		off, err := strconv.ParseInt(strings.TrimPrefix(string(item.Key()), string(prefix)), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt chunk key %q", item.Key())
		}
		// ValueSize is only an estimate for values kept in the value log.
		var length int64
		if err := item.Value(func(val []byte) error {
			length = int64(len(val))
			return nil
		}); err != nil {
			return nil, fmt.Errorf("reading chunk %d: %w", off, err)
		}
		spans = append(spans, span{offset: off, length: length})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].offset < spans[j].offset })
	return spans, nil
}

func uploadKey(id string) []byte { return []byte("upload/" + id) }

func blobKey(id string) []byte { return []byte("blob/" + id) }

func chunkPrefix(uploadID string) []byte { return []byte("chunk/" + uploadID + "/") }

func chunkKey(uploadID string, offset int64) []byte {
	return []byte(fmt.Sprintf("chunk/%s/%016x", uploadID, offset))
}
