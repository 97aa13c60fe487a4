package blobstore

import (
	"bytes"
	"context"
	"testing"

	kerrors "github.com/PolarWolf314/sbox/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func upload(t *testing.T, s *Store, data []byte, chunkSize int) string {
	t.Helper()
	ctx := context.Background()

	id, err := s.CreateUpload(ctx, int64(len(data)))
	require.NoError(t, err)

	// Send chunks back to front to check commit orders them.
	var offsets []int
	for off := 0; off < len(data); off += chunkSize {
		offsets = append(offsets, off)
	}
	for i := len(offsets) - 1; i >= 0; i-- {
		off := offsets[i]
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		require.NoError(t, s.UploadChunk(ctx, id, int64(off), data[off:end]))
	}

	blobID, err := s.CommitUpload(ctx, id)
	require.NoError(t, err)
	return blobID
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	data := bytes.Repeat([]byte("abcdefghij"), 10_000)

	blobID := upload(t, s, data, 4096)

	got, err := s.DownloadBlob(context.Background(), blobID)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestUploadDownload_OnDiskLargeChunks(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	// Chunks above badger's value threshold live in the value log.
	data := make([]byte, 3<<20+5)
	for i := range data {
		data[i] = byte(i % 251)
	}

	for _, chunkSize := range []int{256 << 10, 2 << 20} {
		blobID := upload(t, s, data, chunkSize)
		got, err := s.DownloadBlob(context.Background(), blobID)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(data, got), "chunk size %d", chunkSize)
	}
}

func TestEmptyBlob(t *testing.T) {
	s := newTestStore(t)
	blobID := upload(t, s, nil, 1)

	got, err := s.DownloadBlob(context.Background(), blobID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCommitUpload_Incomplete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateUpload(ctx, 10)
	require.NoError(t, err)
	require.NoError(t, s.UploadChunk(ctx, id, 0, []byte("abc")))
	require.NoError(t, s.UploadChunk(ctx, id, 5, []byte("fghij")))

	_, err = s.CommitUpload(ctx, id)
	require.ErrorIs(t, err, kerrors.ErrUploadIncomplete)

	require.NoError(t, s.UploadChunk(ctx, id, 3, []byte("de")))
	_, err = s.CommitUpload(ctx, id)
	require.NoError(t, err)

	// The upload is closed once committed.
	require.ErrorIs(t, s.UploadChunk(ctx, id, 0, []byte("x")), kerrors.ErrNotFound)
}

func TestUploadChunk_OutOfBounds(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateUpload(ctx, 4)
	require.NoError(t, err)
	assert.Error(t, s.UploadChunk(ctx, id, 2, []byte("abc")))
	assert.Error(t, s.UploadChunk(ctx, id, -1, []byte("a")))
	assert.ErrorIs(t, s.UploadChunk(ctx, "missing", 0, []byte("a")), kerrors.ErrNotFound)
}

func TestDeleteBlob(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	blobID := upload(t, s, []byte("payload"), 3)

	require.NoError(t, s.DeleteBlob(ctx, blobID))

	_, err := s.DownloadBlob(ctx, blobID)
	require.ErrorIs(t, err, kerrors.ErrNotFound)
	require.ErrorIs(t, s.DeleteBlob(ctx, blobID), kerrors.ErrNotFound)
}

func TestCanceledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.CreateUpload(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
}
