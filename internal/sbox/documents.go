package sbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/PolarWolf314/sbox/internal/storage"
)

// Message is a decrypted document.
type Message struct {
	ID             string
	Data           json.RawMessage
	Timestamp      time.Time
	WriterID       string
	AdditionalData json.RawMessage
}

// RetrieveOptions filters Retrieve and RetrieveFiles.
type RetrieveOptions struct {
	// Since keeps records created at or after it. Zero lists everything.
	Since time.Time

	// Sorted orders the result by timestamp, oldest first.
	Sorted bool
}

// Insert encrypts value under the SBox common key and stores it.
//
// additionalData must be JSON (or empty). It is stored in clear and bound to
// the ciphertext, so decryption fails if it is altered.
func (sb *SBox) Insert(ctx context.Context, caller *User, value any, additionalData json.RawMessage) (string, error) {
	if err := caller.active(); err != nil {
		return "", err
	}
	if err := sb.ensureKey(ctx, caller); err != nil {
		return "", fmt.Errorf("inserting into %s: %w", sb.ID, err)
	}

	ad, err := canonicalAD(additionalData)
	if err != nil {
		return "", err
	}

	if err := sb.seedTimestamp(ctx); err != nil {
		return "", fmt.Errorf("inserting into %s: %w", sb.ID, err)
	}
	ts := sb.nextTimestamp()
	ciphertext, err := caller.engine.Encrypt(sb.ID, value, ts.UnixMilli(), ad)
	if err != nil {
		return "", fmt.Errorf("inserting into %s: %w", sb.ID, err)
	}

	content, err := encodeRecord(documentRecord{
		Ciphertext:     ciphertext,
		CreatedAt:      formatTimestamp(ts),
		WriterID:       caller.ID,
		AdditionalData: ad,
	})
	if err != nil {
		return "", err
	}

	doc, err := sb.client.backend.CreateDocument(ctx, &storage.Document{
		CollectionID: sb.DocumentsCollectionID,
		Index:        map[string]string{fieldWriterID: caller.ID},
		Timestamp:    ts,
		Content:      content,
	})
	if err != nil {
		return "", fmt.Errorf("inserting into %s: %w", sb.ID, err)
	}

	sb.client.log.Debugf("Inserted document %s into %s", doc.ID, sb.ID)
	return doc.ID, nil
}

// Retrieve pages through the SBox documents and decrypts them. Any document
// that fails to decrypt fails the whole call.
func (sb *SBox) Retrieve(ctx context.Context, caller *User, opts RetrieveOptions) ([]Message, error) {
	if err := caller.active(); err != nil {
		return nil, err
	}
	if err := sb.ensureKey(ctx, caller); err != nil {
		return nil, fmt.Errorf("retrieving from %s: %w", sb.ID, err)
	}

	docs, err := sb.client.searchAll(ctx, sb.DocumentsCollectionID, storage.Query{Since: opts.Since})
	if err != nil {
		return nil, fmt.Errorf("retrieving from %s: %w", sb.ID, err)
	}

	messages := make([]Message, 0, len(docs))
	for _, doc := range docs {
		var rec documentRecord
		if err := decodeRecord(doc, &rec); err != nil {
			return nil, err
		}
		ts, err := parseTimestamp(rec.CreatedAt)
		if err != nil {
			return nil, err
		}
		ad, err := canonicalAD(rec.AdditionalData)
		if err != nil {
			return nil, err
		}

		var data json.RawMessage
		if err := caller.engine.Decrypt(sb.ID, rec.Ciphertext, ts.UnixMilli(), ad, &data); err != nil {
			return nil, fmt.Errorf("decrypting document %s: %w", doc.ID, err)
		}

		messages = append(messages, Message{
			ID:             doc.ID,
			Data:           data,
			Timestamp:      ts,
			WriterID:       rec.WriterID,
			AdditionalData: json.RawMessage(ad),
		})
	}

	if opts.Sorted {
		sort.SliceStable(messages, func(i, j int) bool {
			return messages[i].Timestamp.Before(messages[j].Timestamp)
		})
	}

	sb.client.log.Debugf("Retrieved %d documents from %s", len(messages), sb.ID)
	return messages, nil
}

// Remove deletes a document.
func (sb *SBox) Remove(ctx context.Context, caller *User, documentID string) error {
	if err := caller.active(); err != nil {
		return err
	}
	if err := sb.client.backend.DeleteDocument(ctx, sb.DocumentsCollectionID, documentID); err != nil {
		return fmt.Errorf("removing document %s from %s: %w", documentID, sb.ID, err)
	}
	return nil
}
