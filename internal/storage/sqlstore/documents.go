package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/PolarWolf314/sbox/internal/storage"

	"gorm.io/gorm"
)

// CreateCollection creates an empty collection.
func (s *Store) CreateCollection(ctx context.Context, name string) (*storage.Collection, error) {
	model := &collectionModel{ID: newID(), Name: name}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return nil, fmt.Errorf("creating collection %q: %w", name, err)
	}
	return model.toStorage(), nil
}

// EnsureCollection returns the oldest collection named name, creating one if none exists.
func (s *Store) EnsureCollection(ctx context.Context, name string) (*storage.Collection, error) {
	var model collectionModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("name = ?", name).Order("created_at ASC, id ASC").First(&model).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		model = collectionModel{ID: newID(), Name: name}
		return tx.Create(&model).Error
	})
	if err != nil {
		return nil, fmt.Errorf("ensuring collection %q: %w", name, err)
	}
	return model.toStorage(), nil
}

// DeleteCollection removes the collection, its documents, and permissions on it.
func (s *Store) DeleteCollection(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&collectionModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return notFound("collection", id)
		}
		if err := tx.Where("collection_id = ?", id).Delete(&documentIndexModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("collection_id = ?", id).Delete(&documentModel{}).Error; err != nil {
			return err
		}
		return tx.Where("resource_id = ?", id).Delete(&permissionModel{}).Error
	})
}

// CreateDocument stores doc in its collection. A zero Timestamp is set to now.
func (s *Store) CreateDocument(ctx context.Context, doc *storage.Document) (*storage.Document, error) {
	if doc.ID == "" {
		doc.ID = newID()
	}
	if doc.Timestamp.IsZero() {
		doc.Timestamp = s.now()
	}
	model := &documentModel{
		ID:              doc.ID,
		CollectionID:    doc.CollectionID,
		TimestampMillis: doc.Timestamp.UnixMilli(),
		Content:         string(doc.Content),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireRow(tx, &collectionModel{}, "collection", doc.CollectionID); err != nil {
			return err
		}
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		return writeIndex(tx, doc.CollectionID, doc.ID, doc.Index)
	})
	if err != nil {
		return nil, fmt.Errorf("creating document in %s: %w", doc.CollectionID, err)
	}

	out := model.toStorage(copyIndex(doc.Index))
	return &out, nil
}

// GetDocument loads a single document.
func (s *Store) GetDocument(ctx context.Context, collectionID, id string) (*storage.Document, error) {
	var model documentModel
	err := s.db.WithContext(ctx).
		Where("collection_id = ? AND id = ?", collectionID, id).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("document", id)
		}
		return nil, err
	}

	indexes, err := s.loadIndexes(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	out := model.toStorage(indexes[id])
	return &out, nil
}

// UpdateDocument replaces the content, timestamp, and index of an existing document.
func (s *Store) UpdateDocument(ctx context.Context, doc *storage.Document) (*storage.Document, error) {
	var model documentModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("collection_id = ? AND id = ?", doc.CollectionID, doc.ID).First(&model).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("document", doc.ID)
			}
			return err
		}

		if !doc.Timestamp.IsZero() {
			model.TimestampMillis = doc.Timestamp.UnixMilli()
		}
		model.Content = string(doc.Content)
		if err := tx.Save(&model).Error; err != nil {
			return err
		}

		if err := tx.Where("document_id = ?", doc.ID).Delete(&documentIndexModel{}).Error; err != nil {
			return err
		}
		return writeIndex(tx, doc.CollectionID, doc.ID, doc.Index)
	})
	if err != nil {
		return nil, fmt.Errorf("updating document %s: %w", doc.ID, err)
	}

	out := model.toStorage(copyIndex(doc.Index))
	return &out, nil
}

// DeleteDocument removes a document and its index entries.
func (s *Store) DeleteDocument(ctx context.Context, collectionID, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("collection_id = ? AND id = ?", collectionID, id).Delete(&documentModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return notFound("document", id)
		}
		return tx.Where("document_id = ?", id).Delete(&documentIndexModel{}).Error
	})
}

// Search returns one page of the documents in collectionID matching q.
func (s *Store) Search(ctx context.Context, collectionID string, q storage.Query) (*storage.Page, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	db := s.db.WithContext(ctx)
	query := db.Model(&documentModel{}).Where("collection_id = ?", collectionID)
	for field, value := range q.Equals {
		matching := db.Model(&documentIndexModel{}).
			Select("document_id").
			Where("collection_id = ? AND field = ? AND value = ?", collectionID, field, value)
		query = query.Where("id IN (?)", matching)
	}
	if !q.Since.IsZero() {
		query = query.Where("timestamp_millis >= ?", q.Since.UnixMilli())
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("counting documents in %s: %w", collectionID, err)
	}

	var models []documentModel
	err := query.
		Order("timestamp_millis ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("searching documents in %s: %w", collectionID, err)
	}

	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.ID
	}
	indexes, err := s.loadIndexes(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]storage.Document, len(models))
	for i := range models {
		items[i] = models[i].toStorage(indexes[models[i].ID])
	}

	return &storage.Page{
		Count:      len(items),
		Offset:     offset,
		Limit:      limit,
		TotalCount: int(total),
		Items:      items,
	}, nil
}

func (s *Store) loadIndexes(ctx context.Context, ids []string) (map[string]map[string]string, error) {
	out := make(map[string]map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []documentIndexModel
	if err := s.db.WithContext(ctx).Where("document_id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("loading document indexes: %w", err)
	}
	for _, r := range rows {
		if out[r.DocumentID] == nil {
			out[r.DocumentID] = map[string]string{}
		}
		out[r.DocumentID][r.Field] = r.Value
	}
	return out, nil
}

func writeIndex(tx *gorm.DB, collectionID, documentID string, index map[string]string) error {
	if len(index) == 0 {
		return nil
	}
	rows := make([]documentIndexModel, 0, len(index))
	for field, value := range index {
		rows = append(rows, documentIndexModel{
			DocumentID:   documentID,
			Field:        field,
			CollectionID: collectionID,
			Value:        value,
		})
	}
	return tx.Create(&rows).Error
}

func copyIndex(index map[string]string) map[string]string {
	out := make(map[string]string, len(index))
	for k, v := range index {
		out[k] = v
	}
	return out
}
