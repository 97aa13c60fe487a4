package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/PolarWolf314/sbox/internal/storage"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateGroup creates an empty access group.
func (s *Store) CreateGroup(ctx context.Context, name string) (*storage.Group, error) {
	model := &groupModel{ID: newID(), Name: name}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return nil, fmt.Errorf("creating group %q: %w", name, err)
	}
	return &storage.Group{ID: model.ID, Name: model.Name, CreatedAt: model.CreatedAt}, nil
}

// DeleteGroup removes the group, its memberships, and permissions granted to it.
func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&groupModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return notFound("group", id)
		}
		if err := tx.Where("group_id = ?", id).Delete(&memberModel{}).Error; err != nil {
			return err
		}
		return tx.Where("subject_id = ?", id).Delete(&permissionModel{}).Error
	})
}

// AddMember adds userID to the group. Adding an existing member is a no-op.
func (s *Store) AddMember(ctx context.Context, groupID, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireRow(tx, &groupModel{}, "group", groupID); err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&memberModel{GroupID: groupID, UserID: userID}).Error
	})
}

// RemoveMember removes userID from the group. Removing a non-member is a no-op.
func (s *Store) RemoveMember(ctx context.Context, groupID, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireRow(tx, &groupModel{}, "group", groupID); err != nil {
			return err
		}
		return tx.Where("group_id = ? AND user_id = ?", groupID, userID).Delete(&memberModel{}).Error
	})
}

// ListMembers returns member user ids in join order.
func (s *Store) ListMembers(ctx context.Context, groupID string) ([]string, error) {
	db := s.db.WithContext(ctx)
	if err := requireRow(db, &groupModel{}, "group", groupID); err != nil {
		return nil, err
	}

	var members []memberModel
	err := db.Where("group_id = ?", groupID).
		Order("created_at ASC, user_id ASC").
		Find(&members).Error
	if err != nil {
		return nil, fmt.Errorf("listing members of %s: %w", groupID, err)
	}

	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	return ids, nil
}

// GrantPermission records a grant. It is not enforced by this store.
func (s *Store) GrantPermission(ctx context.Context, p storage.Permission) (*storage.Permission, error) {
	actions := make([]string, len(p.Actions))
	for i, a := range p.Actions {
		actions[i] = string(a)
	}
	model := &permissionModel{
		ID:         newID(),
		ResourceID: p.ResourceID,
		SubjectID:  p.SubjectID,
		Actions:    strings.Join(actions, ","),
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return nil, fmt.Errorf("granting permission on %s: %w", p.ResourceID, err)
	}
	out := model.toStorage()
	return &out, nil
}

// RevokePermission deletes a grant by id.
func (s *Store) RevokePermission(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&permissionModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("permission", id)
	}
	return nil
}

// ListPermissions returns every grant on resourceID.
func (s *Store) ListPermissions(ctx context.Context, resourceID string) ([]storage.Permission, error) {
	var models []permissionModel
	if err := s.db.WithContext(ctx).Where("resource_id = ?", resourceID).Order("id ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing permissions on %s: %w", resourceID, err)
	}
	out := make([]storage.Permission, len(models))
	for i := range models {
		out[i] = models[i].toStorage()
	}
	return out, nil
}

func requireRow(tx *gorm.DB, model any, kind, id string) error {
	var count int64
	if err := tx.Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return notFound(kind, id)
	}
	return nil
}
