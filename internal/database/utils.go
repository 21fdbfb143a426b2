package database

import (
	"context"

	"gorm.io/gorm"
)

// CreateEntity creates a record for the provided entity type.
func CreateEntity[T any](ctx context.Context, db *gorm.DB, entity *T) error {
	return db.WithContext(ctx).Create(entity).Error
}

// GetEntityByID returns a single record of type T by its primary key id.
// A missing row surfaces as gorm.ErrRecordNotFound.
func GetEntityByID[T any, ID comparable](ctx context.Context, db *gorm.DB, id ID) (*T, error) {
	var out T
	if err := db.WithContext(ctx).First(&out, id).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

// ListEntities returns every record of type T ordered by primary key.
func ListEntities[T any](ctx context.Context, db *gorm.DB) ([]T, error) {
	out := make([]T, 0)
	if err := db.WithContext(ctx).Order("id").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateEntityByID updates columns of type T where primary key equals id.
// Pass a non-empty updates map; values set to nil will be written as NULL.
// It returns gorm.ErrRecordNotFound when no row matched.
func UpdateEntityByID[T any, ID comparable](ctx context.Context, db *gorm.DB, id ID, updates map[string]interface{}) error {
	var zero T
	res := db.WithContext(ctx).Model(&zero).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteEntityByID deletes a record of type T by its primary key id.
// It returns gorm.ErrRecordNotFound when no row matched.
func DeleteEntityByID[T any, ID comparable](ctx context.Context, db *gorm.DB, id ID) error {
	var zero T
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&zero)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// WithTx runs fn within a transaction.
func WithTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	return db.WithContext(ctx).Transaction(fn)
}
