// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the rows behind the SQL key-value
// backend.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-stay-booking/internal/domain"
)

// GetKV returns the live value stored at key, or ErrNotFound.
func GetKV(ctx context.Context, db *gorm.DB, key string, now time.Time) ([]byte, error) {
	var e domain.KVEntry
	err := db.WithContext(ctx).
		Where("key = ? AND (expires_at IS NULL OR expires_at > ?)", key, now).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return e.Value, nil
}

// PutKV upserts key. ttl <= 0 stores the value without expiry.
func PutKV(ctx context.Context, db *gorm.DB, key string, value []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	e := domain.KVEntry{Key: key, Value: value, UpdatedAt: now}
	if ttl > 0 {
		exp := now.Add(ttl)
		e.ExpiresAt = &exp
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
		}).
		Create(&e).Error
}

// DeleteKV removes key. Missing keys are not an error.
func DeleteKV(ctx context.Context, db *gorm.DB, key string) error {
	return db.WithContext(ctx).Where("key = ?", key).Delete(&domain.KVEntry{}).Error
}

// ListKVKeys returns the live keys starting with prefix in lexical order.
func ListKVKeys(ctx context.Context, db *gorm.DB, prefix string, now time.Time) ([]string, error) {
	var keys []string
	err := db.WithContext(ctx).
		Model(&domain.KVEntry{}).
		Where("substr(key, 1, ?) = ? AND (expires_at IS NULL OR expires_at > ?)", len(prefix), prefix, now).
		Order("key asc").
		Pluck("key", &keys).Error
	return keys, err
}

// PurgeExpiredKV deletes expired rows.
func PurgeExpiredKV(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now).
		Delete(&domain.KVEntry{})
	return res.RowsAffected, res.Error
}
