// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file persists resumable booking sessions.
//
// A session row lives from draft creation until its SessionTimer expires or
// the draft is abandoned. Rows past ExpiresAt are treated as absent by every
// read and are removed by PurgeExpiredBookingSessions.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-stay-booking/internal/domain"
)

// SaveBookingSession inserts or fully replaces the row keyed by rec.ID.
func SaveBookingSession(ctx context.Context, db *gorm.DB, rec *domain.BookingSessionRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"state", "draft", "itinerary", "payment", "transaction_id", "started_at", "expires_at", "updated_at"}),
		}).
		Create(rec).Error
}

// GetBookingSession returns the live session id owned by userID, or
// ErrNotFound when it is missing, foreign or expired at now.
func GetBookingSession(ctx context.Context, db *gorm.DB, id, userID string, now time.Time) (*domain.BookingSessionRecord, error) {
	var rec domain.BookingSessionRecord
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND expires_at > ?", id, userID, now).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetBookingSessionByTransaction returns the live session whose itinerary
// carries transactionID, whoever owns it.
func GetBookingSessionByTransaction(ctx context.Context, db *gorm.DB, transactionID string, now time.Time) (*domain.BookingSessionRecord, error) {
	if transactionID == "" {
		return nil, ErrNotFound
	}
	var rec domain.BookingSessionRecord
	err := db.WithContext(ctx).
		Where("transaction_id = ? AND expires_at > ?", transactionID, now).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListBookingSessions returns the live sessions of userID, newest first.
func ListBookingSessions(ctx context.Context, db *gorm.DB, userID string, now time.Time) ([]domain.BookingSessionRecord, error) {
	var out []domain.BookingSessionRecord
	err := db.WithContext(ctx).
		Where("user_id = ? AND expires_at > ?", userID, now).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// DeleteBookingSession removes a session. Deleting a missing row returns
// ErrNotFound.
func DeleteBookingSession(ctx context.Context, db *gorm.DB, id, userID string) error {
	res := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&domain.BookingSessionRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeExpiredBookingSessions deletes every session that expired at or
// before now and returns how many rows were removed.
func PurgeExpiredBookingSessions(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.BookingSessionRecord{})
	return res.RowsAffected, res.Error
}

// BookingSessionsStats returns the number of live sessions for userID and the
// latest UpdatedAt among them (nil when there are none).
func BookingSessionsStats(ctx context.Context, db *gorm.DB, userID string, now time.Time) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.BookingSessionRecord{}).
		Where("user_id = ? AND expires_at > ?", userID, now)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
