// Package domain defines the core data model for the application. These
// types are shared across the repository, service and HTTP layers.
package domain

import "time"

// Idempotency records the outcome of a previously processed booking submit,
// keyed by (user_id, draft_id, key). A retried submit carrying the same key
// is answered from the stored itinerary instead of calling the supplier again.
type Idempotency struct {
	ID            string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID        string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_draft_key,priority:1"`
	DraftID       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_draft_key,priority:2"`
	Key           string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_draft_key,priority:3"`
	TransactionID string    `gorm:"type:TEXT NOT NULL"`
	Status        int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt     time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt     time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
