package domain

import "time"

// BookingSessionRecord persists a booking draft so an interrupted session can
// be resumed until its timer expires. The draft and any itinerary/payment
// handoff are stored as JSON blobs; nothing else about the booking is kept.
//
// Fields:
//   - ID: draft id (UUID, char(36)).
//   - UserID: owner of the draft; indexed for lookups.
//   - State: orchestrator state at the last save.
//   - Draft: JSON-encoded BookingDraft.
//   - Itinerary / Payment: JSON-encoded handoff records, empty until created.
//   - TransactionID: itinerary transaction id, empty until created; the gateway
//     return looks sessions up by it.
//   - StartedAt: SessionTimer start, used to compute the remaining time on resume.
//   - ExpiresAt: StartedAt + max duration; expired rows are never resumed.
type BookingSessionRecord struct {
	ID            string    `json:"id"             gorm:"type:char(36);primaryKey"`
	UserID        string    `json:"user_id"        gorm:"type:varchar(64);not null;index:idx_booking_user"`
	State         string    `json:"state"          gorm:"type:varchar(16);not null"`
	Draft         string    `json:"-"              gorm:"type:text;not null"`
	Itinerary     string    `json:"-"              gorm:"type:text"`
	Payment       string    `json:"-"              gorm:"type:text"`
	TransactionID string    `json:"transaction_id" gorm:"type:varchar(64);index:idx_booking_tx"`
	StartedAt     time.Time `json:"started_at"     gorm:"not null"`
	ExpiresAt     time.Time `json:"expires_at"     gorm:"not null;index"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName returns the database table name for BookingSessionRecord.
func (BookingSessionRecord) TableName() string { return "booking_sessions" }

// KVEntry is one row of the generic key-value store (favorites and other
// client-held preferences). A nil ExpiresAt never expires.
type KVEntry struct {
	Key       string     `gorm:"type:varchar(255);primaryKey"`
	Value     []byte     `gorm:"type:blob;not null"`
	ExpiresAt *time.Time `gorm:"index"`
	UpdatedAt time.Time  `gorm:"not null"`
}

// TableName returns the database table name for KVEntry.
func (KVEntry) TableName() string { return "kv_entries" }
