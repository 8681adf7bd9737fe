package domain

import (
	"testing"
	"time"
)

func TestIdempotency_Migration_Indexes_AndInsert(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()
	if !m.HasIndex(&Idempotency{}, "ux_user_draft_key") {
		t.Fatalf("expected composite index ux_user_draft_key to exist")
	}

	now := time.Now().UTC()

	// --------- NOT NULL constraints, checked by inserting NULLs ----------
	names := []string{"id", "user_id", "draft_id", "key", "transaction_id", "status", "created_at", "expires_at"}
	for _, col := range names[1:] {
		vals := []any{"x-" + col, "u1", "d1", "k1", "tx-1", 200, now, now.Add(time.Hour)}
		for i, name := range names {
			if name == col {
				vals[i] = nil
			}
		}
		err := db.Exec(`INSERT INTO idempotency ("id","user_id","draft_id","key","transaction_id","status","created_at","expires_at")
		                VALUES (?,?,?,?,?,?,?,?)`, vals...).Error
		if err == nil {
			t.Fatalf("expected NOT NULL violation when inserting NULL into %q", col)
		}
	}

	// --------- Insert a valid record and read it back ----------
	rec := &Idempotency{
		ID:            "id-1",
		UserID:        "u1",
		DraftID:       "d1",
		Key:           "k1",
		TransactionID: "tx-1",
		Status:        200,
		ExpiresAt:     now.Add(time.Hour),
	}
	if err := db.Create(rec).Error; err != nil {
		t.Fatalf("insert valid: %v", err)
	}
	var got Idempotency
	if err := db.First(&got, "id = ?", "id-1").Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if got.DraftID != "d1" || got.TransactionID != "tx-1" || got.Status != 200 || got.CreatedAt.IsZero() {
		t.Fatalf("unexpected row: %+v", got)
	}

	// --------- (user_id, draft_id, key) is unique ----------
	dup := &Idempotency{ID: "id-2", UserID: "u1", DraftID: "d1", Key: "k1", TransactionID: "tx-2", Status: 200, ExpiresAt: now.Add(time.Hour)}
	if err := db.Create(dup).Error; err == nil {
		t.Fatalf("expected UNIQUE constraint violation on (user_id, draft_id, key)")
	}
	// another draft may reuse the key
	other := &Idempotency{ID: "id-3", UserID: "u1", DraftID: "d2", Key: "k1", TransactionID: "tx-3", Status: 200, ExpiresAt: now.Add(time.Hour)}
	if err := db.Create(other).Error; err != nil {
		t.Fatalf("same key on another draft: %v", err)
	}
}
