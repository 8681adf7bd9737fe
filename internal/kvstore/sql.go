package kvstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-stay-booking/internal/clock"
	"github.com/tbourn/go-stay-booking/internal/repo"
)

// SQL keeps entries in the kv_entries table.
type SQL struct {
	db    *gorm.DB
	clock clock.Clock
}

// NewSQL returns a backend over db; the table must already be migrated.
func NewSQL(db *gorm.DB, c clock.Clock) *SQL {
	if c == nil {
		c = clock.Real{}
	}
	return &SQL{db: db, clock: c}
}

func (s *SQL) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := repo.GetKV(ctx, s.db, key, s.clock.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *SQL) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return repo.PutKV(ctx, s.db, key, value, ttl)
}

func (s *SQL) Delete(ctx context.Context, key string) error {
	return repo.DeleteKV(ctx, s.db, key)
}

func (s *SQL) Keys(ctx context.Context, prefix string) ([]string, error) {
	return repo.ListKVKeys(ctx, s.db, prefix, s.clock.Now().UTC())
}

// Purge removes expired rows.
func (s *SQL) Purge(ctx context.Context) (int64, error) {
	return repo.PurgeExpiredKV(ctx, s.db, s.clock.Now().UTC())
}
