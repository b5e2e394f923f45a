package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/storeledger/internal/platform/db"
)

// ErrIdempotencyConflict indicates a key that was already processed.
var ErrIdempotencyConflict = fmt.Errorf("%w: idempotent request already processed", ErrConflict)

// IdempotencyStore persists processed request keys per tenant and module.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// Claim records key for module. It joins the transaction carried by ctx, so a
// rolled back request releases its key.
func (s *IdempotencyStore) Claim(ctx context.Context, tenantID int64, module, key string) error {
	if s == nil || (s.pool == nil && !db.InTx(ctx)) {
		return errors.New("idempotency store not initialised")
	}
	if key == "" || len(key) > 120 {
		return fmt.Errorf("%w: idempotency key must be 1-120 characters", ErrValidation)
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	return db.WithTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO idempotency_keys (tenant_id, module, key, created_at) VALUES ($1, $2, $3, $4)`,
			tenantID, module, key, time.Now())
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrIdempotencyConflict, key)
		}
		return err
	})
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
