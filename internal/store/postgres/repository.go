package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ops/internal/inventory"
	"github.com/odyssey-erp/odyssey-ops/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ops/internal/shared"
	"github.com/odyssey-erp/odyssey-ops/internal/store"
)

// Repository persists engine data in PostgreSQL.
type Repository struct {
	pool        *pgxpool.Pool
	audit       *shared.AuditLogger
	idem        *shared.IdempotencyStore
	maxAttempts int
}

var _ store.Repository = (*Repository)(nil)

// NewRepository constructs Repository. maxAttempts bounds serialization-conflict re-runs.
func NewRepository(pool *pgxpool.Pool, maxAttempts int) *Repository {
	return &Repository{
		pool:        pool,
		audit:       shared.NewAuditLogger(pool),
		idem:        shared.NewIdempotencyStore(pool),
		maxAttempts: maxAttempts,
	}
}

// WithTx executes the callback inside a serializable transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, store.Tx) error) error {
	if r == nil || r.pool == nil {
		return errors.New("store/postgres: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, r.maxAttempts, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// Record writes an audit entry outside of any business transaction.
func (r *Repository) Record(ctx context.Context, log shared.AuditLog) error {
	return r.audit.Record(ctx, log)
}

// CleanupIdempotencyKeys drops claimed keys older than retention.
func (r *Repository) CleanupIdempotencyKeys(ctx context.Context, retention time.Duration) (int64, error) {
	return r.idem.Cleanup(ctx, retention)
}

// GetLot reads a lot without locking it.
func (r *Repository) GetLot(ctx context.Context, id uuid.UUID) (inventory.Lot, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, material_name, remaining_quantity, cost_per_unit, received_at
FROM material_intake_logs WHERE id=$1`, id)
	lot, err := scanLot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inventory.Lot{}, shared.NewNotFoundError("lot", id.String())
		}
		return inventory.Lot{}, fmt.Errorf("store/postgres: get lot: %w", err)
	}
	return lot, nil
}

func scanLot(row pgx.Row) (inventory.Lot, error) {
	var lot inventory.Lot
	err := row.Scan(&lot.ID, &lot.MaterialName, &lot.RemainingQuantity, &lot.CostPerUnit, &lot.ReceivedAt)
	return lot, err
}
