package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"ledger-core/internal/idempotency"
)

// idempotencyRepository stores cached responses in PostgreSQL.
type idempotencyRepository struct {
	db     SQLExecutor
	logger *slog.Logger
	now    func() time.Time
}

func NewIdempotencyRepository(db SQLExecutor, logger *slog.Logger) idempotency.RecordStore {
	return &idempotencyRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

func (r *idempotencyRepository) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	query := `
		SELECT id, key, response, created_at, expires_at
		FROM idempotency_records WHERE key = $1 AND expires_at > $2
	`

	var rec idempotency.Record
	err := r.db.QueryRowContext(ctx, query, key, r.now()).Scan(
		&rec.ID, &rec.Key, &rec.Response, &rec.CreatedAt, &rec.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency record %s: %w", key, err)
	}
	return &rec, nil
}

// Save keeps the first record for a key. An expired record is replaced.
func (r *idempotencyRepository) Save(ctx context.Context, record *idempotency.Record) error {
	query := `
		INSERT INTO idempotency_records (id, key, response, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE
		SET id = EXCLUDED.id, response = EXCLUDED.response,
			created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
		WHERE idempotency_records.expires_at <= EXCLUDED.created_at
	`

	_, err := r.db.ExecContext(ctx, query,
		record.ID, record.Key, record.Response, record.CreatedAt, record.ExpiresAt)
	if err != nil {
		return fmt.Errorf("save idempotency record %s: %w", record.Key, err)
	}
	r.logger.Info("Idempotency record saved", "key", record.Key)
	return nil
}
