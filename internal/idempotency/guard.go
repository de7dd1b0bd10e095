// Package idempotency replays stored responses for repeated mutating
// requests.
//
// The guard is a best-effort cache in front of the ledger's own dedup on
// transaction id: a hit skips the handler entirely, a miss runs it and stores
// the response only when the handler succeeded. Storage failures are logged
// and never fail the request.
package idempotency

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long a stored response stays replayable.
const DefaultTTL = 24 * time.Hour

// Request is implemented by every mutating command. An empty key means the
// request is passed through uncached.
type Request interface {
	RequestName() string
	IdempotencyKey() string
}

// Record is one cached response.
type Record struct {
	ID        uuid.UUID
	Key       string
	Response  []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// RecordStore persists records. Get returns nil, nil when the key is absent
// or expired. Save must not overwrite an existing key.
type RecordStore interface {
	Get(ctx context.Context, key string) (*Record, error)
	Save(ctx context.Context, record *Record) error
}

// Result is the outcome of a handler: exactly one of Value or Err is set.
type Result[T any] struct {
	value T
	err   error
}

func Success[T any](v T) Result[T] {
	return Result[T]{value: v}
}

func Failure[T any](err error) Result[T] {
	return Result[T]{err: err}
}

func (r Result[T]) IsSuccess() bool {
	return r.err == nil
}

func (r Result[T]) Value() T {
	return r.value
}

func (r Result[T]) Err() error {
	return r.err
}

// Unwrap returns the value and error in the usual Go shape.
func (r Result[T]) Unwrap() (T, error) {
	return r.value, r.err
}

type Guard struct {
	store  RecordStore
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func NewGuard(store RecordStore, ttl time.Duration, logger *slog.Logger) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{
		store:  store,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// Key builds the composite cache key of a request.
func Key(req Request) string {
	k := req.IdempotencyKey()
	if k == "" {
		return ""
	}
	return req.RequestName() + ":" + k
}

// Execute runs handler behind the guard. It is a function rather than a
// method because Go methods cannot take type parameters.
func Execute[T any](ctx context.Context, g *Guard, req Request, handler func(context.Context) Result[T]) Result[T] {
	if g == nil || g.store == nil {
		return handler(ctx)
	}
	key := Key(req)
	if key == "" {
		return handler(ctx)
	}

	record, err := g.store.Get(ctx, key)
	if err != nil {
		g.logger.Warn("Idempotency lookup failed, executing request", "key", key, "error", err)
	} else if record != nil {
		var cached T
		if err := json.Unmarshal(record.Response, &cached); err == nil {
			g.logger.Info("Idempotency hit, returning cached response", "key", key)
			return Success(cached)
		}
		g.logger.Warn("Discarding unreadable idempotency record", "key", key)
	}

	result := handler(ctx)
	if !result.IsSuccess() {
		return result
	}

	payload, err := json.Marshal(result.Value())
	if err != nil {
		g.logger.Error("Failed to serialize response for idempotency cache", "key", key, "error", err)
		return result
	}
	now := g.now()
	rec := &Record{
		ID:        uuid.New(),
		Key:       key,
		Response:  payload,
		CreatedAt: now,
		ExpiresAt: now.Add(g.ttl),
	}
	if err := g.store.Save(ctx, rec); err != nil {
		g.logger.Error("Failed to save idempotency record", "key", key, "error", err)
	}
	return result
}
