package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)
	require.NoError(t, store.Ping(ctx))

	rec := &Record{
		ID:        uuid.New(),
		Key:       "TopupCommand:T1",
		Response:  []byte(`{"id":"1"}`),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		ExpiresAt: time.Now().UTC().Add(time.Hour).Truncate(time.Second),
	}
	require.NoError(t, store.Save(ctx, rec))
	assert.True(t, mr.Exists("idempotency:TopupCommand:T1"))
	assert.Greater(t, mr.TTL("idempotency:TopupCommand:T1"), 59*time.Minute)

	got, err := store.Get(ctx, rec.Key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.ID, got.ID)
	assert.JSONEq(t, `{"id":"1"}`, string(got.Response))
}

func TestRedisStore_FirstWriterWins(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)
	expires := time.Now().Add(time.Hour)

	require.NoError(t, store.Save(ctx, &Record{Key: "k", Response: []byte(`"a"`), ExpiresAt: expires}))
	require.NoError(t, store.Save(ctx, &Record{Key: "k", Response: []byte(`"b"`), ExpiresAt: expires}))

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `"a"`, string(got.Response))
}

func TestRedisStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	require.NoError(t, store.Save(ctx, &Record{Key: "k", Response: []byte(`1`), ExpiresAt: time.Now().Add(time.Minute)}))
	mr.FastForward(2 * time.Minute)

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)

	// already expired records are not written
	require.NoError(t, store.Save(ctx, &Record{Key: "old", ExpiresAt: time.Now().Add(-time.Second)}))
	assert.False(t, mr.Exists("idempotency:old"))
}

func TestRedisStore_BehindGuard(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)
	guard := NewGuard(store, time.Hour, discardLogger())

	calls := 0
	handler := func(context.Context) Result[payload] {
		calls++
		return Success(payload{Value: "ok", Count: calls})
	}
	Execute(ctx, guard, testRequest{ID: "T1"}, handler)
	res := Execute(ctx, guard, testRequest{ID: "T1"}, handler)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, res.Value().Count)
}

func TestRedisStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)
	mr.Close()

	_, err := store.Get(ctx, "k")
	assert.Error(t, err)
}
