package redisstore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/goliatone/go-donations/core"
	"github.com/goliatone/go-donations/security"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testRecord(key string) core.PendingOutgoingGrant {
	return core.PendingOutgoingGrant{
		CorrelationKey:      key,
		SenderWalletAddress: "https://wallet.example/alice",
		QuoteID:             "https://rs.wallet.example/alice/quotes/1",
		DebitAmount:         core.Amount{Value: "1025", AssetCode: "USD", AssetScale: 2},
		Continuation: core.Continuation{
			URI:         "https://auth.wallet.example/continue/1",
			AccessToken: "continue-token",
			Wait:        5 * time.Second,
		},
		RedirectURL: "https://auth.wallet.example/interact/1",
		Finish: core.FinishProof{
			ClientNonce:   "client-nonce",
			ServerNonce:   "server-nonce",
			GrantEndpoint: "https://auth.wallet.example",
		},
	}
}

func newMiniStore(t *testing.T, opts ...Option) (*PendingGrantStore, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	store, err := NewPendingGrantStore(client, opts...)
	require.NoError(t, err)
	store.Now = func() time.Time { return testNow }
	return store, server
}

func TestPendingGrantStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	secrets, err := security.NewAppKeySecretProviderFromString("test-app-key")
	require.NoError(t, err)
	store, server := newMiniStore(t, WithSecretProvider(secrets), WithTTL(30*time.Minute))

	require.NoError(t, store.Put(ctx, testRecord("k1")))

	raw, err := server.Get("donations:pending:k1")
	require.NoError(t, err)
	assert.NotContains(t, raw, "continue-token")
	assert.Equal(t, 30*time.Minute, server.TTL("donations:pending:k1"))

	got, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "continue-token", got.Continuation.AccessToken)
	assert.Equal(t, 5*time.Second, got.Continuation.Wait)
	assert.Equal(t, testRecord("k1").Finish, got.Finish)
	assert.Equal(t, testNow.Add(30*time.Minute), got.ExpiresAt)

	err = store.Put(ctx, testRecord("k1"))
	assert.True(t, errors.Is(err, core.ErrPendingGrantExists))

	consumed, err := store.Consume(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, got.QuoteID, consumed.QuoteID)

	_, err = store.Consume(ctx, "k1")
	assert.True(t, errors.Is(err, core.ErrPendingGrantConsumed))
	_, err = store.Get(ctx, "k1")
	assert.True(t, errors.Is(err, core.ErrPendingGrantConsumed))

	require.NoError(t, store.Put(ctx, testRecord("k1")))
	assert.False(t, server.Exists("donations:consumed:k1"))
}

func TestPendingGrantStore_RecordsExpireInRedis(t *testing.T) {
	ctx := context.Background()
	store, server := newMiniStore(t, WithTTL(time.Minute), WithKeyPrefix("app:"))

	require.NoError(t, store.Put(ctx, testRecord("k1")))
	assert.True(t, server.Exists("app:pending:k1"))

	server.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, "k1")
	assert.True(t, errors.Is(err, core.ErrNoPendingGrant))
	assert.False(t, errors.Is(err, core.ErrPendingGrantConsumed))
	require.NoError(t, store.Put(ctx, testRecord("k1")))

	purged, err := store.PurgeExpired(ctx, testNow)
	require.NoError(t, err)
	assert.Zero(t, purged)
}

func TestPendingGrantStore_RejectsExpiredAndIncompleteRecords(t *testing.T) {
	ctx := context.Background()
	store, _ := newMiniStore(t)

	expired := testRecord("k1")
	expired.ExpiresAt = testNow.Add(-time.Second)
	assert.Error(t, store.Put(ctx, expired))

	incomplete := testRecord("k2")
	incomplete.Continuation.AccessToken = ""
	assert.Error(t, store.Put(ctx, incomplete))

	_, err := store.Get(ctx, " ")
	assert.Error(t, err)
}

func TestPendingGrantStore_RemoveDropsRecord(t *testing.T) {
	ctx := context.Background()
	store, server := newMiniStore(t)

	require.NoError(t, store.Put(ctx, testRecord("k1")))
	require.NoError(t, store.Remove(ctx, "k1"))
	assert.False(t, server.Exists("donations:pending:k1"))
}

func TestPendingGrantStore_ConsumeIsAtMostOnce(t *testing.T) {
	ctx := context.Background()
	store, _ := newMiniStore(t)
	require.NoError(t, store.Put(ctx, testRecord("k1")))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Consume(ctx, "k1"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestPendingGrantStore_RedisFailures(t *testing.T) {
	ctx := context.Background()
	client, mock := redismock.NewClientMock()
	store, err := NewPendingGrantStore(client)
	require.NoError(t, err)
	store.Now = func() time.Time { return testNow }

	t.Run("consume error is not a missing grant", func(t *testing.T) {
		mock.ExpectGetDel("donations:pending:k1").SetErr(errors.New("connection refused"))
		_, err := store.Consume(ctx, "k1")
		require.Error(t, err)
		assert.False(t, errors.Is(err, core.ErrNoPendingGrant))
		assert.True(t, strings.Contains(err.Error(), "connection refused"))
	})

	t.Run("set nx refusal fences", func(t *testing.T) {
		record, err := core.NormalizePendingGrant(testRecord("k1"), testNow, defaultPendingGrantTTL)
		require.NoError(t, err)
		payload, err := store.encode(ctx, record)
		require.NoError(t, err)
		mock.ExpectSetNX("donations:pending:k1", payload, defaultPendingGrantTTL).SetVal(false)

		err = store.Put(ctx, testRecord("k1"))
		assert.True(t, errors.Is(err, core.ErrPendingGrantExists))
	})

	t.Run("broken payload", func(t *testing.T) {
		mock.ExpectGet("donations:pending:k1").SetVal("{")
		_, err := store.Get(ctx, "k1")
		assert.Error(t, err)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPendingGrantStore_RequiresClient(t *testing.T) {
	_, err := NewPendingGrantStore(nil)
	assert.Error(t, err)
}
