package presence

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/chatterbox-im/server/internal/testutil"
)

func TestMemoryStoreUpsertGet(t *testing.T) {
	ms := NewMemoryStore(time.Minute)
	defer ms.Close()
	ctx := context.Background()

	rec := Record{UserId: 1, ConnId: "conn-1", Username: "alice", LastSeen: time.Now()}
	ms.Upsert(ctx, rec)

	got, ok := ms.Get(ctx, 1)
	assert.True(t, ok, "expected record after upsert")
	assert.Equal(t, "conn-1", got.ConnId)
	assert.True(t, ms.IsOnline(ctx, 1))

	_, ok = ms.Get(ctx, 2)
	assert.False(t, ok, "expected no record for unknown user")
	assert.False(t, ms.IsOnline(ctx, 2))
}

func TestMemoryStoreLastWriterWins(t *testing.T) {
	ms := NewMemoryStore(time.Minute)
	defer ms.Close()
	ctx := context.Background()

	ms.Upsert(ctx, Record{UserId: 1, ConnId: "conn-1", Username: "alice"})
	ms.Upsert(ctx, Record{UserId: 1, ConnId: "conn-2", Username: "alice"})

	got, ok := ms.Get(ctx, 1)
	assert.True(t, ok)
	assert.Equal(t, "conn-2", got.ConnId, "expected second device to own the slot")
}

func TestMemoryStoreRemoveOwnership(t *testing.T) {
	ctx := context.Background()

	t.Run("owned connection removes record", func(t *testing.T) {
		ms := NewMemoryStore(time.Minute)
		defer ms.Close()

		ms.Upsert(ctx, Record{UserId: 1, ConnId: "conn-1"})
		ms.Remove(ctx, 1, "conn-1")
		assert.False(t, ms.IsOnline(ctx, 1), "expected record removed by owning connection")
	})

	t.Run("stale connection leaves newer slot intact", func(t *testing.T) {
		ms := NewMemoryStore(time.Minute)
		defer ms.Close()

		ms.Upsert(ctx, Record{UserId: 1, ConnId: "conn-2"})
		ms.Remove(ctx, 1, "conn-1")
		assert.True(t, ms.IsOnline(ctx, 1), "expected record owned by conn-2 to survive")
	})

	t.Run("remove is idempotent", func(t *testing.T) {
		ms := NewMemoryStore(time.Minute)
		defer ms.Close()

		ms.Remove(ctx, 42, "conn-1")
		ms.Remove(ctx, 42, "conn-1")
	})
}

func TestMemoryStoreExpiry(t *testing.T) {
	ms := NewMemoryStore(10 * time.Millisecond)
	defer ms.Close()
	ctx := context.Background()

	ms.Upsert(ctx, Record{UserId: 1, ConnId: "conn-1"})
	time.Sleep(20 * time.Millisecond)

	_, ok := ms.Get(ctx, 1)
	assert.False(t, ok, "expected record to expire")
	assert.Empty(t, ms.ListOnline(ctx), "expected no online records after expiry")
}

func TestMemoryStoreListOnline(t *testing.T) {
	ms := NewMemoryStore(time.Minute)
	defer ms.Close()
	ctx := context.Background()

	ms.Upsert(ctx, Record{UserId: 1, ConnId: "conn-1", Username: "alice"})
	ms.Upsert(ctx, Record{UserId: 2, ConnId: "conn-2", Username: "bob"})

	records := ms.ListOnline(ctx)
	assert.Len(t, records, 2, "expected both users online")
}

// unreachableRedis returns a client pointed at a port nothing listens
// on, with dialing bounded so tests stay fast.
func unreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestRedisStoreFallsBackWhenUnreachable(t *testing.T) {
	rs := NewRedisStore(unreachableRedis(), testutil.TestLogger(t), time.Minute)
	defer rs.Close()
	ctx := context.Background()

	// none of these may error or panic with the backing store down
	rs.Upsert(ctx, Record{UserId: 1, ConnId: "conn-1", Username: "alice"})

	got, ok := rs.Get(ctx, 1)
	assert.True(t, ok, "expected record from fallback store")
	assert.Equal(t, "conn-1", got.ConnId)
	assert.True(t, rs.IsOnline(ctx, 1), "expected fallback to report user online")

	records := rs.ListOnline(ctx)
	assert.Len(t, records, 1, "expected fallback listing")

	rs.Remove(ctx, 1, "conn-1")
	assert.False(t, rs.IsOnline(ctx, 1), "expected record removed from fallback")
}

func TestRedisStoreListOnlineNeverFails(t *testing.T) {
	rs := NewRedisStore(unreachableRedis(), testutil.TestLogger(t), time.Minute)
	defer rs.Close()

	records := rs.ListOnline(context.Background())
	assert.Empty(t, records, "expected empty sequence, not an error")
}

func TestPendingStoreFallback(t *testing.T) {
	ps := NewPendingStore(unreachableRedis(), testutil.TestLogger(t), time.Minute)
	ctx := context.Background()

	ps.Set(ctx, "action-1", "conn-9")

	connId, ok := ps.Get(ctx, "action-1")
	assert.True(t, ok, "expected pending entry from fallback")
	assert.Equal(t, "conn-9", connId)

	ps.Remove(ctx, "action-1")
	_, ok = ps.Get(ctx, "action-1")
	assert.False(t, ok, "expected pending entry removed")
}
