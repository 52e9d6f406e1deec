package presence

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingKeyPrefix = "pending:"

// PendingStore tracks not-yet-authenticated monitor connections, keyed
// by a pending-action id (registration or login waiting on server-side
// confirmation). Same shape as presence: TTL'd socket ids in redis with
// a silent in-process fallback.
type PendingStore struct {
	rdb *redis.Client
	log *log.Logger
	ttl time.Duration

	mu       sync.Mutex
	fallback map[string]pendingEntry
}

type pendingEntry struct {
	connId    string
	expiresAt time.Time
}

func NewPendingStore(rdb *redis.Client, logger *log.Logger, ttl time.Duration) *PendingStore {
	return &PendingStore{
		rdb:      rdb,
		log:      logger,
		ttl:      ttl,
		fallback: make(map[string]pendingEntry),
	}
}

func (ps *PendingStore) Set(ctx context.Context, actionId, connId string) {
	if err := ps.rdb.Set(ctx, pendingKeyPrefix+actionId, connId, ps.ttl).Err(); err != nil {
		ps.log.Println("pending: redis set, falling back to memory:", err)
		ps.mu.Lock()
		ps.fallback[actionId] = pendingEntry{connId: connId, expiresAt: time.Now().Add(ps.ttl)}
		ps.mu.Unlock()
	}
}

func (ps *PendingStore) Get(ctx context.Context, actionId string) (string, bool) {
	connId, err := ps.rdb.Get(ctx, pendingKeyPrefix+actionId).Result()
	if err == nil {
		return connId, true
	}
	if err != redis.Nil {
		ps.log.Println("pending: redis get, falling back to memory:", err)
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	entry, ok := ps.fallback[actionId]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(ps.fallback, actionId)
		return "", false
	}
	return entry.connId, true
}

func (ps *PendingStore) Remove(ctx context.Context, actionId string) {
	if err := ps.rdb.Del(ctx, pendingKeyPrefix+actionId).Err(); err != nil {
		ps.log.Println("pending: redis del, falling back to memory:", err)
	}

	ps.mu.Lock()
	delete(ps.fallback, actionId)
	ps.mu.Unlock()
}
