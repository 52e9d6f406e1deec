package presence

import (
	"context"
	"sync"
	"time"
)

const defaultSweepInterval = 30 * time.Second

type memoryEntry struct {
	rec       Record
	expiresAt time.Time
}

// MemoryStore is the in-process fallback used when the primary store is
// unreachable. Entries expire on a fixed-interval sweep.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[int]memoryEntry
	ttl     time.Duration
	stop    chan struct{}
	once    sync.Once
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	ms := &MemoryStore{
		entries: make(map[int]memoryEntry),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}

	go ms.sweep(defaultSweepInterval)
	return ms
}

func (ms *MemoryStore) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			ms.mu.Lock()
			for userId, entry := range ms.entries {
				if now.After(entry.expiresAt) {
					delete(ms.entries, userId)
				}
			}
			ms.mu.Unlock()
		case <-ms.stop:
			return
		}
	}
}

func (ms *MemoryStore) Upsert(_ context.Context, rec Record) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.entries[rec.UserId] = memoryEntry{rec: rec, expiresAt: time.Now().Add(ms.ttl)}
}

func (ms *MemoryStore) Remove(_ context.Context, userId int, connId string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	entry, ok := ms.entries[userId]
	if !ok {
		return
	}
	if connId != "" && entry.rec.ConnId != connId {
		// the slot was taken over by a newer connection
		return
	}
	delete(ms.entries, userId)
}

func (ms *MemoryStore) Get(_ context.Context, userId int) (Record, bool) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	entry, ok := ms.entries[userId]
	if !ok || time.Now().After(entry.expiresAt) {
		return Record{}, false
	}
	return entry.rec, true
}

func (ms *MemoryStore) ListOnline(_ context.Context) []Record {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	now := time.Now()
	records := make([]Record, 0, len(ms.entries))
	for _, entry := range ms.entries {
		if now.After(entry.expiresAt) {
			continue
		}
		records = append(records, entry.rec)
	}
	return records
}

func (ms *MemoryStore) IsOnline(ctx context.Context, userId int) bool {
	_, ok := ms.Get(ctx, userId)
	return ok
}

func (ms *MemoryStore) Close() {
	ms.once.Do(func() { close(ms.stop) })
}
