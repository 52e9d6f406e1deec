package presence

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "presence:"

// removeOwnedScript deletes a presence key only when it is still owned
// by the disconnecting connection, so a newer device's slot survives an
// older device's teardown.
var removeOwnedScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if raw == false then
	return 0
end
if ARGV[1] == "" then
	return redis.call("DEL", KEYS[1])
end
local rec = cjson.decode(raw)
if rec["conn_id"] == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps presence records in redis with a TTL per record.
// Every operation silently degrades to the embedded MemoryStore when
// redis is unreachable; callers never see a store failure.
type RedisStore struct {
	rdb      *redis.Client
	fallback *MemoryStore
	log      *log.Logger
	ttl      time.Duration
}

func NewRedisStore(rdb *redis.Client, logger *log.Logger, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb:      rdb,
		fallback: NewMemoryStore(ttl),
		log:      logger,
		ttl:      ttl,
	}
}

func key(userId int) string {
	return keyPrefix + strconv.Itoa(userId)
}

func (rs *RedisStore) Upsert(ctx context.Context, rec Record) {
	raw, err := json.Marshal(rec)
	if err != nil {
		rs.log.Println("presence: marshal record:", err)
		return
	}

	if err := rs.rdb.Set(ctx, key(rec.UserId), raw, rs.ttl).Err(); err != nil {
		rs.log.Println("presence: redis upsert, falling back to memory:", err)
		rs.fallback.Upsert(ctx, rec)
	}
}

func (rs *RedisStore) Remove(ctx context.Context, userId int, connId string) {
	if err := removeOwnedScript.Run(ctx, rs.rdb, []string{key(userId)}, connId).Err(); err != nil && err != redis.Nil {
		rs.log.Println("presence: redis remove, falling back to memory:", err)
	}

	// the fallback may hold a record written during an outage
	rs.fallback.Remove(ctx, userId, connId)
}

func (rs *RedisStore) Get(ctx context.Context, userId int) (Record, bool) {
	raw, err := rs.rdb.Get(ctx, key(userId)).Result()
	if err == redis.Nil {
		return rs.fallback.Get(ctx, userId)
	}
	if err != nil {
		rs.log.Println("presence: redis get, falling back to memory:", err)
		return rs.fallback.Get(ctx, userId)
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		rs.log.Println("presence: unmarshal record:", err)
		return Record{}, false
	}
	return rec, true
}

// ListOnline iterates the key space with SCAN so a large presence set
// never blocks the store for concurrent traffic.
func (rs *RedisStore) ListOnline(ctx context.Context) []Record {
	var (
		records []Record
		cursor  uint64
	)

	for {
		keys, next, err := rs.rdb.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			rs.log.Println("presence: redis scan, falling back to memory:", err)
			return rs.fallback.ListOnline(ctx)
		}

		for _, k := range keys {
			raw, err := rs.rdb.Get(ctx, k).Result()
			if err != nil {
				// expired between SCAN and GET, or redis went away
				continue
			}
			var rec Record
			if err := json.Unmarshal([]byte(raw), &rec); err != nil {
				rs.log.Println("presence: unmarshal record:", err)
				continue
			}
			records = append(records, rec)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return records
}

func (rs *RedisStore) IsOnline(ctx context.Context, userId int) bool {
	n, err := rs.rdb.Exists(ctx, key(userId)).Result()
	if err != nil {
		rs.log.Println("presence: redis exists, falling back to memory:", err)
		return rs.fallback.IsOnline(ctx, userId)
	}
	if n > 0 {
		return true
	}
	return rs.fallback.IsOnline(ctx, userId)
}

func (rs *RedisStore) Close() {
	rs.fallback.Close()
}
