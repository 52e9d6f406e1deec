package presence

import (
	"context"
	"time"
)

// Record mirrors a connected user in the volatile presence store. There
// is a single slot per user: a second device overwrites the first
// (last writer wins), so ConnId always names the most recently
// connected session.
type Record struct {
	UserId        int       `json:"user_id"`
	ConnId        string    `json:"conn_id"`
	Username      string    `json:"username"`
	StatusMessage string    `json:"status_message,omitempty"`
	LastSeen      time.Time `json:"last_seen"`
}

// Store is the volatile presence contract. Absence of a record is
// authoritative (no record means offline); existence does not
// guarantee liveness since records carry a TTL. None of the methods
// ever fail the caller: implementations degrade to an in-process
// fallback when the backing store is unreachable.
type Store interface {
	Upsert(ctx context.Context, rec Record)
	// Remove deletes the user's record only if it is owned by connId;
	// it is idempotent and a no-op for a record owned by another
	// connection.
	Remove(ctx context.Context, userId int, connId string)
	Get(ctx context.Context, userId int) (Record, bool)
	ListOnline(ctx context.Context) []Record
	IsOnline(ctx context.Context, userId int) bool
}
