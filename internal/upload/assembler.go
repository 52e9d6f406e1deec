package upload

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

var (
	ErrTooLarge           = errors.New("upload exceeds maximum allowed size")
	ErrUnknownTransaction = errors.New("unknown or expired upload transaction")
	ErrInvalidChunk       = errors.New("invalid chunk")
)

const gcInterval = time.Minute

// Metadata describes a chunked upload, recorded from the first chunk.
type Metadata struct {
	OwnerId     int
	ChatId      int
	FileName    string
	FileSize    int64
	MimeType    string
	Caption     string
	TotalChunks int
}

// Chunk is one piece of an upload. Chunks carry their own sequence
// index and may arrive in any order.
type Chunk struct {
	Index int
	Data  []byte
	First bool
	Last  bool
}

// Result is the reassembled payload handed off once a transaction
// completes.
type Result struct {
	Metadata
	Data []byte
}

type transaction struct {
	meta      Metadata
	chunks    map[int][]byte
	lastSeen  bool
	expiresAt time.Time
}

// Assembler accumulates ordered binary chunks per transaction id,
// tracks completion and materializes the full payload. Incomplete
// transactions are garbage-collected after the TTL.
type Assembler struct {
	mu      sync.Mutex
	txns    map[string]*transaction
	log     *log.Logger
	maxSize int64
	ttl     time.Duration
	stop    chan struct{}
	once    sync.Once
}

func NewAssembler(logger *log.Logger, maxSize int64, ttl time.Duration) *Assembler {
	a := &Assembler{
		txns:    make(map[string]*transaction),
		log:     logger,
		maxSize: maxSize,
		ttl:     ttl,
		stop:    make(chan struct{}),
	}

	go a.gc()
	return a
}

func (a *Assembler) gc() {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			a.mu.Lock()
			for id, txn := range a.txns {
				if now.After(txn.expiresAt) {
					a.log.Printf("upload: transaction %q expired with %d/%d chunks", id, len(txn.chunks), txn.meta.TotalChunks)
					delete(a.txns, id)
				}
			}
			a.mu.Unlock()
		case <-a.stop:
			return
		}
	}
}

// AddChunk records one chunk for the given transaction. The first chunk
// creates the transaction from meta; the declared size is checked there,
// before any accumulation. The returned count is the number of distinct
// chunks received so far, acknowledged back to the sender for progress
// and retry logic. When the transaction completes, the reassembled
// Result is returned and the transaction is deleted.
func (a *Assembler) AddChunk(txnId string, meta Metadata, chunk Chunk) (*Result, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	txn, ok := a.txns[txnId]
	if ok {
		// a transaction belongs to the user who opened it; a chunk
		// from anyone else does not exist as far as they can tell
		if meta.OwnerId != txn.meta.OwnerId {
			return nil, 0, ErrUnknownTransaction
		}
	} else {
		if !chunk.First {
			// completed or expired transactions are gone from the map
			return nil, 0, ErrUnknownTransaction
		}
		if meta.TotalChunks <= 0 {
			return nil, 0, fmt.Errorf("%w: total chunks must be positive", ErrInvalidChunk)
		}
		if meta.FileSize > a.maxSize {
			return nil, 0, fmt.Errorf("%w: declared %d bytes, limit %d", ErrTooLarge, meta.FileSize, a.maxSize)
		}

		txn = &transaction{
			meta:      meta,
			chunks:    make(map[int][]byte),
			expiresAt: time.Now().Add(a.ttl),
		}
		a.txns[txnId] = txn
	}

	if chunk.Index < 0 || chunk.Index >= txn.meta.TotalChunks {
		return nil, len(txn.chunks), fmt.Errorf("%w: index %d out of range [0,%d)", ErrInvalidChunk, chunk.Index, txn.meta.TotalChunks)
	}

	// a resent chunk replaces its slot without advancing the count
	txn.chunks[chunk.Index] = chunk.Data
	if chunk.Last {
		txn.lastSeen = true
	}

	received := len(txn.chunks)
	if received < txn.meta.TotalChunks || !txn.lastSeen {
		return nil, received, nil
	}

	// complete: concatenate in index order and drop the transaction
	indices := make([]int, 0, received)
	for idx := range txn.chunks {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	var size int
	for _, idx := range indices {
		size += len(txn.chunks[idx])
	}

	data := make([]byte, 0, size)
	for _, idx := range indices {
		data = append(data, txn.chunks[idx]...)
	}

	delete(a.txns, txnId)

	return &Result{Metadata: txn.meta, Data: data}, received, nil
}

// Pending reports whether a transaction is currently accumulating.
func (a *Assembler) Pending(txnId string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.txns[txnId]
	return ok
}

func (a *Assembler) Close() {
	a.once.Do(func() { close(a.stop) })
}
