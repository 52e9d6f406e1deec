package upload

import (
	"bytes"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatterbox-im/server/internal/testutil"
)

func newTestAssembler(t *testing.T) *Assembler {
	a := NewAssembler(testutil.TestLogger(t), 50<<20, time.Minute)
	t.Cleanup(a.Close)
	return a
}

func splitChunks(data []byte, n int) [][]byte {
	chunkSize := (len(data) + n - 1) / n
	chunks := make([][]byte, 0, n)
	for i := 0; i < len(data); i += chunkSize {
		end := i + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[i:end])
	}
	return chunks
}

func TestAddChunkInOrder(t *testing.T) {
	a := newTestAssembler(t)

	payload := []byte("hello, chunked world")
	parts := splitChunks(payload, 4)
	meta := Metadata{OwnerId: 1, ChatId: 42, FileName: "hello.txt", FileSize: int64(len(payload)), MimeType: "text/plain", TotalChunks: len(parts)}

	var result *Result
	for i, part := range parts {
		res, received, err := a.AddChunk("txn-1", meta, Chunk{
			Index: i,
			Data:  part,
			First: i == 0,
			Last:  i == len(parts)-1,
		})
		require.NoError(t, err)
		assert.Equal(t, i+1, received, "expected running received count")
		result = res
	}

	require.NotNil(t, result, "expected reassembled result on final chunk")
	assert.True(t, bytes.Equal(payload, result.Data), "expected payload reassembled byte-identical")
	assert.Equal(t, "hello.txt", result.FileName)
	assert.False(t, a.Pending("txn-1"), "expected transaction deleted after completion")
}

func TestAddChunkOutOfOrder(t *testing.T) {
	a := newTestAssembler(t)

	payload := []byte("0000011111222223333344444")
	parts := splitChunks(payload, 5)
	require.Len(t, parts, 5)
	meta := Metadata{OwnerId: 1, ChatId: 42, FileName: "f.bin", FileSize: int64(len(payload)), MimeType: "application/octet-stream", TotalChunks: 5}

	// index 3 carries the last flag and arrives 5th
	order := []int{2, 0, 4, 1, 3}

	var result *Result
	for n, idx := range order {
		res, received, err := a.AddChunk("txn-2", meta, Chunk{
			Index: idx,
			Data:  parts[idx],
			First: n == 0,
			Last:  idx == 3,
		})
		require.NoError(t, err)
		assert.Equal(t, n+1, received, "expected count to track distinct chunks")
		if n < len(order)-1 {
			assert.Nil(t, res, "expected no result before completion")
		} else {
			result = res
		}
	}

	require.NotNil(t, result)
	assert.True(t, bytes.Equal(payload, result.Data), "expected chunks reordered by index before concatenation")
	assert.False(t, a.Pending("txn-2"))
}

func TestAddChunkRandomPermutations(t *testing.T) {
	payload := make([]byte, 1<<12)
	rng := rand.New(rand.NewSource(1))
	rng.Read(payload)
	parts := splitChunks(payload, 8)

	for round := 0; round < 5; round++ {
		a := newTestAssembler(t)

		order := rng.Perm(len(parts))
		meta := Metadata{FileSize: int64(len(payload)), FileName: "rand.bin", MimeType: "application/octet-stream", TotalChunks: len(parts)}

		var result *Result
		for n, idx := range order {
			res, _, err := a.AddChunk("txn-rand", meta, Chunk{
				Index: idx,
				Data:  parts[idx],
				First: n == 0,
				Last:  idx == len(parts)-1,
			})
			require.NoError(t, err)
			if res != nil {
				result = res
			}
		}

		require.NotNil(t, result, "expected completion for permutation %v", order)
		assert.True(t, bytes.Equal(payload, result.Data), "expected byte-identical reassembly for permutation %v", order)
	}
}

func TestAddChunkRejectsOversizedUpload(t *testing.T) {
	a := NewAssembler(testutil.TestLogger(t), 1024, time.Minute)
	defer a.Close()

	meta := Metadata{FileName: "big.bin", FileSize: 2048, MimeType: "application/octet-stream", TotalChunks: 2}
	_, _, err := a.AddChunk("txn-big", meta, Chunk{Index: 0, Data: []byte("x"), First: true})
	assert.ErrorIs(t, err, ErrTooLarge, "expected oversized upload rejected on first chunk")
	assert.False(t, a.Pending("txn-big"), "expected no transaction created for oversized upload")
}

func TestAddChunkUnknownTransaction(t *testing.T) {
	a := newTestAssembler(t)

	_, _, err := a.AddChunk("txn-missing", Metadata{}, Chunk{Index: 1, Data: []byte("x")})
	assert.ErrorIs(t, err, ErrUnknownTransaction, "expected non-first chunk without transaction to be rejected")
}

func TestAddChunkAfterCompletion(t *testing.T) {
	a := newTestAssembler(t)

	meta := Metadata{FileName: "one.bin", FileSize: 1, MimeType: "application/octet-stream", TotalChunks: 1}
	res, _, err := a.AddChunk("txn-done", meta, Chunk{Index: 0, Data: []byte("x"), First: true, Last: true})
	require.NoError(t, err)
	require.NotNil(t, res)

	_, _, err = a.AddChunk("txn-done", Metadata{}, Chunk{Index: 0, Data: []byte("x")})
	assert.ErrorIs(t, err, ErrUnknownTransaction, "expected chunk after completion to be rejected")
}

func TestAddChunkInvalidIndex(t *testing.T) {
	a := newTestAssembler(t)

	meta := Metadata{FileName: "f.bin", FileSize: 10, MimeType: "application/octet-stream", TotalChunks: 2}
	_, _, err := a.AddChunk("txn-idx", meta, Chunk{Index: 0, Data: []byte("x"), First: true})
	require.NoError(t, err)

	_, _, err = a.AddChunk("txn-idx", meta, Chunk{Index: 5, Data: []byte("x")})
	assert.ErrorIs(t, err, ErrInvalidChunk, "expected out-of-range index rejected")
}

func TestAddChunkRejectsForeignOwner(t *testing.T) {
	a := newTestAssembler(t)

	meta := Metadata{OwnerId: 1, ChatId: 42, FileName: "f.bin", FileSize: 10, MimeType: "application/octet-stream", TotalChunks: 3}
	_, received, err := a.AddChunk("txn-own", meta, Chunk{Index: 0, Data: []byte("a"), First: true})
	require.NoError(t, err)
	assert.Equal(t, 1, received)

	// another user writing under the same transaction id sees it as
	// nonexistent, first chunk or not
	foreign := meta
	foreign.OwnerId = 2
	_, _, err = a.AddChunk("txn-own", foreign, Chunk{Index: 1, Data: []byte("b")})
	assert.ErrorIs(t, err, ErrUnknownTransaction, "expected foreign chunk rejected")

	_, _, err = a.AddChunk("txn-own", foreign, Chunk{Index: 0, Data: []byte("z"), First: true})
	assert.ErrorIs(t, err, ErrUnknownTransaction, "expected foreign first chunk rejected")

	// the owner's progress is unaffected
	_, received, err = a.AddChunk("txn-own", meta, Chunk{Index: 1, Data: []byte("b")})
	require.NoError(t, err)
	assert.Equal(t, 2, received)
}

func TestAddChunkResendDoesNotAdvanceCount(t *testing.T) {
	a := newTestAssembler(t)

	meta := Metadata{FileName: "f.bin", FileSize: 10, MimeType: "application/octet-stream", TotalChunks: 3}
	_, received, err := a.AddChunk("txn-dup", meta, Chunk{Index: 0, Data: []byte("a"), First: true})
	require.NoError(t, err)
	assert.Equal(t, 1, received)

	_, received, err = a.AddChunk("txn-dup", meta, Chunk{Index: 0, Data: []byte("a")})
	require.NoError(t, err)
	assert.Equal(t, 1, received, "expected resent chunk not to advance the count")
}

func TestTransactionExpiry(t *testing.T) {
	a := NewAssembler(testutil.TestLogger(t), 50<<20, time.Nanosecond)
	defer a.Close()

	meta := Metadata{FileName: "f.bin", FileSize: 10, MimeType: "application/octet-stream", TotalChunks: 2}
	_, _, err := a.AddChunk("txn-ttl", meta, Chunk{Index: 0, Data: []byte("a"), First: true})
	require.NoError(t, err)

	// run the sweep inline rather than waiting for the ticker
	time.Sleep(time.Millisecond)
	a.mu.Lock()
	now := time.Now()
	for id, txn := range a.txns {
		if now.After(txn.expiresAt) {
			delete(a.txns, id)
		}
	}
	a.mu.Unlock()

	assert.False(t, a.Pending("txn-ttl"), "expected abandoned transaction garbage-collected")
}
