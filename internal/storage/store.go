package storage

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

// BlobStore persists reassembled upload payloads and serves them back
// for download links. Implementations are expected to be safe for
// concurrent use.
type BlobStore interface {
	Put(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, objectKey string) error
	PresignedURL(ctx context.Context, objectKey string) (string, error)
}

type MockBlobStore struct {
	mock.Mock
}

func (m *MockBlobStore) Put(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error {
	args := m.Called(ctx, objectKey, reader, size, contentType)
	return args.Error(0)
}

func (m *MockBlobStore) Remove(ctx context.Context, objectKey string) error {
	args := m.Called(ctx, objectKey)
	return args.Error(0)
}

func (m *MockBlobStore) PresignedURL(ctx context.Context, objectKey string) (string, error) {
	args := m.Called(ctx, objectKey)
	return args.String(0), args.Error(1)
}
