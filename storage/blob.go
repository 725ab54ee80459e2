package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// ErrObjectNotFound is returned when a requested object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// BlobStore is per-bucket binary object storage. Objects are private and
// only reachable through time-limited presigned URLs.
type BlobStore interface {
	Put(ctx context.Context, bucket, object string, reader io.Reader, size int64, contentType string) error
	PresignedURL(ctx context.Context, bucket, object string, ttl time.Duration) (string, error)
	Remove(ctx context.Context, bucket, object string) error
}

// MemoryBlobStore is an in-memory BlobStore used by tests. It is exported
// so tests can inspect stored objects.
type MemoryBlobStore struct {
	mu      sync.RWMutex
	objects map[string][]byte // "bucket/object" -> content
}

// NewMemoryBlobStore creates an empty in-memory blob store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{objects: make(map[string][]byte)}
}

func memKey(bucket, object string) string {
	return bucket + "/" + object
}

func (s *MemoryBlobStore) Put(ctx context.Context, bucket, object string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to read object body: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[memKey(bucket, object)] = data
	return nil
}

func (s *MemoryBlobStore) PresignedURL(ctx context.Context, bucket, object string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.objects[memKey(bucket, object)]; !exists {
		return "", ErrObjectNotFound
	}
	expires := time.Now().Add(ttl).Unix()
	return fmt.Sprintf("memory://%s/%s?expires=%d", bucket, object, expires), nil
}

func (s *MemoryBlobStore) Remove(ctx context.Context, bucket, object string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.objects, memKey(bucket, object))
	return nil
}

// Has reports whether an object exists, for test assertions.
func (s *MemoryBlobStore) Has(bucket, object string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.objects[memKey(bucket, object)]
	return exists
}

// Len returns the number of stored objects.
func (s *MemoryBlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
