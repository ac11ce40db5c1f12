package objectstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// ErrObjectNotFound is returned by MemStore for missing buckets or keys.
var ErrObjectNotFound = fmt.Errorf("object not found")

type memObject struct {
	data         []byte
	metadata     map[string]string
	etag         string
	lastModified time.Time
}

// MemStore is an in-memory Client used to mimic object store behaviour in
// tests without a running MinIO.
type MemStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string]memObject
}

// NewMemStore creates an empty in-memory object store.
func NewMemStore(buckets ...string) *MemStore {
	s := &MemStore{buckets: map[string]map[string]memObject{}}
	for _, b := range buckets {
		s.buckets[b] = map[string]memObject{}
	}
	return s
}

func (s *MemStore) bucket(name string) map[string]memObject {
	if b, ok := s.buckets[name]; ok {
		return b
	}
	b := map[string]memObject{}
	s.buckets[name] = b
	return b
}

func (s *MemStore) Put(ctx context.Context, bucket, key string, reader io.Reader, size int64, metadata map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("size mismatch: declared %d, read %d", size, len(data))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.bucket(bucket)[key] = memObject{
		data:         data,
		metadata:     cloneMetadata(metadata),
		etag:         etagOf(data),
		lastModified: time.Now().UTC(),
	}
	return nil
}

func (s *MemStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.buckets[bucket][key]
	if !ok {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, ErrObjectNotFound)
	}
	return bytes.Clone(obj.data), nil
}

func (s *MemStore) Stat(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.buckets[bucket][key]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("stat %s/%s: %w", bucket, key, ErrObjectNotFound)
	}
	return ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.data)),
		ETag:         obj.etag,
		LastModified: obj.lastModified,
		Metadata:     cloneMetadata(obj.metadata),
	}, nil
}

func (s *MemStore) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string, metadata map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.buckets[srcBucket][srcKey]
	if !ok {
		return fmt.Errorf("copy %s/%s: %w", srcBucket, srcKey, ErrObjectNotFound)
	}
	s.bucket(dstBucket)[dstKey] = memObject{
		data:         bytes.Clone(obj.data),
		metadata:     cloneMetadata(metadata),
		etag:         obj.etag,
		lastModified: time.Now().UTC(),
	}
	return nil
}

func (s *MemStore) Remove(ctx context.Context, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[bucket][key]; !ok {
		return fmt.Errorf("remove %s/%s: %w", bucket, key, ErrObjectNotFound)
	}
	delete(s.buckets[bucket], key)
	return nil
}

func (s *MemStore) Close() error {
	return nil
}

// Keys lists the keys present in a bucket, sorted, for test assertions.
func (s *MemStore) Keys(bucket string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.buckets[bucket]))
	for k := range s.buckets[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cloneMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func etagOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}
