package staging

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/lakestage/pkg/storage/objectstore"
)

// flakyStore injects copy and read failures before delegating to the
// wrapped client.
type flakyStore struct {
	objectstore.Client
	mu         sync.Mutex
	failCopies int
	failGets   int
}

func (f *flakyStore) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string, metadata map[string]string) error {
	f.mu.Lock()
	shouldFail := f.failCopies > 0
	if shouldFail {
		f.failCopies--
	}
	f.mu.Unlock()
	if shouldFail {
		return errors.New("transient storage outage")
	}
	return f.Client.Copy(ctx, srcBucket, srcKey, dstBucket, dstKey, metadata)
}

func (f *flakyStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	f.mu.Lock()
	shouldFail := f.failGets > 0
	if shouldFail {
		f.failGets--
	}
	f.mu.Unlock()
	if shouldFail {
		return nil, errors.New("transient storage outage")
	}
	return f.Client.Get(ctx, bucket, key)
}

func newTestMover(store objectstore.Client, attempts int) *Mover {
	return NewMover(store, zap.NewNop(), attempts, time.Millisecond)
}

func putRaw(t *testing.T, store *objectstore.MemStore, key string, content []byte) {
	t.Helper()
	err := store.Put(context.Background(), "raw", key, bytes.NewReader(content), int64(len(content)), nil)
	require.NoError(t, err)
}

func TestPlaceCopiesVerifiesAndDeletesSource(t *testing.T) {
	store := objectstore.NewMemStore("raw", "staging")
	content := []byte(`{"bookingId": 1}`)
	putRaw(t, store, "rydebookings/b.json", content)

	mover := newTestMover(store, 3)
	err := mover.Place(context.Background(), "raw", "rydebookings/b.json",
		"staging", "rydebookings/2018/10/26/b.json",
		map[string]string{"Lakestage-Source": "rydebookings"}, Checksum(content))
	require.NoError(t, err)

	// Destination present with provenance and checksum metadata.
	info, err := store.Stat(context.Background(), "staging", "rydebookings/2018/10/26/b.json")
	require.NoError(t, err)
	assert.Equal(t, ProvenanceValue, info.Metadata[ProvenanceKey])
	assert.Equal(t, Checksum(content), info.Metadata[ChecksumKey])
	assert.Equal(t, "rydebookings", info.Metadata["Lakestage-Source"])

	// Source removed.
	assert.Empty(t, store.Keys("raw"))
}

func TestPlaceRetriesTransientCopyFailure(t *testing.T) {
	mem := objectstore.NewMemStore("raw", "staging")
	putRaw(t, mem, "k.json", []byte("x"))
	store := &flakyStore{Client: mem, failCopies: 2}

	mover := newTestMover(store, 4)
	err := mover.Place(context.Background(), "raw", "k.json", "staging", "dst/k.json", nil, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"dst/k.json"}, mem.Keys("staging"))
}

func TestPlaceExhaustsRetryBudget(t *testing.T) {
	mem := objectstore.NewMemStore("raw", "staging")
	putRaw(t, mem, "k.json", []byte("x"))
	store := &flakyStore{Client: mem, failCopies: 10}

	mover := newTestMover(store, 2)
	err := mover.Place(context.Background(), "raw", "k.json", "staging", "dst/k.json", nil, "")
	require.Error(t, err)

	// The source is never deleted without a verified destination.
	assert.Equal(t, []string{"k.json"}, mem.Keys("raw"))
	assert.Empty(t, mem.Keys("staging"))
}

func TestPlaceReplayAfterCompletedMove(t *testing.T) {
	store := objectstore.NewMemStore("raw", "staging")
	putRaw(t, store, "k.json", []byte("x"))

	mover := newTestMover(store, 3)
	ctx := context.Background()
	require.NoError(t, mover.Place(ctx, "raw", "k.json", "staging", "dst/k.json", nil, ""))

	// Replaying the move after the source is gone succeeds because the
	// destination is already verified present.
	require.NoError(t, mover.Place(ctx, "raw", "k.json", "staging", "dst/k.json", nil, ""))
	assert.Equal(t, []string{"dst/k.json"}, store.Keys("staging"))
}

func TestIsPipelineWrite(t *testing.T) {
	assert.False(t, IsPipelineWrite(nil))
	assert.False(t, IsPipelineWrite(map[string]string{"owner": "x"}))
	assert.True(t, IsPipelineWrite(map[string]string{ProvenanceKey: ProvenanceValue}))
	assert.True(t, IsPipelineWrite(map[string]string{"X-Amz-Meta-Lakestage-Provenance": ProvenanceValue}))
}
