package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/lakestage/internal/staging"
)

// sliceFeed serves a fixed set of changes then blocks until ctx is canceled.
type sliceFeed struct {
	mu        sync.Mutex
	changes   []Change
	next      int
	committed []int64
}

func (f *sliceFeed) Fetch(ctx context.Context) (Change, error) {
	f.mu.Lock()
	if f.next < len(f.changes) {
		change := f.changes[f.next]
		f.next++
		f.mu.Unlock()
		return change, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return Change{}, ctx.Err()
}

func (f *sliceFeed) Commit(ctx context.Context, change Change) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, change.Sequence)
	return nil
}

// fakeIndex captures upserts and fails a configurable number of times per id.
type fakeIndex struct {
	mu        sync.Mutex
	failures  map[string]int
	documents map[string]Document
	attempts  map[string]int
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		failures:  map[string]int{},
		documents: map[string]Document{},
		attempts:  map[string]int{},
	}
}

func (i *fakeIndex) Upsert(ctx context.Context, id string, doc any) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.attempts[id]++
	if i.failures[id] > 0 {
		i.failures[id]--
		return errors.New("search cluster unavailable")
	}
	i.documents[id] = doc.(Document)
	return nil
}

// fakeDeadLetter records exhausted changes; fail makes every publish fail,
// failures only the first n.
type fakeDeadLetter struct {
	mu       sync.Mutex
	entries  []Change
	reasons  []string
	fail     bool
	failures int
	attempts int
}

func (d *fakeDeadLetter) Publish(ctx context.Context, change Change, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	if d.fail {
		return errors.New("dead letter unavailable")
	}
	if d.failures > 0 {
		d.failures--
		return errors.New("dead letter unavailable")
	}
	d.entries = append(d.entries, change)
	d.reasons = append(d.reasons, reason)
	return nil
}

func changeFor(t *testing.T, record *staging.CatalogRecord, sequence int64) Change {
	t.Helper()
	payload, err := json.Marshal(record)
	require.NoError(t, err)
	return Change{RecordID: record.RecordID, Payload: payload, Sequence: sequence}
}

func successRecord(id string) *staging.CatalogRecord {
	return &staging.CatalogRecord{
		RecordID:        id,
		DataSourceID:    "rydebookings",
		RawBucket:       "lakestage-raw",
		RawPath:         "rydebookings/rydebooking-1.json",
		DestinationPath: "rydebookings/2018/10/26/rydebooking-1.json",
		Status:          staging.StatusComplete,
		Outcome:         staging.OutcomeSuccess,
		ReceivedAt:      time.Date(2018, 10, 26, 9, 30, 0, 0, time.UTC),
		CompletedAt:     time.Date(2018, 10, 26, 9, 30, 5, 0, time.UTC),
	}
}

// runMirror drains the feed then cancels the run.
func runMirror(t *testing.T, m *Mirror, feed *sliceFeed, expectCommits int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		feed.mu.Lock()
		defer feed.mu.Unlock()
		return len(feed.committed) >= expectCommits
	}, 4*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestMirrorUpsertsChanges(t *testing.T) {
	record := successRecord("etag-1")
	feed := &sliceFeed{changes: []Change{changeFor(t, record, 7)}}
	index := newFakeIndex()
	dlq := &fakeDeadLetter{}

	m := New(feed, index, dlq, zap.NewNop(), 3, time.Millisecond)
	runMirror(t, m, feed, 1)

	doc, ok := index.documents["etag-1"]
	require.True(t, ok)
	assert.Equal(t, "rydebookings", doc.DataSourceID)
	assert.Equal(t, "SUCCESS", doc.Outcome)
	assert.Equal(t, int64(7), doc.Sequence)
	assert.False(t, doc.Timestamp.IsZero())
	require.NotNil(t, doc.CompletedAt)
	assert.Equal(t, record.CompletedAt, *doc.CompletedAt)
	assert.Empty(t, dlq.entries)
}

func TestMirrorRetriesTransientIndexFailures(t *testing.T) {
	record := successRecord("etag-2")
	feed := &sliceFeed{changes: []Change{changeFor(t, record, 1)}}
	index := newFakeIndex()
	index.failures["etag-2"] = 2
	dlq := &fakeDeadLetter{}

	m := New(feed, index, dlq, zap.NewNop(), 5, time.Millisecond)
	runMirror(t, m, feed, 1)

	assert.Equal(t, 3, index.attempts["etag-2"])
	assert.Contains(t, index.documents, "etag-2")
	assert.Empty(t, dlq.entries)
}

func TestMirrorDeadLettersAfterBudgetWithoutBlocking(t *testing.T) {
	stuck := successRecord("etag-stuck")
	healthy := successRecord("etag-healthy")
	feed := &sliceFeed{changes: []Change{
		changeFor(t, stuck, 1),
		changeFor(t, healthy, 2),
	}}
	index := newFakeIndex()
	index.failures["etag-stuck"] = 100
	dlq := &fakeDeadLetter{}

	m := New(feed, index, dlq, zap.NewNop(), 3, time.Millisecond)
	runMirror(t, m, feed, 2)

	// The stuck change went to the dead letter after three attempts and the
	// change behind it still reached the index.
	assert.Equal(t, 3, index.attempts["etag-stuck"])
	require.Len(t, dlq.entries, 1)
	assert.Equal(t, "etag-stuck", dlq.entries[0].RecordID)
	assert.Contains(t, dlq.reasons[0], "search cluster unavailable")
	assert.Contains(t, index.documents, "etag-healthy")
	assert.Equal(t, []int64{1, 2}, feed.committed)
}

func TestMirrorWithholdsCommitWhenDeadLetterFails(t *testing.T) {
	record := successRecord("etag-3")
	feed := &sliceFeed{changes: []Change{changeFor(t, record, 9)}}
	index := newFakeIndex()
	index.failures["etag-3"] = 100
	dlq := &fakeDeadLetter{fail: true}

	m := New(feed, index, dlq, zap.NewNop(), 2, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, m.Run(ctx))

	// The offset stays uncommitted so the change replays later.
	assert.Empty(t, feed.committed)
}

func TestMirrorRetriesDeadLetterPublish(t *testing.T) {
	record := successRecord("etag-4")
	feed := &sliceFeed{changes: []Change{changeFor(t, record, 5)}}
	index := newFakeIndex()
	index.failures["etag-4"] = 100
	dlq := &fakeDeadLetter{failures: 2}

	m := New(feed, index, dlq, zap.NewNop(), 3, time.Millisecond)
	runMirror(t, m, feed, 1)

	// A transient dead-letter outage is retried in place; the change lands
	// there without waiting for a restart to replay it.
	require.Len(t, dlq.entries, 1)
	assert.Equal(t, 3, dlq.attempts)
	assert.Equal(t, []int64{5}, feed.committed)
}

func TestMirrorDeadLettersUndecodablePayload(t *testing.T) {
	feed := &sliceFeed{changes: []Change{{RecordID: "junk", Payload: []byte("not json"), Sequence: 4}}}
	index := newFakeIndex()
	dlq := &fakeDeadLetter{}

	m := New(feed, index, dlq, zap.NewNop(), 3, time.Millisecond)
	runMirror(t, m, feed, 1)

	require.Len(t, dlq.entries, 1)
	assert.Equal(t, "junk", dlq.entries[0].RecordID)
	assert.Zero(t, index.attempts["junk"])
}
