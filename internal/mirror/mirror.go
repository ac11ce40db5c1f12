package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/your-org/lakestage/internal/staging"
	"github.com/your-org/lakestage/pkg/kafka"
)

// Change is one entry from the catalog change-capture feed.
type Change struct {
	RecordID string
	Payload  []byte
	Sequence int64

	// msg is the underlying Kafka message when the change came off a
	// KafkaFeed; the zero value is fine for other feeds.
	msg kafkago.Message
}

// Feed is the change-capture source. Fetch blocks for the next change;
// Commit acknowledges it. Changes for one record id arrive in order.
type Feed interface {
	Fetch(ctx context.Context) (Change, error)
	Commit(ctx context.Context, change Change) error
}

// Index accepts search document upserts keyed by record id.
type Index interface {
	Upsert(ctx context.Context, id string, doc any) error
}

// DeadLetter receives changes whose mirror retry budget is exhausted.
type DeadLetter interface {
	Publish(ctx context.Context, change Change, reason string) error
}

// Document is the denormalized search mirror of a catalog record. The
// designated @timestamp field enables time-based querying; the sequence
// number is the change-feed offset the document was built from.
type Document struct {
	RecordID        string            `json:"recordId"`
	DataSourceID    string            `json:"dataSourceId,omitempty"`
	RawPath         string            `json:"rawPath"`
	DestinationPath string            `json:"destinationPath,omitempty"`
	Status          string            `json:"status"`
	Outcome         string            `json:"outcome,omitempty"`
	FailureReason   string            `json:"failureReason,omitempty"`
	SizeBytes       int64             `json:"sizeBytes,omitempty"`
	Tags            map[string]string `json:"tags,omitempty"`
	ReceivedAt      time.Time         `json:"receivedAt"`
	CompletedAt     *time.Time        `json:"completedAt,omitempty"`
	Timestamp       time.Time         `json:"@timestamp"`
	Sequence        int64             `json:"@sequenceNumber"`
}

// Mirror propagates catalog changes into the search index, eventually
// consistent and independently retryable: a change that cannot be mirrored
// within the retry budget goes to the dead letter and never blocks the
// changes behind it.
type Mirror struct {
	feed        Feed
	index       Index
	deadLetter  DeadLetter
	logger      *zap.Logger
	maxAttempts int
	backoffBase time.Duration
}

// New constructs a Mirror.
func New(feed Feed, index Index, deadLetter DeadLetter, logger *zap.Logger, maxAttempts int, backoffBase time.Duration) *Mirror {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if backoffBase <= 0 {
		backoffBase = 500 * time.Millisecond
	}
	return &Mirror{
		feed:        feed,
		index:       index,
		deadLetter:  deadLetter,
		logger:      logger,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
	}
}

// Run consumes the change feed until ctx is canceled.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		change, err := m.feed.Fetch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		if err := m.handle(ctx, change); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.logger.Error("change moved to dead letter",
				zap.String("record_id", change.RecordID),
				zap.Int64("sequence", change.Sequence),
				zap.Error(err))
			if dlErr := m.publishDeadLetter(ctx, change, err.Error()); dlErr != nil {
				// Leave the offset uncommitted; the change replays.
				m.logger.Error("dead letter publish failed", zap.Error(dlErr))
				continue
			}
		}

		if err := m.feed.Commit(ctx, change); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			m.logger.Error("commit change offset", zap.Error(err))
		}
	}
}

// handle upserts one change with bounded exponential backoff.
func (m *Mirror) handle(ctx context.Context, change Change) error {
	var record staging.CatalogRecord
	if err := json.Unmarshal(change.Payload, &record); err != nil {
		return fmt.Errorf("decode catalog change %s: %w", change.RecordID, err)
	}

	doc := documentFor(&record, change.Sequence)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.backoffBase

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, m.index.Upsert(ctx, record.RecordID, doc)
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(m.maxAttempts)),
	)
	return err
}

// publishDeadLetter pushes an exhausted change to the dead letter, retrying
// transient publish failures so the change is not stranded behind a blip
// until a restart or rebalance replays it.
func (m *Mirror) publishDeadLetter(ctx context.Context, change Change, reason string) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.backoffBase

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, m.deadLetter.Publish(ctx, change, reason)
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(m.maxAttempts)),
	)
	return err
}

func documentFor(record *staging.CatalogRecord, sequence int64) Document {
	doc := Document{
		RecordID:        record.RecordID,
		DataSourceID:    record.DataSourceID,
		RawPath:         record.RawPath,
		DestinationPath: record.DestinationPath,
		Status:          record.Status,
		Outcome:         string(record.Outcome),
		FailureReason:   record.FailureReason,
		SizeBytes:       record.SizeBytes,
		Tags:            record.Tags,
		ReceivedAt:      record.ReceivedAt,
		Timestamp:       time.Now().UTC(),
		Sequence:        sequence,
	}
	if !record.CompletedAt.IsZero() {
		completed := record.CompletedAt
		doc.CompletedAt = &completed
	}
	return doc
}

// KafkaFeed adapts the change-capture topic to the Feed interface.
type KafkaFeed struct {
	consumer *kafka.Consumer
}

// NewKafkaFeed constructs a KafkaFeed over the given consumer.
func NewKafkaFeed(consumer *kafka.Consumer) *KafkaFeed {
	return &KafkaFeed{consumer: consumer}
}

func (f *KafkaFeed) Fetch(ctx context.Context) (Change, error) {
	msg, err := f.consumer.Fetch(ctx)
	if err != nil {
		return Change{}, err
	}
	return Change{
		RecordID: string(msg.Key),
		Payload:  msg.Value,
		Sequence: msg.Offset,
		msg:      msg,
	}, nil
}

func (f *KafkaFeed) Commit(ctx context.Context, change Change) error {
	return f.consumer.Commit(ctx, change.msg)
}

// KafkaDeadLetter publishes exhausted changes to the dead-letter topic for
// operator inspection.
type KafkaDeadLetter struct {
	producer *kafka.Producer
}

// NewKafkaDeadLetter constructs a KafkaDeadLetter over the given producer.
func NewKafkaDeadLetter(producer *kafka.Producer) *KafkaDeadLetter {
	return &KafkaDeadLetter{producer: producer}
}

func (d *KafkaDeadLetter) Publish(ctx context.Context, change Change, reason string) error {
	headers := map[string]string{
		"record_id": change.RecordID,
		"reason":    reason,
	}
	return d.producer.Publish(ctx, []byte(change.RecordID), change.Payload, headers)
}
