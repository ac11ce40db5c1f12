package staging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/lakestage/pkg/catalogstore"
)

// Outcome is the terminal disposition of one ingress attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailed  Outcome = "FAILED"
)

// Record statuses.
const (
	StatusPending  = "PENDING"
	StatusComplete = "COMPLETE"
)

// CatalogRecord is the audit entry for one ingress attempt. It is created
// PENDING when processing begins and updated exactly once to a terminal
// outcome; it is never mutated afterward.
type CatalogRecord struct {
	RecordID          string            `json:"recordId"`
	DataSourceID      string            `json:"dataSourceId,omitempty"`
	RawBucket         string            `json:"rawBucket"`
	RawPath           string            `json:"rawPath"`
	DestinationBucket string            `json:"destinationBucket,omitempty"`
	DestinationPath   string            `json:"destinationPath,omitempty"`
	Status            string            `json:"status"`
	Outcome           Outcome           `json:"outcome,omitempty"`
	FailureReason     string            `json:"failureReason,omitempty"`
	SizeBytes         int64             `json:"sizeBytes,omitempty"`
	Checksum          string            `json:"checksum,omitempty"`
	Tags              map[string]string `json:"tags,omitempty"`
	ExecutionName     string            `json:"executionName,omitempty"`
	ReceivedAt        time.Time         `json:"receivedAt"`
	ValidatedAt       time.Time         `json:"validatedAt,omitempty"`
	CompletedAt       time.Time         `json:"completedAt,omitempty"`
}

// Terminal reports whether the record has reached a terminal outcome.
func (r *CatalogRecord) Terminal() bool {
	return r.Status == StatusComplete
}

var recordIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// RecordIDFor derives the catalog record id from the storage-assigned object
// identity. The derivation is deterministic so replays of the same ingress
// event collapse onto one record.
func RecordIDFor(objectID string) string {
	return recordIDSanitizer.ReplaceAllString(strings.TrimSpace(objectID), "-")
}

// ChangePublisher receives every catalog record creation and update; it is
// the change-capture feed the mirror consumes.
type ChangePublisher interface {
	PublishChange(ctx context.Context, record *CatalogRecord) error
}

const recordKeyPrefix = "record/"

// Recorder owns all catalog record writes. Begin is idempotent on record id;
// Complete enforces the write-once terminal rule.
type Recorder struct {
	kv      *catalogstore.Store
	changes ChangePublisher
	logger  *zap.Logger
}

// NewRecorder constructs a Recorder. changes may be nil in tests.
func NewRecorder(kv *catalogstore.Store, changes ChangePublisher, logger *zap.Logger) *Recorder {
	return &Recorder{kv: kv, changes: changes, logger: logger}
}

// Begin creates the PENDING record for an ingress event or returns the
// existing one: duplicate deliveries of the same object id collapse here.
// The returned bool is true when this call created the record.
func (r *Recorder) Begin(ctx context.Context, event IngressEvent, executionName string) (*CatalogRecord, bool, error) {
	record := &CatalogRecord{
		RecordID:      RecordIDFor(event.ObjectID),
		RawBucket:     event.Bucket,
		RawPath:       event.ObjectPath,
		Status:        StatusPending,
		SizeBytes:     event.Size,
		ExecutionName: executionName,
		ReceivedAt:    event.ReceivedAt.UTC(),
	}

	value, err := json.Marshal(record)
	if err != nil {
		return nil, false, fmt.Errorf("encode catalog record %s: %w", record.RecordID, err)
	}

	winner, created, err := r.kv.CreateIfAbsent([]byte(recordKeyPrefix+record.RecordID), value)
	if err != nil {
		return nil, false, fmt.Errorf("create catalog record %s: %w", record.RecordID, err)
	}

	stored := &CatalogRecord{}
	if err := json.Unmarshal(winner, stored); err != nil {
		return nil, false, fmt.Errorf("decode catalog record %s: %w", record.RecordID, err)
	}

	if created {
		r.publish(ctx, stored)
	}
	return stored, created, nil
}

// Complete transitions a record to its terminal outcome. Completing an
// already-terminal record with the same outcome is a no-op returning the
// stored record; a differing outcome yields a *ConflictError. mutate, if
// non-nil, fills outcome-specific fields (destination, tags, checksum)
// before the record is persisted.
func (r *Recorder) Complete(ctx context.Context, recordID string, outcome Outcome, reason string, mutate func(*CatalogRecord)) (*CatalogRecord, error) {
	var conflict *ConflictError

	updated, err := r.kv.Update([]byte(recordKeyPrefix+recordID), func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, fmt.Errorf("catalog record %s does not exist", recordID)
		}
		record := &CatalogRecord{}
		if err := json.Unmarshal(current, record); err != nil {
			return nil, fmt.Errorf("decode catalog record %s: %w", recordID, err)
		}

		if record.Terminal() {
			if record.Outcome != outcome {
				conflict = &ConflictError{RecordID: recordID, Existing: record.Outcome, Requested: outcome}
				return nil, conflict
			}
			return current, nil
		}

		record.Status = StatusComplete
		record.Outcome = outcome
		record.FailureReason = reason
		record.CompletedAt = time.Now().UTC()
		if mutate != nil {
			mutate(record)
		}
		return json.Marshal(record)
	})
	if conflict != nil {
		return nil, conflict
	}
	if err != nil {
		return nil, err
	}

	record := &CatalogRecord{}
	if err := json.Unmarshal(updated, record); err != nil {
		return nil, fmt.Errorf("decode catalog record %s: %w", recordID, err)
	}

	r.publish(ctx, record)
	return record, nil
}

// Get returns one record by id.
func (r *Recorder) Get(ctx context.Context, recordID string) (*CatalogRecord, error) {
	value, err := r.kv.Get([]byte(recordKeyPrefix + recordID))
	if errors.Is(err, catalogstore.ErrKeyNotFound) {
		return nil, fmt.Errorf("catalog record %s: %w", recordID, err)
	}
	if err != nil {
		return nil, err
	}
	record := &CatalogRecord{}
	if err := json.Unmarshal(value, record); err != nil {
		return nil, fmt.Errorf("decode catalog record %s: %w", recordID, err)
	}
	return record, nil
}

// List returns up to limit records, optionally filtered by outcome.
func (r *Recorder) List(ctx context.Context, outcome Outcome, limit int) ([]*CatalogRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []*CatalogRecord
	errStop := errors.New("stop")
	err := r.kv.List([]byte(recordKeyPrefix), func(key, value []byte) error {
		record := &CatalogRecord{}
		if err := json.Unmarshal(value, record); err != nil {
			return fmt.Errorf("decode catalog record %s: %w", key, err)
		}
		if outcome != "" && record.Outcome != outcome {
			return nil
		}
		records = append(records, record)
		if len(records) >= limit {
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	return records, nil
}

// publish pushes the record onto the change feed. Delivery is at-least-once
// and mirror upserts are idempotent, so a publish failure is logged and the
// pipeline proceeds; the mirror reconciles on the next change for this id.
func (r *Recorder) publish(ctx context.Context, record *CatalogRecord) {
	if r.changes == nil {
		return
	}
	if err := r.changes.PublishChange(ctx, record); err != nil {
		r.logger.Error("publish catalog change",
			zap.String("record_id", record.RecordID),
			zap.Error(err))
	}
}
