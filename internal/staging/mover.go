package staging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/your-org/lakestage/pkg/storage/objectstore"
)

// Provenance marker applied to every object the pipeline writes. The
// trigger boundary drops notifications for objects carrying it, so the
// pipeline's own copies can never re-enter the pipeline.
const (
	ProvenanceKey   = "Lakestage-Provenance"
	ProvenanceValue = "staging-engine"

	// notificationProvenanceKey is how the marker appears in bucket
	// notification user metadata, where the store reports it with the
	// standard metadata header prefix.
	notificationProvenanceKey = "X-Amz-Meta-Lakestage-Provenance"
)

// IsPipelineWrite reports whether object metadata carries the pipeline's
// provenance marker, in either stored or notification form.
func IsPipelineWrite(metadata map[string]string) bool {
	if metadata == nil {
		return false
	}
	return metadata[ProvenanceKey] == ProvenanceValue ||
		metadata[notificationProvenanceKey] == ProvenanceValue
}

// ChecksumKey holds the payload SHA-256 in destination metadata when a
// profile asks for checksums.
const ChecksumKey = "Lakestage-Sha256"

// FailureReasonKey holds the rejection reason in failed-area metadata, so a
// resumed run can complete the record without re-deriving the reason.
const FailureReasonKey = "Lakestage-Failure-Reason"

// Checksum returns the hex SHA-256 of a payload.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Mover places objects between storage areas with copy, verify and
// delete-source semantics. A destination is only ever reported once its
// presence has been verified; partial failures restart from the copy step.
type Mover struct {
	store       objectstore.Client
	logger      *zap.Logger
	maxAttempts int
	backoffBase time.Duration
}

// NewMover constructs a Mover. maxAttempts bounds the copy/verify retries,
// backoffBase seeds the exponential backoff between them.
func NewMover(store objectstore.Client, logger *zap.Logger, maxAttempts int, backoffBase time.Duration) *Mover {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if backoffBase <= 0 {
		backoffBase = 250 * time.Millisecond
	}
	return &Mover{
		store:       store,
		logger:      logger,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
	}
}

// Place copies the source object to the destination with the given metadata
// (plus the provenance marker), verifies the copy, and finally deletes the
// source. Verification compares sizes, and checksums when expectedChecksum
// is set. The removal of an already-gone source is treated as success so
// replays of completed moves stay idempotent.
func (m *Mover) Place(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string, metadata map[string]string, expectedChecksum string) error {
	meta := make(map[string]string, len(metadata)+2)
	for k, v := range metadata {
		meta[k] = v
	}
	meta[ProvenanceKey] = ProvenanceValue
	if expectedChecksum != "" {
		meta[ChecksumKey] = expectedChecksum
	}

	copyAndVerify := func() (struct{}, error) {
		srcInfo, err := m.store.Stat(ctx, srcBucket, srcKey)
		if err != nil {
			// The source disappearing after a verified copy means a prior
			// attempt (or a replayed event) already finished the move.
			if _, dstErr := m.store.Stat(ctx, dstBucket, dstKey); dstErr == nil {
				return struct{}{}, nil
			}
			return struct{}{}, fmt.Errorf("stat source %s/%s: %w", srcBucket, srcKey, err)
		}

		if err := m.store.Copy(ctx, srcBucket, srcKey, dstBucket, dstKey, meta); err != nil {
			return struct{}{}, fmt.Errorf("copy to %s/%s: %w", dstBucket, dstKey, err)
		}

		dstInfo, err := m.store.Stat(ctx, dstBucket, dstKey)
		if err != nil {
			return struct{}{}, fmt.Errorf("verify %s/%s: %w", dstBucket, dstKey, err)
		}
		if dstInfo.Size != srcInfo.Size {
			return struct{}{}, fmt.Errorf("verify %s/%s: size %d does not match source %d", dstBucket, dstKey, dstInfo.Size, srcInfo.Size)
		}
		if expectedChecksum != "" {
			content, err := m.store.Get(ctx, dstBucket, dstKey)
			if err != nil {
				return struct{}{}, fmt.Errorf("verify checksum %s/%s: %w", dstBucket, dstKey, err)
			}
			if got := Checksum(content); got != expectedChecksum {
				return struct{}{}, fmt.Errorf("verify checksum %s/%s: got %s, want %s", dstBucket, dstKey, got, expectedChecksum)
			}
		}
		return struct{}{}, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.backoffBase

	_, err := backoff.Retry(ctx, copyAndVerify,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(m.maxAttempts)),
	)
	if err != nil {
		return err
	}

	if err := m.store.Remove(ctx, srcBucket, srcKey); err != nil {
		if _, statErr := m.store.Stat(ctx, srcBucket, srcKey); statErr != nil {
			return nil // already gone
		}
		m.logger.Warn("raw object left behind after verified copy",
			zap.String("bucket", srcBucket),
			zap.String("key", srcKey),
			zap.Error(err))
		return fmt.Errorf("delete source %s/%s: %w", srcBucket, srcKey, err)
	}
	return nil
}
