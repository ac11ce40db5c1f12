package staging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/your-org/lakestage/pkg/storage/objectstore"
	"github.com/your-org/lakestage/pkg/tracing"
)

// State names one phase of an ingress event's lifecycle.
type State string

const (
	StateReceived   State = "RECEIVED"
	StateResolving  State = "RESOLVING"
	StateValidating State = "VALIDATING"
	StateStaging    State = "STAGING"
	StateFailing    State = "FAILING"
	StateRecording  State = "RECORDING"
	StateDone       State = "DONE"
	StateError      State = "ERROR"
)

// OrchestratorParams wires the orchestrator's collaborators.
type OrchestratorParams struct {
	Registry  *Registry
	Validator *Validator
	Mover     *Mover
	Recorder  *Recorder
	Store     objectstore.Client
	Logger    *zap.Logger

	StagingBucket string
	FailedBucket  string

	StepTimeout        time.Duration
	StepMaxAttempts    int
	StepBackoff        time.Duration
	RunTimeout         time.Duration
	MaxValidationBytes int64
}

// Orchestrator drives one ingress event through the staging state machine:
// RECEIVED -> RESOLVING -> VALIDATING -> {STAGING|FAILING} -> RECORDING ->
// DONE, with ERROR absorbing any step whose retry budget is exhausted.
// Each event runs through its own invocation; the only shared state is the
// catalog, guarded by the record id idempotency rule.
type Orchestrator struct {
	registry  *Registry
	validator *Validator
	mover     *Mover
	recorder  *Recorder
	store     objectstore.Client
	logger    *zap.Logger
	tracer    trace.Tracer

	stagingBucket string
	failedBucket  string

	stepTimeout        time.Duration
	stepMaxAttempts    int
	stepBackoff        time.Duration
	runTimeout         time.Duration
	maxValidationBytes int64
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(p OrchestratorParams) *Orchestrator {
	stepTimeout := p.StepTimeout
	if stepTimeout <= 0 {
		stepTimeout = 30 * time.Second
	}
	stepMaxAttempts := p.StepMaxAttempts
	if stepMaxAttempts < 1 {
		stepMaxAttempts = 3
	}
	stepBackoff := p.StepBackoff
	if stepBackoff <= 0 {
		stepBackoff = 200 * time.Millisecond
	}
	runTimeout := p.RunTimeout
	if runTimeout <= 0 {
		runTimeout = 5 * time.Minute
	}
	return &Orchestrator{
		registry:           p.Registry,
		validator:          p.Validator,
		mover:              p.Mover,
		recorder:           p.Recorder,
		store:              p.Store,
		logger:             p.Logger,
		tracer:             tracing.Tracer(),
		stagingBucket:      p.StagingBucket,
		failedBucket:       p.FailedBucket,
		stepTimeout:        stepTimeout,
		stepMaxAttempts:    stepMaxAttempts,
		stepBackoff:        stepBackoff,
		runTimeout:         runTimeout,
		maxValidationBytes: p.MaxValidationBytes,
	}
}

// Process runs one ingress event to a terminal state. It returns the
// terminal catalog record, or nil when the event was dropped at the trigger
// boundary (a notification for one of the pipeline's own writes). A non-nil
// error is an infrastructural ERROR outcome; the record is returned
// alongside the error whenever it reached a terminal state, and is nil when
// nothing auditable was persisted, so callers can withhold acknowledgement
// and have the event redelivered.
func (o *Orchestrator) Process(ctx context.Context, event IngressEvent) (*CatalogRecord, error) {
	if IsPipelineWrite(event.Metadata) {
		o.logger.Debug("dropping notification for pipeline write",
			zap.String("path", event.ObjectPath))
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.runTimeout)
	defer cancel()

	ctx, span := o.tracer.Start(ctx, "staging.run", trace.WithAttributes(
		attribute.String("object.path", event.ObjectPath),
		attribute.String("object.id", event.ObjectID),
	))
	defer span.End()

	executionName := uuid.NewString()
	log := o.logger.With(
		zap.String("object_path", event.ObjectPath),
		zap.String("object_id", event.ObjectID),
		zap.String("execution", executionName),
	)

	// RECEIVED: open the audit record. Duplicate deliveries of the same
	// object id collapse here.
	var (
		record  *CatalogRecord
		created bool
	)
	err := o.step(ctx, "begin", func(ctx context.Context) error {
		var err error
		record, created, err = o.recorder.Begin(ctx, event, executionName)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("begin catalog record: %w", err)
	}
	if record.Terminal() {
		log.Info("event already processed to terminal outcome",
			zap.String("outcome", string(record.Outcome)))
		return record, nil
	}
	if !created {
		log.Info("resuming pending record", zap.String("record_id", record.RecordID))
	}

	// RESOLVING
	var profile *DataSourceProfile
	err = o.step(ctx, string(StateResolving), func(ctx context.Context) error {
		var err error
		profile, err = o.registry.Resolve(ctx, event.ObjectPath)
		return err
	})
	switch {
	case errors.Is(err, ErrUnrecognizedSource):
		return o.fail(ctx, log, event, record, nil, ErrUnrecognizedSource.Error(), time.Time{})
	case err != nil:
		return o.abort(ctx, log, record, StateResolving, err)
	}

	tags, err := ComputeTags(event, profile)
	if err != nil {
		return o.abort(ctx, log, record, StateStaging, err)
	}

	// VALIDATING
	var (
		checksum      string
		validatedAt   time.Time
		vErr          error
		alreadyStaged bool
		priorReason   string
		alreadyFailed bool
	)
	err = o.step(ctx, string(StateValidating), func(ctx context.Context) error {
		content, err := o.store.Get(ctx, event.Bucket, event.ObjectPath)
		if err != nil {
			// The raw object being gone usually means a prior run finished
			// the move and crashed before RECORDING. Converge on whatever
			// the destination areas say instead of failing the record; the
			// partition path is deterministic, so the check is exact.
			if info, statErr := o.store.Stat(ctx, o.stagingBucket, tags.PartitionPath); statErr == nil && IsPipelineWrite(info.Metadata) {
				alreadyStaged = true
				checksum = info.Metadata[ChecksumKey]
				return nil
			}
			if info, statErr := o.store.Stat(ctx, o.failedBucket, event.ObjectPath); statErr == nil && IsPipelineWrite(info.Metadata) {
				alreadyFailed = true
				priorReason = info.Metadata[FailureReasonKey]
				return nil
			}
			return fmt.Errorf("fetch %s/%s: %w", event.Bucket, event.ObjectPath, err)
		}
		if o.maxValidationBytes > 0 && int64(len(content)) > o.maxValidationBytes {
			vErr = &ValidationError{Reason: fmt.Sprintf("payload of %d bytes exceeds validation limit", len(content))}
			return nil
		}
		if profile.ComputeChecksum {
			checksum = Checksum(content)
		}
		vErr = o.validator.Validate(event.ObjectName(), content, profile.Schema)
		validatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return o.abort(ctx, log, record, StateValidating, err)
	}
	if alreadyFailed {
		if priorReason == "" {
			priorReason = "routed to failed area by a prior run"
		}
		log.Info("object already in failed area; completing record")
		return o.fail(ctx, log, event, record, profile, priorReason, time.Time{})
	}
	if vErr != nil {
		var ve *ValidationError
		reason := vErr.Error()
		if errors.As(vErr, &ve) {
			reason = ve.Reason
		}
		return o.fail(ctx, log, event, record, profile, reason, validatedAt)
	}

	// STAGING. A replayed or resumed move is a no-op inside Place once the
	// destination is verified present.
	err = o.step(ctx, string(StateStaging), func(ctx context.Context) error {
		return o.mover.Place(ctx, event.Bucket, event.ObjectPath,
			o.stagingBucket, tags.PartitionPath, tags.Metadata(), checksum)
	})
	if err != nil {
		return o.abort(ctx, log, record, StateStaging, err)
	}
	if alreadyStaged {
		log.Info("object already staged; completing record")
	}

	// RECORDING
	var completed *CatalogRecord
	err = o.step(ctx, string(StateRecording), func(ctx context.Context) error {
		var err error
		completed, err = o.recorder.Complete(ctx, record.RecordID, OutcomeSuccess, "", func(r *CatalogRecord) {
			r.DataSourceID = profile.ID
			r.DestinationBucket = o.stagingBucket
			r.DestinationPath = tags.PartitionPath
			r.Checksum = checksum
			r.Tags = tags.Metadata()
			r.ValidatedAt = validatedAt
		})
		return err
	})
	if err != nil {
		return o.conflictOrAbort(ctx, log, record, err)
	}

	log.Info("object staged",
		zap.String("data_source", profile.ID),
		zap.String("destination", tags.PartitionPath))
	return completed, nil
}

// fail routes the object to the failed area and records a FAILED outcome
// with the given validation-class reason. The failed area keeps the raw
// path layout unchanged.
func (o *Orchestrator) fail(ctx context.Context, log *zap.Logger, event IngressEvent, record *CatalogRecord, profile *DataSourceProfile, reason string, validatedAt time.Time) (*CatalogRecord, error) {
	meta := map[string]string{FailureReasonKey: reason}
	if profile != nil {
		meta["Lakestage-Source"] = profile.ID
	}

	err := o.step(ctx, string(StateFailing), func(ctx context.Context) error {
		return o.mover.Place(ctx, event.Bucket, event.ObjectPath,
			o.failedBucket, event.ObjectPath, meta, "")
	})
	if err != nil {
		return o.abort(ctx, log, record, StateFailing, err)
	}

	var completed *CatalogRecord
	err = o.step(ctx, string(StateRecording), func(ctx context.Context) error {
		var err error
		completed, err = o.recorder.Complete(ctx, record.RecordID, OutcomeFailed, reason, func(r *CatalogRecord) {
			if profile != nil {
				r.DataSourceID = profile.ID
			}
			r.DestinationBucket = o.failedBucket
			r.DestinationPath = event.ObjectPath
			if !validatedAt.IsZero() {
				r.ValidatedAt = validatedAt
			}
		})
		return err
	})
	if err != nil {
		return o.conflictOrAbort(ctx, log, record, err)
	}

	log.Info("object routed to failed area", zap.String("reason", reason))
	return completed, nil
}

// abort is the transition into ERROR: the step's retry budget is exhausted
// (or the run deadline hit), so the record is terminalized FAILED with an
// infrastructure reason, kept distinct from schema-validation reasons, and
// the error is reported to the caller together with the terminal record.
func (o *Orchestrator) abort(ctx context.Context, log *zap.Logger, record *CatalogRecord, state State, cause error) (*CatalogRecord, error) {
	reason := fmt.Sprintf("infrastructure failure at %s: %v", state, cause)
	log.Error("orchestration aborted", zap.String("state", string(state)), zap.Error(cause))

	// Completion gets a fresh context: the run deadline may already be the
	// thing that failed, and the audit trace must survive it.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.stepTimeout)
	defer cancel()

	completed, cerr := o.recorder.Complete(recordCtx, record.RecordID, OutcomeFailed, reason, nil)
	if cerr != nil {
		var conflict *ConflictError
		if errors.As(cerr, &conflict) {
			log.Error("conflicting terminal outcome while aborting", zap.Error(conflict))
		} else {
			log.Error("failed to record aborted run", zap.Error(cerr))
		}
		return nil, fmt.Errorf("%s: %w", state, cause)
	}
	return completed, fmt.Errorf("%s: %w", state, cause)
}

// conflictOrAbort distinguishes the write-once conflict (an operational
// alert, never retried) from infrastructure failures during RECORDING.
func (o *Orchestrator) conflictOrAbort(ctx context.Context, log *zap.Logger, record *CatalogRecord, err error) (*CatalogRecord, error) {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		log.Error("catalog record conflict", zap.Error(conflict))
		return nil, conflict
	}
	return o.abort(ctx, log, record, StateRecording, err)
}

// step runs fn under the per-attempt execution budget, retrying transient
// failures with bounded exponential backoff. Resolution, validation and
// conflict outcomes are deterministic and never retried.
func (o *Orchestrator) step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "staging."+name)
	defer span.End()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.stepBackoff

	attempt := func() (struct{}, error) {
		stepCtx, cancel := context.WithTimeout(ctx, o.stepTimeout)
		defer cancel()

		err := fn(stepCtx)
		if err != nil && !transient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(o.stepMaxAttempts)),
	)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// transient reports whether a step error may succeed on retry.
func transient(err error) bool {
	var (
		ve *ValidationError
		ce *ConflictError
	)
	if errors.Is(err, ErrUnrecognizedSource) || errors.As(err, &ve) || errors.As(err, &ce) {
		return false
	}
	return true
}
