package staging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// NotificationSource is the bucket-notification feed the listener consumes.
// Fetch blocks for the next message; Commit acknowledges it.
type NotificationSource interface {
	Fetch(ctx context.Context) (kafkago.Message, error)
	Commit(ctx context.Context, msgs ...kafkago.Message) error
}

// Listener consumes raw-area bucket notifications and dispatches each
// ingress event to its own orchestrator run on a bounded worker pool.
// An offset is committed only once every event in its message has a
// terminal catalog record; otherwise it is withheld so the message is
// redelivered and the events are not silently dropped.
type Listener struct {
	source NotificationSource
	pool   *ants.Pool
	orch   *Orchestrator
	logger *zap.Logger
}

// NewListener constructs a Listener with a pool of the given size.
func NewListener(source NotificationSource, orch *Orchestrator, workers int, logger *zap.Logger) (*Listener, error) {
	if workers < 1 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, err
	}
	return &Listener{
		source: source,
		pool:   pool,
		orch:   orch,
		logger: logger,
	}, nil
}

// Run fetches notifications until ctx is canceled.
func (l *Listener) Run(ctx context.Context) error {
	for {
		msg, err := l.source.Fetch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		events, err := DecodeNotification(msg.Value, time.Now().UTC())
		if err != nil {
			// A poison message would block the partition forever; log it,
			// commit past it.
			l.logger.Error("undecodable bucket notification",
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			if err := l.source.Commit(ctx, msg); err != nil {
				l.logger.Error("commit notification offset", zap.Error(err))
			}
			continue
		}

		// unaudited counts events that errored before reaching a terminal
		// catalog record; committing past them would lose the only trace.
		var (
			wg        sync.WaitGroup
			unaudited atomic.Int64
		)
		for _, event := range events {
			if IsPipelineWrite(event.Metadata) {
				l.logger.Debug("skipping pipeline-authored object",
					zap.String("path", event.ObjectPath))
				continue
			}

			wg.Add(1)
			submitErr := l.pool.Submit(func() {
				defer wg.Done()
				record, err := l.orch.Process(ctx, event)
				if err != nil {
					if record == nil || !record.Terminal() {
						unaudited.Add(1)
					}
					l.logger.Error("ingress processing failed",
						zap.String("object_path", event.ObjectPath),
						zap.String("object_id", event.ObjectID),
						zap.Error(err))
				}
			})
			if submitErr != nil {
				wg.Done()
				unaudited.Add(1)
				l.logger.Error("submit ingress event", zap.Error(submitErr))
			}
		}
		wg.Wait()

		if n := unaudited.Load(); n > 0 {
			l.logger.Warn("withholding notification offset for redelivery",
				zap.Int64("offset", msg.Offset),
				zap.Int64("unaudited_events", n))
			continue
		}

		if err := l.source.Commit(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			l.logger.Error("commit notification offset", zap.Error(err))
		}
	}
}

// Close releases the worker pool.
func (l *Listener) Close() {
	l.pool.Release()
}
