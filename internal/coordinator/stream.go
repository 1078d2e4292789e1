// Package coordinator drives the two run modes over the enrichment and
// sink pipeline: the live Stream Coordinator polling the partitioned log,
// and the Backfill Coordinator replaying history straight from Postgres.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/fable-fm/engagement-streamproc/internal/domain"
	"github.com/fable-fm/engagement-streamproc/internal/enrich"
	"github.com/fable-fm/engagement-streamproc/internal/metrics"
)

// LogClient is the narrow slice of *kgo.Client the Stream Coordinator
// depends on, so tests can drive it against a fake rather than a real
// broker.
type LogClient interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
	Close()
}

// StreamConfig configures a StreamCoordinator's batching behaviour.
type StreamConfig struct {
	MaxPollRecords int
	BatchSize      int
	Interval       time.Duration
	ManualCommits  bool // spec.md's "exactly-once flag" — really at-least-once with manual offset commits.
}

// StreamCoordinator polls the log in bounded batches, enriches each
// record, fans each enriched event out to the three sinks, and commits
// offsets once a batch is fully dispatched. One StreamCoordinator runs a
// single serial loop; dispatch within a batch is the only concurrency.
type StreamCoordinator struct {
	log      LogClient
	enricher *enrich.Enricher
	sinks    Sinks
	cfg      StreamConfig
	logger   *zap.Logger
	metrics  *Metrics
}

func NewStreamCoordinator(log LogClient, enricher *enrich.Enricher, sinks Sinks, cfg StreamConfig, logger *zap.Logger) *StreamCoordinator {
	if cfg.MaxPollRecords <= 0 {
		cfg.MaxPollRecords = 500
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &StreamCoordinator{
		log:      log,
		enricher: enricher,
		sinks:    sinks,
		cfg:      cfg,
		logger:   logger,
		metrics:  newMetrics(),
	}
}

// Metrics returns the coordinator's exposed counters, per spec.md §4.6:
// processed_count, error_count, rolling average processing time, last
// processed timestamp, current buffer size, running flag.
func (c *StreamCoordinator) Metrics() Snapshot { return c.metrics.Snapshot() }

// Run polls the log and processes batches until ctx is cancelled. On
// cancellation it processes the residual buffer once more before
// returning, per spec.md §5's shutdown sequence.
func (c *StreamCoordinator) Run(ctx context.Context) error {
	c.metrics.setRunning(true)
	defer c.metrics.setRunning(false)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	var batch []*kgo.Record
	lastFlush := time.Now()

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := c.processBatch(ctx, batch)
		batch = batch[:0]
		lastFlush = time.Now()
		c.metrics.setBufferSize(0)
		return err
	}

	for {
		select {
		case <-ctx.Done():
			// The residual batch runs on a context detached from the
			// cancellation, so its sink writes and offset commit are not
			// cut short by the shutdown that triggered them.
			shutdownErr := ctx.Err()
			ctx = context.WithoutCancel(ctx)
			if err := flush(); err != nil {
				c.logger.Error("final batch processing failed during shutdown", zap.Error(err))
			}
			return shutdownErr
		default:
		}

		pollCtx, cancel := context.WithTimeout(ctx, time.Second)
		fetches := c.log.PollFetches(pollCtx)
		cancel()

		for _, fe := range fetches.Errors() {
			c.logger.Warn("log fetch error", zap.String("topic", fe.Topic), zap.Int32("partition", fe.Partition), zap.Error(fe.Err))
		}

		fetches.EachRecord(func(r *kgo.Record) {
			metrics.EventsConsumed.Inc()
			batch = append(batch, r)
			c.metrics.setBufferSize(len(batch))
		})

		if len(batch) >= c.cfg.BatchSize {
			if err := flush(); err != nil {
				if errors.Is(err, domain.ErrStoreUnavailable) {
					c.logger.Error("batch aborted: content store unavailable, offsets not advanced", zap.Error(err))
					continue
				}
				return err
			}
			continue
		}

		if time.Since(lastFlush) >= c.cfg.Interval {
			if err := flush(); err != nil {
				if errors.Is(err, domain.ErrStoreUnavailable) {
					c.logger.Error("batch aborted: content store unavailable, offsets not advanced", zap.Error(err))
					continue
				}
				return err
			}
		}
	}
}

// processBatch drives one batch through Enriching -> Dispatching ->
// Committing. A fatal error in Enriching aborts the batch without
// advancing offsets; sink errors inside Dispatching are isolated per sink
// and never reach here as errors.
func (c *StreamCoordinator) processBatch(ctx context.Context, records []*kgo.Record) error {
	start := time.Now()
	state := stateEnriching

	survivors := make([]domain.EnrichedEvent, 0, len(records))
	for _, r := range records {
		var raw domain.RawEvent
		if err := json.Unmarshal(r.Value, &raw); err != nil {
			metrics.EventsDropped.WithLabelValues(string(domain.DropInvalid)).Inc()
			c.logger.Warn("dropping unparsable record", zap.Error(err))
			continue
		}

		ev, reason, err := c.enricher.Enrich(ctx, raw)
		if err != nil {
			// TransientStore: abort the whole batch without committing;
			// the next poll re-delivers these same records.
			c.logger.Error("batch aborted", zap.String("state", string(state)), zap.Error(err))
			return err
		}
		if reason != domain.DropNone {
			metrics.EventsDropped.WithLabelValues(string(reason)).Inc()
			continue
		}
		survivors = append(survivors, ev)
	}

	state = stateDispatching
	for _, ev := range survivors {
		evStart := time.Now()
		if err := dispatch(ctx, c.sinks, ev, c.logger); err != nil {
			// dispatch isolates sink failures and currently always returns
			// nil; this branch only guards against that changing.
			c.metrics.recordEvent(time.Since(evStart), true)
			c.logger.Error("batch aborted", zap.String("state", string(state)), zap.Error(err))
			return err
		}
		c.metrics.recordEvent(time.Since(evStart), false)
		metrics.EventsProcessed.Inc()
	}

	if err := c.sinks.Warehouse.Flush(ctx); err != nil {
		c.logger.Warn("warehouse flush failed at end of batch", zap.Error(err))
	}

	state = stateCommitting
	if c.cfg.ManualCommits && len(records) > 0 {
		if err := c.log.CommitRecords(ctx, records...); err != nil {
			c.logger.Error("batch aborted", zap.String("state", string(state)), zap.Error(err))
			return err
		}
	}
	state = stateIdle
	c.logger.Debug("batch processed", zap.String("state", string(state)), zap.Int("records", len(records)), zap.Int("survivors", len(survivors)))

	metrics.BatchSize.Observe(float64(len(records)))
	metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
	return nil
}
