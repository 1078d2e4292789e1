// Package warehouse implements the analytical sink: a buffered, micro-batch
// insert into a ClickHouse table, mirroring the teacher's worker pool
// PrepareBatch/Append/Send flush sequence.
package warehouse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fable-fm/engagement-streamproc/internal/domain"
	"github.com/fable-fm/engagement-streamproc/internal/metrics"
)

// Batch is the narrow slice of clickhouse-go's driver.Batch the sink
// actually uses, matching the Append/Send sequence in the teacher's
// worker pool processBatch.
type Batch interface {
	Append(v ...interface{}) error
	Send() error
}

// Conn is the narrow slice of clickhouse-go's driver.Conn the sink needs.
// A real driver.Conn satisfies this directly.
type Conn interface {
	PrepareBatch(ctx context.Context, query string) (Batch, error)
	Exec(ctx context.Context, query string, args ...interface{}) error
}

// Sink buffers enriched events and flushes them to ClickHouse either when
// the buffer reaches maxBatchSize or maxBatchAge elapses since the oldest
// buffered row, whichever comes first.
type Sink struct {
	conn  Conn
	table string

	logger       *zap.Logger
	maxBatchSize int
	maxBatchAge  time.Duration

	mu       sync.Mutex
	buffer   []domain.EnrichedEvent
	oldestAt time.Time
}

func New(conn Conn, table string, maxBatchSize int, maxBatchAge time.Duration, logger *zap.Logger) *Sink {
	return &Sink{
		conn:         conn,
		table:        table,
		logger:       logger,
		maxBatchSize: maxBatchSize,
		maxBatchAge:  maxBatchAge,
	}
}

// Add appends ev to the buffer and flushes it if the size threshold is
// reached. Add never blocks on the network beyond the flush itself.
func (s *Sink) Add(ctx context.Context, ev domain.EnrichedEvent) error {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.oldestAt = time.Now()
	}
	s.buffer = append(s.buffer, ev)
	shouldFlush := len(s.buffer) >= s.maxBatchSize
	s.mu.Unlock()

	metrics.QueueDepth.Set(float64(len(s.buffer)))

	if shouldFlush {
		return s.Flush(ctx)
	}
	return nil
}

// MaybeFlushByAge flushes the buffer if it is non-empty and the oldest
// buffered row has been waiting longer than maxBatchAge. The stream
// coordinator does not call it: it flushes the warehouse explicitly at the
// end of every batch instead.
func (s *Sink) MaybeFlushByAge(ctx context.Context) error {
	s.mu.Lock()
	stale := len(s.buffer) > 0 && time.Since(s.oldestAt) >= s.maxBatchAge
	s.mu.Unlock()

	if stale {
		return s.Flush(ctx)
	}
	return nil
}

// Flush sends the buffered rows to ClickHouse. On failure the buffer is
// retained, not cleared, so the next Flush retries the same rows; duplicate
// inserts on retry are acceptable and deduplicated downstream by event_id.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	// Copy out the rows to send; Add may append more to s.buffer while the
	// network round-trip below is in flight.
	batch := make([]domain.EnrichedEvent, len(s.buffer))
	copy(batch, s.buffer)
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	chBatch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			event_id, content_id, user_id, event_type, event_ts,
			duration_ms, device, content_slug, content_title, content_type,
			length_seconds, engagement_seconds, engagement_pct, processed_at
		)
	`, s.table))
	if err != nil {
		return fmt.Errorf("warehouse: prepare batch: %w", err)
	}

	for _, ev := range batch {
		if err := appendRow(chBatch, ev); err != nil {
			s.logger.Warn("warehouse: failed to append row, skipping", zap.Int64("event_id", ev.ID), zap.Error(err))
			continue
		}
	}

	if err := chBatch.Send(); err != nil {
		metrics.SinkErrors.WithLabelValues("warehouse").Inc()
		return fmt.Errorf("warehouse: send batch of %d rows: %w", len(batch), err)
	}

	metrics.WarehouseFlushDuration.Observe(time.Since(start).Seconds())
	metrics.BatchSize.Observe(float64(len(batch)))

	s.mu.Lock()
	// Only drop the rows that were part of this flush; Add may have
	// appended more to s.buffer while Send was in flight.
	if len(s.buffer) >= len(batch) {
		s.buffer = s.buffer[len(batch):]
	} else {
		s.buffer = nil
	}
	if len(s.buffer) > 0 {
		s.oldestAt = time.Now()
	}
	metrics.QueueDepth.Set(float64(len(s.buffer)))
	s.mu.Unlock()

	return nil
}

func appendRow(batch Batch, ev domain.EnrichedEvent) error {
	var device string
	if ev.Device != nil {
		device = *ev.Device
	}
	var engagementSeconds, engagementPct float64
	if ev.EngagementSeconds != nil {
		engagementSeconds, _ = ev.EngagementSeconds.Float64()
	}
	if ev.EngagementPct != nil {
		engagementPct, _ = ev.EngagementPct.Float64()
	}
	var lengthSeconds int64
	if ev.LengthSeconds != nil {
		lengthSeconds = *ev.LengthSeconds
	}

	return batch.Append(
		ev.ID,
		ev.ContentIDString(),
		ev.UserIDString(),
		string(ev.EventType),
		ev.EventTS,
		derefInt64(ev.DurationMs),
		device,
		ev.Slug,
		ev.Title,
		string(ev.ContentType),
		lengthSeconds,
		engagementSeconds,
		engagementPct,
		domain.ProcessedAt(),
	)
}

func derefInt64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
