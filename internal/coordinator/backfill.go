package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/fable-fm/engagement-streamproc/internal/domain"
	"github.com/fable-fm/engagement-streamproc/internal/metrics"
)

// Rows is the narrow cursor the Backfill Coordinator scans pages through —
// the same "depend on the slice you use, not the concrete driver type"
// shape as enrich.ContentDB and warehouse.Conn, kept small enough that
// tests can fake a page of rows without implementing the rest of
// pgx.Rows (CommandTag, FieldDescriptions, Values, RawValues, Conn).
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// BackfillDB is the narrow slice of *pgxpool.Pool the Backfill Coordinator
// needs: a single paged query joining engagement_events to content.
type BackfillDB interface {
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
}

// poolDB adapts *pgxpool.Pool to BackfillDB. pgx.Rows carries every method
// Rows requires plus more, so the conversion on return is implicit.
type poolDB struct{ pool *pgxpool.Pool }

// WrapPool builds a BackfillDB over a real Postgres pool.
func WrapPool(pool *pgxpool.Pool) BackfillDB { return poolDB{pool: pool} }

func (p poolDB) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	return p.pool.Query(ctx, sql, args...)
}

// BackfillConfig configures one historical replay.
type BackfillConfig struct {
	Start     time.Time
	End       time.Time
	PageSize  int
	PageDelay time.Duration // sleep between pages, per spec.md §4.7.
}

// BackfillCoordinator pages engagement_events joined with content directly
// from Postgres and fans every row out through the same three sinks as the
// live path, bypassing the Enricher/Resolver since the join already
// carries the content columns. It never commits to the log.
type BackfillCoordinator struct {
	db     BackfillDB
	sinks  Sinks
	cfg    BackfillConfig
	logger *zap.Logger
}

func NewBackfillCoordinator(db BackfillDB, sinks Sinks, cfg BackfillConfig, logger *zap.Logger) *BackfillCoordinator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	return &BackfillCoordinator{db: db, sinks: sinks, cfg: cfg, logger: logger}
}

const backfillQuery = `
	SELECT
		e.id, e.content_id, e.user_id, e.event_type, e.event_ts,
		e.duration_ms, e.device, e.raw_payload,
		c.slug, c.title, c.content_type, c.length_seconds
	FROM engagement_events e
	JOIN content c ON c.id = e.content_id
	WHERE e.event_ts >= $1 AND e.event_ts < $2
	ORDER BY e.event_ts
	LIMIT $3 OFFSET $4
`

// Run replays [cfg.Start, cfg.End) page by page until a page comes back
// empty, fanning every row out through the three sinks. It returns the
// total number of rows processed.
func (b *BackfillCoordinator) Run(ctx context.Context) (int, error) {
	offset := 0
	total := 0

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		rows, err := b.db.Query(ctx, backfillQuery, b.cfg.Start, b.cfg.End, b.cfg.PageSize, offset)
		if err != nil {
			return total, fmt.Errorf("backfill: page query at offset %d: %w", offset, err)
		}

		page, err := scanPage(rows)
		rows.Close()
		if err != nil {
			return total, fmt.Errorf("backfill: scan page at offset %d: %w", offset, err)
		}
		if len(page) == 0 {
			break
		}

		for _, ev := range page {
			if err := dispatch(ctx, b.sinks, ev, b.logger); err != nil {
				return total, fmt.Errorf("backfill: dispatch at offset %d: %w", offset, err)
			}
			metrics.EventsProcessed.Inc()
		}
		if err := b.sinks.Warehouse.Flush(ctx); err != nil {
			b.logger.Warn("warehouse flush failed during backfill page", zap.Error(err))
		}

		total += len(page)
		offset += b.cfg.PageSize
		metrics.BackfillProgress.Set(float64(total))
		b.logger.Info("backfill page processed", zap.Int("offset", offset), zap.Int("rows", len(page)), zap.Int("total", total))

		if b.cfg.PageDelay > 0 {
			if err := sleepCtx(ctx, b.cfg.PageDelay); err != nil {
				return total, err
			}
		}
	}

	return total, nil
}

func scanPage(rows Rows) ([]domain.EnrichedEvent, error) {
	var page []domain.EnrichedEvent
	for rows.Next() {
		var (
			id            int64
			contentID     uuid.UUID
			userID        uuid.UUID
			eventType     string
			eventTS       time.Time
			durationMs    *int64
			device        *string
			rawPayload    []byte
			slug          string
			title         string
			contentType   string
			lengthSeconds *int64
		)
		if err := rows.Scan(&id, &contentID, &userID, &eventType, &eventTS,
			&durationMs, &device, &rawPayload,
			&slug, &title, &contentType, &lengthSeconds); err != nil {
			return nil, err
		}

		var payload map[string]string
		if len(rawPayload) > 0 {
			if err := json.Unmarshal(rawPayload, &payload); err != nil {
				return nil, fmt.Errorf("backfill: decode raw_payload for event %d: %w", id, err)
			}
		}

		raw := domain.RawEvent{
			ID:         id,
			ContentID:  contentID,
			UserID:     userID,
			EventType:  domain.EventType(eventType),
			EventTS:    eventTS,
			DurationMs: durationMs,
			Device:     device,
			RawPayload: payload,
		}
		content := domain.Content{
			ID:            contentID,
			Slug:          slug,
			Title:         title,
			ContentType:   domain.ContentType(contentType),
			LengthSeconds: lengthSeconds,
			PublishTS:     eventTS,
		}

		ev, err := domain.Enrich(raw, content)
		if err != nil {
			return nil, err
		}
		page = append(page, ev)
	}
	return page, rows.Err()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
