// Package enrich resolves content metadata for raw events and computes the
// derived engagement fields, turning a RawEvent into a domain.EnrichedEvent.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fable-fm/engagement-streamproc/internal/domain"
)

// ErrContentNotFound means the content_id on an event has no matching row
// in the content table. Callers treat this as an orphan drop, not a fatal
// error.
var ErrContentNotFound = errors.New("enrich: content not found")

// ContentDB abstracts the Postgres operations the Resolver needs, the same
// narrow interface shape used elsewhere in this codebase for every external
// dependency a component touches.
type ContentDB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Resolver looks up Content rows by ID, caching results since content
// metadata is slow-changing relative to the event volume.
type Resolver struct {
	db ContentDB

	mu    sync.RWMutex
	cache map[uuid.UUID]domain.Content
	cap   int
}

// NewResolver builds a Resolver over db. cacheCap bounds the number of
// distinct content rows kept in memory; once full, the cache is cleared
// rather than evicted piecemeal, since content sets are small relative to
// event volume and a full clear is simpler than LRU bookkeeping.
func NewResolver(db ContentDB, cacheCap int) *Resolver {
	if cacheCap <= 0 {
		cacheCap = 10000
	}
	return &Resolver{
		db:    db,
		cache: make(map[uuid.UUID]domain.Content),
		cap:   cacheCap,
	}
}

// Resolve fetches the Content row for contentID, consulting the cache first.
// It returns ErrContentNotFound (wrapped) when no row exists, and
// domain.ErrStoreUnavailable (wrapped) for any other query failure.
func (r *Resolver) Resolve(ctx context.Context, contentID uuid.UUID) (domain.Content, error) {
	r.mu.RLock()
	if c, ok := r.cache[contentID]; ok {
		r.mu.RUnlock()
		return c, nil
	}
	r.mu.RUnlock()

	var c domain.Content
	row := r.db.QueryRow(ctx, `
		SELECT id, slug, title, content_type, length_seconds, publish_ts
		FROM content
		WHERE id = $1
	`, contentID)

	var lengthSeconds *int64
	if err := row.Scan(&c.ID, &c.Slug, &c.Title, &c.ContentType, &lengthSeconds, &c.PublishTS); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Content{}, fmt.Errorf("%w: %s", ErrContentNotFound, contentID)
		}
		return domain.Content{}, fmt.Errorf("enrich: query content %s: %w: %w", contentID, domain.ErrStoreUnavailable, err)
	}
	c.LengthSeconds = lengthSeconds

	r.mu.Lock()
	if len(r.cache) >= r.cap {
		r.cache = make(map[uuid.UUID]domain.Content)
	}
	r.cache[contentID] = c
	r.mu.Unlock()

	return c, nil
}

// NewPoolResolver is a convenience constructor for the common case of a
// *pgxpool.Pool backing the Resolver.
func NewPoolResolver(pool *pgxpool.Pool, cacheCap int) *Resolver {
	return NewResolver(pool, cacheCap)
}
