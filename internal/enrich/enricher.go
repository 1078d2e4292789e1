package enrich

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fable-fm/engagement-streamproc/internal/domain"
)

// Enricher joins raw events with content metadata, dropping events that
// fail validation or reference content that no longer exists rather than
// failing the whole batch.
type Enricher struct {
	resolver *Resolver
	logger   *zap.Logger
}

func NewEnricher(resolver *Resolver, logger *zap.Logger) *Enricher {
	return &Enricher{resolver: resolver, logger: logger}
}

// Enrich validates raw, resolves its content, and computes the derived
// engagement fields. A non-nil DropReason means the event should be counted
// and skipped, not treated as a processing failure; a non-nil error means
// the content store itself is unavailable (or, for a content-id mismatch
// between the event and the resolved row, an internal inconsistency) and
// the caller should stop advancing offsets rather than lose the event.
func (e *Enricher) Enrich(ctx context.Context, raw domain.RawEvent) (domain.EnrichedEvent, domain.DropReason, error) {
	if err := raw.Validate(); err != nil {
		e.logger.Warn("dropping invalid event", zap.Int64("event_id", raw.ID), zap.Error(err))
		return domain.EnrichedEvent{}, domain.DropInvalid, nil
	}

	content, err := e.resolver.Resolve(ctx, raw.ContentID)
	if err != nil {
		if errors.Is(err, ErrContentNotFound) {
			e.logger.Warn("dropping orphan event", zap.Int64("event_id", raw.ID), zap.String("content_id", raw.ContentID.String()))
			return domain.EnrichedEvent{}, domain.DropOrphan, nil
		}
		return domain.EnrichedEvent{}, domain.DropNone, err
	}

	enriched, err := domain.Enrich(raw, content)
	if err != nil {
		// A content-id mismatch here means the resolver and the event
		// disagree about identity; that is a bug, not an orphan or a
		// validation failure, so it is surfaced rather than dropped.
		return domain.EnrichedEvent{}, domain.DropNone, err
	}

	return enriched, domain.DropNone, nil
}
