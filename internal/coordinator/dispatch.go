package coordinator

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fable-fm/engagement-streamproc/internal/domain"
	"github.com/fable-fm/engagement-streamproc/internal/metrics"
)

// dispatch fans ev out to all three sinks concurrently and waits for every
// one of them to finish before returning, mirroring spec.md §4.6 step 3b:
// "dispatch concurrently to the three sinks; wait for all three to
// complete ... before moving on." A sink error is isolated to that sink —
// logged and counted — and never fails the other two or the batch, so
// dispatch itself never returns a non-nil error; errgroup.WithContext is
// used here for its goroutine bookkeeping, not for error propagation.
func dispatch(ctx context.Context, sinks Sinks, ev domain.EnrichedEvent, logger *zap.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := sinks.Leaderboard.Process(gctx, ev); err != nil {
			logger.Warn("leaderboard sink failed for event", zap.Int64("event_id", ev.ID), zap.Error(err))
			metrics.SinkErrors.WithLabelValues("leaderboard").Inc()
		}
		return nil
	})
	g.Go(func() error {
		if err := sinks.Warehouse.Add(gctx, ev); err != nil {
			logger.Warn("warehouse sink failed for event", zap.Int64("event_id", ev.ID), zap.Error(err))
			metrics.SinkErrors.WithLabelValues("warehouse").Inc()
		}
		return nil
	})
	g.Go(func() error {
		if err := sinks.HTTP.Send(gctx, ev); err != nil {
			logger.Warn("http sink failed for event", zap.Int64("event_id", ev.ID), zap.Error(err))
			metrics.SinkErrors.WithLabelValues("http").Inc()
		}
		return nil
	})

	// Every goroutine above always returns nil — failures are recorded and
	// swallowed per spec.md §4.6 ("sink errors inside Dispatching are
	// isolated per sink and do not abort") — so Wait here only blocks until
	// all three finish; it does not surface ctx.Err().
	return g.Wait()
}
