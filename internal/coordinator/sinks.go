package coordinator

import (
	"context"

	"github.com/fable-fm/engagement-streamproc/internal/domain"
)

// LeaderboardSink is the narrow slice of leaderboard.Sink the coordinators
// depend on, the same "depend on the interface your package needs, not the
// concrete client" shape used by enrich.ContentDB and warehouse.Conn.
type LeaderboardSink interface {
	Process(ctx context.Context, ev domain.EnrichedEvent) error
}

// WarehouseSink is the narrow slice of warehouse.Sink the coordinators
// depend on.
type WarehouseSink interface {
	Add(ctx context.Context, ev domain.EnrichedEvent) error
	Flush(ctx context.Context) error
	MaybeFlushByAge(ctx context.Context) error
}

// HTTPSink is the narrow slice of httpsink.Sink the coordinators depend on.
type HTTPSink interface {
	Send(ctx context.Context, ev domain.EnrichedEvent) error
}

// Sinks groups the three fan-out destinations every enriched event is
// dispatched to. Both coordinators share this bundle so the dispatch
// helper in dispatch.go is written once.
type Sinks struct {
	Leaderboard LeaderboardSink
	Warehouse   WarehouseSink
	HTTP        HTTPSink
}
