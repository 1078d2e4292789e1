package leaderboard

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fable-fm/engagement-streamproc/internal/domain"
)

func newTestSink(t *testing.T) (*Sink, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, zap.NewNop(), 5, "top_content", time.Hour), mr
}

func testEvent(eventType domain.EventType, engagementPct *decimal.Decimal) domain.EnrichedEvent {
	return domain.EnrichedEvent{
		RawEvent: domain.RawEvent{
			ID:        42,
			ContentID: uuid.MustParse("11111111-1111-1111-1111-111111111111"),
			UserID:    uuid.MustParse("22222222-2222-2222-2222-222222222222"),
			EventType: eventType,
			EventTS:   time.Now().UTC(),
		},
		Slug:          "test-episode",
		Title:         "Test Episode",
		ContentType:   domain.ContentPodcast,
		EngagementPct: engagementPct,
	}
}

func TestSink_Process_IncrementsContentStats(t *testing.T) {
	sink, _ := newTestSink(t)
	ctx := context.Background()
	ev := testEvent(domain.EventPlay, nil)

	if err := sink.Process(ctx, ev); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	stats, err := sink.ContentStats(ctx, ev.ContentIDString(), 5)
	if err != nil {
		t.Fatalf("ContentStats returned error: %v", err)
	}
	if stats.TotalEvents != 1 {
		t.Errorf("TotalEvents = %d, want 1", stats.TotalEvents)
	}
	if stats.UniqueUsers != 1 {
		t.Errorf("UniqueUsers = %d, want 1", stats.UniqueUsers)
	}
}

func TestSink_Process_UpdatesTopContentScore(t *testing.T) {
	sink, _ := newTestSink(t)
	ctx := context.Background()
	pct := decimal.NewFromInt(50)
	ev := testEvent(domain.EventFinish, &pct)

	if err := sink.Process(ctx, ev); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	top, err := sink.TopN(ctx, 10)
	if err != nil {
		t.Fatalf("TopN returned error: %v", err)
	}
	if len(top) != 1 {
		t.Fatalf("got %d top content rows, want 1", len(top))
	}
	if top[0].ContentID != ev.ContentIDString() {
		t.Errorf("ContentID = %s, want %s", top[0].ContentID, ev.ContentIDString())
	}
	// finish base score 3.0, boosted by (1 + 0.5) = 4.5
	if top[0].Score != 4.5 {
		t.Errorf("Score = %v, want 4.5", top[0].Score)
	}
}

func TestSink_Process_RecordsRecentEvent(t *testing.T) {
	sink, _ := newTestSink(t)
	ctx := context.Background()
	ev := testEvent(domain.EventClick, nil)

	if err := sink.Process(ctx, ev); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	events, err := sink.RecentEvents(ctx, ev.ContentIDString(), 10)
	if err != nil {
		t.Fatalf("RecentEvents returned error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d recent events, want 1", len(events))
	}
	if events[0].Fields["event_type"] != "click" {
		t.Errorf("event_type = %q, want %q", events[0].Fields["event_type"], "click")
	}
}

func TestSink_CleanupOnce_RemovesEmptyKeys(t *testing.T) {
	sink, mr := newTestSink(t)
	ctx := context.Background()

	mr.HSet("content_stats:orphan", "total_events", "0")
	mr.HDel("content_stats:orphan", "total_events")

	if err := sink.cleanupOnce(ctx); err != nil {
		t.Fatalf("cleanupOnce returned error: %v", err)
	}
	if mr.Exists("content_stats:orphan") {
		t.Error("expected empty key to be removed by cleanup")
	}
}
