// Package leaderboard implements the real-time aggregation sink: per-content
// counters, a windowed activity sorted set, and a top-content scoreboard, all
// backed by Redis.
package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fable-fm/engagement-streamproc/internal/domain"
)

const (
	recentEventsMaxLen = 1000
	recentEventsTTL    = 1 * time.Hour
	eventRecordTTL     = 24 * time.Hour
)

var baseScores = map[domain.EventType]float64{
	domain.EventPlay:   1.0,
	domain.EventPause:  0.5,
	domain.EventFinish: 3.0,
	domain.EventClick:  0.3,
}

// Sink wraps a *redis.Client and applies the real-time leaderboard writes
// for one enriched event.
type Sink struct {
	client        *redis.Client
	logger        *zap.Logger
	windowMinutes int
	topContentKey string
	ttl           time.Duration
}

func New(client *redis.Client, logger *zap.Logger, windowMinutes int, topContentKey string, ttl time.Duration) *Sink {
	return &Sink{
		client:        client,
		logger:        logger,
		windowMinutes: windowMinutes,
		topContentKey: topContentKey,
		ttl:           ttl,
	}
}

func windowKey(contentID string, windowMinutes int) string {
	return fmt.Sprintf("content_window:%s:%dmin", contentID, windowMinutes)
}

func contentStatsKey(contentID string) string { return "content_stats:" + contentID }
func contentUsersKey(contentID string) string { return "content_stats:" + contentID + ":users" }
func contentMetaKey(contentID string) string  { return "content_meta:" + contentID }
func recentEventsKey(contentID string) string { return "recent_events:" + contentID }
func eventKey(eventID int64) string           { return fmt.Sprintf("event:%d", eventID) }

// Process applies one enriched event's writes: the recent-events stream, the
// content aggregation counters, the windowed activity set, the top-content
// scoreboard, and a per-event TTL'd hash. All writes for a single event are
// issued in one pipeline, matching the transactional batching the original
// Redis sink used.
func (s *Sink) Process(ctx context.Context, ev domain.EnrichedEvent) error {
	contentID := ev.ContentIDString()
	now := time.Now().UTC()

	pipe := s.client.TxPipeline()

	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: recentEventsKey(contentID),
		MaxLen: recentEventsMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"event_id":           ev.ID,
			"user_id":            ev.UserIDString(),
			"event_type":         string(ev.EventType),
			"timestamp":          ev.EventTS.Format(time.RFC3339),
			"engagement_seconds": decimalStringOrEmpty(ev.EngagementSeconds),
			"engagement_pct":     decimalStringOrEmpty(ev.EngagementPct),
		},
	})
	pipe.Expire(ctx, recentEventsKey(contentID), recentEventsTTL)

	statsKey := contentStatsKey(contentID)
	pipe.HIncrBy(ctx, statsKey, "total_events", 1)
	pipe.SAdd(ctx, contentUsersKey(contentID), ev.UserIDString())
	pipe.Expire(ctx, statsKey, s.ttl)
	pipe.Expire(ctx, contentUsersKey(contentID), s.ttl)
	if ev.EngagementSeconds != nil {
		seconds, _ := ev.EngagementSeconds.Float64()
		pipe.HIncrByFloat(ctx, statsKey, "total_engagement_seconds", seconds)
	}

	wKey := windowKey(contentID, s.windowMinutes)
	windowStart := now.Add(-time.Duration(s.windowMinutes) * time.Minute).Unix()
	member := fmt.Sprintf("%d:%d", ev.ID, now.Unix())
	pipe.ZAdd(ctx, wKey, redis.Z{Score: float64(now.Unix()), Member: member})
	pipe.ZRemRangeByScore(ctx, wKey, "-inf", fmt.Sprintf("%d", windowStart))
	pipe.Expire(ctx, wKey, s.ttl)

	if score := contentScore(ev); score > 0 {
		pipe.ZIncrBy(ctx, s.topContentKey, score, contentID)
		metaKey := contentMetaKey(contentID)
		pipe.HSet(ctx, metaKey, map[string]interface{}{
			"slug":         ev.Slug,
			"title":        ev.Title,
			"content_type": string(ev.ContentType),
			"last_updated": now.Format(time.RFC3339),
		})
		pipe.Expire(ctx, metaKey, s.ttl)
	}

	evKey := eventKey(ev.ID)
	pipe.HSet(ctx, evKey, map[string]interface{}{
		"content_id":         contentID,
		"user_id":            ev.UserIDString(),
		"event_type":         string(ev.EventType),
		"timestamp":          ev.EventTS.Format(time.RFC3339),
		"engagement_seconds": decimalStringOrEmpty(ev.EngagementSeconds),
		"engagement_pct":     decimalStringOrEmpty(ev.EngagementPct),
		"content_slug":       ev.Slug,
		"content_title":      ev.Title,
		"content_type":       string(ev.ContentType),
	})
	pipe.Expire(ctx, evKey, eventRecordTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("leaderboard: pipeline exec: %w", err)
	}
	return nil
}

var (
	scoreOne     = decimal.NewFromInt(1)
	scoreHundred = decimal.NewFromInt(100)
)

// contentScore reproduces the original sink's score formula: a base score
// per event type, boosted by up to 2x for full engagement. The product is
// taken in decimal so that e.g. 3.0 x 1.2 yields 3.6, not 3.5999999999999996.
func contentScore(ev domain.EnrichedEvent) float64 {
	score := decimal.NewFromFloat(baseScores[ev.EventType])
	if ev.EngagementPct != nil {
		multiplier := ev.EngagementPct.Div(scoreHundred)
		if multiplier.GreaterThan(scoreOne) {
			multiplier = scoreOne
		}
		score = score.Mul(scoreOne.Add(multiplier))
	}
	f, _ := score.Float64()
	return f
}

func decimalStringOrEmpty(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}
