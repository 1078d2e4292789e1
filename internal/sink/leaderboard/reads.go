package leaderboard

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// TopContent is one row of the top-content scoreboard.
type TopContent struct {
	ContentID              string
	Score                  float64
	Slug                   string
	Title                  string
	ContentType            string
	TotalEvents            int64
	UniqueUsers            int64
	TotalEngagementSeconds float64
	LastUpdated            string
}

// TopN returns the top limit content items by score, richest-first.
func (s *Sink) TopN(ctx context.Context, limit int64) ([]TopContent, error) {
	items, err := s.client.ZRevRangeWithScores(ctx, s.topContentKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("leaderboard: zrevrange top content: %w", err)
	}

	result := make([]TopContent, 0, len(items))
	for _, item := range items {
		contentID, ok := item.Member.(string)
		if !ok {
			continue
		}
		meta, err := s.client.HGetAll(ctx, contentMetaKey(contentID)).Result()
		if err != nil {
			return nil, fmt.Errorf("leaderboard: hgetall meta %s: %w", contentID, err)
		}
		if len(meta) == 0 {
			continue
		}
		stats, err := s.client.HGetAll(ctx, contentStatsKey(contentID)).Result()
		if err != nil {
			return nil, fmt.Errorf("leaderboard: hgetall stats %s: %w", contentID, err)
		}
		uniqueUsers, err := s.client.SCard(ctx, contentUsersKey(contentID)).Result()
		if err != nil {
			return nil, fmt.Errorf("leaderboard: scard users %s: %w", contentID, err)
		}

		result = append(result, TopContent{
			ContentID:              contentID,
			Score:                  item.Score,
			Slug:                   meta["slug"],
			Title:                  meta["title"],
			ContentType:            meta["content_type"],
			TotalEvents:            parseInt64(stats["total_events"]),
			UniqueUsers:            uniqueUsers,
			TotalEngagementSeconds: parseFloat64(stats["total_engagement_seconds"]),
			LastUpdated:            meta["last_updated"],
		})
	}
	return result, nil
}

// ContentStatsResult is the real-time view of a single content item.
type ContentStatsResult struct {
	ContentID              string
	TotalEvents            int64
	UniqueUsers            int64
	TotalEngagementSeconds float64
	EventsInWindow         int64
	WindowMinutes          int
}

// ContentStats returns the real-time aggregation for contentID.
func (s *Sink) ContentStats(ctx context.Context, contentID string, windowMinutes int) (ContentStatsResult, error) {
	stats, err := s.client.HGetAll(ctx, contentStatsKey(contentID)).Result()
	if err != nil {
		return ContentStatsResult{}, fmt.Errorf("leaderboard: hgetall stats %s: %w", contentID, err)
	}
	uniqueUsers, err := s.client.SCard(ctx, contentUsersKey(contentID)).Result()
	if err != nil {
		return ContentStatsResult{}, fmt.Errorf("leaderboard: scard users %s: %w", contentID, err)
	}

	now := time.Now().UTC()
	windowStart := now.Add(-time.Duration(windowMinutes) * time.Minute).Unix()
	windowed, err := s.client.ZCount(ctx, windowKey(contentID, windowMinutes), strconv.FormatInt(windowStart, 10), strconv.FormatInt(now.Unix(), 10)).Result()
	if err != nil {
		return ContentStatsResult{}, fmt.Errorf("leaderboard: zcount window %s: %w", contentID, err)
	}

	return ContentStatsResult{
		ContentID:              contentID,
		TotalEvents:            parseInt64(stats["total_events"]),
		UniqueUsers:            uniqueUsers,
		TotalEngagementSeconds: parseFloat64(stats["total_engagement_seconds"]),
		EventsInWindow:         windowed,
		WindowMinutes:          windowMinutes,
	}, nil
}

// RecentEvent is one entry off a content item's recent-events stream.
type RecentEvent struct {
	StreamID string
	Fields   map[string]string
}

// RecentEvents returns the most recent count events recorded for contentID.
func (s *Sink) RecentEvents(ctx context.Context, contentID string, count int64) ([]RecentEvent, error) {
	msgs, err := s.client.XRevRangeN(ctx, recentEventsKey(contentID), "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("leaderboard: xrevrange %s: %w", contentID, err)
	}
	result := make([]RecentEvent, 0, len(msgs))
	for _, m := range msgs {
		fields := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			if s, ok := v.(string); ok {
				fields[k] = s
			}
		}
		result = append(result, RecentEvent{StreamID: m.ID, Fields: fields})
	}
	return result, nil
}

func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func parseFloat64(s string) float64 {
	if s == "" {
		return 0
	}
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
