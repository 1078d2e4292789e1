package leaderboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const cleanupInterval = 5 * time.Minute

var cleanupPatterns = []string{"content_stats:*", "content_window:*", "recent_events:*"}

// RunCleanup scans and removes empty aggregation keys every five minutes,
// until ctx is cancelled. It is meant to run as a single background
// goroutine for the lifetime of the process.
func (s *Sink) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.cleanupOnce(ctx); err != nil {
				s.logger.Warn("leaderboard cleanup failed", zap.Error(err))
			}
		}
	}
}

func (s *Sink) cleanupOnce(ctx context.Context) error {
	for _, pattern := range cleanupPatterns {
		iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			key := iter.Val()
			if strings.HasPrefix(key, "content_window:") {
				if err := s.trimWindowKey(ctx, key); err != nil {
					return err
				}
			}
			if err := s.deleteIfEmpty(ctx, key); err != nil {
				return err
			}
		}
		if err := iter.Err(); err != nil {
			return err
		}
	}
	return nil
}

// trimWindowKey removes entries that have aged out of the trailing window,
// the same trim the write path performs in Process via ZRemRangeByScore.
// The sweep repeats it so idle windows — ones that stopped receiving events
// and so never hit the write-path trim again — still get pruned to the
// cutoff instead of just waiting out their TTL.
func (s *Sink) trimWindowKey(ctx context.Context, key string) error {
	cutoff := time.Now().UTC().Add(-time.Duration(s.windowMinutes) * time.Minute).Unix()
	return s.client.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", cutoff)).Err()
}

func (s *Sink) deleteIfEmpty(ctx context.Context, key string) error {
	keyType, err := s.client.Type(ctx, key).Result()
	if err != nil {
		return err
	}

	var empty bool
	switch keyType {
	case "hash":
		n, err := s.client.HLen(ctx, key).Result()
		if err != nil {
			return err
		}
		empty = n == 0
	case "set":
		n, err := s.client.SCard(ctx, key).Result()
		if err != nil {
			return err
		}
		empty = n == 0
	case "zset":
		n, err := s.client.ZCard(ctx, key).Result()
		if err != nil {
			return err
		}
		empty = n == 0
	case "stream":
		n, err := s.client.XLen(ctx, key).Result()
		if err != nil {
			return err
		}
		empty = n == 0
	default:
		return nil
	}

	if empty {
		return s.client.Del(ctx, key).Err()
	}
	return nil
}
