// Package httpsink forwards enriched events to an external HTTP endpoint,
// with bounded retries and an optional batch endpoint, mirroring the
// teacher's per-dependency sink wrapper shape (a narrow client plus a
// logger, exactly like warehouse.Sink and leaderboard.Sink).
package httpsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fable-fm/engagement-streamproc/internal/domain"
	"github.com/fable-fm/engagement-streamproc/internal/metrics"
)

const (
	maxAttempts = 3
	backoffBase = 1 * time.Second
	backoffMult = 2
	backoffMin  = 4 * time.Second
	backoffMax  = 10 * time.Second
)

// Sink POSTs a JSON envelope per enriched event to a configured URL, with
// up to maxAttempts tries and exponential backoff. A zero-value URL
// degrades the sink to a no-op. An unreachable endpoint does not: its
// sends fail after the retries and the error is returned.
type Sink struct {
	client       *http.Client
	logger       *zap.Logger
	url          string
	batchURL     string
	heartbeatURL string
	headers      map[string]string
	noop         bool
}

// New builds a Sink posting to url. If url is empty the sink is degraded
// to a no-op: Send and SendBatch succeed immediately without doing any
// I/O, and the degradation is logged once at Warn on construction.
func New(url string, timeout time.Duration, headers map[string]string, logger *zap.Logger) *Sink {
	s := &Sink{
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		url:     url,
		headers: headers,
	}
	if url == "" {
		s.noop = true
		logger.Warn("http sink degraded to no-op: no HTTP_SINK_URL configured")
		return s
	}
	s.batchURL = url + "/batch"
	s.heartbeatURL = url + "/heartbeat"
	return s
}

type envelope struct {
	EventID   int64          `json:"event_id"`
	ContentID string         `json:"content_id"`
	UserID    string         `json:"user_id"`
	EventType string         `json:"event_type"`
	Timestamp string         `json:"timestamp"`
	Metadata  envelopeFields `json:"metadata"`
}

type envelopeFields struct {
	Slug              string  `json:"slug"`
	Title             string  `json:"title"`
	ContentType       string  `json:"content_type"`
	EngagementSeconds *string `json:"engagement_seconds,omitempty"`
	EngagementPct     *string `json:"engagement_pct,omitempty"`
	Device            *string `json:"device,omitempty"`
}

func toEnvelope(ev domain.EnrichedEvent) envelope {
	fields := envelopeFields{
		Slug:        ev.Slug,
		Title:       ev.Title,
		ContentType: string(ev.ContentType),
		Device:      ev.Device,
	}
	if ev.EngagementSeconds != nil {
		s := ev.EngagementSeconds.String()
		fields.EngagementSeconds = &s
	}
	if ev.EngagementPct != nil {
		s := ev.EngagementPct.String()
		fields.EngagementPct = &s
	}
	return envelope{
		EventID:   ev.ID,
		ContentID: ev.ContentIDString(),
		UserID:    ev.UserIDString(),
		EventType: string(ev.EventType),
		Timestamp: ev.EventTS.Format(time.RFC3339),
		Metadata:  fields,
	}
}

// Send POSTs one enriched event, retrying up to maxAttempts times with
// exponential backoff on network errors or a non-2xx-non-202 response. A
// failure after exhausting retries is returned to the caller, who counts
// it but must not abort the batch.
func (s *Sink) Send(ctx context.Context, ev domain.EnrichedEvent) error {
	if s.noop {
		return nil
	}

	body, err := json.Marshal(toEnvelope(ev))
	if err != nil {
		return fmt.Errorf("httpsink: marshal envelope: %w", err)
	}

	var lastErr error
	backoff := backoffBase
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := s.post(ctx, s.url, body, s.client.Timeout)
		if err == nil {
			return nil
		}
		lastErr = err
		s.logger.Warn("http sink post failed",
			zap.Int64("event_id", ev.ID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == maxAttempts {
			break
		}
		if err := sleepCtx(ctx, clampBackoff(backoff)); err != nil {
			return err
		}
		backoff *= backoffMult
	}

	metrics.SinkErrors.WithLabelValues("http").Inc()
	return fmt.Errorf("httpsink: send event %d after %d attempts: %w", ev.ID, maxAttempts, lastErr)
}

// batchEnvelope is the payload shape for the optional batch endpoint.
type batchEnvelope struct {
	Events     []envelope `json:"events"`
	BatchID    string     `json:"batch_id"`
	EventCount int        `json:"event_count"`
}

// SendBatch POSTs all of events in one request to the batch endpoint. On a
// non-2xx response it falls back to per-event Send calls, per spec.
func (s *Sink) SendBatch(ctx context.Context, batchID string, events []domain.EnrichedEvent) error {
	if s.noop || len(events) == 0 {
		return nil
	}

	envelopes := make([]envelope, len(events))
	for i, ev := range events {
		envelopes[i] = toEnvelope(ev)
	}
	body, err := json.Marshal(batchEnvelope{Events: envelopes, BatchID: batchID, EventCount: len(events)})
	if err != nil {
		return fmt.Errorf("httpsink: marshal batch envelope: %w", err)
	}

	if err := s.post(ctx, s.batchURL, body, 2*s.client.Timeout); err == nil {
		return nil
	}

	s.logger.Warn("http sink batch post failed, falling back to per-event sends", zap.String("batch_id", batchID))
	var firstErr error
	for _, ev := range events {
		if err := s.Send(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Heartbeat pings the optional heartbeat endpoint; callers treat any
// failure as non-fatal liveness information, not a pipeline error.
func (s *Sink) Heartbeat(ctx context.Context) error {
	if s.noop {
		return nil
	}
	body, _ := json.Marshal(map[string]string{"ts": time.Now().UTC().Format(time.RFC3339)})
	return s.post(ctx, s.heartbeatURL, body, s.client.Timeout)
}

func (s *Sink) post(ctx context.Context, url string, body []byte, timeout time.Duration) error {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("httpsink: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("httpsink: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("httpsink: unexpected status %d", resp.StatusCode)
}

func clampBackoff(d time.Duration) time.Duration {
	if d < backoffMin {
		return backoffMin
	}
	if d > backoffMax {
		return backoffMax
	}
	return d
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
