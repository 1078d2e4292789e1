package httpsink

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fable-fm/engagement-streamproc/internal/domain"
)

func testEvent() domain.EnrichedEvent {
	return domain.EnrichedEvent{
		RawEvent: domain.RawEvent{
			ID:        7,
			ContentID: uuid.MustParse("11111111-1111-1111-1111-111111111111"),
			UserID:    uuid.MustParse("22222222-2222-2222-2222-222222222222"),
			EventType: domain.EventClick,
			EventTS:   time.Now().UTC(),
		},
		Slug:        "ep",
		Title:       "Ep",
		ContentType: domain.ContentPodcast,
	}
}

func TestSink_Send_SucceedsOn2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := New(srv.URL, time.Second, nil, zap.NewNop())
	if err := sink.Send(t.Context(), testEvent()); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
}

func TestSink_Send_RetriesThenFails(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := New(srv.URL, time.Second, nil, zap.NewNop())
	start := time.Now()
	err := sink.Send(t.Context(), testEvent())
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected Send to return an error after exhausting retries")
	}
	if got := atomic.LoadInt32(&attempts); got != maxAttempts {
		t.Errorf("attempts = %d, want %d", got, maxAttempts)
	}
	if elapsed < backoffMin {
		t.Errorf("elapsed backoff = %v, want >= %v", elapsed, backoffMin)
	}
}

func TestSink_Send_RecoversAfterTransientFailure(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := New(srv.URL, time.Second, nil, zap.NewNop())
	if err := sink.Send(t.Context(), testEvent()); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestSink_SendBatch_FallsBackToPerEventOnFailure(t *testing.T) {
	var batchHits, eventHits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/batch" {
			atomic.AddInt32(&batchHits, 1)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		atomic.AddInt32(&eventHits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := New(srv.URL, time.Second, nil, zap.NewNop())
	events := []domain.EnrichedEvent{testEvent(), testEvent()}
	if err := sink.SendBatch(t.Context(), "batch-1", events); err != nil {
		t.Fatalf("SendBatch returned error: %v", err)
	}
	if atomic.LoadInt32(&batchHits) != 1 {
		t.Errorf("batchHits = %d, want 1", batchHits)
	}
	if atomic.LoadInt32(&eventHits) != int32(len(events)) {
		t.Errorf("eventHits = %d, want %d", eventHits, len(events))
	}
}

func TestSink_New_EmptyURLIsNoop(t *testing.T) {
	sink := New("", time.Second, nil, zap.NewNop())
	if err := sink.Send(t.Context(), testEvent()); err != nil {
		t.Fatalf("expected no-op sink to succeed, got %v", err)
	}
	if err := sink.SendBatch(t.Context(), "b", []domain.EnrichedEvent{testEvent()}); err != nil {
		t.Fatalf("expected no-op sink to succeed, got %v", err)
	}
}

func TestSink_Heartbeat_PostsToHeartbeatEndpoint(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := New(srv.URL, time.Second, nil, zap.NewNop())
	if err := sink.Heartbeat(t.Context()); err != nil {
		t.Fatalf("Heartbeat returned error: %v", err)
	}
	if path != "/heartbeat" {
		t.Errorf("path = %q, want /heartbeat", path)
	}
}
