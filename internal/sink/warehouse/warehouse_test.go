package warehouse

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fable-fm/engagement-streamproc/internal/domain"
)

type fakeBatch struct {
	appended [][]interface{}
	sendErr  error
	sent     bool
}

func (b *fakeBatch) Append(v ...interface{}) error {
	b.appended = append(b.appended, v)
	return nil
}

func (b *fakeBatch) Send() error {
	b.sent = true
	return b.sendErr
}

type fakeConn struct {
	batches []*fakeBatch
	nextErr error
}

func (c *fakeConn) PrepareBatch(ctx context.Context, query string) (Batch, error) {
	b := &fakeBatch{sendErr: c.nextErr}
	c.batches = append(c.batches, b)
	return b, nil
}

func (c *fakeConn) Exec(ctx context.Context, query string, args ...interface{}) error {
	return nil
}

func testEnrichedEvent(id int64) domain.EnrichedEvent {
	return domain.EnrichedEvent{
		RawEvent: domain.RawEvent{
			ID:        id,
			ContentID: [16]byte{1},
			UserID:    [16]byte{2},
			EventType: domain.EventPlay,
			EventTS:   time.Now().UTC(),
		},
		Slug:        "ep",
		Title:       "Ep",
		ContentType: domain.ContentPodcast,
	}
}

func TestSink_Add_FlushesAtBatchSize(t *testing.T) {
	conn := &fakeConn{}
	sink := New(conn, "events", 2, time.Hour, zap.NewNop())
	ctx := context.Background()

	if err := sink.Add(ctx, testEnrichedEvent(1)); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if len(conn.batches) != 0 {
		t.Fatalf("expected no flush yet, got %d batches", len(conn.batches))
	}

	if err := sink.Add(ctx, testEnrichedEvent(2)); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if len(conn.batches) != 1 {
		t.Fatalf("expected one flush at batch size, got %d batches", len(conn.batches))
	}
	if len(conn.batches[0].appended) != 2 {
		t.Errorf("expected 2 rows appended, got %d", len(conn.batches[0].appended))
	}
}

func TestSink_Flush_RetainsBufferOnSendFailure(t *testing.T) {
	conn := &fakeConn{nextErr: errors.New("connection reset")}
	sink := New(conn, "events", 10, time.Hour, zap.NewNop())
	ctx := context.Background()

	if err := sink.Add(ctx, testEnrichedEvent(1)); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if err := sink.Flush(ctx); err == nil {
		t.Fatal("expected Flush to return the Send error")
	}

	sink.mu.Lock()
	bufLen := len(sink.buffer)
	sink.mu.Unlock()
	if bufLen != 1 {
		t.Errorf("expected buffer to retain 1 row after failed flush, got %d", bufLen)
	}
}

func TestSink_Flush_ClearsBufferOnSuccess(t *testing.T) {
	conn := &fakeConn{}
	sink := New(conn, "events", 10, time.Hour, zap.NewNop())
	ctx := context.Background()

	_ = sink.Add(ctx, testEnrichedEvent(1))
	if err := sink.Flush(ctx); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}

	sink.mu.Lock()
	bufLen := len(sink.buffer)
	sink.mu.Unlock()
	if bufLen != 0 {
		t.Errorf("expected buffer to be empty after successful flush, got %d", bufLen)
	}
}

func TestSink_MaybeFlushByAge_FlushesStaleBuffer(t *testing.T) {
	conn := &fakeConn{}
	sink := New(conn, "events", 10, 1*time.Millisecond, zap.NewNop())
	ctx := context.Background()

	_ = sink.Add(ctx, testEnrichedEvent(1))
	time.Sleep(5 * time.Millisecond)

	if err := sink.MaybeFlushByAge(ctx); err != nil {
		t.Fatalf("MaybeFlushByAge returned error: %v", err)
	}
	if len(conn.batches) != 1 {
		t.Errorf("expected age-triggered flush, got %d batches", len(conn.batches))
	}
}
