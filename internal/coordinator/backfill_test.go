package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fable-fm/engagement-streamproc/internal/domain"
)

// fakeBackfillRow is one row of a fakeRows page, in the column order
// scanPage expects off the backfillQuery join.
type fakeBackfillRow struct {
	id            int64
	contentID     uuid.UUID
	userID        uuid.UUID
	eventType     string
	eventTS       time.Time
	durationMs    *int64
	device        *string
	rawPayload    []byte
	slug          string
	title         string
	contentType   string
	lengthSeconds *int64
}

// fakeRows plays back a fixed slice of rows, the same "canned sequence"
// shape as fakeLogClient in stream_test.go.
type fakeRows struct {
	rows   []fakeBackfillRow
	idx    int
	closed bool
}

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.idx-1]
	*dest[0].(*int64) = row.id
	*dest[1].(*uuid.UUID) = row.contentID
	*dest[2].(*uuid.UUID) = row.userID
	*dest[3].(*string) = row.eventType
	*dest[4].(*time.Time) = row.eventTS
	*dest[5].(**int64) = row.durationMs
	*dest[6].(**string) = row.device
	*dest[7].(*[]byte) = row.rawPayload
	*dest[8].(*string) = row.slug
	*dest[9].(*string) = row.title
	*dest[10].(*string) = row.contentType
	*dest[11].(**int64) = row.lengthSeconds
	return nil
}

func (r *fakeRows) Err() error { return nil }
func (r *fakeRows) Close()     { r.closed = true }

// fakeBackfillDB returns one page per call to Query, in the order queued,
// then empty pages forever — enough to drive BackfillCoordinator.Run
// without a real Postgres pool.
type fakeBackfillDB struct {
	pages   [][]fakeBackfillRow
	idx     int
	queries []string
}

func (db *fakeBackfillDB) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	db.queries = append(db.queries, sql)
	if db.idx >= len(db.pages) {
		return &fakeRows{}, nil
	}
	page := db.pages[db.idx]
	db.idx++
	return &fakeRows{rows: page}, nil
}

func backfillRow(id int64, contentID uuid.UUID, eventTS time.Time) fakeBackfillRow {
	duration := int64(30000)
	length := int64(600)
	return fakeBackfillRow{
		id:            id,
		contentID:     contentID,
		userID:        uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		eventType:     "play",
		eventTS:       eventTS,
		durationMs:    &duration,
		slug:          "ep-1",
		title:         "Episode 1",
		contentType:   "podcast",
		lengthSeconds: &length,
	}
}

func TestBackfillCoordinator_Run_PagesUntilEmpty(t *testing.T) {
	contentID := testContentID()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	db := &fakeBackfillDB{pages: [][]fakeBackfillRow{
		{backfillRow(1, contentID, base), backfillRow(2, contentID, base.Add(time.Minute))},
		{backfillRow(3, contentID, base.Add(2 * time.Minute))},
	}}

	lb, wh, hs, sinks := testSinks()
	bc := NewBackfillCoordinator(db, sinks, BackfillConfig{
		Start:    base,
		End:      base.Add(time.Hour),
		PageSize: 2,
	}, zap.NewNop())

	total, err := bc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	if lb.calls != 3 || hs.calls != 3 || wh.added != 3 {
		t.Errorf("expected all 3 rows dispatched to every sink, got leaderboard=%d http=%d warehouse=%d", lb.calls, hs.calls, wh.added)
	}
	if wh.flushed != 2 {
		t.Errorf("expected a warehouse flush per page (2 pages), got %d", wh.flushed)
	}
	// Three queries: two pages plus the terminating empty page.
	if len(db.queries) != 3 {
		t.Errorf("expected 3 page queries (2 populated + 1 empty), got %d", len(db.queries))
	}
}

func TestBackfillCoordinator_Run_EmptyFirstPageProcessesNothing(t *testing.T) {
	db := &fakeBackfillDB{}
	_, wh, _, sinks := testSinks()
	bc := NewBackfillCoordinator(db, sinks, BackfillConfig{
		Start:    time.Now().Add(-time.Hour),
		End:      time.Now(),
		PageSize: 100,
	}, zap.NewNop())

	total, err := bc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0", total)
	}
	if wh.flushed != 0 {
		t.Errorf("expected no warehouse flush on an empty backfill, got %d", wh.flushed)
	}
}

// TestBackfillCoordinator_Run_DeterministicOrder verifies property 7: the
// multiset (here, a simple ordered sequence since fakeRows preserves page
// order) of enriched event ids produced matches the order rows are handed
// back by the store, mirroring the query's ORDER BY event_ts.
func TestBackfillCoordinator_Run_DeterministicOrder(t *testing.T) {
	contentID := testContentID()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	db := &fakeBackfillDB{pages: [][]fakeBackfillRow{
		{backfillRow(10, contentID, base), backfillRow(11, contentID, base.Add(time.Second)), backfillRow(12, contentID, base.Add(2 * time.Second))},
	}}

	recorder := &idRecordingLeaderboard{}
	sinks := Sinks{
		Leaderboard: recorder,
		Warehouse:   &fakeWarehouse{},
		HTTP:        &fakeHTTPSink{},
	}
	bc := NewBackfillCoordinator(db, sinks, BackfillConfig{Start: base, End: base.Add(time.Hour), PageSize: 10}, zap.NewNop())

	if _, err := bc.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	want := []int64{10, 11, 12}
	if len(recorder.ids) != len(want) {
		t.Fatalf("got %d dispatched ids, want %d", len(recorder.ids), len(want))
	}
	for i, id := range want {
		if recorder.ids[i] != id {
			t.Errorf("ids[%d] = %d, want %d", i, recorder.ids[i], id)
		}
	}
}

// idRecordingLeaderboard records the ID of every event it sees, in arrival
// order, so tests can assert on dispatch ordering without threading a
// separate out-param through dispatch().
type idRecordingLeaderboard struct {
	ids []int64
}

func (r *idRecordingLeaderboard) Process(ctx context.Context, ev domain.EnrichedEvent) error {
	r.ids = append(r.ids, ev.ID)
	return nil
}

func TestBackfillCoordinator_Run_StopsOnContextCancellation(t *testing.T) {
	contentID := testContentID()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	db := &fakeBackfillDB{pages: [][]fakeBackfillRow{
		{backfillRow(1, contentID, base)},
	}}
	_, _, _, sinks := testSinks()
	bc := NewBackfillCoordinator(db, sinks, BackfillConfig{Start: base, End: base.Add(time.Hour), PageSize: 1}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bc.Run(ctx)
	if err == nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
