package sync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/arjunkmrm/intern/internal/cursor"
	"github.com/arjunkmrm/intern/internal/extract"
)

// fakeSource serves a fixed change log from memory.
type fakeSource struct {
	pages      [][]ChangeRecord
	changesErr error
	badIDs     map[string]bool
}

func (f *fakeSource) Changes(ctx context.Context, start string, fn func([]ChangeRecord) error) error {
	if f.changesErr != nil {
		return f.changesErr
	}
	startPos := parsePosition(start)
	for _, page := range f.pages {
		var visible []ChangeRecord
		for _, rec := range page {
			if rec.ID > startPos {
				visible = append(visible, rec)
			}
		}
		if len(visible) == 0 {
			continue
		}
		if err := fn(visible); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSource) Message(ctx context.Context, id string) (*extract.Message, error) {
	if f.badIDs[id] {
		return nil, errors.New("message fetch failed")
	}
	return &extract.Message{From: "a@example.com", Subject: "s-" + id, Body: "b-" + id}, nil
}

func (f *fakeSource) LatestUnread(ctx context.Context) (*extract.Message, error) {
	return nil, nil
}

// recordingSink captures forwarded messages.
type recordingSink struct {
	messages []*extract.Message
}

func (s *recordingSink) Forward(ctx context.Context, msg *extract.Message) {
	s.messages = append(s.messages, msg)
}

func testStore(t *testing.T) *cursor.Store {
	t.Helper()
	store, err := cursor.Open(filepath.Join(t.TempDir(), "cursor.db"), "GOOGLE")
	if err != nil {
		t.Fatalf("cursor.Open returned error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSyncFromForwardsAndAdvancesCursor(t *testing.T) {
	source := &fakeSource{
		pages: [][]ChangeRecord{
			{{ID: 101, AddedIDs: []string{"m1"}}, {ID: 102, AddedIDs: []string{"m2"}}},
			{{ID: 110, AddedIDs: []string{"m3"}}},
		},
	}
	sink := &recordingSink{}
	store := testStore(t)
	engine := NewEngine(source, store, sink)

	res, err := engine.SyncFrom(context.Background(), "100")
	if err != nil {
		t.Fatalf("SyncFrom returned error: %v", err)
	}

	if res.Count != 3 {
		t.Fatalf("expected 3 forwards, got %d", res.Count)
	}
	if res.Cursor != "110" {
		t.Fatalf("expected cursor 110, got %q", res.Cursor)
	}
	if state := store.Load(context.Background()); state.Cursor != "110" {
		t.Fatalf("expected persisted cursor 110, got %q", state.Cursor)
	}
	if len(sink.messages) != 3 {
		t.Fatalf("expected sink to see 3 messages, got %d", len(sink.messages))
	}
	if sink.messages[0].Source != extract.SourcePush {
		t.Fatalf("expected push provenance, got %q", sink.messages[0].Source)
	}
}

func TestSyncFromDeduplicatesAcrossPages(t *testing.T) {
	source := &fakeSource{
		pages: [][]ChangeRecord{
			{{ID: 101, AddedIDs: []string{"m1", "m2"}}},
			{{ID: 102, AddedIDs: []string{"m1"}}, {ID: 103, AddedIDs: []string{"m2", "m3"}}},
		},
	}
	sink := &recordingSink{}
	engine := NewEngine(source, testStore(t), sink)

	res, err := engine.SyncFrom(context.Background(), "100")
	if err != nil {
		t.Fatalf("SyncFrom returned error: %v", err)
	}

	if res.Count != 3 {
		t.Fatalf("expected each id forwarded once, got %d forwards", res.Count)
	}
	want := []string{"m1", "m2", "m3"}
	for i, msg := range sink.messages {
		if msg.Subject != "s-"+want[i] {
			t.Fatalf("expected insertion order %v, got message %d = %q", want, i, msg.Subject)
		}
	}
}

func TestSyncTwiceForwardsNothingSecondTime(t *testing.T) {
	source := &fakeSource{
		pages: [][]ChangeRecord{
			{{ID: 105, AddedIDs: []string{"m1", "m2"}}},
		},
	}
	sink := &recordingSink{}
	store := testStore(t)
	engine := NewEngine(source, store, sink)
	ctx := context.Background()

	if _, err := engine.Sync(ctx, "100"); err != nil {
		t.Fatalf("first sync returned error: %v", err)
	}

	// Second pass starts from the advanced persisted cursor, so the
	// stale range yields no new records.
	res, err := engine.Sync(ctx, "100")
	if err != nil {
		t.Fatalf("second sync returned error: %v", err)
	}
	if res.Count != 0 {
		t.Fatalf("expected zero forwards on second pass, got %d", res.Count)
	}
	if len(sink.messages) != 2 {
		t.Fatalf("expected 2 total deliveries, got %d", len(sink.messages))
	}
	if state := store.Load(ctx); state.Cursor != "105" {
		t.Fatalf("expected stable cursor 105, got %q", state.Cursor)
	}
}

func TestSyncFromPartialFailureIsolation(t *testing.T) {
	source := &fakeSource{
		pages: [][]ChangeRecord{
			{{ID: 101, AddedIDs: []string{"bad", "m2"}}},
		},
		badIDs: map[string]bool{"bad": true},
	}
	sink := &recordingSink{}
	store := testStore(t)
	engine := NewEngine(source, store, sink)

	res, err := engine.SyncFrom(context.Background(), "100")
	if err != nil {
		t.Fatalf("SyncFrom returned error: %v", err)
	}

	if res.Count != 1 {
		t.Fatalf("expected the good message forwarded, got %d", res.Count)
	}
	if len(sink.messages) != 1 || sink.messages[0].Subject != "s-m2" {
		t.Fatalf("expected m2 delivered despite bad sibling, got %+v", sink.messages)
	}

	// The cursor still advances: at-least-once with idempotent consumers.
	if state := store.Load(context.Background()); state.Cursor != "101" {
		t.Fatalf("expected cursor advanced to 101, got %q", state.Cursor)
	}
}

func TestSyncFromTransportErrorLeavesCursor(t *testing.T) {
	store := testStore(t)
	store.Save(context.Background(), cursor.State{Cursor: "100", Status: cursor.StatusHooked})

	source := &fakeSource{changesErr: errors.New("rate limited")}
	engine := NewEngine(source, store, &recordingSink{})

	if _, err := engine.SyncFrom(context.Background(), "100"); err == nil {
		t.Fatal("expected transport error to surface")
	}

	state := store.Load(context.Background())
	if state.Cursor != "100" {
		t.Fatalf("expected cursor untouched after aborted pass, got %q", state.Cursor)
	}
	if state.Status != cursor.StatusError {
		t.Fatalf("expected error status recorded, got %q", state.Status)
	}
}

func TestSyncFromEmptyLogKeepsStart(t *testing.T) {
	source := &fakeSource{}
	store := testStore(t)
	engine := NewEngine(source, store, &recordingSink{})

	res, err := engine.SyncFrom(context.Background(), "100")
	if err != nil {
		t.Fatalf("SyncFrom returned error: %v", err)
	}
	if res.Count != 0 {
		t.Fatalf("expected zero forwards, got %d", res.Count)
	}
	if res.Cursor != "100" {
		t.Fatalf("expected cursor to fall back to start, got %q", res.Cursor)
	}
}

func TestCursorMonotonicity(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	var persisted []uint64
	for i, start := range []string{"100", "300", "200"} {
		source := &fakeSource{
			pages: [][]ChangeRecord{
				{{ID: parsePosition(start) + 5, AddedIDs: []string{fmt.Sprintf("m%d", i)}}},
			},
		}
		engine := NewEngine(source, store, &recordingSink{})
		if _, err := engine.SyncFrom(ctx, start); err != nil {
			t.Fatalf("SyncFrom(%s) returned error: %v", start, err)
		}
		persisted = append(persisted, parsePosition(store.Load(ctx).Cursor))
	}

	for i := 1; i < len(persisted); i++ {
		if persisted[i] < persisted[i-1] {
			t.Fatalf("persisted cursor regressed: %v", persisted)
		}
	}
}

// gatedSource blocks its first Changes call until released, holding the
// pass lock open so a concurrent caller has to queue.
type gatedSource struct {
	fakeSource
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSource) Changes(ctx context.Context, start string, fn func([]ChangeRecord) error) error {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.fakeSource.Changes(ctx, start, fn)
}

func TestSyncSerializesConcurrentPasses(t *testing.T) {
	source := &gatedSource{
		fakeSource: fakeSource{
			pages: [][]ChangeRecord{
				{{ID: 105, AddedIDs: []string{"m1", "m2"}}},
			},
		},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	sink := &recordingSink{}
	store := testStore(t)
	engine := NewEngine(source, store, sink)
	ctx := context.Background()

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		if _, err := engine.Sync(ctx, "100"); err != nil {
			t.Errorf("first sync returned error: %v", err)
		}
	}()
	<-source.entered

	secondDone := make(chan *Result, 1)
	go func() {
		res, err := engine.Sync(ctx, "100")
		if err != nil {
			t.Errorf("second sync returned error: %v", err)
		}
		secondDone <- res
	}()

	close(source.release)
	<-firstDone

	// The queued pass starts from the advanced persisted cursor, not the
	// stale hint, and forwards nothing on top of the first pass.
	res := <-secondDone
	if res == nil {
		t.Fatal("second sync produced no result")
	}
	if res.Count != 0 {
		t.Fatalf("expected zero forwards from queued pass, got %d", res.Count)
	}
	if res.Cursor != "105" {
		t.Fatalf("expected queued pass to start from advanced cursor 105, got %q", res.Cursor)
	}
	if len(sink.messages) != 2 {
		t.Fatalf("expected one pass's worth of deliveries, got %d", len(sink.messages))
	}
}

func TestSyncNotConnected(t *testing.T) {
	engine := NewEngine(nil, testStore(t), &recordingSink{})

	if _, err := engine.Sync(context.Background(), "100"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}
