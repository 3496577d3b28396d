package sync

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"

	"github.com/arjunkmrm/intern/internal/cursor"
	"github.com/arjunkmrm/intern/internal/extract"
)

// Result summarizes one completed sync pass.
type Result struct {
	Count  int
	Cursor string
}

// Engine paginates the remote change log, deduplicates newly added
// message identifiers, hands each resolved message to the sink, and
// advances the persisted cursor.
type Engine struct {
	source Source
	store  *cursor.Store
	sink   Sink

	// Serializes sync passes. Push deliveries are at-least-once and
	// unordered; two interleaved passes could both read a stale cursor
	// and double-forward.
	mu sync.Mutex
}

// NewEngine creates a sync engine.
func NewEngine(source Source, store *cursor.Store, sink Sink) *Engine {
	return &Engine{source: source, store: store, sink: sink}
}

// Sync runs one pass starting from the persisted cursor when present,
// else from hint. The hint is a lower bound, not authoritative: push
// notifications can race, repeat, or arrive out of order. The cursor is
// read under the pass lock so a queued caller starts from the position
// the pass ahead of it persisted.
func (e *Engine) Sync(ctx context.Context, hint string) (*Result, error) {
	if e.source == nil {
		return nil, ErrNotConnected
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := hint
	if state := e.store.Load(ctx); state.Cursor != "" {
		start = state.Cursor
	}
	return e.run(ctx, start)
}

// SyncFrom runs one pass starting from the given change-log position.
// At most one pass runs at a time; concurrent callers queue.
func (e *Engine) SyncFrom(ctx context.Context, start string) (*Result, error) {
	if e.source == nil {
		return nil, ErrNotConnected
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.run(ctx, start)
}

func (e *Engine) run(ctx context.Context, start string) (*Result, error) {
	e.store.SetStatus(ctx, cursor.StatusSyncing, "")

	// Fold every page's message-added ids into an insertion-ordered
	// pending set; a message referenced by multiple change events is
	// forwarded once.
	var pending []string
	seen := make(map[string]bool)
	latest := parsePosition(start)

	err := e.source.Changes(ctx, start, func(records []ChangeRecord) error {
		for _, rec := range records {
			if rec.ID > latest {
				latest = rec.ID
			}
			for _, id := range rec.AddedIDs {
				if seen[id] {
					continue
				}
				seen[id] = true
				pending = append(pending, id)
			}
		}
		return nil
	})

	if err != nil {
		// Transport error or expired start position: abort the pass and
		// leave the persisted cursor untouched so the next trigger
		// retries from the same point.
		e.store.SetStatus(ctx, cursor.StatusError, err.Error())
		return nil, fmt.Errorf("failed to page change log: %w", err)
	}

	count := 0
	for _, id := range pending {
		if e.store.WasForwarded(ctx, id) {
			log.Printf("sync: message %s already forwarded, skipping", id)
			continue
		}

		msg, err := e.source.Message(ctx, id)
		if err != nil {
			log.Printf("sync: failed to resolve message %s: %v", id, err)
			continue
		}
		msg.Source = extract.SourcePush

		e.sink.Forward(ctx, msg)
		e.store.MarkForwarded(ctx, id)
		count++
	}

	// Persist the advanced cursor even when some forwards failed:
	// delivery is at-least-once with idempotent consumers, and a
	// transient sink failure must not wedge the cursor. The persisted
	// value never moves backwards.
	result := &Result{Count: count, Cursor: formatPosition(latest, start)}
	if result.Cursor != "" && parsePosition(result.Cursor) >= parsePosition(e.store.Load(ctx).Cursor) {
		e.store.Save(ctx, cursor.State{Cursor: result.Cursor, Status: cursor.StatusHooked})
	} else {
		e.store.SetStatus(ctx, cursor.StatusHooked, "")
	}

	log.Printf("sync: pass complete, %d forwarded, cursor %s", count, result.Cursor)
	return result, nil
}

func parsePosition(s string) uint64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// formatPosition renders the highest seen change id, falling back to the
// starting position when the log produced none.
func formatPosition(latest uint64, start string) string {
	if latest == 0 {
		return start
	}
	return strconv.FormatUint(latest, 10)
}
