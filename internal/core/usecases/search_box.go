package usecases

import (
	"context"
	"sync"
	"time"

	"github.com/samirrijal/livemap/internal/core/domain"
)

// DefaultSearchDebounce is the input inactivity window before a query runs.
const DefaultSearchDebounce = 350 * time.Millisecond

// Searcher runs a single search query.
type Searcher interface {
	Search(ctx context.Context, query string) (*domain.SearchResponse, error)
}

// SearchBox debounces keystrokes of one logical search input and supersedes
// older queries: only the newest query's outcome is ever delivered.
type SearchBox struct {
	searcher Searcher
	debounce time.Duration
	deliver  func(*domain.SearchResponse, error)
	base     context.Context

	mu     sync.Mutex
	seq    uint64
	timer  *time.Timer
	cancel context.CancelFunc
	closed bool
}

// NewSearchBox creates a search box bound to ctx. deliver receives results
// and non-cancellation errors.
func NewSearchBox(ctx context.Context, searcher Searcher, debounce time.Duration, deliver func(*domain.SearchResponse, error)) *SearchBox {
	if debounce <= 0 {
		debounce = DefaultSearchDebounce
	}
	return &SearchBox{searcher: searcher, debounce: debounce, deliver: deliver, base: ctx}
}

// Type records new input. An empty query is answered immediately without a
// lookup; anything else runs after the debounce window.
func (b *SearchBox) Type(query string) {
	seq, ok := b.supersede()
	if !ok {
		return
	}
	if normalizeQuery(query) == "" {
		b.finish(seq, emptySearchResponse(query), nil)
		return
	}

	b.mu.Lock()
	if b.seq == seq && !b.closed {
		b.timer = time.AfterFunc(b.debounce, func() { b.run(seq, query) })
	}
	b.mu.Unlock()
}

// Submit runs query at once, skipping the debounce window.
func (b *SearchBox) Submit(query string) {
	seq, ok := b.supersede()
	if !ok {
		return
	}
	if normalizeQuery(query) == "" {
		b.finish(seq, emptySearchResponse(query), nil)
		return
	}
	go b.run(seq, query)
}

// Close cancels any pending or in-flight query. Idempotent.
func (b *SearchBox) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.seq++
	b.stopLocked()
}

func (b *SearchBox) supersede() (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, false
	}
	b.seq++
	b.stopLocked()
	return b.seq, true
}

func (b *SearchBox) stopLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
}

func (b *SearchBox) run(seq uint64, query string) {
	b.mu.Lock()
	if b.seq != seq || b.closed {
		b.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(b.base)
	b.cancel = cancel
	b.mu.Unlock()
	defer cancel()

	resp, err := b.searcher.Search(ctx, query)
	b.finish(seq, resp, err)
}

func (b *SearchBox) finish(seq uint64, resp *domain.SearchResponse, err error) {
	if err != nil && domain.IsCancellation(err) {
		return
	}
	b.mu.Lock()
	current := b.seq == seq && !b.closed
	b.mu.Unlock()
	if !current || b.deliver == nil {
		return
	}
	b.deliver(resp, err)
}
