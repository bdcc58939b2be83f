package usecases_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/livemap/internal/core/domain"
	"github.com/samirrijal/livemap/internal/core/usecases"
)

type searcherFunc func(ctx context.Context, q string) (*domain.SearchResponse, error)

func (f searcherFunc) Search(ctx context.Context, q string) (*domain.SearchResponse, error) {
	return f(ctx, q)
}

type delivered struct {
	mu   sync.Mutex
	resp []*domain.SearchResponse
	errs []error
}

func (d *delivered) fn(r *domain.SearchResponse, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resp = append(d.resp, r)
	d.errs = append(d.errs, err)
}

func (d *delivered) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.resp)
}

func TestSearchBox_DebouncesKeystrokes(t *testing.T) {
	var mu sync.Mutex
	var queries []string
	s := searcherFunc(func(ctx context.Context, q string) (*domain.SearchResponse, error) {
		mu.Lock()
		queries = append(queries, q)
		mu.Unlock()
		return &domain.SearchResponse{Query: q}, nil
	})
	out := &delivered{}
	box := usecases.NewSearchBox(context.Background(), s, 30*time.Millisecond, out.fn)
	defer box.Close()

	for _, q := range []string{"c", "co", "cof", "coffee"} {
		box.Type(q)
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return out.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"coffee"}, queries)
	assert.Equal(t, "coffee", out.resp[0].Query)
}

func TestSearchBox_EmptyQueryIsImmediate(t *testing.T) {
	called := false
	s := searcherFunc(func(ctx context.Context, q string) (*domain.SearchResponse, error) {
		called = true
		return nil, nil
	})
	out := &delivered{}
	box := usecases.NewSearchBox(context.Background(), s, time.Hour, out.fn)
	defer box.Close()

	box.Type("")
	require.Equal(t, 1, out.count())
	assert.True(t, out.resp[0].ShowSuggestions)
	assert.Empty(t, out.resp[0].Results)
	assert.False(t, called)
}

func TestSearchBox_NewerQuerySupersedesInFlight(t *testing.T) {
	release := make(chan struct{})
	var cancelled sync.WaitGroup
	cancelled.Add(1)
	s := searcherFunc(func(ctx context.Context, q string) (*domain.SearchResponse, error) {
		if q == "slow" {
			<-ctx.Done()
			cancelled.Done()
			<-release
			return &domain.SearchResponse{Query: q}, nil
		}
		return &domain.SearchResponse{Query: q}, nil
	})
	out := &delivered{}
	box := usecases.NewSearchBox(context.Background(), s, time.Millisecond, out.fn)
	defer box.Close()

	box.Submit("slow")
	time.Sleep(10 * time.Millisecond)
	box.Submit("fast")

	cancelled.Wait()
	require.Eventually(t, func() bool { return out.count() == 1 }, time.Second, time.Millisecond)
	close(release)
	time.Sleep(10 * time.Millisecond)

	out.mu.Lock()
	defer out.mu.Unlock()
	require.Len(t, out.resp, 1, "stale result is never delivered")
	assert.Equal(t, "fast", out.resp[0].Query)
}

func TestSearchBox_CancellationErrorsAreSwallowed(t *testing.T) {
	s := searcherFunc(func(ctx context.Context, q string) (*domain.SearchResponse, error) {
		return nil, domain.ErrCancelled
	})
	out := &delivered{}
	box := usecases.NewSearchBox(context.Background(), s, time.Millisecond, out.fn)

	box.Submit("x")
	time.Sleep(20 * time.Millisecond)
	box.Close()
	box.Close()
	box.Type("y")
	assert.Zero(t, out.count())
}
