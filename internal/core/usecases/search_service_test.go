package usecases_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/livemap/internal/core/domain"
	"github.com/samirrijal/livemap/internal/core/usecases"
)

type searchFixture struct {
	products *mockProductRepo
	orgs     *mockOrgRepo
	users    *mockUserRepo
	calls    atomic.Int32
}

func newSearchFixture() *searchFixture {
	f := &searchFixture{}
	f.products = &mockProductRepo{searchFn: func(ctx context.Context, q string, limit int) ([]domain.Product, error) {
		f.calls.Add(1)
		return []domain.Product{
			{ID: "p2", Name: "Coffee grinder", OrganizationID: "o9", Price: 40},
			{ID: "p1", Name: "Coffee", OrganizationID: "o1", Price: 3},
		}, nil
	}}
	f.orgs = &mockOrgRepo{
		searchFn: func(ctx context.Context, q string, limit int) ([]domain.Organization, error) {
			f.calls.Add(1)
			return []domain.Organization{{ID: "o1", Name: "Best Coffee Co", Location: at(43.26, -2.93)}}, nil
		},
		getByIDFn: func(ctx context.Context, id string) (*domain.Organization, error) {
			if id == "o9" {
				return &domain.Organization{ID: "o9", Name: "Grind House"}, nil
			}
			return nil, domain.ErrNotFound
		},
	}
	f.users = &mockUserRepo{searchFn: func(ctx context.Context, q string, limit int) ([]domain.UserProfile, error) {
		f.calls.Add(1)
		return []domain.UserProfile{{ID: "u1", Username: "coffeelover", DisplayName: "Ana"}}, nil
	}}
	return f
}

func (f *searchFixture) service(cache *memCache) *usecases.SearchService {
	if cache == nil {
		return usecases.NewSearchService(f.products, f.orgs, f.users, nil, usecases.SearchConfig{})
	}
	return usecases.NewSearchService(f.products, f.orgs, f.users, cache, usecases.SearchConfig{})
}

func TestSearchService_EmptyQuery(t *testing.T) {
	f := newSearchFixture()
	resp, err := f.service(nil).Search(context.Background(), "   ")
	require.NoError(t, err)

	assert.Empty(t, resp.Results)
	assert.NotNil(t, resp.Results)
	assert.True(t, resp.ShowSuggestions)
	assert.Zero(t, f.calls.Load(), "no lookups for an empty query")
}

func TestSearchService_MergesAndEnriches(t *testing.T) {
	f := newSearchFixture()
	var limits []int
	f.users.searchFn = func(ctx context.Context, q string, limit int) ([]domain.UserProfile, error) {
		limits = append(limits, limit)
		assert.Equal(t, "coffee", q)
		return []domain.UserProfile{{ID: "u1", Username: "coffeelover"}}, nil
	}

	resp, err := f.service(nil).Search(context.Background(), "  Coffee ")
	require.NoError(t, err)

	require.Len(t, resp.Results, 4)
	assert.Equal(t, []int{5}, limits)

	var types []domain.ResultType
	for _, r := range resp.Results {
		types = append(types, r.Type)
	}
	assert.Equal(t, []domain.ResultType{
		domain.ResultProduct, domain.ResultProduct, domain.ResultOrganization, domain.ResultUser,
	}, types)
	assert.Equal(t, map[domain.ResultType]int{
		domain.ResultProduct: 2, domain.ResultOrganization: 1, domain.ResultUser: 1,
	}, resp.Counts)

	// Exact match ranks before prefix match.
	assert.Equal(t, "p1", resp.Results[0].ID)
	assert.Equal(t, "Best Coffee Co", resp.Results[0].Data.(domain.ProductData).OrganizationName)
	assert.Equal(t, "Grind House", resp.Results[1].Data.(domain.ProductData).OrganizationName)

	// Users without a display name fall back to the username.
	assert.Equal(t, "coffeelover", resp.Results[3].Name)
	assert.False(t, resp.ShowSuggestions)
}

func TestSearchService_EnrichmentFailureDegrades(t *testing.T) {
	f := newSearchFixture()
	f.orgs.getByIDFn = func(ctx context.Context, id string) (*domain.Organization, error) {
		return nil, errors.New("timeout")
	}

	resp, err := f.service(nil).Search(context.Background(), "coffee")
	require.NoError(t, err)
	for _, r := range resp.Results {
		if r.ID == "p2" {
			assert.Empty(t, r.Data.(domain.ProductData).OrganizationName)
		}
	}
}

func TestSearchService_PartialFailure(t *testing.T) {
	f := newSearchFixture()
	f.users.searchFn = func(ctx context.Context, q string, limit int) ([]domain.UserProfile, error) {
		return nil, errors.New("users index down")
	}

	resp, err := f.service(nil).Search(context.Background(), "coffee")
	require.NoError(t, err)
	assert.Zero(t, resp.Counts[domain.ResultUser])
	assert.Equal(t, 2, resp.Counts[domain.ResultProduct])
}

func TestSearchService_AllFail(t *testing.T) {
	boom := errors.New("db down")
	f := newSearchFixture()
	f.products.searchFn = func(ctx context.Context, q string, limit int) ([]domain.Product, error) { return nil, boom }
	f.orgs.searchFn = func(ctx context.Context, q string, limit int) ([]domain.Organization, error) { return nil, boom }
	f.users.searchFn = func(ctx context.Context, q string, limit int) ([]domain.UserProfile, error) { return nil, boom }

	_, err := f.service(nil).Search(context.Background(), "coffee")
	require.ErrorIs(t, err, boom)
}

func TestSearchService_Cancelled(t *testing.T) {
	f := newSearchFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.service(nil).Search(ctx, "coffee")
	require.Error(t, err)
	assert.True(t, domain.IsCancellation(err))
}

func TestSearchService_Cache(t *testing.T) {
	f := newSearchFixture()
	cache := newMemCache()
	svc := f.service(cache)

	first, err := svc.Search(context.Background(), "coffee")
	require.NoError(t, err)
	calls := f.calls.Load()

	second, err := svc.Search(context.Background(), "COFFEE")
	require.NoError(t, err)
	assert.Equal(t, calls, f.calls.Load(), "served from cache")
	assert.Equal(t, first.Results, second.Results)
	assert.Equal(t, "COFFEE", second.Query)

	name, err := cache.Get(context.Background(), "org:name:o9")
	require.NoError(t, err)
	assert.Equal(t, "Grind House", string(name))
}

func TestRankResults(t *testing.T) {
	in := []domain.SearchResult{
		{Name: "Zebra"},
		{Name: "The Coffee Place"},
		{Name: "Uncoffeed"},
		{Name: "coffee"},
		{Name: "Coffeehouse"},
		{Name: "Another Coffeehouse"},
	}
	out := usecases.RankResults("Coffee", in)

	var names []string
	for _, r := range out {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{
		"coffee",
		"Coffeehouse",
		"Another Coffeehouse",
		"The Coffee Place",
		"Uncoffeed",
		"Zebra",
	}, names)
	assert.Equal(t, "Zebra", in[0].Name, "input is not mutated")
}
