package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/samirrijal/livemap/internal/core/domain"
	"github.com/samirrijal/livemap/internal/core/ports"
	"github.com/samirrijal/livemap/internal/pkg/metrics"
	"github.com/samirrijal/livemap/internal/pkg/telemetry"
)

// SearchConfig tunes the search fan-out.
type SearchConfig struct {
	PerTypeLimit int
	CacheTTL     time.Duration
	// OrgCacheTTL applies to cached organization names used for enrichment.
	OrgCacheTTL time.Duration
}

func (c SearchConfig) withDefaults() SearchConfig {
	if c.PerTypeLimit <= 0 {
		c.PerTypeLimit = 5
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Minute
	}
	if c.OrgCacheTTL <= 0 {
		c.OrgCacheTTL = 10 * time.Minute
	}
	return c
}

// SearchService fans a free-text query out over products, organizations and
// users, then ranks and merges the hits.
type SearchService struct {
	products ports.ProductRepository
	orgs     ports.OrganizationRepository
	users    ports.UserRepository
	cache    ports.CacheService
	cfg      SearchConfig
}

// NewSearchService creates a new SearchService. cache may be nil.
func NewSearchService(
	products ports.ProductRepository,
	orgs ports.OrganizationRepository,
	users ports.UserRepository,
	cache ports.CacheService,
	cfg SearchConfig,
) *SearchService {
	return &SearchService{products: products, orgs: orgs, users: users, cache: cache, cfg: cfg.withDefaults()}
}

// Search runs one query. An empty query returns an empty response asking for
// default suggestions without touching any backend. A failing entity type
// degrades to an empty group; only a failure of every type is an error.
func (s *SearchService) Search(ctx context.Context, query string) (*domain.SearchResponse, error) {
	q := normalizeQuery(query)
	if q == "" {
		return emptySearchResponse(query), nil
	}

	ctx, span := otel.Tracer(telemetry.TracerSearch).Start(ctx, telemetry.SpanSearch)
	defer span.End()
	span.SetAttributes(attribute.String("search.query", q))

	start := time.Now()
	defer func() { metrics.SearchDuration.Observe(time.Since(start).Seconds()) }()

	cacheKey := fmt.Sprintf("search:%d:%s", s.cfg.PerTypeLimit, q)
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var resp domain.SearchResponse
			if err := json.Unmarshal(data, &resp); err == nil {
				metrics.CacheHits.WithLabelValues("search").Inc()
				metrics.SearchRequests.WithLabelValues("cached").Inc()
				resp.Query = query
				return &resp, nil
			}
		} else if errors.Is(err, ports.ErrCacheMiss) {
			metrics.CacheMisses.WithLabelValues("search").Inc()
		}
	}

	var (
		products []domain.Product
		orgs     []domain.Organization
		users    []domain.UserProfile
		failures [3]error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		products, failures[0] = s.products.Search(gctx, q, s.cfg.PerTypeLimit)
		return nil
	})
	g.Go(func() error {
		orgs, failures[1] = s.orgs.Search(gctx, q, s.cfg.PerTypeLimit)
		return nil
	})
	g.Go(func() error {
		users, failures[2] = s.users.Search(gctx, q, s.cfg.PerTypeLimit)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		metrics.SearchRequests.WithLabelValues("cancelled").Inc()
		return nil, fmt.Errorf("search %q: %w", q, domain.ErrCancelled)
	}

	failed := 0
	for i, err := range failures {
		if err != nil {
			failed++
			metrics.SearchLookupErrors.WithLabelValues(string(domain.ResultTypes[i])).Inc()
			slog.WarnContext(ctx, "search lookup failed", "type", domain.ResultTypes[i], "query", q, "error", err)
		}
	}
	if failed == len(failures) {
		metrics.SearchRequests.WithLabelValues("error").Inc()
		span.RecordError(failures[0])
		return nil, fmt.Errorf("search %q: %w", q, errors.Join(failures[:]...))
	}

	orgNames := s.organizationNames(ctx, products, orgs)

	groups := map[domain.ResultType][]domain.SearchResult{}
	for _, p := range products {
		groups[domain.ResultProduct] = append(groups[domain.ResultProduct], domain.NewSearchResult(
			p.ID, p.Name, p.Image, p.Description,
			domain.ProductData{
				Price:            p.Price,
				Currency:         p.Currency,
				OrganizationID:   p.OrganizationID,
				OrganizationName: orgNames[p.OrganizationID],
			}))
	}
	for _, o := range orgs {
		groups[domain.ResultOrganization] = append(groups[domain.ResultOrganization], domain.NewSearchResult(
			o.ID, o.Name, o.Logo, o.Description,
			domain.OrganizationData{Category: o.Category, Location: o.Location}))
	}
	for _, u := range users {
		name := u.DisplayName
		if name == "" {
			name = u.Username
		}
		groups[domain.ResultUser] = append(groups[domain.ResultUser], domain.NewSearchResult(
			u.ID, name, u.AvatarURL, u.Bio,
			domain.UserData{Username: u.Username, Location: u.Location, IsActive: u.IsActive}))
	}

	resp := &domain.SearchResponse{
		Query:   query,
		Results: make([]domain.SearchResult, 0, len(products)+len(orgs)+len(users)),
		Counts:  make(map[domain.ResultType]int, len(domain.ResultTypes)),
	}
	for _, t := range domain.ResultTypes {
		group := RankResults(q, groups[t])
		resp.Counts[t] = len(group)
		resp.Results = append(resp.Results, group...)
	}
	span.SetAttributes(attribute.Int("search.results", len(resp.Results)))
	metrics.SearchRequests.WithLabelValues("ok").Inc()

	// Degraded responses are not cached so a recovered backend is seen at once.
	if s.cache != nil && failed == 0 {
		if data, err := json.Marshal(resp); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, int(s.cfg.CacheTTL.Seconds()))
		}
	}
	return resp, nil
}

// organizationNames resolves owning organization names for products. Names
// come from the organizations already in the result, then the cache, then
// the repository. Failures leave the name empty.
func (s *SearchService) organizationNames(ctx context.Context, products []domain.Product, known []domain.Organization) map[string]string {
	names := make(map[string]string)
	for _, o := range known {
		names[o.ID] = o.Name
	}

	var missing []string
	seen := make(map[string]bool)
	for _, p := range products {
		id := p.OrganizationID
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := names[id]; ok {
			continue
		}
		if s.cache != nil {
			if data, err := s.cache.Get(ctx, "org:name:"+id); err == nil {
				names[id] = string(data)
				continue
			}
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return names
	}

	resolved := make([]string, len(missing))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range missing {
		i, id := i, id
		g.Go(func() error {
			org, err := s.orgs.GetByID(gctx, id)
			if err != nil || org == nil {
				slog.DebugContext(ctx, "organization enrichment skipped", "organization_id", id, "error", err)
				return nil
			}
			resolved[i] = org.Name
			return nil
		})
	}
	_ = g.Wait()

	for i, id := range missing {
		if resolved[i] == "" {
			continue
		}
		names[id] = resolved[i]
		if s.cache != nil {
			_ = s.cache.Set(ctx, "org:name:"+id, []byte(resolved[i]), int(s.cfg.OrgCacheTTL.Seconds()))
		}
	}
	return names
}

// RankResults orders one result group: exact match, then prefix, then word
// prefix, then substring, then anything else; ties break on name.
func RankResults(query string, results []domain.SearchResult) []domain.SearchResult {
	q := normalizeQuery(query)
	out := make([]domain.SearchResult, len(results))
	copy(out, results)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := matchRank(q, out[i].Name), matchRank(q, out[j].Name)
		if ri != rj {
			return ri < rj
		}
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

func matchRank(q, name string) int {
	n := strings.ToLower(name)
	switch {
	case n == q:
		return 0
	case strings.HasPrefix(n, q):
		return 1
	case hasWordPrefix(n, q):
		return 2
	case strings.Contains(n, q):
		return 3
	default:
		return 4
	}
}

func hasWordPrefix(name, q string) bool {
	for _, w := range strings.FieldsFunc(name, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '.' || r == ','
	}) {
		if strings.HasPrefix(w, q) {
			return true
		}
	}
	return false
}

func normalizeQuery(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}

func emptySearchResponse(query string) *domain.SearchResponse {
	counts := make(map[domain.ResultType]int, len(domain.ResultTypes))
	for _, t := range domain.ResultTypes {
		counts[t] = 0
	}
	return &domain.SearchResponse{
		Query:           query,
		Results:         []domain.SearchResult{},
		Counts:          counts,
		ShowSuggestions: true,
	}
}
