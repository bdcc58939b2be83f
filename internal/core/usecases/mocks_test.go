package usecases_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/livemap/internal/core/domain"
	"github.com/samirrijal/livemap/internal/core/ports"
)

func ptr[T any](v T) *T { return &v }

// --- Mock PresenceStore ---

type mockPresenceStore struct {
	updatePositionFn func(ctx context.Context, userID string, pos domain.Position, at time.Time) (*domain.PresenceRecord, error)
	setActiveFn      func(ctx context.Context, userID string, active bool, at time.Time) (*domain.PresenceRecord, error)
	listFn           func(ctx context.Context, filter domain.PresenceFilter) ([]domain.PresenceRecord, error)
	listStaleFn      func(ctx context.Context, before time.Time, limit int) ([]string, error)
}

func (m *mockPresenceStore) UpdatePosition(ctx context.Context, userID string, pos domain.Position, at time.Time) (*domain.PresenceRecord, error) {
	if m.updatePositionFn != nil {
		return m.updatePositionFn(ctx, userID, pos, at)
	}
	return &domain.PresenceRecord{ID: userID, Latitude: ptr(pos.Latitude), Longitude: ptr(pos.Longitude), UpdatedAt: at}, nil
}

func (m *mockPresenceStore) SetActive(ctx context.Context, userID string, active bool, at time.Time) (*domain.PresenceRecord, error) {
	if m.setActiveFn != nil {
		return m.setActiveFn(ctx, userID, active, at)
	}
	return &domain.PresenceRecord{ID: userID, IsActive: ptr(active), UpdatedAt: at}, nil
}

func (m *mockPresenceStore) List(ctx context.Context, filter domain.PresenceFilter) ([]domain.PresenceRecord, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return nil, nil
}

func (m *mockPresenceStore) Get(ctx context.Context, userID string) (*domain.PresenceRecord, error) {
	return nil, domain.ErrNotFound
}

func (m *mockPresenceStore) ListStale(ctx context.Context, before time.Time, limit int) ([]string, error) {
	if m.listStaleFn != nil {
		return m.listStaleFn(ctx, before, limit)
	}
	return nil, nil
}

// --- Mock EventPublisher ---

type mockEventPublisher struct {
	mu     sync.Mutex
	events []domain.PresenceEvent
	err    error
}

func (m *mockEventPublisher) PublishPresence(ctx context.Context, e *domain.PresenceEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *e)
	return m.err
}

func (m *mockEventPublisher) published() []domain.PresenceEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.PresenceEvent(nil), m.events...)
}

// --- Fake ChangeFeed ---

type fakeFeed struct {
	mu       sync.Mutex
	handlers map[int]func(domain.PresenceEvent)
	next     int
	err      error
	unsubs   int
}

type fakeSubscription struct {
	feed *fakeFeed
	id   int
	once sync.Once
}

func (s *fakeSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.handlers, s.id)
		s.feed.unsubs++
		s.feed.mu.Unlock()
	})
	return nil
}

func (f *fakeFeed) Subscribe(ctx context.Context, handler func(domain.PresenceEvent)) (ports.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.handlers == nil {
		f.handlers = make(map[int]func(domain.PresenceEvent))
	}
	f.next++
	f.handlers[f.next] = handler
	return &fakeSubscription{feed: f, id: f.next}, nil
}

// emit delivers an event to every live handler synchronously.
func (f *fakeFeed) emit(e domain.PresenceEvent) {
	f.mu.Lock()
	hs := make([]func(domain.PresenceEvent), 0, len(f.handlers))
	for _, h := range f.handlers {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(e)
	}
}

func (f *fakeFeed) live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

// --- Fake GeolocationProvider ---

type fakeGeo struct {
	mu        sync.Mutex
	supported bool
	watches   map[ports.WatchID]fakeWatch
	cleared   []ports.WatchID
	opts      domain.WatchOptions
	next      int
	currentFn func(ctx context.Context) (domain.Sample, error)
}

type fakeWatch struct {
	onSample func(domain.Sample)
	onError  func(int, string)
}

func newFakeGeo() *fakeGeo {
	return &fakeGeo{supported: true, watches: make(map[ports.WatchID]fakeWatch)}
}

func (g *fakeGeo) Supported() bool { return g.supported }

func (g *fakeGeo) WatchPosition(opts domain.WatchOptions, onSample func(domain.Sample), onError func(int, string)) (ports.WatchID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	id := ports.WatchID(fmt.Sprintf("w%d", g.next))
	g.opts = opts
	g.watches[id] = fakeWatch{onSample: onSample, onError: onError}
	return id, nil
}

func (g *fakeGeo) ClearWatch(id ports.WatchID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cleared = append(g.cleared, id)
}

func (g *fakeGeo) CurrentPosition(ctx context.Context, opts domain.WatchOptions) (domain.Sample, error) {
	if g.currentFn != nil {
		return g.currentFn(ctx)
	}
	return domain.Sample{}, domain.ErrPositionUnavailable
}

// sample pushes a fix to every watch, including cleared ones, the way a
// late platform callback would.
func (g *fakeGeo) sample(lat, lon float64) {
	g.mu.Lock()
	ws := make([]fakeWatch, 0, len(g.watches))
	for _, w := range g.watches {
		ws = append(ws, w)
	}
	g.mu.Unlock()
	for _, w := range ws {
		w.onSample(domain.Sample{Position: domain.Position{Latitude: lat, Longitude: lon}, Timestamp: time.Now()})
	}
}

func (g *fakeGeo) fail(code int, msg string) {
	g.mu.Lock()
	ws := make([]fakeWatch, 0, len(g.watches))
	for _, w := range g.watches {
		ws = append(ws, w)
	}
	g.mu.Unlock()
	for _, w := range ws {
		w.onError(code, msg)
	}
}

func (g *fakeGeo) clearedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.cleared)
}

// --- Fake RenderEngine ---

type fakeEngine struct {
	mu        sync.Mutex
	handles   []*fakeHandle
	events    []ports.SceneEvents
	createErr error
	// autoLoad fires OnLoad from inside CreateScene.
	autoLoad bool
}

func (e *fakeEngine) CreateScene(ctx context.Context, opts domain.SceneOptions, ev ports.SceneEvents) (ports.SceneHandle, error) {
	if e.createErr != nil {
		return nil, e.createErr
	}
	h := &fakeHandle{layers: map[string]*geojson.FeatureCollection{}, popups: map[string]string{}}
	e.mu.Lock()
	e.handles = append(e.handles, h)
	e.events = append(e.events, ev)
	e.mu.Unlock()
	if e.autoLoad {
		ev.OnLoad()
	}
	return h, nil
}

func (e *fakeEngine) last() (*fakeHandle, ports.SceneEvents) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.handles)
	return e.handles[n-1], e.events[n-1]
}

type fakeHandle struct {
	mu        sync.Mutex
	layers    map[string]*geojson.FeatureCollection
	popups    map[string]string
	center    *domain.Position
	zoom      float64
	bound     *orb.Bound
	extruded  int
	extrudErr error
	destroyed int
	layerSets int
}

func (h *fakeHandle) SetPointLayer(id string, fc *geojson.FeatureCollection, style domain.LayerStyle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.layers[id] = fc
	h.layerSets++
	return nil
}

func (h *fakeHandle) SetLineLayer(id string, fc *geojson.FeatureCollection, style domain.LayerStyle) error {
	return h.SetPointLayer(id, fc, style)
}

func (h *fakeHandle) RemoveLayer(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.layers, id)
	return nil
}

func (h *fakeHandle) OpenPopup(id string, at domain.Position, html string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.popups[id] = html
	return nil
}

func (h *fakeHandle) ClosePopup(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.popups, id)
	return nil
}

func (h *fakeHandle) SetCenter(at domain.Position) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.center = &at
	return nil
}

func (h *fakeHandle) SetZoom(level float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.zoom = level
	return nil
}

func (h *fakeHandle) FlyTo(at domain.Position, zoom float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.center = &at
	h.zoom = zoom
	return nil
}

func (h *fakeHandle) FitBounds(b orb.Bound, padding float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bound = &b
	return nil
}

func (h *fakeHandle) AddExtrusionLayer() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.extruded++
	return h.extrudErr
}

func (h *fakeHandle) Destroy() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.destroyed++
	return nil
}

func (h *fakeHandle) setCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.layerSets
}

func (h *fakeHandle) layerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.layers)
}

func (h *fakeHandle) popupCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.popups)
}

// --- Mock search repositories ---

type mockProductRepo struct {
	searchFn func(ctx context.Context, q string, limit int) ([]domain.Product, error)
}

func (m *mockProductRepo) Search(ctx context.Context, q string, limit int) ([]domain.Product, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, q, limit)
	}
	return nil, nil
}

type mockOrgRepo struct {
	searchFn  func(ctx context.Context, q string, limit int) ([]domain.Organization, error)
	getByIDFn func(ctx context.Context, id string) (*domain.Organization, error)
}

func (m *mockOrgRepo) Search(ctx context.Context, q string, limit int) ([]domain.Organization, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, q, limit)
	}
	return nil, nil
}

func (m *mockOrgRepo) GetByID(ctx context.Context, id string) (*domain.Organization, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

type mockUserRepo struct {
	searchFn func(ctx context.Context, q string, limit int) ([]domain.UserProfile, error)
}

func (m *mockUserRepo) Search(ctx context.Context, q string, limit int) ([]domain.UserProfile, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, q, limit)
	}
	return nil, nil
}

func (m *mockUserRepo) GetByID(ctx context.Context, id string) (*domain.UserProfile, error) {
	return nil, domain.ErrNotFound
}

// --- In-memory cache ---

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (c *memCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, ports.ErrCacheMiss
	}
	return v, nil
}

func (c *memCache) Set(ctx context.Context, key string, value []byte, ttl int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// --- Mock RoutingProvider ---

type mockRouting struct {
	routeFn func(ctx context.Context, origin, dest domain.Position) (*domain.Route, error)
}

func (m *mockRouting) Route(ctx context.Context, origin, dest domain.Position) (*domain.Route, error) {
	return m.routeFn(ctx, origin, dest)
}

// --- In-memory PresenceStore ---

// memPresenceStore keeps one row per user with the same last-write-wins and
// reactivate-on-position rules as the Postgres store.
type memPresenceStore struct {
	mu     sync.Mutex
	rows   map[string]*domain.PresenceRecord
	writes int
}

func newMemPresenceStore() *memPresenceStore {
	return &memPresenceStore{rows: make(map[string]*domain.PresenceRecord)}
}

func (s *memPresenceStore) row(userID string, at time.Time) (*domain.PresenceRecord, bool) {
	r, ok := s.rows[userID]
	if !ok {
		r = &domain.PresenceRecord{ID: userID, IsActive: ptr(false)}
		s.rows[userID] = r
	}
	return r, !ok || !r.UpdatedAt.After(at)
}

func (s *memPresenceStore) UpdatePosition(ctx context.Context, userID string, pos domain.Position, at time.Time) (*domain.PresenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, fresh := s.row(userID, at)
	if !fresh {
		return nil, nil
	}
	s.writes++
	r.Latitude, r.Longitude, r.IsActive, r.UpdatedAt = ptr(pos.Latitude), ptr(pos.Longitude), ptr(true), at
	cp := *r
	return &cp, nil
}

func (s *memPresenceStore) SetActive(ctx context.Context, userID string, active bool, at time.Time) (*domain.PresenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, fresh := s.row(userID, at)
	if !fresh {
		return nil, nil
	}
	s.writes++
	r.IsActive, r.UpdatedAt = ptr(active), at
	cp := *r
	return &cp, nil
}

func (s *memPresenceStore) List(ctx context.Context, filter domain.PresenceFilter) ([]domain.PresenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PresenceRecord
	for _, r := range s.rows {
		if filter.Match(*r) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *memPresenceStore) Get(ctx context.Context, userID string) (*domain.PresenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memPresenceStore) ListStale(ctx context.Context, before time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, r := range s.rows {
		if r.Active() && r.UpdatedAt.Before(before) && len(ids) < limit {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *memPresenceStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *memPresenceStore) active(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[userID]
	return ok && r.Active()
}
