package http

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/samirrijal/livemap/internal/core/domain"
	"github.com/samirrijal/livemap/internal/core/ports"
)

type geoCallbacks struct {
	onSample func(domain.Sample)
	onError  func(code int, message string)
}

type geoResult struct {
	sample domain.Sample
	err    error
}

// remoteGeolocation implements ports.GeolocationProvider over the session
// socket: the browser runs the platform watch and forwards fixes.
type remoteGeolocation struct {
	out outbox

	mu        sync.Mutex
	supported bool
	watches   map[ports.WatchID]geoCallbacks
	pending   map[string]chan geoResult
}

func newRemoteGeolocation(out outbox) *remoteGeolocation {
	return &remoteGeolocation{
		out:       out,
		supported: true,
		watches:   make(map[ports.WatchID]geoCallbacks),
		pending:   make(map[string]chan geoResult),
	}
}

type geoWatchMsg struct {
	WatchID      string `json:"watch_id,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
	HighAccuracy bool   `json:"enable_high_accuracy"`
	TimeoutMS    int64  `json:"timeout"`
	MaximumAgeMS int64  `json:"maximum_age"`
}

func watchMsg(opts domain.WatchOptions) geoWatchMsg {
	return geoWatchMsg{
		HighAccuracy: opts.HighAccuracy,
		TimeoutMS:    opts.Timeout.Milliseconds(),
		MaximumAgeMS: opts.MaximumAge.Milliseconds(),
	}
}

func (g *remoteGeolocation) Supported() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.supported
}

func (g *remoteGeolocation) WatchPosition(opts domain.WatchOptions, onSample func(domain.Sample), onError func(int, string)) (ports.WatchID, error) {
	id := ports.WatchID(uuid.NewString())
	g.mu.Lock()
	g.watches[id] = geoCallbacks{onSample: onSample, onError: onError}
	g.mu.Unlock()

	msg := watchMsg(opts)
	msg.WatchID = string(id)
	if err := g.out.send(outGeoWatch, msg); err != nil {
		g.mu.Lock()
		delete(g.watches, id)
		g.mu.Unlock()
		return "", err
	}
	return id, nil
}

func (g *remoteGeolocation) ClearWatch(id ports.WatchID) {
	g.mu.Lock()
	_, ok := g.watches[id]
	delete(g.watches, id)
	g.mu.Unlock()
	if ok {
		_ = g.out.send(outGeoClearWatch, geoWatchMsg{WatchID: string(id)})
	}
}

func (g *remoteGeolocation) CurrentPosition(ctx context.Context, opts domain.WatchOptions) (domain.Sample, error) {
	reqID := uuid.NewString()
	ch := make(chan geoResult, 1)
	g.mu.Lock()
	g.pending[reqID] = ch
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.pending, reqID)
		g.mu.Unlock()
	}()

	msg := watchMsg(opts)
	msg.RequestID = reqID
	if err := g.out.send(outGeoCurrent, msg); err != nil {
		return domain.Sample{}, err
	}

	select {
	case res := <-ch:
		return res.sample, res.err
	case <-ctx.Done():
		return domain.Sample{}, ctx.Err()
	}
}

// handleSample routes a fix to a one-shot request, to one watch, or to every
// watch when the client did not tag it.
func (g *remoteGeolocation) handleSample(m inbound) {
	s := m.sample()
	if g.resolve(m.RequestID, geoResult{sample: s}) {
		return
	}
	for _, cb := range g.targets(m.WatchID) {
		cb.onSample(s)
	}
}

func (g *remoteGeolocation) handleError(m inbound) {
	if g.resolve(m.RequestID, geoResult{err: domain.NormalizeGeoError(m.Code, m.Message)}) {
		return
	}
	for _, cb := range g.targets(m.WatchID) {
		cb.onError(m.Code, m.Message)
	}
}

// markUnsupported records that the browser has no geolocation API and fails
// any outstanding one-shot request.
func (g *remoteGeolocation) markUnsupported() {
	g.mu.Lock()
	g.supported = false
	pending := g.pending
	g.pending = make(map[string]chan geoResult)
	g.mu.Unlock()
	for _, ch := range pending {
		ch <- geoResult{err: domain.ErrUnsupported}
	}
}

func (g *remoteGeolocation) resolve(reqID string, res geoResult) bool {
	if reqID == "" {
		return false
	}
	g.mu.Lock()
	ch, ok := g.pending[reqID]
	delete(g.pending, reqID)
	g.mu.Unlock()
	if ok {
		ch <- res
	}
	return true
}

func (g *remoteGeolocation) targets(watchID string) []geoCallbacks {
	g.mu.Lock()
	defer g.mu.Unlock()
	if watchID != "" {
		if cb, ok := g.watches[ports.WatchID(watchID)]; ok {
			return []geoCallbacks{cb}
		}
		return nil
	}
	out := make([]geoCallbacks, 0, len(g.watches))
	for _, cb := range g.watches {
		out = append(out, cb)
	}
	return out
}
