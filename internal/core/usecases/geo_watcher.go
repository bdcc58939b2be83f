package usecases

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/samirrijal/livemap/internal/core/domain"
	"github.com/samirrijal/livemap/internal/core/ports"
)

// DefaultFixTimeout bounds each geolocation fix.
const DefaultFixTimeout = 10 * time.Second

// WatchHandle identifies one GeoWatcher subscription.
type WatchHandle string

type watch struct {
	providerID ports.WatchID
	stopped    atomic.Bool
}

// GeoWatcher turns the platform geolocation API into cancelable streams of
// samples with normalized errors.
type GeoWatcher struct {
	provider ports.GeolocationProvider
	opts     domain.WatchOptions

	mu      sync.Mutex
	watches map[WatchHandle]*watch
}

// NewGeoWatcher creates a GeoWatcher. High accuracy is always requested and
// cached fixes are never accepted.
func NewGeoWatcher(provider ports.GeolocationProvider, fixTimeout time.Duration) *GeoWatcher {
	if fixTimeout <= 0 {
		fixTimeout = DefaultFixTimeout
	}
	return &GeoWatcher{
		provider: provider,
		opts: domain.WatchOptions{
			HighAccuracy: true,
			Timeout:      fixTimeout,
			MaximumAge:   0,
		},
		watches: make(map[WatchHandle]*watch),
	}
}

// Supported reports whether the platform offers geolocation at all.
func (w *GeoWatcher) Supported() bool {
	return w.provider != nil && w.provider.Supported()
}

// Start begins a continuous watch. onSample is invoked for every fix until
// Stop; onError receives errors from the domain taxonomy.
func (w *GeoWatcher) Start(onSample func(domain.Sample), onError func(error)) (WatchHandle, error) {
	if !w.Supported() {
		return "", domain.ErrUnsupported
	}

	wt := &watch{}
	id, err := w.provider.WatchPosition(w.opts,
		func(s domain.Sample) {
			if wt.stopped.Load() || onSample == nil {
				return
			}
			if s.Timestamp.IsZero() {
				s.Timestamp = time.Now()
			}
			onSample(s)
		},
		func(code int, message string) {
			if wt.stopped.Load() || onError == nil {
				return
			}
			onError(domain.NormalizeGeoError(code, message))
		},
	)
	if err != nil {
		return "", fmt.Errorf("watch position: %w", err)
	}
	wt.providerID = id

	handle := WatchHandle(uuid.NewString())
	w.mu.Lock()
	w.watches[handle] = wt
	w.mu.Unlock()

	return handle, nil
}

// Stop ends a watch. Unknown or already-stopped handles are ignored.
func (w *GeoWatcher) Stop(handle WatchHandle) {
	w.mu.Lock()
	wt, ok := w.watches[handle]
	delete(w.watches, handle)
	w.mu.Unlock()

	if !ok || !wt.stopped.CompareAndSwap(false, true) {
		return
	}
	w.provider.ClearWatch(wt.providerID)
}

// StopAll ends every watch started by this GeoWatcher.
func (w *GeoWatcher) StopAll() {
	w.mu.Lock()
	handles := make([]WatchHandle, 0, len(w.watches))
	for h := range w.watches {
		handles = append(handles, h)
	}
	w.mu.Unlock()

	for _, h := range handles {
		w.Stop(h)
	}
}

// CurrentPosition takes a single fresh fix.
func (w *GeoWatcher) CurrentPosition(ctx context.Context) (domain.Sample, error) {
	if !w.Supported() {
		return domain.Sample{}, domain.ErrUnsupported
	}
	ctx, cancel := context.WithTimeout(ctx, w.opts.Timeout)
	defer cancel()

	s, err := w.provider.CurrentPosition(ctx, w.opts)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return domain.Sample{}, fmt.Errorf("current position: %w", domain.ErrTimeout)
		}
		return domain.Sample{}, fmt.Errorf("current position: %w", err)
	}
	return s, nil
}
