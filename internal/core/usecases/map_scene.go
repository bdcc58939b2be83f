package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/livemap/internal/core/domain"
	"github.com/samirrijal/livemap/internal/core/ports"
	"github.com/samirrijal/livemap/internal/pkg/geospatial"
	"github.com/samirrijal/livemap/internal/pkg/logging"
	"github.com/samirrijal/livemap/internal/pkg/metrics"
)

// SceneState is the lifecycle state of a MapScene.
type SceneState string

const (
	SceneUninitialized SceneState = "uninitialized"
	SceneInitializing  SceneState = "initializing"
	SceneReady         SceneState = "ready"
	SceneError         SceneState = "error"
	SceneTimedOut      SceneState = "timed_out"
	SceneDestroyed     SceneState = "destroyed"
)

// DefaultSceneInitTimeout is the guard applied to scene initialisation.
const DefaultSceneInitTimeout = 20 * time.Second

// SceneStatus is the observable state of a MapScene.
type SceneStatus struct {
	State   SceneState `json:"state"`
	Message string     `json:"message,omitempty"`
	Err     error      `json:"-"`
}

// SceneConfig tunes a MapScene.
type SceneConfig struct {
	InitTimeout time.Duration
	// Extrusion adds the 3D building overlay once the base style has loaded.
	Extrusion bool
}

// MapScene owns one rendering-engine instance at a time and exposes the
// layer, popup and camera operations. Operations issued outside the ready
// state are no-ops.
type MapScene struct {
	engine ports.RenderEngine
	cfg    SceneConfig
	logger *slog.Logger

	mu          sync.Mutex
	state       SceneState
	message     string
	err         error
	gen         uint64
	handle      ports.SceneHandle
	pendingLoad bool
	styleLoaded bool
	extruded    bool
	timer       *time.Timer
	startedAt   time.Time
	readyCh     chan struct{}
	readyClosed bool
	seq         uint64
	layers      map[domain.LayerKind]string
	popup       string
	onState     func(SceneStatus)
	onClick     func(kind domain.LayerKind, featureID string)
}

// NewMapScene creates an uninitialised scene.
func NewMapScene(engine ports.RenderEngine, cfg SceneConfig) *MapScene {
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = DefaultSceneInitTimeout
	}
	return &MapScene{
		engine:  engine,
		cfg:     cfg,
		logger:  logging.Component("map_scene"),
		state:   SceneUninitialized,
		readyCh: make(chan struct{}),
		layers:  make(map[domain.LayerKind]string),
	}
}

// OnStateChange registers a callback for state transitions.
func (s *MapScene) OnStateChange(fn func(SceneStatus)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// OnClick registers a callback for clicks on features of managed layers.
func (s *MapScene) OnClick(fn func(kind domain.LayerKind, featureID string)) {
	s.mu.Lock()
	s.onClick = fn
	s.mu.Unlock()
}

// Init creates a new engine instance. Any previous instance is destroyed
// first; a destroyed instance is never reused.
func (s *MapScene) Init(ctx context.Context, opts domain.SceneOptions) error {
	s.mu.Lock()
	stale := s.resetLocked()
	s.gen++
	gen := s.gen
	s.state = SceneInitializing
	s.message = ""
	s.err = nil
	s.startedAt = time.Now()
	if s.readyClosed {
		s.readyCh = make(chan struct{})
		s.readyClosed = false
	}
	s.timer = time.AfterFunc(s.cfg.InitTimeout, func() { s.handleTimeout(gen) })
	s.mu.Unlock()

	s.destroyHandle(stale)
	metrics.SceneTransitions.WithLabelValues(string(SceneInitializing)).Inc()
	s.emit(SceneStatus{State: SceneInitializing})

	handle, err := s.engine.CreateScene(ctx, opts, ports.SceneEvents{
		OnLoad:      func() { s.handleLoad(gen) },
		OnStyleLoad: func() { s.handleStyleLoad(gen) },
		OnError:     func(msg string) { s.handleError(gen, msg) },
		OnClick:     func(layerID, featureID string) { s.handleClick(gen, layerID, featureID) },
	})
	if err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrInitialization, err)
		s.fail(gen, SceneError, err.Error(), err)
		return err
	}

	s.mu.Lock()
	if s.gen != gen || s.state != SceneInitializing {
		// Destroyed, superseded or timed out while the engine was being built.
		keep := s.gen == gen
		if keep {
			s.handle = handle
		}
		s.mu.Unlock()
		if !keep {
			s.destroyHandle(handle)
			return domain.ErrCancelled
		}
		return nil
	}
	s.handle = handle
	var st *SceneStatus
	if s.pendingLoad {
		st = s.readyLocked()
	}
	s.mu.Unlock()

	if st != nil {
		s.emit(*st)
	}
	return nil
}

// WaitReady blocks until the current initialisation settles.
func (s *MapScene) WaitReady(ctx context.Context) error {
	s.mu.Lock()
	ch := s.readyCh
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
	}

	st := s.Status()
	switch st.State {
	case SceneReady:
		return nil
	case SceneTimedOut:
		return fmt.Errorf("map scene: %w", domain.ErrTimeout)
	case SceneError:
		if st.Err != nil {
			return st.Err
		}
		return domain.ErrInitialization
	default:
		return domain.ErrCancelled
	}
}

// Destroy releases the engine instance and every layer and popup handle.
func (s *MapScene) Destroy() {
	s.mu.Lock()
	if s.state == SceneDestroyed {
		s.mu.Unlock()
		return
	}
	handle := s.resetLocked()
	s.gen++
	s.state = SceneDestroyed
	s.message = ""
	s.err = nil
	s.closeReadyLocked()
	s.mu.Unlock()

	metrics.SceneTransitions.WithLabelValues(string(SceneDestroyed)).Inc()
	s.destroyHandle(handle)
	s.emit(SceneStatus{State: SceneDestroyed})
}

// Status returns the current lifecycle state.
func (s *MapScene) Status() SceneStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SceneStatus{State: s.state, Message: s.message, Err: s.err}
}

// Layers returns the engine layer id currently held for each kind.
func (s *MapScene) Layers() map[domain.LayerKind]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.LayerKind]string, len(s.layers))
	for k, v := range s.layers {
		out[k] = v
	}
	return out
}

// HasLayer reports whether the current engine instance holds a layer of kind.
func (s *MapScene) HasLayer(kind domain.LayerKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.layers[kind]
	return ok
}

// Popup returns the id of the open popup, or "".
func (s *MapScene) Popup() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.popup
}

// SetLayer replaces the point layer of the given kind. An empty point set
// removes the layer.
func (s *MapScene) SetLayer(kind domain.LayerKind, points []domain.ScenePoint, style domain.LayerStyle) error {
	if len(points) == 0 {
		return s.RemoveLayer(kind)
	}
	fc := geojson.NewFeatureCollection()
	for _, p := range points {
		f := geojson.NewFeature(geospatial.Point(p.Position.Latitude, p.Position.Longitude))
		f.ID = p.ID
		f.Properties["id"] = p.ID
		for k, v := range p.Properties {
			f.Properties[k] = v
		}
		fc.Append(f)
	}
	return s.withReady(func(h ports.SceneHandle) error {
		s.removeLayerLocked(h, kind)
		id := layerID(kind)
		if err := h.SetPointLayer(id, fc, style); err != nil {
			return fmt.Errorf("set %s layer: %w", kind, err)
		}
		s.layers[kind] = id
		return nil
	})
}

// SetLine replaces the line layer of the given kind.
func (s *MapScene) SetLine(kind domain.LayerKind, path []domain.Position, style domain.LayerStyle) error {
	if len(path) < 2 {
		return s.RemoveLayer(kind)
	}
	line := make(orb.LineString, 0, len(path))
	for _, p := range path {
		line = append(line, geospatial.Point(p.Latitude, p.Longitude))
	}
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(line))
	return s.withReady(func(h ports.SceneHandle) error {
		s.removeLayerLocked(h, kind)
		id := layerID(kind)
		if err := h.SetLineLayer(id, fc, style); err != nil {
			return fmt.Errorf("set %s line: %w", kind, err)
		}
		s.layers[kind] = id
		return nil
	})
}

// RemoveLayer removes the layer of the given kind, if any.
func (s *MapScene) RemoveLayer(kind domain.LayerKind) error {
	return s.withReady(func(h ports.SceneHandle) error {
		s.removeLayerLocked(h, kind)
		return nil
	})
}

// ShowPopup opens a popup, closing any popup that is already open.
func (s *MapScene) ShowPopup(at domain.Position, html string) error {
	return s.withReady(func(h ports.SceneHandle) error {
		s.closePopupLocked(h)
		id := s.nextIDLocked("popup")
		if err := h.OpenPopup(id, at, html); err != nil {
			return fmt.Errorf("open popup: %w", err)
		}
		s.popup = id
		return nil
	})
}

// ClosePopup closes the open popup, if any.
func (s *MapScene) ClosePopup() error {
	return s.withReady(func(h ports.SceneHandle) error {
		s.closePopupLocked(h)
		return nil
	})
}

// SetCenter moves the camera without animation.
func (s *MapScene) SetCenter(at domain.Position) error {
	return s.withReady(func(h ports.SceneHandle) error { return h.SetCenter(at) })
}

// SetZoom changes the zoom level.
func (s *MapScene) SetZoom(level float64) error {
	return s.withReady(func(h ports.SceneHandle) error { return h.SetZoom(level) })
}

// FlyTo animates the camera to a position.
func (s *MapScene) FlyTo(at domain.Position, zoom float64) error {
	return s.withReady(func(h ports.SceneHandle) error { return h.FlyTo(at, zoom) })
}

// FitBounds frames every given position.
func (s *MapScene) FitBounds(positions []domain.Position, padding float64) error {
	pts := make([]orb.Point, 0, len(positions))
	for _, p := range positions {
		if p.Valid() {
			pts = append(pts, geospatial.Point(p.Latitude, p.Longitude))
		}
	}
	bound, ok := geospatial.BoundAround(pts, 0)
	if !ok {
		return nil
	}
	return s.withReady(func(h ports.SceneHandle) error { return h.FitBounds(bound, padding) })
}

func (s *MapScene) withReady(fn func(h ports.SceneHandle) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SceneReady || s.handle == nil {
		return nil
	}
	return fn(s.handle)
}

// layerID is stable per kind so a click racing a re-render still resolves.
func layerID(kind domain.LayerKind) string {
	return "livemap-" + string(kind)
}

func (s *MapScene) nextIDLocked(prefix string) string {
	s.seq++
	return fmt.Sprintf("livemap-%s-%d", prefix, s.seq)
}

func (s *MapScene) removeLayerLocked(h ports.SceneHandle, kind domain.LayerKind) {
	id, ok := s.layers[kind]
	if !ok {
		return
	}
	delete(s.layers, kind)
	if err := h.RemoveLayer(id); err != nil {
		s.logger.Warn("remove layer", "kind", kind, "layer_id", id, "error", err)
	}
}

func (s *MapScene) closePopupLocked(h ports.SceneHandle) {
	if s.popup == "" {
		return
	}
	id := s.popup
	s.popup = ""
	if err := h.ClosePopup(id); err != nil {
		s.logger.Warn("close popup", "popup_id", id, "error", err)
	}
}

// resetLocked clears every handle and returns the engine instance to destroy.
func (s *MapScene) resetLocked() ports.SceneHandle {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	h := s.handle
	s.handle = nil
	s.pendingLoad = false
	s.styleLoaded = false
	s.extruded = false
	s.layers = make(map[domain.LayerKind]string)
	s.popup = ""
	return h
}

func (s *MapScene) closeReadyLocked() {
	if !s.readyClosed {
		close(s.readyCh)
		s.readyClosed = true
	}
}

func (s *MapScene) destroyHandle(h ports.SceneHandle) {
	if h == nil {
		return
	}
	if err := h.Destroy(); err != nil {
		s.logger.Warn("destroy engine instance", "error", err)
	}
}

// readyLocked moves an initialising scene with a captured handle to ready.
func (s *MapScene) readyLocked() *SceneStatus {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state = SceneReady
	s.pendingLoad = false
	s.closeReadyLocked()
	metrics.SceneTransitions.WithLabelValues(string(SceneReady)).Inc()
	metrics.SceneInitDuration.Observe(time.Since(s.startedAt).Seconds())
	if s.styleLoaded {
		s.extrudeLocked()
	}
	return &SceneStatus{State: SceneReady}
}

func (s *MapScene) extrudeLocked() {
	if !s.cfg.Extrusion || s.extruded || s.handle == nil {
		return
	}
	s.extruded = true
	if err := s.handle.AddExtrusionLayer(); err != nil {
		s.logger.Warn("extrusion overlay unavailable", "error", err)
	}
}

func (s *MapScene) handleLoad(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state != SceneInitializing {
		s.mu.Unlock()
		return
	}
	if s.handle == nil {
		s.pendingLoad = true
		s.mu.Unlock()
		return
	}
	st := s.readyLocked()
	s.mu.Unlock()
	s.emit(*st)
}

func (s *MapScene) handleStyleLoad(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	s.styleLoaded = true
	if s.state == SceneReady {
		s.extrudeLocked()
	}
}

func (s *MapScene) handleError(gen uint64, msg string) {
	s.mu.Lock()
	state := s.state
	current := s.gen == gen
	s.mu.Unlock()
	if !current {
		return
	}
	if state != SceneInitializing {
		s.logger.Warn("engine error", "state", state, "message", msg)
		return
	}
	if msg == "" {
		msg = "the map engine reported an error"
	}
	s.fail(gen, SceneError, msg, fmt.Errorf("%w: %s", domain.ErrInitialization, msg))
}

func (s *MapScene) handleTimeout(gen uint64) {
	msg := fmt.Sprintf("map did not load within %s; check the network connection, the access token and that the map container is visible", s.cfg.InitTimeout)
	s.fail(gen, SceneTimedOut, msg, fmt.Errorf("map scene: %w", domain.ErrTimeout))
}

func (s *MapScene) fail(gen uint64, state SceneState, msg string, err error) {
	s.mu.Lock()
	if s.gen != gen || s.state != SceneInitializing {
		s.mu.Unlock()
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state = state
	s.message = msg
	s.err = err
	s.closeReadyLocked()
	s.mu.Unlock()

	metrics.SceneTransitions.WithLabelValues(string(state)).Inc()
	s.logger.Warn("map scene failed", "state", state, "message", msg)
	s.emit(SceneStatus{State: state, Message: msg, Err: err})
}

func (s *MapScene) handleClick(gen uint64, layerID, featureID string) {
	s.mu.Lock()
	if s.gen != gen || s.state != SceneReady {
		s.mu.Unlock()
		return
	}
	var kind domain.LayerKind
	for k, id := range s.layers {
		if id == layerID {
			kind = k
			break
		}
	}
	fn := s.onClick
	s.mu.Unlock()

	if kind == "" || fn == nil {
		return
	}
	fn(kind, featureID)
}

func (s *MapScene) emit(st SceneStatus) {
	s.mu.Lock()
	fn := s.onState
	s.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}
