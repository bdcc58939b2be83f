package http

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/livemap/internal/core/domain"
	"github.com/samirrijal/livemap/internal/core/ports"
)

// remoteRenderer implements ports.RenderEngine by driving the map library in
// the browser. Only the most recently created scene receives events.
type remoteRenderer struct {
	out outbox

	mu      sync.Mutex
	sceneID string
	events  ports.SceneEvents
}

func newRemoteRenderer(out outbox) *remoteRenderer {
	return &remoteRenderer{out: out}
}

type sceneCreateMsg struct {
	SceneID string              `json:"scene_id"`
	Options domain.SceneOptions `json:"options"`
}

func (r *remoteRenderer) CreateScene(_ context.Context, opts domain.SceneOptions, events ports.SceneEvents) (ports.SceneHandle, error) {
	id := uuid.NewString()
	r.mu.Lock()
	r.sceneID = id
	r.events = events
	r.mu.Unlock()

	if err := r.out.send(outSceneCreate, sceneCreateMsg{SceneID: id, Options: opts}); err != nil {
		r.release(id)
		return nil, err
	}
	return &remoteScene{id: id, out: r.out, renderer: r}, nil
}

// dispatch forwards a client lifecycle event to the current scene.
func (r *remoteRenderer) dispatch(m inbound) {
	r.mu.Lock()
	if r.sceneID == "" || (m.SceneID != "" && m.SceneID != r.sceneID) {
		r.mu.Unlock()
		return
	}
	ev := r.events
	r.mu.Unlock()

	switch m.Type {
	case msgSceneLoaded:
		if ev.OnLoad != nil {
			ev.OnLoad()
		}
	case msgSceneStyleLoaded:
		if ev.OnStyleLoad != nil {
			ev.OnStyleLoad()
		}
	case msgSceneError:
		if ev.OnError != nil {
			ev.OnError(m.Message)
		}
	case msgSceneClick:
		if ev.OnClick != nil {
			ev.OnClick(m.Layer, m.FeatureID)
		}
	}
}

func (r *remoteRenderer) release(id string) {
	r.mu.Lock()
	if r.sceneID == id {
		r.sceneID = ""
		r.events = ports.SceneEvents{}
	}
	r.mu.Unlock()
}

// remoteScene is the handle of one browser-side map instance.
type remoteScene struct {
	id       string
	out      outbox
	renderer *remoteRenderer
}

type layerMsg struct {
	SceneID  string                     `json:"scene_id"`
	ID       string                     `json:"id"`
	Geometry string                     `json:"geometry,omitempty"` // point | line
	Data     *geojson.FeatureCollection `json:"data,omitempty"`
	Style    *domain.LayerStyle         `json:"style,omitempty"`
}

type popupMsg struct {
	SceneID  string           `json:"scene_id"`
	ID       string           `json:"id"`
	Position *domain.Position `json:"position,omitempty"`
	HTML     string           `json:"html,omitempty"`
}

type cameraMsg struct {
	SceneID string           `json:"scene_id"`
	Center  *domain.Position `json:"center,omitempty"`
	Zoom    float64          `json:"zoom,omitempty"`
	Bounds  *[2][2]float64   `json:"bounds,omitempty"` // [[west, south], [east, north]]
	Padding float64          `json:"padding,omitempty"`
}

func (s *remoteScene) SetPointLayer(id string, fc *geojson.FeatureCollection, style domain.LayerStyle) error {
	return s.out.send(outLayerSet, layerMsg{SceneID: s.id, ID: id, Geometry: "point", Data: fc, Style: &style})
}

func (s *remoteScene) SetLineLayer(id string, fc *geojson.FeatureCollection, style domain.LayerStyle) error {
	return s.out.send(outLayerSet, layerMsg{SceneID: s.id, ID: id, Geometry: "line", Data: fc, Style: &style})
}

func (s *remoteScene) RemoveLayer(id string) error {
	return s.out.send(outLayerRemove, layerMsg{SceneID: s.id, ID: id})
}

func (s *remoteScene) OpenPopup(id string, at domain.Position, html string) error {
	return s.out.send(outPopupOpen, popupMsg{SceneID: s.id, ID: id, Position: &at, HTML: html})
}

func (s *remoteScene) ClosePopup(id string) error {
	return s.out.send(outPopupClose, popupMsg{SceneID: s.id, ID: id})
}

func (s *remoteScene) SetCenter(at domain.Position) error {
	return s.out.send(outCameraCenter, cameraMsg{SceneID: s.id, Center: &at})
}

func (s *remoteScene) SetZoom(level float64) error {
	return s.out.send(outCameraZoom, cameraMsg{SceneID: s.id, Zoom: level})
}

func (s *remoteScene) FlyTo(at domain.Position, zoom float64) error {
	return s.out.send(outCameraFlyTo, cameraMsg{SceneID: s.id, Center: &at, Zoom: zoom})
}

func (s *remoteScene) FitBounds(b orb.Bound, padding float64) error {
	bounds := [2][2]float64{{b.Min.X(), b.Min.Y()}, {b.Max.X(), b.Max.Y()}}
	return s.out.send(outCameraFitBounds, cameraMsg{SceneID: s.id, Bounds: &bounds, Padding: padding})
}

func (s *remoteScene) AddExtrusionLayer() error {
	return s.out.send(outSceneExtrusion, cameraMsg{SceneID: s.id})
}

func (s *remoteScene) Destroy() error {
	s.renderer.release(s.id)
	return s.out.send(outSceneDestroy, cameraMsg{SceneID: s.id})
}
