package usecases_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/livemap/internal/core/domain"
	"github.com/samirrijal/livemap/internal/core/usecases"
)

var sceneOpts = domain.SceneOptions{
	Container: "map",
	StyleURL:  "mapbox://styles/mapbox/streets-v12",
	Center:    domain.Position{Latitude: 43.263, Longitude: -2.935},
	Zoom:      13,
	Pitch:     45,
}

func points(ids ...string) []domain.ScenePoint {
	out := make([]domain.ScenePoint, len(ids))
	for i, id := range ids {
		out[i] = domain.ScenePoint{ID: id, Position: domain.Position{Latitude: 43 + float64(i)*0.01, Longitude: -2.9}}
	}
	return out
}

func readyScene(t *testing.T, cfg usecases.SceneConfig) (*usecases.MapScene, *fakeEngine) {
	t.Helper()
	engine := &fakeEngine{autoLoad: true}
	scene := usecases.NewMapScene(engine, cfg)
	require.NoError(t, scene.Init(context.Background(), sceneOpts))
	require.NoError(t, scene.WaitReady(context.Background()))
	t.Cleanup(scene.Destroy)
	return scene, engine
}

func TestMapScene_OpsAreNoopsUntilReady(t *testing.T) {
	engine := &fakeEngine{}
	scene := usecases.NewMapScene(engine, usecases.SceneConfig{})
	defer scene.Destroy()

	assert.NoError(t, scene.SetLayer(domain.LayerSelf, points("me"), usecases.SelfIdleStyle))

	require.NoError(t, scene.Init(context.Background(), sceneOpts))
	assert.Equal(t, usecases.SceneInitializing, scene.Status().State)

	h, ev := engine.last()
	assert.NoError(t, scene.SetLayer(domain.LayerSelf, points("me"), usecases.SelfIdleStyle))
	assert.NoError(t, scene.ShowPopup(domain.Position{}, "x"))
	assert.Equal(t, 0, h.layerCount())
	assert.Equal(t, 0, h.popupCount())

	ev.OnLoad()
	assert.Equal(t, usecases.SceneReady, scene.Status().State)
	require.NoError(t, scene.SetLayer(domain.LayerSelf, points("me"), usecases.SelfIdleStyle))
	assert.Equal(t, 1, h.layerCount())
}

func TestMapScene_SetLayerReplaces(t *testing.T) {
	scene, engine := readyScene(t, usecases.SceneConfig{})
	h, _ := engine.last()

	require.NoError(t, scene.SetLayer(domain.LayerOthers, points("a", "b"), usecases.OthersStyle))
	require.NoError(t, scene.SetLayer(domain.LayerOthers, points("a"), usecases.OthersStyle))
	require.NoError(t, scene.SetLayer(domain.LayerSelf, points("me"), usecases.SelfIdleStyle))

	assert.Equal(t, 2, h.layerCount())
	assert.Len(t, scene.Layers(), 2)

	id := scene.Layers()[domain.LayerOthers]
	h.mu.Lock()
	fc := h.layers[id]
	h.mu.Unlock()
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "a", fc.Features[0].ID)
	assert.Equal(t, -2.9, fc.Features[0].Point().Lon())

	require.NoError(t, scene.SetLayer(domain.LayerOthers, nil, usecases.OthersStyle))
	assert.Equal(t, 1, h.layerCount())

	require.NoError(t, scene.RemoveLayer(domain.LayerSelf))
	require.NoError(t, scene.RemoveLayer(domain.LayerSelf))
	assert.Equal(t, 0, h.layerCount())
}

func TestMapScene_PopupIsExclusive(t *testing.T) {
	scene, engine := readyScene(t, usecases.SceneConfig{})
	h, _ := engine.last()

	require.NoError(t, scene.ShowPopup(domain.Position{Latitude: 1, Longitude: 1}, "first"))
	require.NoError(t, scene.ShowPopup(domain.Position{Latitude: 2, Longitude: 2}, "second"))

	assert.Equal(t, 1, h.popupCount())
	h.mu.Lock()
	assert.Equal(t, "second", h.popups[scene.Popup()])
	h.mu.Unlock()

	require.NoError(t, scene.ClosePopup())
	assert.Equal(t, 0, h.popupCount())
	assert.Empty(t, scene.Popup())
}

func TestMapScene_TimesOut(t *testing.T) {
	engine := &fakeEngine{}
	scene := usecases.NewMapScene(engine, usecases.SceneConfig{InitTimeout: 20 * time.Millisecond})
	defer scene.Destroy()

	require.NoError(t, scene.Init(context.Background(), sceneOpts))
	err := scene.WaitReady(context.Background())
	require.ErrorIs(t, err, domain.ErrTimeout)

	st := scene.Status()
	assert.Equal(t, usecases.SceneTimedOut, st.State)
	assert.Contains(t, st.Message, "access token")

	h, ev := engine.last()
	assert.NotPanics(t, func() {
		assert.NoError(t, scene.SetLayer(domain.LayerSelf, points("me"), usecases.SelfIdleStyle))
		assert.NoError(t, scene.SetCenter(domain.Position{}))
		assert.NoError(t, scene.SetZoom(3))
	})
	assert.Equal(t, 0, h.layerCount())

	ev.OnLoad()
	assert.Equal(t, usecases.SceneTimedOut, scene.Status().State, "late load is ignored")
}

func TestMapScene_EngineError(t *testing.T) {
	engine := &fakeEngine{}
	scene := usecases.NewMapScene(engine, usecases.SceneConfig{})
	defer scene.Destroy()

	var states []usecases.SceneState
	scene.OnStateChange(func(s usecases.SceneStatus) { states = append(states, s.State) })

	require.NoError(t, scene.Init(context.Background(), sceneOpts))
	_, ev := engine.last()
	ev.OnError("invalid access token")

	err := scene.WaitReady(context.Background())
	require.ErrorIs(t, err, domain.ErrInitialization)
	assert.Equal(t, usecases.SceneError, scene.Status().State)
	assert.Equal(t, "invalid access token", scene.Status().Message)
	assert.Equal(t, []usecases.SceneState{usecases.SceneInitializing, usecases.SceneError}, states)
}

func TestMapScene_CreateFails(t *testing.T) {
	engine := &fakeEngine{createErr: errors.New("webgl unavailable")}
	scene := usecases.NewMapScene(engine, usecases.SceneConfig{})

	err := scene.Init(context.Background(), sceneOpts)
	require.ErrorIs(t, err, domain.ErrInitialization)
	assert.Equal(t, usecases.SceneError, scene.Status().State)
}

func TestMapScene_DestroyAndReinit(t *testing.T) {
	engine := &fakeEngine{autoLoad: true}
	scene := usecases.NewMapScene(engine, usecases.SceneConfig{})

	require.NoError(t, scene.Init(context.Background(), sceneOpts))
	first, firstEv := engine.last()
	require.NoError(t, scene.SetLayer(domain.LayerSelf, points("me"), usecases.SelfIdleStyle))
	require.NoError(t, scene.ShowPopup(domain.Position{}, "hi"))

	scene.Destroy()
	scene.Destroy()
	assert.Equal(t, usecases.SceneDestroyed, scene.Status().State)
	assert.Equal(t, 1, first.destroyed)
	assert.Empty(t, scene.Layers())
	assert.Empty(t, scene.Popup())
	assert.ErrorIs(t, scene.WaitReady(context.Background()), domain.ErrCancelled)

	require.NoError(t, scene.Init(context.Background(), sceneOpts))
	second, _ := engine.last()
	assert.NotSame(t, first, second)
	assert.Equal(t, usecases.SceneReady, scene.Status().State)

	firstEv.OnError("late error from the old instance")
	assert.Equal(t, usecases.SceneReady, scene.Status().State)
	scene.Destroy()
}

func TestMapScene_ReinitTearsDownPending(t *testing.T) {
	engine := &fakeEngine{}
	scene := usecases.NewMapScene(engine, usecases.SceneConfig{})
	defer scene.Destroy()

	require.NoError(t, scene.Init(context.Background(), sceneOpts))
	stale, staleEv := engine.last()
	require.NoError(t, scene.Init(context.Background(), sceneOpts))

	assert.Equal(t, 1, stale.destroyed)
	staleEv.OnLoad()
	assert.Equal(t, usecases.SceneInitializing, scene.Status().State)
}

func TestMapScene_Extrusion(t *testing.T) {
	t.Run("style before load", func(t *testing.T) {
		engine := &fakeEngine{}
		scene := usecases.NewMapScene(engine, usecases.SceneConfig{Extrusion: true})
		defer scene.Destroy()
		require.NoError(t, scene.Init(context.Background(), sceneOpts))
		h, ev := engine.last()

		ev.OnStyleLoad()
		assert.Equal(t, 0, h.extruded)
		ev.OnLoad()
		ev.OnStyleLoad()
		assert.Equal(t, 1, h.extruded)
	})

	t.Run("failure keeps ready", func(t *testing.T) {
		engine := &fakeEngine{}
		scene := usecases.NewMapScene(engine, usecases.SceneConfig{Extrusion: true})
		defer scene.Destroy()
		require.NoError(t, scene.Init(context.Background(), sceneOpts))
		h, ev := engine.last()
		h.extrudErr = errors.New("no building source")

		ev.OnLoad()
		ev.OnStyleLoad()
		assert.Equal(t, 1, h.extruded)
		assert.Equal(t, usecases.SceneReady, scene.Status().State)
	})
}

func TestMapScene_ClickResolvesKind(t *testing.T) {
	scene, engine := readyScene(t, usecases.SceneConfig{})
	_, ev := engine.last()

	var gotKind domain.LayerKind
	var gotID string
	scene.OnClick(func(kind domain.LayerKind, id string) { gotKind, gotID = kind, id })

	require.NoError(t, scene.SetLayer(domain.LayerOthers, points("a"), usecases.OthersStyle))
	ev.OnClick(scene.Layers()[domain.LayerOthers], "a")
	assert.Equal(t, domain.LayerOthers, gotKind)
	assert.Equal(t, "a", gotID)

	gotID = ""
	ev.OnClick("unknown-layer", "a")
	assert.Empty(t, gotID)
}

func TestMapScene_ClickSurvivesRerender(t *testing.T) {
	scene, engine := readyScene(t, usecases.SceneConfig{})
	h, ev := engine.last()

	var clicks []string
	scene.OnClick(func(kind domain.LayerKind, id string) { clicks = append(clicks, id) })

	require.NoError(t, scene.SetLayer(domain.LayerOthers, points("alice"), usecases.OthersStyle))
	rendered := scene.Layers()[domain.LayerOthers]
	require.NoError(t, scene.SetLayer(domain.LayerOthers, points("alice"), usecases.OthersStyle))

	assert.Equal(t, rendered, scene.Layers()[domain.LayerOthers])
	assert.Equal(t, 1, h.layerCount())
	ev.OnClick(rendered, "alice")
	assert.Equal(t, []string{"alice"}, clicks)
}

func TestMapScene_Camera(t *testing.T) {
	scene, engine := readyScene(t, usecases.SceneConfig{})
	h, _ := engine.last()

	require.NoError(t, scene.FlyTo(domain.Position{Latitude: 40, Longitude: -3}, 15))
	assert.Equal(t, 40.0, h.center.Latitude)
	assert.Equal(t, 15.0, h.zoom)

	require.NoError(t, scene.FitBounds([]domain.Position{
		{Latitude: 40, Longitude: -3},
		{Latitude: 41, Longitude: -2},
		{Latitude: 999, Longitude: 0},
	}, 40))
	require.NotNil(t, h.bound)
	assert.Equal(t, 41.0, h.bound.Max.Lat())
	assert.Equal(t, -3.0, h.bound.Min.Lon())
}
