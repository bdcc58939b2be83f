package usecases

import (
	"context"
	"log/slog"
	"sync"

	"github.com/samirrijal/livemap/internal/core/domain"
	"github.com/samirrijal/livemap/internal/pkg/logging"
)

// SharingState is the observable state of a SharingController.
type SharingState struct {
	Sharing  bool                `json:"sharing"`
	Self     domain.UserPresence `json:"self"`
	Err      error               `json:"-"`
	Guidance string              `json:"guidance,omitempty"`
}

// SharingController connects a GeoWatcher to a PresencePublisher and owns
// the current user's own presence.
//
// A geolocation error while sharing stops sharing and clears the server-side
// flag. The last known self position is kept so its marker stays visible.
type SharingController struct {
	watcher   *GeoWatcher
	publisher *PresencePublisher
	logger    *slog.Logger

	mu       sync.Mutex
	sharing  bool
	handle   WatchHandle
	self     domain.UserPresence
	lastErr  error
	closed   bool
	onChange func(SharingState)
}

// NewSharingController creates a controller for the given user.
func NewSharingController(self domain.UserPresence, watcher *GeoWatcher, publisher *PresencePublisher) *SharingController {
	self.IsSelf = true
	self.IsActive = false
	return &SharingController{
		watcher:   watcher,
		publisher: publisher,
		self:      self,
		logger:    logging.Component("sharing").With("user_id", self.UserID),
	}
}

// OnChange registers a callback invoked after every state change.
func (c *SharingController) OnChange(fn func(SharingState)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Start begins sharing. Starting while already sharing is a no-op.
func (c *SharingController) Start() error {
	c.mu.Lock()
	if c.closed || c.sharing {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	handle, err := c.watcher.Start(c.handleSample, c.handleError)
	if err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		c.notify()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.watcher.Stop(handle)
		return nil
	}
	c.sharing = true
	c.handle = handle
	c.lastErr = nil
	c.self.IsActive = true
	c.mu.Unlock()

	c.publisher.SetActive(true)
	c.notify()
	return nil
}

// Stop ends sharing on explicit user action.
func (c *SharingController) Stop() {
	c.stopWith(nil)
}

// Locate takes a one-shot fix to place the self marker without sharing it.
func (c *SharingController) Locate(ctx context.Context) error {
	s, err := c.watcher.CurrentPosition(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	pos := s.Position
	c.self.Position = &pos
	c.self.LastUpdated = s.Timestamp
	c.mu.Unlock()
	c.notify()
	return nil
}

// State returns a copy of the current state.
func (c *SharingController) State() SharingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Self returns the current user's presence.
func (c *SharingController) Self() domain.UserPresence {
	return c.State().Self
}

// Close stops sharing and suppresses further callbacks. Idempotent.
func (c *SharingController) Close() {
	c.stopWith(nil)
	c.mu.Lock()
	c.closed = true
	c.onChange = nil
	c.mu.Unlock()
}

func (c *SharingController) handleSample(s domain.Sample) {
	c.mu.Lock()
	if c.closed || !c.sharing || !s.Valid() {
		c.mu.Unlock()
		return
	}
	pos := s.Position
	c.self.Position = &pos
	c.self.LastUpdated = s.Timestamp
	c.mu.Unlock()

	c.publisher.Publish(pos)
	c.notify()
}

func (c *SharingController) handleError(err error) {
	c.logger.Warn("geolocation error while sharing", "error", err)
	c.stopWith(err)
}

func (c *SharingController) stopWith(cause error) {
	c.mu.Lock()
	if c.closed || !c.sharing {
		c.mu.Unlock()
		return
	}
	handle := c.handle
	c.sharing = false
	c.handle = ""
	c.lastErr = cause
	c.self.IsActive = false
	c.mu.Unlock()

	c.watcher.Stop(handle)
	c.publisher.SetActive(false)
	c.notify()
}

func (c *SharingController) stateLocked() SharingState {
	self := c.self
	if self.Position != nil {
		p := *self.Position
		self.Position = &p
	}
	return SharingState{
		Sharing:  c.sharing,
		Self:     self,
		Err:      c.lastErr,
		Guidance: domain.Guidance(c.lastErr),
	}
}

func (c *SharingController) notify() {
	c.mu.Lock()
	fn := c.onChange
	closed := c.closed
	st := c.stateLocked()
	c.mu.Unlock()
	if fn == nil || closed {
		return
	}
	fn(st)
}
