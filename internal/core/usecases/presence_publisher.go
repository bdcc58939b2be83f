package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/samirrijal/livemap/internal/core/domain"
	"github.com/samirrijal/livemap/internal/core/ports"
	"github.com/samirrijal/livemap/internal/pkg/geospatial"
	"github.com/samirrijal/livemap/internal/pkg/logging"
	"github.com/samirrijal/livemap/internal/pkg/metrics"
)

// PublisherConfig tunes the presence write path.
type PublisherConfig struct {
	// Interval is the minimum spacing between two position writes.
	Interval time.Duration
	// MinDistance is the movement in meters below which a sample is dropped.
	MinDistance float64
	// Heartbeat is the longest gap between two writes while sharing. It must
	// stay below the expiry window so a stationary sharer is never swept.
	Heartbeat time.Duration
	// WriteTimeout bounds a single store write.
	WriteTimeout time.Duration
}

func (c PublisherConfig) withDefaults() PublisherConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.MinDistance < 0 {
		c.MinDistance = 0
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 5 * time.Minute
	}
	return c
}

type jobKind int

const (
	jobPosition jobKind = iota
	jobActive
)

type publishJob struct {
	kind   jobKind
	pos    domain.Position
	active bool
}

// PresencePublisher persists the current user's position and sharing flag.
//
// Calls never block on I/O. A single writer goroutine drains an ordered
// queue so writes for the user are awaited sequentially and never reorder.
// Consecutive position samples coalesce into the newest one; flag writes
// keep their place behind any queued position.
type PresencePublisher struct {
	userID  string
	store   ports.PresenceStore
	events  ports.EventPublisher
	cfg     PublisherConfig
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time

	mu          sync.Mutex
	queue       []publishJob
	lastWritten *domain.Position
	lastWriteAt time.Time
	active      bool
	closed      bool

	wake    chan struct{}
	stopCtx context.Context
	stop    context.CancelFunc
	done    chan struct{}
}

// NewPresencePublisher creates a publisher for userID and starts its writer.
// events may be nil.
func NewPresencePublisher(userID string, store ports.PresenceStore, events ports.EventPublisher, cfg PublisherConfig) *PresencePublisher {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	p := &PresencePublisher{
		userID:  userID,
		store:   store,
		events:  events,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.Interval), 1),
		logger:  logging.Component("presence_publisher").With("user_id", userID),
		now:     time.Now,
		wake:    make(chan struct{}, 1),
		stopCtx: ctx,
		stop:    cancel,
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish queues a position write. Invalid positions and samples closer than
// MinDistance to the last written position are dropped, unless the last
// write is older than Heartbeat.
func (p *PresencePublisher) Publish(pos domain.Position) {
	if !pos.Valid() {
		metrics.PresenceSamplesDropped.WithLabelValues("invalid").Inc()
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	if n := len(p.queue); n > 0 && p.queue[n-1].kind == jobPosition {
		p.queue[n-1].pos = pos
		metrics.PresenceSamplesDropped.WithLabelValues("coalesced").Inc()
		return
	}
	if p.lastWritten != nil && p.cfg.MinDistance > 0 && time.Since(p.lastWriteAt) < p.cfg.Heartbeat &&
		geospatial.Haversine(p.lastWritten.Latitude, p.lastWritten.Longitude, pos.Latitude, pos.Longitude) < p.cfg.MinDistance {
		metrics.PresenceSamplesDropped.WithLabelValues("stationary").Inc()
		return
	}

	p.queue = append(p.queue, publishJob{kind: jobPosition, pos: pos})
	p.signal()
}

// SetActive queues a write of the discoverability flag.
func (p *PresencePublisher) SetActive(active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.active = active
	p.queue = append(p.queue, publishJob{kind: jobActive, active: active})
	p.signal()
}

// Close stops accepting work, flushes queued flag writes, drops queued
// positions and waits for the writer to exit. Safe to call more than once.
func (p *PresencePublisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		p.stop()
		p.signal()
	}
	p.mu.Unlock()
	<-p.done
}

// signal must be called with mu held.
func (p *PresencePublisher) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *PresencePublisher) run() {
	defer close(p.done)
	for {
		kind, ok := p.peek()
		if !ok {
			return
		}

		if kind == jobPosition {
			if err := p.limiter.Wait(p.stopCtx); err != nil {
				p.pop()
				metrics.PresenceSamplesDropped.WithLabelValues("closed").Inc()
				continue
			}
		}

		job := p.pop()
		p.write(job)
	}
}

// peek blocks until a job is queued and returns its kind without removing
// it, so position samples arriving during the throttle wait still coalesce.
// An idle wait that outlasts the heartbeat queues a heartbeat write.
func (p *PresencePublisher) peek() (jobKind, bool) {
	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			k := p.queue[0].kind
			p.mu.Unlock()
			return k, true
		}
		closed := p.closed
		wait := p.cfg.Heartbeat
		if !p.lastWriteAt.IsZero() {
			wait = max(p.cfg.Heartbeat-time.Since(p.lastWriteAt), time.Millisecond)
		}
		p.mu.Unlock()
		if closed {
			return 0, false
		}

		timer := time.NewTimer(wait)
		select {
		case <-p.wake:
		case <-timer.C:
			p.heartbeat()
		}
		timer.Stop()
	}
}

// heartbeat re-queues the last written position while sharing, refreshing
// the stored timestamp and active flag of a user who stopped moving.
func (p *PresencePublisher) heartbeat() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || !p.active || p.lastWritten == nil || len(p.queue) > 0 {
		return
	}
	if time.Since(p.lastWriteAt) < p.cfg.Heartbeat {
		return
	}
	p.queue = append(p.queue, publishJob{kind: jobPosition, pos: *p.lastWritten})
	metrics.PresenceHeartbeats.Inc()
}

func (p *PresencePublisher) pop() publishJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	job := p.queue[0]
	p.queue = p.queue[1:]
	return job
}

func (p *PresencePublisher) write(job publishJob) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.WriteTimeout)
	defer cancel()

	at := p.now().UTC()
	start := time.Now()

	var (
		rec  *domain.PresenceRecord
		err  error
		kind string
	)
	switch job.kind {
	case jobPosition:
		kind = "position"
		rec, err = p.store.UpdatePosition(ctx, p.userID, job.pos, at)
	case jobActive:
		kind = "active"
		rec, err = p.store.SetActive(ctx, p.userID, job.active, at)
	}
	metrics.PresenceWriteDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		err = fmt.Errorf("%w: %s: %v", domain.ErrTransientWrite, kind, err)
		metrics.PresenceWrites.WithLabelValues(kind, "error").Inc()
		p.logger.Warn("presence write failed", "kind", kind, "error", err)
		return
	}
	metrics.PresenceWrites.WithLabelValues(kind, "ok").Inc()

	p.mu.Lock()
	p.lastWriteAt = time.Now()
	if job.kind == jobPosition {
		pos := job.pos
		p.lastWritten = &pos
	}
	p.mu.Unlock()

	if p.events == nil || rec == nil {
		return
	}
	evt := &domain.PresenceEvent{Type: domain.PresenceUpdated, UserID: p.userID, Record: rec, ReceivedAt: at}
	if err := p.events.PublishPresence(ctx, evt); err != nil {
		p.logger.Warn("presence event publish failed", "kind", kind, "error", err)
	}
}
