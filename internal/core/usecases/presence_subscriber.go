package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/samirrijal/livemap/internal/core/domain"
	"github.com/samirrijal/livemap/internal/core/ports"
	"github.com/samirrijal/livemap/internal/pkg/logging"
	"github.com/samirrijal/livemap/internal/pkg/metrics"
)

type subscriberState int

const (
	subscriberIdle subscriberState = iota
	subscriberFetching
	subscriberLive
	subscriberStopped
)

// PresenceSubscriber keeps a live registry of other users' presence.
//
// The change feed is attached before the bulk fetch. Events that arrive
// while the fetch runs are buffered and replayed over the fetched snapshot,
// so the registry ends in the state of the last event per id. There is no
// server sequence number: "last" means last to arrive.
type PresenceSubscriber struct {
	selfID string
	store  ports.PresenceStore
	feed   ports.ChangeFeed
	policy domain.StopPolicy
	logger *slog.Logger

	mu       sync.Mutex
	state    subscriberState
	gen      uint64
	filter   domain.PresenceFilter
	registry map[string]domain.UserPresence
	buffer   []domain.PresenceEvent
	sub      ports.Subscription
	onChange func([]domain.UserPresence)
}

// NewPresenceSubscriber creates a subscriber that always excludes selfID.
func NewPresenceSubscriber(selfID string, store ports.PresenceStore, feed ports.ChangeFeed, policy domain.StopPolicy) *PresenceSubscriber {
	if policy != domain.StopPolicyRemove {
		policy = domain.StopPolicyFreeze
	}
	return &PresenceSubscriber{
		selfID:   selfID,
		store:    store,
		feed:     feed,
		policy:   policy,
		logger:   logging.Component("presence_subscriber").With("user_id", selfID),
		registry: make(map[string]domain.UserPresence),
	}
}

// OnChange registers a callback that receives a fresh snapshot after every
// applied mutation. It is never invoked after Stop.
func (s *PresenceSubscriber) OnChange(fn func([]domain.UserPresence)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Start attaches to the change feed, seeds the registry from the store and
// returns the initial snapshot. Calling Start again restarts the subscriber.
func (s *PresenceSubscriber) Start(ctx context.Context, filter domain.PresenceFilter) ([]domain.UserPresence, error) {
	s.Stop()

	filter.ExcludeUserID = s.selfID

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.state = subscriberFetching
	s.filter = filter
	s.registry = make(map[string]domain.UserPresence)
	s.buffer = nil
	s.mu.Unlock()

	sub, err := s.feed.Subscribe(ctx, func(e domain.PresenceEvent) {
		s.handleEvent(gen, e)
	})
	if err != nil {
		s.fail(gen)
		return nil, fmt.Errorf("subscribe presence feed: %w", err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		_ = sub.Unsubscribe()
		return nil, domain.ErrCancelled
	}
	s.sub = sub
	s.mu.Unlock()

	records, err := s.store.List(ctx, filter)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return nil, domain.ErrCancelled
	}
	if err != nil {
		s.mu.Unlock()
		s.Stop()
		return nil, fmt.Errorf("fetch presences: %w", err)
	}

	for _, r := range records {
		if r.ID == s.selfID || !filter.Match(r) {
			continue
		}
		s.registry[r.ID] = r.ToPresence(s.selfID)
	}
	for _, e := range s.buffer {
		s.apply(e)
	}
	s.logger.Debug("presence registry seeded", "fetched", len(records), "replayed", len(s.buffer))
	s.buffer = nil
	s.state = subscriberLive
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(gen, snap)
	return snap, nil
}

// Stop releases the change-feed subscription. Idempotent.
func (s *PresenceSubscriber) Stop() {
	s.mu.Lock()
	if s.state == subscriberIdle || s.state == subscriberStopped {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.state = subscriberStopped
	sub := s.sub
	s.sub = nil
	s.buffer = nil
	s.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn("unsubscribe presence feed", "error", err)
		}
	}
}

// Snapshot returns the registry sorted by user id.
func (s *PresenceSubscriber) Snapshot() []domain.UserPresence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Get returns the presence of one user.
func (s *PresenceSubscriber) Get(userID string) (domain.UserPresence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.registry[userID]
	return p, ok
}

func (s *PresenceSubscriber) handleEvent(gen uint64, e domain.PresenceEvent) {
	s.mu.Lock()
	if s.gen != gen || s.state == subscriberStopped {
		s.mu.Unlock()
		return
	}
	if s.state == subscriberFetching {
		s.buffer = append(s.buffer, e)
		s.mu.Unlock()
		metrics.FeedEventsBuffered.Inc()
		return
	}
	changed := s.apply(e)
	var snap []domain.UserPresence
	if changed {
		snap = s.snapshotLocked()
	}
	s.mu.Unlock()

	if changed {
		s.notify(gen, snap)
	}
}

// apply must be called with mu held. Each event replaces the entry for its
// id wholesale.
func (s *PresenceSubscriber) apply(e domain.PresenceEvent) bool {
	id := e.UserID
	if id == "" && e.Record != nil {
		id = e.Record.ID
	}
	if id == "" || id == s.selfID {
		return false
	}
	metrics.FeedEventsApplied.WithLabelValues(string(e.Type)).Inc()

	if e.Type == domain.PresenceDeleted {
		if _, ok := s.registry[id]; !ok {
			return false
		}
		delete(s.registry, id)
		return true
	}
	if e.Record == nil {
		return false
	}

	rec := *e.Record
	rec.ID = id
	if s.filter.Match(rec) {
		s.registry[id] = rec.ToPresence(s.selfID)
		return true
	}

	// The record no longer matches (typically sharing stopped).
	_, known := s.registry[id]
	if !known {
		return false
	}
	if s.policy == domain.StopPolicyRemove {
		delete(s.registry, id)
		return true
	}
	frozen := rec.ToPresence(s.selfID)
	frozen.IsActive = false
	if frozen.Position == nil {
		frozen.Position = s.registry[id].Position
	}
	s.registry[id] = frozen
	return true
}

func (s *PresenceSubscriber) snapshotLocked() []domain.UserPresence {
	out := make([]domain.UserPresence, 0, len(s.registry))
	for _, p := range s.registry {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (s *PresenceSubscriber) fail(gen uint64) {
	s.mu.Lock()
	if s.gen == gen {
		s.state = subscriberStopped
	}
	s.mu.Unlock()
}

func (s *PresenceSubscriber) notify(gen uint64, snap []domain.UserPresence) {
	s.mu.Lock()
	fn := s.onChange
	alive := s.gen == gen && s.state == subscriberLive
	s.mu.Unlock()
	if !alive || fn == nil {
		return
	}
	fn(snap)
}
