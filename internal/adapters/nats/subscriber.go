package natsadapter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/samirrijal/livemap/internal/core/domain"
	"github.com/samirrijal/livemap/internal/core/ports"
)

// ChangeFeed implements ports.ChangeFeed with a core NATS subscription per
// caller. Core subscriptions deliver messages to their handler one at a time,
// so events for one subscriber keep their arrival order.
type ChangeFeed struct {
	conn *nats.Conn
}

// NewChangeFeed creates a feed over an existing connection.
func NewChangeFeed(conn *nats.Conn) *ChangeFeed {
	return &ChangeFeed{conn: conn}
}

// Subscribe registers handler for every presence event. The subscription is
// also released when ctx is done.
func (f *ChangeFeed) Subscribe(ctx context.Context, handler func(domain.PresenceEvent)) (ports.Subscription, error) {
	s := &subscription{done: make(chan struct{})}
	sub, err := f.conn.Subscribe(SubjectPrefix+">", func(msg *nats.Msg) {
		ev, ok := decodeEvent(msg)
		if !ok {
			return
		}
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}
		handler(ev)
	})
	if err != nil {
		return nil, err
	}
	s.sub = sub

	if done := ctx.Done(); done != nil {
		go func() {
			select {
			case <-done:
				_ = s.Unsubscribe()
			case <-s.done:
			}
		}()
	}
	return s, nil
}

func decodeEvent(msg *nats.Msg) (domain.PresenceEvent, bool) {
	var ev domain.PresenceEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		slog.Warn("presence feed: undecodable message", "subject", msg.Subject, "error", err)
		return ev, false
	}
	if ev.UserID == "" && ev.Record != nil {
		ev.UserID = ev.Record.ID
	}
	if ev.UserID == "" {
		return ev, false
	}
	ev.ReceivedAt = time.Now()
	return ev, true
}

type subscription struct {
	sub    *nats.Subscription
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// Unsubscribe stops delivery. Handlers never run after it returns, except for
// one already in progress.
func (s *subscription) Unsubscribe() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	if err := s.sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed && err != nats.ErrBadSubscription {
		return err
	}
	return nil
}
