// SPDX-License-Identifier: AGPL-3.0-or-later
package sse

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultKeepAliveInterval = 15 * time.Second

// Event represents an SSE payload delivered to subscribers.
type Event struct {
	ID        string
	Event     string
	Data      string
	Timestamp time.Time
}

// Config controls Hub behaviour.
type Config struct {
	KeepAliveInterval time.Duration
}

// Hub fans live plan events out to SSE subscribers. It keeps no event
// history; catch-up after Last-Event-ID is served from the audit journal,
// whose sequence numbers double as SSE event IDs.
type Hub struct {
	cfg   Config
	mu    sync.RWMutex
	plans map[string]*planStream
	nowFn func() time.Time
}

// Subscription represents an active SSE stream.
type Subscription struct {
	C    <-chan []byte
	stop context.CancelFunc
}

// New creates a Hub with defaults.
func New(cfg Config) *Hub {
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = defaultKeepAliveInterval
	}
	return &Hub{
		cfg:   cfg,
		plans: make(map[string]*planStream),
		nowFn: time.Now,
	}
}

// Publish broadcasts the event to the plan's subscribers. Events without an
// ID are stamped with the plan's next sequence number. Sends never block:
// slow subscribers lose events rather than stalling emission.
func (h *Hub) Publish(planID string, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.nowFn()
	}

	stream := h.getOrCreateStream(planID)
	stream.broadcast(formatEvent(stream.stamp(ev)))
}

// Subscribe registers a live subscriber for a plan.
func (h *Hub) Subscribe(ctx context.Context, planID string) *Subscription {
	stream := h.getOrCreateStream(planID)
	ch := make(chan []byte, 32)
	subCtx, cancel := context.WithCancel(ctx)
	stream.addSubscriber(subCtx, ch, h.cfg.KeepAliveInterval)
	return &Subscription{
		C:    ch,
		stop: cancel,
	}
}

// Close terminates the subscription.
func (s *Subscription) Close() {
	if s.stop != nil {
		s.stop()
	}
}

func (h *Hub) getOrCreateStream(planID string) *planStream {
	h.mu.Lock()
	defer h.mu.Unlock()
	stream, ok := h.plans[planID]
	if !ok {
		stream = newPlanStream()
		h.plans[planID] = stream
	}
	return stream
}

type planStream struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	seq         int64
}

type subscriber struct {
	ctx        context.Context
	ch         chan<- []byte
	keepAlive  time.Duration
	keepTicker *time.Ticker
}

func newPlanStream() *planStream {
	return &planStream{
		subscribers: make(map[*subscriber]struct{}),
	}
}

func (ps *planStream) stamp(ev Event) Event {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.seq++
	if ev.ID == "" {
		ev.ID = fmt.Sprintf("%d", ps.seq)
	}
	return ev
}

func (ps *planStream) addSubscriber(ctx context.Context, ch chan<- []byte, keepAlive time.Duration) {
	sub := &subscriber{
		ctx:       ctx,
		ch:        ch,
		keepAlive: keepAlive,
	}
	ps.mu.Lock()
	ps.subscribers[sub] = struct{}{}
	ps.mu.Unlock()

	go sub.run(func() {
		ps.removeSubscriber(sub)
	})
}

func (ps *planStream) removeSubscriber(sub *subscriber) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	delete(ps.subscribers, sub)
}

func (ps *planStream) broadcast(payload []byte) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	for sub := range ps.subscribers {
		select {
		case sub.ch <- payload:
		default:
			// drop if slow; keep stream responsive
		}
	}
}

func (s *subscriber) run(onClose func()) {
	defer func() {
		if s.keepTicker != nil {
			s.keepTicker.Stop()
		}
		if onClose != nil {
			onClose()
		}
		close(s.ch)
	}()

	if s.keepAlive > 0 {
		s.keepTicker = time.NewTicker(s.keepAlive)
		defer s.keepTicker.Stop()
	}

	if s.keepTicker == nil {
		<-s.ctx.Done()
		return
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.keepTicker.C:
			select {
			case s.ch <- []byte(":keep-alive\n\n"):
			default:
			}
		}
	}
}

func formatEvent(ev Event) []byte {
	var builder strings.Builder
	if ev.ID != "" {
		builder.WriteString("id: ")
		builder.WriteString(ev.ID)
		builder.WriteByte('\n')
	}
	if ev.Event != "" {
		builder.WriteString("event: ")
		builder.WriteString(ev.Event)
		builder.WriteByte('\n')
	}
	for _, line := range strings.Split(ev.Data, "\n") {
		builder.WriteString("data: ")
		builder.WriteString(line)
		builder.WriteByte('\n')
	}
	builder.WriteByte('\n')
	return []byte(builder.String())
}
