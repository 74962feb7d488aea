// Package bus is the in-process publish/subscribe hub for workflow events.
//
// Topics are created lazily on first publish or subscribe. Each topic keeps
// a bounded replay buffer so late joiners see recent history, and each
// subscriber has a bounded queue so a stalled consumer can never block the
// publisher: excess events are dropped and replaced with a single overflow
// marker once the consumer drains.
package bus

import (
	"sync"

	"github.com/fabrikhq/fabrik/internal/domain"
	"github.com/fabrikhq/fabrik/internal/logging"
)

// Options bound the bus buffers.
type Options struct {
	ReplayLimit     int // events retained per topic for late joiners
	SubscriberQueue int // per-subscriber channel depth
}

// Bus distributes workflow events to any number of live subscribers.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]*topic
	opts   Options
	log    *logging.Logger
}

// New creates an event bus. Zero option fields fall back to 200/64.
func New(opts Options, log *logging.Logger) *Bus {
	if opts.ReplayLimit <= 0 {
		opts.ReplayLimit = 200
	}
	if opts.SubscriberQueue <= 0 {
		opts.SubscriberQueue = 64
	}
	return &Bus{
		topics: make(map[string]*topic),
		opts:   opts,
		log:    log.Sub("bus"),
	}
}

// topic serializes publishes and subscription changes for one topic name.
// The lock is per-topic so one run's event storm cannot stall another's.
type topic struct {
	mu     sync.Mutex
	replay []domain.WorkflowEvent
	subs   map[int]*Subscription
	nextID int
}

// Subscription is a live consumer of one topic.
type Subscription struct {
	ch      chan domain.WorkflowEvent
	topic   *topic
	id      int
	dropped int  // events lost since the last overflow marker
	closed  bool // guarded by topic.mu
}

// Events returns the subscriber's event stream. The channel is closed when
// the subscription is closed.
func (s *Subscription) Events() <-chan domain.WorkflowEvent {
	return s.ch
}

// Close detaches the subscriber and closes its channel. Safe to call once;
// further deliveries stop immediately.
func (s *Subscription) Close() {
	s.topic.mu.Lock()
	defer s.topic.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(s.topic.subs, s.id)
	close(s.ch)
}

func (b *Bus) getTopic(name string) *topic {
	b.mu.RLock()
	t, ok := b.topics[name]
	b.mu.RUnlock()
	if ok {
		return t
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok = b.topics[name]; ok {
		return t
	}
	t = &topic{subs: make(map[int]*Subscription)}
	b.topics[name] = t
	return t
}

// Publish delivers an event to every live subscriber of the topic and
// records it in the replay buffer. It never blocks on a slow subscriber.
func (b *Bus) Publish(name string, ev domain.WorkflowEvent) {
	t := b.getTopic(name)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.replay = append(t.replay, ev)
	if len(t.replay) > b.opts.ReplayLimit {
		t.replay = t.replay[len(t.replay)-b.opts.ReplayLimit:]
	}

	for _, sub := range t.subs {
		sub.deliver(ev)
	}
}

// deliver enqueues an event for one subscriber without blocking. Called
// with the topic lock held, which also serializes against Close.
func (s *Subscription) deliver(ev domain.WorkflowEvent) {
	if s.closed {
		return
	}

	// A pending overflow marker is flushed before new events so the
	// consumer learns about the gap in order.
	if s.dropped > 0 {
		marker := domain.NewEvent(domain.EventOverflow, ev.RunID,
			"subscriber queue overflow", map[string]any{"dropped": s.dropped})
		select {
		case s.ch <- marker:
			s.dropped = 0
		default:
			s.dropped++
			return
		}
	}

	select {
	case s.ch <- ev:
	default:
		s.dropped++
	}
}

// Subscribe attaches a new consumer to the topic. The consumer first
// receives the topic's buffered history, then live events in publish order.
func (b *Bus) Subscribe(name string) *Subscription {
	t := b.getTopic(name)

	t.mu.Lock()
	defer t.mu.Unlock()

	sub := &Subscription{
		// Capacity covers a full replay plus the live queue so the replay
		// itself can never overflow.
		ch:    make(chan domain.WorkflowEvent, b.opts.ReplayLimit+b.opts.SubscriberQueue),
		topic: t,
		id:    t.nextID,
	}
	t.nextID++
	t.subs[sub.id] = sub

	for _, ev := range t.replay {
		sub.ch <- ev
	}
	return sub
}

// DropTopic discards a topic's replay buffer and detaches its subscribers.
// Used when an agent and its runs are deleted.
func (b *Bus) DropTopic(name string) {
	b.mu.Lock()
	t, ok := b.topics[name]
	if ok {
		delete(b.topics, name)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, sub := range t.subs {
		sub.closed = true
		delete(t.subs, id)
		close(sub.ch)
	}
	t.replay = nil
}
