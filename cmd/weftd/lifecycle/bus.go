// Package lifecycle carries execution events from the engine to consumers:
// an in-process bus for SSE handlers and tests, and a Redis transport that
// mirrors events to pub/sub, a capped replay stream, and a status key.
package lifecycle

import (
	"context"
	"sync"

	"github.com/weftworks/weft/common/sdk"
)

// Logger is the subset of logging calls this package makes.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

const subscriberBuffer = 256

// Bus is an in-process event transport. Each execution id is a topic;
// subscribers receive events published after they joined. Publish never
// blocks: a subscriber that stops draining loses events.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[int]chan *sdk.Event
	nextID int
	logger Logger
}

// NewBus creates an empty event bus.
func NewBus(logger Logger) *Bus {
	return &Bus{
		topics: make(map[string]map[int]chan *sdk.Event),
		logger: logger,
	}
}

// Publish delivers the event to every subscriber of its execution.
func (b *Bus) Publish(_ context.Context, e *sdk.Event) {
	b.mu.RLock()
	subs := b.topics[e.ExecutionID]
	targets := make([]chan *sdk.Event, 0, len(subs))
	for _, ch := range subs {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- e:
		default:
			b.logger.Warn("event subscriber lagging, dropping event",
				"execution_id", e.ExecutionID,
				"event_type", string(e.Type))
		}
	}
}

// Subscribe registers a listener for one execution's events. The returned
// cancel function removes the subscription and closes the channel; it is safe
// to call more than once.
func (b *Bus) Subscribe(executionID string) (<-chan *sdk.Event, func()) {
	ch := make(chan *sdk.Event, subscriberBuffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	subs, ok := b.topics[executionID]
	if !ok {
		subs = make(map[int]chan *sdk.Event)
		b.topics[executionID] = subs
	}
	subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if subs, ok := b.topics[executionID]; ok {
				delete(subs, id)
				if len(subs) == 0 {
					delete(b.topics, executionID)
				}
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers reports how many listeners an execution currently has.
func (b *Bus) Subscribers(executionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[executionID])
}
