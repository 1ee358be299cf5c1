// Package events implements the progress event bus: a pure fan-out of
// session status and progress notifications to external observers. The only
// delivery guarantee is that subscribers active at emission time receive the
// event.
package events

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/glorpus-work/modelstore/pkg/model"
)

// Event is one entry of the append-only progress stream.
type Event struct {
	SessionID       string              `json:"session_id"`
	Status          model.SessionStatus `json:"status"`
	DownloadedBytes int64               `json:"downloaded_bytes"`
	TotalBytes      int64               `json:"total_bytes"`
	BytesPerSecond  int64               `json:"bytes_per_second"`
	Timestamp       time.Time           `json:"timestamp"`
	Message         string              `json:"message,omitempty"`

	// Completion is set exactly once per session, on the transition to
	// Completed. It is the post-install collaborator surface.
	Completion *Completion `json:"completion,omitempty"`
}

// Completion is the notification emitted once a model is installed.
type Completion struct {
	ModelID  string              `json:"model_id"`
	Name     string              `json:"name"`
	BlobPath string              `json:"blob_path"`
	Format   string              `json:"format"`
	Metadata model.ModelMetadata `json:"metadata"`
}

// SubscriptionID identifies a subscriber on the bus.
type SubscriptionID string

// Handler consumes events. Handlers must not block for long; they run on the
// bus dispatch workers.
type Handler func(event Event)

// Filter decides whether a subscriber receives an event.
type Filter func(event Event) bool

// Bus is the fan-out interface exposed to observers.
type Bus interface {
	Publish(event Event)
	Subscribe(handler Handler, filters ...Filter) (SubscriptionID, error)
	Unsubscribe(id SubscriptionID) error
	Close()
}

type subscription struct {
	id      SubscriptionID
	handler Handler
	filters []Filter
}

// InMemoryBus is the in-process Bus implementation. Events are queued on a
// bounded channel and dispatched by a single worker so subscribers observe
// session transitions in emission order.
type InMemoryBus struct {
	mu          sync.RWMutex
	subscribers map[SubscriptionID]*subscription
	eventChan   chan Event
	done        chan struct{}
	closed      bool
}

// NewInMemoryBus creates a bus with the given buffer size (minimum 1).
func NewInMemoryBus(bufferSize int) *InMemoryBus {
	if bufferSize < 1 {
		bufferSize = 1
	}
	bus := &InMemoryBus{
		subscribers: make(map[SubscriptionID]*subscription),
		eventChan:   make(chan Event, bufferSize),
		done:        make(chan struct{}),
	}
	go bus.dispatchLoop()
	return bus
}

// Publish enqueues an event for dispatch. Events published to a closed or
// saturated bus are dropped; the stream carries no delivery guarantee.
func (b *InMemoryBus) Publish(event Event) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}

	select {
	case b.eventChan <- event:
	default:
	}
}

// Subscribe registers a handler with optional filters.
func (b *InMemoryBus) Subscribe(handler Handler, filters ...Filter) (SubscriptionID, error) {
	if handler == nil {
		return "", fmt.Errorf("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", fmt.Errorf("event bus is closed")
	}

	id := SubscriptionID(generateID())
	b.subscribers[id] = &subscription{id: id, handler: handler, filters: filters}
	return id, nil
}

// Unsubscribe removes a subscription.
func (b *InMemoryBus) Unsubscribe(id SubscriptionID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; !exists {
		return fmt.Errorf("subscription %s not found", id)
	}
	delete(b.subscribers, id)
	return nil
}

// Close stops dispatch and drops all subscriptions. Pending events are
// delivered before Close returns.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	close(b.eventChan)
	<-b.done

	b.mu.Lock()
	b.subscribers = make(map[SubscriptionID]*subscription)
	b.mu.Unlock()
}

func (b *InMemoryBus) dispatchLoop() {
	defer close(b.done)
	for event := range b.eventChan {
		b.dispatch(event)
	}
}

func (b *InMemoryBus) dispatch(event Event) {
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if !matchFilters(event, sub.filters) {
			continue
		}
		sub.handler(event)
	}
}

func matchFilters(event Event, filters []Filter) bool {
	for _, filter := range filters {
		if !filter(event) {
			return false
		}
	}
	return true
}

func generateID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// FilterBySession keeps only events of one session.
func FilterBySession(sessionID string) Filter {
	return func(event Event) bool {
		return event.SessionID == sessionID
	}
}

// FilterByStatus keeps only events carrying one of the given statuses.
func FilterByStatus(statuses ...model.SessionStatus) Filter {
	set := make(map[model.SessionStatus]bool, len(statuses))
	for _, s := range statuses {
		set[s] = true
	}
	return func(event Event) bool {
		return set[event.Status]
	}
}
