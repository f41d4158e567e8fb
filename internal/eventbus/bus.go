// Package eventbus routes real-time entity events to in-process listeners.
package eventbus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/khgapparov/flipApp/internal/notify"
)

// Message types.
const (
	TypeCreate = "CREATE"
	TypeUpdate = "UPDATE"
	TypeDelete = "DELETE"
	TypeError  = "ERROR"
)

// Entities known to the portal.
const (
	EntityProject = "project"
	EntityUpdate  = "update"
	EntityGallery = "gallery"
	EntityChat    = "chat"
)

const msgFeedError = "WebSocket error occurred"

// Message is one event as delivered by the feed.
type Message struct {
	Type    string          `json:"type"`
	Entity  string          `json:"entity"`
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler receives the payload of a matching event.
type Handler func(payload json.RawMessage)

type route struct {
	entity string
	action string
}

type listener struct {
	id int
	fn Handler
}

// Bus is a thread-safe entity/action pub-sub.
type Bus struct {
	notifier notify.Notifier
	logger   zerolog.Logger

	mu       sync.RWMutex
	nextID   int
	handlers map[route][]listener
}

// New creates a bus. Error events are surfaced through notifier.
func New(notifier notify.Notifier, logger zerolog.Logger) *Bus {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Bus{
		notifier: notifier,
		logger:   logger.With().Str("component", "eventbus").Logger(),
		handlers: make(map[route][]listener),
	}
}

// Subscribe registers fn for events on (entity, action). The returned function removes
// the registration and may be called any number of times.
func (b *Bus) Subscribe(entity, action string, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	key := route{entity: entity, action: action}
	b.handlers[key] = append(b.handlers[key], listener{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(key, id) })
	}
}

func (b *Bus) remove(key route, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ls := b.handlers[key]
	for i, l := range ls {
		if l.id == id {
			b.handlers[key] = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	if len(b.handlers[key]) == 0 {
		delete(b.handlers, key)
	}
}

// Listeners returns how many handlers are registered for (entity, action).
func (b *Bus) Listeners(entity, action string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[route{entity: entity, action: action}])
}

// Dispatch delivers msg. Handlers run synchronously on the caller's goroutine.
func (b *Bus) Dispatch(ctx context.Context, msg Message) {
	switch msg.Type {
	case TypeCreate, TypeUpdate, TypeDelete:
		b.mu.RLock()
		ls := append([]listener(nil), b.handlers[route{entity: msg.Entity, action: msg.Action}]...)
		b.mu.RUnlock()
		for _, l := range ls {
			l.fn(msg.Payload)
		}
	case TypeError:
		var body struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(msg.Payload, &body)
		if body.Message == "" {
			body.Message = msgFeedError
		}
		notify.Error(ctx, b.notifier, body.Message)
	default:
		b.logger.Debug().Str("type", msg.Type).Msg("unknown event type")
	}
}
