package session

import (
	"log/slog"
	"sync"
	"time"
)

// Event types
const (
	EventStatus      = "status"
	EventActivity    = "activity"
	EventDeviceState = "device_state"
	EventProgress    = "progress"
	EventForm        = "form"
	EventAuth        = "auth"
	EventImport      = "import"
)

// Event is published on the session's bus.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus fans session events out to the web and MQTT surfaces.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[string]map[uint64]EventHandler
	allHandlers map[uint64]EventHandler
	nextID      uint64
	logger      *slog.Logger
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers:    make(map[string]map[uint64]EventHandler),
		allHandlers: make(map[uint64]EventHandler),
		logger:      logger,
	}
}

// On registers a handler for one event type and returns its unsubscribe
// function.
func (eb *EventBus) On(eventType string, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	if eb.handlers[eventType] == nil {
		eb.handlers[eventType] = make(map[uint64]EventHandler)
	}
	eb.handlers[eventType][id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.handlers[eventType], id)
	}
}

// OnAll registers a handler for every event type.
func (eb *EventBus) OnAll(handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	eb.allHandlers[id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.allHandlers, id)
	}
}

// Emit calls every matching handler synchronously. A panicking handler is
// recovered and logged.
func (eb *EventBus) Emit(eventType string, data any) {
	ev := Event{Type: eventType, Time: time.Now().UTC(), Data: data}

	eb.mu.RLock()
	handlers := make([]EventHandler, 0, len(eb.handlers[eventType])+len(eb.allHandlers))
	for _, h := range eb.handlers[eventType] {
		handlers = append(handlers, h)
	}
	for _, h := range eb.allHandlers {
		handlers = append(handlers, h)
	}
	eb.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "type", eventType, "panic", r)
				}
			}()
			h(ev)
		}()
	}
}
