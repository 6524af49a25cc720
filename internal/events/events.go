// Package events implements the plugin/event hub. Rooms and the worker
// announce lifecycle moments as typed events; listeners subscribe by
// event name and may mutate the event or cancel its default behavior.
package events

import (
	"log/slog"
	"sync"
)

// Event is implemented by every event type.
type Event interface {
	EventName() string
}

// Cancelable is implemented by events that embed Cancel. Canceling
// prevents the emitter's default behavior; it does not stop delivery
// to the remaining listeners.
type Cancelable interface {
	Cancel()
	Canceled() bool
}

// Cancel is embedded by events whose default behavior can be vetoed.
type Cancel struct {
	canceled bool
}

// Cancel marks the event canceled.
func (c *Cancel) Cancel() { c.canceled = true }

// Uncancel clears a previous cancel.
func (c *Cancel) Uncancel() { c.canceled = false }

// Canceled reports whether any listener canceled the event.
func (c *Cancel) Canceled() bool { return c.canceled }

// HandlerFunc is the listener signature. Listeners type-assert the
// event to the concrete type they subscribed for.
type HandlerFunc func(Event)

type subscription struct {
	id uint64
	fn HandlerFunc
}

// Hub dispatches events to subscribed listeners. Safe for concurrent
// subscribe and emit.
type Hub struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string][]subscription
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{handlers: make(map[string][]subscription, 16)}
}

// Subscribe registers fn for the named event and returns an
// unsubscribe function. Listeners run in subscription order.
func (h *Hub) Subscribe(name string, fn HandlerFunc) func() {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.handlers[name] = append(h.handlers[name], subscription{id: id, fn: fn})
	h.mu.Unlock()

	slog.Debug("event listener subscribed", "event", name, "listenerId", id)

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.handlers[name]
		for i, s := range subs {
			if s.id == id {
				h.handlers[name] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// ListenerCount reports how many listeners the named event has.
func (h *Hub) ListenerCount(name string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers[name])
}

// EmitSerial delivers ev to every listener in subscription order on the
// caller's goroutine. Used for events whose listeners may veto or
// mutate; the caller inspects the event afterwards.
func (h *Hub) EmitSerial(ev Event) {
	for _, fn := range h.snapshot(ev.EventName()) {
		fn(ev)
	}
}

// Emit delivers ev to every listener, each on its own goroutine.
// Fire-and-forget: used for observational events with no veto.
func (h *Hub) Emit(ev Event) {
	for _, fn := range h.snapshot(ev.EventName()) {
		go fn(ev)
	}
}

func (h *Hub) snapshot(name string) []HandlerFunc {
	h.mu.RLock()
	subs := h.handlers[name]
	if len(subs) == 0 {
		h.mu.RUnlock()
		return nil
	}
	fns := make([]HandlerFunc, len(subs))
	for i, s := range subs {
		fns[i] = s.fn
	}
	h.mu.RUnlock()
	return fns
}
