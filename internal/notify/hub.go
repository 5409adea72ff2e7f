// Package notify provides the synchronous, ordered fan-out used by the
// database and workspace layers to publish change notifications.
package notify

import "sync"

// Hub delivers posted events to subscribers in registration order.
//
// Events are queued by Post and delivered by Flush. A Flush that runs while
// another Flush is already delivering returns immediately; the active Flush
// drains the queue, so events posted by a subscriber are delivered after the
// event that triggered them and never recursively.
type Hub[E any] struct {
	mu       sync.Mutex
	subs     []*subscription[E]
	queue    []E
	flushing bool
	nextID   uint64
}

// subscription stores one registered handler.
type subscription[E any] struct {
	id      uint64
	handler func(E)
}

// Subscribe registers handler and returns a function that removes it.
func (h *Hub[E]) Subscribe(handler func(E)) (unsubscribe func()) {
	if handler == nil {
		return func() {}
	}
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs = append(h.subs, &subscription[E]{id: id, handler: handler})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for i, s := range h.subs {
				if s.id == id {
					h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Len returns the number of registered subscribers.
func (h *Hub[E]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Pending returns the number of queued, undelivered events.
func (h *Hub[E]) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

// Post queues events for the next Flush.
func (h *Hub[E]) Post(events ...E) {
	if len(events) == 0 {
		return
	}
	h.mu.Lock()
	h.queue = append(h.queue, events...)
	h.mu.Unlock()
}

// Publish queues events and flushes them.
func (h *Hub[E]) Publish(events ...E) {
	h.Post(events...)
	h.Flush()
}

// Flush delivers queued events FIFO, each to every subscriber in
// registration order. Handlers run on the calling goroutine without any hub
// lock held.
//
// When another goroutine is already flushing, Flush returns at once and the
// events this caller posted are delivered later on that goroutine. A return
// from Flush therefore only guarantees delivery when no other Flush overlaps.
func (h *Hub[E]) Flush() {
	h.mu.Lock()
	if h.flushing {
		h.mu.Unlock()
		return
	}
	h.flushing = true
	for len(h.queue) > 0 {
		ev := h.queue[0]
		h.queue[0] = *new(E)
		h.queue = h.queue[1:]
		subs := append([]*subscription[E](nil), h.subs...)
		h.mu.Unlock()
		h.deliver(subs, ev)
		h.mu.Lock()
	}
	h.queue = nil
	h.flushing = false
	h.mu.Unlock()
}

// deliver runs every handler for ev, restoring the flushing flag if a handler panics.
func (h *Hub[E]) deliver(subs []*subscription[E], ev E) {
	defer func() {
		if r := recover(); r != nil {
			h.mu.Lock()
			h.flushing = false
			h.mu.Unlock()
			panic(r)
		}
	}()
	for _, s := range subs {
		s.handler(ev)
	}
}
