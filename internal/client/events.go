package client

import (
	"sync"

	"github.com/fieldops/fieldlink/internal/protocol"
)

// Handler receives inbound domain events.
type Handler func(protocol.Event)

// HandlerID identifies a registration for later removal.
type HandlerID uint64

type handlerEntry struct {
	id HandlerID
	fn Handler
}

type lifecycleEntry struct {
	id HandlerID
	fn func(LifecycleEvent)
}

// registry holds subscriptions. It has its own lock so handlers may
// subscribe or unsubscribe from inside a callback.
type registry struct {
	mu        sync.RWMutex
	next      HandlerID
	byKind    map[protocol.EventKind][]handlerEntry
	lifecycle []lifecycleEntry
}

func newRegistry() *registry {
	return &registry{byKind: make(map[protocol.EventKind][]handlerEntry)}
}

func (r *registry) add(kind protocol.EventKind, fn Handler) HandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.byKind[kind] = append(r.byKind[kind], handlerEntry{id: r.next, fn: fn})
	return r.next
}

func (r *registry) remove(kind protocol.EventKind, id HandlerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.byKind[kind]
	for i, e := range entries {
		if e.id == id {
			r.byKind[kind] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(r.byKind[kind]) == 0 {
		delete(r.byKind, kind)
	}
}

func (r *registry) addLifecycle(fn func(LifecycleEvent)) HandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.lifecycle = append(r.lifecycle, lifecycleEntry{id: r.next, fn: fn})
	return r.next
}

func (r *registry) removeLifecycle(id HandlerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.lifecycle {
		if e.id == id {
			r.lifecycle = append(r.lifecycle[:i:i], r.lifecycle[i+1:]...)
			return
		}
	}
}

func (r *registry) dispatch(ev protocol.Event) {
	r.mu.RLock()
	entries := r.byKind[ev.Kind()]
	r.mu.RUnlock()
	for _, e := range entries {
		e.fn(ev)
	}
}

func (r *registry) dispatchLifecycle(ev LifecycleEvent) {
	r.mu.RLock()
	entries := r.lifecycle
	r.mu.RUnlock()
	for _, e := range entries {
		e.fn(ev)
	}
}
