package events

import (
	"strings"
	"sync"

	"gigescrow/core/types"
)

// payloadEvent is the subset of emitted events that carry a full payload in
// addition to their type. Engine events satisfy it.
type payloadEvent interface {
	Event
	Event() *types.Event
}

// Ring retains the most recent emitted events in a fixed-size buffer so the
// RPC layer can serve a bounded event feed without external storage.
type Ring struct {
	mu     sync.RWMutex
	buf    []*types.Event
	next   int
	filled bool
}

// NewRing creates a ring emitter holding up to capacity events. A
// non-positive capacity defaults to 256.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 256
	}
	return &Ring{buf: make([]*types.Event, capacity)}
}

// Emit implements the Emitter interface. Events without a payload are
// retained as type-only entries.
func (r *Ring) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	payload := &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
	if pe, ok := evt.(payloadEvent); ok {
		if full := pe.Event(); full != nil {
			payload = full
		}
	}
	r.mu.Lock()
	r.buf[r.next] = payload
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.filled = true
	}
	r.mu.Unlock()
}

// List returns up to limit retained events whose type starts with prefix,
// oldest first. A non-positive limit returns everything retained.
func (r *Ring) List(prefix string, limit int) []*types.Event {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	start := 0
	count := r.next
	if r.filled {
		start = r.next
		count = len(r.buf)
	}
	out := make([]*types.Event, 0, count)
	for i := 0; i < count; i++ {
		evt := r.buf[(start+i)%len(r.buf)]
		if evt == nil {
			continue
		}
		if prefix != "" && !strings.HasPrefix(evt.Type, prefix) {
			continue
		}
		out = append(out, evt)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
