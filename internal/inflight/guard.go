// Package inflight guards rapid-refire requests so that only the most
// recent one for a given key may apply its response.
//
// Every Begin for a key cancels the previous request's context and issues a
// ticket with a monotonically increasing id. A caller checks Current before
// applying a response; a response whose ticket is no longer current is stale
// and must be dropped.
package inflight

import (
	"context"
	"sync"
)

// Guard tracks the latest request per key.
type Guard struct {
	mu      sync.Mutex
	nextID  uint64
	latest  map[string]*Ticket
	dropped func(key string)
}

// Ticket is the abort handle of one request.
type Ticket struct {
	guard  *Guard
	key    string
	id     uint64
	cancel context.CancelFunc
}

// New creates a Guard. onStale, when non-nil, is called for every response
// that was discarded as stale.
func New(onStale func(key string)) *Guard {
	return &Guard{
		latest:  make(map[string]*Ticket),
		dropped: onStale,
	}
}

// Begin starts a request for key. The previous request for the same key, if
// still running, has its context cancelled.
func (g *Guard) Begin(parent context.Context, key string) (*Ticket, context.Context) {
	ctx, cancel := context.WithCancel(parent)

	g.mu.Lock()
	g.nextID++
	t := &Ticket{guard: g, key: key, id: g.nextID, cancel: cancel}
	prev := g.latest[key]
	g.latest[key] = t
	g.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
	return t, ctx
}

// ID returns the ticket's request id.
func (t *Ticket) ID() uint64 {
	return t.id
}

// Current reports whether no newer request for the key has begun.
func (t *Ticket) Current() bool {
	t.guard.mu.Lock()
	defer t.guard.mu.Unlock()
	return t.guard.latest[t.key] == t
}

// Apply runs fn only if the ticket is still current, holding the guard so
// no newer request can begin in between. It reports whether fn ran.
func (t *Ticket) Apply(fn func()) bool {
	t.guard.mu.Lock()
	current := t.guard.latest[t.key] == t
	if current {
		fn()
	}
	t.guard.mu.Unlock()

	if !current && t.guard.dropped != nil {
		t.guard.dropped(t.key)
	}
	return current
}

// Done releases the ticket's context. The key is forgotten when the ticket
// is still the latest.
func (t *Ticket) Done() {
	t.cancel()

	t.guard.mu.Lock()
	if t.guard.latest[t.key] == t {
		delete(t.guard.latest, t.key)
	}
	t.guard.mu.Unlock()
}
