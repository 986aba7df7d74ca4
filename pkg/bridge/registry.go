package bridge

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// registryTTL is how long an unclaimed registration survives. A call that
// is dialed but whose socket never connects would otherwise leak its entry
// forever.
const registryTTL = 5 * time.Minute

type registryEntry struct {
	ctx        CallContext
	registered time.Time
}

// Registry maps public stream ids to call contexts between dial time and
// socket attachment. Resolution is one-shot: a stream id is claimed by the
// first session that resolves it.
type Registry struct {
	mu      sync.Mutex
	entries map[string]registryEntry
	ttl     time.Duration
	done    chan struct{}
	once    sync.Once
}

// NewRegistry creates a registry and starts its eviction janitor.
func NewRegistry() *Registry {
	r := &Registry{
		entries: make(map[string]registryEntry),
		ttl:     registryTTL,
		done:    make(chan struct{}),
	}
	go r.janitor()
	return r
}

// Register stores the context for a stream id. Registering an id that is
// already present is an error; stream ids are single-use.
func (r *Registry) Register(streamID string, ctx CallContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[streamID]; exists {
		return fmt.Errorf("stream id %s already registered", streamID)
	}
	r.entries[streamID] = registryEntry{ctx: ctx, registered: time.Now()}
	return nil
}

// Resolve claims and removes the context for a stream id. The second
// return is false when the id is unknown, already claimed, or expired.
func (r *Registry) Resolve(streamID string) (CallContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[streamID]
	if !ok {
		return CallContext{}, false
	}
	delete(r.entries, streamID)

	if time.Since(entry.registered) > r.ttl {
		log.Printf("[Registry] stream %s expired before attachment", streamID)
		return CallContext{}, false
	}
	return entry.ctx, true
}

// Len reports the number of pending registrations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close stops the eviction janitor.
func (r *Registry) Close() {
	r.once.Do(func() { close(r.done) })
}

func (r *Registry) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.evictExpired()
		}
	}
}

func (r *Registry) evictExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for id, entry := range r.entries {
		if now.Sub(entry.registered) > r.ttl {
			log.Printf("[Registry] evicting stale stream %s (call %s)", id, entry.ctx.ProviderCallID)
			delete(r.entries, id)
		}
	}
}
