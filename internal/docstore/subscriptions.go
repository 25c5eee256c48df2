package docstore

import (
	"sync"
	"sync/atomic"
)

// Subscription is one registered listener.
type Subscription struct {
	Path   string
	fn     Listener
	closed atomic.Bool
}

// Deliver invokes the listener unless the subscription was torn down.
func (s *Subscription) Deliver(snapshot any) {
	if s.closed.Load() {
		return
	}
	s.fn(snapshot)
}

// Registry tracks subscriptions for a store backend. Backends call Matching
// after a write to find who needs a fresh snapshot.
type Registry struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]*Subscription
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[uint64]*Subscription)}
}

// Add registers fn at path and returns the subscription with its teardown.
func (r *Registry) Add(path string, fn Listener) (*Subscription, Unsubscribe) {
	sub := &Subscription{Path: path, fn: fn}

	r.mu.Lock()
	r.next++
	key := r.next
	r.subs[key] = sub
	r.mu.Unlock()

	var once sync.Once
	return sub, func() {
		once.Do(func() {
			sub.closed.Store(true)
			r.mu.Lock()
			delete(r.subs, key)
			r.mu.Unlock()
		})
	}
}

// Attach registers fn at path and then, holding deliverMu, delivers the
// snapshot returned by read. The subscription is visible to Matching before
// read runs, so a change committed during the read still reaches it.
func (r *Registry) Attach(path string, fn Listener, deliverMu sync.Locker, read func() (any, error)) (Unsubscribe, error) {
	sub, unsubscribe := r.Add(path, fn)

	deliverMu.Lock()
	defer deliverMu.Unlock()
	snapshot, err := read()
	if err != nil {
		unsubscribe()
		return nil, err
	}
	sub.Deliver(snapshot)
	return unsubscribe, nil
}

// Matching returns live subscriptions whose path overlaps any changed path.
func (r *Registry) Matching(changed ...string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Subscription
	for _, sub := range r.subs {
		for _, c := range changed {
			if Overlaps(sub.Path, c) {
				out = append(out, sub)
				break
			}
		}
	}
	return out
}

// Len returns the number of live subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
