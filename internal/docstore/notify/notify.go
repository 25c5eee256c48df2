// Package notify fans document change notifications out to every store
// instance so subscriptions can refresh their snapshots.
package notify

import (
	"context"
	"sync"
)

// Handler receives the paths changed by one committed write.
type Handler func(ctx context.Context, paths []string)

// Notifier publishes change notifications and dispatches them to handlers.
type Notifier interface {
	Publish(ctx context.Context, paths ...string) error
	Listen(fn Handler) (stop func())
}

// handlers is the dispatch table shared by notifier implementations.
type handlers struct {
	mu   sync.RWMutex
	next uint64
	fns  map[uint64]Handler
}

func newHandlers() *handlers {
	return &handlers{fns: make(map[uint64]Handler)}
}

func (h *handlers) add(fn Handler) func() {
	h.mu.Lock()
	h.next++
	key := h.next
	h.fns[key] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.fns, key)
			h.mu.Unlock()
		})
	}
}

func (h *handlers) dispatch(ctx context.Context, paths []string) {
	h.mu.RLock()
	fns := make([]Handler, 0, len(h.fns))
	for _, fn := range h.fns {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(ctx, paths)
	}
}

// Local dispatches synchronously within the process. It is the notifier for
// single-instance deployments.
type Local struct {
	handlers *handlers
}

// NewLocal creates an in-process notifier.
func NewLocal() *Local {
	return &Local{handlers: newHandlers()}
}

func (l *Local) Publish(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	l.handlers.dispatch(ctx, paths)
	return nil
}

func (l *Local) Listen(fn Handler) func() {
	return l.handlers.add(fn)
}
