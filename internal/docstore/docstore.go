// Package docstore defines the hierarchical document store every governed
// record and audit entry is written through.
//
// Documents are JSON values addressed by slash-separated paths
// ("pricingRules/<key>"). Values handed to the store are normalized to their
// JSON-decoded form (map[string]any, []any, float64, string, bool, nil) so
// readers see the same shapes regardless of backend.
//
// The store is strongly available but not transactional across paths unless
// the backend also implements Transactor.
package docstore

import "context"

// Listener receives the full current value at a subscribed path: once when the
// subscription is registered and again after every change that touches it.
// A nil snapshot means nothing is stored at the path.
//
// Listeners run on the writer's goroutine and must not write to the store
// synchronously.
type Listener func(snapshot any)

// Unsubscribe tears a subscription down. It is idempotent; no delivery starts
// after it returns.
type Unsubscribe func()

// Store is the persistent store contract.
type Store interface {
	// Get returns the value at path, or nil when nothing is stored there.
	Get(ctx context.Context, path string) (any, error)

	// Subscribe registers fn for push delivery of snapshots at path.
	Subscribe(ctx context.Context, path string, fn Listener) (Unsubscribe, error)

	// Push stores value under a new store-assigned child key of path and
	// returns the key. Keys are time-ordered.
	Push(ctx context.Context, path string, value map[string]any) (string, error)

	// Update merges partial into the document at path, creating it when absent.
	// Keys are field names; nested paths are not accepted.
	Update(ctx context.Context, path string, partial map[string]any) error

	// Remove deletes the value at path and everything beneath it. Removing an
	// absent path is not an error.
	Remove(ctx context.Context, path string) error
}

// Transactor is implemented by stores able to commit several writes as one
// unit. Writes issued with the ctx passed to fn join the transaction, and
// subscribers are notified only after commit.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
