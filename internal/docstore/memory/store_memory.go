// Package memory provides an in-process docstore.Store used by tests, local
// development and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"steward/internal/docstore"
)

var (
	_ docstore.Store      = (*Store)(nil)
	_ docstore.Transactor = (*Store)(nil)
)

// Store keeps the document tree in memory. Subscribers are notified
// synchronously on the writing goroutine, after the write lock is released.
type Store struct {
	mu     sync.RWMutex
	root   map[string]any
	lastTS int64

	deliverMu sync.Mutex
	subs      *docstore.Registry

	clock      func() time.Time
	newKey     func() string
	appendOnly []string
}

// Option configures the Store.
type Option func(*Store)

// WithClock injects the clock used for server timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithKeyGenerator overrides push key generation.
func WithKeyGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newKey = fn
		}
	}
}

// WithAppendOnly marks path prefixes whose documents can be pushed but never
// updated or removed.
func WithAppendOnly(prefixes ...string) Option {
	return func(s *Store) {
		s.appendOnly = append(s.appendOnly, prefixes...)
	}
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		root:   make(map[string]any),
		subs:   docstore.NewRegistry(),
		clock:  time.Now,
		newKey: docstore.NewPushKey,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Get(_ context.Context, path string) (any, error) {
	segments, err := docstore.Split(path)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return docstore.Clone(docstore.Lookup(s.root, segments)), nil
}

func (s *Store) Subscribe(_ context.Context, path string, fn docstore.Listener) (docstore.Unsubscribe, error) {
	if _, err := docstore.Split(path); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("subscribe %s: nil listener", path)
	}
	return s.subs.Attach(path, fn, &s.deliverMu, func() (any, error) {
		return s.snapshot(path), nil
	})
}

func (s *Store) Push(ctx context.Context, path string, value map[string]any) (string, error) {
	segments, err := docstore.Split(path)
	if err != nil {
		return "", err
	}
	key := s.newKey()

	s.mu.Lock()
	doc, err := docstore.NormalizeDocument(value, s.nowMillis())
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	docstore.Assign(s.root, append(segments, key), doc)
	s.mu.Unlock()

	s.publish(ctx, docstore.Join(path, key))
	return key, nil
}

func (s *Store) Update(ctx context.Context, path string, partial map[string]any) error {
	segments, err := docstore.Split(path)
	if err != nil {
		return err
	}
	if err := s.checkWritable(path); err != nil {
		return err
	}
	if err := docstore.ValidateFields(partial); err != nil {
		return err
	}

	s.mu.Lock()
	fields, err := docstore.NormalizeDocument(partial, s.nowMillis())
	if err != nil {
		s.mu.Unlock()
		return err
	}
	doc, ok := docstore.Lookup(s.root, segments).(map[string]any)
	if !ok {
		doc = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		doc[k] = v
	}
	docstore.Assign(s.root, segments, doc)
	s.mu.Unlock()

	s.publish(ctx, path)
	return nil
}

func (s *Store) Remove(ctx context.Context, path string) error {
	segments, err := docstore.Split(path)
	if err != nil {
		return err
	}
	if err := s.checkWritable(path); err != nil {
		return err
	}

	s.mu.Lock()
	removed := docstore.Delete(s.root, segments)
	s.mu.Unlock()

	if removed {
		s.publish(ctx, path)
	}
	return nil
}

// RunInTx runs fn and restores the prior tree when fn fails. Notifications for
// writes made inside fn are held until fn returns.
//
// Transactions are not isolated from concurrent writers outside fn; a rollback
// also discards their writes. Good enough for tests and single-process use.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, nested := txFrom(ctx); nested {
		return fn(ctx)
	}

	s.mu.RLock()
	saved := docstore.Clone(s.root).(map[string]any)
	s.mu.RUnlock()

	tx := &txState{}
	err := fn(withTx(ctx, tx))
	if err != nil {
		s.mu.Lock()
		s.root = saved
		s.mu.Unlock()
	}
	s.notify(tx.changed...)
	return err
}

// Clear drops every document. Subscribers are not notified.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.root = make(map[string]any)
}

func (s *Store) checkWritable(path string) error {
	return docstore.CheckWritable(path, s.appendOnly)
}

// nowMillis returns a store timestamp that is strictly increasing per store.
// Callers hold s.mu.
func (s *Store) nowMillis() int64 {
	now := s.clock().UnixMilli()
	if now <= s.lastTS {
		now = s.lastTS + 1
	}
	s.lastTS = now
	return now
}

func (s *Store) snapshot(path string) any {
	segments, err := docstore.Split(path)
	if err != nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return docstore.Clone(docstore.Lookup(s.root, segments))
}

func (s *Store) publish(ctx context.Context, changed ...string) {
	if tx, ok := txFrom(ctx); ok {
		tx.changed = append(tx.changed, changed...)
		return
	}
	s.notify(changed...)
}

func (s *Store) notify(changed ...string) {
	if len(changed) == 0 {
		return
	}
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	for _, sub := range s.subs.Matching(changed...) {
		sub.Deliver(s.snapshot(sub.Path))
	}
}

type txKey struct{}

type txState struct {
	changed []string
}

func withTx(ctx context.Context, tx *txState) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func txFrom(ctx context.Context) (*txState, bool) {
	tx, ok := ctx.Value(txKey{}).(*txState)
	return tx, ok
}
