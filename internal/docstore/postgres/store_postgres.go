// Package postgres is the durable docstore backend. Each written path is a
// row holding a JSONB document; reads assemble the subtree beneath a path.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"steward/internal/docstore"
	"steward/internal/docstore/notify"
	txcontext "steward/pkg/platform/tx"
)

var (
	_ docstore.Store      = (*Store)(nil)
	_ docstore.Transactor = (*Store)(nil)
)

// Store implements docstore.Store on PostgreSQL. Change notifications are
// published after commit through a notify.Notifier so subscribers on every
// instance refresh.
type Store struct {
	db        *sql.DB
	logger    *slog.Logger
	notifier  notify.Notifier
	txTimeout time.Duration

	appendOnly []string
	outbox     []string

	deliverMu  sync.Mutex
	subs       *docstore.Registry
	stopListen func()
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNotifier replaces the in-process notifier, typically with notify.Redis.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Store) {
		if n != nil {
			s.notifier = n
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

// WithOutbox marks path prefixes whose pushes also write an outbox row in the
// same transaction.
func WithOutbox(prefixes ...string) Option {
	return func(s *Store) {
		s.outbox = append(s.outbox, prefixes...)
	}
}

// WithTxTimeout bounds transactions started without a deadline.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.txTimeout = d
	}
}

// New creates a PostgreSQL-backed store. Call Close to detach from the
// notifier.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:       db,
		logger:   slog.Default(),
		notifier: notify.NewLocal(),
		subs:     docstore.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.stopListen = s.notifier.Listen(s.refresh)
	return s
}

// Close stops delivering change notifications to local subscribers.
func (s *Store) Close() {
	s.stopListen()
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Get(ctx context.Context, path string) (any, error) {
	segments, err := docstore.Split(path)
	if err != nil {
		return nil, err
	}

	// Rows at the path, at any ancestor (the path may address a field inside
	// a document) and beneath it.
	ancestors := make([]string, 0, len(segments))
	for i := 1; i <= len(segments); i++ {
		ancestors = append(ancestors, strings.Join(segments[:i], "/"))
	}
	query := `
		SELECT path, value
		FROM documents
		WHERE path = ANY($1) OR path LIKE $2 ESCAPE '\'
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, pq.Array(ancestors), likePrefix(path))
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", mapPostgresError(err))
	}
	defer rows.Close()

	type row struct {
		segments []string
		value    any
	}
	var found []row
	for rows.Next() {
		var (
			p   string
			raw []byte
		)
		if err := rows.Scan(&p, &raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode document %s: %w", p, err)
		}
		found = append(found, row{segments: strings.Split(p, "/"), value: v})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", mapPostgresError(err))
	}
	if len(found) == 0 {
		return nil, nil
	}

	// Shallow rows first so deeper documents overlay them.
	sort.Slice(found, func(i, j int) bool {
		return len(found[i].segments) < len(found[j].segments)
	})
	tree := make(map[string]any)
	for _, r := range found {
		docstore.Assign(tree, r.segments, r.value)
	}
	return docstore.Lookup(tree, segments), nil
}

func (s *Store) Subscribe(ctx context.Context, path string, fn docstore.Listener) (docstore.Unsubscribe, error) {
	if _, err := docstore.Split(path); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("subscribe %s: nil listener", path)
	}

	return s.subs.Attach(path, fn, &s.deliverMu, func() (any, error) {
		return s.Get(ctx, path)
	})
}

func (s *Store) Push(ctx context.Context, path string, value map[string]any) (string, error) {
	if _, err := docstore.Split(path); err != nil {
		return "", err
	}
	key := docstore.NewPushKey()
	full := docstore.Join(path, key)

	err := s.write(ctx, []string{full}, func(ctx context.Context, exec dbExecutor) error {
		now, err := s.serverNow(ctx, exec, value)
		if err != nil {
			return err
		}
		doc, err := docstore.NormalizeDocument(value, now)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal document: %w", err)
		}

		query := `
			INSERT INTO documents (path, parent, value, updated_at)
			VALUES ($1, $2, $3, now())
		`
		if _, err := exec.ExecContext(ctx, query, full, path, raw); err != nil {
			return fmt.Errorf("insert document: %w", mapPostgresError(err))
		}
		if s.isOutboxPath(path) {
			return s.appendOutbox(ctx, exec, path, key, doc)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

func (s *Store) Update(ctx context.Context, path string, partial map[string]any) error {
	if _, err := docstore.Split(path); err != nil {
		return err
	}
	if err := docstore.CheckWritable(path, s.appendOnly); err != nil {
		return err
	}
	if err := docstore.ValidateFields(partial); err != nil {
		return err
	}

	return s.write(ctx, []string{path}, func(ctx context.Context, exec dbExecutor) error {
		now, err := s.serverNow(ctx, exec, partial)
		if err != nil {
			return err
		}
		fields, err := docstore.NormalizeDocument(partial, now)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("marshal document: %w", err)
		}

		query := `
			INSERT INTO documents (path, parent, value, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (path) DO UPDATE
			SET value = documents.value || EXCLUDED.value,
				updated_at = now()
		`
		if _, err := exec.ExecContext(ctx, query, path, docstore.Parent(path), raw); err != nil {
			return fmt.Errorf("upsert document: %w", mapPostgresError(err))
		}
		return nil
	})
}

func (s *Store) Remove(ctx context.Context, path string) error {
	segments, err := docstore.Split(path)
	if err != nil {
		return err
	}
	if err := docstore.CheckWritable(path, s.appendOnly); err != nil {
		return err
	}

	var removed int64
	err = s.write(ctx, nil, func(ctx context.Context, exec dbExecutor) error {
		res, err := exec.ExecContext(ctx,
			`DELETE FROM documents WHERE path = $1 OR path LIKE $2 ESCAPE '\'`,
			path, likePrefix(path))
		if err != nil {
			return fmt.Errorf("delete documents: %w", mapPostgresError(err))
		}
		n, _ := res.RowsAffected()
		removed += n

		// The path may also name a field inside an ancestor document.
		for i := 1; i < len(segments); i++ {
			res, err := exec.ExecContext(ctx, `
				UPDATE documents
				SET value = value #- $2, updated_at = now()
				WHERE path = $1 AND value #> $2 IS NOT NULL
			`, strings.Join(segments[:i], "/"), pq.Array(segments[i:]))
			if err != nil {
				return fmt.Errorf("delete document field: %w", mapPostgresError(err))
			}
			n, _ := res.RowsAffected()
			removed += n
		}
		if removed > 0 {
			s.afterCommit(ctx, path)
		}
		return nil
	})
	return err
}

// RunInTx runs fn in a database transaction. Store calls made with the ctx
// passed to fn join it; subscribers hear about the writes after commit.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return txcontext.Run(ctx, s.db, s.txTimeout, fn)
}

// write runs fn in the caller's transaction, or in a fresh one, and schedules
// change notifications for after commit.
func (s *Store) write(ctx context.Context, changed []string, fn func(ctx context.Context, exec dbExecutor) error) error {
	err := txcontext.Run(ctx, s.db, s.txTimeout, func(ctx context.Context) error {
		if err := fn(ctx, s.execer(ctx)); err != nil {
			return err
		}
		if len(changed) > 0 {
			s.afterCommit(ctx, changed...)
		}
		return nil
	})
	return mapPostgresError(err)
}

func (s *Store) afterCommit(ctx context.Context, paths ...string) {
	publish := func() {
		// The write context may already be cancelled by the time the
		// transaction commits.
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.notifier.Publish(pubCtx, paths...); err != nil {
			s.logger.WarnContext(ctx, "failed to publish docstore change", "paths", paths, "error", err)
		}
	}
	if !txcontext.AfterCommit(ctx, publish) {
		publish()
	}
}

// refresh re-reads and delivers snapshots for local subscriptions touched by
// a change.
func (s *Store) refresh(ctx context.Context, paths []string) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	for _, sub := range s.subs.Matching(paths...) {
		snapshot, err := s.Get(ctx, sub.Path)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to refresh subscription", "path", sub.Path, "error", err)
			continue
		}
		sub.Deliver(snapshot)
	}
}

// serverNow reads the database clock when doc needs a server timestamp.
func (s *Store) serverNow(ctx context.Context, exec dbExecutor, doc map[string]any) (int64, error) {
	if !docstore.HasServerValues(doc) {
		return 0, nil
	}
	var now int64
	err := exec.QueryRowContext(ctx,
		`SELECT (EXTRACT(EPOCH FROM clock_timestamp()) * 1000)::BIGINT`).Scan(&now)
	if err != nil {
		return 0, fmt.Errorf("read server clock: %w", mapPostgresError(err))
	}
	return now, nil
}

func (s *Store) isOutboxPath(path string) bool {
	for _, prefix := range s.outbox {
		if docstore.Within(path, prefix) {
			return true
		}
	}
	return false
}

// appendOutbox records a pushed document for the relay. The payload is the
// document plus its key under "id".
func (s *Store) appendOutbox(ctx context.Context, exec dbExecutor, parent, key string, doc map[string]any) error {
	payload := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		payload[k] = v
	}
	payload["id"] = key
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	eventType, _ := doc["action"].(string)
	if eventType == "" {
		eventType = "push"
	}

	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`
	_, err = exec.ExecContext(ctx, query, uuid.New(), parent, key, eventType, raw)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", mapPostgresError(err))
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePrefix matches every path strictly beneath path.
func likePrefix(path string) string {
	return likeEscaper.Replace(path) + "/%"
}
