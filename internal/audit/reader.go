package audit

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sort"

	"steward/internal/docstore"
	id "steward/pkg/domain"
	dErrors "steward/pkg/domain-errors"
)

// Query filters a listing. Zero fields match everything; Limit <= 0 means
// no limit.
type Query struct {
	EntityType string
	EntityID   string
	UserID     string
	Action     Action
	Limit      int

	// Tenant, when set, hides entries of the TenantScoped entity types that
	// belong to another tenant.
	Tenant       id.TenantID
	TenantScoped []string
}

func (q Query) matches(e Entry) bool {
	return (q.EntityType == "" || e.EntityType == q.EntityType) &&
		(q.EntityID == "" || e.EntityID == q.EntityID) &&
		(q.UserID == "" || e.UserID == q.UserID) &&
		(q.Action == "" || e.Action == q.Action) &&
		q.inTenant(e)
}

func (q Query) inTenant(e Entry) bool {
	if q.Tenant == "" || !slices.Contains(q.TenantScoped, e.EntityType) {
		return true
	}
	return e.Tenant() == q.Tenant.OrDefault()
}

// Reader lists and streams audit entries. It has no way to change them.
type Reader struct {
	store  docstore.Store
	path   string
	logger *slog.Logger
}

// NewReader creates a Reader over the entries written by a Recorder using
// the same options.
func NewReader(store docstore.Store, opts ...RecorderOption) (*Reader, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	r := &Recorder{store: store, path: DefaultPath, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return &Reader{store: store, path: r.path, logger: r.logger}, nil
}

// List returns matching entries, newest first.
func (r *Reader) List(ctx context.Context, q Query) ([]Entry, error) {
	raw, err := r.store.Get(ctx, r.path)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "audit store unavailable")
	}
	return r.filter(ctx, raw, q), nil
}

// ListByEntity returns the history of one record, newest first.
func (r *Reader) ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]Entry, error) {
	return r.List(ctx, Query{EntityType: entityType, EntityID: entityID, Limit: limit})
}

// ListByActor returns what one user did, newest first.
func (r *Reader) ListByActor(ctx context.Context, userID string, limit int) ([]Entry, error) {
	return r.List(ctx, Query{UserID: userID, Limit: limit})
}

// Subscribe delivers the matching entries, newest first, now and after every
// append.
func (r *Reader) Subscribe(ctx context.Context, q Query, fn func([]Entry)) (docstore.Unsubscribe, error) {
	unsubscribe, err := r.store.Subscribe(ctx, r.path, func(snapshot any) {
		fn(r.filter(ctx, snapshot, q))
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "audit store unavailable")
	}
	return unsubscribe, nil
}

func (r *Reader) filter(ctx context.Context, raw any, q Query) []Entry {
	docs, _ := raw.(map[string]any)
	entries := make([]Entry, 0, len(docs))
	for key, doc := range docs {
		e, err := decodeEntry(key, doc)
		if err != nil {
			r.logger.WarnContext(ctx, "skipping unreadable audit entry", "audit_id", key, "error", err)
			continue
		}
		if q.matches(e) {
			entries = append(entries, e)
		}
	}

	// Push keys are time ordered, so they break timestamp ties.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Timestamp != entries[j].Timestamp {
			return entries[i].Timestamp > entries[j].Timestamp
		}
		return entries[i].ID > entries[j].ID
	})
	if q.Limit > 0 && len(entries) > q.Limit {
		entries = entries[:q.Limit]
	}
	return entries
}
