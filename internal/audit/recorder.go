package audit

import (
	"context"
	"errors"
	"log/slog"

	"steward/internal/docstore"
	id "steward/pkg/domain"
	dErrors "steward/pkg/domain-errors"
)

// Recorder appends audit entries to the document store. It never updates or
// removes an entry.
type Recorder struct {
	store  docstore.Store
	path   string
	logger *slog.Logger
}

// RecorderOption configures the Recorder.
type RecorderOption func(*Recorder)

// WithPath overrides DefaultPath.
func WithPath(path string) RecorderOption {
	return func(r *Recorder) {
		if path != "" {
			r.path = path
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRecorder creates a Recorder writing under DefaultPath.
func NewRecorder(store docstore.Store, opts ...RecorderOption) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	r := &Recorder{
		store:  store,
		path:   DefaultPath,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Path returns the store path entries are written under.
func (r *Recorder) Path() string {
	return r.path
}

// Record appends one entry and returns its store-assigned id. The timestamp is
// assigned by the store at write time.
func (r *Recorder) Record(ctx context.Context, in Input) (id.AuditEntryID, error) {
	if in.Action == "" {
		return "", dErrors.New(dErrors.CodeValidation, "audit action is required")
	}
	if in.EntityType == "" {
		return "", dErrors.New(dErrors.CodeValidation, "audit entity type is required")
	}
	if in.Actor.UserID == "" {
		return "", dErrors.New(dErrors.CodeValidation, "audit actor is required")
	}

	key, err := r.store.Push(ctx, r.path, in.document(docstore.ServerTimestamp))
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "audit store unavailable")
	}

	r.logger.DebugContext(ctx, "audit entry recorded",
		"audit_id", key,
		"action", in.Action,
		"category", in.Action.Category(),
		"entity_type", in.EntityType,
		"entity_id", in.EntityID,
		"user_id", in.Actor.UserID,
	)
	return id.AuditEntryID(key), nil
}
