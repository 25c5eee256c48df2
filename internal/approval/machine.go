package approval

import (
	"context"
	"errors"
	"log/slog"

	"steward/internal/catalog"
	"steward/internal/docstore"
	id "steward/pkg/domain"
	dErrors "steward/pkg/domain-errors"
	"steward/pkg/platform/sentinel"
)

// Machine drives one entity type's records through the approval states. It
// enforces role and self-approval guards and required-field validation; domain
// and tenant access are checked by the caller before a record is handed in.
type Machine struct {
	store  docstore.Store
	desc   catalog.Descriptor
	logger *slog.Logger
}

// Option configures the Machine.
type Option func(*Machine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMachine creates a Machine for the records described by desc.
func NewMachine(store docstore.Store, desc catalog.Descriptor, opts ...Option) (*Machine, error) {
	if store == nil {
		return nil, errors.New("record store is required")
	}
	if desc.StorePath == "" {
		return nil, errors.New("descriptor store path is required")
	}
	m := &Machine{store: store, desc: desc, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Descriptor returns the entity type this machine governs.
func (m *Machine) Descriptor() catalog.Descriptor {
	return m.desc
}

// Get loads a record. Returns CodeNotFound when it does not exist.
func (m *Machine) Get(ctx context.Context, recordID id.RecordID) (*Record, error) {
	if _, err := id.ParseRecordID(string(recordID)); err != nil {
		return nil, err
	}
	raw, err := m.store.Get(ctx, m.recordPath(recordID))
	if err != nil {
		return nil, translateStoreError(err)
	}
	rec, ok := decodeRecord(string(recordID), raw)
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "record not found")
	}
	return &rec, nil
}

// List returns every record of the entity type, ordered by id.
func (m *Machine) List(ctx context.Context) ([]Record, error) {
	raw, err := m.store.Get(ctx, m.desc.StorePath)
	if err != nil {
		return nil, translateStoreError(err)
	}
	return decodeCollection(raw), nil
}

// Subscribe delivers the full record list now and after every change.
func (m *Machine) Subscribe(ctx context.Context, fn func([]Record)) (docstore.Unsubscribe, error) {
	unsubscribe, err := m.store.Subscribe(ctx, m.desc.StorePath, func(snapshot any) {
		fn(decodeCollection(snapshot))
	})
	if err != nil {
		return nil, translateStoreError(err)
	}
	return unsubscribe, nil
}

// Create stores a new Pending record made by actor. The tenant is written only
// for tenant-scoped entity types.
func (m *Machine) Create(ctx context.Context, actor id.Principal, tenant id.TenantID, fields map[string]any) (*Record, error) {
	if err := CanWrite(actor); err != nil {
		return nil, err
	}
	business := BusinessFields(fields)
	if err := m.desc.Validate(business); err != nil {
		return nil, err
	}
	if !m.desc.TenantScoped {
		tenant = ""
	}

	key, err := m.store.Push(ctx, m.desc.StorePath, creationDocument(actor, tenant, business))
	if err != nil {
		return nil, translateStoreError(err)
	}
	return m.reload(ctx, id.RecordID(key), func() Record {
		return Record{
			ID:             id.RecordID(key),
			TenantID:       tenant,
			Fields:         business,
			Status:         StatusPending,
			MakerName:      actor.Name,
			MakerEmail:     actor.Email,
			LastModifiedBy: actor.Email,
		}
	}), nil
}

// Edit replaces the business fields of current and reopens it as Pending with
// actor as the new maker.
func (m *Machine) Edit(ctx context.Context, actor id.Principal, current *Record, fields map[string]any) (*Record, error) {
	if current == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "record not found")
	}
	if err := current.CanEdit(actor); err != nil {
		return nil, err
	}
	business := BusinessFields(fields)
	if err := m.desc.Validate(business); err != nil {
		return nil, err
	}

	if err := m.store.Update(ctx, m.recordPath(current.ID), current.editPatch(actor, business)); err != nil {
		return nil, translateStoreError(err)
	}
	return m.reload(ctx, current.ID, func() Record {
		next := *current
		next.Fields = business
		next.Status = StatusPending
		next.MakerName = actor.Name
		next.MakerEmail = actor.Email
		next.LastModifiedBy = actor.Email
		return next
	}), nil
}

// Approve moves a Pending record to Approved.
func (m *Machine) Approve(ctx context.Context, actor id.Principal, current *Record) (*Record, error) {
	if current == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "record not found")
	}
	if err := current.CanApprove(actor); err != nil {
		return nil, err
	}
	return m.decide(ctx, actor, current, StatusApproved)
}

// Reject moves a Pending record to Rejected.
func (m *Machine) Reject(ctx context.Context, actor id.Principal, current *Record) (*Record, error) {
	if current == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "record not found")
	}
	if err := current.CanReject(actor); err != nil {
		return nil, err
	}
	return m.decide(ctx, actor, current, StatusRejected)
}

func (m *Machine) decide(ctx context.Context, actor id.Principal, current *Record, status Status) (*Record, error) {
	if err := m.store.Update(ctx, m.recordPath(current.ID), decisionPatch(actor, status)); err != nil {
		return nil, translateStoreError(err)
	}
	return m.reload(ctx, current.ID, func() Record {
		next := *current
		next.Status = status
		next.CheckerName = actor.Name
		next.CheckerEmail = actor.Email
		next.LastModifiedBy = actor.Email
		return next
	}), nil
}

// Delete removes current. Any status can be deleted.
func (m *Machine) Delete(ctx context.Context, actor id.Principal, current *Record) error {
	if current == nil {
		return dErrors.New(dErrors.CodeNotFound, "record not found")
	}
	if err := current.CanDelete(actor); err != nil {
		return err
	}
	if err := m.store.Remove(ctx, m.recordPath(current.ID)); err != nil {
		return translateStoreError(err)
	}
	return nil
}

// reload reads back a record after a write so store-assigned timestamps are
// visible. The write already succeeded, so a failed read falls back to the
// locally known state.
func (m *Machine) reload(ctx context.Context, recordID id.RecordID, fallback func() Record) *Record {
	rec, err := m.Get(ctx, recordID)
	if err != nil {
		m.logger.WarnContext(ctx, "failed to reload record after write",
			"entity_type", m.desc.EntityType,
			"record_id", recordID,
			"error", err,
		)
		fb := fallback()
		return &fb
	}
	return rec
}

func (m *Machine) recordPath(recordID id.RecordID) string {
	return docstore.Join(m.desc.StorePath, string(recordID))
}

func translateStoreError(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrInvalidPath):
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid record path")
	case errors.Is(err, sentinel.ErrAppendOnly):
		return dErrors.Wrap(err, dErrors.CodeInternal, "records are not writable")
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "record store unavailable")
	}
}
