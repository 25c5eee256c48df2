package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"steward/internal/diff"
	"steward/internal/docstore/memory"
	"steward/internal/docstore/mocks"
	dErrors "steward/pkg/domain-errors"
	"steward/pkg/platform/sentinel"
)

type RecorderSuite struct {
	suite.Suite
	store    *memory.Store
	recorder *Recorder
	reader   *Reader
	clock    time.Time
}

func TestRecorderSuite(t *testing.T) {
	suite.Run(t, new(RecorderSuite))
}

func (s *RecorderSuite) SetupTest() {
	s.clock = time.UnixMilli(1_700_000_000_000)
	s.store = memory.New(
		memory.WithClock(func() time.Time { return s.clock }),
		memory.WithAppendOnly(DefaultPath),
	)
	var err error
	s.recorder, err = NewRecorder(s.store)
	s.Require().NoError(err)
	s.reader, err = NewReader(s.store)
	s.Require().NoError(err)
}

var alice = Actor{UserID: "alice@x", UserName: "Alice", UserEmail: "alice@x"}

func (s *RecorderSuite) TestNew() {
	_, err := NewRecorder(nil)
	s.ErrorContains(err, "audit store is required")
	_, err = NewReader(nil)
	s.ErrorContains(err, "audit store is required")
}

func (s *RecorderSuite) TestRecord() {
	ctx := context.Background()

	s.Run("stamps id and store timestamp", func() {
		auditID, err := s.recorder.Record(ctx, Input{
			Actor:      alice,
			Action:     ActionCreate,
			EntityType: "pricing",
			EntityID:   "p1",
		})
		s.Require().NoError(err)
		s.NotEmpty(auditID)

		entries, err := s.reader.ListByEntity(ctx, "pricing", "p1", 0)
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(auditID, entries[0].ID)
		s.Equal(s.clock.UnixMilli(), entries[0].Timestamp)
		s.Equal(ActionCreate, entries[0].Action)
		s.Equal("Alice", entries[0].UserName)
	})

	s.Run("omits absent optional fields and empty changes", func() {
		auditID, err := s.recorder.Record(ctx, Input{
			Actor:      alice,
			Action:     ActionLogin,
			EntityType: EntityTypeSession,
			Changes:    []diff.Change{},
		})
		s.Require().NoError(err)

		raw, err := s.store.Get(ctx, DefaultPath+"/"+string(auditID))
		s.Require().NoError(err)
		doc := raw.(map[string]any)
		s.NotContains(doc, "changes")
		s.NotContains(doc, "entityId")
		s.NotContains(doc, "entityName")
		s.NotContains(doc, "metadata")
	})

	s.Run("keeps present-but-empty metadata values as null", func() {
		auditID, err := s.recorder.Record(ctx, Input{
			Actor:      alice,
			Action:     ActionLogin,
			EntityType: EntityTypeSession,
			Metadata:   map[string]any{"ip": nil, "browser": "Firefox"},
		})
		s.Require().NoError(err)

		raw, _ := s.store.Get(ctx, DefaultPath+"/"+string(auditID))
		meta := raw.(map[string]any)["metadata"].(map[string]any)
		s.Contains(meta, "ip")
		s.Nil(meta["ip"])
		s.Equal("Firefox", meta["browser"])
	})

	s.Run("stores changes with stable field names", func() {
		auditID, err := s.recorder.Record(ctx, Input{
			Actor:      alice,
			Action:     ActionUpdate,
			EntityType: "pricing",
			EntityID:   "p1",
			Changes:    []diff.Change{{Field: "rate", OldValue: 2.5, NewValue: 3.0}},
		})
		s.Require().NoError(err)

		raw, _ := s.store.Get(ctx, DefaultPath+"/"+string(auditID))
		s.Equal([]any{map[string]any{"field": "rate", "oldValue": 2.5, "newValue": 3.0}},
			raw.(map[string]any)["changes"])
	})

	s.Run("rejects incomplete input before writing", func() {
		_, err := s.recorder.Record(ctx, Input{Actor: alice, EntityType: "pricing"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		_, err = s.recorder.Record(ctx, Input{Actor: alice, Action: ActionCreate})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		_, err = s.recorder.Record(ctx, Input{Action: ActionCreate, EntityType: "pricing"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *RecorderSuite) TestRecordStoreUnavailable() {
	ctrl := gomock.NewController(s.T())
	defer ctrl.Finish()

	store := mocks.NewMockStore(ctrl)
	store.EXPECT().
		Push(gomock.Any(), DefaultPath, gomock.Any()).
		Return("", sentinel.ErrUnavailable)

	recorder, err := NewRecorder(store)
	s.Require().NoError(err)

	_, err = recorder.Record(context.Background(), Input{Actor: alice, Action: ActionCreate, EntityType: "pricing"})
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.ErrorIs(err, sentinel.ErrUnavailable)
}

func (s *RecorderSuite) TestImmutability() {
	ctx := context.Background()
	auditID, err := s.recorder.Record(ctx, Input{Actor: alice, Action: ActionCreate, EntityType: "zone"})
	s.Require().NoError(err)

	path := DefaultPath + "/" + string(auditID)
	s.ErrorIs(s.store.Update(ctx, path, map[string]any{"action": "delete"}), sentinel.ErrAppendOnly)
	s.ErrorIs(s.store.Remove(ctx, path), sentinel.ErrAppendOnly)

	entries, err := s.reader.List(ctx, Query{})
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(ActionCreate, entries[0].Action)
}

func (s *RecorderSuite) TestReaderOrderingAndFilters() {
	ctx := context.Background()
	bob := Actor{UserID: "bob@x", UserName: "Bob", UserEmail: "bob@x"}

	_, err := s.recorder.Record(ctx, Input{Actor: alice, Action: ActionCreate, EntityType: "pricing", EntityID: "p1"})
	s.Require().NoError(err)
	_, err = s.recorder.Record(ctx, Input{Actor: bob, Action: ActionApprove, EntityType: "pricing", EntityID: "p1"})
	s.Require().NoError(err)
	_, err = s.recorder.Record(ctx, Input{Actor: alice, Action: ActionCreate, EntityType: "zone", EntityID: "z1"})
	s.Require().NoError(err)

	s.Run("newest first", func() {
		entries, err := s.reader.List(ctx, Query{})
		s.Require().NoError(err)
		s.Require().Len(entries, 3)
		s.Equal("zone", entries[0].EntityType)
		s.Equal(ActionApprove, entries[1].Action)
		s.Equal(ActionCreate, entries[2].Action)
	})

	s.Run("by entity", func() {
		entries, err := s.reader.ListByEntity(ctx, "pricing", "p1", 0)
		s.Require().NoError(err)
		s.Len(entries, 2)
	})

	s.Run("by actor with limit", func() {
		entries, err := s.reader.ListByActor(ctx, "alice@x", 1)
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal("z1", entries[0].EntityID)
	})

	s.Run("subscribe streams filtered entries", func() {
		var latest []Entry
		unsubscribe, err := s.reader.Subscribe(ctx, Query{UserID: "bob@x"}, func(entries []Entry) {
			latest = entries
		})
		s.Require().NoError(err)
		defer unsubscribe()
		s.Len(latest, 1)

		_, err = s.recorder.Record(ctx, Input{Actor: bob, Action: ActionReject, EntityType: "zone", EntityID: "z1"})
		s.Require().NoError(err)
		s.Require().Len(latest, 2)
		s.Equal(ActionReject, latest[0].Action)
	})
}

func (s *RecorderSuite) TestActionCategory() {
	s.Equal(CategoryCompliance, ActionApprove.Category())
	s.Equal(CategorySecurity, ActionLogin.Category())
	s.Equal(CategoryOperations, Action("export").Category())
}

func (s *RecorderSuite) TestDecodeEntryRejectsGarbage() {
	_, err := decodeEntry("k", map[string]any{"timestamp": "not a number"})
	s.Error(err)
	s.False(errors.Is(err, sentinel.ErrNotFound))
}
