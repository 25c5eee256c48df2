package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"steward/internal/docstore"
	"steward/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *Store
	now   time.Time
}

func (s *MemoryStoreSuite) SetupTest() {
	s.now = time.UnixMilli(1_700_000_000_000)
	s.store = New(
		WithClock(func() time.Time { return s.now }),
		WithAppendOnly("auditLogs"),
	)
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) TestPushAndGet() {
	ctx := context.Background()

	s.Run("push assigns a key and normalizes the value", func() {
		key, err := s.store.Push(ctx, "pricingRules", map[string]any{"rate": 3, "name": "base"})
		s.Require().NoError(err)
		s.NotEmpty(key)

		got, err := s.store.Get(ctx, "pricingRules/"+key)
		s.Require().NoError(err)
		s.Equal(map[string]any{"rate": float64(3), "name": "base"}, got)
	})

	s.Run("push keys are time ordered", func() {
		first, err := s.store.Push(ctx, "campaigns", map[string]any{"n": 1})
		s.Require().NoError(err)
		second, err := s.store.Push(ctx, "campaigns", map[string]any{"n": 2})
		s.Require().NoError(err)
		s.Less(first, second)
	})

	s.Run("get of an absent path returns nil", func() {
		got, err := s.store.Get(ctx, "zones/missing")
		s.Require().NoError(err)
		s.Nil(got)
	})

	s.Run("returned values cannot mutate stored state", func() {
		key, err := s.store.Push(ctx, "zones", map[string]any{"tags": []any{"a"}})
		s.Require().NoError(err)

		got, _ := s.store.Get(ctx, "zones/"+key)
		got.(map[string]any)["tags"].([]any)[0] = "mutated"

		again, _ := s.store.Get(ctx, "zones/"+key)
		s.Equal([]any{"a"}, again.(map[string]any)["tags"])
	})

	s.Run("rejects invalid paths", func() {
		_, err := s.store.Get(ctx, "zones//x")
		s.ErrorIs(err, sentinel.ErrInvalidPath)
		_, err = s.store.Push(ctx, "../etc", map[string]any{})
		s.ErrorIs(err, sentinel.ErrInvalidPath)
	})
}

func (s *MemoryStoreSuite) TestServerTimestamp() {
	ctx := context.Background()

	s.Run("resolves the placeholder to the store clock", func() {
		key, err := s.store.Push(ctx, "services", map[string]any{"at": docstore.ServerTimestamp})
		s.Require().NoError(err)

		got, _ := s.store.Get(ctx, "services/"+key)
		s.Equal(float64(s.now.UnixMilli()), got.(map[string]any)["at"])
	})

	s.Run("timestamps increase even when the clock stands still", func() {
		s.Require().NoError(s.store.Update(ctx, "services/a", map[string]any{"at": docstore.ServerTimestamp}))
		s.Require().NoError(s.store.Update(ctx, "services/b", map[string]any{"at": docstore.ServerTimestamp}))

		a, _ := s.store.Get(ctx, "services/a")
		b, _ := s.store.Get(ctx, "services/b")
		s.Greater(b.(map[string]any)["at"].(float64), a.(map[string]any)["at"].(float64))
	})
}

func (s *MemoryStoreSuite) TestUpdateAndRemove() {
	ctx := context.Background()

	s.Run("update merges fields and creates absent documents", func() {
		s.Require().NoError(s.store.Update(ctx, "referenceData/r1", map[string]any{"a": 1}))
		s.Require().NoError(s.store.Update(ctx, "referenceData/r1", map[string]any{"b": "x"}))

		got, _ := s.store.Get(ctx, "referenceData/r1")
		s.Equal(map[string]any{"a": float64(1), "b": "x"}, got)
	})

	s.Run("update rejects nested field keys", func() {
		err := s.store.Update(ctx, "referenceData/r1", map[string]any{"a/b": 1})
		s.ErrorIs(err, sentinel.ErrInvalidPath)
	})

	s.Run("remove deletes and prunes empty parents", func() {
		s.Require().NoError(s.store.Update(ctx, "fxPricing/f1", map[string]any{"a": 1}))
		s.Require().NoError(s.store.Remove(ctx, "fxPricing/f1"))

		got, _ := s.store.Get(ctx, "fxPricing")
		s.Nil(got)
	})

	s.Run("removing an absent path is not an error", func() {
		s.NoError(s.store.Remove(ctx, "fxPricing/none"))
	})

	s.Run("append-only prefixes refuse rewrites", func() {
		key, err := s.store.Push(ctx, "auditLogs", map[string]any{"action": "create"})
		s.Require().NoError(err)

		err = s.store.Update(ctx, "auditLogs/"+key, map[string]any{"action": "delete"})
		s.ErrorIs(err, sentinel.ErrAppendOnly)
		err = s.store.Remove(ctx, "auditLogs/"+key)
		s.ErrorIs(err, sentinel.ErrAppendOnly)
		err = s.store.Remove(ctx, "auditLogs")
		s.ErrorIs(err, sentinel.ErrAppendOnly)

		got, _ := s.store.Get(ctx, "auditLogs/"+key)
		s.Equal(map[string]any{"action": "create"}, got)
	})
}

func (s *MemoryStoreSuite) TestSubscribe() {
	ctx := context.Background()

	s.Run("delivers the current snapshot then every change", func() {
		var got []any
		unsubscribe, err := s.store.Subscribe(ctx, "campaigns", func(snapshot any) {
			got = append(got, snapshot)
		})
		s.Require().NoError(err)
		defer unsubscribe()

		s.Require().Len(got, 1)
		s.Nil(got[0])

		s.Require().NoError(s.store.Update(ctx, "campaigns/c1", map[string]any{"name": "spring"}))
		s.Require().Len(got, 2)
		s.Equal(map[string]any{"c1": map[string]any{"name": "spring"}}, got[1])
	})

	s.Run("unrelated paths do not notify", func() {
		calls := 0
		unsubscribe, err := s.store.Subscribe(ctx, "zones", func(any) { calls++ })
		s.Require().NoError(err)
		defer unsubscribe()

		s.Require().NoError(s.store.Update(ctx, "zonesArchive/z1", map[string]any{"a": 1}))
		s.Equal(1, calls)
	})

	s.Run("unsubscribe is idempotent and stops delivery", func() {
		calls := 0
		unsubscribe, err := s.store.Subscribe(ctx, "services", func(any) { calls++ })
		s.Require().NoError(err)

		unsubscribe()
		unsubscribe()
		s.Require().NoError(s.store.Update(ctx, "services/s1", map[string]any{"a": 1}))
		s.Equal(1, calls)
	})

	s.Run("nil listener is rejected", func() {
		_, err := s.store.Subscribe(ctx, "services", nil)
		s.Error(err)
	})
}

func (s *MemoryStoreSuite) TestRunInTx() {
	ctx := context.Background()

	s.Run("commits and notifies after fn returns", func() {
		var deliveries int
		unsubscribe, err := s.store.Subscribe(ctx, "pricingRules", func(any) { deliveries++ })
		s.Require().NoError(err)
		defer unsubscribe()

		err = s.store.RunInTx(ctx, func(txCtx context.Context) error {
			s.Require().NoError(s.store.Update(txCtx, "pricingRules/p1", map[string]any{"rate": 1}))
			s.Equal(1, deliveries)
			return nil
		})
		s.Require().NoError(err)
		s.Equal(2, deliveries)

		got, _ := s.store.Get(ctx, "pricingRules/p1")
		s.NotNil(got)
	})

	s.Run("rolls back on error", func() {
		boom := errors.New("boom")
		err := s.store.RunInTx(ctx, func(txCtx context.Context) error {
			s.Require().NoError(s.store.Update(txCtx, "pricingRules/p2", map[string]any{"rate": 2}))
			return boom
		})
		s.ErrorIs(err, boom)

		got, _ := s.store.Get(ctx, "pricingRules/p2")
		s.Nil(got)
	})
}

func (s *MemoryStoreSuite) TestConcurrentPushes() {
	ctx := context.Background()
	const writers = 50

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.store.Push(ctx, "auditLogs", map[string]any{"n": n})
			s.NoError(err)
		}(i)
	}
	wg.Wait()

	got, err := s.store.Get(ctx, "auditLogs")
	s.Require().NoError(err)
	s.Len(got.(map[string]any), writers)
}
