package outbox_test

//go:generate mockgen -source=relay.go -destination=mocks/mocks.go -package=mocks Producer,Source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/mock/gomock"

	"steward/internal/audit/outbox"
	"steward/internal/audit/outbox/mocks"
)

type RelaySuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	source   *mocks.MockSource
	producer *mocks.MockProducer
	metrics  *outbox.Metrics
	relay    *outbox.Relay
}

func TestRelaySuite(t *testing.T) {
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.source = mocks.NewMockSource(s.ctrl)
	s.producer = mocks.NewMockProducer(s.ctrl)
	s.metrics = outbox.NewMetrics(prometheus.NewRegistry())

	var err error
	s.relay, err = outbox.New(s.source, s.producer, "steward.audit",
		outbox.WithBatchSize(2),
		outbox.WithBreaker(2, time.Hour),
		outbox.WithMetrics(s.metrics),
		outbox.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)
}

func (s *RelaySuite) TearDownTest() {
	s.ctrl.Finish()
}

// claimWith makes the mocked source hand rows to the relay's callback the way
// the postgres source does.
func claimWith(rows []outbox.Row) func(context.Context, int, func(context.Context, []outbox.Row) error) (int, error) {
	return func(ctx context.Context, _ int, fn func(context.Context, []outbox.Row) error) (int, error) {
		if len(rows) == 0 {
			return 0, nil
		}
		if err := fn(ctx, rows); err != nil {
			return 0, err
		}
		return len(rows), nil
	}
}

func (s *RelaySuite) TestNew() {
	_, err := outbox.New(nil, s.producer, "p")
	s.ErrorContains(err, "outbox source is required")
	_, err = outbox.New(s.source, nil, "p")
	s.ErrorContains(err, "kafka producer is required")
	_, err = outbox.New(s.source, s.producer, "")
	s.ErrorContains(err, "topic prefix is required")
}

func (s *RelaySuite) TestRoutesByCategory() {
	rows := []outbox.Row{
		{ID: "o1", AggregateID: "a1", EventType: "approve", Payload: []byte(`{"action":"approve"}`)},
		{ID: "o2", AggregateID: "a2", EventType: "login", Payload: []byte(`{"action":"login"}`)},
	}
	var produced []*kgo.Record

	gomock.InOrder(
		s.source.EXPECT().Claim(gomock.Any(), 2, gomock.Any()).DoAndReturn(claimWith(rows)),
		s.source.EXPECT().Claim(gomock.Any(), 2, gomock.Any()).DoAndReturn(claimWith(nil)),
	)
	s.producer.EXPECT().ProduceSync(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
			produced = rs
			return kgo.ProduceResults{{Record: rs[0]}, {Record: rs[1]}}
		})

	n, err := s.relay.Drain(context.Background())
	s.Require().NoError(err)
	s.Equal(2, n)

	s.Require().Len(produced, 2)
	s.Equal("steward.audit.compliance", produced[0].Topic)
	s.Equal([]byte("a1"), produced[0].Key)
	s.Equal("steward.audit.security", produced[1].Topic)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Published.WithLabelValues("compliance")))
}

func (s *RelaySuite) TestProduceFailureKeepsRowsAndOpensBreaker() {
	rows := []outbox.Row{{ID: "o1", AggregateID: "a1", EventType: "create"}}
	s.source.EXPECT().Claim(gomock.Any(), 2, gomock.Any()).DoAndReturn(claimWith(rows)).Times(2)
	s.producer.EXPECT().ProduceSync(gomock.Any(), gomock.Any()).
		Return(kgo.ProduceResults{{Err: errors.New("broker down")}}).Times(2)

	_, err := s.relay.Drain(context.Background())
	s.ErrorContains(err, "broker down")
	_, err = s.relay.Drain(context.Background())
	s.Error(err)

	// Breaker is open: no further claims.
	n, err := s.relay.Drain(context.Background())
	s.NoError(err)
	s.Zero(n)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.BreakerState))
	s.Equal(float64(2), testutil.ToFloat64(s.metrics.Failures))
}

func (s *RelaySuite) TestTopics() {
	s.Equal([]string{
		"steward.audit.compliance",
		"steward.audit.security",
		"steward.audit.operations",
	}, outbox.Topics("steward.audit"))
}
