//go:build integration

package outbox_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"steward/internal/audit"
	"steward/internal/audit/outbox"
	docstorepg "steward/internal/docstore/postgres"
	"steward/internal/platform/config"
	"steward/internal/platform/kafka"
	"steward/pkg/testutil/containers"
)

type RelayIntegrationSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	redpanda *containers.RedpandaContainer
	store    *docstorepg.Store
	client   *kgo.Client
}

func TestRelayIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RelayIntegrationSuite))
}

func (s *RelayIntegrationSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.redpanda = mgr.GetRedpanda(s.T())
	s.store = docstorepg.New(s.postgres.DB,
		docstorepg.WithAppendOnly(audit.DefaultPath),
		docstorepg.WithOutbox(audit.DefaultPath),
	)

	client, err := kafka.NewClient(config.KafkaConfig{Brokers: s.redpanda.Brokers})
	s.Require().NoError(err)
	s.client = client
	s.Require().NoError(kafka.EnsureTopics(context.Background(), client, 1, 1, outbox.Topics("it.audit")...))
}

func (s *RelayIntegrationSuite) TearDownSuite() {
	s.client.Close()
	s.store.Close()
}

func (s *RelayIntegrationSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "documents", "outbox"))
}

func (s *RelayIntegrationSuite) TestRecordedEntriesReachKafka() {
	ctx := context.Background()

	recorder, err := audit.NewRecorder(s.store)
	s.Require().NoError(err)
	auditID, err := recorder.Record(ctx, audit.Input{
		Actor:      audit.Actor{UserID: "bob@x", UserName: "Bob", UserEmail: "bob@x"},
		Action:     audit.ActionApprove,
		EntityType: "pricing",
		EntityID:   "p1",
		Metadata:   map[string]any{"previousStatus": "Pending", "newStatus": "Approved"},
	})
	s.Require().NoError(err)

	source := outbox.NewPostgresStore(s.postgres.DB)
	relay, err := outbox.New(source, s.client, "it.audit", outbox.WithMetrics(outbox.NewMetrics(prometheus.NewRegistry())))
	s.Require().NoError(err)

	n, err := relay.Drain(ctx)
	s.Require().NoError(err)
	s.Equal(1, n)

	pending, err := source.Pending(ctx)
	s.Require().NoError(err)
	s.Zero(pending)

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Brokers...),
		kgo.ConsumeTopics(outbox.Topic("it.audit", audit.CategoryCompliance)),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	pollCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	fetches := consumer.PollFetches(pollCtx)
	s.Require().Empty(fetches.Errors())

	var keys []string
	fetches.EachRecord(func(r *kgo.Record) {
		keys = append(keys, string(r.Key))
	})
	s.Contains(keys, string(auditID))
}
