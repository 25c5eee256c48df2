package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"steward/internal/audit"
	"steward/internal/audit/outbox"
	"steward/internal/catalog"
	"steward/internal/changecontrol/handler"
	ccmetrics "steward/internal/changecontrol/metrics"
	"steward/internal/changecontrol/service"
	"steward/internal/docstore"
	"steward/internal/docstore/memory"
	"steward/internal/docstore/notify"
	pgstore "steward/internal/docstore/postgres"
	jwttoken "steward/internal/jwt_token"
	"steward/internal/platform/config"
	"steward/internal/platform/httpserver"
	"steward/internal/platform/kafka"
	"steward/internal/platform/logger"
	"steward/internal/platform/metrics"
	"steward/internal/platform/middleware"
	"steward/internal/platform/postgres"
	redisclient "steward/internal/platform/redis"
	rlmetrics "steward/internal/ratelimit/metrics"
	ratelimit "steward/internal/ratelimit/middleware"
	rlmodels "steward/internal/ratelimit/models"
	"steward/internal/ratelimit/store/bucket"
	"steward/pkg/platform/httputil"
	authmw "steward/pkg/platform/middleware/auth"
	"steward/pkg/platform/middleware/metadata"
	"steward/pkg/platform/middleware/request"
	"steward/pkg/platform/middleware/requesttime"
)

const shutdownTimeout = 10 * time.Second

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Environment, cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// infra holds the backing services chosen by configuration.
type infra struct {
	store   docstore.Store
	tx      docstore.Transactor
	db      *sql.DB
	redis   *redisclient.Client
	workers []func(ctx context.Context) error
	closers []func()
}

func (i *infra) close() {
	for n := len(i.closers) - 1; n >= 0; n-- {
		i.closers[n]()
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	inf, err := buildInfra(ctx, cfg, log, reg)
	if err != nil {
		return err
	}
	defer inf.close()

	cat, err := catalog.New(catalog.Defaults()...)
	if err != nil {
		return err
	}
	recorder, err := audit.NewRecorder(inf.store, audit.WithLogger(log))
	if err != nil {
		return err
	}
	reader, err := audit.NewReader(inf.store, audit.WithLogger(log))
	if err != nil {
		return err
	}

	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(ccmetrics.New(reg)),
		service.WithAuditReader(reader),
	}
	if cfg.AtomicAudit {
		opts = append(opts, service.WithAtomicAudit(inf.tx))
	}
	svc, err := service.New(inf.store, cat, recorder, opts...)
	if err != nil {
		return err
	}

	httpMetrics := metrics.New(reg)
	validator := jwttoken.NewJWTServiceAdapter(
		jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience),
	)
	h := handler.New(svc, log, httpMetrics)
	limiter := ratelimit.New(buildBucketStore(inf),
		rlmodels.Policy{Limit: cfg.RateLimit.Mutations, Window: cfg.RateLimit.Window},
		ratelimit.WithLogger(log),
		ratelimit.WithMetrics(rlmetrics.New(reg)),
	)

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(middleware.Recover(log))
	r.Use(middleware.AccessLog(log, httpMetrics))

	r.Get("/healthz", healthHandler(inf))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Route("/api", func(r chi.Router) {
		r.Use(authmw.RequireAuth(validator, log))
		r.Use(limiter.LimitMutations)
		h.Register(r)
	})

	srv := httpserver.New(cfg.Addr, r)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, srv, shutdownTimeout, log)
	})
	for _, worker := range inf.workers {
		g.Go(func() error { return worker(gctx) })
	}
	log.InfoContext(ctx, "steward started",
		"addr", cfg.Addr,
		"store", cfg.Store.Backend,
		"atomic_audit", cfg.AtomicAudit,
		"audit_relay", cfg.Kafka.Enabled(),
	)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildInfra(ctx context.Context, cfg config.Server, log *slog.Logger, reg prometheus.Registerer) (*infra, error) {
	inf := &infra{}
	rc, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		inf.redis = rc
		inf.closers = append(inf.closers, func() { _ = rc.Close() })
	}

	if cfg.Store.Backend == config.BackendMemory {
		store := memory.New(memory.WithAppendOnly(audit.DefaultPath))
		inf.store, inf.tx = store, store
		return inf, nil
	}

	db, err := postgres.Open(ctx, cfg.Store)
	if err != nil {
		inf.close()
		return nil, err
	}
	inf.db = db
	inf.closers = append(inf.closers, func() { _ = db.Close() })
	if err := pgstore.Migrate(ctx, db); err != nil {
		inf.close()
		return nil, err
	}

	storeOpts := []pgstore.Option{
		pgstore.WithLogger(log),
		pgstore.WithAppendOnly(audit.DefaultPath),
		pgstore.WithTxTimeout(cfg.Store.TxTimeout),
	}
	if rc != nil {
		hostname, _ := os.Hostname()
		notifier := notify.NewRedis(rc.Client, notify.WithOrigin(hostname), notify.WithLogger(log))
		if err := notifier.Start(ctx); err != nil {
			inf.close()
			return nil, err
		}
		storeOpts = append(storeOpts, pgstore.WithNotifier(notifier))
	}

	if cfg.Kafka.Enabled() {
		relay, err := buildRelay(ctx, cfg.Kafka, db, log, reg, inf)
		if err != nil {
			inf.close()
			return nil, err
		}
		storeOpts = append(storeOpts, pgstore.WithOutbox(audit.DefaultPath))
		inf.workers = append(inf.workers, relay.Run)
	}

	store := pgstore.New(db, storeOpts...)
	inf.closers = append(inf.closers, store.Close)
	inf.store, inf.tx = store, store
	return inf, nil
}

// buildBucketStore shares rate limit windows through Redis when it is
// configured.
func buildBucketStore(inf *infra) ratelimit.BucketStore {
	if inf.redis != nil {
		return bucket.NewRedisBucketStore(inf.redis.Client)
	}
	return bucket.NewInMemoryBucketStore()
}

func buildRelay(ctx context.Context, cfg config.KafkaConfig, db *sql.DB, log *slog.Logger, reg prometheus.Registerer, inf *infra) (*outbox.Relay, error) {
	client, err := kafka.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	inf.closers = append(inf.closers, client.Close)
	if err := kafka.EnsureTopics(ctx, client, cfg.TopicPartitions, cfg.ReplicationFactor, outbox.Topics(cfg.AuditTopicPrefix)...); err != nil {
		return nil, err
	}
	return outbox.New(outbox.NewPostgresStore(db), client, cfg.AuditTopicPrefix,
		outbox.WithInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMetrics(outbox.NewMetrics(reg)),
		outbox.WithLogger(log),
	)
}

func healthHandler(inf *infra) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		checks := map[string]string{"status": "ok"}
		status := http.StatusOK
		if inf.db != nil {
			if err := inf.db.PingContext(ctx); err != nil {
				checks["postgres"], status = "unavailable", http.StatusServiceUnavailable
			}
		}
		if inf.redis != nil {
			if err := inf.redis.Health(ctx); err != nil {
				checks["redis"], status = "unavailable", http.StatusServiceUnavailable
			}
		}
		if status != http.StatusOK {
			checks["status"] = "degraded"
		}
		httputil.WriteJSON(w, status, checks)
	}
}
