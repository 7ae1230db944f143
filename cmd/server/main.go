package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"warden/internal/guard"
	"warden/internal/guard/signing"
	"warden/internal/ledger"
	"warden/internal/platform/config"
	"warden/internal/platform/httpserver"
	"warden/internal/platform/logger"
	"warden/internal/platform/postgres"
	"warden/internal/platform/redis"
	wallethandler "warden/internal/wallet/handler"
	"warden/internal/wallet/idempotency"
	walletmetrics "warden/internal/wallet/metrics"
	walletservice "warden/internal/wallet/service"
	walletstore "warden/internal/wallet/store"
	"warden/pkg/platform/audit/publisher"
	auditkafka "warden/pkg/platform/audit/publishers/kafka"
	auditmemory "warden/pkg/platform/audit/store/memory"
	auditpostgres "warden/pkg/platform/audit/store/postgres"
	auditworker "warden/pkg/platform/audit/worker"
	"warden/pkg/platform/httputil"
	requestmw "warden/pkg/platform/middleware/request"
	requesttime "warden/pkg/platform/middleware/requesttime"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

type infra struct {
	accounts   walletservice.AccountStore
	ledger     ledger.Ledger
	uow        walletservice.UnitOfWork
	auditStore auditStore
	db         *sql.DB
}

type auditStore interface {
	publisher.Store
	publisher.Lister
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	ev := guard.NewEvaluator()

	deps, err := buildStorage(ctx, cfg, ev, log)
	if err != nil {
		return err
	}
	if deps.db != nil {
		defer deps.db.Close()
	}

	idem, closeIdem, err := buildIdempotency(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeIdem()

	g, gctx := errgroup.WithContext(ctx)

	auditPub, closeAudit, err := buildAudit(gctx, g, cfg, deps.auditStore, log)
	if err != nil {
		return err
	}

	extra, err := decimal.NewFromString(cfg.Wallet.SafeTransferExtra)
	if err != nil {
		return fmt.Errorf("parse SAFE_TRANSFER_EXTRA: %w", err)
	}

	svc := walletservice.New(deps.accounts, deps.ledger, deps.uow,
		walletservice.WithLogger(log),
		walletservice.WithAuditPublisher(auditPub),
		walletservice.WithMetrics(walletmetrics.New()),
		walletservice.WithEvaluator(ev),
		walletservice.WithModuleName(cfg.Wallet.ModuleName),
		walletservice.WithSafeTransferExtra(extra),
		walletservice.WithIdempotency(idem, cfg.Wallet.IdempotencyTTL),
	)

	r := chi.NewRouter()
	r.Use(requestmw.Middleware)
	r.Use(requesttime.Middleware)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if deps.db != nil {
			if err := deps.db.PingContext(r.Context()); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": err.Error()})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Group(func(r chi.Router) {
		r.Use(signing.Middleware(signing.NewVerifier(cfg.Wallet.SignatureMaxAge), log))
		wallethandler.New(svc, auditPub, log).Register(r)
	})

	srv := httpserver.New(cfg.Addr, r)
	g.Go(func() error {
		return httpserver.Run(gctx, srv, cfg.ShutdownTimeout, log)
	})

	log.Info("starting warden",
		"addr", cfg.Addr,
		"environment", cfg.Environment,
		"postgres", cfg.Database.Enabled(),
		"redis", cfg.Redis.Enabled(),
		"kafka", cfg.Kafka.Enabled(),
	)

	err = g.Wait()
	closeAudit()
	return err
}

func buildStorage(ctx context.Context, cfg config.Server, ev guard.Evaluator, log *slog.Logger) (*infra, error) {
	if !cfg.Database.Enabled() {
		log.Info("using in-memory wallet storage")
		accounts := walletstore.NewInMemoryStore()
		mem := ledger.NewMemory(ev)
		return &infra{
			accounts:   accounts,
			ledger:     mem,
			uow:        walletservice.NewMemoryUnitOfWork(accounts, mem),
			auditStore: auditmemory.NewInMemoryStore(),
		}, nil
	}

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	log.Info("using postgres wallet storage", "driver", cfg.Database.Driver)
	uow := newWalletPostgresTx(db, ev, cfg.Wallet.TxTimeout)
	return &infra{
		accounts:   uow.accounts,
		ledger:     uow.ledger,
		uow:        uow,
		auditStore: auditpostgres.New(db),
		db:         db,
	}, nil
}

func buildIdempotency(ctx context.Context, cfg config.Server, log *slog.Logger) (walletservice.IdempotencyStore, func(), error) {
	if !cfg.Redis.Enabled() {
		return idempotency.NewInMemoryStore(time.Now), func() {}, nil
	}
	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	log.Info("using redis idempotency store")
	return idempotency.NewRedis(client.Client), func() { _ = client.Close() }, nil
}

// buildAudit returns the publisher the service emits to. With Kafka, events
// are produced to the audit topic and a worker materializes them into store,
// which also serves reads.
func buildAudit(ctx context.Context, g *errgroup.Group, cfg config.Server, store auditStore, log *slog.Logger) (*publisher.Publisher, func(), error) {
	opts := []publisher.Option{
		publisher.WithLogger(log),
		publisher.WithAsyncBuffer(cfg.Kafka.AuditBuffer),
	}
	if !cfg.Kafka.Enabled() {
		pub := publisher.NewPublisher(store, opts...)
		return pub, pub.Close, nil
	}

	k := cfg.Kafka
	if err := auditkafka.EnsureTopic(ctx, k.Brokers, k.AuditTopic, k.Partitions); err != nil {
		return nil, nil, err
	}
	producer, err := auditkafka.New(k.Brokers, k.AuditTopic)
	if err != nil {
		return nil, nil, err
	}
	worker, err := auditworker.New(k.Brokers, k.AuditTopic, k.ConsumerGroup, store, log)
	if err != nil {
		producer.Close()
		return nil, nil, err
	}
	g.Go(func() error {
		return worker.Run(ctx)
	})

	pub := publisher.NewPublisher(producer, append(opts, publisher.WithLister(store))...)
	log.Info("audit events routed through kafka", "topic", k.AuditTopic, "brokers", k.Brokers)
	return pub, func() {
		pub.Close()
		producer.Close()
	}, nil
}
