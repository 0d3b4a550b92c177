package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"resetgate/internal/account"
	"resetgate/internal/audit"
	"resetgate/internal/bloom"
	"resetgate/internal/mailer"
	"resetgate/internal/platform/config"
	"resetgate/internal/platform/httpserver"
	"resetgate/internal/platform/logger"
	"resetgate/internal/platform/metrics"
	platformredis "resetgate/internal/platform/redis"
	"resetgate/internal/ratelimit"
	"resetgate/internal/reset"
	"resetgate/internal/token"
	httptransport "resetgate/internal/transport/http"
)

// main wires dependencies and keeps the server lifecycle small. Protocol
// logic lives in the internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		log.Error("redis setup failed", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	var accounts account.Store
	var auditStore audit.Store
	var outbox audit.Source
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			log.Error("postgres setup failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		accounts = account.NewPostgresStore(pool)
		pgAudit := audit.NewPostgresStore(pool)
		auditStore = pgAudit
		outbox = pgAudit
	} else {
		log.Warn("POSTGRES_URL unset, using in-memory stores")
		accounts = account.NewInMemoryStore()
		auditStore = audit.NewInMemoryStore()
	}

	limiterOpts := []ratelimit.Option{
		ratelimit.WithFailOpenHook(m.LimiterFailOpens.Inc),
	}
	if cfg.Reset.RateLimitFailClosed {
		limiterOpts = append(limiterOpts, ratelimit.WithFailClosed())
	}
	limiter := ratelimit.New(redisClient, log, limiterOpts...)

	tokens, err := token.NewManager(redisClient, []byte(cfg.Reset.MACKey), cfg.Reset.CredentialTTL)
	if err != nil {
		log.Error("token manager setup failed", "error", err)
		os.Exit(1)
	}

	filter := bloom.New(cfg.Reset.FilterExpectedMembers, cfg.Reset.FilterFalsePositiveRate)
	recorder := audit.NewRecorder(auditStore, log, audit.WithDropHook(m.AuditDropped.Inc))
	dispatch := mailer.NewLogDispatcher(log)

	svc, err := reset.New(
		reset.Config{
			CallerLimit:             cfg.Reset.CallerLimit,
			CallerWindow:            cfg.Reset.CallerWindow,
			AccountLimit:            cfg.Reset.AccountLimit,
			AccountWindow:           cfg.Reset.AccountWindow,
			CredentialLimit:         cfg.Reset.CredentialLimit,
			CredentialWindow:        cfg.Reset.CredentialWindow,
			ResponseFloor:           cfg.Reset.ResponseFloor,
			FilterExpectedMembers:   cfg.Reset.FilterExpectedMembers,
			FilterFalsePositiveRate: cfg.Reset.FilterFalsePositiveRate,
		},
		accounts, tokens, limiter, filter, recorder, dispatch, log,
		reset.WithMetrics(m),
	)
	if err != nil {
		log.Error("service setup failed", "error", err)
		os.Exit(1)
	}

	if err := svc.RefreshFilter(ctx); err != nil {
		log.Error("initial filter build failed", "error", err)
		os.Exit(1)
	}

	router := httptransport.NewRouter(httptransport.NewHandler(svc))
	srv := httpserver.New(cfg.Addr, router)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting resetgate", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	group.Go(func() error {
		ticker := time.NewTicker(cfg.Reset.FilterRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := svc.RefreshFilter(ctx); err != nil {
					log.Warn("filter refresh failed", "error", err)
				}
			}
		}
	})

	if outbox != nil && len(cfg.Kafka.Brokers) > 0 {
		sink, err := audit.NewKafkaSink(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			log.Error("kafka setup failed", "error", err)
			os.Exit(1)
		}
		defer sink.Close()
		worker := audit.NewWorker(outbox, sink, 5*time.Second, log)
		group.Go(func() error {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
