package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"portal/internal/auth/authn"
	"portal/internal/auth/password"
	"portal/internal/auth/service"
	"portal/internal/auth/store/session"
	userstore "portal/internal/auth/store/user"
	jwttoken "portal/internal/jwt_token"
	"portal/internal/mail"
	"portal/internal/platform/config"
	"portal/internal/platform/httpserver"
	"portal/internal/platform/logger"
	"portal/internal/platform/metrics"
	"portal/internal/platform/postgres"
	platformredis "portal/internal/platform/redis"
	rlMiddleware "portal/internal/ratelimit/middleware"
	rlModels "portal/internal/ratelimit/models"
	"portal/internal/ratelimit/store/bucket"
	httptransport "portal/internal/transport/http"
	audit "portal/pkg/platform/audit"
	"portal/pkg/platform/audit/publisher"
	"portal/pkg/platform/audit/sink/kafka"
	auditmemory "portal/pkg/platform/audit/store/memory"
	auditpostgres "portal/pkg/platform/audit/store/postgres"
	"portal/pkg/platform/circuit"
)

const bucketPruneInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("portal exited with error", "error", err)
		os.Exit(1)
	}
}

// run wires every dependency, serves until ctx is cancelled and then shuts
// down in reverse order.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	m := metrics.New()
	health := map[string]httptransport.HealthCheck{}

	var db *sql.DB
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		health["postgres"] = db.PingContext
	}

	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		health["redis"] = redisClient.Health
	}

	users, err := newUserStore(ctx, db, log)
	if err != nil {
		return err
	}

	var registry session.Registry = session.New()
	if redisClient != nil {
		registry = session.NewRedis(redisClient.Client)
		log.Info("session registry backed by redis")
	}

	auditPublisher, closeAudit, err := newAuditPublisher(ctx, cfg.Audit, db, m, log)
	if err != nil {
		return err
	}
	defer closeAudit()

	mailer, err := newMailer(cfg.Mail, log)
	if err != nil {
		return err
	}

	codec := jwttoken.NewCodec(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience, cfg.Auth.JWTTTL)
	authService, err := service.New(users, registry, codec, password.NewHasher(cfg.Auth.BcryptCost), mailer,
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithAuditPublisher(auditPublisher),
		service.WithResetTokenTTL(cfg.Auth.ResetTokenTTL),
		service.WithResetURLBase(cfg.Auth.ResetURL),
		service.WithMailTimeout(cfg.Mail.Timeout),
	)
	if err != nil {
		return err
	}
	authenticator := authn.New(codec, users, registry, log,
		authn.WithMetrics(m),
		authn.WithConcurrencyWarnThreshold(cfg.Auth.ConcurrencyWarn),
	)

	memoryBuckets := bucket.New()
	limiterOpts := []rlMiddleware.Option{
		rlMiddleware.WithDisabled(cfg.RateLimit.Disabled),
		rlMiddleware.WithMetrics(m),
		rlMiddleware.WithAuditPublisher(auditPublisher),
		rlMiddleware.WithLimit(rlModels.ClassLogin, rlModels.Limit{Requests: cfg.RateLimit.LoginRequests, Window: cfg.RateLimit.LoginWindow}),
		rlMiddleware.WithLimit(rlModels.ClassPasswordReset, rlModels.Limit{Requests: cfg.RateLimit.ResetRequests, Window: cfg.RateLimit.ResetWindow}),
	}
	var primaryBuckets rlMiddleware.Store = memoryBuckets
	if redisClient != nil {
		primaryBuckets = bucket.NewRedis(redisClient.Client)
		limiterOpts = append(limiterOpts,
			rlMiddleware.WithFallback(memoryBuckets),
			rlMiddleware.WithBreaker(circuit.New("ratelimit-redis")),
		)
	}
	limiter := rlMiddleware.New(primaryBuckets, log, limiterOpts...)

	router := httptransport.NewRouter(httptransport.Deps{
		Auth:           authService,
		Admin:          authService,
		Authenticator:  authenticator,
		Throttler:      limiter,
		Metrics:        m,
		MetricsHandler: promhttp.Handler(),
		MetricsToken:   cfg.Server.MetricsToken,
		Health:         health,
		TrustProxy:     cfg.Server.TrustProxy,
		Logger:         log,
	})
	srv := httpserver.New(cfg.Server, router)

	sweeper := session.NewSweeper(registry, cfg.Auth.SweepInterval, log,
		session.WithObserver(m.AddSessionsSwept),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting portal", "addr", cfg.Server.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		sweeper.Start(gctx)
		<-gctx.Done()
		sweeper.Stop()
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(bucketPruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				memoryBuckets.Prune(gctx)
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})
	err = g.Wait()
	// reset mail still in flight emits audit events, so drain before closeAudit
	authService.Drain()
	return err
}

type userStore interface {
	service.UserStore
	authn.UserFinder
}

func newUserStore(ctx context.Context, db *sql.DB, log *slog.Logger) (userStore, error) {
	if db == nil {
		log.Warn("DATABASE_URL not set, users are kept in memory")
		return userstore.New(), nil
	}
	store := userstore.NewPostgres(db)
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate users: %w", err)
	}
	return store, nil
}

// newAuditPublisher writes to Postgres when available, otherwise to memory,
// and mirrors events to Kafka when brokers are configured.
func newAuditPublisher(ctx context.Context, cfg config.AuditConfig, db *sql.DB, m *metrics.Metrics, log *slog.Logger) (*publisher.Publisher, func(), error) {
	var store audit.Store = auditmemory.NewInMemoryStore()
	if db != nil {
		pgStore := auditpostgres.New(db)
		if err := pgStore.Migrate(ctx); err != nil {
			return nil, nil, fmt.Errorf("migrate audit: %w", err)
		}
		store = pgStore
	}

	opts := []publisher.Option{
		publisher.WithLogger(log),
		publisher.WithAsyncBuffer(cfg.AsyncBuffer),
		publisher.WithDropHook(m.IncrementAuditDropped),
	}
	var sink *kafka.Sink
	if len(cfg.KafkaBrokers) > 0 {
		var err error
		sink, err = kafka.New(kafka.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			return nil, nil, err
		}
		if err := sink.EnsureTopic(ctx, 1, 1); err != nil {
			log.Warn("audit topic check failed", "topic", cfg.KafkaTopic, "error", err)
		}
		opts = append(opts, publisher.WithSinks(sink))
	}

	p := publisher.NewPublisher(store, opts...)
	closeFn := func() {
		p.Close()
		if sink != nil {
			sink.Close()
		}
	}
	return p, closeFn, nil
}

func newMailer(cfg config.MailConfig, log *slog.Logger) (mail.Sender, error) {
	if cfg.SMTPHost == "" {
		log.Warn("SMTP_HOST not set, reset mail is logged instead of sent")
		return mail.NewLogSender(log), nil
	}
	return mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
		Timeout:  cfg.Timeout,
	})
}
