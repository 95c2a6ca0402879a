package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/boxoffice/internal/clock"
	"github.com/iliyamo/boxoffice/internal/config"
	"github.com/iliyamo/boxoffice/internal/database"
	"github.com/iliyamo/boxoffice/internal/gateway"
	"github.com/iliyamo/boxoffice/internal/handler"
	"github.com/iliyamo/boxoffice/internal/middleware"
	"github.com/iliyamo/boxoffice/internal/queue"
	"github.com/iliyamo/boxoffice/internal/repository"
	"github.com/iliyamo/boxoffice/internal/repository/memstore"
	"github.com/iliyamo/boxoffice/internal/router"
	"github.com/iliyamo/boxoffice/internal/service"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := newLogger(cfg)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server exited")
	}
	log.Info("server stopped")
}

func newLogger(cfg config.Config) *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	if cfg.IsProd() {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		l.SetLevel(lvl)
	}
	return l.WithField("env", cfg.Env)
}

// redisPinger adapts a redis client to handler.Pinger.
type redisPinger struct{ *redis.Client }

func (p redisPinger) PingContext(ctx context.Context) error { return p.Ping(ctx).Err() }

func openStorage(ctx context.Context, cfg config.Config, log *logrus.Entry) (service.Repositories, []handler.Pinger, func(), error) {
	if cfg.Storage == config.StorageMemory {
		log.Warn("using in-memory storage; data is lost on restart")
		s := memstore.New()
		return service.Repositories{
			Tx: s, Inventory: s, Bookings: s, Ledger: s, Events: s, Users: s, Tokens: s,
		}, nil, func() {}, nil
	}

	db, err := database.Open(database.Options{
		User:     cfg.DBUser,
		Password: cfg.DBPass,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		Name:     cfg.DBName,
	})
	if err != nil {
		return service.Repositories{}, nil, nil, err
	}
	if err := database.InitializeSchema(ctx, db); err != nil {
		_ = db.Close()
		return service.Repositories{}, nil, nil, err
	}
	s := repository.NewStore(db)
	return service.Repositories{
		Tx:        s.TxManager,
		Inventory: s.Inventory,
		Bookings:  s.Bookings,
		Ledger:    s.Ledger,
		Events:    s.Events,
		Users:     s.Users,
		Tokens:    s.Tokens,
	}, []handler.Pinger{db}, func() { _ = db.Close() }, nil
}

func verifiers(cfg config.Config) []service.Verifier {
	var vs []service.Verifier
	if cfg.RazorpayWebhookSecret != "" {
		vs = append(vs, gateway.RazorpayVerifier{Secret: cfg.RazorpayWebhookSecret})
	}
	if cfg.CashfreeWebhookSecret != "" {
		vs = append(vs, gateway.CashfreeVerifier{Secret: cfg.CashfreeWebhookSecret})
	}
	if cfg.GenericWebhookSecret != "" {
		vs = append(vs, gateway.GenericVerifier{Secret: cfg.GenericWebhookSecret})
	}
	return vs
}

func run(cfg config.Config, log *logrus.Entry) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	repos, ready, closeStore, err := openStorage(startCtx, cfg, log)
	cancel()
	if err != nil {
		return err
	}
	defer closeStore()

	rdb := config.NewRedisClient(cfg.Redis)
	if rdb == nil {
		log.Warn("redis unavailable; rate limiting, caching and webhook fast-path dedupe are off")
	} else {
		defer rdb.Close()
		ready = append(ready, redisPinger{rdb})
	}

	var pub service.EventPublisher = service.NopPublisher{}
	if cfg.RabbitMQURL != "" {
		p := queue.NewPublisher(cfg.RabbitMQURL, log)
		defer p.Close()
		pub = p
	} else {
		log.Warn("RABBITMQ_URL not set; integration events are dropped")
	}

	policy, err := service.PolicyFromConfig(cfg)
	if err != nil {
		return err
	}
	vs := verifiers(cfg)
	if len(vs) == 0 {
		log.Warn("no webhook secrets configured; payment callbacks will be rejected")
	}

	clk := clock.NewSystem()
	svcs := service.New(repos, policy, clk, log, service.Options{
		Publisher: pub,
		Deduper:   service.NewRedisDeduper(rdb),
		Verifiers: vs,
		DedupeTTL: cfg.WebhookDedupeTTL,
	})
	auth := service.NewAuthService(repos.Users, repos.Tokens, service.AuthSettings{
		Secret:     cfg.JWTSecret,
		AccessTTL:  cfg.AccessTTL(),
		RefreshTTL: cfg.RefreshTTL(),
		BcryptCost: cfg.BcryptCost,
	}, clk, log)
	if err := auth.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(log))
	e.Use(middleware.Metrics())

	router.Register(e, router.Handlers{
		Auth:     handler.NewAuthHandler(auth, cfg.JWTSecret),
		Pools:    handler.NewPoolHandler(svcs.Inventory),
		Bookings: handler.NewBookingHandler(svcs.Bookings),
		Wallet:   handler.NewWalletHandler(svcs.Ledger),
		Webhooks: handler.NewWebhookHandler(svcs.Payments),
		Admin:    handler.NewAdminHandler(svcs.Sweeper, svcs.Ledger),
	}, router.Options{
		JWTSecret: cfg.JWTSecret,
		RateLimit: middleware.NewTokenBucket(cfg.RateLimit, rdb, log),
		Cache:     middleware.NewRedisCache(cfg.Cache, rdb),
		Ready:     ready,
	})

	sched := service.NewScheduler(log)
	if err := sched.Add(ctx, "hold_sweep", cfg.SweepSchedule, time.Minute, svcs.Sweeper.Run); err != nil {
		return err
	}
	release := func(ctx context.Context) error {
		_, err := svcs.Ledger.ReleaseDue(ctx, policy.SweepBatch)
		return err
	}
	if err := sched.Add(ctx, "ledger_release", cfg.ReleaseSchedule, time.Minute, release); err != nil {
		return err
	}

	var worker *service.PayoutWorker
	payouts := cfg.RabbitMQURL != "" && cfg.PayoutBaseURL != ""
	if payouts {
		client := gateway.NewPayoutClient(cfg.PayoutBaseURL, cfg.PayoutAPIKey, cfg.PayoutTimeout, log)
		worker = service.NewPayoutWorker(svcs.Ledger, client, log).WithRetry(cfg.PayoutRetryAfter, cfg.PayoutFailAfter)
		retry := func(ctx context.Context) error {
			_, _, err := worker.RetryStale(ctx, policy.SweepBatch)
			return err
		}
		if err := sched.Add(ctx, "payout_retry", cfg.PayoutRetrySchedule, time.Minute, retry); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", ":"+cfg.Port).Info("listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(sctx)
	})
	g.Go(func() error { return ignoreCanceled(sched.Run(gctx)) })

	if payouts {
		consumer := queue.NewConsumer(cfg.RabbitMQURL, queue.WithdrawalRequested, worker.Handle, log)
		g.Go(func() error { return ignoreCanceled(consumer.Run(gctx)) })
	} else {
		log.Warn("payout worker disabled; set RABBITMQ_URL and PAYOUT_BASE_URL to enable")
	}

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
