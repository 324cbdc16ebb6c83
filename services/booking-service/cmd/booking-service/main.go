package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/salonbook/libs/config"
	"github.com/md-rashed-zaman/salonbook/libs/db"
	"github.com/md-rashed-zaman/salonbook/libs/grpcx"
	"github.com/md-rashed-zaman/salonbook/libs/httpx"
	"github.com/md-rashed-zaman/salonbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/salonbook/libs/otel"
	"github.com/md-rashed-zaman/salonbook/libs/runtime"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/consumer"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/inbox"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/policy"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/quota"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/reaper"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/reservation"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage/memstore"
)

// engineStore is implemented by both storage.Repository and memstore.Store.
type engineStore interface {
	availability.Store
	reservation.Store
	reaper.Store
	policy.OverrideStore
	quota.Store
}

func main() {
	_ = config.LoadDotEnv(".env")

	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	grpcPort, err := config.Port("GRPC_PORT", "9093")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service, otelx.RoleAPI))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() { _ = runtime.Shutdown(5*time.Second, otelShutdown) }()
	}

	defaults, err := policy.Load(config.String("BOOKING_POLICY_PATH", ""))
	if err != nil {
		logger.Error("booking policy load failed", "err", err)
		panic(err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	brokers := kafkax.SplitBrokers(config.String("KAFKA_BROKERS", ""))
	checks := brokerChecks(brokers)

	var store engineStore
	var pool *db.Pool
	switch driver := strings.ToLower(config.String("STORE_DRIVER", "postgres")); driver {
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		store = memstore.New()
	case "postgres":
		dbURL, err := config.RequiredString("DATABASE_URL")
		if err != nil {
			panic(err)
		}
		pool, err = db.Open(ctx, dbURL, db.Options{
			MaxConns:        int32(config.Int("DB_MAX_CONNS", 10)),
			MaxConnLifetime: config.Duration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
		})
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()
		store = storage.NewRepository(pool)
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	default:
		logger.Error("unknown STORE_DRIVER", "driver", driver)
		panic("unknown STORE_DRIVER " + driver)
	}

	storeTimeout := config.Duration("STORE_TIMEOUT", 3*time.Second)
	slots := availability.NewService(availability.Config{
		Store:        store,
		Policies:     policy.NewProvider(defaults, store),
		Metrics:      m,
		Logger:       logger,
		StoreTimeout: storeTimeout,
	})
	rp := reaper.New(store, logger, m, nil)

	var checker quota.Checker = quota.Unlimited{}
	monthly := quota.NewMonthlyLimit(store, config.Int("FREE_MONTHLY_BOOKINGS", quota.DefaultFreeMonthlyBookings), logger)
	if config.Bool("QUOTA_ENABLED", true) {
		checker = monthly
	}
	mgr := reservation.NewManager(reservation.Config{
		Store:             store,
		Slots:             slots,
		Quota:             checker,
		Sweeper:           rp,
		Metrics:           m,
		Logger:            logger,
		StoreTimeout:      storeTimeout,
		InlineReapTimeout: config.Duration("INLINE_REAP_TIMEOUT", time.Second),
	})

	if config.Bool("REAPER_ENABLED", true) {
		scheduler, err := reaper.NewScheduler(rp, logger,
			config.String("REAPER_SCHEDULE", reaper.DefaultSchedule),
			config.Duration("REAPER_TIMEOUT", 30*time.Second))
		if err != nil {
			logger.Error("reaper schedule invalid", "err", err)
			panic(err)
		}
		go scheduler.Run(ctx)
	}

	if pool != nil {
		publisher := outbox.NewPublisher(pool, outbox.NewRepository(), logger, m, outbox.PublisherConfig{
			Brokers:   brokers,
			PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
			BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
		})
		go publisher.Run(ctx)

		topic := strings.TrimSpace(config.String("KAFKA_CONSUME_TOPIC", "billing.subscription.activated.v1"))
		if len(brokers) > 0 && topic != "" {
			subscriptions := consumer.New(logger, inbox.NewRepository(pool), consumer.Config{
				Brokers: brokers,
				GroupID: config.String("KAFKA_GROUP_ID", "booking-service"),
				Topic:   topic,
			}, monthly.HandleSubscriptionEvent)
			go subscriptions.Run(ctx)
		}
	}

	limiter := localOrRedisLimiter(ctx, logger, &checks)

	api := http.NewServeMux()
	handlers.Register(api, handlers.Deps{
		Slots:        slots,
		Reservations: mgr,
		Sweeper:      rp,
		Logger:       logger,
		JWTSecret:    config.String("JWT_SECRET", ""),
		ReapToken:    config.String("REAP_TOKEN", ""),
	})

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/api/", httpx.Chain(api, limiter))
	mux.Handle("/internal/", api)

	httpHandler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS", ""),
			MaxAge:         config.Duration("CORS_MAX_AGE", 10*time.Minute),
		}),
		httpx.WithBodyLimit(int64(config.Int("MAX_BODY_BYTES", 64<<10))),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 15*time.Second)),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpcx.NewServer(logger)
	grpcServer.SetServing(service, true)
	go func() {
		if err := grpcServer.Serve(ctx, ":"+grpcPort); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "store", config.String("STORE_DRIVER", "postgres"))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	grpcServer.SetServing(service, false)
	if err := runtime.Shutdown(10*time.Second, srv.Shutdown); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// brokerChecks gates readiness on Kafka only when brokers are configured; a
// deployment without Kafka keeps its outbox rows unpublished and stays ready.
func brokerChecks(brokers []string) []runtime.ReadyCheck {
	if len(brokers) == 0 {
		return nil
	}
	return []runtime.ReadyCheck{{Name: "kafka", Check: kafkax.ReadyCheck(brokers)}}
}

// localOrRedisLimiter shares the public API budget across replicas through
// Redis when REDIS_ADDR is set and falls back to a per-process limiter.
func localOrRedisLimiter(ctx context.Context, logger *slog.Logger, checks *[]runtime.ReadyCheck) httpx.Middleware {
	limit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if limit <= 0 {
		return nil
	}
	addr := strings.TrimSpace(config.String("REDIS_ADDR", ""))
	if addr == "" {
		return httpx.NewRateLimiter(limit, time.Minute).Middleware()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       config.Int("REDIS_DB", 0),
	})
	go func() {
		<-ctx.Done()
		_ = rdb.Close()
	}()
	*checks = append(*checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}})
	return httpx.NewRedisRateLimiter(rdb, limit, time.Minute, "booking").Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
}
