package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"drivesched/backend/internal/cache"
	"drivesched/backend/internal/config"
	"drivesched/backend/internal/events"
	"drivesched/backend/internal/service/availability"
	"drivesched/backend/internal/service/bookings"
	"drivesched/backend/internal/store"
	"drivesched/backend/internal/store/memory"
	"drivesched/backend/internal/store/mongostore"
	"drivesched/backend/internal/store/postgres"
	"drivesched/backend/internal/telemetry"
	grpcTransport "drivesched/backend/internal/transport/grpc"
)

const serviceName = "drivesched-server"

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", serviceName),
	)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", serviceName),
	)
	slog.SetDefault(log)

	log.Info("starting",
		slog.String("grpc_addr", cfg.GRPCAddr()),
		slog.String("log_level", cfg.LogLevel),
		slog.String("store_driver", cfg.StoreDriver),
		slog.String("ledger_driver", cfg.LedgerDriver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TracingConfig{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  serviceName,
		OTLPEndpoint: cfg.OTelEndpoint,
		SampleRatio:  cfg.OTelSampleRatio,
	})
	if err != nil {
		log.Error("tracing setup failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("tracing shutdown failed", slog.Any("err", err))
		}
	}()

	backends, cleanup, err := openBackends(ctx, log, cfg)
	if err != nil {
		log.Error("backend setup failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer cleanup()

	publisher := events.NewPublisher(events.KafkaConfig{
		Brokers:      cfg.KafkaBrokers,
		WriteTimeout: cfg.KafkaWriteTimeout,
		QueueSize:    cfg.KafkaQueueSize,
	}, log)
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Warn("event publisher close failed", slog.Any("err", err))
		}
	}()

	engineOpts := []availability.EngineOption{
		availability.WithGranularity(cfg.SlotGranularityMinutes),
		availability.WithLogger(log),
	}
	windowOpts := []availability.ServiceOption{
		availability.WithEvents(publisher),
		availability.WithServiceLogger(log),
	}
	bookingOpts := []bookings.Option{
		bookings.WithWindowPolicy(cfg.BookingRequireWindow),
		bookings.WithEvents(publisher),
		bookings.WithLogger(log),
	}
	if backends.cache != nil {
		engineOpts = append(engineOpts, availability.WithCache(backends.cache))
		windowOpts = append(windowOpts, availability.WithInvalidator(backends.cache))
		bookingOpts = append(bookingOpts, bookings.WithInvalidator(backends.cache))
	}

	engine, err := availability.NewEngine(backends.windows, backends.ledger, engineOpts...)
	if err != nil {
		log.Error("engine setup failed", slog.Any("err", err))
		os.Exit(1)
	}
	windowSvc := availability.NewService(backends.windows, windowOpts...)
	checker := availability.NewConflictChecker(backends.ledger)
	bookingSvc := bookings.NewService(backends.ledger, windowSvc, bookingOpts...)

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(defaultRequestTimeoutInterceptor(cfg.GRPCRequestTimeout)),
	)
	grpcTransport.RegisterAvailabilityServiceServer(grpcServer, grpcTransport.NewAvailabilityServer(windowSvc, engine, checker, bookingSvc, log))

	lis, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		log.Error("grpc listen failed", slog.Any("err", err), slog.String("grpc_addr", cfg.GRPCAddr()))
		os.Exit(1)
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- grpcServer.Serve(lis)
	}()
	log.Info("grpc server started", slog.String("grpc_addr", cfg.GRPCAddr()))

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           telemetry.MetricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		log.Info("metrics server started", slog.String("metrics_addr", cfg.MetricsAddr))
	}

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("server stopped with error", slog.Any("err", err))
		}
	}

	if metricsServer != nil {
		mctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		if err := metricsServer.Shutdown(mctx); err != nil {
			log.Warn("metrics server shutdown failed", slog.Any("err", err))
		}
		cancel()
	}
	shutdown(log, grpcServer, cfg.ShutdownTimeout)
}

type backends struct {
	windows store.AvailabilityRepository
	ledger  store.BookingRepository
	cache   *cache.Availability
}

// openBackends connects the stores selected by cfg. The returned cleanup closes them in reverse order.
func openBackends(ctx context.Context, log *slog.Logger, cfg config.Config) (backends, func(), error) {
	var (
		b       backends
		closers []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var mem *memory.Store
	if cfg.StoreDriver == "memory" || cfg.LedgerDriver == "memory" {
		mem = memory.New()
		log.Warn("using in-memory storage; data is lost on restart")
	}

	var repo *postgres.ScheduleRepo
	if cfg.StoreDriver == "postgres" || cfg.LedgerDriver == "postgres" {
		log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
		db, err := postgres.Open(cfg.DatabaseURL, postgres.PoolConfig{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnMaxLifetime,
			ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
		})
		if err != nil {
			args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
			log.Error("database connection failed", args...)
			return backends{}, cleanup, err
		}
		closers = append(closers, func() {
			if err := postgres.Close(db); err != nil {
				log.Warn("database close failed", slog.Any("err", err))
			}
		})
		repo = postgres.NewScheduleRepo(db)
	}

	switch cfg.StoreDriver {
	case "memory":
		b.windows = mem
	default:
		b.windows = repo
	}

	switch cfg.LedgerDriver {
	case "memory":
		b.ledger = mem
	case "mongo":
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		client, err := mongostore.Connect(cctx, cfg.MongoURL)
		if err != nil {
			cleanup()
			return backends{}, func() {}, err
		}
		closers = append(closers, func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(dctx); err != nil {
				log.Warn("mongo disconnect failed", slog.Any("err", err))
			}
		})
		ledger := mongostore.New(client.Database(cfg.MongoDatabase), mongostore.Options{LockTTL: cfg.MongoLockTTL})
		if err := ledger.EnsureIndexes(cctx); err != nil {
			cleanup()
			return backends{}, func() {}, err
		}
		log.Info("mongo booking ledger ready", slog.String("mongo_database", cfg.MongoDatabase))
		b.ledger = ledger
	default:
		b.ledger = repo
	}

	if cfg.RedisAddr != "" {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		rdb, err := cache.Connect(cctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			cleanup()
			return backends{}, func() {}, err
		}
		closers = append(closers, func() {
			if err := rdb.Close(); err != nil {
				log.Warn("redis close failed", slog.Any("err", err))
			}
		})
		b.cache = cache.NewAvailability(rdb, cfg.CacheTTL, log)
		log.Info("availability cache enabled", slog.String("redis_addr", cfg.RedisAddr), slog.Duration("ttl", cfg.CacheTTL))
	}

	return b, cleanup, nil
}

func defaultRequestTimeoutInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := ctx.Deadline(); ok {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return handler(ctx, req)
	}
}

func shutdown(log *slog.Logger, s *grpc.Server, timeout time.Duration) {
	log.Info("shutting down grpc server", slog.Duration("timeout", timeout))

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		log.Info("grpc server stopped")
	case <-timer.C:
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		s.Stop()
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}
