package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	cacheadapter "github.com/thebiggive/matchbot-sub000/internal/adapters/cache"
	eventadapter "github.com/thebiggive/matchbot-sub000/internal/adapters/events"
	grpcadapter "github.com/thebiggive/matchbot-sub000/internal/adapters/grpc"
	httpadapter "github.com/thebiggive/matchbot-sub000/internal/adapters/http"
	"github.com/thebiggive/matchbot-sub000/internal/adapters/memory"
	"github.com/thebiggive/matchbot-sub000/internal/adapters/postgres"
	"github.com/thebiggive/matchbot-sub000/internal/application"
	"github.com/thebiggive/matchbot-sub000/internal/matching"
	"github.com/thebiggive/matchbot-sub000/internal/ports"
)

type worker interface {
	Run(ctx context.Context) error
}

// Runtime owns every long-lived dependency of one process.
type Runtime struct {
	cfg       Config
	logger    *slog.Logger
	service   *application.Service
	outbox    ports.OutboxRepository
	checks    map[string]httpadapter.ReadinessCheck
	closers   []func() error
	publisher ports.EventPublisher
}

type storage struct {
	uow         ports.UnitOfWork
	fundings    ports.CampaignFundingRepository
	withdrawals ports.WithdrawalRepository
	donations   ports.DonationRepository
	campaigns   ports.CampaignRepository
	outbox      ports.OutboxRepository
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("bootstrapping matching service",
		"service", cfg.ServiceID,
		"storage_driver", cfg.StorageDriver,
		"balance_store_driver", cfg.BalanceStoreDriver,
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
	)

	rt := &Runtime{cfg: cfg, logger: logger, checks: map[string]httpadapter.ReadinessCheck{}}

	store, err := rt.openStorage(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}
	balances, err := rt.openBalanceStore(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}
	publisher, err := rt.openPublisher()
	if err != nil {
		rt.Close()
		return nil, err
	}

	adapter := matching.NewAdapter(balances, logger, matching.Config{
		MaxAttempts: cfg.MatchingMaxAttempts,
		BackoffBase: cfg.MatchingBackoff,
	})
	rt.service = application.NewService(application.Dependencies{
		Config: application.Config{
			MatchExpiry:         cfg.MatchExpiry,
			SweepBatchSize:      cfg.SweepBatchSize,
			CompensationTimeout: cfg.CompensationTimeout,
			ReconcilePageSize:   cfg.ReconcilePageSize,
		},
		Logger:      logger,
		UnitOfWork:  store.uow,
		Fundings:    store.fundings,
		Withdrawals: store.withdrawals,
		Donations:   store.donations,
		Campaigns:   store.campaigns,
		Outbox:      store.outbox,
		Matching:    adapter,
	})
	rt.outbox = store.outbox
	rt.publisher = publisher
	return rt, nil
}

func (r *Runtime) openStorage(ctx context.Context) (storage, error) {
	if r.cfg.StorageDriver == DriverMemory {
		r.logger.Warn("using in-memory storage; ledger is lost on exit")
		mem := memory.NewStore()
		repos := mem.Repositories()
		return storage{
			uow:         mem,
			fundings:    repos.Fundings,
			withdrawals: repos.Withdrawals,
			donations:   repos.Donations,
			campaigns:   mem.Campaigns(),
			outbox:      repos.Outbox,
		}, nil
	}

	db, err := postgres.Connect(ctx, r.cfg.DatabaseURL, r.cfg.MaxDBConns)
	if err != nil {
		return storage{}, fmt.Errorf("connect postgres: %w", err)
	}
	r.closers = append(r.closers, func() error { return postgres.Close(db) })
	if err := postgres.RunMigrations(ctx, db); err != nil {
		return storage{}, fmt.Errorf("run migrations: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return storage{}, fmt.Errorf("gorm sql db: %w", err)
	}
	r.checks["postgres"] = sqlDB.PingContext

	repos := postgres.NewRepositories(db)
	return storage{
		uow:         repos.UnitOfWork,
		fundings:    repos.Fundings,
		withdrawals: repos.Withdrawals,
		donations:   repos.Donations,
		campaigns:   repos.Campaigns,
		outbox:      repos.Outbox,
	}, nil
}

func (r *Runtime) openBalanceStore(ctx context.Context) (ports.BalanceStore, error) {
	if r.cfg.BalanceStoreDriver == DriverMemory {
		r.logger.Warn("using in-memory balance store; reservations are not shared between processes")
		return cacheadapter.NewMemoryBalanceStore(), nil
	}
	client, err := cacheadapter.Connect(ctx, r.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	r.closers = append(r.closers, client.Close)
	r.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	return cacheadapter.NewRedisBalanceStore(client, r.cfg.BalanceTTL), nil
}

func (r *Runtime) openPublisher() (ports.EventPublisher, error) {
	if len(r.cfg.KafkaBrokers) == 0 {
		r.logger.Warn("no kafka brokers configured; outbox events are only logged")
		return eventadapter.NewLoggingPublisher(r.logger), nil
	}
	publisher, err := eventadapter.NewKafkaPublisher(r.cfg.KafkaBrokers, r.cfg.KafkaTopicByEvent)
	if err != nil {
		return nil, fmt.Errorf("init kafka publisher: %w", err)
	}
	r.closers = append(r.closers, publisher.Close)
	return publisher, nil
}

func (r *Runtime) Service() *application.Service { return r.service }

func (r *Runtime) Logger() *slog.Logger { return r.logger }

// Close releases connections in reverse order of opening.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.logger.Warn("close dependency failed", "error", err)
		}
	}
	r.closers = nil
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer r.Close()

	router := httpadapter.NewRouter(httpadapter.NewHandler(r.service, r.checks))
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", r.cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	grpcadapter.Register(grpcServer, grpcadapter.NewMatchingInternalServer(r.service))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen gRPC: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		r.logger.Info("http server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("grpc server started", "addr", lis.Addr().String())
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		r.logger.Error("server failure", "error", runErr)
	}

	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	return runErr
}

// RunWorker runs the outbox publisher, the event consumer and every sweep until shutdown.
func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer r.Close()

	consumer, err := r.openConsumer()
	if err != nil {
		return err
	}

	workers := map[string]worker{
		"outbox": eventadapter.NewOutboxWorker(r.logger, r.outbox, r.publisher,
			r.cfg.OutboxPollInterval, r.cfg.OutboxBatchSize, r.cfg.OutboxClaimTTL, r.cfg.OutboxMaxRetries),
		"consumer":     eventadapter.NewConsumerWorker(r.logger, consumer, r.service, r.cfg.ConsumerPollInterval),
		"expiry":       eventadapter.NewExpiryWorker(r.logger, r.service, r.cfg.ExpirySweepInterval),
		"reallocation": eventadapter.NewReallocationWorker(r.logger, r.service, r.cfg.ReallocationInterval, r.cfg.ReallocationLookback, nil),
		"over_match":   eventadapter.NewOverMatchWorker(r.logger, r.service, r.cfg.OverMatchInterval),
		"reconcile":    eventadapter.NewReconcileWorker(r.logger, r.service, r.cfg.ReconcileInterval, r.cfg.ReconcileResetCache),
	}

	g, gctx := errgroup.WithContext(ctx)
	for name, w := range workers {
		name, w := name, w
		g.Go(func() error {
			r.logger.Info("worker started", "worker", name)
			if err := w.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s worker: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *Runtime) openConsumer() (eventadapter.Consumer, error) {
	if len(r.cfg.KafkaBrokers) == 0 {
		return eventadapter.NewNoopConsumer(), nil
	}
	consumer, err := eventadapter.NewKafkaConsumer(r.cfg.KafkaBrokers, r.cfg.KafkaGroupID, eventadapter.ConsumedTopics())
	if err != nil {
		return nil, fmt.Errorf("init kafka consumer: %w", err)
	}
	r.closers = append(r.closers, consumer.Close)
	return consumer, nil
}
