package bootstrap

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	inventoryservice "meridian/contexts/inventory/inventory-service"
	notificationservice "meridian/contexts/notifications/notification-service"
	ordersaga "meridian/contexts/ordering/order-saga"
	sagagorm "meridian/contexts/ordering/order-saga/adapters/gormstore"
	sagamemory "meridian/contexts/ordering/order-saga/adapters/memory"
	sagaports "meridian/contexts/ordering/order-saga/ports"
	paymentservice "meridian/contexts/payments/payment-service"
	"meridian/contexts/payments/payment-service/adapters/gateway"
	paymentgorm "meridian/contexts/payments/payment-service/adapters/gormstore"
	paymentmemory "meridian/contexts/payments/payment-service/adapters/memory"
	paymentports "meridian/contexts/payments/payment-service/ports"
	"meridian/internal/platform/config"
	"meridian/internal/platform/db"
	"meridian/internal/platform/messaging"
	"meridian/internal/platform/observability"
	"meridian/internal/platform/resilience"
	"meridian/internal/shared/events"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

// defaultStockSeed backs the in-memory inventory until a real stock source
// is wired.
var defaultStockSeed = map[string]int{
	"SKU-STD": 1000,
	"SKU-LTD": 25,
}

type WorkerApp struct {
	bus     messaging.Bus
	conn    *db.Conn
	saga    ordersaga.Module
	payment paymentservice.Module

	pollInterval time.Duration
	logger       *slog.Logger
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "worker")
	metrics, err := observability.NewOTel(otel.Meter("meridian"))
	if err != nil {
		return nil, err
	}

	var conn *db.Conn
	switch cfg.SagaStoreDriver {
	case config.StoreDriverPostgres:
		conn, err = db.Connect(db.WithPostgresDSN(cfg.PostgresDSN))
	case config.StoreDriverSQLite:
		conn, err = db.Connect(db.WithSQLitePath(cfg.SQLitePath))
	}
	if err != nil {
		return nil, err
	}

	var sink messaging.DeadLetterSink
	if conn != nil {
		sink, err = messaging.NewGormDeadLetterSink(conn.DB)
		if err != nil {
			return nil, err
		}
	} else {
		sink = messaging.NewMemoryDeadLetterSink()
	}

	var bus messaging.Bus
	switch cfg.BusDriver {
	case config.BusDriverKafka:
		bus = messaging.NewKafkaBus(cfg.KafkaBrokers,
			messaging.WithKafkaMetrics(metrics),
			messaging.WithKafkaLogger(logger),
		)
	default:
		bus = messaging.NewInProcessBus(
			messaging.WithDeadLetterSink(sink),
			messaging.WithMetrics(metrics),
			messaging.WithLogger(logger),
		)
	}

	publisher := messaging.RetryingPublisher{
		Next:            bus,
		MaxRetries:      cfg.PublishMaxRetries,
		InitialInterval: cfg.PublishInitialBackoff,
		MaxInterval:     cfg.PublishMaxBackoff,
		Logger:          logger,
	}

	var sagaStore sagaports.SagaStore
	if conn != nil {
		sagaStore, err = sagagorm.NewStore(conn.DB)
		if err != nil {
			return nil, err
		}
	} else {
		sagaStore = sagamemory.NewStore()
	}

	sagaModule := ordersaga.NewModule(ordersaga.Dependencies{
		Store:       sagaStore,
		Publisher:   publisher,
		Clock:       sagamemory.SystemClock{},
		Metrics:     metrics,
		SagaTimeout: cfg.SagaTimeout,
		Logger:      logger,
	})

	breaker := resilience.New("payment-gateway", resilience.Config{
		ConsecutiveFailures:  cfg.BreakerConsecutiveFailures,
		FailureRateThreshold: cfg.BreakerFailureRate,
		WindowSize:           cfg.BreakerWindowSize,
		OpenDuration:         cfg.BreakerOpenDuration,
		HalfOpenTrials:       cfg.BreakerHalfOpenTrials,
	},
		resilience.WithBreakerLogger(logger),
		resilience.WithOnStateChange(func(name string, from, to resilience.State) {
			metrics.BreakerTransition(name, from.String(), to.String())
		}),
	)

	var dedup paymentports.EventDedupStore
	var retryQueue paymentports.RetryQueue
	if conn != nil {
		paymentStore, err := paymentgorm.NewStore(conn.DB)
		if err != nil {
			return nil, err
		}
		dedup, retryQueue = paymentStore, paymentStore
	} else {
		paymentStore := paymentmemory.NewStore()
		dedup, retryQueue = paymentStore, paymentStore
	}

	paymentModule := paymentservice.NewModule(paymentservice.Dependencies{
		Gateway:       gateway.NewGuarded(gateway.NewStub(), breaker),
		Dedup:         dedup,
		Retry:         retryQueue,
		Publisher:     publisher,
		Clock:         paymentmemory.SystemClock{},
		RetryInterval: cfg.PaymentRetryInterval,
		Logger:        logger,
	})

	inventoryModule := inventoryservice.NewInMemoryModule(defaultStockSeed, publisher, logger)
	notificationModule := notificationservice.NewInMemoryModule(publisher, logger)

	subscriptions := []struct {
		topic   string
		group   string
		handler messaging.Handler
	}{
		{events.TopicOrders, ordersaga.ConsumerGroup, sagaModule.Orchestrator.HandleEvent},
		{events.TopicInventory, ordersaga.ConsumerGroup, sagaModule.Orchestrator.HandleEvent},
		{events.TopicPayments, ordersaga.ConsumerGroup, sagaModule.Orchestrator.HandleEvent},
		{events.TopicInventory, inventoryservice.ConsumerGroup, inventoryModule.Service.HandleEvent},
		{events.TopicPayments, paymentservice.ConsumerGroup, paymentModule.Service.HandleEvent},
		{events.TopicOrders, notificationservice.ConsumerGroup, notificationModule.Service.HandleEvent},
		{events.TopicPayments, notificationservice.ConsumerGroup, notificationModule.Service.HandleEvent},
		{events.TopicUsers, notificationservice.ConsumerGroup, notificationModule.Service.HandleEvent},
	}
	for _, sub := range subscriptions {
		if err := bus.Subscribe(sub.topic, sub.group, "worker", sub.handler); err != nil {
			return nil, err
		}
	}

	return &WorkerApp{
		bus:          bus,
		conn:         conn,
		saga:         sagaModule,
		payment:      paymentModule,
		pollInterval: cfg.TimeoutScanInterval,
		logger:       logger,
	}, nil
}

func (w *WorkerApp) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"poll_interval", w.pollInterval.String(),
	)

	for {
		if err := w.saga.TimeoutScanner.RunOnce(ctx); err != nil {
			return err
		}
		if err := w.payment.RetryRelay.RunOnce(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *WorkerApp) Close() error {
	if err := w.bus.Close(); err != nil {
		return err
	}
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}
