package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/di"
	"github.com/hanko-field/storefront/internal/handlers"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/config"
	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/platform/idempotency"
	"github.com/hanko-field/storefront/internal/platform/messaging"
	"github.com/hanko-field/storefront/internal/platform/observability"
	"github.com/hanko-field/storefront/internal/platform/secrets"
	platformstorage "github.com/hanko-field/storefront/internal/platform/storage"
	"github.com/hanko-field/storefront/internal/repositories"
	firestoreRepo "github.com/hanko-field/storefront/internal/repositories/firestore"
	"github.com/hanko-field/storefront/internal/repositories/memory"
	"github.com/hanko-field/storefront/internal/repositories/postgres"
	"github.com/hanko-field/storefront/internal/services"
)

const (
	shutdownTimeout     = 15 * time.Second
	auditLogsCollection = "auditLogs"
)

// primaryStore is the registry plus the hooks main needs for readiness and idempotency.
type primaryStore struct {
	registry repositories.Registry
	ping     func(context.Context) error
	db       *sql.DB
}

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	level, _ := config.Lookup("API_LOG_LEVEL")
	baseLogger, err := observability.NewLogger(level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	projectID, _ := config.Lookup("API_SECRETS_PROJECT_ID")
	if projectID == "" {
		projectID, _ = config.Lookup("API_FIREBASE_PROJECT_ID")
	}
	fetcher, err := secrets.NewFetcher(ctx,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(projectID),
	)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			logger.Fatal("invalid configuration", zap.Strings("fields", validation.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(cfg, startedAt)

	store, err := openPrimaryStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise primary store", zap.Error(err))
	}
	if store.db != nil {
		defer func() {
			if err := store.db.Close(); err != nil {
				logger.Warn("database close error", zap.Error(err))
			}
		}()
	}

	healthChecks := []repositories.DependencyCheck{{Name: "database", Critical: true, Check: store.ping}}

	adapters := di.Adapters{
		Build:  buildInfo,
		Logger: logger,
	}

	if cfg.Audit.Backend == config.AuditBackendFirestore {
		firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
		defer func() {
			if err := firestoreProvider.Close(); err != nil {
				logger.Warn("firestore close error", zap.Error(err))
			}
		}()
		auditRepo, err := firestoreRepo.NewAuditLogRepository(firestoreProvider)
		if err != nil {
			logger.Fatal("failed to initialise firestore audit repository", zap.Error(err))
		}
		adapters.AuditLogs = auditRepo
		healthChecks = append(healthChecks, repositories.DependencyCheck{
			Name: "audit",
			Check: func(ctx context.Context) error {
				return firestoreProvider.Ping(ctx, auditLogsCollection)
			},
		})
	}

	adapters.Payments, err = newPaymentGateway(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise payment gateway", zap.Error(err))
	}

	notifier, closeNotifier, err := newNotifier(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise notifier", zap.Error(err))
	}
	defer func() {
		if err := closeNotifier(); err != nil {
			logger.Warn("notifier close error", zap.Error(err))
		}
	}()
	adapters.Notifier = notifier

	if bucket := strings.TrimSpace(cfg.Storage.DesignsBucket); bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		assets, err := platformstorage.NewDesignAssetStore(platformstorage.DesignAssetStoreOptions{
			Bucket:  bucket,
			Prefix:  cfg.Storage.ObjectPrefix,
			Writer:  platformstorage.GCSWriterFactory(storageClient),
			Deleter: platformstorage.GCSDeleter(storageClient),
		})
		if err != nil {
			logger.Fatal("failed to initialise design asset store", zap.Error(err))
		}
		adapters.Assets = assets
	}
	adapters.HealthChecks = healthChecks

	container, err := di.NewContainer(ctx, cfg, store.registry, adapters)
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	var idempotencyStore idempotency.Store = idempotency.NewMemoryStore()
	if store.db != nil {
		idempotencyStore = idempotency.NewPostgresStore(store.db)
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	cleanupDone := make(chan struct{})
	go func() {
		defer close(cleanupDone)
		idempotency.RunCleanup(cleanupCtx, idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	}()

	svc := container.Services
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders, svc.Designs,
		handlers.WithAuthenticatedMiddlewares(idempotencyMiddleware),
	)
	designHandlers := handlers.NewDesignHandlers(authenticator, svc.Designs)
	adminHandlers := handlers.NewAdminHandlers(handlers.AdminDeps{
		Authenticator: authenticator,
		Orders:        svc.Orders,
		Designs:       svc.Designs,
		Inventory:     svc.Inventory,
		Audit:         svc.Audit,
	})
	webhookHandlers := handlers.NewPaymentWebhookHandlers(svc.Orders)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthSystemService(svc.System),
		handlers.WithHealthBuildInfo(buildInfo),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.TraceMiddleware(cfg.Firebase.ProjectID),
			observability.InjectLoggerMiddleware(logger),
			observability.ProvenanceMiddleware,
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithOrderItemRoutes(designHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http")
	go func() {
		serverLogger.Info("http server listening",
			zap.String("addr", server.Addr),
			zap.String("environment", cfg.Security.Environment),
			zap.String("version", buildInfo.Version),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	cleanupCancel()
	<-cleanupDone

	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("notification dispatch did not drain", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func openPrimaryStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (primaryStore, error) {
	if cfg.Database.InMemory() {
		logger.Warn("using in-memory store; data is lost on restart")
		mem := memory.NewStore()
		return primaryStore{registry: mem, ping: mem.Ping}, nil
	}

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return primaryStore{}, err
	}
	if cfg.Database.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return primaryStore{}, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("database schema applied")
	}
	pg, err := postgres.NewStore(db)
	if err != nil {
		_ = db.Close()
		return primaryStore{}, err
	}
	return primaryStore{registry: pg, ping: pg.Ping, db: db}, nil
}

func newPaymentGateway(cfg config.Config, logger *zap.Logger) (payments.Gateway, error) {
	if strings.TrimSpace(cfg.PSP.StripeAPIKey) == "" {
		logger.Warn("payments: no provider configured; reservations are skipped")
		return payments.NewDisabledGateway(cfg.PSP.SigningSecret), nil
	}
	return payments.NewStripeGateway(payments.StripeGatewayConfig{
		APIKey:        cfg.PSP.StripeAPIKey,
		SigningSecret: cfg.PSP.SigningSecret,
		Logger:        observability.EventLogger(logger.Named("payments")),
		Clock:         time.Now,
	})
}

func newNotifier(ctx context.Context, cfg config.Config) (services.Notifier, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Notifications.Backend {
	case config.NotifyBackendPubSub:
		client, err := pubsub.NewClient(ctx, cfg.Notifications.PubSubProjectID)
		if err != nil {
			return nil, noop, fmt.Errorf("pubsub client: %w", err)
		}
		topic := client.Topic(cfg.Notifications.PubSubTopic)
		notifier, err := messaging.NewPubSubNotifier(topic)
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		return notifier, func() error {
			topic.Stop()
			return client.Close()
		}, nil
	case config.NotifyBackendAMQP:
		notifier, err := messaging.DialAMQPNotifier(cfg.Notifications.AMQPURL, cfg.Notifications.AMQPExchange)
		if err != nil {
			return nil, noop, err
		}
		return notifier, notifier.Close, nil
	default:
		return services.NoopNotifier{}, noop, nil
	}
}

func buildInfoFromEnv(cfg config.Config, started time.Time) services.BuildInfo {
	lookup := func(keys ...string) string {
		for _, key := range keys {
			if value, _ := config.Lookup(key); value != "" {
				return value
			}
		}
		return ""
	}
	version := lookup("API_BUILD_VERSION", "K_REVISION")
	if version == "" {
		version = "dev"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   lookup("API_BUILD_COMMIT_SHA", "COMMIT_SHA"),
		Environment: cfg.Security.Environment,
		StartedAt:   started,
	}
}
