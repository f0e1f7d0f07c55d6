package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/platform/config"
	"github.com/hanko-field/storefront/internal/platform/observability"
	"github.com/hanko-field/storefront/internal/repositories"
	"github.com/hanko-field/storefront/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders        services.OrderService
	Inventory     services.InventoryService
	Designs       services.DesignApprovalService
	Audit         services.AuditLogService
	System        services.SystemService
	Notifications *services.NotificationDispatcher
}

// Adapters carries the external integrations resolved by the caller. Every field is optional:
// a nil Payments disables reservations, a nil Notifier drops notifications, a nil Assets
// accepts only pre-uploaded asset references and a nil AuditLogs keeps the audit trail in the
// primary store.
type Adapters struct {
	Payments     payments.Gateway
	Notifier     services.Notifier
	Assets       services.DesignAssetStore
	AuditLogs    repositories.AuditLogRepository
	HealthChecks []repositories.DependencyCheck
	Build        services.BuildInfo
	Logger       *zap.Logger
	Clock        func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides the Postgres
// registry while tests can supply the in-memory store.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, adapters Adapters) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, adapters)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close waits for in-flight notification dispatches to drain.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.Services.Notifications.Wait(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, adapters Adapters) (Services, error) {
	var svc Services

	clock := adapters.Clock
	if clock == nil {
		clock = time.Now
	}
	baseLogger := adapters.Logger
	if baseLogger == nil {
		baseLogger = zap.NewNop()
	}
	logger := observability.EventLogger(baseLogger)

	gateway := adapters.Payments
	if gateway == nil {
		gateway = payments.NewDisabledGateway(cfg.PSP.SigningSecret)
	}

	auditRepo := adapters.AuditLogs
	if auditRepo == nil {
		auditRepo = reg.AuditLogs()
	}
	auditSvc, err := services.NewAuditLogService(services.AuditLogServiceDeps{
		Repository: auditRepo,
		Clock:      clock,
		Logger:     logger,
		HashSalt:   cfg.Audit.IPHashSalt,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build audit log service: %w", err)
	}
	svc.Audit = auditSvc

	dispatcher, err := services.NewNotificationDispatcher(services.NotificationDispatcherDeps{
		Notifier: adapters.Notifier,
		Timeout:  cfg.Notifications.DispatchTimeout,
		Clock:    clock,
		Logger:   logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build notification dispatcher: %w", err)
	}
	svc.Notifications = dispatcher

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Inventory: reg.Inventory(),
		Audit:     svc.Audit,
		Clock:     clock,
		Logger:    logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventorySvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:             reg.Orders(),
		Products:           reg.Inventory(),
		Inventory:          svc.Inventory,
		DesignApprovals:    reg.DesignApprovals(),
		UnitOfWork:         reg,
		Payments:           gateway,
		Audit:              svc.Audit,
		Notifications:      dispatcher,
		Clock:              clock,
		Logger:             logger,
		DefaultCurrency:    cfg.PSP.DefaultCurrency,
		ReservationTimeout: cfg.PSP.ReservationTimeout,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	designSvc, err := services.NewDesignApprovalService(services.DesignApprovalServiceDeps{
		Approvals:     reg.DesignApprovals(),
		Orders:        reg.Orders(),
		Assets:        adapters.Assets,
		UnitOfWork:    reg,
		Audit:         svc.Audit,
		Notifications: dispatcher,
		Clock:         clock,
		Logger:        logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build design approval service: %w", err)
	}
	svc.Designs = designSvc

	if len(adapters.HealthChecks) > 0 {
		healthRepo, err := repositories.NewDependencyHealthRepository(adapters.HealthChecks, repositories.WithDependencyClock(clock))
		if err != nil {
			return Services{}, fmt.Errorf("build health repository: %w", err)
		}
		build := adapters.Build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
