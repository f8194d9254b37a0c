package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/panierapp/api/internal/payments"
	"github.com/panierapp/api/internal/platform/auth"
	"github.com/panierapp/api/internal/platform/config"
	"github.com/panierapp/api/internal/repositories"
	"github.com/panierapp/api/internal/services"
)

// Repositories bundles the persistence-layer contracts required to assemble
// the service graph. Production wiring supplies Firestore-backed
// implementations, while tests can inject in-memory fakes.
type Repositories struct {
	Users          repositories.UserRepository
	Addresses      repositories.AddressRepository
	PaymentMethods repositories.PaymentMethodRepository
	Carts          repositories.CartRepository
	Orders         repositories.OrderRepository
	AuditLogs      repositories.AuditLogRepository
	Counters       repositories.CounterRepository
	Health         repositories.HealthRepository
	UnitOfWork     repositories.UnitOfWork
}

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Ingest   services.IngestService
	Cart     services.CartService
	Checkout services.CheckoutService
	Orders   services.OrderService
	Users    services.UserService
	System   services.SystemService
	Audit    services.AuditLogService
	Jobs     services.BackgroundJobDispatcher
}

// Deps collects external collaborators that cannot be derived from
// configuration alone.
type Deps struct {
	Repos           Repositories
	Payments        *payments.Manager
	PaymentVerifier services.PaymentMethodVerifier
	TaskPublisher   services.TaskPublisher
	Firebase        auth.UserGetter
	Build           services.BuildInfo
	Clock           func() time.Time
	Logger          *zap.Logger
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories Repositories
	Services     Services
}

// NewContainer assembles the service graph from configuration and injected
// collaborators. Optional features that lack their dependency (e.g. a task
// publisher) degrade to disabled rather than failing construction.
func NewContainer(cfg config.Config, deps Deps) (*Container, error) {
	if deps.Repos.Carts == nil || deps.Repos.Orders == nil {
		return nil, errors.New("di: cart and order repositories are required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	svc, err := buildServices(cfg, deps, clock, logger)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: deps.Repos,
		Services:     svc,
	}, nil
}

func buildServices(cfg config.Config, deps Deps, clock func() time.Time, logger *zap.Logger) (Services, error) {
	var svc Services
	repos := deps.Repos

	if repos.AuditLogs != nil {
		auditSvc, err := services.NewAuditLogService(services.AuditLogServiceDeps{
			Repository: repos.AuditLogs,
			Clock:      clock,
			Logger:     logger.Named("audit").Sugar(),
			HashSalt:   cfg.Webhooks.SigningSecret,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build audit log service: %w", err)
		}
		svc.Audit = auditSvc
	}

	if deps.TaskPublisher != nil {
		jobsSvc, err := services.NewBackgroundJobDispatcher(services.BackgroundJobDispatcherDeps{
			Publisher: deps.TaskPublisher,
			Clock:     clock,
			Logger:    eventLogger(logger.Named("jobs")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build job dispatcher: %w", err)
		}
		svc.Jobs = jobsSvc
	}

	ingestSvc, err := services.NewIngestService(services.IngestServiceDeps{
		Logger: eventLogger(logger.Named("ingest")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build ingest service: %w", err)
	}
	svc.Ingest = ingestSvc

	cartJobs := svc.Jobs
	if !cfg.Features.EnableImageMirroring {
		cartJobs = nil
	}
	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Repository:      repos.Carts,
		Jobs:            cartJobs,
		Clock:           clock,
		DefaultCurrency: "EUR",
		Logger:          eventLogger(logger.Named("cart")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	checkoutJobs := svc.Jobs
	if !cfg.Features.EnableOrderNotifications {
		checkoutJobs = nil
	}
	checkoutDeps := services.CheckoutServiceDeps{
		Carts:           repos.Carts,
		Orders:          repos.Orders,
		Addresses:       repos.Addresses,
		PaymentMethods:  repos.PaymentMethods,
		Counters:        repos.Counters,
		UnitOfWork:      repos.UnitOfWork,
		Jobs:            checkoutJobs,
		Clock:           clock,
		DefaultCurrency: "EUR",
		Logger:          eventLogger(logger.Named("checkout")),
	}
	if deps.Payments != nil {
		checkoutDeps.Payments = deps.Payments
	}
	checkoutSvc, err := services.NewCheckoutService(checkoutDeps)
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	var events services.OrderEventPublisher
	if checkoutJobs != nil {
		events = notificationEventPublisher{jobs: checkoutJobs}
	}
	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders: repos.Orders,
		Audit:  svc.Audit,
		Clock:  clock,
		Events: events,
		Logger: eventLogger(logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if repos.Users != nil {
		userSvc, err := services.NewUserService(services.UserServiceDeps{
			Users:           repos.Users,
			Addresses:       repos.Addresses,
			PaymentMethods:  repos.PaymentMethods,
			PaymentVerifier: deps.PaymentVerifier,
			Audit:           svc.Audit,
			Firebase:        deps.Firebase,
			Clock:           clock,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build user service: %w", err)
		}
		svc.Users = userSvc
	}

	if repos.Health != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: repos.Health,
			Clock:            clock,
			Build:            deps.Build,
			Audit:            svc.Audit,
			Counters:         repos.Counters,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}

// notificationEventPublisher fans out order lifecycle events through the
// background job queue.
type notificationEventPublisher struct {
	jobs services.BackgroundJobDispatcher
}

func (p notificationEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p.jobs == nil {
		return errors.New("di: job dispatcher unavailable")
	}
	_, err := p.jobs.EnqueueOrderNotification(ctx, services.OrderNotificationPayload{
		OrderID: event.OrderID,
		Event:   strings.TrimSpace(event.Type),
	})
	return err
}

func eventLogger(logger *zap.Logger) func(context.Context, string, map[string]any) {
	if logger == nil {
		return nil
	}
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug("service event", zFields...)
	}
}
