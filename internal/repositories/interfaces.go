// Package repositories declares the persistence contracts consumed by the
// service layer. Implementations live in the firestore subpackage.
package repositories

import (
	"context"
	"time"

	domain "github.com/panierapp/api/internal/domain"
)

// RepositoryError categorises low-level persistence failures so services can
// map them to API error codes without importing driver packages.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a transactional boundary when
// the backing store supports one.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartRepository owns the staged cart header and its items. Writes take an
// optimistic lock so concurrent ingest pushes cannot clobber each other.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	AppendItem(ctx context.Context, userID string, item domain.CartItem, currency string) (domain.Cart, error)
	ReplaceItems(ctx context.Context, userID string, items []domain.CartItem) (domain.Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

// OrderRepository persists submitted orders with their line item snapshots.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderListFilter narrows order listings for both user history and the admin
// review queue.
type OrderListFilter struct {
	UserID     string
	Status     []string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// UserRepository stores user profiles keyed by Firebase UID.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.UserProfile, error)
	UpdateProfile(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error)
}

// AddressRepository stores shipping addresses per user.
type AddressRepository interface {
	List(ctx context.Context, userID string) ([]domain.Address, error)
	Upsert(ctx context.Context, userID string, addressID *string, addr domain.Address) (domain.Address, error)
	Delete(ctx context.Context, userID string, addressID string) error
	Get(ctx context.Context, userID string, addressID string) (domain.Address, error)
	SetDefault(ctx context.Context, userID string, addressID string) (domain.Address, error)
}

// PaymentMethodRepository stores tokenised PSP references per user.
type PaymentMethodRepository interface {
	List(ctx context.Context, userID string) ([]domain.PaymentMethod, error)
	Insert(ctx context.Context, userID string, method domain.PaymentMethod) (domain.PaymentMethod, error)
	Delete(ctx context.Context, userID string, paymentMethodID string) error
	Get(ctx context.Context, userID string, paymentMethodID string) (domain.PaymentMethod, error)
}

// AuditLogRepository appends immutable audit entries. There is deliberately
// no update or delete operation.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

// AuditLogFilter narrows audit log listings by actor, action, and target.
type AuditLogFilter struct {
	TargetRef  string
	Actor      string
	ActorType  string
	Action     string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// CounterRepository provides transaction-safe sequence numbers, used for
// human-readable order numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository reports the status of downstream dependencies.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
