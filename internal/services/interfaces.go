package services

import (
	"context"
	"time"

	domain "github.com/panierapp/api/internal/domain"
	"github.com/panierapp/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	RawProduct         = domain.RawProduct
	ProductDraft       = domain.ProductDraft
	Cart               = domain.Cart
	CartItem           = domain.CartItem
	CartTotals         = domain.CartTotals
	CheckoutSession    = domain.CheckoutSession
	Order              = domain.Order
	OrderTotals        = domain.OrderTotals
	OrderLineItem      = domain.OrderLineItem
	OrderStatus        = domain.OrderStatus
	OrderReview        = domain.OrderReview
	PaymentStatus      = domain.PaymentStatus
	Payment            = domain.Payment
	Address            = domain.Address
	UserProfile        = domain.UserProfile
	PaymentMethod      = domain.PaymentMethod
	SystemHealthReport = domain.SystemHealthReport
	AuditLogEntry      = domain.AuditLogEntry
)

// IngestService turns raw product messages from embedded pages into staged
// drafts ready for user confirmation.
type IngestService interface {
	StageProduct(ctx context.Context, msg RawProduct) (ProductDraft, error)
}

// CartService manages mutable cart state for a user.
type CartService interface {
	GetCart(ctx context.Context, userID string) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	RemoveItemOne(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	RemoveItemAll(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

// CheckoutService converts a cart into an order and hands off to the PSP.
type CheckoutService interface {
	Submit(ctx context.Context, cmd SubmitOrderCommand) (CheckoutResult, error)
	RetryPayment(ctx context.Context, cmd RetryPaymentCommand) (CheckoutResult, error)
}

// OrderService exposes order reads for users and review flows for admins.
type OrderService interface {
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
}

// UserService manages profile, address, and payment method surfaces.
type UserService interface {
	GetProfile(ctx context.Context, userID string) (UserProfile, error)
	UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (UserProfile, error)
	ListAddresses(ctx context.Context, userID string) ([]Address, error)
	UpsertAddress(ctx context.Context, cmd UpsertAddressCommand) (Address, error)
	DeleteAddress(ctx context.Context, cmd DeleteAddressCommand) error
	ListPaymentMethods(ctx context.Context, userID string) ([]PaymentMethod, error)
	AddPaymentMethod(ctx context.Context, cmd AddPaymentMethodCommand) (PaymentMethod, error)
	RemovePaymentMethod(ctx context.Context, cmd RemovePaymentMethodCommand) error
}

// SystemService aggregates utility endpoints (health checks, audit logs, counters).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	ListAuditLogs(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
	NextCounterValue(ctx context.Context, cmd CounterCommand) (int64, error)
}

// AuditLogService centralizes immutable audit log persistence and retrieval.
type AuditLogService interface {
	Record(ctx context.Context, record AuditLogRecord)
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
}

// BackgroundJobDispatcher schedules asynchronous processing such as image
// mirroring and notifications.
type BackgroundJobDispatcher interface {
	EnqueueImageMirror(ctx context.Context, payload ImageMirrorPayload) (string, error)
	EnqueueOrderNotification(ctx context.Context, payload OrderNotificationPayload) (string, error)
}

// ErrorTranslator converts repository or platform errors into domain-aware sentinel errors.
type ErrorTranslator interface {
	Translate(err error) error
}

// DomainError represents a structured error with stable codes for transport across layers.
type DomainError interface {
	error
	Code() string
	SafeMessage() string
}

// Command and DTO definitions ------------------------------------------------

type AddCartItemCommand struct {
	UserID string
	Draft  ProductDraft
}

type RemoveCartItemCommand struct {
	UserID string
	ItemID string
}

type SubmitOrderCommand struct {
	UserID          string
	AddressID       *string
	ShippingAddress *Address
	PaymentMethodID *string
	PSP             string
	SuccessURL      string
	CancelURL       string
	Metadata        map[string]string
}

type RetryPaymentCommand struct {
	UserID     string
	OrderID    string
	PSP        string
	SuccessURL string
	CancelURL  string
}

// CheckoutResult bundles the created order with the PSP hand-off data.
type CheckoutResult struct {
	Order   Order
	Session *CheckoutSession
}

type OrderListFilter = repositories.OrderListFilter

type OrderStatusTransitionCommand struct {
	OrderID        string
	TargetStatus   OrderStatus
	ActorID        string
	Reason         string
	ExpectedStatus *OrderStatus
}

type UpdateProfileCommand struct {
	UserID            string
	ActorID           string
	DisplayName       *string
	PreferredLanguage *string
	Locale            *string
	NotificationPrefs map[string]bool
	ExpectedSyncTime  *time.Time
}

type UpsertAddressCommand struct {
	UserID    string
	AddressID *string
	Address   Address
	IsDefault bool
}

type DeleteAddressCommand struct {
	UserID    string
	AddressID string
}

type AddPaymentMethodCommand struct {
	UserID    string
	Provider  string
	Reference string
	Token     string
}

type RemovePaymentMethodCommand struct {
	UserID          string
	PaymentMethodID string
}

// ImageMirrorPayload asks the worker path to copy a product image into the
// assets bucket so order snapshots survive retailer CDN churn.
type ImageMirrorPayload struct {
	UserID    string
	ItemID    string
	SourceURL string
}

// OrderNotificationPayload fans out order lifecycle notifications.
type OrderNotificationPayload struct {
	OrderID string
	UserID  string
	Event   string
}

// AuditLogRecord defines the payload accepted by the audit writer service.
type AuditLogRecord struct {
	Actor                 string
	ActorType             string
	Action                string
	TargetRef             string
	Severity              string
	RequestID             string
	OccurredAt            time.Time
	Metadata              map[string]any
	SensitiveMetadataKeys []string
	Diff                  map[string]AuditLogDiff
	SensitiveDiffKeys     []string
	IPAddress             string
	UserAgent             string
}

// AuditLogDiff captures the before and after values of a changed field.
type AuditLogDiff struct {
	Before any
	After  any
}

type AuditLogFilter struct {
	TargetRef  string
	Actor      string
	ActorType  string
	Action     string
	DateRange  domain.RangeQuery[time.Time]
	Pagination Pagination
}

type CounterCommand struct {
	CounterID string
	Step      int64
}
