package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// RawProduct is the payload posted by an embedded page script over the
// product message channel. All fields arrive as strings exactly as the page
// produced them; normalization happens in the staging layer.
type RawProduct struct {
	URL   string
	Title string
	Price string
	Image string
}

// ProductDraft is a staged product awaiting user confirmation before it
// becomes a cart line. Price remains a string until confirmation.
type ProductDraft struct {
	URL      string
	SiteName string
	Title    string
	Price    string
	ImageURL string
	Quantity int
	Color    string
	Size     string
	Note     string
}

// Cart aggregates the mutable shopping cart state for a user.
type Cart struct {
	ID        string
	UserID    string
	Currency  string
	Items     []CartItem
	Totals    CartTotals
	UpdatedAt time.Time
}

// CartItem stores a single staged product entry within a cart.
type CartItem struct {
	ID         string
	URL        string
	SiteName   string
	Title      string
	ImageURL   string
	MirrorRef  *string
	UnitPrice  int64
	Quantity   int
	Color      string
	Size       string
	Note       string
	InsertedAt time.Time
	UpdatedAt  *time.Time
}

// LineTotal returns the item subtotal in the smallest currency unit.
func (i CartItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// CartTotals summarizes totals calculated for the cart.
type CartTotals struct {
	ItemCount int
	Subtotal  int64
}

// CheckoutSession represents PSP checkout session metadata stored by services.
type CheckoutSession struct {
	SessionID    string
	PSP          string
	ClientSecret string
	RedirectURL  string
	ExpiresAt    time.Time
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits admin review.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusApproved indicates an admin accepted the order.
	OrderStatusApproved OrderStatus = "approved"
	// OrderStatusRejected indicates an admin refused the order.
	OrderStatusRejected OrderStatus = "rejected"
)

// PaymentStatus tracks the hand-off state of the PSP session for an order.
type PaymentStatus string

const (
	// PaymentStatusUnstarted indicates no checkout session exists yet.
	PaymentStatusUnstarted PaymentStatus = "unstarted"
	// PaymentStatusSessionCreated indicates a hosted checkout session was issued.
	PaymentStatusSessionCreated PaymentStatus = "session_created"
	// PaymentStatusSucceeded indicates the PSP reported a completed payment.
	PaymentStatusSucceeded PaymentStatus = "succeeded"
)

// Order captures order headers returned to handlers/services.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	Currency        string
	Totals          OrderTotals
	Items           []OrderLineItem
	ShippingAddress *Address
	PaymentMethod   string
	Review          *OrderReview
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ReviewedAt      *time.Time
}

// OrderTotals holds rolled-up monetary fields in the smallest currency unit.
type OrderTotals struct {
	Subtotal     int64
	Surcharge    int64
	TotalCharged int64
}

// OrderLineItem is the immutable snapshot of a cart item at submission time.
type OrderLineItem struct {
	ID        string
	URL       string
	SiteName  string
	Title     string
	ImageURL  string
	MirrorRef *string
	UnitPrice int64
	Quantity  int
	Total     int64
	Color     string
	Size      string
	Note      string
}

// OrderReview records the admin decision taken on a pending order.
type OrderReview struct {
	ReviewerID string
	Decision   OrderStatus
	Reason     string
	DecidedAt  time.Time
}

// Payment encapsulates payment status and PSP references for an order.
type Payment struct {
	ID        string
	OrderID   string
	Provider  string
	IntentID  string
	Status    string
	Amount    int64
	Currency  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Address represents postal address structures shared by user and order layers.
type Address struct {
	ID         string
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
	IsDefault  bool
}

// NotificationPreferences stores per-channel notification opt-in flags.
type NotificationPreferences map[string]bool

// AuthProvider records linked Firebase identity provider metadata.
type AuthProvider struct {
	ProviderID  string
	UID         string
	Email       string
	DisplayName string
	PhoneNumber string
	PhotoURL    string
}

// UserProfile captures the canonical projection of a Firebase Auth user.
type UserProfile struct {
	ID                string
	DisplayName       string
	Email             string
	PhoneNumber       string
	PhotoURL          string
	PreferredLanguage string
	Locale            string
	Roles             []string
	IsActive          bool
	NotificationPrefs NotificationPreferences
	ProviderData      []AuthProvider
	CreatedAt         time.Time
	UpdatedAt         time.Time
	LastSyncTime      time.Time
}

// PaymentMethod stores PSP-backed payment references without sensitive card data.
type PaymentMethod struct {
	ID        string
	Provider  string
	Reference string
	Brand     string
	Last4     string
	ExpMonth  int
	ExpYear   int
	CreatedAt time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// AuditLogEntry stores normalized audit information for admin use.
type AuditLogEntry struct {
	ID        string
	Actor     string
	ActorType string
	Action    string
	TargetRef string
	Metadata  map[string]any
	Diff      map[string]any
	IPHash    string
	UserAgent string
	Severity  string
	RequestID string
	CreatedAt time.Time
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
