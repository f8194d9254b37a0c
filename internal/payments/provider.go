// Package payments abstracts the payment service providers behind a small
// session oriented interface. Checkout hands the buyer to a PSP hosted page;
// the API never captures or refunds on its own.
package payments

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Status normalises PSP payment states.
type Status string

const (
	// StatusPending means the session awaits buyer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded means the PSP reports the payment captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means the PSP reports a terminal failure.
	StatusFailed Status = "failed"
	// StatusRefunded means the charge was refunded on the PSP side.
	StatusRefunded Status = "refunded"
)

// ErrUnsupportedProvider is returned when no registered provider matches the
// payment context.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// CheckoutLineItem is one order line presented on the hosted checkout page.
type CheckoutLineItem struct {
	Name        string
	Description string
	SKU         string
	Quantity    int64
	Amount      int64
	Currency    string
}

// CheckoutSessionRequest carries everything needed to open a hosted session.
type CheckoutSessionRequest struct {
	Amount         int64
	Currency       string
	CustomerID     string
	SuccessURL     string
	CancelURL      string
	Locale         string
	Metadata       map[string]string
	IdempotencyKey string
	Items          []CheckoutLineItem
	AllowPromotion bool
}

// CheckoutSession is the PSP session handed back to the mobile client.
type CheckoutSession struct {
	ID           string
	Provider     string
	ClientSecret string
	RedirectURL  string
	IntentID     string
	ExpiresAt    time.Time
	Raw          map[string]any
}

// LookupRequest identifies a payment for read-side reconciliation.
type LookupRequest struct {
	IntentID string
}

// PaymentDetails is the normalised reconciliation view of a PSP payment.
type PaymentDetails struct {
	Provider   string
	IntentID   string
	Status     Status
	Amount     int64
	Currency   string
	Captured   bool
	CapturedAt *time.Time
	RefundedAt *time.Time
	Raw        map[string]any
}

// Provider is the contract a PSP adapter implements.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error)
}

// Manager routes payment operations to the registered providers.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider sets the provider used when no route matches.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes maps currencies to provider keys.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		for currency, provider := range routes {
			if m.currencyRoutes == nil {
				m.currencyRoutes = make(map[string]string, len(routes))
			}
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(currency))] = strings.TrimSpace(provider)
		}
	}
}

// NewManager registers the given providers under lower-cased keys. Stripe,
// when present, becomes the default unless an option overrides it.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	registry := make(map[string]Provider, len(providers))
	for name, provider := range providers {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" || provider == nil {
			return nil, errors.New("payments: provider registration requires a name and an implementation")
		}
		registry[key] = provider
	}
	m := &Manager{providers: registry}
	if _, ok := registry["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext carries the routing hints for provider selection.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
	Metadata          map[string]string
}

// resolveProvider picks a provider by explicit preference, then currency
// route, then the default, then the sole registration if only one exists.
func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}

	lookup := func(name string) (string, Provider, bool) {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return "", nil, false
		}
		p, ok := m.providers[key]
		return key, p, ok
	}

	if key, p, ok := lookup(ctx.PreferredProvider); ok {
		return key, p, nil
	}
	if currency := strings.ToUpper(strings.TrimSpace(ctx.Currency)); currency != "" {
		if key, p, ok := lookup(m.currencyRoutes[currency]); ok {
			return key, p, nil
		}
	}
	if key, p, ok := lookup(m.defaultProvider); ok {
		return key, p, nil
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateCheckoutSession opens a hosted session on the resolved provider and
// stamps the provider key on the result.
func (m *Manager) CreateCheckoutSession(ctx context.Context, paymentCtx PaymentContext, req CheckoutSessionRequest) (CheckoutSession, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return CheckoutSession{}, err
	}
	session, err := provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		return CheckoutSession{}, err
	}
	session.Provider = key
	return session, nil
}

// LookupPayment fetches reconciliation details from the resolved provider.
func (m *Manager) LookupPayment(ctx context.Context, paymentCtx PaymentContext, req LookupRequest) (PaymentDetails, error) {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentDetails{}, err
	}
	return provider.LookupPayment(ctx, req)
}
