package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/panierapp/api/internal/domain"
	"github.com/panierapp/api/internal/payments"
	"github.com/panierapp/api/internal/repositories"
)

var (
	errCheckoutCartsRequired  = errors.New("checkout service: cart repository is required")
	errCheckoutOrdersRequired = errors.New("checkout service: order repository is required")
	errCheckoutClockRequired  = errors.New("checkout service: clock is required")
)

// ErrCheckoutInvalidInput indicates the caller supplied invalid input.
var ErrCheckoutInvalidInput = errors.New("checkout service: invalid input")

// ErrCheckoutEmptyCart indicates there is nothing to submit.
var ErrCheckoutEmptyCart = errors.New("checkout service: empty cart")

// ErrCheckoutUnavailable indicates a backend dependency failed.
var ErrCheckoutUnavailable = errors.New("checkout service: unavailable")

// ErrCheckoutNotFound indicates the referenced order does not exist.
var ErrCheckoutNotFound = errors.New("checkout service: not found")

// ErrCheckoutPaymentFailed indicates the PSP session could not be created.
// The order itself is persisted; payment can be retried.
var ErrCheckoutPaymentFailed = errors.New("checkout service: payment session failed")

// checkoutSessionManager abstracts payments.Manager for easier testing.
type checkoutSessionManager interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// CheckoutServiceDeps wires repositories and the PSP manager for order submission.
type CheckoutServiceDeps struct {
	Carts           repositories.CartRepository
	Orders          repositories.OrderRepository
	Addresses       repositories.AddressRepository
	PaymentMethods  repositories.PaymentMethodRepository
	Counters        repositories.CounterRepository
	UnitOfWork      repositories.UnitOfWork
	Payments        checkoutSessionManager
	Jobs            BackgroundJobDispatcher
	Clock           func() time.Time
	IDGenerator     func() string
	DefaultCurrency string
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	carts          repositories.CartRepository
	orders         repositories.OrderRepository
	addresses      repositories.AddressRepository
	paymentMethods repositories.PaymentMethodRepository
	counters       repositories.CounterRepository
	uow            repositories.UnitOfWork
	payments       checkoutSessionManager
	jobs           BackgroundJobDispatcher
	now            func() time.Time
	newID          func() string
	currency       string
	logger         func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService enforcing dependency validation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errCheckoutCartsRequired
	}
	if deps.Orders == nil {
		return nil, errCheckoutOrdersRequired
	}
	if deps.Clock == nil {
		return nil, errCheckoutClockRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = "EUR"
	}

	return &checkoutService{
		carts:          deps.Carts,
		orders:         deps.Orders,
		addresses:      deps.Addresses,
		paymentMethods: deps.PaymentMethods,
		counters:       deps.Counters,
		uow:            deps.UnitOfWork,
		payments:       deps.Payments,
		jobs:           deps.Jobs,
		now:            func() time.Time { return deps.Clock().UTC() },
		newID:          idGen,
		currency:       currency,
		logger:         logger,
	}, nil
}

// Submit snapshots the cart into a pending order, clears the cart in the
// same transaction, and starts the PSP hand-off. A failed hand-off leaves
// the order pending with payment unstarted so the client can retry.
func (s *checkoutService) Submit(ctx context.Context, cmd SubmitOrderCommand) (CheckoutResult, error) {
	if s == nil || s.carts == nil || s.orders == nil {
		return CheckoutResult{}, ErrCheckoutUnavailable
	}

	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return CheckoutResult{}, ErrCheckoutInvalidInput
	}

	cart, err := s.carts.GetCart(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return CheckoutResult{}, ErrCheckoutEmptyCart
		}
		return CheckoutResult{}, s.translateRepoError(err)
	}

	items, totals := buildOrderSnapshot(cart.Items)
	if len(items) == 0 || totals.Subtotal <= 0 {
		return CheckoutResult{}, ErrCheckoutEmptyCart
	}

	shipping, err := s.resolveShippingAddress(ctx, uid, cmd)
	if err != nil {
		return CheckoutResult{}, err
	}
	paymentLabel, err := s.resolvePaymentMethod(ctx, uid, cmd.PaymentMethodID)
	if err != nil {
		return CheckoutResult{}, err
	}

	currency := strings.ToUpper(strings.TrimSpace(cart.Currency))
	if currency == "" {
		currency = s.currency
	}

	now := s.now()
	order := domain.Order{
		ID:              s.newID(),
		OrderNumber:     s.nextOrderNumber(ctx),
		UserID:          uid,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusUnstarted,
		Currency:        currency,
		Totals:          totals,
		Items:           items,
		ShippingAddress: shipping,
		PaymentMethod:   paymentLabel,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	persist := func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order); err != nil {
			return err
		}
		return s.carts.ClearCart(txCtx, uid)
	}
	if s.uow != nil {
		err = s.uow.RunInTx(ctx, persist)
	} else {
		err = persist(ctx)
	}
	if err != nil {
		return CheckoutResult{}, s.translateRepoError(err)
	}

	s.logger(ctx, "checkout.order_created", map[string]any{
		"userID":       uid,
		"orderID":      order.ID,
		"orderNumber":  order.OrderNumber,
		"subtotal":     totals.Subtotal,
		"totalCharged": totals.TotalCharged,
		"itemCount":    len(items),
	})
	s.notifyOrderEvent(ctx, order, "order.submitted")

	session, sessionErr := s.startPaymentSession(ctx, &order, cmd.PSP, cmd.SuccessURL, cmd.CancelURL, cmd.Metadata)
	if sessionErr != nil {
		s.logger(ctx, "checkout.payment_session_failed", map[string]any{
			"orderID": order.ID,
			"error":   sessionErr.Error(),
		})
		return CheckoutResult{Order: order}, nil
	}
	return CheckoutResult{Order: order, Session: session}, nil
}

// RetryPayment creates a new PSP session for an order whose previous
// hand-off failed or expired.
func (s *checkoutService) RetryPayment(ctx context.Context, cmd RetryPaymentCommand) (CheckoutResult, error) {
	if s == nil || s.orders == nil {
		return CheckoutResult{}, ErrCheckoutUnavailable
	}

	uid := strings.TrimSpace(cmd.UserID)
	orderID := strings.TrimSpace(cmd.OrderID)
	if uid == "" || orderID == "" {
		return CheckoutResult{}, ErrCheckoutInvalidInput
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return CheckoutResult{}, ErrCheckoutNotFound
		}
		return CheckoutResult{}, s.translateRepoError(err)
	}
	if order.UserID != uid {
		return CheckoutResult{}, ErrCheckoutNotFound
	}
	if order.PaymentStatus == domain.PaymentStatusSucceeded {
		return CheckoutResult{}, ErrCheckoutInvalidInput
	}

	session, sessionErr := s.startPaymentSession(ctx, &order, cmd.PSP, cmd.SuccessURL, cmd.CancelURL, nil)
	if sessionErr != nil {
		return CheckoutResult{Order: order}, ErrCheckoutPaymentFailed
	}
	return CheckoutResult{Order: order, Session: session}, nil
}

func (s *checkoutService) startPaymentSession(ctx context.Context, order *domain.Order, psp, successURL, cancelURL string, metadata map[string]string) (*CheckoutSession, error) {
	if s.payments == nil {
		return nil, ErrCheckoutPaymentFailed
	}

	meta := map[string]string{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"userId":      order.UserID,
	}
	for k, v := range metadata {
		if _, reserved := meta[k]; !reserved {
			meta[k] = v
		}
	}

	lineItems := make([]payments.CheckoutLineItem, 0, len(order.Items)+1)
	for _, item := range order.Items {
		lineItems = append(lineItems, payments.CheckoutLineItem{
			Name:     item.Title,
			SKU:      item.SiteName,
			Quantity: int64(item.Quantity),
			Amount:   item.UnitPrice,
			Currency: order.Currency,
		})
	}
	lineItems = append(lineItems, payments.CheckoutLineItem{
		Name:     "Frais de service",
		Quantity: 1,
		Amount:   order.Totals.Surcharge,
		Currency: order.Currency,
	})

	session, err := s.payments.CreateCheckoutSession(ctx,
		payments.PaymentContext{
			PreferredProvider: strings.TrimSpace(psp),
			Currency:          order.Currency,
			Metadata:          meta,
		},
		payments.CheckoutSessionRequest{
			Amount:         order.Totals.TotalCharged,
			Currency:       order.Currency,
			CustomerID:     order.UserID,
			SuccessURL:     strings.TrimSpace(successURL),
			CancelURL:      strings.TrimSpace(cancelURL),
			Metadata:       meta,
			IdempotencyKey: "checkout-" + order.ID,
			Items:          lineItems,
		},
	)
	if err != nil {
		return nil, err
	}

	order.PaymentStatus = domain.PaymentStatusSessionCreated
	order.UpdatedAt = s.now()
	if updateErr := s.orders.Update(ctx, *order); updateErr != nil {
		s.logger(ctx, "checkout.payment_status_update_failed", map[string]any{
			"orderID": order.ID,
			"error":   updateErr.Error(),
		})
	}

	return &CheckoutSession{
		SessionID:    session.ID,
		PSP:          session.Provider,
		ClientSecret: session.ClientSecret,
		RedirectURL:  session.RedirectURL,
		ExpiresAt:    session.ExpiresAt,
	}, nil
}

func (s *checkoutService) resolveShippingAddress(ctx context.Context, userID string, cmd SubmitOrderCommand) (*domain.Address, error) {
	if cmd.AddressID != nil {
		id := strings.TrimSpace(*cmd.AddressID)
		if id == "" || s.addresses == nil {
			return nil, ErrCheckoutInvalidInput
		}
		addr, err := s.addresses.Get(ctx, userID, id)
		if err != nil {
			if isRepoNotFound(err) {
				return nil, ErrCheckoutInvalidInput
			}
			return nil, s.translateRepoError(err)
		}
		return &addr, nil
	}
	if cmd.ShippingAddress != nil {
		dup := *cmd.ShippingAddress
		return &dup, nil
	}
	if s.addresses == nil {
		return nil, nil
	}
	list, err := s.addresses.List(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return nil, nil
		}
		return nil, s.translateRepoError(err)
	}
	for _, addr := range list {
		if addr.IsDefault {
			dup := addr
			return &dup, nil
		}
	}
	if len(list) > 0 {
		dup := list[0]
		return &dup, nil
	}
	return nil, nil
}

func (s *checkoutService) resolvePaymentMethod(ctx context.Context, userID string, methodID *string) (string, error) {
	if methodID == nil {
		return "", nil
	}
	id := strings.TrimSpace(*methodID)
	if id == "" || s.paymentMethods == nil {
		return "", ErrCheckoutInvalidInput
	}
	method, err := s.paymentMethods.Get(ctx, userID, id)
	if err != nil {
		if isRepoNotFound(err) {
			return "", ErrCheckoutInvalidInput
		}
		return "", s.translateRepoError(err)
	}
	if method.Brand != "" && method.Last4 != "" {
		return fmt.Sprintf("%s •••• %s", method.Brand, method.Last4), nil
	}
	return method.Provider, nil
}

func (s *checkoutService) nextOrderNumber(ctx context.Context) string {
	if s.counters != nil {
		if n, err := s.counters.Next(ctx, "orders", 1); err == nil {
			return fmt.Sprintf("PC-%06d", n)
		}
		s.logger(ctx, "checkout.order_number_fallback", nil)
	}
	return "PC-" + s.newID()
}

func (s *checkoutService) notifyOrderEvent(ctx context.Context, order domain.Order, event string) {
	if s.jobs == nil {
		return
	}
	if _, err := s.jobs.EnqueueOrderNotification(ctx, OrderNotificationPayload{
		OrderID: order.ID,
		UserID:  order.UserID,
		Event:   event,
	}); err != nil {
		s.logger(ctx, "checkout.notification_enqueue_failed", map[string]any{
			"orderID": order.ID,
			"error":   err.Error(),
		})
	}
}

// buildOrderSnapshot copies cart lines into immutable order line items and
// computes the totals. The surcharge is computed on the subtotal, not per
// line, so the charged total is exactly the subtotal times 1.05 rounded to
// the cent.
func buildOrderSnapshot(items []domain.CartItem) ([]domain.OrderLineItem, domain.OrderTotals) {
	lines := make([]domain.OrderLineItem, 0, len(items))
	var subtotal int64
	for _, item := range items {
		if item.Quantity <= 0 || item.UnitPrice <= 0 {
			continue
		}
		line := domain.OrderLineItem{
			ID:        item.ID,
			URL:       item.URL,
			SiteName:  item.SiteName,
			Title:     item.Title,
			ImageURL:  item.ImageURL,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Total:     item.LineTotal(),
			Color:     item.Color,
			Size:      item.Size,
			Note:      item.Note,
		}
		if item.MirrorRef != nil {
			ref := *item.MirrorRef
			line.MirrorRef = &ref
		}
		lines = append(lines, line)
		subtotal += line.Total
	}
	totals := domain.OrderTotals{
		Subtotal:     subtotal,
		Surcharge:    domain.Surcharge(subtotal),
		TotalCharged: domain.TotalCharged(subtotal),
	}
	return lines, totals
}

func (s *checkoutService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCheckoutNotFound
		case repoErr.IsConflict():
			return ErrCheckoutInvalidInput
		case repoErr.IsUnavailable():
			return ErrCheckoutUnavailable
		}
	}
	return ErrCheckoutUnavailable
}
