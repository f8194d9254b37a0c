package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/panierapp/api/internal/domain"
	"github.com/panierapp/api/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: repository is required")
	errCartClockRequired      = errors.New("cart service: clock is required")
)

const (
	maxCartItemNoteLength  = 500
	maxCartItemTitleLength = 300
	maxCartItemQuantity    = 99
)

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to missing dependencies or backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartNotFound indicates the requested cart or cart item does not exist.
var ErrCartNotFound = errors.New("cart service: not found")

// ErrCartConflict indicates the cart could not be updated due to concurrent modifications.
var ErrCartConflict = errors.New("cart service: conflict")

// ErrCartPriceRequired indicates a draft cannot be confirmed because its
// price is missing or not positive.
var ErrCartPriceRequired = errors.New("cart service: price required")

// CartServiceDeps wires the repository and background dependencies for cart operations.
type CartServiceDeps struct {
	Repository      repositories.CartRepository
	Jobs            BackgroundJobDispatcher
	Clock           func() time.Time
	DefaultCurrency string
	Logger          func(context.Context, string, map[string]any)
	IDGenerator     func() string
}

type cartService struct {
	repo     repositories.CartRepository
	jobs     BackgroundJobDispatcher
	newID    func() string
	now      func() time.Time
	currency string
	logger   func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}

	defaultCurrency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if defaultCurrency == "" {
		defaultCurrency = "EUR"
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	service := &cartService{
		repo:     deps.Repository,
		jobs:     deps.Jobs,
		newID:    idGen,
		now:      func() time.Time { return deps.Clock().UTC() },
		currency: defaultCurrency,
		logger:   logger,
	}
	return service, nil
}

// GetCart loads the cart for the user. A missing cart is returned as an
// empty cart rather than an error.
func (s *cartService) GetCart(ctx context.Context, userID string) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, err := s.repo.GetCart(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return s.newCart(uid), nil
		}
		return Cart{}, s.translateRepoError(err)
	}
	return s.normaliseCart(cart, uid), nil
}

// AddItem confirms a staged draft and appends it to the user's cart. The
// append runs inside a repository transaction so two devices adding at the
// same time never overwrite each other's line.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return Cart{}, ErrCartInvalidInput
	}

	item, err := s.confirmDraft(cmd.Draft)
	if err != nil {
		return Cart{}, err
	}

	item.ID = s.newID()
	item.InsertedAt = s.now()

	saved, err := s.repo.AppendItem(ctx, uid, item, s.currency)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	saved = s.normaliseCart(saved, uid)

	s.logger(ctx, "cart.item_added", map[string]any{
		"userID":   uid,
		"itemID":   item.ID,
		"site":     item.SiteName,
		"quantity": item.Quantity,
	})
	s.dispatchImageMirror(ctx, uid, item)

	return saved, nil
}

// RemoveItemOne decrements the quantity of a cart line, deleting the line
// when the quantity reaches zero.
func (s *cartService) RemoveItemOne(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	return s.removeItem(ctx, cmd, false)
}

// RemoveItemAll deletes a cart line regardless of quantity.
func (s *cartService) RemoveItemAll(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	return s.removeItem(ctx, cmd, true)
}

func (s *cartService) removeItem(ctx context.Context, cmd RemoveCartItemCommand, all bool) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	uid := strings.TrimSpace(cmd.UserID)
	itemID := strings.TrimSpace(cmd.ItemID)
	if uid == "" || itemID == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, err := s.repo.GetCart(ctx, uid)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	cart = s.normaliseCart(cart, uid)

	now := s.now()
	found := false
	items := make([]CartItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		if item.ID != itemID {
			items = append(items, item)
			continue
		}
		found = true
		if all || item.Quantity <= 1 {
			continue
		}
		item.Quantity--
		ts := now
		item.UpdatedAt = &ts
		items = append(items, item)
	}
	if !found {
		return Cart{}, ErrCartNotFound
	}

	saved, err := s.repo.ReplaceItems(ctx, uid, items)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	saved = s.normaliseCart(saved, uid)

	s.logger(ctx, "cart.item_removed", map[string]any{
		"userID": uid,
		"itemID": itemID,
		"all":    all,
	})
	return saved, nil
}

// ClearCart removes every item from the user's cart.
func (s *cartService) ClearCart(ctx context.Context, userID string) error {
	if s == nil || s.repo == nil {
		return ErrCartUnavailable
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return ErrCartInvalidInput
	}
	if err := s.repo.ClearCart(ctx, uid); err != nil {
		if isRepoNotFound(err) {
			return nil
		}
		return s.translateRepoError(err)
	}
	s.logger(ctx, "cart.cleared", map[string]any{"userID": uid})
	return nil
}

// confirmDraft validates a staged draft and produces the cart line item.
// The price must normalize to a positive amount; everything else has a
// usable default.
func (s *cartService) confirmDraft(draft ProductDraft) (CartItem, error) {
	url := strings.TrimSpace(draft.URL)
	if url == "" {
		return CartItem{}, ErrCartInvalidInput
	}

	normalized := domain.NormalizePrice(draft.Price)
	if normalized == "" {
		return CartItem{}, ErrCartPriceRequired
	}
	unitPrice, err := domain.ParseCents(normalized)
	if err != nil || unitPrice <= 0 {
		return CartItem{}, ErrCartPriceRequired
	}

	title := strings.TrimSpace(draft.Title)
	if title == "" {
		title = DefaultProductTitle
	}
	if len(title) > maxCartItemTitleLength {
		title = title[:maxCartItemTitleLength]
	}

	quantity := draft.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	if quantity > maxCartItemQuantity {
		return CartItem{}, ErrCartInvalidInput
	}

	note := strings.TrimSpace(draft.Note)
	if len(note) > maxCartItemNoteLength {
		return CartItem{}, ErrCartInvalidInput
	}

	siteName := strings.TrimSpace(draft.SiteName)

	return CartItem{
		URL:       url,
		SiteName:  siteName,
		Title:     title,
		ImageURL:  strings.TrimSpace(draft.ImageURL),
		UnitPrice: unitPrice,
		Quantity:  quantity,
		Color:     strings.TrimSpace(draft.Color),
		Size:      strings.TrimSpace(draft.Size),
		Note:      note,
	}, nil
}

func (s *cartService) dispatchImageMirror(ctx context.Context, userID string, item CartItem) {
	if s.jobs == nil || item.ImageURL == "" {
		return
	}
	if _, err := s.jobs.EnqueueImageMirror(ctx, ImageMirrorPayload{
		UserID:    userID,
		ItemID:    item.ID,
		SourceURL: item.ImageURL,
	}); err != nil {
		s.logger(ctx, "cart.image_mirror_enqueue_failed", map[string]any{
			"userID": userID,
			"itemID": item.ID,
			"error":  err.Error(),
		})
	}
}

func (s *cartService) newCart(userID string) Cart {
	return Cart{
		ID:        userID,
		UserID:    userID,
		Currency:  s.currency,
		Items:     []CartItem{},
		UpdatedAt: s.now(),
	}
}

// normaliseCart defends against partially populated documents and keeps
// items ordered newest-first.
func (s *cartService) normaliseCart(cart Cart, userID string) Cart {
	if cart.ID == "" {
		cart.ID = userID
	}
	if cart.UserID == "" {
		cart.UserID = userID
	}
	if cart.Currency == "" {
		cart.Currency = s.currency
	}
	cart.Items = cloneCartItems(cart.Items)
	sortItemsNewestFirst(cart.Items)
	cart.Totals = computeCartTotals(cart.Items)
	return cart
}

func sortItemsNewestFirst(items []CartItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].InsertedAt.After(items[j].InsertedAt)
	})
}

func computeCartTotals(items []CartItem) CartTotals {
	totals := CartTotals{}
	for _, item := range items {
		if item.Quantity <= 0 || item.UnitPrice <= 0 {
			continue
		}
		totals.ItemCount += item.Quantity
		totals.Subtotal += item.LineTotal()
	}
	return totals
}

func cloneCartItems(items []CartItem) []CartItem {
	if len(items) == 0 {
		return []CartItem{}
	}
	dup := make([]CartItem, len(items))
	copy(dup, items)
	for i := range dup {
		if dup[i].UpdatedAt != nil {
			ts := dup[i].UpdatedAt.UTC()
			dup[i].UpdatedAt = &ts
		}
		if dup[i].MirrorRef != nil {
			ref := *dup[i].MirrorRef
			dup[i].MirrorRef = &ref
		}
	}
	return dup
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartNotFound
		case repoErr.IsConflict():
			return ErrCartConflict
		case repoErr.IsUnavailable():
			return ErrCartUnavailable
		}
		return ErrCartUnavailable
	}
	return ErrCartUnavailable
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
