package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/panierapp/api/internal/domain"
	pfirestore "github.com/panierapp/api/internal/platform/firestore"
	"github.com/panierapp/api/internal/platform/pagination"
	"github.com/panierapp/api/internal/repositories"
)

const (
	orderCollection      = "orders"
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// OrderRepository persists order documents with their immutable line item
// snapshots.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	return &OrderRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert creates the order document, failing if the ID already exists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	doc := orderToDocument(order)
	ref, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}

	if tx := txFromContext(ctx); tx != nil {
		if err := tx.Create(ref, doc); err != nil {
			return pfirestore.WrapError("firestore: orders.insert", err)
		}
		return nil
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("firestore: orders.insert", err)
	}
	return nil
}

// Update overwrites the order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	doc := orderToDocument(order)

	if tx := txFromContext(ctx); tx != nil {
		ref, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		if err := tx.Set(ref, doc); err != nil {
			return pfirestore.WrapError("firestore: orders.update", err)
		}
		return nil
	}
	if _, err := r.base.Set(ctx, orderID, doc); err != nil {
		return err
	}
	return nil
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return documentToOrder(doc.ID, doc.Data), nil
}

// List returns orders newest-first, filtered by user, status, and date range.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = defaultOrderPageSize
	}
	if pageSize > maxOrderPageSize {
		pageSize = maxOrderPageSize
	}

	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		if uid := strings.TrimSpace(filter.UserID); uid != "" {
			query = query.Where("userId", "==", uid)
		}
		if len(filter.Status) == 1 {
			query = query.Where("status", "==", filter.Status[0])
		} else if len(filter.Status) > 1 {
			query = query.Where("status", "in", filter.Status)
		}
		if filter.DateRange.From != nil {
			query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}
		query = query.
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Asc)
		if len(cursor.StartAfter) > 0 {
			query = query.StartAfter(decodeOrderCursor(cursor.StartAfter)...)
		}
		return query.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{Items: make([]domain.Order, 0, len(docs))}
	for i, doc := range docs {
		if i == pageSize {
			last := docs[i-1]
			token, err := pagination.EncodeToken(pagination.Cursor{
				StartAfter: []any{last.Data.CreatedAt.UTC().Format(time.RFC3339Nano), last.ID},
			})
			if err != nil {
				return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: encode page token: %w", err)
			}
			page.NextPageToken = token
			break
		}
		page.Items = append(page.Items, documentToOrder(doc.ID, doc.Data))
	}
	return page, nil
}

// decodeOrderCursor restores typed cursor values from the JSON round trip.
func decodeOrderCursor(values []any) []any {
	decoded := make([]any, 0, len(values))
	for _, value := range values {
		if raw, ok := value.(string); ok {
			if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
				decoded = append(decoded, ts)
				continue
			}
		}
		decoded = append(decoded, value)
	}
	return decoded
}

func orderToDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		UserID:        strings.TrimSpace(order.UserID),
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		Subtotal:      order.Totals.Subtotal,
		Surcharge:     order.Totals.Surcharge,
		TotalCharged:  order.Totals.TotalCharged,
		PaymentMethod: strings.TrimSpace(order.PaymentMethod),
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
	}
	if order.ReviewedAt != nil {
		ts := order.ReviewedAt.UTC()
		doc.ReviewedAt = &ts
	}

	doc.Items = make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		line := orderItemDocument{
			ID:        item.ID,
			URL:       item.URL,
			SiteName:  item.SiteName,
			Title:     item.Title,
			ImageURL:  item.ImageURL,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Total:     item.Total,
			Color:     item.Color,
			Size:      item.Size,
			Note:      item.Note,
		}
		if item.MirrorRef != nil {
			line.MirrorRef = strings.TrimSpace(*item.MirrorRef)
		}
		doc.Items = append(doc.Items, line)
	}

	if order.ShippingAddress != nil {
		doc.ShippingAddress = &orderAddressDocument{
			Recipient:  order.ShippingAddress.Recipient,
			Line1:      order.ShippingAddress.Line1,
			Line2:      stringValue(order.ShippingAddress.Line2),
			City:       order.ShippingAddress.City,
			State:      stringValue(order.ShippingAddress.State),
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
			Phone:      stringValue(order.ShippingAddress.Phone),
		}
	}
	if order.Review != nil {
		doc.Review = &orderReviewDocument{
			ReviewerID: order.Review.ReviewerID,
			Decision:   string(order.Review.Decision),
			Reason:     order.Review.Reason,
			DecidedAt:  order.Review.DecidedAt.UTC(),
		}
	}
	return doc
}

func documentToOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:            id,
		OrderNumber:   doc.OrderNumber,
		UserID:        doc.UserID,
		Status:        domain.OrderStatus(doc.Status),
		PaymentStatus: domain.PaymentStatus(doc.PaymentStatus),
		Currency:      strings.ToUpper(strings.TrimSpace(doc.Currency)),
		Totals: domain.OrderTotals{
			Subtotal:     doc.Subtotal,
			Surcharge:    doc.Surcharge,
			TotalCharged: doc.TotalCharged,
		},
		PaymentMethod: doc.PaymentMethod,
		CreatedAt:     doc.CreatedAt.UTC(),
		UpdatedAt:     doc.UpdatedAt.UTC(),
	}
	if doc.ReviewedAt != nil {
		ts := doc.ReviewedAt.UTC()
		order.ReviewedAt = &ts
	}

	order.Items = make([]domain.OrderLineItem, 0, len(doc.Items))
	for _, line := range doc.Items {
		item := domain.OrderLineItem{
			ID:        line.ID,
			URL:       line.URL,
			SiteName:  line.SiteName,
			Title:     line.Title,
			ImageURL:  line.ImageURL,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			Total:     line.Total,
			Color:     line.Color,
			Size:      line.Size,
			Note:      line.Note,
		}
		if ref := strings.TrimSpace(line.MirrorRef); ref != "" {
			item.MirrorRef = &ref
		}
		order.Items = append(order.Items, item)
	}

	if doc.ShippingAddress != nil {
		order.ShippingAddress = &domain.Address{
			Recipient:  doc.ShippingAddress.Recipient,
			Line1:      doc.ShippingAddress.Line1,
			Line2:      optionalString(doc.ShippingAddress.Line2),
			City:       doc.ShippingAddress.City,
			State:      optionalString(doc.ShippingAddress.State),
			PostalCode: doc.ShippingAddress.PostalCode,
			Country:    doc.ShippingAddress.Country,
			Phone:      optionalString(doc.ShippingAddress.Phone),
		}
	}
	if doc.Review != nil {
		order.Review = &domain.OrderReview{
			ReviewerID: doc.Review.ReviewerID,
			Decision:   domain.OrderStatus(doc.Review.Decision),
			Reason:     doc.Review.Reason,
			DecidedAt:  doc.Review.DecidedAt.UTC(),
		}
	}
	return order
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

type orderDocument struct {
	OrderNumber     string                `firestore:"orderNumber"`
	UserID          string                `firestore:"userId"`
	Status          string                `firestore:"status"`
	PaymentStatus   string                `firestore:"paymentStatus"`
	Currency        string                `firestore:"currency"`
	Subtotal        int64                 `firestore:"subtotal"`
	Surcharge       int64                 `firestore:"surcharge"`
	TotalCharged    int64                 `firestore:"totalCharged"`
	Items           []orderItemDocument   `firestore:"items"`
	ShippingAddress *orderAddressDocument `firestore:"shippingAddress,omitempty"`
	PaymentMethod   string                `firestore:"paymentMethod,omitempty"`
	Review          *orderReviewDocument  `firestore:"review,omitempty"`
	CreatedAt       time.Time             `firestore:"createdAt"`
	UpdatedAt       time.Time             `firestore:"updatedAt"`
	ReviewedAt      *time.Time            `firestore:"reviewedAt,omitempty"`
}

type orderItemDocument struct {
	ID        string `firestore:"id"`
	URL       string `firestore:"url"`
	SiteName  string `firestore:"siteName,omitempty"`
	Title     string `firestore:"title"`
	ImageURL  string `firestore:"imageUrl,omitempty"`
	MirrorRef string `firestore:"mirrorRef,omitempty"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"quantity"`
	Total     int64  `firestore:"total"`
	Color     string `firestore:"color,omitempty"`
	Size      string `firestore:"size,omitempty"`
	Note      string `firestore:"note,omitempty"`
}

type orderAddressDocument struct {
	Recipient  string `firestore:"recipient"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone,omitempty"`
}

type orderReviewDocument struct {
	ReviewerID string    `firestore:"reviewerId"`
	Decision   string    `firestore:"decision"`
	Reason     string    `firestore:"reason,omitempty"`
	DecidedAt  time.Time `firestore:"decidedAt"`
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
