package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/panierapp/api/internal/domain"
	pfirestore "github.com/panierapp/api/internal/platform/firestore"
	"github.com/panierapp/api/internal/repositories"
)

const (
	cartCollection = "carts"
)

// CartRepository persists carts as a single document per user with the
// items embedded. Carts are small so whole-document writes keep item
// mutations atomic without subcollection fanout.
type CartRepository struct {
	base     *pfirestore.BaseRepository[cartDocument]
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil)
	return &CartRepository{
		base:     base,
		provider: provider,
	}, nil
}

// GetCart loads the cart for the given user ID.
func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}
	return documentToCart(doc.ID, doc.Data, doc.UpdateTime), nil
}

// AppendItem adds a single line to the cart inside a transaction so two
// concurrent appends both land. A missing cart document is created with
// the given currency.
func (r *CartRepository) AppendItem(ctx context.Context, userID string, item domain.CartItem, currency string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Cart{}, err
	}
	ref, err := r.base.DocumentRef(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}

	var saved cartDocument
	now := time.Now().UTC()
	err = pfirestore.RunTransaction(ctx, client, func(ctx context.Context, tx *firestore.Transaction) error {
		doc := cartDocument{Currency: strings.ToUpper(strings.TrimSpace(currency))}
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
		case status.Code(err) == codes.NotFound:
			// First item for this user; start a fresh document.
		default:
			return err
		}
		doc.Items = append(doc.Items, itemsToDocuments([]domain.CartItem{item})...)
		doc.ItemCount = len(doc.Items)
		doc.UpdatedAt = now
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		saved = doc
		return nil
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return documentToCart(uid, saved, now), nil
}

// ReplaceItems swaps the cart's item list inside a transaction so
// concurrent decrements do not clobber each other.
func (r *CartRepository) ReplaceItems(ctx context.Context, userID string, items []domain.CartItem) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Cart{}, err
	}
	ref, err := r.base.DocumentRef(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}

	var saved cartDocument
	now := time.Now().UTC()
	err = pfirestore.RunTransaction(ctx, client, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc cartDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		doc.Items = itemsToDocuments(items)
		doc.ItemCount = len(doc.Items)
		doc.UpdatedAt = now
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		saved = doc
		return nil
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return documentToCart(uid, saved, now), nil
}

// ClearCart removes every item from the cart. A missing cart document is
// reported as not found so callers can treat it as already empty.
func (r *CartRepository) ClearCart(ctx context.Context, userID string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return errors.New("cart repository: user id is required")
	}

	ref, err := r.base.DocumentRef(ctx, uid)
	if err != nil {
		return err
	}

	updates := []firestore.Update{
		{Path: "items", Value: []cartItemDocument{}},
		{Path: "itemCount", Value: 0},
		{Path: "updatedAt", Value: time.Now().UTC()},
	}

	if tx := txFromContext(ctx); tx != nil {
		if err := tx.Update(ref, updates); err != nil {
			return pfirestore.WrapError("firestore: carts.clear", err)
		}
		return nil
	}

	if _, err := ref.Update(ctx, updates); err != nil {
		return pfirestore.WrapError("firestore: carts.clear", err)
	}
	return nil
}

func documentToCart(id string, doc cartDocument, updateTime time.Time) domain.Cart {
	cart := domain.Cart{
		ID:       id,
		UserID:   id,
		Currency: strings.ToUpper(strings.TrimSpace(doc.Currency)),
		Items:    documentsToItems(doc.Items),
	}
	if !doc.UpdatedAt.IsZero() {
		cart.UpdatedAt = doc.UpdatedAt.UTC()
	} else {
		cart.UpdatedAt = updateTime.UTC()
	}
	return cart
}

func itemsToDocuments(items []domain.CartItem) []cartItemDocument {
	docs := make([]cartItemDocument, 0, len(items))
	for _, item := range items {
		doc := cartItemDocument{
			ID:         item.ID,
			URL:        item.URL,
			SiteName:   item.SiteName,
			Title:      item.Title,
			ImageURL:   item.ImageURL,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			Color:      item.Color,
			Size:       item.Size,
			Note:       item.Note,
			InsertedAt: item.InsertedAt.UTC(),
		}
		if item.MirrorRef != nil {
			doc.MirrorRef = strings.TrimSpace(*item.MirrorRef)
		}
		if item.UpdatedAt != nil {
			ts := item.UpdatedAt.UTC()
			doc.UpdatedAt = &ts
		}
		docs = append(docs, doc)
	}
	return docs
}

func documentsToItems(docs []cartItemDocument) []domain.CartItem {
	items := make([]domain.CartItem, 0, len(docs))
	for _, doc := range docs {
		item := domain.CartItem{
			ID:         doc.ID,
			URL:        doc.URL,
			SiteName:   doc.SiteName,
			Title:      doc.Title,
			ImageURL:   doc.ImageURL,
			UnitPrice:  doc.UnitPrice,
			Quantity:   doc.Quantity,
			Color:      doc.Color,
			Size:       doc.Size,
			Note:       doc.Note,
			InsertedAt: doc.InsertedAt.UTC(),
		}
		if ref := strings.TrimSpace(doc.MirrorRef); ref != "" {
			item.MirrorRef = &ref
		}
		if doc.UpdatedAt != nil {
			ts := doc.UpdatedAt.UTC()
			item.UpdatedAt = &ts
		}
		items = append(items, item)
	}
	return items
}

type cartDocument struct {
	Currency  string             `firestore:"currency"`
	Items     []cartItemDocument `firestore:"items"`
	ItemCount int                `firestore:"itemCount"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ID         string     `firestore:"id"`
	URL        string     `firestore:"url"`
	SiteName   string     `firestore:"siteName,omitempty"`
	Title      string     `firestore:"title"`
	ImageURL   string     `firestore:"imageUrl,omitempty"`
	MirrorRef  string     `firestore:"mirrorRef,omitempty"`
	UnitPrice  int64      `firestore:"unitPrice"`
	Quantity   int        `firestore:"quantity"`
	Color      string     `firestore:"color,omitempty"`
	Size       string     `firestore:"size,omitempty"`
	Note       string     `firestore:"note,omitempty"`
	InsertedAt time.Time  `firestore:"insertedAt"`
	UpdatedAt  *time.Time `firestore:"updatedAt,omitempty"`
}

var _ repositories.CartRepository = (*CartRepository)(nil)
