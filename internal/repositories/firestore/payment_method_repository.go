package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/panierapp/api/internal/domain"
	pfirestore "github.com/panierapp/api/internal/platform/firestore"
	"github.com/panierapp/api/internal/repositories"
)

const paymentMethodCollectionPattern = "users/%s/paymentMethods"

// PaymentMethodRepository persists PSP payment references in Firestore.
// Only tokenised references are stored, never card data.
type PaymentMethodRepository struct {
	provider *pfirestore.Provider
}

// NewPaymentMethodRepository constructs a Firestore-backed payment method repository.
func NewPaymentMethodRepository(provider *pfirestore.Provider) (*PaymentMethodRepository, error) {
	if provider == nil {
		return nil, errors.New("payment method repository requires firestore provider")
	}
	return &PaymentMethodRepository{provider: provider}, nil
}

// List returns the user's payment methods, newest first.
func (r *PaymentMethodRepository) List(ctx context.Context, userID string) ([]domain.PaymentMethod, error) {
	coll, err := r.methodsCollection(ctx, userID)
	if err != nil {
		return nil, err
	}

	iter := coll.OrderBy("createdAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var methods []domain.PaymentMethod
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return methods, nil
		}
		if err != nil {
			return nil, pfirestore.WrapError("payment_methods.list", err)
		}
		method, err := decodePaymentMethodDocument(snap)
		if err != nil {
			return nil, err
		}
		methods = append(methods, method)
	}
}

// Insert stores a new payment method. A second method with the same PSP
// reference is rejected inside the transaction.
func (r *PaymentMethodRepository) Insert(ctx context.Context, userID string, method domain.PaymentMethod) (domain.PaymentMethod, error) {
	coll, err := r.methodsCollection(ctx, userID)
	if err != nil {
		return domain.PaymentMethod{}, err
	}

	reference := strings.TrimSpace(method.Reference)
	doc := newPaymentMethodDocument(method, time.Now().UTC())

	var saved domain.PaymentMethod
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		dup := coll.Where("reference", "==", reference).Limit(1)
		snaps, err := tx.Documents(dup).GetAll()
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if len(snaps) > 0 {
			return status.Error(codes.AlreadyExists, "payment method already exists")
		}

		docRef := coll.NewDoc()
		if id := strings.TrimSpace(method.ID); id != "" {
			docRef = coll.Doc(id)
		}
		if err := tx.Set(docRef, doc); err != nil {
			return err
		}
		saved = doc.toDomain(docRef.ID)
		return nil
	})
	if err != nil {
		return domain.PaymentMethod{}, pfirestore.WrapError("payment_methods.insert", err)
	}
	return saved, nil
}

// Delete removes the specified payment method. Deleting a missing method
// surfaces a not-found error via the Exists precondition.
func (r *PaymentMethodRepository) Delete(ctx context.Context, userID string, paymentMethodID string) error {
	docRef, err := r.methodRef(ctx, userID, paymentMethodID)
	if err != nil {
		return err
	}
	if _, err := docRef.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("payment_methods.delete", err)
	}
	return nil
}

// Get loads a single payment method by ID.
func (r *PaymentMethodRepository) Get(ctx context.Context, userID string, paymentMethodID string) (domain.PaymentMethod, error) {
	docRef, err := r.methodRef(ctx, userID, paymentMethodID)
	if err != nil {
		return domain.PaymentMethod{}, err
	}
	snap, err := docRef.Get(ctx)
	if err != nil {
		return domain.PaymentMethod{}, pfirestore.WrapError("payment_methods.get", err)
	}
	return decodePaymentMethodDocument(snap)
}

func (r *PaymentMethodRepository) methodRef(ctx context.Context, userID string, paymentMethodID string) (*firestore.DocumentRef, error) {
	coll, err := r.methodsCollection(ctx, userID)
	if err != nil {
		return nil, err
	}
	id := strings.TrimSpace(paymentMethodID)
	if id == "" {
		return nil, errors.New("payment method repository: id is required")
	}
	return coll.Doc(id), nil
}

func (r *PaymentMethodRepository) methodsCollection(ctx context.Context, userID string) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("payment method repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("payment method repository: user id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(fmt.Sprintf(paymentMethodCollectionPattern, uid)), nil
}

func decodePaymentMethodDocument(snapshot *firestore.DocumentSnapshot) (domain.PaymentMethod, error) {
	var doc paymentMethodDocument
	if err := snapshot.DataTo(&doc); err != nil {
		return domain.PaymentMethod{}, fmt.Errorf("decode payment method %s: %w", snapshot.Ref.ID, err)
	}
	return doc.toDomain(snapshot.Ref.ID), nil
}

func newPaymentMethodDocument(method domain.PaymentMethod, now time.Time) paymentMethodDocument {
	doc := paymentMethodDocument{
		Provider:  strings.TrimSpace(method.Provider),
		Reference: strings.TrimSpace(method.Reference),
		Brand:     strings.TrimSpace(method.Brand),
		Last4:     strings.TrimSpace(method.Last4),
		ExpMonth:  method.ExpMonth,
		ExpYear:   method.ExpYear,
		CreatedAt: method.CreatedAt.UTC(),
	}
	if method.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	return doc
}

type paymentMethodDocument struct {
	Provider  string    `firestore:"provider"`
	Reference string    `firestore:"reference"`
	Brand     string    `firestore:"brand,omitempty"`
	Last4     string    `firestore:"last4,omitempty"`
	ExpMonth  int       `firestore:"expMonth,omitempty"`
	ExpYear   int       `firestore:"expYear,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func (d paymentMethodDocument) toDomain(id string) domain.PaymentMethod {
	return domain.PaymentMethod{
		ID:        id,
		Provider:  strings.TrimSpace(d.Provider),
		Reference: strings.TrimSpace(d.Reference),
		Brand:     strings.TrimSpace(d.Brand),
		Last4:     strings.TrimSpace(d.Last4),
		ExpMonth:  d.ExpMonth,
		ExpYear:   d.ExpYear,
		CreatedAt: d.CreatedAt,
	}
}

var _ repositories.PaymentMethodRepository = (*PaymentMethodRepository)(nil)
