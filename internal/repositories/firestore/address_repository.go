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

const addressCollectionPattern = "users/%s/addresses"

// AddressRepository persists shipping addresses as a subcollection per user.
type AddressRepository struct {
	provider *pfirestore.Provider
}

// NewAddressRepository constructs a Firestore-backed address repository.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{provider: provider}, nil
}

// List returns all addresses for the user, default first then most recent.
func (r *AddressRepository) List(ctx context.Context, userID string) ([]domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return nil, err
	}

	iter := coll.OrderBy("updatedAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var results []domain.Address
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("addresses.list", err)
		}
		addr, err := decodeAddressSnapshot(snap)
		if err != nil {
			return nil, err
		}
		if addr.IsDefault {
			results = append([]domain.Address{addr}, results...)
			continue
		}
		results = append(results, addr)
	}
	return results, nil
}

// Get loads a single address.
func (r *AddressRepository) Get(ctx context.Context, userID string, addressID string) (domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return domain.Address{}, err
	}
	id := strings.TrimSpace(addressID)
	if id == "" {
		return domain.Address{}, errors.New("address repository: address id is required")
	}

	snap, err := coll.Doc(id).Get(ctx)
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.get", err)
	}
	return decodeAddressSnapshot(snap)
}

// Upsert creates or updates an address. Setting IsDefault clears the flag
// on every other address in the same transaction.
func (r *AddressRepository) Upsert(ctx context.Context, userID string, addressID *string, addr domain.Address) (domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return domain.Address{}, err
	}

	var saved domain.Address
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var docRef *firestore.DocumentRef
		if addressID != nil {
			if id := strings.TrimSpace(*addressID); id != "" {
				docRef = coll.Doc(id)
			}
		}
		isNew := docRef == nil
		if isNew {
			docRef = coll.NewDoc()
		}

		var doc addressDocument
		if !isNew {
			snap, err := tx.Get(docRef)
			switch status.Code(err) {
			case codes.NotFound:
				return status.Error(codes.NotFound, "address not found")
			case codes.OK:
				if err := snap.DataTo(&doc); err != nil {
					return fmt.Errorf("decode address %s: %w", docRef.ID, err)
				}
			default:
				return err
			}
		}

		var defaults []*firestore.DocumentRef
		if addr.IsDefault {
			snaps, err := tx.Documents(coll.Where("isDefault", "==", true)).GetAll()
			if err != nil && status.Code(err) != codes.NotFound {
				return err
			}
			for _, other := range snaps {
				if other.Ref.ID != docRef.ID {
					defaults = append(defaults, other.Ref)
				}
			}
		}

		now := time.Now().UTC()
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = now
		}
		doc.UpdatedAt = now
		doc.Recipient = strings.TrimSpace(addr.Recipient)
		doc.Line1 = strings.TrimSpace(addr.Line1)
		doc.Line2 = trimmedValue(addr.Line2)
		doc.City = strings.TrimSpace(addr.City)
		doc.State = trimmedValue(addr.State)
		doc.PostalCode = strings.TrimSpace(addr.PostalCode)
		doc.Country = strings.ToUpper(strings.TrimSpace(addr.Country))
		doc.Phone = trimmedValue(addr.Phone)
		doc.IsDefault = addr.IsDefault

		for _, ref := range defaults {
			if err := tx.Update(ref, []firestore.Update{
				{Path: "isDefault", Value: false},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
		}
		if err := tx.Set(docRef, doc); err != nil {
			return err
		}
		saved = documentToAddress(docRef.ID, doc)
		return nil
	})
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.upsert", err)
	}
	return saved, nil
}

// Delete removes the address document.
func (r *AddressRepository) Delete(ctx context.Context, userID string, addressID string) error {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(addressID)
	if id == "" {
		return errors.New("address repository: address id is required")
	}

	if _, err := coll.Doc(id).Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("addresses.delete", err)
	}
	return nil
}

// SetDefault marks the address as the default, clearing the flag elsewhere.
func (r *AddressRepository) SetDefault(ctx context.Context, userID string, addressID string) (domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return domain.Address{}, err
	}
	id := strings.TrimSpace(addressID)
	if id == "" {
		return domain.Address{}, errors.New("address repository: address id is required")
	}

	var saved domain.Address
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docRef := coll.Doc(id)
		snap, err := tx.Get(docRef)
		if err != nil {
			return err
		}
		var doc addressDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode address %s: %w", id, err)
		}

		snaps, err := tx.Documents(coll.Where("isDefault", "==", true)).GetAll()
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		now := time.Now().UTC()
		for _, other := range snaps {
			if other.Ref.ID == id {
				continue
			}
			if err := tx.Update(other.Ref, []firestore.Update{
				{Path: "isDefault", Value: false},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
		}

		doc.IsDefault = true
		doc.UpdatedAt = now
		if err := tx.Set(docRef, doc); err != nil {
			return err
		}
		saved = documentToAddress(id, doc)
		return nil
	})
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.setDefault", err)
	}
	return saved, nil
}

func (r *AddressRepository) collection(ctx context.Context, userID string) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("address repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("address repository: user id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(fmt.Sprintf(addressCollectionPattern, uid)), nil
}

func decodeAddressSnapshot(snap *firestore.DocumentSnapshot) (domain.Address, error) {
	var doc addressDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Address{}, fmt.Errorf("decode address %s: %w", snap.Ref.ID, err)
	}
	return documentToAddress(snap.Ref.ID, doc), nil
}

func documentToAddress(id string, doc addressDocument) domain.Address {
	return domain.Address{
		ID:         id,
		Recipient:  doc.Recipient,
		Line1:      doc.Line1,
		Line2:      optionalString(doc.Line2),
		City:       doc.City,
		State:      optionalString(doc.State),
		PostalCode: doc.PostalCode,
		Country:    doc.Country,
		Phone:      optionalString(doc.Phone),
		IsDefault:  doc.IsDefault,
	}
}

func trimmedValue(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

type addressDocument struct {
	Recipient  string    `firestore:"recipient"`
	Line1      string    `firestore:"line1"`
	Line2      string    `firestore:"line2,omitempty"`
	City       string    `firestore:"city"`
	State      string    `firestore:"state,omitempty"`
	PostalCode string    `firestore:"postalCode"`
	Country    string    `firestore:"country"`
	Phone      string    `firestore:"phone,omitempty"`
	IsDefault  bool      `firestore:"isDefault"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

var _ repositories.AddressRepository = (*AddressRepository)(nil)
