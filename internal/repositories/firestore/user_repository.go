package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	domain "github.com/panierapp/api/internal/domain"
	pfirestore "github.com/panierapp/api/internal/platform/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const userCollection = "users"

// UserRepository persists buyer profiles. Concurrent edits are guarded with
// Firestore update-time preconditions when the caller supplies a sync time.
type UserRepository struct {
	base     *pfirestore.BaseRepository[userDocument]
	provider *pfirestore.Provider
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	return &UserRepository{
		base:     pfirestore.NewBaseRepository[userDocument](provider, userCollection, nil, nil),
		provider: provider,
	}, nil
}

// FindByID loads the user profile by Firebase UID.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.UserProfile, error) {
	if r == nil || r.base == nil {
		return domain.UserProfile{}, errors.New("user repository not initialised")
	}
	if strings.TrimSpace(userID) == "" {
		return domain.UserProfile{}, errors.New("user id is required")
	}
	return r.load(ctx, userID)
}

// load reads the document and fills server-side timestamps into the profile.
func (r *UserRepository) load(ctx context.Context, userID string) (domain.UserProfile, error) {
	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.UserProfile{}, err
	}

	profile := toDomainProfile(doc.Data)
	profile.ID = doc.ID
	profile.LastSyncTime = doc.UpdateTime
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = doc.CreateTime
	}
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = doc.UpdateTime
	}
	return profile, nil
}

// UpdateProfile upserts the profile. A non-zero LastSyncTime turns the write
// into a compare-and-set against the stored document's update time.
func (r *UserRepository) UpdateProfile(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error) {
	if r == nil || r.base == nil {
		return domain.UserProfile{}, errors.New("user repository not initialised")
	}
	if strings.TrimSpace(profile.ID) == "" {
		return domain.UserProfile{}, errors.New("profile id is required")
	}

	doc := fromDomainProfile(profile, time.Now().UTC())

	if profile.LastSyncTime.IsZero() {
		result, err := r.base.Set(ctx, profile.ID, doc)
		if err != nil {
			return domain.UserProfile{}, err
		}
		saved := toDomainProfile(doc)
		saved.ID = profile.ID
		saved.LastSyncTime = result.UpdateTime
		return saved, nil
	}

	if r.provider == nil {
		return domain.UserProfile{}, errors.New("user repository provider unavailable")
	}
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docRef, err := r.base.DocumentRef(ctx, profile.ID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(docRef)
		if err != nil {
			return err
		}
		if !snap.UpdateTime.Equal(profile.LastSyncTime) {
			return status.Error(codes.Aborted, "user profile stale update")
		}
		return tx.Set(docRef, doc)
	})
	if err != nil {
		return domain.UserProfile{}, err
	}
	return r.load(ctx, profile.ID)
}

type userDocument struct {
	UID               string             `firestore:"uid"`
	DisplayName       string             `firestore:"displayName"`
	Email             string             `firestore:"email"`
	PhoneNumber       string             `firestore:"phoneNumber"`
	PhotoURL          string             `firestore:"photoURL"`
	PreferredLanguage string             `firestore:"preferredLanguage"`
	Locale            string             `firestore:"locale"`
	Roles             []string           `firestore:"roles"`
	IsActive          bool               `firestore:"isActive"`
	NotificationPrefs map[string]bool    `firestore:"notificationPrefs"`
	ProviderData      []providerDocument `firestore:"providerData"`
	CreatedAt         time.Time          `firestore:"createdAt"`
	UpdatedAt         time.Time          `firestore:"updatedAt"`
}

type providerDocument struct {
	ProviderID  string `firestore:"providerId"`
	UID         string `firestore:"uid"`
	Email       string `firestore:"email,omitempty"`
	DisplayName string `firestore:"displayName,omitempty"`
	PhoneNumber string `firestore:"phoneNumber,omitempty"`
	PhotoURL    string `firestore:"photoURL,omitempty"`
}

func toDomainProfile(doc userDocument) domain.UserProfile {
	prefs := make(domain.NotificationPreferences, len(doc.NotificationPrefs))
	for k, v := range doc.NotificationPrefs {
		prefs[k] = v
	}

	return domain.UserProfile{
		DisplayName:       doc.DisplayName,
		Email:             strings.TrimSpace(doc.Email),
		PhoneNumber:       strings.TrimSpace(doc.PhoneNumber),
		PhotoURL:          strings.TrimSpace(doc.PhotoURL),
		PreferredLanguage: strings.TrimSpace(doc.PreferredLanguage),
		Locale:            strings.TrimSpace(doc.Locale),
		Roles:             cloneStringSlice(doc.Roles),
		IsActive:          doc.IsActive,
		NotificationPrefs: prefs,
		ProviderData:      toDomainProviders(doc.ProviderData),
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
	}
}

func fromDomainProfile(profile domain.UserProfile, now time.Time) userDocument {
	doc := userDocument{
		UID:               profile.ID,
		DisplayName:       strings.TrimSpace(profile.DisplayName),
		Email:             strings.ToLower(strings.TrimSpace(profile.Email)),
		PhoneNumber:       strings.TrimSpace(profile.PhoneNumber),
		PhotoURL:          strings.TrimSpace(profile.PhotoURL),
		PreferredLanguage: strings.TrimSpace(profile.PreferredLanguage),
		Locale:            strings.TrimSpace(profile.Locale),
		Roles:             normaliseRoles(profile.Roles),
		IsActive:          profile.IsActive,
		ProviderData:      fromDomainProviders(profile.ProviderData),
		CreatedAt:         profile.CreatedAt,
		UpdatedAt:         now,
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.Roles == nil {
		doc.Roles = []string{}
	}
	for k, v := range profile.NotificationPrefs {
		if key := strings.TrimSpace(k); key != "" {
			if doc.NotificationPrefs == nil {
				doc.NotificationPrefs = map[string]bool{}
			}
			doc.NotificationPrefs[key] = v
		}
	}
	return doc
}

func toDomainProviders(docs []providerDocument) []domain.AuthProvider {
	if len(docs) == 0 {
		return nil
	}
	providers := make([]domain.AuthProvider, 0, len(docs))
	for _, p := range docs {
		providers = append(providers, domain.AuthProvider{
			ProviderID:  strings.TrimSpace(p.ProviderID),
			UID:         strings.TrimSpace(p.UID),
			Email:       strings.TrimSpace(p.Email),
			DisplayName: strings.TrimSpace(p.DisplayName),
			PhoneNumber: strings.TrimSpace(p.PhoneNumber),
			PhotoURL:    strings.TrimSpace(p.PhotoURL),
		})
	}
	return providers
}

func fromDomainProviders(providers []domain.AuthProvider) []providerDocument {
	if len(providers) == 0 {
		return nil
	}
	docs := make([]providerDocument, 0, len(providers))
	for _, p := range providers {
		docs = append(docs, providerDocument{
			ProviderID:  strings.TrimSpace(p.ProviderID),
			UID:         strings.TrimSpace(p.UID),
			Email:       strings.TrimSpace(p.Email),
			DisplayName: strings.TrimSpace(p.DisplayName),
			PhoneNumber: strings.TrimSpace(p.PhoneNumber),
			PhotoURL:    strings.TrimSpace(p.PhotoURL),
		})
	}
	return docs
}

func cloneStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	return append([]string(nil), values...)
}

// normaliseRoles lowercases, deduplicates and sorts role names.
func normaliseRoles(roles []string) []string {
	uniq := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if trimmed := strings.ToLower(strings.TrimSpace(role)); trimmed != "" {
			uniq[trimmed] = struct{}{}
		}
	}
	if len(uniq) == 0 {
		return nil
	}
	normalised := make([]string, 0, len(uniq))
	for role := range uniq {
		normalised = append(normalised, role)
	}
	sort.Strings(normalised)
	return normalised
}

var _ interface {
	FindByID(context.Context, string) (domain.UserProfile, error)
	UpdateProfile(context.Context, domain.UserProfile) (domain.UserProfile, error)
} = (*UserRepository)(nil)

// CollectionName exposes the Firestore collection for migration tooling.
func (r *UserRepository) CollectionName() string {
	return userCollection
}

// DocumentPath constructs the document path for the provided user id.
func (r *UserRepository) DocumentPath(userID string) string {
	return fmt.Sprintf("%s/%s", userCollection, strings.TrimSpace(userID))
}
