package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	firebaseauth "firebase.google.com/go/v4/auth"
	domain "github.com/panierapp/api/internal/domain"
	"github.com/panierapp/api/internal/platform/auth"
	"github.com/panierapp/api/internal/repositories"
	"golang.org/x/text/language"
)

var (
	errUserIDRequired               = errors.New("user: user id is required")
	errActorIDRequired              = errors.New("user: actor id is required")
	errInvalidDisplayName           = errors.New("user: invalid display name")
	errInvalidLanguageTag           = errors.New("user: invalid language tag")
	errInvalidNotificationKey       = errors.New("user: invalid notification key")
	errProfileConflict              = errors.New("user: profile has been modified")
	errAddressRepositoryUnavailable = errors.New("user: address repository not configured")
	errAddressIDRequired            = errors.New("user: address id is required")
	errAddressNotFound              = errors.New("user: address not found")
	errInvalidAddressRecipient      = errors.New("user: invalid address recipient")
	errInvalidAddressLine1          = errors.New("user: invalid address line1")
	errInvalidAddressCity           = errors.New("user: invalid address city")
	errInvalidAddressCountry        = errors.New("user: invalid address country")
	errInvalidAddressPostalCode     = errors.New("user: invalid address postal code")
	errInvalidAddressPhone          = errors.New("user: invalid address phone")
	errPaymentRepositoryUnavailable = errors.New("user: payment method repository not configured")
	errPaymentVerifierUnavailable   = errors.New("user: payment method verifier not configured")
	errPaymentProviderRequired      = errors.New("user: payment provider is required")
	errPaymentTokenRequired         = errors.New("user: payment token is required")
	errPaymentMethodNotFound        = errors.New("user: payment method not found")
	errPaymentMethodDuplicate       = errors.New("user: payment method already exists")
	notificationKeyPattern          = regexp.MustCompile(`^[a-z0-9_.-]{1,40}$`)
	addressPhonePattern             = regexp.MustCompile(`^[0-9+()\-\s]{6,20}$`)
	addressCountryPattern           = regexp.MustCompile(`^[A-Za-z]{2}$`)
	addressPostalPattern            = regexp.MustCompile(`^[0-9A-Za-z\-\s]{3,16}$`)
	auditActionProfileUpdate        = "user.profile.update"
)

var (
	// ErrUserProfileConflict indicates the profile has been modified by another concurrent actor.
	ErrUserProfileConflict = errProfileConflict
	// ErrUserInvalidDisplayName indicates the supplied display name failed validation.
	ErrUserInvalidDisplayName = errInvalidDisplayName
	// ErrUserInvalidLanguageTag indicates the supplied language or locale tag is invalid.
	ErrUserInvalidLanguageTag = errInvalidLanguageTag
	// ErrUserInvalidNotificationKey indicates a notification preference key did not meet validation rules.
	ErrUserInvalidNotificationKey = errInvalidNotificationKey
	// ErrUserAddressNotFound indicates the requested address does not exist.
	ErrUserAddressNotFound = errAddressNotFound
	// ErrUserInvalidAddressRecipient indicates the address recipient failed validation.
	ErrUserInvalidAddressRecipient = errInvalidAddressRecipient
	// ErrUserInvalidAddressLine1 indicates the primary address line failed validation.
	ErrUserInvalidAddressLine1 = errInvalidAddressLine1
	// ErrUserInvalidAddressCity indicates the city component failed validation.
	ErrUserInvalidAddressCity = errInvalidAddressCity
	// ErrUserInvalidAddressCountry indicates the country component failed validation.
	ErrUserInvalidAddressCountry = errInvalidAddressCountry
	// ErrUserInvalidAddressPostalCode indicates the postal code failed validation.
	ErrUserInvalidAddressPostalCode = errInvalidAddressPostalCode
	// ErrUserInvalidAddressPhone indicates the phone number failed validation.
	ErrUserInvalidAddressPhone = errInvalidAddressPhone
	// ErrUserPaymentMethodNotFound indicates the requested payment method does not exist.
	ErrUserPaymentMethodNotFound = errPaymentMethodNotFound
	// ErrUserPaymentMethodDuplicate indicates the PSP token already exists for the user.
	ErrUserPaymentMethodDuplicate = errPaymentMethodDuplicate
	// ErrUserPaymentProviderRequired indicates the provider input was empty.
	ErrUserPaymentProviderRequired = errPaymentProviderRequired
	// ErrUserPaymentTokenRequired indicates the token input was empty.
	ErrUserPaymentTokenRequired = errPaymentTokenRequired
)

// PaymentMethodMetadata carries PSP-confirmed card metadata for a tokenised instrument.
type PaymentMethodMetadata struct {
	Token    string
	Brand    string
	Last4    string
	ExpMonth int
	ExpYear  int
}

// PaymentMethodVerifier confirms a tokenised payment method with the PSP before it is stored.
type PaymentMethodVerifier interface {
	VerifyPaymentMethod(ctx context.Context, provider string, token string) (PaymentMethodMetadata, error)
}

// UserServiceDeps bundles the dependencies required to construct a user service instance.
type UserServiceDeps struct {
	Users           repositories.UserRepository
	Addresses       repositories.AddressRepository
	PaymentMethods  repositories.PaymentMethodRepository
	PaymentVerifier PaymentMethodVerifier
	Audit           AuditLogService
	Firebase        auth.UserGetter
	Clock           func() time.Time
}

type userService struct {
	users           repositories.UserRepository
	addresses       repositories.AddressRepository
	paymentMethods  repositories.PaymentMethodRepository
	paymentVerifier PaymentMethodVerifier
	audit           AuditLogService
	firebase        auth.UserGetter
	clock           func() time.Time
}

// NewUserService wires dependencies into a concrete UserService implementation.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errors.New("user service: user repository is required")
	}
	if deps.Firebase == nil {
		return nil, errors.New("user service: firebase user getter is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &userService{
		users:           deps.Users,
		addresses:       deps.Addresses,
		paymentMethods:  deps.PaymentMethods,
		paymentVerifier: deps.PaymentVerifier,
		audit:           deps.Audit,
		firebase:        deps.Firebase,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (s *userService) GetProfile(ctx context.Context, userID string) (UserProfile, error) {
	return s.getProfile(ctx, userID, true)
}

func (s *userService) UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (UserProfile, error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return UserProfile{}, errUserIDRequired
	}
	profile, err := s.getProfile(ctx, cmd.UserID, true)
	if err != nil {
		return UserProfile{}, err
	}

	if strings.TrimSpace(cmd.ActorID) == "" {
		return UserProfile{}, errActorIDRequired
	}

	if cmd.ExpectedSyncTime != nil && !profile.LastSyncTime.IsZero() && !profile.LastSyncTime.Equal(cmd.ExpectedSyncTime.UTC()) {
		return UserProfile{}, errors.Join(errProfileConflict, fmt.Errorf("expected %s got %s", cmd.ExpectedSyncTime.UTC().Format(time.RFC3339Nano), profile.LastSyncTime.Format(time.RFC3339Nano)))
	}

	updated, changes, err := applyProfileUpdates(profile, cmd)
	if err != nil {
		return UserProfile{}, err
	}

	if len(changes) == 0 {
		return profile, nil
	}

	updated.LastSyncTime = profile.LastSyncTime
	updated.UpdatedAt = s.clock()
	saved, err := s.users.UpdateProfile(ctx, updated)
	if err != nil {
		return UserProfile{}, mapProfileConflictError(err)
	}

	s.appendAudit(ctx, auditActionProfileUpdate, cmd.ActorID, saved.ID, changes)
	return saved, nil
}

func (s *userService) ListAddresses(ctx context.Context, userID string) ([]Address, error) {
	if s.addresses == nil {
		return nil, errAddressRepositoryUnavailable
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errUserIDRequired
	}
	return s.addresses.List(ctx, userID)
}

func (s *userService) UpsertAddress(ctx context.Context, cmd UpsertAddressCommand) (Address, error) {
	if s.addresses == nil {
		return Address{}, errAddressRepositoryUnavailable
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Address{}, errUserIDRequired
	}

	targetID := ""
	if cmd.AddressID != nil {
		targetID = strings.TrimSpace(*cmd.AddressID)
	}

	var existing Address
	if targetID != "" {
		found, err := s.addresses.Get(ctx, userID, targetID)
		if err != nil {
			if isUserRepoNotFound(err) {
				return Address{}, errAddressNotFound
			}
			return Address{}, err
		}
		existing = found
	}

	addressInput, err := sanitizeAddress(cmd.Address)
	if err != nil {
		return Address{}, err
	}

	current, err := s.addresses.List(ctx, userID)
	if err != nil {
		return Address{}, err
	}

	// Reuse an identical address instead of inserting a duplicate row.
	if targetID == "" {
		fingerprint := addressFingerprint(addressInput)
		for _, addr := range current {
			if addressFingerprint(addr) == fingerprint {
				targetID = addr.ID
				existing = addr
				break
			}
		}
	}

	final := mergeAddress(existing, addressInput)
	final.ID = targetID
	final.IsDefault = existing.IsDefault
	if cmd.IsDefault || (targetID == "" && len(current) == 0) {
		final.IsDefault = true
	}

	var addressIDPtr *string
	if targetID != "" {
		addressIDPtr = &targetID
	}

	saved, err := s.addresses.Upsert(ctx, userID, addressIDPtr, final)
	if err != nil {
		return Address{}, err
	}
	if saved.IsDefault && saved.ID != "" {
		if promoted, err := s.addresses.SetDefault(ctx, userID, saved.ID); err == nil {
			saved = promoted
		}
	}
	return saved, nil
}

func (s *userService) DeleteAddress(ctx context.Context, cmd DeleteAddressCommand) error {
	if s.addresses == nil {
		return errAddressRepositoryUnavailable
	}
	userID := strings.TrimSpace(cmd.UserID)
	addressID := strings.TrimSpace(cmd.AddressID)
	if userID == "" {
		return errUserIDRequired
	}
	if addressID == "" {
		return errAddressIDRequired
	}

	target, err := s.addresses.Get(ctx, userID, addressID)
	if err != nil {
		if isUserRepoNotFound(err) {
			return errAddressNotFound
		}
		return err
	}

	if err := s.addresses.Delete(ctx, userID, addressID); err != nil {
		return err
	}

	if !target.IsDefault {
		return nil
	}

	remaining, err := s.addresses.List(ctx, userID)
	if err != nil {
		return err
	}
	for _, addr := range remaining {
		if strings.EqualFold(addr.ID, addressID) {
			continue
		}
		if _, err := s.addresses.SetDefault(ctx, userID, addr.ID); err != nil {
			return err
		}
		break
	}
	return nil
}

func (s *userService) ListPaymentMethods(ctx context.Context, userID string) ([]PaymentMethod, error) {
	if s.paymentMethods == nil {
		return nil, errPaymentRepositoryUnavailable
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errUserIDRequired
	}
	items, err := s.paymentMethods.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	copied := append([]PaymentMethod(nil), items...)
	slices.SortStableFunc(copied, func(a, b PaymentMethod) int {
		switch {
		case a.CreatedAt.After(b.CreatedAt):
			return -1
		case a.CreatedAt.Before(b.CreatedAt):
			return 1
		default:
			return strings.Compare(a.ID, b.ID)
		}
	})
	return copied, nil
}

func (s *userService) AddPaymentMethod(ctx context.Context, cmd AddPaymentMethodCommand) (PaymentMethod, error) {
	if s.paymentMethods == nil {
		return PaymentMethod{}, errPaymentRepositoryUnavailable
	}
	if s.paymentVerifier == nil {
		return PaymentMethod{}, errPaymentVerifierUnavailable
	}

	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return PaymentMethod{}, errUserIDRequired
	}

	provider := strings.ToLower(strings.TrimSpace(cmd.Provider))
	if provider == "" {
		return PaymentMethod{}, errPaymentProviderRequired
	}

	token := firstNonEmpty(cmd.Token, cmd.Reference)
	if token == "" {
		return PaymentMethod{}, errPaymentTokenRequired
	}

	meta, err := s.paymentVerifier.VerifyPaymentMethod(ctx, provider, token)
	if err != nil {
		return PaymentMethod{}, err
	}
	if trimmed := strings.TrimSpace(meta.Token); trimmed != "" {
		token = trimmed
	}

	existing, err := s.paymentMethods.List(ctx, userID)
	if err != nil {
		return PaymentMethod{}, err
	}
	for _, method := range existing {
		if strings.TrimSpace(method.Reference) == token {
			return PaymentMethod{}, errPaymentMethodDuplicate
		}
	}

	method := PaymentMethod{
		Provider:  provider,
		Reference: token,
		Brand:     strings.TrimSpace(meta.Brand),
		Last4:     strings.TrimSpace(meta.Last4),
		ExpMonth:  meta.ExpMonth,
		ExpYear:   meta.ExpYear,
		CreatedAt: s.clock(),
	}

	saved, err := s.paymentMethods.Insert(ctx, userID, method)
	if err != nil {
		if isUserRepoConflict(err) {
			return PaymentMethod{}, errPaymentMethodDuplicate
		}
		return PaymentMethod{}, err
	}
	return saved, nil
}

func (s *userService) RemovePaymentMethod(ctx context.Context, cmd RemovePaymentMethodCommand) error {
	if s.paymentMethods == nil {
		return errPaymentRepositoryUnavailable
	}

	userID := strings.TrimSpace(cmd.UserID)
	paymentMethodID := strings.TrimSpace(cmd.PaymentMethodID)
	if userID == "" {
		return errUserIDRequired
	}
	if paymentMethodID == "" {
		return errPaymentMethodNotFound
	}

	if _, err := s.paymentMethods.Get(ctx, userID, paymentMethodID); err != nil {
		if isUserRepoNotFound(err) {
			return errPaymentMethodNotFound
		}
		return err
	}

	if err := s.paymentMethods.Delete(ctx, userID, paymentMethodID); err != nil {
		if isUserRepoNotFound(err) {
			return errPaymentMethodNotFound
		}
		return err
	}
	return nil
}

// getProfile loads the stored profile, seeding it from Firebase Auth on
// first contact when seed is true.
func (s *userService) getProfile(ctx context.Context, userID string, seed bool) (domain.UserProfile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.UserProfile{}, errUserIDRequired
	}

	profile, err := s.users.FindByID(ctx, userID)
	if err == nil {
		return profile, nil
	}
	if !seed || !isUserRepoNotFound(err) {
		return domain.UserProfile{}, err
	}

	record, err := s.firebase.GetUser(ctx, userID)
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("fetch firebase user: %w", err)
	}

	fresh := profileFromFirebase(record, s.clock())
	fresh.ID = userID
	fresh.LastSyncTime = time.Time{}

	saved, err := s.users.UpdateProfile(ctx, fresh)
	if err != nil {
		return domain.UserProfile{}, err
	}
	return saved, nil
}

func applyProfileUpdates(existing domain.UserProfile, cmd UpdateProfileCommand) (domain.UserProfile, map[string]any, error) {
	after := existing
	changes := make(map[string]any)

	if cmd.DisplayName != nil {
		name := strings.TrimSpace(*cmd.DisplayName)
		if err := validateDisplayName(name); err != nil {
			return domain.UserProfile{}, nil, err
		}
		if name != existing.DisplayName {
			after.DisplayName = name
			changes["displayName"] = name
		}
	}

	if cmd.PreferredLanguage != nil {
		canonical, err := canonicaliseLanguageTag(strings.TrimSpace(*cmd.PreferredLanguage))
		if err != nil {
			return domain.UserProfile{}, nil, err
		}
		if canonical != existing.PreferredLanguage {
			after.PreferredLanguage = canonical
			changes["preferredLanguage"] = canonical
		}
	}

	if cmd.Locale != nil {
		canonical, err := canonicaliseLanguageTag(strings.TrimSpace(*cmd.Locale))
		if err != nil {
			return domain.UserProfile{}, nil, err
		}
		if canonical != existing.Locale {
			after.Locale = canonical
			changes["locale"] = canonical
		}
	}

	if cmd.NotificationPrefs != nil {
		prefs, err := normaliseNotificationPrefs(cmd.NotificationPrefs)
		if err != nil {
			return domain.UserProfile{}, nil, err
		}
		if !equalNotificationPrefs(existing.NotificationPrefs, prefs) {
			after.NotificationPrefs = prefs
			changes["notificationPrefs"] = cloneNotificationPrefs(prefs)
		}
	}

	return after, changes, nil
}

func (s *userService) appendAudit(ctx context.Context, action string, actorID string, userID string, changes map[string]any) {
	if s.audit == nil {
		return
	}
	metadata := make(map[string]any, len(changes)+1)
	for k, v := range changes {
		metadata[k] = v
	}
	metadata["service"] = "user"
	s.audit.Record(ctx, AuditLogRecord{
		Actor:      strings.TrimSpace(actorID),
		ActorType:  "user",
		Action:     action,
		TargetRef:  fmt.Sprintf("/users/%s", strings.TrimSpace(userID)),
		OccurredAt: s.clock(),
		Metadata:   metadata,
	})
}

func validateDisplayName(name string) error {
	if name == "" {
		return errInvalidDisplayName
	}
	if utf8.RuneCountInString(name) > 80 {
		return errInvalidDisplayName
	}
	for _, r := range name {
		if r < 32 {
			return errInvalidDisplayName
		}
	}
	return nil
}

func canonicaliseLanguageTag(tag string) (string, error) {
	if tag == "" {
		return "", nil
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return "", errInvalidLanguageTag
	}
	return parsed.String(), nil
}

func normaliseNotificationPrefs(prefs map[string]bool) (domain.NotificationPreferences, error) {
	if len(prefs) == 0 {
		return nil, nil
	}
	result := make(domain.NotificationPreferences, len(prefs))
	for key, value := range prefs {
		key = strings.ToLower(strings.TrimSpace(key))
		if !notificationKeyPattern.MatchString(key) {
			return nil, errInvalidNotificationKey
		}
		result[key] = value
	}
	return result, nil
}

func equalNotificationPrefs(a, b domain.NotificationPreferences) bool {
	if len(a) != len(b) {
		return false
	}
	for key, value := range a {
		if other, ok := b[key]; !ok || other != value {
			return false
		}
	}
	return true
}

func cloneNotificationPrefs(prefs domain.NotificationPreferences) domain.NotificationPreferences {
	if prefs == nil {
		return nil
	}
	dup := make(domain.NotificationPreferences, len(prefs))
	for k, v := range prefs {
		dup[k] = v
	}
	return dup
}

func sanitizeAddress(addr Address) (Address, error) {
	recipient := strings.TrimSpace(addr.Recipient)
	if recipient == "" || utf8.RuneCountInString(recipient) > 120 {
		return Address{}, errInvalidAddressRecipient
	}

	line1 := strings.TrimSpace(addr.Line1)
	if line1 == "" || utf8.RuneCountInString(line1) > 200 {
		return Address{}, errInvalidAddressLine1
	}

	city := strings.TrimSpace(addr.City)
	if city == "" || utf8.RuneCountInString(city) > 100 {
		return Address{}, errInvalidAddressCity
	}

	country := strings.ToUpper(strings.TrimSpace(addr.Country))
	if !addressCountryPattern.MatchString(country) {
		return Address{}, errInvalidAddressCountry
	}

	postal := strings.TrimSpace(addr.PostalCode)
	if !addressPostalPattern.MatchString(postal) {
		return Address{}, errInvalidAddressPostalCode
	}

	sanitized := Address{
		Recipient:  recipient,
		Line1:      line1,
		Line2:      normalizeOptionalString(addr.Line2),
		City:       city,
		State:      normalizeOptionalString(addr.State),
		PostalCode: postal,
		Country:    country,
	}

	if addr.Phone != nil {
		phone := strings.TrimSpace(*addr.Phone)
		if phone != "" {
			if !addressPhonePattern.MatchString(phone) {
				return Address{}, errInvalidAddressPhone
			}
			sanitized.Phone = &phone
		}
	}

	return sanitized, nil
}

func normalizeOptionalString(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func mergeAddress(existing, input Address) Address {
	merged := input
	merged.ID = existing.ID
	merged.IsDefault = existing.IsDefault
	return merged
}

// addressFingerprint hashes the normalised address fields so duplicate
// submissions collapse onto the same document.
func addressFingerprint(addr Address) string {
	parts := []string{
		strings.ToLower(addr.Recipient),
		strings.ToLower(addr.Line1),
		strings.ToLower(stringFromPointer(addr.Line2)),
		strings.ToLower(addr.City),
		strings.ToLower(stringFromPointer(addr.State)),
		strings.ToLower(addr.PostalCode),
		strings.ToLower(addr.Country),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func stringFromPointer(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

func profileFromFirebase(record *firebaseauth.UserRecord, now time.Time) domain.UserProfile {
	profile := domain.UserProfile{
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if record == nil {
		return profile
	}
	if record.UserInfo != nil {
		profile.DisplayName = strings.TrimSpace(record.UserInfo.DisplayName)
		profile.Email = strings.TrimSpace(record.UserInfo.Email)
		profile.PhoneNumber = strings.TrimSpace(record.UserInfo.PhoneNumber)
		profile.PhotoURL = strings.TrimSpace(record.UserInfo.PhotoURL)
	}
	profile.IsActive = !record.Disabled
	if record.UserMetadata != nil && record.UserMetadata.CreationTimestamp > 0 {
		profile.CreatedAt = time.UnixMilli(record.UserMetadata.CreationTimestamp).UTC()
	}
	profile.ProviderData = providersFromFirebase(record)
	return profile
}

func providersFromFirebase(record *firebaseauth.UserRecord) []domain.AuthProvider {
	if record == nil || len(record.ProviderUserInfo) == 0 {
		return nil
	}
	providers := make([]domain.AuthProvider, 0, len(record.ProviderUserInfo))
	for _, info := range record.ProviderUserInfo {
		if info == nil {
			continue
		}
		providers = append(providers, domain.AuthProvider{
			ProviderID:  strings.TrimSpace(info.ProviderID),
			UID:         strings.TrimSpace(info.UID),
			Email:       strings.TrimSpace(info.Email),
			DisplayName: strings.TrimSpace(info.DisplayName),
		})
	}
	if len(providers) == 0 {
		return nil
	}
	return providers
}

func mapProfileConflictError(err error) error {
	if err == nil {
		return nil
	}
	if isUserRepoConflict(err) {
		return errProfileConflict
	}
	return err
}

func isUserRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

func isUserRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsConflict()
	}
	return false
}
