package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultSignatureHeader = "X-Signature"
	defaultTimestampHeader = "X-Signature-Timestamp"
	defaultNonceHeader     = "X-Signature-Nonce"

	defaultClockSkew = 5 * time.Minute
	defaultNonceTTL  = 5 * time.Minute
)

// SecretProvider resolves the shared secrets backing HMAC verification.
type SecretProvider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SecretProviderFunc adapts a function to SecretProvider.
type SecretProviderFunc func(context.Context, string) (string, error)

// GetSecret implements SecretProvider.
func (f SecretProviderFunc) GetSecret(ctx context.Context, name string) (string, error) {
	if f == nil {
		return "", errors.New("auth: secret provider not configured")
	}
	return f(ctx, name)
}

// NonceStore records nonces so a captured request cannot be replayed.
type NonceStore interface {
	// UseNonce stores the nonce under scope until expiry. It returns false
	// when the nonce was already present.
	UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error)
}

// InMemoryNonceStore keeps nonces in a map. Fine for tests and single
// instance deployments; replays across instances need a shared store.
type InMemoryNonceStore struct {
	mu     sync.Mutex
	nonces map[string]time.Time
}

// NewInMemoryNonceStore constructs an empty store.
func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{nonces: make(map[string]time.Time)}
}

// UseNonce records the nonce until expiry, sweeping dead entries as it goes.
func (s *InMemoryNonceStore) UseNonce(_ context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: scope and nonce are required")
	}
	key := scope + "::" + nonce

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for k, exp := range s.nonces {
		if exp.Before(now) {
			delete(s.nonces, k)
		}
	}
	if expiry.Before(now) {
		return false, errors.New("auth: nonce expiry is in the past")
	}
	if existing, ok := s.nonces[key]; ok && existing.After(now) {
		return false, nil
	}
	s.nonces[key] = expiry
	return true, nil
}

// HMACValidator verifies signed requests from trusted callers (webhook
// senders, internal services).
type HMACValidator struct {
	provider SecretProvider
	nonces   NonceStore

	logger  Logger
	metrics MetricsRecorder
	now     func() time.Time

	signatureHeader string
	timestampHeader string
	nonceHeader     string

	clockSkew time.Duration
	nonceTTL  time.Duration

	secretCache sync.Map
}

// HMACOption customises the validator.
type HMACOption func(*HMACValidator)

// NewHMACValidator builds a validator over the secret provider and nonce store.
func NewHMACValidator(provider SecretProvider, nonces NonceStore, opts ...HMACOption) *HMACValidator {
	v := &HMACValidator{
		provider:        provider,
		nonces:          nonces,
		logger:          log.Default(),
		now:             time.Now,
		signatureHeader: defaultSignatureHeader,
		timestampHeader: defaultTimestampHeader,
		nonceHeader:     defaultNonceHeader,
		clockSkew:       defaultClockSkew,
		nonceTTL:        defaultNonceTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// WithHMACLogger overrides the validator logger.
func WithHMACLogger(logger Logger) HMACOption {
	return func(v *HMACValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithHMACMetrics sets the metrics recorder.
func WithHMACMetrics(metrics MetricsRecorder) HMACOption {
	return func(v *HMACValidator) {
		v.metrics = metrics
	}
}

// WithHMACClock injects the clock, primarily for tests.
func WithHMACClock(now func() time.Time) HMACOption {
	return func(v *HMACValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithHMACHeaders renames the signature, timestamp and nonce headers.
func WithHMACHeaders(signature, timestamp, nonce string) HMACOption {
	return func(v *HMACValidator) {
		if signature != "" {
			v.signatureHeader = signature
		}
		if timestamp != "" {
			v.timestampHeader = timestamp
		}
		if nonce != "" {
			v.nonceHeader = nonce
		}
	}
}

// WithHMACClockSkew widens or narrows the accepted timestamp window.
func WithHMACClockSkew(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d > 0 {
			v.clockSkew = d
		}
	}
}

// WithHMACNonceTTL sets how long nonces are retained.
func WithHMACNonceTTL(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d > 0 {
			v.nonceTTL = d
		}
	}
}

// HMACMetadata describes a successful verification for downstream handlers.
type HMACMetadata struct {
	SecretName   string
	Timestamp    time.Time
	Nonce        string
	Signature    []byte
	RawSignature string
}

type hmacContextKey struct{}

// WithHMACMetadata stores the metadata on the context.
func WithHMACMetadata(ctx context.Context, meta *HMACMetadata) context.Context {
	if meta == nil {
		return ctx
	}
	return context.WithValue(ctx, hmacContextKey{}, meta)
}

// HMACMetadataFromContext retrieves metadata stored by RequireHMAC.
func HMACMetadataFromContext(ctx context.Context) (*HMACMetadata, bool) {
	meta, ok := ctx.Value(hmacContextKey{}).(*HMACMetadata)
	if !ok || meta == nil {
		return nil, false
	}
	return meta, true
}

// hmacDenial maps an internal failure reason to the HTTP response.
type hmacDenial struct {
	reason  string
	status  int
	code    string
	message string
}

// RequireHMAC rejects requests whose signature over the canonical string
// does not match the named secret, or whose nonce was seen before.
func (v *HMACValidator) RequireHMAC(secretName string) func(http.Handler) http.Handler {
	scope := strings.TrimSpace(secretName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := v.now()
			meta, denial := v.verify(r, scope)
			if denial != nil {
				v.record(r.Context(), false, denial.reason, start)
				respondAuthError(w, denial.status, denial.code, denial.message)
				return
			}
			v.record(r.Context(), true, "ok", start)
			next.ServeHTTP(w, r.WithContext(WithHMACMetadata(r.Context(), meta)))
		})
	}
}

func (v *HMACValidator) verify(r *http.Request, scope string) (*HMACMetadata, *hmacDenial) {
	ctx := r.Context()

	if scope == "" {
		return nil, &hmacDenial{"secret_not_configured", http.StatusServiceUnavailable, "verification_unavailable", "hmac secret not configured"}
	}
	secret, err := v.loadSecret(ctx, scope)
	if err != nil {
		if v.logger != nil {
			v.logger.Printf("auth: hmac secret lookup failed: %v", err)
		}
		return nil, &hmacDenial{"secret_unavailable", http.StatusServiceUnavailable, "verification_unavailable", "hmac secret unavailable"}
	}

	signatureValue := strings.TrimSpace(r.Header.Get(v.signatureHeader))
	if signatureValue == "" {
		return nil, &hmacDenial{"signature_missing", http.StatusUnauthorized, "signature_missing", "signature header missing"}
	}
	timestampValue := strings.TrimSpace(r.Header.Get(v.timestampHeader))
	if timestampValue == "" {
		return nil, &hmacDenial{"timestamp_missing", http.StatusUnauthorized, "timestamp_missing", "signature timestamp missing"}
	}
	timestamp, err := parseSignatureTimestamp(timestampValue)
	if err != nil {
		return nil, &hmacDenial{"timestamp_invalid", http.StatusUnauthorized, "timestamp_invalid", "signature timestamp invalid"}
	}
	if skew := v.now().Sub(timestamp); skew > v.clockSkew || skew < -v.clockSkew {
		return nil, &hmacDenial{"timestamp_skew", http.StatusUnauthorized, "timestamp_skew", "signature timestamp outside allowed window"}
	}
	nonce := strings.TrimSpace(r.Header.Get(v.nonceHeader))
	if nonce == "" {
		return nil, &hmacDenial{"nonce_missing", http.StatusUnauthorized, "nonce_missing", "signature nonce missing"}
	}

	body, err := readAndRestoreBody(r)
	if err != nil {
		return nil, &hmacDenial{"body_unreadable", http.StatusBadRequest, "invalid_body", "unable to read body for signature verification"}
	}
	signature, err := decodeSignature(signatureValue)
	if err != nil {
		return nil, &hmacDenial{"signature_invalid", http.StatusUnauthorized, "signature_invalid", "signature encoding invalid"}
	}
	expected := computeHMAC(secret, buildCanonicalString(r, body, timestampValue, nonce))
	if !hmac.Equal(signature, expected) {
		return nil, &hmacDenial{"signature_mismatch", http.StatusUnauthorized, "signature_mismatch", "signature verification failed"}
	}

	if v.nonces == nil {
		return nil, &hmacDenial{"nonce_store_unavailable", http.StatusServiceUnavailable, "verification_unavailable", "nonce store unavailable"}
	}
	expiry := timestamp.Add(v.nonceTTL)
	if expiry.Before(v.now()) {
		expiry = v.now().Add(v.nonceTTL)
	}
	stored, err := v.nonces.UseNonce(ctx, scope, nonce, expiry)
	if err != nil {
		if v.logger != nil {
			v.logger.Printf("auth: nonce store error: %v", err)
		}
		return nil, &hmacDenial{"nonce_store_error", http.StatusServiceUnavailable, "verification_unavailable", "nonce storage error"}
	}
	if !stored {
		return nil, &hmacDenial{"nonce_replay", http.StatusUnauthorized, "nonce_replay", "duplicate signature nonce"}
	}

	return &HMACMetadata{
		SecretName:   scope,
		Timestamp:    timestamp,
		Nonce:        nonce,
		Signature:    signature,
		RawSignature: signatureValue,
	}, nil
}

// RequireHMACResolver picks the secret per request, letting one webhook
// mount serve multiple providers.
func (v *HMACValidator) RequireHMACResolver(resolver func(*http.Request) (string, bool)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if resolver == nil {
				v.record(r.Context(), false, "secret_not_configured", v.now())
				respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "hmac secret resolver not configured")
				return
			}
			secretName, ok := resolver(r)
			if !ok || strings.TrimSpace(secretName) == "" {
				v.record(r.Context(), false, "provider_unknown", v.now())
				respondAuthError(w, http.StatusUnauthorized, "unknown_provider", "webhook provider not recognised")
				return
			}
			v.RequireHMAC(secretName)(next).ServeHTTP(w, r)
		})
	}
}

func (v *HMACValidator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v == nil || v.metrics == nil {
		return
	}
	v.metrics.RecordVerification(ctx, "hmac", success, reason, v.now().Sub(start))
}

func (v *HMACValidator) loadSecret(ctx context.Context, name string) ([]byte, error) {
	if v == nil || v.provider == nil {
		return nil, errors.New("auth: secret provider not configured")
	}
	if cached, ok := v.secretCache.Load(name); ok {
		if secret, ok := cached.([]byte); ok && len(secret) > 0 {
			return secret, nil
		}
	}
	raw, err := v.provider.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, errors.New("auth: secret is empty")
	}
	secret := []byte(raw)
	v.secretCache.Store(name, secret)
	return secret, nil
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	buf, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

func decodeSignature(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("auth: empty signature")
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be base64 or hex encoded")
}

func parseSignatureTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("auth: timestamp empty")
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("auth: unable to parse timestamp %q", value)
}

// buildCanonicalString joins method, path, timestamp, nonce and the body
// hash with newlines. Both sides must agree on this layout.
func buildCanonicalString(r *http.Request, body []byte, timestamp, nonce string) []byte {
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	hash := sha256.Sum256(body)
	return []byte(strings.Join([]string{
		strings.ToUpper(r.Method),
		path,
		timestamp,
		nonce,
		hex.EncodeToString(hash[:]),
	}, "\n"))
}

func computeHMAC(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}
