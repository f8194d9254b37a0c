package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}

type recordingMetrics struct {
	mu      sync.Mutex
	records []verificationRecord
}

type verificationRecord struct {
	kind    string
	success bool
	reason  string
}

func (m *recordingMetrics) RecordVerification(_ context.Context, kind string, success bool, reason string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, verificationRecord{kind: kind, success: success, reason: reason})
}

// oidcFixture bundles everything a RequireOIDC test needs.
type oidcFixture struct {
	validator *OIDCValidator
	metrics   *recordingMetrics
	token     string
}

func (f *oidcFixture) lastReason(t *testing.T) string {
	t.Helper()
	f.metrics.mu.Lock()
	defer f.metrics.mu.Unlock()
	if len(f.metrics.records) == 0 {
		t.Fatal("expected at least one metric record")
	}
	return f.metrics.records[len(f.metrics.records)-1].reason
}

func newOIDCFixture(t *testing.T, audience, issuer string) *oidcFixture {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	jwk := jose.JSONWebKey{
		Key:       &key.PublicKey,
		KeyID:     "tasks-key",
		Algorithm: jwt.SigningMethodRS256.Alg(),
		Use:       "sig",
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "max-age=600")
		if err := json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}}); err != nil {
			t.Fatalf("encode jwks: %v", err)
		}
	}))
	t.Cleanup(server.Close)

	now := time.Unix(1_700_000_000, 0)
	originalTimeFunc := jwt.TimeFunc
	jwt.TimeFunc = func() time.Time { return now }
	t.Cleanup(func() { jwt.TimeFunc = originalTimeFunc })

	metrics := &recordingMetrics{}
	validator := NewOIDCValidator(
		NewJWKSCache(server.URL,
			WithJWKSLogger(noopLogger{}),
			WithJWKSClock(func() time.Time { return now }),
		),
		WithOIDCLogger(noopLogger{}),
		WithOIDCMetrics(metrics),
		WithOIDCClock(func() time.Time { return now }),
	)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"aud":   []string{audience},
		"iss":   issuer,
		"sub":   "worker@panierapp.iam.gserviceaccount.com",
		"email": "worker@panierapp.iam.gserviceaccount.com",
		"exp":   float64(now.Add(time.Hour).Unix()),
		"iat":   float64(now.Unix()),
	})
	token.Header["kid"] = "tasks-key"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	return &oidcFixture{validator: validator, metrics: metrics, token: signed}
}

func TestJWKSCacheServesKeysFromCache(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	var mu sync.Mutex
	fetches := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		fetches++
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "max-age=3600")
		set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &key.PublicKey,
			KeyID:     "rotated-1",
			Algorithm: jwt.SigningMethodRS256.Alg(),
			Use:       "sig",
		}}}
		if err := json.NewEncoder(w).Encode(set); err != nil {
			t.Fatalf("encode jwks: %v", err)
		}
	}))
	t.Cleanup(server.Close)

	cache := NewJWKSCache(server.URL,
		WithJWKSLogger(noopLogger{}),
		WithJWKSClock(func() time.Time { return time.Unix(1_000_000, 0) }),
	)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		got, err := cache.Key(ctx, "rotated-1")
		if err != nil {
			t.Fatalf("cache.Key call %d: %v", i, err)
		}
		if _, ok := got.(*rsa.PublicKey); !ok {
			t.Fatalf("expected *rsa.PublicKey, got %T", got)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if fetches != 1 {
		t.Fatalf("expected a single jwks fetch, got %d", fetches)
	}
}

func TestRequireOIDCAcceptsSignedToken(t *testing.T) {
	fx := newOIDCFixture(t, "https://api.panierapp.example", "https://accounts.google.com")
	middleware := fx.validator.RequireOIDC("https://api.panierapp.example", []string{"https://accounts.google.com"})

	req := httptest.NewRequest(http.MethodPost, "/internal/tasks/image-mirror", nil)
	req.Header.Set("Authorization", "Bearer "+fx.token)
	rr := httptest.NewRecorder()

	middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := ServiceIdentityFromContext(r.Context())
		if !ok {
			t.Fatal("expected service identity in context")
		}
		if identity.Email != "worker@panierapp.iam.gserviceaccount.com" {
			t.Fatalf("unexpected identity email %s", identity.Email)
		}
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if reason := fx.lastReason(t); reason != "ok" {
		t.Fatalf("expected ok metric, got %s", reason)
	}
}

func TestRequireOIDCRejectsAudienceMismatch(t *testing.T) {
	fx := newOIDCFixture(t, "https://api.panierapp.example", "https://accounts.google.com")
	middleware := fx.validator.RequireOIDC("https://other.panierapp.example", []string{"https://accounts.google.com"})

	req := httptest.NewRequest(http.MethodPost, "/internal/tasks/image-mirror", nil)
	req.Header.Set("Authorization", "Bearer "+fx.token)
	rr := httptest.NewRecorder()

	middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run on audience mismatch")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if reason := fx.lastReason(t); reason != "audience_mismatch" {
		t.Fatalf("expected audience_mismatch metric, got %s", reason)
	}
}

func TestRequireOIDCRejectsUnknownIssuer(t *testing.T) {
	fx := newOIDCFixture(t, "https://api.panierapp.example", "https://issuer.example")
	middleware := fx.validator.RequireOIDC("https://api.panierapp.example", []string{"https://accounts.google.com"})

	req := httptest.NewRequest(http.MethodPost, "/internal/tasks/image-mirror", nil)
	req.Header.Set("Authorization", "Bearer "+fx.token)
	rr := httptest.NewRecorder()

	middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run for an unknown issuer")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if reason := fx.lastReason(t); reason != "issuer_mismatch" {
		t.Fatalf("expected issuer_mismatch metric, got %s", reason)
	}
}

func TestRequireOIDCReadsIAPAssertionHeader(t *testing.T) {
	const audience = "/projects/42/global/backendServices/7"
	fx := newOIDCFixture(t, audience, "https://cloud.google.com/iap")
	middleware := fx.validator.RequireOIDC(audience, []string{"https://cloud.google.com/iap"})

	req := httptest.NewRequest(http.MethodGet, "/internal/tasks/health", nil)
	req.Header.Set("X-Goog-Iap-Jwt-Assertion", fx.token)
	rr := httptest.NewRecorder()

	middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
}

func TestRequireOIDCReportsJWKSOutage(t *testing.T) {
	fx := newOIDCFixture(t, "https://api.panierapp.example", "https://accounts.google.com")
	// Point the cache at a dead endpoint so the fetch fails.
	fx.validator.cache.url = "http://127.0.0.1:65535/jwks"

	middleware := fx.validator.RequireOIDC("https://api.panierapp.example", []string{"https://accounts.google.com"})

	req := httptest.NewRequest(http.MethodPost, "/internal/tasks/image-mirror", nil)
	req.Header.Set("Authorization", "Bearer "+fx.token)
	rr := httptest.NewRecorder()

	middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run when jwks cannot be fetched")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if reason := fx.lastReason(t); reason != "jwks_unavailable" {
		t.Fatalf("expected jwks_unavailable metric, got %s", reason)
	}
}
