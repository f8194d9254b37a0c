package storage

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/panierapp/api/internal/platform/auth"
)

type fakeSigner struct {
	email    string
	payloads [][]byte
	err      error
}

func (f *fakeSigner) Email() string {
	return f.email
}

func (f *fakeSigner) SignBytes(_ context.Context, payload []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, append([]byte(nil), payload...))
	return []byte("signed"), nil
}

func newSignedURLClient(t *testing.T, now time.Time) (*Client, *fakeSigner) {
	t.Helper()
	signer := &fakeSigner{email: "images@panierapp.iam.gserviceaccount.com"}
	opts := []ClientOption{}
	if !now.IsZero() {
		opts = append(opts, WithClock(func() time.Time { return now }))
	}
	client, err := NewClient(signer, opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, signer
}

func TestSignedURLUploadSuccess(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	client, signer := newSignedURLClient(t, now)

	opts := SignedURLOptions{
		Upload: &UploadOptions{
			Method:              "PUT",
			ContentType:         "image/png",
			ContentMD5:          "xN0dYbCPv0CM0k9d1u8G7g==",
			RequireMD5:          true,
			AllowedContentTypes: []string{"image/png"},
			MaxSize:             1 << 20,
			ExpiresIn:           10 * time.Minute,
		},
	}

	res, err := client.SignedURL(context.Background(), "panierapp-item-images", "carts/cart-1/items/item-9/primary.png", opts)
	if err != nil {
		t.Fatalf("SignedURL returned error: %v", err)
	}

	if res.Method != httpMethodPut {
		t.Fatalf("expected method PUT, got %s", res.Method)
	}
	if want := now.Add(10 * time.Minute); !res.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, res.ExpiresAt)
	}
	if res.Headers["Content-Type"] != "image/png" {
		t.Fatalf("expected Content-Type header, got %v", res.Headers)
	}
	if res.Headers["Content-MD5"] != "xN0dYbCPv0CM0k9d1u8G7g==" {
		t.Fatalf("expected Content-MD5 header, got %v", res.Headers)
	}
	if res.Headers["x-goog-content-length-range"] != "0,1048576" {
		t.Fatalf("expected content length header, got %v", res.Headers)
	}

	parsed, err := url.Parse(res.URL)
	if err != nil {
		t.Fatalf("failed to parse signed URL: %v", err)
	}
	if !strings.Contains(parsed.RawQuery, "X-Goog-Signature=") {
		t.Fatalf("expected signature in query: %s", parsed.RawQuery)
	}
	if len(signer.payloads) == 0 {
		t.Fatalf("expected signer to be invoked")
	}
}

func TestSignedURLUploadValidation(t *testing.T) {
	client, _ := newSignedURLClient(t, time.Time{})

	cases := []struct {
		name   string
		upload UploadOptions
		want   error
	}{
		{
			name: "content type not in allow list",
			upload: UploadOptions{
				Method:              "PUT",
				ContentType:         "application/pdf",
				AllowedContentTypes: []string{"image/png", "image/jpeg"},
			},
			want: errContentTypeDenied,
		},
		{
			name: "md5 required but missing",
			upload: UploadOptions{
				Method:      "PUT",
				ContentType: "image/png",
				RequireMD5:  true,
			},
			want: errMD5Required,
		},
		{
			name: "md5 not base64",
			upload: UploadOptions{
				Method:      "PUT",
				ContentType: "image/png",
				ContentMD5:  "not-base64!!!",
			},
			want: errMD5Invalid,
		},
		{
			name: "delete method rejected",
			upload: UploadOptions{
				Method:      "DELETE",
				ContentType: "image/png",
			},
			want: errMethodNotAllowed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := client.SignedURL(context.Background(), "panierapp-item-images", "carts/cart-1/items/item-9/primary.png", SignedURLOptions{Upload: &tc.upload})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSignedURLDownloadPermissionDenied(t *testing.T) {
	client, _ := newSignedURLClient(t, time.Time{})

	opts := SignedURLOptions{
		Download: &DownloadOptions{
			OwnerID:  "buyer-123",
			Identity: &auth.Identity{UID: "other-456"},
		},
	}

	_, err := client.SignedURL(context.Background(), "panierapp-item-images", "orders/order-42/items/item-9/primary.png", opts)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestSignedURLDownloadAllowsStaff(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	client, _ := newSignedURLClient(t, now)

	opts := SignedURLOptions{
		Download: &DownloadOptions{
			OwnerID:   "buyer-123",
			Identity:  &auth.Identity{UID: "reviewer-1", Roles: []string{auth.RoleStaff}},
			ExpiresIn: 5 * time.Minute,
		},
	}

	res, err := client.SignedURL(context.Background(), "panierapp-item-images", "orders/order-42/items/item-9/primary.png", opts)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Method != httpMethodGet {
		t.Fatalf("expected GET method, got %s", res.Method)
	}
	if !res.ExpiresAt.Equal(now.Add(5 * time.Minute)) {
		t.Fatalf("unexpected expiry: %v", res.ExpiresAt)
	}
}

func TestSignedURLDownloadExpiryTooLong(t *testing.T) {
	client, _ := newSignedURLClient(t, time.Time{})

	opts := SignedURLOptions{
		Download: &DownloadOptions{
			Identity:  &auth.Identity{UID: "buyer-123", Roles: []string{auth.RoleUser}},
			OwnerID:   "buyer-123",
			ExpiresIn: 30 * time.Minute,
		},
	}

	_, err := client.SignedURL(context.Background(), "panierapp-item-images", "orders/order-42/items/item-9/primary.png", opts)
	if !errors.Is(err, errExpiryTooLong) {
		t.Fatalf("expected errExpiryTooLong, got %v", err)
	}
}
