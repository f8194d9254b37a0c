package pagination

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d, got %d", DefaultPageSize, params.PageSize)
	}
	if params.PageToken != "" || len(params.Orders) != 0 || len(params.Filters) != 0 {
		t.Fatalf("expected empty params, got %#v", params)
	}
}

func TestParsePageSizeClamping(t *testing.T) {
	opts := Options{DefaultPageSize: 25, MaxPageSize: 40}

	cases := []struct {
		raw  string
		want int
	}{
		{"", 25},
		{"30", 30},
		{"400", 40},
	}
	for _, tc := range cases {
		values := url.Values{}
		if tc.raw != "" {
			values.Set("pageSize", tc.raw)
		}
		params, err := Parse(values, opts)
		if err != nil {
			t.Fatalf("Parse(pageSize=%q): %v", tc.raw, err)
		}
		if params.PageSize != tc.want {
			t.Fatalf("pageSize=%q: expected %d, got %d", tc.raw, tc.want, params.PageSize)
		}
	}
}

func TestParsePageSizeInvalid(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-5"} {
		values := url.Values{"pageSize": {raw}}
		if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("pageSize=%q: expected ErrInvalidPageSize, got %v", raw, err)
		}
	}
}

func TestParsePageToken(t *testing.T) {
	token, err := EncodeToken(Cursor{StartAfter: []any{"order-42", 1234}})
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}

	values := url.Values{"pageToken": {token}}
	params, err := Parse(values, Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if params.PageToken != token {
		t.Fatalf("expected token %q, got %q", token, params.PageToken)
	}
	if len(params.Cursor.StartAfter) != 2 {
		t.Fatalf("expected 2 cursor values, got %#v", params.Cursor.StartAfter)
	}
	if s, ok := params.Cursor.StartAfter[0].(string); !ok || s != "order-42" {
		t.Fatalf("unexpected first cursor value %#v", params.Cursor.StartAfter[0])
	}
	// Numbers round-trip through JSON as float64.
	if fmt.Sprint(params.Cursor.StartAfter[1]) != "1234" {
		t.Fatalf("unexpected second cursor value %#v", params.Cursor.StartAfter[1])
	}
}

func TestParsePageTokenInvalid(t *testing.T) {
	values := url.Values{"pageToken": {"!!!not-a-token!!!"}}
	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}

func TestParseOrderBy(t *testing.T) {
	values := url.Values{}
	values.Add("orderBy", "createdAt desc")
	values.Add("orderBy", "totalCents asc,status desc")

	params, err := Parse(values, Options{AllowedOrderFields: []string{"createdAt", "totalCents", "status"}})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	want := []Order{
		{Field: "createdAt", Desc: true},
		{Field: "totalCents"},
		{Field: "status", Desc: true},
	}
	if !reflect.DeepEqual(params.Orders, want) {
		t.Fatalf("expected orders %#v, got %#v", want, params.Orders)
	}
}

func TestParseOrderByRejected(t *testing.T) {
	opts := Options{AllowedOrderFields: []string{"createdAt"}}

	cases := []struct {
		name   string
		clause string
		opts   Options
	}{
		{"ordering unsupported", "createdAt desc", Options{}},
		{"bad direction", "createdAt sideways", opts},
		{"unknown field", "secretField desc", opts},
	}
	for _, tc := range cases {
		values := url.Values{"orderBy": {tc.clause}}
		if _, err := Parse(values, tc.opts); !errors.Is(err, ErrInvalidOrderBy) {
			t.Fatalf("%s: expected ErrInvalidOrderBy, got %v", tc.name, err)
		}
	}
}

func TestParseFilters(t *testing.T) {
	values := url.Values{}
	values.Add("filter", "status == submitted")
	values.Add("filter", "totalCents >= 1000")
	values.Add("filter", "siteNames array-contains zara.com")

	params, err := Parse(values, Options{AllowedFilterFields: map[string][]Operator{
		"status":     {OperatorEqual},
		"totalCents": {OperatorGreaterEqual},
		"siteNames":  {OperatorArrayContains},
	}})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	want := []Filter{
		{Field: "status", Op: OperatorEqual, Value: "submitted"},
		{Field: "totalCents", Op: OperatorGreaterEqual, Value: "1000"},
		{Field: "siteNames", Op: OperatorArrayContains, Value: "zara.com"},
	}
	if !reflect.DeepEqual(params.Filters, want) {
		t.Fatalf("expected filters %#v, got %#v", want, params.Filters)
	}
}

func TestParseFiltersRejected(t *testing.T) {
	opts := Options{AllowedFilterFields: map[string][]Operator{"status": {OperatorEqual}}}

	cases := []struct {
		name   string
		clause string
		opts   Options
	}{
		{"filtering unsupported", "status == submitted", Options{}},
		{"operator not allowed", "status >= submitted", opts},
		{"unknown field", "internalNote == x", opts},
	}
	for _, tc := range cases {
		values := url.Values{"filter": {tc.clause}}
		if _, err := Parse(values, tc.opts); !errors.Is(err, ErrInvalidFilter) {
			t.Fatalf("%s: expected ErrInvalidFilter, got %v", tc.name, err)
		}
	}
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := EncodeToken(Cursor{StartAfter: []any{"cart-1"}, StartAt: []any{7}})
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}
	if token == "" {
		t.Fatal("expected a non-empty token")
	}

	decoded, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if s, ok := decoded.StartAfter[0].(string); !ok || s != "cart-1" {
		t.Fatalf("unexpected startAfter %#v", decoded.StartAfter)
	}
	if fmt.Sprint(decoded.StartAt[0]) != "7" {
		t.Fatalf("unexpected startAt %#v", decoded.StartAt)
	}

	empty, err := EncodeToken(Cursor{})
	if err != nil {
		t.Fatalf("EncodeToken empty cursor: %v", err)
	}
	if empty != "" {
		t.Fatalf("expected empty token for empty cursor, got %q", empty)
	}
}

func TestDecodeTokenInvalid(t *testing.T) {
	if _, err := DecodeToken("not-base64"); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}

func TestContextHelpers(t *testing.T) {
	params := Params{PageSize: 12}
	got, ok := FromContext(WithParams(nil, params))
	if !ok || !reflect.DeepEqual(got, params) {
		t.Fatalf("expected params %#v from context, got %#v (ok=%v)", params, got, ok)
	}

	fallback := FromContextOrDefault(context.Background())
	if fallback.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d, got %d", DefaultPageSize, fallback.PageSize)
	}
}

func TestFromRequest(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "/admin/orders?pageSize=20", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	params, err := FromRequest(req, Options{})
	if err != nil {
		t.Fatalf("FromRequest: %v", err)
	}
	if params.PageSize != 20 {
		t.Fatalf("expected page size 20, got %d", params.PageSize)
	}
}

func TestMust(t *testing.T) {
	if got := Must(Params{}).PageSize; got != DefaultPageSize {
		t.Fatalf("expected default page size %d, got %d", DefaultPageSize, got)
	}
	if got := Must(Params{PageSize: 15}).PageSize; got != 15 {
		t.Fatalf("expected page size 15, got %d", got)
	}
}
