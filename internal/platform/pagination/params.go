package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize applies when the client omits pageSize.
	DefaultPageSize = 50
	// DefaultMaxPageSize caps pageSize so list queries stay bounded.
	DefaultMaxPageSize = 100

	maxFilterValueLength = 512
)

// Operator enumerates the filter operators accepted on the query string.
type Operator string

const (
	OperatorEqual         Operator = "=="
	OperatorGreaterThan   Operator = ">"
	OperatorLessThan      Operator = "<"
	OperatorGreaterEqual  Operator = ">="
	OperatorLessEqual     Operator = "<="
	OperatorArrayContains Operator = "array-contains"
)

var supportedOperators = map[Operator]struct{}{
	OperatorEqual:         {},
	OperatorGreaterThan:   {},
	OperatorLessThan:      {},
	OperatorGreaterEqual:  {},
	OperatorLessEqual:     {},
	OperatorArrayContains: {},
}

// Longer operator tokens first so ">=" is not misread as ">".
var operatorPriority = []Operator{
	OperatorArrayContains,
	OperatorGreaterEqual,
	OperatorLessEqual,
	OperatorEqual,
	OperatorGreaterThan,
	OperatorLessThan,
}

// Order is a single order-by clause.
type Order struct {
	Field string
	Desc  bool
}

// Filter is a single predicate parsed from the query string.
type Filter struct {
	Field string
	Op    Operator
	Value string
}

// Cursor carries the Firestore pagination cursor payload.
type Cursor struct {
	StartAfter []any `json:"startAfter,omitempty"`
	StartAt    []any `json:"startAt,omitempty"`
}

// Params is the normalised paging, ordering, and filter state of a request.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
	Orders    []Order
	Filters   []Filter
}

// Options declare what a given list endpoint permits.
type Options struct {
	DefaultPageSize     int
	MaxPageSize         int
	AllowedOrderFields  []string
	AllowedFilterFields map[string][]Operator
}

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidOrderBy   = errors.New("pagination: invalid orderBy")
	ErrInvalidFilter    = errors.New("pagination: invalid filter")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// FromRequest parses the supported query parameters off the request URL.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse validates the query values against opts and returns Params.
func Parse(values url.Values, opts Options) (Params, error) {
	if values == nil {
		values = url.Values{}
	}

	var params Params
	var err error

	if params.PageSize, err = parsePageSize(values.Get("pageSize"), opts); err != nil {
		return Params{}, err
	}

	if token := strings.TrimSpace(values.Get("pageToken")); token != "" {
		cursor, err := DecodeToken(token)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = token
		params.Cursor = cursor
	}

	if params.Orders, err = parseOrder(values["orderBy"], opts.AllowedOrderFields); err != nil {
		return Params{}, err
	}
	if params.Filters, err = parseFilters(values["filter"], opts.AllowedFilterFields); err != nil {
		return Params{}, err
	}
	return params, nil
}

func parsePageSize(raw string, opts Options) (int, error) {
	limit := opts.MaxPageSize
	if limit <= 0 {
		limit = DefaultMaxPageSize
	}
	fallback := opts.DefaultPageSize
	if fallback <= 0 {
		fallback = DefaultPageSize
	}
	if fallback > limit {
		fallback = limit
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}

	size, err := strconv.Atoi(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
	case size <= 0:
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
	case size > limit:
		return limit, nil
	default:
		return size, nil
	}
}

func parseOrder(values []string, allowed []string) ([]Order, error) {
	if len(values) == 0 {
		return nil, nil
	}
	if len(allowed) == 0 {
		return nil, fmt.Errorf("%w: ordering not supported", ErrInvalidOrderBy)
	}

	allowedSet := make(map[string]struct{}, len(allowed))
	for _, field := range allowed {
		if field != "" {
			allowedSet[field] = struct{}{}
		}
	}

	var orders []Order
	seen := make(map[string]struct{})
	for _, raw := range values {
		for _, clause := range strings.Split(raw, ",") {
			clause = strings.TrimSpace(clause)
			if clause == "" {
				continue
			}
			order, err := parseOrderClause(clause)
			if err != nil {
				return nil, err
			}
			if _, ok := allowedSet[order.Field]; !ok {
				return nil, fmt.Errorf("%w: field %q is not allowed", ErrInvalidOrderBy, order.Field)
			}
			key := fmt.Sprintf("%s:%t", order.Field, order.Desc)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			orders = append(orders, order)
		}
	}
	return orders, nil
}

// parseOrderClause accepts "field", "field asc", "field desc", or the
// colon-separated variants of the same.
func parseOrderClause(clause string) (Order, error) {
	if strings.Contains(clause, ":") && !strings.Contains(clause, " ") {
		clause = strings.ReplaceAll(clause, ":", " ")
	}

	segments := strings.Fields(clause)
	switch {
	case len(segments) == 0:
		return Order{}, fmt.Errorf("%w: empty orderBy value", ErrInvalidOrderBy)
	case len(segments) > 2:
		return Order{}, fmt.Errorf("%w: invalid orderBy format %q", ErrInvalidOrderBy, clause)
	}

	order := Order{Field: segments[0]}
	if !isAllowedFieldName(order.Field) {
		return Order{}, fmt.Errorf("%w: invalid field %q", ErrInvalidOrderBy, order.Field)
	}
	if len(segments) == 2 {
		switch strings.ToLower(segments[1]) {
		case "asc":
		case "desc":
			order.Desc = true
		default:
			return Order{}, fmt.Errorf("%w: invalid direction %q", ErrInvalidOrderBy, segments[1])
		}
	}
	return order, nil
}

func parseFilters(values []string, allowed map[string][]Operator) ([]Filter, error) {
	if len(values) == 0 {
		return nil, nil
	}

	allowedOps := allowedOperatorsByField(allowed)
	if len(allowedOps) == 0 {
		return nil, fmt.Errorf("%w: filtering not supported", ErrInvalidFilter)
	}

	filters := make([]Filter, 0, len(values))
	for _, raw := range values {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		filter, err := parseFilterClause(raw)
		if err != nil {
			return nil, err
		}
		ops, ok := allowedOps[filter.Field]
		if !ok {
			return nil, fmt.Errorf("%w: field %q is not allowed", ErrInvalidFilter, filter.Field)
		}
		if _, ok := ops[filter.Op]; !ok {
			return nil, fmt.Errorf("%w: operator %q is not allowed for field %q", ErrInvalidFilter, filter.Op, filter.Field)
		}
		filters = append(filters, filter)
	}
	return filters, nil
}

// allowedOperatorsByField expands the per-field operator allowlist. A field
// mapped to an empty slice accepts every supported operator.
func allowedOperatorsByField(allowed map[string][]Operator) map[string]map[Operator]struct{} {
	out := make(map[string]map[Operator]struct{}, len(allowed))
	for field, ops := range allowed {
		if !isAllowedFieldName(field) {
			continue
		}
		set := make(map[Operator]struct{}, len(ops))
		for _, op := range ops {
			if _, ok := supportedOperators[op]; ok {
				set[op] = struct{}{}
			}
		}
		if len(set) == 0 {
			set = make(map[Operator]struct{}, len(supportedOperators))
			for op := range supportedOperators {
				set[op] = struct{}{}
			}
		}
		out[field] = set
	}
	return out
}

func parseFilterClause(raw string) (Filter, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Filter{}, fmt.Errorf("%w: empty filter value", ErrInvalidFilter)
	}

	field, op, value, err := splitFilter(raw)
	if err != nil {
		return Filter{}, err
	}
	if !isAllowedFieldName(field) {
		return Filter{}, fmt.Errorf("%w: invalid field %q", ErrInvalidFilter, field)
	}
	if _, ok := supportedOperators[op]; !ok {
		return Filter{}, fmt.Errorf("%w: unsupported operator %q", ErrInvalidFilter, op)
	}
	if value = sanitizeFilterValue(value); value == "" {
		return Filter{}, fmt.Errorf("%w: empty value for field %q", ErrInvalidFilter, field)
	}
	return Filter{Field: field, Op: op, Value: value}, nil
}

func splitFilter(raw string) (string, Operator, string, error) {
	for _, op := range operatorPriority {
		idx := strings.Index(raw, string(op))
		if idx <= 0 {
			continue
		}
		field := strings.TrimSpace(raw[:idx])
		value := strings.TrimSpace(raw[idx+len(op):])
		if field != "" && value != "" {
			return field, op, value, nil
		}
	}
	return "", "", "", fmt.Errorf("%w: missing operator in %q", ErrInvalidFilter, raw)
}

func sanitizeFilterValue(value string) string {
	value = strings.Trim(strings.TrimSpace(value), "\"'")
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.TrimSpace(value)
	if len(value) > maxFilterValueLength {
		value = value[:maxFilterValueLength]
	}
	return value
}

func isAllowedFieldName(field string) bool {
	if field == "" {
		return false
	}
	for _, r := range field {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}

// Must backfills PageSize so repository code can rely on a positive value.
func Must(params Params) Params {
	if params.PageSize <= 0 {
		params.PageSize = DefaultPageSize
	}
	return params
}
