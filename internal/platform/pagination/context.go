package pagination

import "context"

type contextKey string

const paramsContextKey contextKey = "github.com/panierapp/api/internal/platform/pagination/params"

// WithParams attaches parsed list parameters to the context so handlers and
// repositories share one parse.
func WithParams(ctx context.Context, params Params) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, paramsContextKey, params)
}

// FromContext returns the parameters stored by WithParams, if any.
func FromContext(ctx context.Context) (Params, bool) {
	if ctx == nil {
		return Params{}, false
	}
	params, ok := ctx.Value(paramsContextKey).(Params)
	return params, ok
}

// FromContextOrDefault never fails: absent or invalid params come back with
// the default page size.
func FromContextOrDefault(ctx context.Context) Params {
	params, ok := FromContext(ctx)
	if !ok {
		return Params{PageSize: DefaultPageSize}
	}
	return Must(params)
}
