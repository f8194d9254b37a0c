package storage

import (
	"context"
	"errors"

	"github.com/panierapp/api/internal/platform/auth"
)

// ErrPermissionDenied is returned when the caller may not access the asset.
var ErrPermissionDenied = errors.New("storage: permission denied")

// AuthorizeDownload decides whether identity may read an asset owned by
// ownerID. Owners see their own item images; staff and admins see all of
// them for order review.
func AuthorizeDownload(identity *auth.Identity, ownerID string, allowAnonymous bool) error {
	switch {
	case allowAnonymous:
		return nil
	case identity == nil:
		return ErrPermissionDenied
	case ownerID != "" && identity.UID == ownerID:
		return nil
	case identity.HasAnyRole(auth.RoleStaff, auth.RoleAdmin):
		return nil
	default:
		return ErrPermissionDenied
	}
}

// AuthorizeDownloadFromContext extracts the identity from context and applies
// the same rules.
func AuthorizeDownloadFromContext(ctx context.Context, ownerID string, allowAnonymous bool) (*auth.Identity, error) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok && !allowAnonymous {
		return nil, ErrPermissionDenied
	}
	if err := AuthorizeDownload(identity, ownerID, allowAnonymous); err != nil {
		return nil, err
	}
	return identity, nil
}
