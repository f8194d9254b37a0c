package storage

import (
	"fmt"
	"strings"
	"sync"
)

// AssetPurpose captures high-level intent for storage layout decisions.
type AssetPurpose string

const (
	PurposeCartImage  AssetPurpose = "cart-image"
	PurposeOrderImage AssetPurpose = "order-image"
	PurposeReceipt    AssetPurpose = "receipt"
)

// PathParams provide required identifiers to compose storage object keys.
type PathParams struct {
	UserID        string
	ItemID        string
	OrderID       string
	InvoiceNumber string
	FileName      string
}

// PathBuilder composes the object path for a given asset purpose.
type PathBuilder func(PathParams) (string, error)

var (
	pathBuildersMu sync.RWMutex
	pathBuilders   = map[AssetPurpose]PathBuilder{
		PurposeCartImage:  buildCartImagePath,
		PurposeOrderImage: buildOrderImagePath,
		PurposeReceipt:    buildReceiptPath,
	}
)

// RegisterPathBuilder overrides or registers a builder for a specific purpose.
// Passing a nil builder removes the purpose.
func RegisterPathBuilder(purpose AssetPurpose, builder PathBuilder) {
	pathBuildersMu.Lock()
	defer pathBuildersMu.Unlock()
	if builder == nil {
		delete(pathBuilders, purpose)
		return
	}
	pathBuilders[purpose] = builder
}

// BuildObjectPath resolves the storage object path for the given purpose.
func BuildObjectPath(purpose AssetPurpose, params PathParams) (string, error) {
	pathBuildersMu.RLock()
	builder, ok := pathBuilders[purpose]
	pathBuildersMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("storage: unsupported asset purpose %q", purpose)
	}
	return builder(params)
}

func buildCartImagePath(params PathParams) (string, error) {
	segments, err := cleanSegments(
		pathSegment{"userID", params.UserID},
		pathSegment{"itemID", params.ItemID},
		pathSegment{"fileName", params.FileName},
	)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("assets/carts/%s/items/%s/%s", segments[0], segments[1], segments[2]), nil
}

func buildOrderImagePath(params PathParams) (string, error) {
	segments, err := cleanSegments(
		pathSegment{"orderID", params.OrderID},
		pathSegment{"itemID", params.ItemID},
		pathSegment{"fileName", params.FileName},
	)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("assets/orders/%s/items/%s/%s", segments[0], segments[1], segments[2]), nil
}

// buildReceiptPath falls back to "<invoiceNumber>.pdf" when no file name was
// supplied, matching how generated invoices are named.
func buildReceiptPath(params PathParams) (string, error) {
	name := strings.TrimSpace(params.FileName)
	if name == "" && params.InvoiceNumber != "" {
		name = strings.TrimSpace(params.InvoiceNumber) + ".pdf"
	}
	segments, err := cleanSegments(
		pathSegment{"orderID", params.OrderID},
		pathSegment{"fileName", name},
	)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("assets/orders/%s/invoices/%s", segments[0], segments[1]), nil
}

type pathSegment struct {
	name  string
	value string
}

// cleanSegments validates every segment against path injection before any of
// them is used, so error messages always reference the first bad field.
func cleanSegments(segments ...pathSegment) ([]string, error) {
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		value := strings.TrimSpace(seg.value)
		switch {
		case value == "":
			return nil, fmt.Errorf("storage: %s is required", seg.name)
		case strings.ContainsAny(value, "/\\"):
			return nil, fmt.Errorf("storage: %s contains invalid path characters", seg.name)
		case strings.Contains(value, ".."):
			return nil, fmt.Errorf("storage: %s contains invalid traversal sequence", seg.name)
		}
		out = append(out, value)
	}
	return out, nil
}
