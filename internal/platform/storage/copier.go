package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// Copier duplicates objects between Cloud Storage locations. The worker uses
// it to pin cart item images into an order's namespace at submission time.
type Copier struct {
	client *gcs.Client
}

// NewCopier wraps the Cloud Storage client.
func NewCopier(client *gcs.Client) (*Copier, error) {
	if client == nil {
		return nil, errors.New("storage copier: client is required")
	}
	return &Copier{client: client}, nil
}

// CopyObject copies source bucket/object to the destination. Copying an
// object onto itself is a no-op.
func (c *Copier) CopyObject(ctx context.Context, sourceBucket, sourceObject, destBucket, destObject string) error {
	if c == nil || c.client == nil {
		return errors.New("storage copier: client is not initialised")
	}

	srcBucket := strings.TrimSpace(sourceBucket)
	srcObject := strings.TrimSpace(sourceObject)
	dstBucket := strings.TrimSpace(destBucket)
	dstObject := strings.TrimSpace(destObject)
	if srcBucket == "" || srcObject == "" || dstBucket == "" || dstObject == "" {
		return errors.New("storage copier: source and destination must be provided")
	}
	if srcBucket == dstBucket && srcObject == dstObject {
		return nil
	}

	src := c.client.Bucket(srcBucket).Object(srcObject)
	dst := c.client.Bucket(dstBucket).Object(dstObject)
	if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
		return fmt.Errorf("storage copier: copy %s/%s to %s/%s: %w", srcBucket, srcObject, dstBucket, dstObject, err)
	}
	return nil
}
