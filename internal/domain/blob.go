package domain

import (
	"context"
	"io"
)

// BlobWriter uploads objects to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
