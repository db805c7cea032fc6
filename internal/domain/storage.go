package domain

import "context"

// ObjectStore uploads blobs and derives their public URLs.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, path string, data []byte, opts UploadOptions) (*UploadResult, error)
	// PublicURL is pure: it performs no I/O and assumes a public bucket.
	PublicURL(bucket, path string) string
}

type UploadOptions struct {
	ContentType string
	Upsert      bool
}

type UploadResult struct {
	Key  string `json:"Key"`
	ID   string `json:"Id,omitempty"`
	Size int    `json:"-"`
}
