package assetkit

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Service coordinates type detection, media processing, blob storage and
// the metadata store for whole-asset operations.
type Service interface {
	// WriteBuffer stores a payload end to end: detect, process, preview,
	// upload, persist. Any stage failure aborts the write.
	WriteBuffer(ctx context.Context, data []byte, req WriteRequest) (*StoredAsset, error)

	// WriteStream buffers the reader and delegates to WriteBuffer; the
	// processing stages are buffer oriented.
	WriteStream(ctx context.Context, r io.Reader, req WriteRequest) (*StoredAsset, error)

	// WriteURL stores the content behind a URL, returning an existing
	// record instead when the same URL was uploaded within the dedup
	// window.
	WriteURL(ctx context.Context, url string, req WriteRequest) (*StoredAsset, error)

	// Fetch downloads a URL into an ephemeral asset without persisting
	// anything.
	Fetch(ctx context.Context, url string) (*TempAsset, error)

	// Read returns the asset for an id, or nil (without error) when the
	// id is zero or unknown.
	Read(ctx context.Context, id uuid.UUID) (*StoredAsset, error)

	Find(ctx context.Context, filter Filter) (*StoredAsset, error)
	FindMany(ctx context.Context, filter Filter) ([]*StoredAsset, error)

	// Unlink removes an asset, deleting its linked preview chain first.
	Unlink(ctx context.Context, id uuid.UUID) error

	// DeleteMany unlinks every matching asset and reports their ids.
	DeleteMany(ctx context.Context, filter Filter) ([]string, error)

	// Move re-uploads an asset's bytes (preview chain first) into
	// another bucket and deletes the original blob. No-op when the asset
	// already lives there.
	Move(ctx context.Context, id uuid.UUID, bucket string) (*StoredAsset, error)

	// Driver resolves a bucket name to its storage driver; an empty name
	// selects the default bucket.
	Driver(bucket string) (Driver, error)

	// DefaultBucket is the bucket used when records carry none.
	DefaultBucket() string
}

// WriteRequest carries the optional parts of one asset write.
type WriteRequest struct {
	// Filename for display purposes; defaults to the asset id.
	Filename string
	// Bucket selects the storage backend; empty means the default.
	Bucket string
	// Meta is merged into the stored metadata document.
	Meta *AssetMeta
	// FileType skips detection entirely when set.
	FileType *FileType
	// TypeHint is the fallback MIME when sniffing yields nothing.
	TypeHint string
}

// Option configures a Service.
type Option func(*service)

// WithRepository sets the metadata store. Required.
func WithRepository(repo Repository) Option {
	return func(s *service) { s.repo = repo }
}

// WithDriver registers a storage driver under a bucket name. The first
// registered driver becomes the default bucket unless overridden.
func WithDriver(bucket string, driver Driver) Option {
	return func(s *service) {
		if s.drivers == nil {
			s.drivers = make(map[string]Driver)
		}
		s.drivers[bucket] = driver
		if s.defaultBucket == "" {
			s.defaultBucket = bucket
		}
	}
}

// WithDefaultBucket overrides which registered bucket is the default.
func WithDefaultBucket(bucket string) Option {
	return func(s *service) { s.defaultBucket = bucket }
}

// WithDetector sets the content type detector.
func WithDetector(d Detector) Option {
	return func(s *service) { s.detector = d }
}

// WithProcessor sets the media processor.
func WithProcessor(p Processor) Option {
	return func(s *service) { s.processor = p }
}

// WithHTTPClient sets the client used for URL fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(s *service) { s.httpClient = c }
}

// WithDedupWindow overrides the URL re-submission window (default one
// week).
func WithDedupWindow(d time.Duration) Option {
	return func(s *service) { s.dedupWindow = d }
}
