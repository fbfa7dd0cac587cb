package assetkit

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// UploadStream is a writable handle for one blob upload. The assigned id
// is available immediately; Done flips once Close has completed the
// upload and Length reports the bytes written so far.
type UploadStream interface {
	io.WriteCloser

	ID() uuid.UUID
	Done() bool
	Length() int64

	// Abort discards the partial upload and releases resources. Safe to
	// call after Close, where it is a no-op.
	Abort() error
}

// UploadOptions tune one blob upload.
type UploadOptions struct {
	// ID forces the blob id; zero means the driver assigns one.
	ID uuid.UUID
	// ChunkSize is a hint for chunked stores, in bytes.
	ChunkSize int32
	// ContentType of the payload.
	ContentType string
	// Metadata stored alongside the blob, so the store stays
	// self-describing without the database.
	Metadata *AssetMeta
}

// Driver is a pluggable blob storage backend keyed by opaque ids.
type Driver interface {
	OpenUploadStream(ctx context.Context, filename string, opts UploadOptions) (UploadStream, error)

	// OpenDownloadStream fails with ErrBlobNotFound when the id has no
	// corresponding blob.
	OpenDownloadStream(ctx context.Context, id uuid.UUID) (io.ReadCloser, error)

	// Delete removes a blob. A missing blob is treated as success; any
	// other error propagates.
	Delete(ctx context.Context, id uuid.UUID) error
}

// Detector sniffs a payload to produce its content type.
type Detector interface {
	// Detect inspects buf. When sniffing yields nothing and hint is
	// non-empty, the result is {Ext: "", Mime: hint}; without a hint the
	// failure surfaces as ErrDetectionFailed.
	Detect(buf []byte, hint string) (FileType, error)
}

// Processor enriches asset metadata and optionally transforms the
// payload, branching on the media family of the content type.
type Processor interface {
	// Process returns the (possibly re-encoded) payload and merges probe
	// output into meta. Payloads of unsupported families pass through.
	Process(ctx context.Context, payload []byte, meta *AssetMeta, fileType FileType) ([]byte, error)

	// Preview returns thumbnail bytes for payloads that support preview
	// generation, or nil when no preview asset should be created.
	Preview(ctx context.Context, payload []byte, meta *AssetMeta, fileType FileType) ([]byte, error)
}

// Repository is the asset metadata store.
type Repository interface {
	// Save upserts the full record by id.
	Save(ctx context.Context, rec *AssetRecord) error

	// Get fails with ErrAssetNotFound when the id has no record.
	Get(ctx context.Context, id uuid.UUID) (*AssetRecord, error)

	// Find returns the first matching record or nil without error when
	// nothing matches.
	Find(ctx context.Context, filter Filter) (*AssetRecord, error)

	FindMany(ctx context.Context, filter Filter) ([]*AssetRecord, error)

	// UpdateMeta replaces the metadata document of an existing record.
	UpdateMeta(ctx context.Context, id uuid.UUID, meta AssetMeta) error

	Delete(ctx context.Context, id uuid.UUID) error
}
