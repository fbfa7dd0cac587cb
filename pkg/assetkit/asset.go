package assetkit

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

// Asset is the common contract of stored and temporary assets.
type Asset interface {
	ID() uuid.UUID
	Filename() string
	ContentType() string
	Meta() *AssetMeta

	// Stream opens a fresh download of the asset bytes.
	Stream(ctx context.Context) (io.ReadCloser, error)
	GetBuffer(ctx context.Context) ([]byte, error)

	// Download returns the byte stream after bumping the download
	// counters. DownloadImage additionally pipes the result through the
	// image transform; GetImage does the same without touching counters.
	Download(ctx context.Context, override *AssetMeta) (io.ReadCloser, error)
	DownloadImage(ctx context.Context, params ImageParams, override *AssetMeta) (io.ReadCloser, error)
	GetImage(ctx context.Context, params ImageParams) (io.ReadCloser, error)

	SetMeta(ctx context.Context, partial *AssetMeta) error
	Unlink(ctx context.Context) (string, error)
	Save(ctx context.Context) error
	Load(ctx context.Context) error
	ToJSON() map[string]any
}

// StoredAsset is a thin stateful view over one repository record plus
// the driver holding its bytes. It is not a cache: Stream always opens a
// fresh download.
type StoredAsset struct {
	record *AssetRecord
	repo   Repository
	driver Driver
}

// NewStoredAsset binds a record to its repository and storage driver.
func NewStoredAsset(record *AssetRecord, repo Repository, driver Driver) *StoredAsset {
	if record.Meta.Extra == nil {
		record.Meta.Extra = map[string]any{}
	}
	return &StoredAsset{record: record, repo: repo, driver: driver}
}

func (a *StoredAsset) ID() uuid.UUID       { return a.record.ID }
func (a *StoredAsset) Filename() string    { return a.record.Filename }
func (a *StoredAsset) ContentType() string { return a.record.ContentType }
func (a *StoredAsset) Meta() *AssetMeta    { return &a.record.Meta }

// Bucket is the logical storage backend name the bytes live in.
func (a *StoredAsset) Bucket() string { return a.record.Bucket }

// Record exposes the underlying record for persistence layers.
func (a *StoredAsset) Record() *AssetRecord { return a.record }

func (a *StoredAsset) Stream(ctx context.Context) (io.ReadCloser, error) {
	return a.driver.OpenDownloadStream(ctx, a.record.ID)
}

func (a *StoredAsset) GetBuffer(ctx context.Context) ([]byte, error) {
	stream, err := a.Stream(ctx)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	return io.ReadAll(stream)
}

// Download merges the override into the stored metadata, bumps the
// download counters and persists them before returning the stream.
// Accounting is optimistic: a stream failing mid-transfer has already
// been counted.
func (a *StoredAsset) Download(ctx context.Context, override *AssetMeta) (io.ReadCloser, error) {
	meta := &a.record.Meta
	meta.Merge(override)

	now := time.Now().UTC()
	if meta.DownloadCount <= 0 || meta.FirstDownload == nil {
		meta.DownloadCount = 1
	} else {
		meta.DownloadCount++
	}
	if meta.FirstDownload == nil {
		meta.FirstDownload = &now
	}
	meta.LastDownload = &now

	if err := a.repo.UpdateMeta(ctx, a.record.ID, *meta); err != nil {
		return nil, &AssetError{AssetID: a.record.ID, Op: "download", Err: err}
	}
	return a.Stream(ctx)
}

func (a *StoredAsset) DownloadImage(ctx context.Context, params ImageParams, override *AssetMeta) (io.ReadCloser, error) {
	stream, err := a.Download(ctx, override)
	if err != nil {
		return nil, err
	}
	return ToImageReader(stream, params, &a.record.Meta)
}

// GetImage is the peek path: same transform as DownloadImage without the
// counter bump.
func (a *StoredAsset) GetImage(ctx context.Context, params ImageParams) (io.ReadCloser, error) {
	stream, err := a.Stream(ctx)
	if err != nil {
		return nil, err
	}
	return ToImageReader(stream, params, &a.record.Meta)
}

// SetMeta shallow-merges partial into the stored metadata and persists
// it. Download counters are not touched.
func (a *StoredAsset) SetMeta(ctx context.Context, partial *AssetMeta) error {
	a.record.Meta.Merge(partial)
	return a.repo.UpdateMeta(ctx, a.record.ID, a.record.Meta)
}

// Unlink deletes the driver blob and then the metadata record. A missing
// blob is tolerated; the asset's id is returned either way.
func (a *StoredAsset) Unlink(ctx context.Context) (string, error) {
	if err := a.driver.Delete(ctx, a.record.ID); err != nil && !errors.Is(err, ErrBlobNotFound) {
		return a.record.ID.String(), err
	}
	if err := a.repo.Delete(ctx, a.record.ID); err != nil && !errors.Is(err, ErrAssetNotFound) {
		return a.record.ID.String(), err
	}
	return a.record.ID.String(), nil
}

// Save upserts the full current record by id.
func (a *StoredAsset) Save(ctx context.Context) error {
	now := time.Now().UTC()
	a.record.UpdatedAt = now
	if a.record.CreatedAt.IsZero() {
		a.record.CreatedAt = now
	}
	return a.repo.Save(ctx, a.record)
}

// Load re-reads the record from the repository.
func (a *StoredAsset) Load(ctx context.Context) error {
	rec, err := a.repo.Get(ctx, a.record.ID)
	if err != nil {
		return err
	}
	a.record = rec
	return nil
}

// ToJSON renders the full record with the id, defaulting createdAt from
// updatedAt so a fresh record's first serialization stamps both.
func (a *StoredAsset) ToJSON() map[string]any {
	updatedAt := a.record.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	createdAt := a.record.CreatedAt
	if createdAt.IsZero() {
		createdAt = updatedAt
	}
	out := map[string]any{
		"id":          a.record.ID.String(),
		"filename":    a.record.Filename,
		"contentType": a.record.ContentType,
		"metadata":    a.record.Meta,
		"createdAt":   createdAt,
		"updatedAt":   updatedAt,
	}
	if a.record.Bucket != "" {
		out["bucket"] = a.record.Bucket
	}
	return out
}
