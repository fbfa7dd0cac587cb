package assetkit

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrAssetNotFound indicates no asset record matched the lookup.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrBlobNotFound indicates the storage driver has no blob for an id.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrBucketNotFound indicates an unknown storage bucket name.
	ErrBucketNotFound = errors.New("storage bucket not found")

	// ErrDetectionFailed indicates type sniffing produced nothing and no
	// content type hint was supplied.
	ErrDetectionFailed = errors.New("content type detection failed")

	// ErrClassified indicates a direct download attempt on a classified
	// asset.
	ErrClassified = errors.New("asset is classified")

	// ErrTempAsset indicates a persistence operation on an in-memory
	// asset that has no stored counterpart.
	ErrTempAsset = errors.New("temporary asset cannot be removed")
)

// SizeError reports an upload exceeding the configured maximum.
type SizeError struct {
	Limit int64
	Size  int64
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("file size exceeds the max limit of %s by %s",
		FormatSize(e.Limit), FormatSize(e.Size-e.Limit))
}

// AssetError wraps a failure of one asset operation.
type AssetError struct {
	AssetID uuid.UUID
	Op      string
	Err     error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("asset operation %s failed for asset %s: %v", e.Op, e.AssetID, e.Err)
}

func (e *AssetError) Unwrap() error {
	return e.Err
}

// StorageError wraps a failure of the underlying blob store.
type StorageError struct {
	Bucket string
	Op     string
	Err    error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed on bucket %s: %v", e.Op, e.Bucket, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ProbeError wraps a media probing failure (video/font parsing). It
// aborts the whole asset write; there is no fallback metadata for
// unparseable media of a claimed type.
type ProbeError struct {
	Family string
	Err    error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("%s probe failed: %v", e.Family, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// FormatSize renders a byte count in a human readable unit.
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}
