package assetkit

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// TempAsset is an in-memory asset for content fetched from an external
// URL or generated on the fly, not persisted anywhere. It satisfies the
// Asset contract, except that Unlink always fails and Save/Load are
// no-ops.
type TempAsset struct {
	id          uuid.UUID
	filename    string
	contentType string
	payload     []byte
	meta        *AssetMeta
}

// NewTempAsset wraps a payload as an ephemeral asset.
func NewTempAsset(payload []byte, filename, contentType string, meta *AssetMeta) *TempAsset {
	if meta == nil {
		meta = &AssetMeta{}
	}
	return &TempAsset{
		id:          uuid.New(),
		filename:    filename,
		contentType: contentType,
		payload:     payload,
		meta:        meta,
	}
}

func (a *TempAsset) ID() uuid.UUID       { return a.id }
func (a *TempAsset) Filename() string    { return a.filename }
func (a *TempAsset) ContentType() string { return a.contentType }
func (a *TempAsset) Meta() *AssetMeta    { return a.meta }

func (a *TempAsset) Stream(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(a.payload)), nil
}

func (a *TempAsset) GetBuffer(ctx context.Context) ([]byte, error) {
	return a.payload, nil
}

func (a *TempAsset) Download(ctx context.Context, override *AssetMeta) (io.ReadCloser, error) {
	a.meta.Merge(override)
	return a.Stream(ctx)
}

func (a *TempAsset) DownloadImage(ctx context.Context, params ImageParams, override *AssetMeta) (io.ReadCloser, error) {
	a.meta.Merge(override)
	return io.NopCloser(bytes.NewReader(ToImage(a.payload, params, a.meta))), nil
}

func (a *TempAsset) GetImage(ctx context.Context, params ImageParams) (io.ReadCloser, error) {
	return a.DownloadImage(ctx, params, nil)
}

func (a *TempAsset) SetMeta(ctx context.Context, partial *AssetMeta) error {
	a.meta.Merge(partial)
	return nil
}

func (a *TempAsset) Unlink(ctx context.Context) (string, error) {
	return "", fmt.Errorf("%w: %s", ErrTempAsset, a.id)
}

func (a *TempAsset) Save(ctx context.Context) error { return nil }

func (a *TempAsset) Load(ctx context.Context) error { return nil }

func (a *TempAsset) ToJSON() map[string]any {
	return map[string]any{
		"id":          a.id.String(),
		"filename":    a.filename,
		"contentType": a.contentType,
		"metadata":    a.meta,
	}
}
