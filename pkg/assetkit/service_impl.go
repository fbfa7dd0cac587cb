package assetkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// defaultDedupWindow is how long a URL upload shields identical
	// re-submissions.
	defaultDedupWindow = 7 * 24 * time.Hour

	// maxPreviewDepth bounds preview chain walks so a corrupted link
	// cycle cannot recurse forever.
	maxPreviewDepth = 8
)

type service struct {
	repo          Repository
	drivers       map[string]Driver
	defaultBucket string
	detector      Detector
	processor     Processor
	httpClient    *http.Client
	dedupWindow   time.Duration
}

// New assembles a Service from options. A repository, at least one
// driver, a detector and a processor are required.
func New(opts ...Option) (Service, error) {
	s := &service{
		httpClient:  http.DefaultClient,
		dedupWindow: defaultDedupWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.repo == nil {
		return nil, errors.New("assetkit: repository is required")
	}
	if len(s.drivers) == 0 {
		return nil, errors.New("assetkit: at least one storage driver is required")
	}
	if _, ok := s.drivers[s.defaultBucket]; !ok {
		return nil, fmt.Errorf("assetkit: %w: default bucket %q has no driver", ErrBucketNotFound, s.defaultBucket)
	}
	if s.detector == nil {
		return nil, errors.New("assetkit: detector is required")
	}
	if s.processor == nil {
		return nil, errors.New("assetkit: processor is required")
	}
	return s, nil
}

func (s *service) DefaultBucket() string { return s.defaultBucket }

func (s *service) Driver(bucket string) (Driver, error) {
	if bucket == "" {
		bucket = s.defaultBucket
	}
	driver, ok := s.drivers[bucket]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBucketNotFound, bucket)
	}
	return driver, nil
}

func (s *service) bucketName(bucket string) string {
	if bucket == "" {
		return s.defaultBucket
	}
	return bucket
}

func (s *service) WriteBuffer(ctx context.Context, data []byte, req WriteRequest) (*StoredAsset, error) {
	bucket := s.bucketName(req.Bucket)
	driver, err := s.Driver(bucket)
	if err != nil {
		return nil, err
	}

	fileType := FileType{}
	if req.FileType != nil {
		fileType = *req.FileType
	} else {
		fileType, err = s.detector.Detect(data, req.TypeHint)
		if err != nil {
			return nil, err
		}
	}

	meta := &AssetMeta{}
	meta.Merge(req.Meta)
	meta.Extension = fileType.Ext

	payload, err := s.processor.Process(ctx, data, meta, fileType)
	if err != nil {
		return nil, err
	}

	if err := s.attachPreview(ctx, payload, meta, fileType, bucket); err != nil {
		return nil, err
	}

	id := uuid.New()
	filename := strings.TrimSpace(req.Filename)
	if filename == "" {
		filename = id.String()
	}
	contentType := strings.TrimSpace(fileType.Mime)

	stream, err := driver.OpenUploadStream(ctx, filename, UploadOptions{
		ID:          id,
		ContentType: contentType,
		Metadata:    meta,
	})
	if err != nil {
		return nil, &StorageError{Bucket: bucket, Op: "upload", Err: err}
	}
	if _, err := stream.Write(payload); err != nil {
		stream.Abort()
		return nil, &StorageError{Bucket: bucket, Op: "upload", Err: err}
	}
	if err := stream.Close(); err != nil {
		stream.Abort()
		return nil, &StorageError{Bucket: bucket, Op: "upload", Err: err}
	}
	meta.Length = stream.Length()

	now := time.Now().UTC()
	rec := &AssetRecord{
		ID:          stream.ID(),
		Filename:    filename,
		ContentType: contentType,
		Bucket:      bucket,
		Meta:        *meta,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Save(ctx, rec); err != nil {
		if derr := driver.Delete(ctx, rec.ID); derr != nil {
			slog.Warn("orphaned blob after failed record save",
				"id", rec.ID, "bucket", bucket, "error", derr)
		}
		return nil, &AssetError{AssetID: rec.ID, Op: "save", Err: err}
	}
	return NewStoredAsset(rec, s.repo, driver), nil
}

// attachPreview writes the thumbnail (when the processor yields one) as
// its own asset and links it into meta.
func (s *service) attachPreview(ctx context.Context, payload []byte, meta *AssetMeta, fileType FileType, bucket string) error {
	thumb, err := s.processor.Preview(ctx, payload, meta, fileType)
	if err != nil {
		return err
	}
	if len(thumb) == 0 {
		return nil
	}
	preview, err := s.WriteBuffer(ctx, thumb, WriteRequest{Bucket: bucket})
	if err != nil {
		return err
	}
	id := preview.ID()
	meta.Preview = &id
	return nil
}

func (s *service) WriteStream(ctx context.Context, r io.Reader, req WriteRequest) (*StoredAsset, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return s.WriteBuffer(ctx, data, req)
}

func (s *service) WriteURL(ctx context.Context, url string, req WriteRequest) (*StoredAsset, error) {
	since := time.Now().UTC().Add(-s.dedupWindow)
	existing, err := s.Find(ctx, Filter{URL: url, UploadedAfter: &since})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	data, contentType, err := s.fetchURL(ctx, url)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	meta := &AssetMeta{}
	meta.Merge(req.Meta)
	meta.URL = url
	meta.UploadTime = &now

	if req.Filename == "" {
		req.Filename = url
	}
	if req.TypeHint == "" {
		req.TypeHint = contentType
	}
	req.Meta = meta
	return s.WriteBuffer(ctx, data, req)
}

func (s *service) Fetch(ctx context.Context, url string) (*TempAsset, error) {
	data, contentType, err := s.fetchURL(ctx, url)
	if err != nil {
		return nil, err
	}
	fileType, err := s.detector.Detect(data, contentType)
	if err != nil {
		return nil, err
	}
	meta := &AssetMeta{Extension: fileType.Ext, Length: int64(len(data)), URL: url}
	return NewTempAsset(data, url, fileType.Mime, meta), nil
}

func (s *service) fetchURL(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, baseContentType(resp.Header.Get("Content-Type")), nil
}

func baseContentType(ct string) string {
	if idx := strings.Index(ct, ";"); idx >= 0 {
		ct = ct[:idx]
	}
	return strings.TrimSpace(ct)
}

func (s *service) Read(ctx context.Context, id uuid.UUID) (*StoredAsset, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAssetNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return s.hydrate(rec)
}

func (s *service) Find(ctx context.Context, filter Filter) (*StoredAsset, error) {
	rec, err := s.repo.Find(ctx, filter)
	if err != nil || rec == nil {
		return nil, err
	}
	return s.hydrate(rec)
}

func (s *service) FindMany(ctx context.Context, filter Filter) ([]*StoredAsset, error) {
	recs, err := s.repo.FindMany(ctx, filter)
	if err != nil {
		return nil, err
	}
	assets := make([]*StoredAsset, 0, len(recs))
	for _, rec := range recs {
		asset, err := s.hydrate(rec)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

func (s *service) hydrate(rec *AssetRecord) (*StoredAsset, error) {
	driver, err := s.Driver(rec.Bucket)
	if err != nil {
		return nil, err
	}
	return NewStoredAsset(rec, s.repo, driver), nil
}

func (s *service) Unlink(ctx context.Context, id uuid.UUID) error {
	return s.unlink(ctx, id, make(map[uuid.UUID]bool))
}

func (s *service) unlink(ctx context.Context, id uuid.UUID, seen map[uuid.UUID]bool) error {
	if id == uuid.Nil || seen[id] || len(seen) >= maxPreviewDepth {
		return nil
	}
	seen[id] = true

	asset, err := s.Read(ctx, id)
	if err != nil {
		return err
	}
	if asset == nil {
		return nil
	}
	if p := asset.Meta().Preview; p != nil {
		if err := s.unlink(ctx, *p, seen); err != nil {
			return err
		}
	}
	_, err = asset.Unlink(ctx)
	return err
}

func (s *service) DeleteMany(ctx context.Context, filter Filter) ([]string, error) {
	assets, err := s.FindMany(ctx, filter)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(assets))
	for _, asset := range assets {
		if err := s.Unlink(ctx, asset.ID()); err != nil {
			return ids, err
		}
		ids = append(ids, asset.ID().String())
	}
	return ids, nil
}

func (s *service) Move(ctx context.Context, id uuid.UUID, bucket string) (*StoredAsset, error) {
	return s.move(ctx, id, bucket, make(map[uuid.UUID]bool))
}

func (s *service) move(ctx context.Context, id uuid.UUID, bucket string, seen map[uuid.UUID]bool) (*StoredAsset, error) {
	if seen[id] || len(seen) >= maxPreviewDepth {
		return nil, nil
	}
	seen[id] = true

	asset, err := s.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, &AssetError{AssetID: id, Op: "move", Err: ErrAssetNotFound}
	}

	bucket = s.bucketName(bucket)
	target, err := s.Driver(bucket)
	if err != nil {
		return nil, err
	}
	if s.bucketName(asset.Bucket()) == bucket {
		return asset, nil
	}

	if p := asset.Meta().Preview; p != nil {
		if _, err := s.move(ctx, *p, bucket, seen); err != nil {
			return nil, err
		}
	}

	data, err := asset.GetBuffer(ctx)
	if err != nil {
		return nil, err
	}

	rec := asset.Record()
	stream, err := target.OpenUploadStream(ctx, rec.Filename, UploadOptions{
		ID:          rec.ID,
		ContentType: rec.ContentType,
		Metadata:    &rec.Meta,
	})
	if err != nil {
		return nil, &StorageError{Bucket: bucket, Op: "upload", Err: err}
	}
	if _, err := stream.Write(data); err != nil {
		stream.Abort()
		return nil, &StorageError{Bucket: bucket, Op: "upload", Err: err}
	}
	if err := stream.Close(); err != nil {
		stream.Abort()
		return nil, &StorageError{Bucket: bucket, Op: "upload", Err: err}
	}

	source, err := s.Driver(asset.Bucket())
	if err == nil {
		if derr := source.Delete(ctx, rec.ID); derr != nil && !errors.Is(derr, ErrBlobNotFound) {
			slog.Warn("stale blob left behind after move",
				"id", rec.ID, "bucket", asset.Bucket(), "error", derr)
		}
	}

	rec.Bucket = bucket
	rec.UpdatedAt = time.Now().UTC()
	if err := s.repo.Save(ctx, rec); err != nil {
		return nil, &AssetError{AssetID: rec.ID, Op: "move", Err: err}
	}
	return NewStoredAsset(rec, s.repo, target), nil
}
