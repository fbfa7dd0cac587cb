package assetkit_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemyke/assetkit/pkg/assetkit"
	memoryrepo "github.com/stemyke/assetkit/pkg/assetkit/repo/memory"
	memorystorage "github.com/stemyke/assetkit/pkg/assetkit/storage/memory"
)

// plainDetector labels everything as plain text, so service tests do
// not depend on signature sniffing.
type plainDetector struct{}

func (plainDetector) Detect(buf []byte, hint string) (assetkit.FileType, error) {
	if len(buf) == 0 {
		return assetkit.FileType{}, assetkit.ErrDetectionFailed
	}
	return assetkit.FileType{Ext: "txt", Mime: "text/plain"}, nil
}

// stubProcessor passes payloads through and optionally emits a fixed
// preview for one marker payload.
type stubProcessor struct {
	previewFor string
	preview    []byte
}

func (p *stubProcessor) Process(ctx context.Context, payload []byte, meta *assetkit.AssetMeta, fileType assetkit.FileType) ([]byte, error) {
	return payload, nil
}

func (p *stubProcessor) Preview(ctx context.Context, payload []byte, meta *assetkit.AssetMeta, fileType assetkit.FileType) ([]byte, error) {
	if p.previewFor != "" && string(payload) == p.previewFor {
		return p.preview, nil
	}
	return nil, nil
}

type serviceEnv struct {
	svc     assetkit.Service
	repo    *memoryrepo.Repository
	driver  *memorystorage.Driver
	backup  *memorystorage.Driver
	process *stubProcessor
}

func newServiceEnv(t *testing.T, opts ...assetkit.Option) *serviceEnv {
	t.Helper()
	env := &serviceEnv{
		repo:    memoryrepo.New(),
		driver:  memorystorage.New(),
		backup:  memorystorage.New(),
		process: &stubProcessor{},
	}
	base := []assetkit.Option{
		assetkit.WithRepository(env.repo),
		assetkit.WithDriver("main", env.driver),
		assetkit.WithDriver("backup", env.backup),
		assetkit.WithDefaultBucket("main"),
		assetkit.WithDetector(plainDetector{}),
		assetkit.WithProcessor(env.process),
	}
	svc, err := assetkit.New(append(base, opts...)...)
	require.NoError(t, err)
	env.svc = svc
	return env
}

func TestNewValidation(t *testing.T) {
	_, err := assetkit.New()
	assert.Error(t, err)

	_, err = assetkit.New(assetkit.WithRepository(memoryrepo.New()))
	assert.Error(t, err)

	_, err = assetkit.New(
		assetkit.WithRepository(memoryrepo.New()),
		assetkit.WithDriver("main", memorystorage.New()),
		assetkit.WithDefaultBucket("missing"),
		assetkit.WithDetector(plainDetector{}),
		assetkit.WithProcessor(&stubProcessor{}),
	)
	assert.ErrorIs(t, err, assetkit.ErrBucketNotFound)
}

func TestWriteBuffer(t *testing.T) {
	ctx := context.Background()
	env := newServiceEnv(t)

	asset, err := env.svc.WriteBuffer(ctx, []byte("hello world"), assetkit.WriteRequest{
		Filename: "hello.txt",
	})
	require.NoError(t, err)

	assert.Equal(t, "hello.txt", asset.Filename())
	assert.Equal(t, "text/plain", asset.ContentType())
	assert.Equal(t, "main", asset.Bucket())
	assert.Equal(t, "txt", asset.Meta().Extension)
	assert.Equal(t, int64(11), asset.Meta().Length)

	data, err := asset.GetBuffer(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	t.Run("filename defaults to the asset id", func(t *testing.T) {
		asset, err := env.svc.WriteBuffer(ctx, []byte("anonymous"), assetkit.WriteRequest{})
		require.NoError(t, err)
		assert.Equal(t, asset.ID().String(), asset.Filename())
	})

	t.Run("detection failure aborts the write", func(t *testing.T) {
		_, err := env.svc.WriteBuffer(ctx, nil, assetkit.WriteRequest{})
		assert.ErrorIs(t, err, assetkit.ErrDetectionFailed)
	})

	t.Run("unknown bucket is rejected", func(t *testing.T) {
		_, err := env.svc.WriteBuffer(ctx, []byte("x"), assetkit.WriteRequest{Bucket: "nope"})
		assert.ErrorIs(t, err, assetkit.ErrBucketNotFound)
	})
}

func TestWriteStream(t *testing.T) {
	ctx := context.Background()
	env := newServiceEnv(t)

	asset, err := env.svc.WriteStream(ctx, strings.NewReader("streamed"), assetkit.WriteRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(8), asset.Meta().Length)
}

func TestWriteBufferPreviewChain(t *testing.T) {
	ctx := context.Background()
	env := newServiceEnv(t)
	env.process.previewFor = "a video"
	env.process.preview = []byte("thumbnail")

	asset, err := env.svc.WriteBuffer(ctx, []byte("a video"), assetkit.WriteRequest{})
	require.NoError(t, err)

	require.NotNil(t, asset.Meta().Preview)
	preview, err := env.svc.Read(ctx, *asset.Meta().Preview)
	require.NoError(t, err)
	require.NotNil(t, preview)

	data, err := preview.GetBuffer(ctx)
	require.NoError(t, err)
	assert.Equal(t, "thumbnail", string(data))
	assert.Nil(t, preview.Meta().Preview)

	t.Run("unlink cascades preview first", func(t *testing.T) {
		previewID := preview.ID()
		require.NoError(t, env.svc.Unlink(ctx, asset.ID()))

		gone, err := env.svc.Read(ctx, asset.ID())
		require.NoError(t, err)
		assert.Nil(t, gone)

		gone, err = env.svc.Read(ctx, previewID)
		require.NoError(t, err)
		assert.Nil(t, gone)
		assert.Equal(t, 0, env.driver.Len())
	})
}

func TestReadUnknown(t *testing.T) {
	ctx := context.Background()
	env := newServiceEnv(t)

	asset, err := env.svc.Read(ctx, uuid.Nil)
	require.NoError(t, err)
	assert.Nil(t, asset)

	asset, err = env.svc.Read(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, asset)
}

func TestFindAndFindMany(t *testing.T) {
	ctx := context.Background()
	env := newServiceEnv(t)

	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		_, err := env.svc.WriteBuffer(ctx, []byte(name), assetkit.WriteRequest{Filename: name})
		require.NoError(t, err)
	}

	asset, err := env.svc.Find(ctx, assetkit.Filter{Filename: "b.txt"})
	require.NoError(t, err)
	require.NotNil(t, asset)
	assert.Equal(t, "b.txt", asset.Filename())

	asset, err = env.svc.Find(ctx, assetkit.Filter{Filename: "missing.txt"})
	require.NoError(t, err)
	assert.Nil(t, asset)

	assets, err := env.svc.FindMany(ctx, assetkit.Filter{ContentType: "text/plain"})
	require.NoError(t, err)
	assert.Len(t, assets, 3)

	assets, err = env.svc.FindMany(ctx, assetkit.Filter{ContentType: "text/plain", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, assets, 2)
}

func TestDeleteMany(t *testing.T) {
	ctx := context.Background()
	env := newServiceEnv(t)

	for _, name := range []string{"a.txt", "b.txt"} {
		_, err := env.svc.WriteBuffer(ctx, []byte(name), assetkit.WriteRequest{Filename: name})
		require.NoError(t, err)
	}

	ids, err := env.svc.DeleteMany(ctx, assetkit.Filter{ContentType: "text/plain"})
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Equal(t, 0, env.driver.Len())

	assets, err := env.svc.FindMany(ctx, assetkit.Filter{})
	require.NoError(t, err)
	assert.Empty(t, assets)
}

func TestWriteURLDedup(t *testing.T) {
	ctx := context.Background()
	env := newServiceEnv(t)

	// Seed a record that looks like a fresh URL upload; the dedup path
	// matches on URL and upload time, no fetch needed.
	now := time.Now().UTC()
	id := uuid.New()
	require.NoError(t, env.repo.Save(ctx, &assetkit.AssetRecord{
		ID:          id,
		Filename:    "remote.txt",
		ContentType: "text/plain",
		Bucket:      "main",
		Meta: assetkit.AssetMeta{
			URL:        "https://example.com/remote.txt",
			UploadTime: &now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}))

	asset, err := env.svc.WriteURL(ctx, "https://example.com/remote.txt", assetkit.WriteRequest{})
	require.NoError(t, err)
	require.NotNil(t, asset)
	assert.Equal(t, id, asset.ID())

	t.Run("stale uploads fall outside the window", func(t *testing.T) {
		old := now.Add(-8 * 24 * time.Hour)
		require.NoError(t, env.repo.Save(ctx, &assetkit.AssetRecord{
			ID:       uuid.New(),
			Filename: "old.txt",
			Bucket:   "main",
			Meta: assetkit.AssetMeta{
				URL:        "https://example.com/old.txt",
				UploadTime: &old,
			},
			CreatedAt: old,
			UpdatedAt: old,
		}))

		found, err := env.svc.Find(ctx, assetkit.Filter{
			URL:           "https://example.com/old.txt",
			UploadedAfter: timePtr(now.Add(-7 * 24 * time.Hour)),
		})
		require.NoError(t, err)
		assert.Nil(t, found)
	})
}

func timePtr(t time.Time) *time.Time { return &t }

func TestMove(t *testing.T) {
	ctx := context.Background()
	env := newServiceEnv(t)
	env.process.previewFor = "a video"
	env.process.preview = []byte("thumbnail")

	asset, err := env.svc.WriteBuffer(ctx, []byte("a video"), assetkit.WriteRequest{Filename: "clip"})
	require.NoError(t, err)
	require.NotNil(t, asset.Meta().Preview)
	previewID := *asset.Meta().Preview

	moved, err := env.svc.Move(ctx, asset.ID(), "backup")
	require.NoError(t, err)
	assert.Equal(t, "backup", moved.Bucket())
	assert.Equal(t, asset.ID(), moved.ID())

	data, err := moved.GetBuffer(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a video", string(data))

	// The preview chain moved along, and the source bucket is empty.
	preview, err := env.svc.Read(ctx, previewID)
	require.NoError(t, err)
	require.NotNil(t, preview)
	assert.Equal(t, "backup", preview.Bucket())
	assert.Equal(t, 0, env.driver.Len())
	assert.Equal(t, 2, env.backup.Len())

	t.Run("moving to the current bucket is a no-op", func(t *testing.T) {
		again, err := env.svc.Move(ctx, asset.ID(), "backup")
		require.NoError(t, err)
		assert.Equal(t, "backup", again.Bucket())
		assert.Equal(t, 2, env.backup.Len())
	})

	t.Run("moving a missing asset fails", func(t *testing.T) {
		_, err := env.svc.Move(ctx, uuid.New(), "backup")
		assert.ErrorIs(t, err, assetkit.ErrAssetNotFound)
	})
}

func TestUnlinkToleratesMissing(t *testing.T) {
	ctx := context.Background()
	env := newServiceEnv(t)

	assert.NoError(t, env.svc.Unlink(ctx, uuid.Nil))
	assert.NoError(t, env.svc.Unlink(ctx, uuid.New()))
}
