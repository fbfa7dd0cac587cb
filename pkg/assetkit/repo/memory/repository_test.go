package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemyke/assetkit/pkg/assetkit"
)

func record(filename string, createdAt time.Time) *assetkit.AssetRecord {
	return &assetkit.AssetRecord{
		ID:          uuid.New(),
		Filename:    filename,
		ContentType: "text/plain",
		Bucket:      "main",
		Meta:        assetkit.AssetMeta{Extension: "txt"},
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}

func TestSaveAndGet(t *testing.T) {
	ctx := context.Background()
	repo := New()
	rec := record("a.txt", time.Now().UTC())

	require.NoError(t, repo.Save(ctx, rec))

	got, err := repo.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Filename, got.Filename)

	// Returned records are copies; mutating them must not leak back.
	got.Filename = "changed.txt"
	again, err := repo.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", again.Filename)
}

func TestGetMissing(t *testing.T) {
	ctx := context.Background()
	repo := New()

	_, err := repo.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, assetkit.ErrAssetNotFound)
}

func TestSaveIsUpsert(t *testing.T) {
	ctx := context.Background()
	repo := New()
	rec := record("a.txt", time.Now().UTC())

	require.NoError(t, repo.Save(ctx, rec))
	rec.Filename = "renamed.txt"
	require.NoError(t, repo.Save(ctx, rec))

	got, err := repo.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed.txt", got.Filename)
}

func TestFindOrdering(t *testing.T) {
	ctx := context.Background()
	repo := New()
	base := time.Now().UTC()

	older := record("twin.txt", base.Add(-time.Hour))
	newer := record("twin.txt", base)
	require.NoError(t, repo.Save(ctx, older))
	require.NoError(t, repo.Save(ctx, newer))

	got, err := repo.Find(ctx, assetkit.Filter{Filename: "twin.txt"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, newer.ID, got.ID, "newest record wins")

	got, err = repo.Find(ctx, assetkit.Filter{Filename: "missing.txt"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFindManyFilterAndLimit(t *testing.T) {
	ctx := context.Background()
	repo := New()
	base := time.Now().UTC()

	for i, name := range []string{"a.txt", "b.txt", "c.txt"} {
		rec := record(name, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, repo.Save(ctx, rec))
	}
	other := record("d.bin", base)
	other.ContentType = "application/octet-stream"
	require.NoError(t, repo.Save(ctx, other))

	recs, err := repo.FindMany(ctx, assetkit.Filter{ContentType: "text/plain"})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "c.txt", recs[0].Filename, "newest first")

	recs, err = repo.FindMany(ctx, assetkit.Filter{ContentType: "TEXT/PLAIN", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, recs, 2, "content type matching is case insensitive")
}

func TestFindByURLWindow(t *testing.T) {
	ctx := context.Background()
	repo := New()
	now := time.Now().UTC()

	rec := record("remote.txt", now)
	rec.Meta.URL = "https://example.com/x"
	rec.Meta.UploadTime = &now
	require.NoError(t, repo.Save(ctx, rec))

	since := now.Add(-time.Hour)
	got, err := repo.Find(ctx, assetkit.Filter{URL: "https://example.com/x", UploadedAfter: &since})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.ID, got.ID)

	tooRecent := now.Add(time.Hour)
	got, err = repo.Find(ctx, assetkit.Filter{URL: "https://example.com/x", UploadedAfter: &tooRecent})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateMeta(t *testing.T) {
	ctx := context.Background()
	repo := New()
	rec := record("a.txt", time.Now().UTC())
	require.NoError(t, repo.Save(ctx, rec))

	meta := rec.Meta
	meta.DownloadCount = 5
	require.NoError(t, repo.UpdateMeta(ctx, rec.ID, meta))

	got, err := repo.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Meta.DownloadCount)

	err = repo.UpdateMeta(ctx, uuid.New(), meta)
	assert.ErrorIs(t, err, assetkit.ErrAssetNotFound)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	repo := New()
	rec := record("a.txt", time.Now().UTC())
	require.NoError(t, repo.Save(ctx, rec))

	require.NoError(t, repo.Delete(ctx, rec.ID))
	_, err := repo.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, assetkit.ErrAssetNotFound)

	err = repo.Delete(ctx, rec.ID)
	assert.ErrorIs(t, err, assetkit.ErrAssetNotFound)
}
