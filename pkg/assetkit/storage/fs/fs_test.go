package fs

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemyke/assetkit/pkg/assetkit"
)

func newDriver(t *testing.T) *Driver {
	t.Helper()
	driver, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	return driver
}

func TestNewRequiresBaseDir(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	driver := newDriver(t)

	stream, err := driver.OpenUploadStream(ctx, "photo.jpg", assetkit.UploadOptions{
		ContentType: "image/jpeg",
		Metadata:    &assetkit.AssetMeta{Extension: "jpg", Width: 800, Height: 600},
	})
	require.NoError(t, err)

	_, err = stream.Write([]byte("jpeg bytes"))
	require.NoError(t, err)
	require.NoError(t, stream.Close())
	assert.Equal(t, int64(10), stream.Length())

	download, err := driver.OpenDownloadStream(ctx, stream.ID())
	require.NoError(t, err)
	defer download.Close()

	data, err := io.ReadAll(download)
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(data))
}

func TestSidecarFiles(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	driver, err := New(Config{BaseDir: base})
	require.NoError(t, err)

	stream, err := driver.OpenUploadStream(ctx, "notes.txt", assetkit.UploadOptions{
		Metadata: &assetkit.AssetMeta{Extension: "txt"},
	})
	require.NoError(t, err)
	_, err = stream.Write([]byte("note"))
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	dir := filepath.Join(base, stream.ID().String())

	name, err := os.ReadFile(filepath.Join(dir, "filename.txt"))
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", string(name))

	raw, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	require.NoError(t, err)
	var meta assetkit.AssetMeta
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.Equal(t, "txt", meta.Extension)
}

func TestDownloadMissing(t *testing.T) {
	ctx := context.Background()
	driver := newDriver(t)

	_, err := driver.OpenDownloadStream(ctx, uuid.New())
	assert.ErrorIs(t, err, assetkit.ErrBlobNotFound)
}

func TestAbortRemovesBlobDir(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	driver, err := New(Config{BaseDir: base})
	require.NoError(t, err)

	stream, err := driver.OpenUploadStream(ctx, "x", assetkit.UploadOptions{})
	require.NoError(t, err)
	_, err = stream.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, stream.Abort())

	_, err = os.Stat(filepath.Join(base, stream.ID().String()))
	assert.True(t, os.IsNotExist(err))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	driver := newDriver(t)

	stream, err := driver.OpenUploadStream(ctx, "x", assetkit.UploadOptions{})
	require.NoError(t, err)
	_, err = stream.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	require.NoError(t, driver.Delete(ctx, stream.ID()))
	_, err = driver.OpenDownloadStream(ctx, stream.ID())
	assert.ErrorIs(t, err, assetkit.ErrBlobNotFound)

	// Deleting again is still a success.
	assert.NoError(t, driver.Delete(ctx, stream.ID()))
}
