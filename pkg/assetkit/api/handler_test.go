package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemyke/assetkit/pkg/assetkit"
	"github.com/stemyke/assetkit/pkg/assetkit/detect"
	"github.com/stemyke/assetkit/pkg/assetkit/media"
	memoryrepo "github.com/stemyke/assetkit/pkg/assetkit/repo/memory"
	memorystorage "github.com/stemyke/assetkit/pkg/assetkit/storage/memory"
)

type testEnv struct {
	server *httptest.Server
	svc    assetkit.Service
	repo   *memoryrepo.Repository
	driver *memorystorage.Driver
}

func newTestEnv(t *testing.T, opts ...HandlerOption) *testEnv {
	t.Helper()
	repo := memoryrepo.New()
	driver := memorystorage.New()
	svc, err := assetkit.New(
		assetkit.WithRepository(repo),
		assetkit.WithDriver("main", driver),
		assetkit.WithDetector(detect.New()),
		assetkit.WithProcessor(media.New()),
	)
	require.NoError(t, err)

	handler := NewHandler(svc, opts...)
	server := httptest.NewServer(handler.Routes())
	t.Cleanup(server.Close)
	return &testEnv{server: server, svc: svc, repo: repo, driver: driver}
}

func pngPayload(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		img.Set(x, 0, color.NRGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadFile(t *testing.T, env *testEnv, filename string, payload []byte, fields map[string]string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	require.NoError(t, writer.Close())

	resp, err := http.Post(env.server.URL+"/", writer.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestUpload(t *testing.T) {
	env := newTestEnv(t)
	payload := pngPayload(t, 8, 4)

	resp := uploadFile(t, env, "tiny.png", payload, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	out := decodeJSON(t, resp)
	assert.Equal(t, "tiny.png", out["filename"])
	assert.Equal(t, "image/png", out["contentType"])

	id, err := uuid.Parse(out["id"].(string))
	require.NoError(t, err)

	asset, err := env.svc.Read(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, asset)
	assert.Equal(t, 8, asset.Meta().Width)
	assert.Equal(t, 4, asset.Meta().Height)
}

func TestUploadTooLarge(t *testing.T) {
	env := newTestEnv(t, WithMaxFileSize(16))

	resp := uploadFile(t, env, "big.bin", bytes.Repeat([]byte("x"), 64), nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	out := decodeJSON(t, resp)
	assert.Contains(t, out["error"], "exceeds the max limit")
}

func TestUploadMissingFile(t *testing.T) {
	env := newTestEnv(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("bucket", "main"))
	require.NoError(t, writer.Close())

	resp, err := http.Post(env.server.URL+"/", writer.FormDataContentType(), &body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDownload(t *testing.T) {
	env := newTestEnv(t)
	payload := pngPayload(t, 8, 4)
	resp := uploadFile(t, env, "tiny.png", payload, nil)
	id := decodeJSON(t, resp)["id"].(string)

	res, err := http.Get(env.server.URL + "/" + id)
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "image/png", res.Header.Get("Content-Type"))
	assert.Equal(t, "bytes", res.Header.Get("Accept-Ranges"))
	assert.Equal(t, `inline; filename="tiny.png.png"`, res.Header.Get("Content-Disposition"))

	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	t.Run("download bumps the counter", func(t *testing.T) {
		asset, err := env.svc.Read(context.Background(), uuid.MustParse(id))
		require.NoError(t, err)
		assert.Equal(t, int64(1), asset.Meta().DownloadCount)
	})

	t.Run("unknown id is 404", func(t *testing.T) {
		res, err := http.Get(env.server.URL + "/" + uuid.NewString())
		require.NoError(t, err)
		res.Body.Close()
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
	})

	t.Run("malformed id is 400", func(t *testing.T) {
		res, err := http.Get(env.server.URL + "/not-a-uuid")
		require.NoError(t, err)
		res.Body.Close()
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	})

	t.Run("unknown extension carries no disposition", func(t *testing.T) {
		raw := []byte("opaque bytes")
		rawID := uuid.New()
		stream, err := env.driver.OpenUploadStream(context.Background(), "raw", assetkit.UploadOptions{ID: rawID})
		require.NoError(t, err)
		_, err = stream.Write(raw)
		require.NoError(t, err)
		require.NoError(t, stream.Close())

		now := time.Now().UTC()
		require.NoError(t, env.repo.Save(context.Background(), &assetkit.AssetRecord{
			ID:          rawID,
			Filename:    "raw",
			ContentType: "application/octet-stream",
			Bucket:      "main",
			Meta:        assetkit.AssetMeta{Length: int64(len(raw))},
			CreatedAt:   now,
			UpdatedAt:   now,
		}))

		res, err := http.Get(env.server.URL + "/" + rawID.String())
		require.NoError(t, err)
		defer res.Body.Close()
		assert.Equal(t, http.StatusOK, res.StatusCode)
		assert.Empty(t, res.Header.Get("Content-Disposition"))
	})
}

func TestDownloadRange(t *testing.T) {
	env := newTestEnv(t)
	payload := []byte("0123456789abcdef")
	resp := uploadFile(t, env, "data.txt", payload, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decodeJSON(t, resp)["id"].(string)

	get := func(rangeHeader string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, env.server.URL+"/"+id, nil)
		require.NoError(t, err)
		if rangeHeader != "" {
			req.Header.Set("Range", rangeHeader)
		}
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return res
	}

	t.Run("single range", func(t *testing.T) {
		res := get("bytes=0-3")
		defer res.Body.Close()
		assert.Equal(t, http.StatusPartialContent, res.StatusCode)
		assert.Equal(t, fmt.Sprintf("bytes 0-3/%d", len(payload)), res.Header.Get("Content-Range"))
		data, err := io.ReadAll(res.Body)
		require.NoError(t, err)
		assert.Equal(t, "0123", string(data))
	})

	t.Run("suffix range", func(t *testing.T) {
		res := get("bytes=-4")
		defer res.Body.Close()
		assert.Equal(t, http.StatusPartialContent, res.StatusCode)
		data, err := io.ReadAll(res.Body)
		require.NoError(t, err)
		assert.Equal(t, "cdef", string(data))
	})

	t.Run("unsatisfiable range", func(t *testing.T) {
		res := get("bytes=500-600")
		defer res.Body.Close()
		assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, res.StatusCode)
		assert.Equal(t, fmt.Sprintf("bytes */%d", len(payload)), res.Header.Get("Content-Range"))
	})

	t.Run("malformed range", func(t *testing.T) {
		res := get("bytes=nonsense")
		defer res.Body.Close()
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	})

	t.Run("multiple ranges are rejected", func(t *testing.T) {
		res := get("bytes=0-1,8-9")
		defer res.Body.Close()
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	})
}

func TestDownloadClassified(t *testing.T) {
	env := newTestEnv(t)
	resp := uploadFile(t, env, "secret.txt", []byte("classified content"), map[string]string{
		"meta": `{"classified":true}`,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decodeJSON(t, resp)["id"].(string)

	res, err := http.Get(env.server.URL + "/" + id)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res, err = http.Get(env.server.URL + "/image/" + id)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	t.Run("metadata stays readable", func(t *testing.T) {
		res, err := http.Get(env.server.URL + "/metadata/" + id)
		require.NoError(t, err)
		defer res.Body.Close()
		assert.Equal(t, http.StatusOK, res.StatusCode)
	})
}

func TestDownloadByName(t *testing.T) {
	env := newTestEnv(t)
	payload := []byte("named payload")
	resp := uploadFile(t, env, "named.txt", payload, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	res, err := http.Get(env.server.URL + "/by-name/named.txt")
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	t.Run("unknown name is 404", func(t *testing.T) {
		res, err := http.Get(env.server.URL + "/by-name/nope.txt")
		require.NoError(t, err)
		res.Body.Close()
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
	})
}

func TestDownloadImage(t *testing.T) {
	env := newTestEnv(t)
	payload := pngPayload(t, 10, 4)
	resp := uploadFile(t, env, "img.png", payload, nil)
	id := decodeJSON(t, resp)["id"].(string)

	t.Run("rotation from path", func(t *testing.T) {
		res, err := http.Get(env.server.URL + "/image/" + id + "/90")
		require.NoError(t, err)
		defer res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)

		img, err := imaging.Decode(res.Body)
		require.NoError(t, err)
		assert.Equal(t, 4, img.Bounds().Dx())
		assert.Equal(t, 10, img.Bounds().Dy())
	})

	t.Run("query rotation wins over path", func(t *testing.T) {
		res, err := http.Get(env.server.URL + "/image/" + id + "/90?rotation=180")
		require.NoError(t, err)
		defer res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)

		img, err := imaging.Decode(res.Body)
		require.NoError(t, err)
		assert.Equal(t, 10, img.Bounds().Dx())
		assert.Equal(t, 4, img.Bounds().Dy())
	})

	t.Run("scaling via query", func(t *testing.T) {
		res, err := http.Get(env.server.URL + "/image/" + id + "?scaleX=0.5&scaleY=0.5")
		require.NoError(t, err)
		defer res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)

		img, err := imaging.Decode(res.Body)
		require.NoError(t, err)
		assert.Equal(t, 5, img.Bounds().Dx())
		assert.Equal(t, 2, img.Bounds().Dy())
	})
}

func TestDownloadImageFollowsPreviewChain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	preview, err := env.svc.WriteBuffer(ctx, []byte("thumbnail bytes"), assetkit.WriteRequest{Filename: "thumb.txt"})
	require.NoError(t, err)
	previewID := preview.ID()

	primary, err := env.svc.WriteBuffer(ctx, []byte("primary video bytes"), assetkit.WriteRequest{
		Filename: "primary.txt",
		Meta:     &assetkit.AssetMeta{Preview: &previewID},
	})
	require.NoError(t, err)

	res, err := http.Get(env.server.URL + "/image/" + primary.ID().String())
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, "thumbnail bytes", string(data))

	t.Run("raw download serves the asset itself", func(t *testing.T) {
		res, err := http.Get(env.server.URL + "/" + primary.ID().String())
		require.NoError(t, err)
		defer res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)

		data, err := io.ReadAll(res.Body)
		require.NoError(t, err)
		assert.Equal(t, "primary video bytes", string(data))
	})

	t.Run("classified preview blocks the chain", func(t *testing.T) {
		require.NoError(t, preview.SetMeta(ctx, &assetkit.AssetMeta{Classified: true}))

		res, err := http.Get(env.server.URL + "/image/" + primary.ID().String())
		require.NoError(t, err)
		res.Body.Close()
		assert.Equal(t, http.StatusForbidden, res.StatusCode)
	})
}

func TestPreviewFallsBackToAsset(t *testing.T) {
	env := newTestEnv(t)
	payload := []byte("no preview here")
	resp := uploadFile(t, env, "plain.txt", payload, nil)
	id := decodeJSON(t, resp)["id"].(string)

	res, err := http.Get(env.server.URL + "/" + id + "?type=preview")
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestMetadata(t *testing.T) {
	env := newTestEnv(t)
	resp := uploadFile(t, env, "doc.txt", []byte("document"), nil)
	id := decodeJSON(t, resp)["id"].(string)

	res, err := http.Get(env.server.URL + "/metadata/" + id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	out := decodeJSON(t, res)

	// The endpoint serves the metadata document alone, not the record.
	assert.Equal(t, "txt", out["extension"])
	assert.Equal(t, float64(len("document")), out["length"])
	assert.NotContains(t, out, "id")
	assert.NotContains(t, out, "filename")

	t.Run("unknown id is 400", func(t *testing.T) {
		res, err := http.Get(env.server.URL + "/metadata/" + uuid.NewString())
		require.NoError(t, err)
		res.Body.Close()
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	})
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	resp := uploadFile(t, env, "gone.txt", []byte("bye"), nil)
	id := decodeJSON(t, resp)["id"].(string)

	req, err := http.NewRequest(http.MethodDelete, env.server.URL+"/"+id, nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	get, err := http.Get(env.server.URL + "/" + id)
	require.NoError(t, err)
	get.Body.Close()
	assert.Equal(t, http.StatusNotFound, get.StatusCode)
}

func TestUploadURLDedup(t *testing.T) {
	env := newTestEnv(t)

	// Seeded record within the dedup window; the handler returns it
	// without fetching anything.
	now := time.Now().UTC()
	id := uuid.New()
	require.NoError(t, env.repo.Save(context.Background(), &assetkit.AssetRecord{
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

	body, err := json.Marshal(UploadURLRequest{URL: "https://example.com/remote.txt"})
	require.NoError(t, err)

	res, err := http.Post(env.server.URL+"/url", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	out := decodeJSON(t, res)
	assert.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, id.String(), out["id"])
}
