// Package api exposes the asset service over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/stemyke/assetkit/pkg/assetkit"
	"github.com/stemyke/assetkit/pkg/assetkit/httprange"
)

// DefaultMaxFileSize caps uploads at 100 MiB unless configured
// otherwise.
const DefaultMaxFileSize = 100 << 20

// maxPreviewDepth bounds preview chain resolution.
const maxPreviewDepth = 8

// Handler handles the asset API endpoints.
type Handler struct {
	svc         assetkit.Service
	maxFileSize int64
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithMaxFileSize overrides the upload size cap. Zero disables it.
func WithMaxFileSize(size int64) HandlerOption {
	return func(h *Handler) { h.maxFileSize = size }
}

// NewHandler creates an asset API handler.
func NewHandler(svc assetkit.Service, opts ...HandlerOption) *Handler {
	h := &Handler{svc: svc, maxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the router for asset endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Upload)
	r.Post("/url", h.UploadURL)
	r.Get("/{id}", h.Download)
	r.Get("/by-name/{name}", h.DownloadByName)
	r.Get("/image/by-name/{name}", h.DownloadImageByName)
	r.Get("/image/{id}", h.DownloadImage)
	r.Get("/image/{id}/{rotation}", h.DownloadImage)
	r.Get("/metadata/{id}", h.Metadata)
	r.Delete("/{id}", h.Delete)
	return r
}

// Upload stores a multipart file upload.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	if h.maxFileSize > 0 && header.Size > h.maxFileSize {
		sizeErr := &assetkit.SizeError{Limit: h.maxFileSize, Size: header.Size}
		writeError(w, r, http.StatusBadRequest, sizeErr.Error())
		return
	}

	var meta *assetkit.AssetMeta
	if raw := r.FormValue("meta"); raw != "" {
		meta = &assetkit.AssetMeta{}
		if err := json.Unmarshal([]byte(raw), meta); err != nil {
			writeError(w, r, http.StatusBadRequest, "malformed meta field")
			return
		}
	}

	asset, err := h.svc.WriteStream(r.Context(), file, assetkit.WriteRequest{
		Filename: header.Filename,
		Bucket:   r.FormValue("bucket"),
		Meta:     meta,
		TypeHint: header.Header.Get("Content-Type"),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, asset.ToJSON())
}

// UploadURLRequest is the body of a URL upload.
type UploadURLRequest struct {
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	Bucket   string `json:"bucket,omitempty"`
}

// UploadURL stores the content behind a URL, deduplicating recent
// submissions of the same URL.
func (h *Handler) UploadURL(w http.ResponseWriter, r *http.Request) {
	var req UploadURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.URL == "" {
		writeError(w, r, http.StatusBadRequest, "url is required")
		return
	}

	asset, err := h.svc.WriteURL(r.Context(), req.URL, assetkit.WriteRequest{
		Filename: req.Filename,
		Bucket:   req.Bucket,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, asset.ToJSON())
}

// Download streams the raw asset bytes, honoring single-range requests.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	asset := h.assetByID(w, r, false)
	if asset == nil {
		return
	}
	h.streamAsset(w, r, asset)
}

// DownloadByName looks the asset up by filename instead of id.
func (h *Handler) DownloadByName(w http.ResponseWriter, r *http.Request) {
	asset := h.assetByName(w, r, false)
	if asset == nil {
		return
	}
	h.streamAsset(w, r, asset)
}

// DownloadImage streams the asset through the image transform pipeline,
// serving the linked preview rendition when one exists. The rotation may
// come from the URL path; a query parameter wins.
func (h *Handler) DownloadImage(w http.ResponseWriter, r *http.Request) {
	asset := h.assetByID(w, r, true)
	if asset == nil {
		return
	}
	h.streamImage(w, r, asset)
}

// DownloadImageByName is DownloadImage with a filename lookup.
func (h *Handler) DownloadImageByName(w http.ResponseWriter, r *http.Request) {
	asset := h.assetByName(w, r, true)
	if asset == nil {
		return
	}
	h.streamImage(w, r, asset)
}

// Metadata returns the metadata document of an asset. Allowed for
// classified assets; only the byte paths are restricted. An unknown id
// is a bad request, matching the upload-side contract of the endpoint.
func (h *Handler) Metadata(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	asset, err := h.svc.Read(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if asset == nil {
		writeError(w, r, http.StatusBadRequest, "asset not found")
		return
	}
	render.JSON(w, r, asset.Meta())
}

// Delete unlinks the asset and its preview chain.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Unlink(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]string{"id": id.String()})
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed asset id")
		return uuid.Nil, false
	}
	return id, true
}

// assetByID resolves the id path parameter, following the preview link
// for image requests and when type=preview is requested. A nil return
// means the response has been written.
func (h *Handler) assetByID(w http.ResponseWriter, r *http.Request, follow bool) *assetkit.StoredAsset {
	id, ok := parseID(w, r)
	if !ok {
		return nil
	}
	asset, err := h.svc.Read(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return nil
	}
	return h.resolve(w, r, asset, follow)
}

func (h *Handler) assetByName(w http.ResponseWriter, r *http.Request, follow bool) *assetkit.StoredAsset {
	name := chi.URLParam(r, "name")
	asset, err := h.svc.Find(r.Context(), assetkit.Filter{Filename: name})
	if err != nil {
		h.writeServiceError(w, r, err)
		return nil
	}
	return h.resolve(w, r, asset, follow)
}

// resolve follows the preview chain when requested, falling back to the
// asset itself when no preview exists. Every asset visited along the
// chain must be unclassified, not just the final one.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, asset *assetkit.StoredAsset, follow bool) *assetkit.StoredAsset {
	if asset == nil {
		writeError(w, r, http.StatusNotFound, "asset not found")
		return nil
	}
	if !follow && r.URL.Query().Get("type") != "preview" {
		return asset
	}

	seen := map[uuid.UUID]bool{asset.ID(): true}
	for depth := 0; depth < maxPreviewDepth; depth++ {
		if asset.Meta().Classified {
			h.writeServiceError(w, r, assetkit.ErrClassified)
			return nil
		}
		p := asset.Meta().Preview
		if p == nil || seen[*p] {
			break
		}
		seen[*p] = true
		preview, err := h.svc.Read(r.Context(), *p)
		if err != nil {
			h.writeServiceError(w, r, err)
			return nil
		}
		if preview == nil {
			break
		}
		asset = preview
	}
	return asset
}

func (h *Handler) streamAsset(w http.ResponseWriter, r *http.Request, asset *assetkit.StoredAsset) {
	if asset.Meta().Classified {
		h.writeServiceError(w, r, assetkit.ErrClassified)
		return
	}

	size := asset.Meta().Length
	var rng *httprange.Range
	if header := r.Header.Get("Range"); header != "" && size > 0 {
		parsed, err := httprange.Parse(size, header, httprange.Options{Combine: true})
		switch {
		case errors.Is(err, httprange.ErrMalformed):
			writeError(w, r, http.StatusBadRequest, "malformed range header")
			return
		case errors.Is(err, httprange.ErrUnsatisfiable):
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			writeError(w, r, http.StatusRequestedRangeNotSatisfiable, "range not satisfiable")
			return
		case err != nil:
			h.writeServiceError(w, r, err)
			return
		}
		if parsed.Unit == "bytes" {
			if len(parsed.Ranges) > 1 {
				writeError(w, r, http.StatusBadRequest, "multiple ranges are not supported")
				return
			}
			rng = &parsed.Ranges[0]
		}
	}

	stream, err := asset.Download(r.Context(), nil)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	defer stream.Close()

	setContentHeaders(w, asset)

	if rng != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.End, size))
		w.Header().Set("Content-Length", strconv.FormatInt(rng.End-rng.Start+1, 10))
		w.WriteHeader(http.StatusPartialContent)
		io.Copy(w, httprange.NewReader(stream, rng.Start, rng.End))
		return
	}

	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	io.Copy(w, stream)
}

func (h *Handler) streamImage(w http.ResponseWriter, r *http.Request, asset *assetkit.StoredAsset) {
	if asset.Meta().Classified {
		h.writeServiceError(w, r, assetkit.ErrClassified)
		return
	}

	params := parseImageParams(r)
	stream, err := asset.DownloadImage(r.Context(), params, nil)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	defer stream.Close()

	setContentHeaders(w, asset)
	io.Copy(w, stream)
}

func setContentHeaders(w http.ResponseWriter, asset *assetkit.StoredAsset) {
	if ct := asset.ContentType(); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Accept-Ranges", "bytes")
	// Browsers only get an inline rendition when the type is known;
	// payloads of unknown type carry no disposition at all.
	if ext := asset.Meta().Extension; ext != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", asset.Filename()+"."+ext))
	}
}

// parseImageParams extracts the transform parameters from the request.
// The rotation path parameter is a fallback for the query value.
func parseImageParams(r *http.Request) assetkit.ImageParams {
	q := r.URL.Query()
	params := assetkit.ImageParams{
		Rotation:     queryFloat(q.Get("rotation")),
		CanvasScaleX: queryFloat(q.Get("canvasScaleX")),
		CanvasScaleY: queryFloat(q.Get("canvasScaleY")),
		ScaleX:       queryFloat(q.Get("scaleX")),
		ScaleY:       queryFloat(q.Get("scaleY")),
		Crop:         q.Get("crop") == "true",
		CropBefore:   assetkit.ParseCropRect(q.Get("cropBefore")),
		CropAfter:    assetkit.ParseCropRect(q.Get("cropAfter")),
	}
	if params.Rotation == 0 {
		params.Rotation = queryFloat(chi.URLParam(r, "rotation"))
	}
	return params
}

func queryFloat(v string) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, assetkit.ErrAssetNotFound), errors.Is(err, assetkit.ErrBlobNotFound):
		writeError(w, r, http.StatusNotFound, "asset not found")
	case errors.Is(err, assetkit.ErrClassified):
		writeError(w, r, http.StatusForbidden, "asset is classified")
	case errors.Is(err, assetkit.ErrDetectionFailed):
		writeError(w, r, http.StatusUnsupportedMediaType, "could not determine content type")
	case errors.Is(err, assetkit.ErrBucketNotFound):
		writeError(w, r, http.StatusBadRequest, "unknown storage bucket")
	default:
		slog.Error("asset request failed", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": message})
}
