package assetkit

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"math"

	"github.com/disintegration/imaging"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ToImage applies the on-demand image transform pipeline to payload:
// crop-before, canvas resize, content resize, crop-after, rotation, in
// that fixed order, each stage skipped when it would be a no-op.
//
// SVG payloads and calls with no parameters and no persisted default
// crop return the payload untouched. Any stage failure is logged and the
// original payload is served instead; on-demand rendering degrades
// rather than erroring.
func ToImage(payload []byte, params ImageParams, meta *AssetMeta) []byte {
	if meta == nil {
		meta = &AssetMeta{}
	}
	if meta.Extension == "svg" || (params.IsZero() && meta.Crop == nil) {
		return payload
	}

	out, err := transformImage(payload, params.Normalized(), meta)
	if err != nil {
		slog.Warn("image transform degraded, serving original", "error", err)
		return payload
	}
	return out
}

// ToImageReader is the stream-shaped variant of ToImage. The payload is
// buffered, transformed and handed back as a fresh reader; transform
// libraries need the whole image in memory anyway.
func ToImageReader(src io.ReadCloser, params ImageParams, meta *AssetMeta) (io.ReadCloser, error) {
	if meta != nil && meta.Extension == "svg" || params.IsZero() && (meta == nil || meta.Crop == nil) {
		return src, nil
	}
	defer src.Close()
	payload, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(ToImage(payload, params, meta))), nil
}

var transparent = color.NRGBA{}

func transformImage(payload []byte, p ImageParams, meta *AssetMeta) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	// Crop before resize: explicit param wins, then the persisted
	// crop-before default (only when the crop flag is set), then the
	// persisted plain crop rectangle.
	cropBefore := p.CropBefore
	if cropBefore == nil && p.Crop {
		cropBefore = meta.CropBefore
	}
	if cropBefore != nil {
		img, width, height, err = cropImage(img, cropBefore)
	} else if meta.Crop != nil {
		img, width, height, err = cropImage(img, meta.Crop)
	}
	if err != nil {
		return nil, err
	}

	// Canvas resize: letterbox to the new canvas with transparent fill
	// when the requested scale differs from the persisted baseline.
	baseX := defaultScale(meta.CanvasScaleX)
	baseY := defaultScale(meta.CanvasScaleY)
	if p.CanvasScaleX != baseX || p.CanvasScaleY != baseY {
		width = int(math.Round(float64(width) * p.CanvasScaleX))
		height = int(math.Round(float64(height) * p.CanvasScaleY))
		if width < 1 || height < 1 {
			return nil, fmt.Errorf("invalid canvas size %dx%d", width, height)
		}
		fitted := imaging.Fit(img, width, height, imaging.Lanczos)
		img = imaging.PasteCenter(imaging.New(width, height, transparent), fitted)
	}

	// Content resize: stretch to the scaled dimensions.
	if p.ScaleX != 1 || p.ScaleY != 1 {
		width = int(math.Round(float64(width) * p.ScaleX))
		height = int(math.Round(float64(height) * p.ScaleY))
		if width < 1 || height < 1 {
			return nil, fmt.Errorf("invalid image size %dx%d", width, height)
		}
		img = imaging.Resize(img, width, height, imaging.Lanczos)
	}

	// Crop after resize.
	cropAfter := p.CropAfter
	if cropAfter == nil && p.Crop {
		cropAfter = meta.CropAfter
	}
	if cropAfter != nil {
		img, _, _, err = cropImage(img, cropAfter)
		if err != nil {
			return nil, err
		}
	}

	format := encodeFormat(meta.Extension)

	// Rotation re-encodes first so the rotated canvas grows around the
	// final composition, matching the persisted pipeline order.
	if p.Rotation != 0 {
		encoded, err := encodeImage(img, format)
		if err != nil {
			return nil, err
		}
		img, err = imaging.Decode(bytes.NewReader(encoded))
		if err != nil {
			return nil, fmt.Errorf("decode for rotation: %w", err)
		}
		// imaging rotates counter-clockwise for positive angles; the
		// request convention is clockwise.
		img = imaging.Rotate(img, -p.Rotation, transparent)
	}

	return encodeImage(img, format)
}

func cropImage(img image.Image, rect *CropRect) (image.Image, int, int, error) {
	x, y, w, h := rect.Rounded()
	if w <= 0 || h <= 0 {
		return nil, 0, 0, fmt.Errorf("invalid crop rectangle %+v", *rect)
	}
	return imaging.Crop(img, image.Rect(x, y, x+w, y+h)), w, h, nil
}

func encodeFormat(extension string) imaging.Format {
	format, err := imaging.FormatFromExtension(extension)
	if err != nil {
		return imaging.PNG
	}
	return format
}

func encodeImage(img image.Image, format imaging.Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}
