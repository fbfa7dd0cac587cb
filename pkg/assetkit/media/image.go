package media

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/stemyke/assetkit/pkg/assetkit"
)

var (
	svgTagPattern  = regexp.MustCompile(`(?i)<svg([^<>]+)>`)
	svgAttrPattern = regexp.MustCompile(`(?i)([a-z][a-z0-9:-]*)\s*=\s*["']([^"']*)["']`)
)

// processImage copies image metadata into meta. SVG documents are
// inspected through their root tag attributes; raster formats are
// auto-oriented (embedded EXIF rotation applied) so later transforms can
// assume upright pixels, and the re-encoded payload is returned.
func processImage(payload []byte, meta *assetkit.AssetMeta, fileType assetkit.FileType) ([]byte, error) {
	if fileType.Mime == "image/svg+xml" {
		copySVGMeta(payload, meta)
		return payload, nil
	}

	img, err := imaging.Decode(bytes.NewReader(payload), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	format, err := imaging.FormatFromExtension(fileType.Ext)
	if err != nil {
		format = imaging.PNG
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	bounds := img.Bounds()
	meta.Width = bounds.Dx()
	meta.Height = bounds.Dy()
	meta.SetExtra("format", fileType.Ext)
	return buf.Bytes(), nil
}

// copySVGMeta parses the root <svg> tag attributes with a regex rather
// than a full XML parser; numeric-looking values are coerced to numbers.
// When only a viewBox is present, width/height derive from its two size
// components summed with its two offset components.
func copySVGMeta(payload []byte, meta *assetkit.AssetMeta) {
	match := svgTagPattern.FindSubmatch(payload)
	if match == nil {
		return
	}

	var viewBox string
	var width, height float64
	var hasWidth, hasHeight bool

	for _, attr := range svgAttrPattern.FindAllStringSubmatch(string(match[1]), -1) {
		name, value := attr[1], attr[2]
		if num, err := strconv.ParseFloat(value, 64); err == nil {
			meta.SetExtra(name, num)
		} else {
			meta.SetExtra(name, value)
		}
		switch strings.ToLower(name) {
		case "width":
			if num, err := strconv.ParseFloat(value, 64); err == nil {
				width, hasWidth = num, true
			}
		case "height":
			if num, err := strconv.ParseFloat(value, 64); err == nil {
				height, hasHeight = num, true
			}
		case "viewbox":
			viewBox = value
		}
	}

	if viewBox != "" && (!hasWidth || !hasHeight) {
		parts := strings.Fields(viewBox)
		if len(parts) == 4 {
			x, errX := strconv.ParseFloat(parts[0], 64)
			y, errY := strconv.ParseFloat(parts[1], 64)
			w, errW := strconv.ParseFloat(parts[2], 64)
			h, errH := strconv.ParseFloat(parts[3], 64)
			if errX == nil && errY == nil && errW == nil && errH == nil {
				width, hasWidth = x+w, true
				height, hasHeight = y+h, true
			}
		}
	}

	if hasWidth && hasHeight {
		meta.Width = int(width)
		meta.Height = int(height)
		meta.SetExtra("svgSize", map[string]float64{"x": width, "y": height})
	}
}
