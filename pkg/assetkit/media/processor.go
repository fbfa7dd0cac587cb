// Package media enriches asset metadata and generates preview payloads
// for the supported media families: image, video and font.
package media

import (
	"context"

	"github.com/stemyke/assetkit/pkg/assetkit"
)

// Family is the media family of a content type. Classification is an
// explicit enumeration so that family dispatch is exclusive by
// construction.
type Family int

const (
	FamilyOther Family = iota
	FamilyImage
	FamilyVideo
	FamilyFont
)

var imageTypes = map[string]struct{}{
	"image/jpeg":    {},
	"image/jpg":     {},
	"image/png":     {},
	"image/gif":     {},
	"image/svg+xml": {},
}

var videoTypes = map[string]struct{}{
	"video/mp4":  {},
	"video/webm": {},
	"video/ogg":  {},
}

var fontTypes = map[string]struct{}{
	"application/font-woff":       {},
	"application/font-woff2":      {},
	"application/x-font-opentype": {},
	"application/x-font-truetype": {},
	"application/x-font-datafork": {},
	"font/woff":                   {},
	"font/woff2":                  {},
	"font/otf":                    {},
	"font/ttf":                    {},
	"font/datafork":               {},
}

// Classify maps a MIME type to its media family. Image wins over video
// wins over font, mirroring the processing order.
func Classify(mime string) Family {
	if _, ok := imageTypes[mime]; ok {
		return FamilyImage
	}
	if _, ok := videoTypes[mime]; ok {
		return FamilyVideo
	}
	if _, ok := fontTypes[mime]; ok {
		return FamilyFont
	}
	return FamilyOther
}

// Processor implements assetkit.Processor. Video operations shell out to
// ffprobe/ffmpeg, so those binaries must be on PATH for video support.
type Processor struct {
	ffprobePath string
	ffmpegPath  string
	tempDir     string
}

// Option configures a Processor.
type Option func(*Processor)

// WithFFmpeg overrides the ffprobe and ffmpeg binary paths. Empty
// values keep the PATH-based defaults.
func WithFFmpeg(ffprobePath, ffmpegPath string) Option {
	return func(p *Processor) {
		if ffprobePath != "" {
			p.ffprobePath = ffprobePath
		}
		if ffmpegPath != "" {
			p.ffmpegPath = ffmpegPath
		}
	}
}

// WithTempDir sets the directory video payloads are materialized into
// for probing.
func WithTempDir(dir string) Option {
	return func(p *Processor) {
		p.tempDir = dir
	}
}

// New returns a processor with default tool locations.
func New(opts ...Option) *Processor {
	p := &Processor{
		ffprobePath: "ffprobe",
		ffmpegPath:  "ffmpeg",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process enriches meta from the payload and returns the possibly
// re-encoded payload. Unsupported families pass through unmodified.
func (p *Processor) Process(ctx context.Context, payload []byte, meta *assetkit.AssetMeta, fileType assetkit.FileType) ([]byte, error) {
	switch Classify(fileType.Mime) {
	case FamilyImage:
		return processImage(payload, meta, fileType)
	case FamilyVideo:
		if err := p.probeVideo(ctx, payload, meta); err != nil {
			return nil, &assetkit.ProbeError{Family: "video", Err: err}
		}
		return payload, nil
	case FamilyFont:
		if err := processFont(payload, meta); err != nil {
			return nil, &assetkit.ProbeError{Family: "font", Err: err}
		}
		return payload, nil
	}
	return payload, nil
}

// Preview produces thumbnail bytes for the payload, or nil when the
// family has no preview. Only video currently generates one.
func (p *Processor) Preview(ctx context.Context, payload []byte, meta *assetkit.AssetMeta, fileType assetkit.FileType) ([]byte, error) {
	if Classify(fileType.Mime) != FamilyVideo {
		return nil, nil
	}
	thumb, err := p.videoThumbnail(ctx, payload, meta)
	if err != nil {
		return nil, &assetkit.ProbeError{Family: "video", Err: err}
	}
	return thumb, nil
}
