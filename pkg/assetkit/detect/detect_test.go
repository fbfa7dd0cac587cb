package detect_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemyke/assetkit/pkg/assetkit"
	"github.com/stemyke/assetkit/pkg/assetkit/detect"
)

// Minimal but well-formed payloads for signature sniffing.
var (
	pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}
	svgBytes = []byte(`<?xml version="1.0"?><svg xmlns="http://www.w3.org/2000/svg" width="10" height="10"></svg>`)
)

func TestDetectPNG(t *testing.T) {
	d := detect.New()

	fileType, err := d.Detect(pngBytes, "")
	require.NoError(t, err)
	assert.Equal(t, "png", fileType.Ext)
	assert.Equal(t, "image/png", fileType.Mime)
}

func TestDetectSVGCorrection(t *testing.T) {
	d := detect.New()

	// Sniffers see XML here; the <svg scan must override the verdict.
	fileType, err := d.Detect(svgBytes, "")
	require.NoError(t, err)
	assert.Equal(t, assetkit.FileType{Ext: "svg", Mime: "image/svg+xml"}, fileType)
}

func TestDetectPlainTextStaysText(t *testing.T) {
	d := detect.New()

	fileType, err := d.Detect([]byte("just some words"), "")
	require.NoError(t, err)
	assert.NotEqual(t, "image/svg+xml", fileType.Mime)
	assert.Contains(t, fileType.Mime, "text")
}

func TestDetectFallsBackToHint(t *testing.T) {
	d := detect.New()

	fileType, err := d.Detect([]byte{0x00, 0x01, 0x02, 0x03}, "application/x-custom")
	require.NoError(t, err)
	assert.Equal(t, assetkit.FileType{Ext: "", Mime: "application/x-custom"}, fileType)
}

func TestDetectUnknownWithoutHintFails(t *testing.T) {
	d := detect.New()

	_, err := d.Detect([]byte{0x00, 0x01, 0x02, 0x03}, "")
	assert.ErrorIs(t, err, assetkit.ErrDetectionFailed)
}
