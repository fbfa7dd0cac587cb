// Package detect sniffs payload bytes to produce a content type.
package detect

import (
	"bytes"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/stemyke/assetkit/pkg/assetkit"
)

// Detector identifies payloads by byte signature, with a text/SVG
// correction pass on top. It implements assetkit.Detector.
type Detector struct{}

// New returns a signature-based detector.
func New() *Detector {
	return &Detector{}
}

// Detect sniffs buf. When the sniffer yields nothing usable and hint is
// non-empty, the hint is returned as {Ext: "", Mime: hint}; without a
// hint the failure surfaces as assetkit.ErrDetectionFailed.
//
// Sniffers frequently classify SVG documents as generic XML or plain
// text, so any text/xml verdict is re-scanned for an <svg tag and
// overridden when one is found.
func (d *Detector) Detect(buf []byte, hint string) (assetkit.FileType, error) {
	mtype := mimetype.Detect(buf)

	fileType := assetkit.FileType{
		Ext:  strings.TrimPrefix(mtype.Extension(), "."),
		Mime: baseMime(mtype.String()),
	}

	if fileType.Mime == "" || fileType.Mime == "application/octet-stream" && fileType.Ext == "" {
		if hint == "" {
			return assetkit.FileType{}, assetkit.ErrDetectionFailed
		}
		return assetkit.FileType{Ext: "", Mime: strings.TrimSpace(hint)}, nil
	}

	if isTextual(fileType.Mime) && bytes.Contains(buf, []byte("<svg")) {
		return assetkit.FileType{Ext: "svg", Mime: "image/svg+xml"}, nil
	}
	return fileType, nil
}

func isTextual(mime string) bool {
	return strings.Contains(mime, "text") || strings.Contains(mime, "xml")
}

// baseMime strips parameters like "; charset=utf-8".
func baseMime(mime string) string {
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = mime[:idx]
	}
	return strings.TrimSpace(mime)
}
