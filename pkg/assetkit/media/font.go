package media

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"github.com/stemyke/assetkit/pkg/assetkit"
)

// Font container format tags. The sfnt container is split on its
// internal signature: OTTO means CFF outlines (opentype), anything else
// is truetype.
const (
	formatOpenType = "opentype"
	formatTrueType = "truetype"
	formatWOFF     = "woff"
	formatWOFF2    = "woff2"
	formatDatafork = "datafork"
)

// processFont derives the container format from the payload signature
// and, for sfnt containers, copies the font's metrics into meta. WOFF
// containers carry compressed tables, so only their format tag is
// recorded.
func processFont(payload []byte, meta *assetkit.AssetMeta) error {
	format, err := fontFormat(payload)
	if err != nil {
		return err
	}
	meta.SetExtra("format", format)

	if format != formatOpenType && format != formatTrueType {
		return nil
	}
	return copyFontMetrics(payload, meta)
}

func fontFormat(payload []byte) (string, error) {
	if len(payload) < 4 {
		return "", fmt.Errorf("font payload too short")
	}
	switch string(payload[:4]) {
	case "wOFF":
		return formatWOFF, nil
	case "wOF2":
		return formatWOFF2, nil
	case "OTTO":
		return formatOpenType, nil
	case "true", "ttcf":
		return formatTrueType, nil
	}
	if binary.BigEndian.Uint32(payload[:4]) == 0x00010000 {
		return formatTrueType, nil
	}
	// Datafork suitcases start with a resource map offset, not a tag;
	// recognize them by their fixed header values.
	if binary.BigEndian.Uint32(payload[:4]) == 0x0000_0100 {
		return formatDatafork, nil
	}
	return "", fmt.Errorf("unrecognized font container")
}

func copyFontMetrics(payload []byte, meta *assetkit.AssetMeta) error {
	font, err := sfnt.Parse(payload)
	if err != nil {
		return fmt.Errorf("parse font: %w", err)
	}

	var buf sfnt.Buffer
	upem := font.UnitsPerEm()
	meta.SetExtra("unitsPerEm", int(upem))
	meta.SetExtra("numGlyphs", font.NumGlyphs())

	// Metrics queried at ppem == unitsPerEm come back in font units.
	metrics, err := font.Metrics(&buf, fixed.I(int(upem)), 0)
	if err != nil {
		return fmt.Errorf("font metrics: %w", err)
	}
	meta.SetExtra("ascent", metrics.Ascent.Round())
	meta.SetExtra("descent", metrics.Descent.Round())
	meta.SetExtra("lineGap", (metrics.Height - metrics.Ascent - metrics.Descent).Round())
	meta.SetExtra("capHeight", metrics.CapHeight.Round())
	meta.SetExtra("xHeight", metrics.XHeight.Round())

	names := map[string]sfnt.NameID{
		"postscriptName": sfnt.NameIDPostScript,
		"fullName":       sfnt.NameIDFull,
		"familyName":     sfnt.NameIDFamily,
		"subfamilyName":  sfnt.NameIDSubfamily,
		"copyright":      sfnt.NameIDCopyright,
		"version":        sfnt.NameIDVersion,
	}
	for key, id := range names {
		if value, err := font.Name(&buf, id); err == nil && value != "" {
			meta.SetExtra(key, value)
		}
	}
	return nil
}
