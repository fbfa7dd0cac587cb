package assetkit

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FileType is the result of content type detection.
type FileType struct {
	Ext  string `json:"ext"`
	Mime string `json:"mime"`
}

// CropRect is a crop region in source pixel coordinates.
type CropRect struct {
	X float64 `json:"x" bson:"x"`
	Y float64 `json:"y" bson:"y"`
	W float64 `json:"w" bson:"w"`
	H float64 `json:"h" bson:"h"`
}

// ParseCropRect accepts a *CropRect, a CropRect or a JSON string of the
// exact shape {x,y,w,h}. Anything else (including booleans) yields nil,
// meaning "no crop".
func ParseCropRect(v any) *CropRect {
	switch c := v.(type) {
	case *CropRect:
		return c
	case CropRect:
		return &c
	case string:
		var rect struct {
			X *float64 `json:"x"`
			Y *float64 `json:"y"`
			W *float64 `json:"w"`
			H *float64 `json:"h"`
		}
		if err := json.Unmarshal([]byte(c), &rect); err != nil {
			return nil
		}
		if rect.X == nil || rect.Y == nil || rect.W == nil || rect.H == nil {
			return nil
		}
		return &CropRect{X: *rect.X, Y: *rect.Y, W: *rect.W, H: *rect.H}
	}
	return nil
}

// Rounded returns the rectangle with all values rounded to integers.
func (c CropRect) Rounded() (x, y, w, h int) {
	return int(math.Round(c.X)), int(math.Round(c.Y)), int(math.Round(c.W)), int(math.Round(c.H))
}

// ImageParams are per-request image transform parameters. They are never
// persisted.
type ImageParams struct {
	Rotation     float64   `json:"rotation,omitempty"`
	CanvasScaleX float64   `json:"canvasScaleX,omitempty"`
	CanvasScaleY float64   `json:"canvasScaleY,omitempty"`
	ScaleX       float64   `json:"scaleX,omitempty"`
	ScaleY       float64   `json:"scaleY,omitempty"`
	Crop         bool      `json:"crop,omitempty"`
	CropBefore   *CropRect `json:"cropBefore,omitempty"`
	CropAfter    *CropRect `json:"cropAfter,omitempty"`
}

// IsZero reports whether no parameter was provided at all.
func (p ImageParams) IsZero() bool {
	return p.Rotation == 0 && p.CanvasScaleX == 0 && p.CanvasScaleY == 0 &&
		p.ScaleX == 0 && p.ScaleY == 0 && !p.Crop && p.CropBefore == nil && p.CropAfter == nil
}

// Normalized returns a copy with rotation rounded to the nearest multiple
// of 90 within [-360, 360] and all scales defaulted to 1.
func (p ImageParams) Normalized() ImageParams {
	out := p
	r := math.Round(p.Rotation/90) * 90
	if math.IsNaN(r) || r < -360 || r > 360 {
		r = 0
	}
	out.Rotation = r
	out.CanvasScaleX = defaultScale(p.CanvasScaleX)
	out.CanvasScaleY = defaultScale(p.CanvasScaleY)
	out.ScaleX = defaultScale(p.ScaleX)
	out.ScaleY = defaultScale(p.ScaleY)
	return out
}

func defaultScale(v float64) float64 {
	if v <= 0 || math.IsNaN(v) {
		return 1
	}
	return v
}

// AssetMeta is the metadata document of one asset: a typed core plus an
// Extra side-map for free-form prober output (font metrics, video stream
// info, SVG attributes).
type AssetMeta struct {
	Extension     string     `json:"extension,omitempty" bson:"extension,omitempty"`
	Length        int64      `json:"length,omitempty" bson:"length,omitempty"`
	Classified    bool       `json:"classified,omitempty" bson:"classified,omitempty"`
	DownloadCount int64      `json:"downloadCount" bson:"downloadCount"`
	FirstDownload *time.Time `json:"firstDownload,omitempty" bson:"firstDownload,omitempty"`
	LastDownload  *time.Time `json:"lastDownload,omitempty" bson:"lastDownload,omitempty"`

	// Preview links a lightweight rendition of this asset (e.g. a video
	// thumbnail) stored as its own asset.
	Preview *uuid.UUID `json:"preview,omitempty" bson:"preview,omitempty"`

	// Source bookkeeping for URL uploads.
	URL        string     `json:"url,omitempty" bson:"url,omitempty"`
	UploadTime *time.Time `json:"uploadTime,omitempty" bson:"uploadTime,omitempty"`

	// Image defaults applied by the transform pipeline.
	Width        int       `json:"width,omitempty" bson:"width,omitempty"`
	Height       int       `json:"height,omitempty" bson:"height,omitempty"`
	Crop         *CropRect `json:"crop,omitempty" bson:"crop,omitempty"`
	CropBefore   *CropRect `json:"cropBefore,omitempty" bson:"cropBefore,omitempty"`
	CropAfter    *CropRect `json:"cropAfter,omitempty" bson:"cropAfter,omitempty"`
	CanvasScaleX float64   `json:"canvasScaleX,omitempty" bson:"canvasScaleX,omitempty"`
	CanvasScaleY float64   `json:"canvasScaleY,omitempty" bson:"canvasScaleY,omitempty"`

	// Extra holds untyped prober output merged in by the media processor.
	Extra map[string]any `json:"extra,omitempty" bson:"extra,omitempty"`
}

// Merge shallow-merges the non-zero fields of other into m. Extra is
// merged key-wise.
func (m *AssetMeta) Merge(other *AssetMeta) {
	if other == nil {
		return
	}
	if other.Extension != "" {
		m.Extension = other.Extension
	}
	if other.Length > 0 {
		m.Length = other.Length
	}
	if other.Classified {
		m.Classified = true
	}
	if other.DownloadCount > 0 {
		m.DownloadCount = other.DownloadCount
	}
	if other.FirstDownload != nil {
		m.FirstDownload = other.FirstDownload
	}
	if other.LastDownload != nil {
		m.LastDownload = other.LastDownload
	}
	if other.Preview != nil {
		m.Preview = other.Preview
	}
	if other.URL != "" {
		m.URL = other.URL
	}
	if other.UploadTime != nil {
		m.UploadTime = other.UploadTime
	}
	if other.Width > 0 {
		m.Width = other.Width
	}
	if other.Height > 0 {
		m.Height = other.Height
	}
	if other.Crop != nil {
		m.Crop = other.Crop
	}
	if other.CropBefore != nil {
		m.CropBefore = other.CropBefore
	}
	if other.CropAfter != nil {
		m.CropAfter = other.CropAfter
	}
	if other.CanvasScaleX != 0 {
		m.CanvasScaleX = other.CanvasScaleX
	}
	if other.CanvasScaleY != 0 {
		m.CanvasScaleY = other.CanvasScaleY
	}
	if len(other.Extra) > 0 {
		if m.Extra == nil {
			m.Extra = make(map[string]any, len(other.Extra))
		}
		for k, v := range other.Extra {
			m.Extra[k] = v
		}
	}
}

// SetExtra stores a free-form prober value.
func (m *AssetMeta) SetExtra(key string, value any) {
	if m.Extra == nil {
		m.Extra = make(map[string]any)
	}
	m.Extra[key] = value
}

// AssetRecord is the persisted record of one stored blob.
type AssetRecord struct {
	ID          uuid.UUID `json:"id" bson:"_id"`
	Filename    string    `json:"filename" bson:"filename"`
	ContentType string    `json:"contentType" bson:"contentType"`
	Bucket      string    `json:"bucket,omitempty" bson:"bucket,omitempty"`
	Meta        AssetMeta `json:"metadata" bson:"metadata"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Clone returns a deep-enough copy so repositories can hand out records
// without aliasing their internal state.
func (r *AssetRecord) Clone() *AssetRecord {
	cp := *r
	if r.Meta.Extra != nil {
		extra := make(map[string]any, len(r.Meta.Extra))
		for k, v := range r.Meta.Extra {
			extra[k] = v
		}
		cp.Meta.Extra = extra
	}
	return &cp
}

// Filter selects asset records in a repository. Zero-valued fields are
// ignored.
type Filter struct {
	ID            uuid.UUID
	Filename      string
	ContentType   string
	Bucket        string
	URL           string
	UploadedAfter *time.Time
	Limit         int
}

// Matches reports whether a record satisfies the filter. Repositories
// without native query support (memory) use it directly.
func (f Filter) Matches(rec *AssetRecord) bool {
	if f.ID != uuid.Nil && rec.ID != f.ID {
		return false
	}
	if f.Filename != "" && rec.Filename != f.Filename {
		return false
	}
	if f.ContentType != "" && !strings.EqualFold(rec.ContentType, f.ContentType) {
		return false
	}
	if f.Bucket != "" && rec.Bucket != f.Bucket {
		return false
	}
	if f.URL != "" && rec.Meta.URL != f.URL {
		return false
	}
	if f.UploadedAfter != nil {
		if rec.Meta.UploadTime == nil || !rec.Meta.UploadTime.After(*f.UploadedAfter) {
			return false
		}
	}
	return true
}
