// Package httprange parses HTTP Range headers and slices byte streams
// to the requested window.
package httprange

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrMalformed indicates the header is not a valid range header at all
	// (missing the "unit=" part).
	ErrMalformed = errors.New("malformed range header")

	// ErrUnsatisfiable indicates the header was well formed but no spec
	// could be satisfied against the given size.
	ErrUnsatisfiable = errors.New("range not satisfiable")
)

// Range is a single absolute byte range, both bounds inclusive.
type Range struct {
	Start int64
	End   int64
}

// Length returns the number of bytes covered by the range.
func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

// Ranges is an ordered set of parsed ranges tagged with the request unit.
type Ranges struct {
	Unit   string
	Ranges []Range
}

// Options control parsing behavior.
type Options struct {
	// Combine merges overlapping and adjacent ranges while preserving the
	// original request order in the output.
	Combine bool
}

// Parse parses a Range header value against a total resource size.
//
// Each spec may be "start-end", "start-" or "-suffix". Specs that are
// invalid on their own (non-numeric on both ends, start > end, negative
// start) are dropped silently; when every spec is dropped the result is
// ErrUnsatisfiable. A header without "=" is ErrMalformed.
func Parse(size int64, header string, opts Options) (*Ranges, error) {
	idx := strings.Index(header, "=")
	if idx < 0 {
		return nil, ErrMalformed
	}

	result := &Ranges{Unit: header[:idx]}

	for _, spec := range strings.Split(header[idx+1:], ",") {
		spec = strings.TrimSpace(spec)
		dash := strings.Index(spec, "-")
		if dash < 0 {
			continue
		}

		start, startErr := strconv.ParseInt(spec[:dash], 10, 64)
		end, endErr := strconv.ParseInt(spec[dash+1:], 10, 64)

		switch {
		case startErr != nil && endErr != nil:
			continue
		case startErr != nil:
			// -suffix form
			start = size - end
			end = size - 1
		case endErr != nil:
			// open-ended form
			end = size - 1
		}

		if end >= size {
			end = size - 1
		}
		if start > end || start < 0 {
			continue
		}

		result.Ranges = append(result.Ranges, Range{Start: start, End: end})
	}

	if len(result.Ranges) == 0 {
		return nil, ErrUnsatisfiable
	}

	if opts.Combine {
		result.Ranges = combine(result.Ranges)
	}
	return result, nil
}

type indexedRange struct {
	Range
	index int
}

// combine merges overlapping/adjacent ranges. Two passes: sort by start
// to merge, then restore the original request order by index.
func combine(ranges []Range) []Range {
	ordered := make([]indexedRange, len(ranges))
	for i, r := range ranges {
		ordered[i] = indexedRange{Range: r, index: i}
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Start < ordered[j].Start
	})

	j := 0
	for i := 1; i < len(ordered); i++ {
		r := ordered[i]
		current := &ordered[j]
		if r.Start > current.End+1 {
			j++
			ordered[j] = r
		} else if r.End > current.End {
			current.End = r.End
			if r.index < current.index {
				current.index = r.index
			}
		}
	}
	ordered = ordered[:j+1]

	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].index < ordered[j].index
	})

	combined := make([]Range, len(ordered))
	for i, r := range ordered {
		combined[i] = r.Range
	}
	return combined
}
