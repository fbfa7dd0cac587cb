package httprange

import "io"

// Reader passes through only the bytes in [start, end] (inclusive) of the
// wrapped stream. Once the last requested byte has been read it reports
// io.EOF and closes the upstream reader so that no further data is
// consumed from it.
type Reader struct {
	src       io.Reader
	start     int64
	end       int64 // inclusive; negative means unbounded
	received  int64
	satisfied bool
}

// NewReader wraps src so that only bytes [start, end] are read from it.
// An end < 0 means "until EOF".
func NewReader(src io.Reader, start, end int64) *Reader {
	return &Reader{src: src, start: start, end: end}
}

func (r *Reader) Read(p []byte) (int, error) {
	for {
		if r.satisfied {
			return 0, io.EOF
		}

		n, err := r.src.Read(p)
		chunkStart := r.received
		r.received += int64(n)

		// Still before the requested window.
		if r.received <= r.start {
			if err != nil {
				r.finish()
				return 0, err
			}
			continue
		}

		data := p[:n]
		// Trim the head of the chunk that straddles start.
		if skip := r.start - chunkStart; skip > 0 {
			copy(p, data[skip:])
			data = p[:int64(n)-skip]
		}
		// Trim the tail of the chunk that straddles end.
		if r.end >= 0 && r.received > r.end {
			over := r.received - r.end - 1
			data = data[:int64(len(data))-over]
			r.finish()
			return len(data), nil
		}

		if err != nil {
			r.finish()
		}
		return len(data), err
	}
}

// Close closes the upstream reader if it is closable.
func (r *Reader) Close() error {
	r.satisfied = true
	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// finish marks the range as satisfied and releases the upstream reader.
func (r *Reader) finish() {
	if r.satisfied {
		return
	}
	r.satisfied = true
	if c, ok := r.src.(io.Closer); ok {
		c.Close()
	}
}
