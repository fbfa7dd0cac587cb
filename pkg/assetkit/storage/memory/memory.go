// Package memory provides an in-memory storage driver, useful for tests
// and development setups without external dependencies.
package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/stemyke/assetkit/pkg/assetkit"
)

type blob struct {
	data        []byte
	filename    string
	contentType string
}

// Driver keeps blobs in a map guarded by a RWMutex.
type Driver struct {
	mu    sync.RWMutex
	blobs map[uuid.UUID]blob
}

// New creates an empty in-memory driver.
func New() *Driver {
	return &Driver{blobs: make(map[uuid.UUID]blob)}
}

func (d *Driver) OpenUploadStream(ctx context.Context, filename string, opts assetkit.UploadOptions) (assetkit.UploadStream, error) {
	id := opts.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &uploadStream{
		driver:      d,
		id:          id,
		filename:    filename,
		contentType: opts.ContentType,
	}, nil
}

func (d *Driver) OpenDownloadStream(ctx context.Context, id uuid.UUID) (io.ReadCloser, error) {
	d.mu.RLock()
	b, ok := d.blobs[id]
	d.mu.RUnlock()
	if !ok {
		return nil, assetkit.ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

func (d *Driver) Delete(ctx context.Context, id uuid.UUID) error {
	d.mu.Lock()
	delete(d.blobs, id)
	d.mu.Unlock()
	return nil
}

// Len reports how many blobs are stored, for tests.
func (d *Driver) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.blobs)
}

type uploadStream struct {
	driver      *Driver
	id          uuid.UUID
	filename    string
	contentType string
	buf         bytes.Buffer
	done        bool
	aborted     bool
}

func (s *uploadStream) Write(p []byte) (int, error) {
	if s.done || s.aborted {
		return 0, errors.New("memory: write on closed upload stream")
	}
	return s.buf.Write(p)
}

// Close commits the buffered bytes. The blob only becomes visible here.
func (s *uploadStream) Close() error {
	if s.done || s.aborted {
		return nil
	}
	s.driver.mu.Lock()
	s.driver.blobs[s.id] = blob{
		data:        append([]byte(nil), s.buf.Bytes()...),
		filename:    s.filename,
		contentType: s.contentType,
	}
	s.driver.mu.Unlock()
	s.done = true
	return nil
}

func (s *uploadStream) Abort() error {
	if s.done {
		return nil
	}
	s.aborted = true
	s.buf.Reset()
	return nil
}

func (s *uploadStream) ID() uuid.UUID { return s.id }
func (s *uploadStream) Done() bool    { return s.done }
func (s *uploadStream) Length() int64 { return int64(s.buf.Len()) }
