// Package fs provides a filesystem storage driver. Each blob lives in
// its own directory named after the blob id, holding the payload plus
// sidecar files with the original filename and the asset metadata, so a
// store remains inspectable without the database.
package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/stemyke/assetkit/pkg/assetkit"
)

const (
	payloadFile  = "file.bin"
	filenameFile = "filename.txt"
	metadataFile = "metadata.json"
)

// Config options for the filesystem driver.
type Config struct {
	// BaseDir is the root directory blobs are stored under. Created when
	// missing.
	BaseDir string
}

// Driver stores blobs under a base directory.
type Driver struct {
	baseDir string
}

// New creates a filesystem driver rooted at config.BaseDir.
func New(config Config) (*Driver, error) {
	if config.BaseDir == "" {
		return nil, errors.New("fs: base directory is required")
	}
	if err := os.MkdirAll(config.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("fs: create base directory: %w", err)
	}
	return &Driver{baseDir: config.BaseDir}, nil
}

func (d *Driver) blobDir(id uuid.UUID) string {
	return filepath.Join(d.baseDir, id.String())
}

func (d *Driver) OpenUploadStream(ctx context.Context, filename string, opts assetkit.UploadOptions) (assetkit.UploadStream, error) {
	id := opts.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	dir := d.blobDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fs: create blob directory: %w", err)
	}

	file, err := os.Create(filepath.Join(dir, payloadFile))
	if err != nil {
		return nil, fmt.Errorf("fs: create payload file: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, filenameFile), []byte(filename), 0o644); err != nil {
		file.Close()
		os.RemoveAll(dir)
		return nil, fmt.Errorf("fs: write filename sidecar: %w", err)
	}
	if opts.Metadata != nil {
		raw, err := json.MarshalIndent(opts.Metadata, "", "  ")
		if err == nil {
			err = os.WriteFile(filepath.Join(dir, metadataFile), raw, 0o644)
		}
		if err != nil {
			file.Close()
			os.RemoveAll(dir)
			return nil, fmt.Errorf("fs: write metadata sidecar: %w", err)
		}
	}

	return &uploadStream{id: id, dir: dir, file: file}, nil
}

func (d *Driver) OpenDownloadStream(ctx context.Context, id uuid.UUID) (io.ReadCloser, error) {
	file, err := os.Open(filepath.Join(d.blobDir(id), payloadFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, assetkit.ErrBlobNotFound
		}
		return nil, fmt.Errorf("fs: open payload: %w", err)
	}
	return file, nil
}

func (d *Driver) Delete(ctx context.Context, id uuid.UUID) error {
	if err := os.RemoveAll(d.blobDir(id)); err != nil {
		return fmt.Errorf("fs: delete blob: %w", err)
	}
	return nil
}

type uploadStream struct {
	id      uuid.UUID
	dir     string
	file    *os.File
	length  int64
	done    bool
	aborted bool
}

func (s *uploadStream) Write(p []byte) (int, error) {
	if s.done || s.aborted {
		return 0, errors.New("fs: write on closed upload stream")
	}
	n, err := s.file.Write(p)
	s.length += int64(n)
	return n, err
}

func (s *uploadStream) Close() error {
	if s.done || s.aborted {
		return nil
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("fs: close payload file: %w", err)
	}
	s.done = true
	return nil
}

// Abort removes the whole blob directory including sidecars.
func (s *uploadStream) Abort() error {
	if s.done {
		return nil
	}
	s.aborted = true
	s.file.Close()
	return os.RemoveAll(s.dir)
}

func (s *uploadStream) ID() uuid.UUID { return s.id }
func (s *uploadStream) Done() bool    { return s.done }
func (s *uploadStream) Length() int64 { return s.length }
