// Package gridfs provides a MongoDB GridFS storage driver. The blob id
// doubles as the GridFS file id, so the bucket can be inspected with
// standard Mongo tooling.
package gridfs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/stemyke/assetkit/pkg/assetkit"
)

// Config options for the GridFS driver.
type Config struct {
	// BucketName is the GridFS bucket prefix (default "fs").
	BucketName string
	// ChunkSizeBytes overrides the default 255KiB chunk size.
	ChunkSizeBytes int32
}

// Driver stores blobs in a GridFS bucket.
type Driver struct {
	bucket *gridfs.Bucket
}

// New creates a GridFS driver over the given database.
func New(db *mongo.Database, config Config) (*Driver, error) {
	opts := options.GridFSBucket()
	if config.BucketName != "" {
		opts.SetName(config.BucketName)
	}
	if config.ChunkSizeBytes > 0 {
		opts.SetChunkSizeBytes(config.ChunkSizeBytes)
	}
	bucket, err := gridfs.NewBucket(db, opts)
	if err != nil {
		return nil, fmt.Errorf("gridfs: create bucket: %w", err)
	}
	return &Driver{bucket: bucket}, nil
}

// EnsureIndexes creates the chunk-uniqueness and file lookup indexes up
// front instead of leaving them to the first upload.
func (d *Driver) EnsureIndexes(ctx context.Context) error {
	chunks := d.bucket.GetChunksCollection()
	_, err := chunks.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "files_id", Value: 1}, {Key: "n", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("gridfs: create chunk index: %w", err)
	}

	files := d.bucket.GetFilesCollection()
	_, err = files.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "filename", Value: 1}, {Key: "uploadDate", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("gridfs: create file index: %w", err)
	}
	return nil
}

func (d *Driver) OpenUploadStream(ctx context.Context, filename string, opts assetkit.UploadOptions) (assetkit.UploadStream, error) {
	id := opts.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	meta := bson.M{}
	if opts.ContentType != "" {
		meta["contentType"] = opts.ContentType
	}
	if opts.Metadata != nil {
		meta["asset"] = opts.Metadata
	}

	uploadOpts := options.GridFSUpload().SetMetadata(meta)
	if opts.ChunkSize > 0 {
		uploadOpts.SetChunkSizeBytes(opts.ChunkSize)
	}

	if deadline, ok := ctx.Deadline(); ok {
		d.bucket.SetWriteDeadline(deadline)
	}
	stream, err := d.bucket.OpenUploadStreamWithID(id.String(), filename, uploadOpts)
	if err != nil {
		return nil, fmt.Errorf("gridfs: open upload stream: %w", err)
	}
	return &uploadStream{id: id, stream: stream}, nil
}

func (d *Driver) OpenDownloadStream(ctx context.Context, id uuid.UUID) (io.ReadCloser, error) {
	if deadline, ok := ctx.Deadline(); ok {
		d.bucket.SetReadDeadline(deadline)
	}
	stream, err := d.bucket.OpenDownloadStream(id.String())
	if err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, assetkit.ErrBlobNotFound
		}
		return nil, fmt.Errorf("gridfs: open download stream: %w", err)
	}
	return stream, nil
}

func (d *Driver) Delete(ctx context.Context, id uuid.UUID) error {
	if deadline, ok := ctx.Deadline(); ok {
		d.bucket.SetWriteDeadline(deadline)
	}
	if err := d.bucket.Delete(id.String()); err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil
		}
		return fmt.Errorf("gridfs: delete: %w", err)
	}
	return nil
}

type uploadStream struct {
	id      uuid.UUID
	stream  *gridfs.UploadStream
	length  int64
	done    bool
	aborted bool
}

func (s *uploadStream) Write(p []byte) (int, error) {
	if s.done || s.aborted {
		return 0, errors.New("gridfs: write on closed upload stream")
	}
	n, err := s.stream.Write(p)
	s.length += int64(n)
	return n, err
}

func (s *uploadStream) Close() error {
	if s.done || s.aborted {
		return nil
	}
	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("gridfs: close upload stream: %w", err)
	}
	s.done = true
	return nil
}

func (s *uploadStream) Abort() error {
	if s.done {
		return nil
	}
	s.aborted = true
	return s.stream.Abort()
}

func (s *uploadStream) ID() uuid.UUID { return s.id }
func (s *uploadStream) Done() bool    { return s.done }
func (s *uploadStream) Length() int64 { return s.length }
