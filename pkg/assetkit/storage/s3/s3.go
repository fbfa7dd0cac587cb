// Package s3 provides an S3-compatible storage driver (AWS S3, MinIO
// and friends). Blobs are stored as objects keyed by the blob id.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/stemyke/assetkit/pkg/assetkit"
)

// Config options for the S3 driver.
type Config struct {
	Region          string // AWS region
	Bucket          string // S3 bucket name
	AccessKeyID     string // AWS access key ID
	SecretAccessKey string // AWS secret access key
	Endpoint        string // Optional custom endpoint for S3-compatible services
	UsePathStyle    bool   // Use path-style addressing (default: false)
	KeyPrefix       string // Optional key prefix for all blobs

	// MinIO/S3-compatible service options
	CreateBucketIfNotExist bool // Create bucket if it doesn't exist
}

// Driver stores blobs as S3 objects.
type Driver struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	config   Config
}

// New creates an S3 driver. Credentials fall back to the default AWS
// chain when not provided explicitly.
func New(config Config) (*Driver, error) {
	if config.Bucket == "" {
		return nil, errors.New("s3: bucket name is required")
	}
	if config.Region == "" {
		config.Region = "us-east-1"
	}

	var awsCfg aws.Config
	var err error

	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(config.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				config.AccessKeyID,
				config.SecretAccessKey,
				"",
			)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(config.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("s3: load AWS config: %w", err)
	}

	var s3Options []func(*s3.Options)
	if config.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = config.UsePathStyle
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Options...)

	driver := &Driver{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   config.Bucket,
		prefix:   config.KeyPrefix,
		config:   config,
	}

	if config.CreateBucketIfNotExist {
		if err := driver.createBucketIfNotExists(context.Background()); err != nil {
			return nil, fmt.Errorf("s3: create bucket: %w", err)
		}
	}
	return driver, nil
}

func (d *Driver) createBucketIfNotExists(ctx context.Context) error {
	_, err := d.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(d.bucket),
	})
	if err == nil {
		return nil
	}

	// MinIO reports a missing bucket inconsistently across versions.
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) &&
		!strings.Contains(err.Error(), "BadRequest") &&
		!strings.Contains(err.Error(), "NoSuchBucket") {
		return fmt.Errorf("check bucket: %w", err)
	}

	createInput := &s3.CreateBucketInput{
		Bucket: aws.String(d.bucket),
	}
	if d.config.Region != "us-east-1" {
		createInput.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(d.config.Region),
		}
	}

	if _, err := d.client.CreateBucket(ctx, createInput); err != nil {
		if strings.Contains(err.Error(), "BucketAlreadyExists") ||
			strings.Contains(err.Error(), "BucketAlreadyOwnedByYou") {
			return nil
		}
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

func (d *Driver) objectKey(id uuid.UUID) string {
	if d.prefix == "" {
		return id.String()
	}
	return strings.TrimSuffix(d.prefix, "/") + "/" + id.String()
}

func (d *Driver) OpenUploadStream(ctx context.Context, filename string, opts assetkit.UploadOptions) (assetkit.UploadStream, error) {
	id := opts.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &uploadStream{
		driver:      d,
		ctx:         ctx,
		id:          id,
		filename:    filename,
		contentType: opts.ContentType,
	}, nil
}

func (d *Driver) OpenDownloadStream(ctx context.Context, id uuid.UUID) (io.ReadCloser, error) {
	result, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.objectKey(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, assetkit.ErrBlobNotFound
		}
		return nil, fmt.Errorf("s3: get object: %w", err)
	}
	return result.Body, nil
}

func (d *Driver) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.objectKey(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("s3: delete object: %w", err)
	}
	return nil
}

// isNotFound matches both the typed NoSuchKey error and the generic
// API error codes some S3-compatible services return instead.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}

// uploadStream buffers the payload and ships it with the upload manager
// on Close, so multi-part handling stays inside the SDK.
type uploadStream struct {
	driver      *Driver
	ctx         context.Context
	id          uuid.UUID
	filename    string
	contentType string
	buf         bytes.Buffer
	done        bool
	aborted     bool
}

func (s *uploadStream) Write(p []byte) (int, error) {
	if s.done || s.aborted {
		return 0, errors.New("s3: write on closed upload stream")
	}
	return s.buf.Write(p)
}

func (s *uploadStream) Close() error {
	if s.done || s.aborted {
		return nil
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.driver.bucket),
		Key:    aws.String(s.driver.objectKey(s.id)),
		Body:   bytes.NewReader(s.buf.Bytes()),
		Metadata: map[string]string{
			"filename": s.filename,
		},
	}
	if s.contentType != "" {
		input.ContentType = aws.String(s.contentType)
	}
	if _, err := s.driver.uploader.Upload(s.ctx, input); err != nil {
		return fmt.Errorf("s3: upload object: %w", err)
	}
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
