// Package config assembles a ready-to-run asset service from plain
// configuration values.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/stemyke/assetkit/pkg/assetkit"
	"github.com/stemyke/assetkit/pkg/assetkit/detect"
	"github.com/stemyke/assetkit/pkg/assetkit/media"
	memoryrepo "github.com/stemyke/assetkit/pkg/assetkit/repo/memory"
	mongorepo "github.com/stemyke/assetkit/pkg/assetkit/repo/mongo"
	postgresrepo "github.com/stemyke/assetkit/pkg/assetkit/repo/postgres"
	fsstorage "github.com/stemyke/assetkit/pkg/assetkit/storage/fs"
	gridfsstorage "github.com/stemyke/assetkit/pkg/assetkit/storage/gridfs"
	memorystorage "github.com/stemyke/assetkit/pkg/assetkit/storage/memory"
	s3storage "github.com/stemyke/assetkit/pkg/assetkit/storage/s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top
// of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:          "8080",
		Environment:   "development",
		DatabaseType:  "memory",
		DefaultBucket: "memory",
		Buckets: []BucketConfig{
			{Name: "memory", Type: "memory", Config: map[string]interface{}{}},
		},
		MaxFileSize: 100 << 20,
		DedupWindow: 7 * 24 * time.Hour,
	}
}

// ServerConfig represents the configuration of one asset server.
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Database configuration
	DatabaseURL   string
	DatabaseType  string // "memory", "mongodb", "postgres"
	MongoDatabase string // database name for mongodb (default from URL path)

	// Storage configuration
	DefaultBucket string
	Buckets       []BucketConfig

	// Upload limits and URL dedup
	MaxFileSize int64
	DedupWindow time.Duration

	// Media tool paths; empty values use $PATH lookup.
	FFprobePath string
	FFmpegPath  string
}

// BucketConfig configures one storage bucket.
type BucketConfig struct {
	Name   string
	Type   string // "memory", "fs", "gridfs", "s3"
	Config map[string]interface{}
}

// Validate checks the configuration for inconsistencies.
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	switch c.DatabaseType {
	case "memory":
	case "mongodb", "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("database_url is required when using %s", c.DatabaseType)
		}
	default:
		return errors.New("database_type must be 'memory', 'mongodb' or 'postgres'")
	}

	found := false
	for _, bucket := range c.Buckets {
		if bucket.Name == c.DefaultBucket {
			found = true
		}
		if bucket.Type == "gridfs" && c.DatabaseType != "mongodb" && getString(bucket.Config, "url", "") == "" {
			return fmt.Errorf("gridfs bucket '%s' needs a mongodb database or an explicit url", bucket.Name)
		}
	}
	if !found {
		return fmt.Errorf("default bucket '%s' not found in configured buckets", c.DefaultBucket)
	}
	return nil
}

// BuildService creates a Service instance from the configuration.
func (c *ServerConfig) BuildService(ctx context.Context) (assetkit.Service, error) {
	var options []assetkit.Option

	var mongoDB *mongo.Database
	if c.DatabaseType == "mongodb" || c.hasGridFSBucket() {
		db, err := c.connectMongo(ctx)
		if err != nil {
			return nil, err
		}
		mongoDB = db
	}

	repo, err := c.buildRepository(ctx, mongoDB)
	if err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}
	options = append(options, assetkit.WithRepository(repo))

	for _, bucketConfig := range c.Buckets {
		driver, err := c.buildDriver(ctx, bucketConfig, mongoDB)
		if err != nil {
			return nil, fmt.Errorf("failed to build bucket %s: %w", bucketConfig.Name, err)
		}
		options = append(options, assetkit.WithDriver(bucketConfig.Name, driver))
	}

	var mediaOpts []media.Option
	if c.FFprobePath != "" || c.FFmpegPath != "" {
		mediaOpts = append(mediaOpts, media.WithFFmpeg(c.FFprobePath, c.FFmpegPath))
	}
	processor := media.New(mediaOpts...)

	options = append(options,
		assetkit.WithDefaultBucket(c.DefaultBucket),
		assetkit.WithDetector(detect.New()),
		assetkit.WithProcessor(processor),
	)
	if c.DedupWindow > 0 {
		options = append(options, assetkit.WithDedupWindow(c.DedupWindow))
	}

	return assetkit.New(options...)
}

func (c *ServerConfig) hasGridFSBucket() bool {
	for _, bucket := range c.Buckets {
		if bucket.Type == "gridfs" && getString(bucket.Config, "url", "") == "" {
			return true
		}
	}
	return false
}

func (c *ServerConfig) connectMongo(ctx context.Context) (*mongo.Database, error) {
	client, err := mongo.Connect(ctx, mongooptions.Client().ApplyURI(c.DatabaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	name := c.MongoDatabase
	if name == "" {
		name = databaseFromURL(c.DatabaseURL)
	}
	if name == "" {
		return nil, errors.New("mongodb database name is required (URL path or MONGO_DATABASE)")
	}
	return client.Database(name), nil
}

func databaseFromURL(url string) string {
	idx := strings.Index(url, "//")
	if idx < 0 {
		return ""
	}
	rest := url[idx+2:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[slash+1:]
		if q := strings.IndexAny(rest, "?/"); q >= 0 {
			rest = rest[:q]
		}
		return rest
	}
	return ""
}

func (c *ServerConfig) buildRepository(ctx context.Context, mongoDB *mongo.Database) (assetkit.Repository, error) {
	switch c.DatabaseType {
	case "memory":
		return memoryrepo.New(), nil

	case "mongodb":
		repo := mongorepo.New(mongoDB, "")
		if err := repo.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		return repo, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, c.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create pgx pool: %w", err)
		}
		repo := postgresrepo.NewWithPool(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return repo, nil

	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

func (c *ServerConfig) buildDriver(ctx context.Context, config BucketConfig, mongoDB *mongo.Database) (assetkit.Driver, error) {
	switch config.Type {
	case "memory":
		return memorystorage.New(), nil

	case "fs":
		return fsstorage.New(fsstorage.Config{
			BaseDir: getString(config.Config, "base_dir", "./data/assets"),
		})

	case "gridfs":
		db := mongoDB
		if url := getString(config.Config, "url", ""); url != "" {
			client, err := mongo.Connect(ctx, mongooptions.Client().ApplyURI(url))
			if err != nil {
				return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
			}
			name := getString(config.Config, "database", databaseFromURL(url))
			if name == "" {
				return nil, errors.New("gridfs bucket needs a database name")
			}
			db = client.Database(name)
		}
		if db == nil {
			return nil, errors.New("gridfs bucket needs a mongodb connection")
		}
		driver, err := gridfsstorage.New(db, gridfsstorage.Config{
			BucketName:     getString(config.Config, "bucket_name", ""),
			ChunkSizeBytes: int32(getInt(config.Config, "chunk_size", 0)),
		})
		if err != nil {
			return nil, err
		}
		if err := driver.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		return driver, nil

	case "s3":
		return s3storage.New(s3storage.Config{
			Region:                 getString(config.Config, "region", "us-east-1"),
			Bucket:                 getString(config.Config, "bucket", ""),
			AccessKeyID:            getString(config.Config, "access_key_id", ""),
			SecretAccessKey:        getString(config.Config, "secret_access_key", ""),
			Endpoint:               getString(config.Config, "endpoint", ""),
			UsePathStyle:           getBool(config.Config, "use_path_style", false),
			KeyPrefix:              getString(config.Config, "key_prefix", ""),
			CreateBucketIfNotExist: getBool(config.Config, "create_bucket_if_not_exist", false),
		})

	default:
		return nil, fmt.Errorf("unsupported bucket type: %s", config.Type)
	}
}

func getString(config map[string]interface{}, key string, defaultValue string) string {
	if value, exists := config[key]; exists {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return defaultValue
}

func getBool(config map[string]interface{}, key string, defaultValue bool) bool {
	if value, exists := config[key]; exists {
		if b, ok := value.(bool); ok {
			return b
		}
	}
	return defaultValue
}

func getInt(config map[string]interface{}, key string, defaultValue int) int {
	if value, exists := config[key]; exists {
		switch v := value.(type) {
		case int:
			return v
		case float64:
			return int(v)
		}
	}
	return defaultValue
}
