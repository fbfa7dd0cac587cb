package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

type envConfig struct {
	Port          string `env:"PORT"`
	Environment   string `env:"ENVIRONMENT"`
	DatabaseURL   string `env:"DATABASE_URL"`
	MongoDatabase string `env:"MONGO_DATABASE"`
	StorageURL    string `env:"STORAGE_URL"`
	MaxFileSize   int64  `env:"MAX_FILE_SIZE"`
	FFprobePath   string `env:"FFPROBE_PATH"`
	FFmpegPath    string `env:"FFMPEG_PATH"`
}

// WithEnv applies environment variable overrides.
//
// Database:
//
//	DATABASE_URL - "memory" (default), "postgresql://..." or
//	               "mongodb://host/db". The type is derived from the
//	               URL scheme.
//	MONGO_DATABASE - Database name override for mongodb URLs.
//
// Storage:
//
//	STORAGE_URL - One of:
//	              "memory://" (default)
//	              "file:///path/to/data"
//	              "gridfs://" (requires a mongodb DATABASE_URL)
//	              "s3://bucket?region=us-east-1&endpoint=..."
//
// Server:
//
//	PORT, ENVIRONMENT, MAX_FILE_SIZE, FFPROBE_PATH, FFMPEG_PATH
func WithEnv() Option {
	return func(c *ServerConfig) error {
		var env envConfig
		if err := cleanenv.ReadEnv(&env); err != nil {
			return fmt.Errorf("read environment: %w", err)
		}

		if env.Port != "" {
			c.Port = env.Port
		}
		if env.Environment != "" {
			c.Environment = env.Environment
		}
		if env.MaxFileSize > 0 {
			c.MaxFileSize = env.MaxFileSize
		}
		if env.FFprobePath != "" {
			c.FFprobePath = env.FFprobePath
		}
		if env.FFmpegPath != "" {
			c.FFmpegPath = env.FFmpegPath
		}
		if env.MongoDatabase != "" {
			c.MongoDatabase = env.MongoDatabase
		}

		if err := applyDatabaseEnv(env.DatabaseURL, c); err != nil {
			return err
		}
		return applyStorageEnv(env.StorageURL, c)
	}
}

func applyDatabaseEnv(dbURL string, c *ServerConfig) error {
	if dbURL == "" || dbURL == "memory" {
		c.DatabaseType = "memory"
		c.DatabaseURL = ""
		return nil
	}

	switch {
	case strings.HasPrefix(dbURL, "postgresql://"), strings.HasPrefix(dbURL, "postgres://"):
		c.DatabaseType = "postgres"
	case strings.HasPrefix(dbURL, "mongodb://"), strings.HasPrefix(dbURL, "mongodb+srv://"):
		c.DatabaseType = "mongodb"
	default:
		return fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory', 'postgresql://...' or 'mongodb://...')", dbURL)
	}
	c.DatabaseURL = dbURL
	return nil
}

func applyStorageEnv(storageURL string, c *ServerConfig) error {
	if storageURL == "" || storageURL == "memory" || storageURL == "memory://" {
		c.DefaultBucket = "memory"
		c.Buckets = upsertBucket(c.Buckets, BucketConfig{
			Name:   "memory",
			Type:   "memory",
			Config: map[string]interface{}{},
		})
		return nil
	}

	u, err := url.Parse(storageURL)
	if err != nil {
		return fmt.Errorf("invalid STORAGE_URL: %w", err)
	}

	switch u.Scheme {
	case "file":
		c.DefaultBucket = "fs"
		c.Buckets = upsertBucket(c.Buckets, BucketConfig{
			Name:   "fs",
			Type:   "fs",
			Config: map[string]interface{}{"base_dir": u.Path},
		})

	case "gridfs":
		c.DefaultBucket = "gridfs"
		c.Buckets = upsertBucket(c.Buckets, BucketConfig{
			Name:   "gridfs",
			Type:   "gridfs",
			Config: map[string]interface{}{"bucket_name": strings.TrimPrefix(u.Path, "/")},
		})

	case "s3":
		cfg := map[string]interface{}{
			"bucket": u.Host,
		}
		q := u.Query()
		for _, key := range []string{"region", "endpoint", "access_key_id", "secret_access_key", "key_prefix"} {
			if v := q.Get(key); v != "" {
				cfg[key] = v
			}
		}
		if q.Get("use_path_style") == "true" {
			cfg["use_path_style"] = true
		}
		if q.Get("create_bucket_if_not_exist") == "true" {
			cfg["create_bucket_if_not_exist"] = true
		}
		c.DefaultBucket = "s3"
		c.Buckets = upsertBucket(c.Buckets, BucketConfig{Name: "s3", Type: "s3", Config: cfg})

	default:
		return fmt.Errorf("unsupported STORAGE_URL scheme: %s", u.Scheme)
	}
	return nil
}

func upsertBucket(buckets []BucketConfig, bucket BucketConfig) []BucketConfig {
	for i, existing := range buckets {
		if existing.Name == bucket.Name {
			buckets[i] = bucket
			return buckets
		}
	}
	return append(buckets, bucket)
}
