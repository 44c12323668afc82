package e2e

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/marmos91/dittodrop/pkg/config"
)

// MetadataStoreType represents the type of metadata store
type MetadataStoreType string

const (
	MetadataMemory MetadataStoreType = "memory"
	MetadataBadger MetadataStoreType = "badger"
	MetadataRedis  MetadataStoreType = "redis"
)

// BlobStoreType represents the type of blob store
type BlobStoreType string

const (
	BlobFilesystem BlobStoreType = "filesystem"
	BlobS3         BlobStoreType = "s3"
)

// TestConfig holds the store combination for a test run
type TestConfig struct {
	Name          string
	MetadataStore MetadataStoreType
	BlobStore     BlobStoreType

	// S3-specific fields (set by the Localstack setup)
	s3Endpoint string
	s3Bucket   string

	// Redis address (set from DITTODROP_TEST_REDIS_ADDR)
	redisAddr string
}

// String returns a string representation of the configuration
func (tc *TestConfig) String() string {
	return fmt.Sprintf("%s/%s", tc.MetadataStore, tc.BlobStore)
}

// apply fills the store sections of cfg for this combination. Every run gets
// its own directories and key prefix, so runs never observe each other.
func (tc *TestConfig) apply(cfg *config.Config, tempDir func(prefix string) string, runID string) error {
	cfg.Metadata.Type = string(tc.MetadataStore)
	cfg.Blob.Type = string(tc.BlobStore)

	switch tc.MetadataStore {
	case MetadataMemory:
	case MetadataBadger:
		cfg.Metadata.Badger = map[string]any{
			"db_path":        filepath.Join(tempDir("dittodrop-badger-*"), "metadata"),
			"sweep_interval": "100ms",
		}
	case MetadataRedis:
		if tc.redisAddr == "" {
			return fmt.Errorf("redis address not set (DITTODROP_TEST_REDIS_ADDR)")
		}
		cfg.Metadata.Redis = map[string]any{
			"addr":                    tc.redisAddr,
			"key_prefix":              "e2e-" + runID + ":",
			"configure_notifications": true,
		}
	default:
		return fmt.Errorf("unknown metadata store type: %s", tc.MetadataStore)
	}

	switch tc.BlobStore {
	case BlobFilesystem:
		cfg.Blob.Filesystem = map[string]any{"path": tempDir("dittodrop-blobs-*")}
	case BlobS3:
		if tc.s3Bucket == "" {
			return fmt.Errorf("S3 bucket not initialized (localstack not running?)")
		}
		cfg.Blob.S3 = map[string]any{
			"region":            "us-east-1",
			"endpoint":          tc.s3Endpoint,
			"access_key_id":     "test",
			"secret_access_key": "test",
			"bucket":            tc.s3Bucket,
			"key_prefix":        runID + "/",
		}
	default:
		return fmt.Errorf("unknown blob store type: %s", tc.BlobStore)
	}

	return nil
}

// AllConfigurations returns the configurations that need no external service
func AllConfigurations() []*TestConfig {
	return []*TestConfig{
		{
			Name:          "memory-filesystem",
			MetadataStore: MetadataMemory,
			BlobStore:     BlobFilesystem,
		},
		{
			Name:          "badger-filesystem",
			MetadataStore: MetadataBadger,
			BlobStore:     BlobFilesystem,
		},
	}
}

// S3Configurations returns configurations that use S3 (requires localstack)
func S3Configurations() []*TestConfig {
	return []*TestConfig{
		{
			Name:          "memory-s3",
			MetadataStore: MetadataMemory,
			BlobStore:     BlobS3,
		},
		{
			Name:          "badger-s3",
			MetadataStore: MetadataBadger,
			BlobStore:     BlobS3,
		},
	}
}

// RedisConfigurations returns configurations that use Redis. It returns
// nothing unless DITTODROP_TEST_REDIS_ADDR is set.
func RedisConfigurations() []*TestConfig {
	addr := os.Getenv("DITTODROP_TEST_REDIS_ADDR")
	if addr == "" {
		return nil
	}
	return []*TestConfig{
		{
			Name:          "redis-filesystem",
			MetadataStore: MetadataRedis,
			BlobStore:     BlobFilesystem,
			redisAddr:     addr,
		},
	}
}
