package config

import (
	"context"
	"fmt"

	"github.com/marmos91/dittodrop/internal/logger"
	"github.com/marmos91/dittodrop/pkg/store/blob"
	blobfs "github.com/marmos91/dittodrop/pkg/store/blob/fs"
	blobs3 "github.com/marmos91/dittodrop/pkg/store/blob/s3"
	"github.com/marmos91/dittodrop/pkg/store/metadata"
	"github.com/marmos91/dittodrop/pkg/store/metadata/badger"
	"github.com/marmos91/dittodrop/pkg/store/metadata/memory"
	"github.com/marmos91/dittodrop/pkg/store/metadata/redis"
	"github.com/mitchellh/mapstructure"
)

// decodeOptions decodes a type-specific configuration map into out.
//
// Durations may be given as strings ("30s") and scalars are converted
// loosely, because environment variables always arrive as strings.
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(options)
}

// CreateBlobStore creates a blob store based on configuration.
//
// Supported types:
//   - "filesystem": local directory (pkg/store/blob/fs)
//   - "s3": Amazon S3 or a compatible service (pkg/store/blob/s3)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Blob store configuration
//
// Returns:
//   - blob.Store: Initialized store
//   - error: Configuration or initialization error
func CreateBlobStore(ctx context.Context, cfg *BlobConfig) (blob.Store, error) {
	switch cfg.Type {
	case "filesystem":
		return createFilesystemBlobStore(ctx, cfg.Filesystem)
	case "s3":
		return createS3BlobStore(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown blob store type: %q (supported: filesystem, s3)", cfg.Type)
	}
}

func createFilesystemBlobStore(ctx context.Context, options map[string]any) (blob.Store, error) {
	var storeCfg blobfs.FSBlobStoreConfig
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem blob store config: %w", err)
	}

	if storeCfg.Path == "" {
		return nil, fmt.Errorf("filesystem blob store: path is required")
	}

	store, err := blobfs.NewFSBlobStore(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem blob store: %w", err)
	}

	logger.Info("Filesystem blob store initialized: path=%s", store.BasePath())
	return store, nil
}

func createS3BlobStore(ctx context.Context, options map[string]any) (blob.Store, error) {
	type S3BlobStoreOptions struct {
		blobs3.ClientConfig `mapstructure:",squash"`

		Bucket    string `mapstructure:"bucket"`
		KeyPrefix string `mapstructure:"key_prefix"`
		PartSize  int64  `mapstructure:"part_size"`
	}

	var storeOpts S3BlobStoreOptions
	if err := decodeOptions(options, &storeOpts); err != nil {
		return nil, fmt.Errorf("failed to decode S3 blob store config: %w", err)
	}

	if storeOpts.Bucket == "" {
		return nil, fmt.Errorf("S3 blob store: bucket is required")
	}
	if storeOpts.Region == "" {
		return nil, fmt.Errorf("S3 blob store: region is required")
	}

	client, err := blobs3.NewClient(ctx, storeOpts.ClientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	store, err := blobs3.NewS3BlobStore(ctx, blobs3.S3BlobStoreConfig{
		Client:    client,
		Bucket:    storeOpts.Bucket,
		KeyPrefix: storeOpts.KeyPrefix,
		PartSize:  storeOpts.PartSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 blob store: %w", err)
	}

	logger.Info("S3 blob store initialized: bucket=%s, region=%s, prefix=%s",
		storeOpts.Bucket, storeOpts.Region, storeOpts.KeyPrefix)
	return store, nil
}

// CreateMetadataStore creates a metadata store based on configuration.
//
// Supported types:
//   - "memory": in-process, lost on restart (pkg/store/metadata/memory)
//   - "badger": embedded persistent database (pkg/store/metadata/badger)
//   - "redis": shared Redis server with keyspace notifications (pkg/store/metadata/redis)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Metadata store configuration
//
// Returns:
//   - metadata.Store: Initialized store
//   - error: Configuration or initialization error
func CreateMetadataStore(ctx context.Context, cfg *MetadataConfig) (metadata.Store, error) {
	switch cfg.Type {
	case "memory":
		return createMemoryMetadataStore(ctx, cfg.Memory)
	case "badger":
		return createBadgerMetadataStore(ctx, cfg.Badger)
	case "redis":
		return createRedisMetadataStore(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown metadata store type: %q (supported: memory, badger, redis)", cfg.Type)
	}
}

func createMemoryMetadataStore(ctx context.Context, options map[string]any) (metadata.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var storeCfg memory.MemoryMetadataStoreConfig
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode memory metadata store config: %w", err)
	}

	logger.Warn("Memory metadata store in use: records and pending expiries are lost on restart")
	return memory.NewMemoryMetadataStore(storeCfg), nil
}

func createBadgerMetadataStore(ctx context.Context, options map[string]any) (metadata.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var storeCfg badger.BadgerMetadataStoreConfig
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger metadata store config: %w", err)
	}

	if storeCfg.DBPath == "" && !storeCfg.InMemory {
		return nil, fmt.Errorf("badger metadata store: db_path is required")
	}

	store, err := badger.NewBadgerMetadataStore(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger metadata store: %w", err)
	}

	logger.Info("Badger metadata store initialized: path=%s", storeCfg.DBPath)
	return store, nil
}

func createRedisMetadataStore(ctx context.Context, options map[string]any) (metadata.Store, error) {
	var storeCfg redis.RedisMetadataStoreConfig
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode redis metadata store config: %w", err)
	}

	if storeCfg.Addr == "" {
		return nil, fmt.Errorf("redis metadata store: addr is required")
	}

	store, err := redis.NewRedisMetadataStore(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis metadata store: %w", err)
	}

	logger.Info("Redis metadata store initialized: addr=%s, db=%d, prefix=%q",
		storeCfg.Addr, storeCfg.DB, storeCfg.KeyPrefix)
	return store, nil
}
