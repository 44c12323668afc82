package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// InitConfig writes a sample configuration file to the default location.
//
// Parameters:
//   - force: Overwrite an existing file
//
// Returns:
//   - string: Path of the written file
//   - error: If the file exists and force is false, or writing fails
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a sample configuration file to path, creating its
// directory if needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to check config file: %w", err)
		}
	}

	data, err := GenerateSampleConfig(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// entry is one key of a generated YAML mapping.
type entry struct {
	key     string
	value   any
	comment string
}

// GenerateSampleConfig renders cfg as commented YAML that Load accepts.
func GenerateSampleConfig(cfg *Config) ([]byte, error) {
	doc := []entry{
		{"logging", []entry{
			{"level", cfg.Logging.Level, "DEBUG, INFO, WARN or ERROR"},
			{"format", cfg.Logging.Format, "text or json"},
			{"output", cfg.Logging.Output, "stdout, stderr or a file path (rotated)"},
		}, "Logging"},
		{"server", []entry{
			{"shutdown_timeout", cfg.Server.ShutdownTimeout, "Upper bound for each shutdown step"},
			{"metrics", []entry{
				{"enabled", cfg.Server.Metrics.Enabled, ""},
				{"port", cfg.Server.Metrics.Port, ""},
			}, "Prometheus endpoint"},
		}, "Server"},
		{"content", []entry{
			{"expiration", cfg.Content.Expiration, "Lifetime of an uploaded file"},
			{"erase_on_read", cfg.Content.EraseOnRead, "Evict a file once it has been downloaded"},
			{"cleanup_timeout", cfg.Content.CleanupTimeout, "Bound for rollbacks and post-download eviction triggers"},
		}, "Content lifetime"},
		{"blob", []entry{
			{"type", cfg.Blob.Type, "filesystem or s3"},
			{"filesystem", mapEntries(cfg.Blob.Filesystem), ""},
			{"s3", mapEntries(cfg.Blob.S3), "region, bucket, key_prefix, endpoint, access_key_id, secret_access_key, max_retries, part_size"},
		}, "Blob store (file bytes)"},
		{"metadata", []entry{
			{"type", cfg.Metadata.Type, "memory, badger or redis"},
			{"memory", mapEntries(cfg.Metadata.Memory), ""},
			{"badger", mapEntries(cfg.Metadata.Badger), ""},
			{"redis", mapEntries(cfg.Metadata.Redis), "Also: password, db, key_prefix, pool_size, dial_timeout, read_timeout, write_timeout"},
		}, "Metadata store (records and expiry keys)"},
		{"eviction", []entry{
			{"max_concurrent", cfg.Eviction.MaxConcurrent, ""},
			{"cleanup_timeout", cfg.Eviction.CleanupTimeout, ""},
			{"resubscribe_min_backoff", cfg.Eviction.ResubscribeMinBackoff, ""},
			{"resubscribe_max_backoff", cfg.Eviction.ResubscribeMaxBackoff, ""},
		}, "Eviction of expired files"},
		{"gc", []entry{
			{"enabled", cfg.GC.Enabled, ""},
			{"interval", cfg.GC.Interval, ""},
			{"timeout", cfg.GC.Timeout, ""},
			{"dry_run", cfg.GC.DryRun, ""},
		}, "Reconciliation sweep. Removes records and blobs that missed their eviction"},
		{"adapters", []entry{
			{"http", []entry{
				{"enabled", cfg.Adapters.HTTP.Enabled, ""},
				{"port", cfg.Adapters.HTTP.Port, ""},
				{"read_timeout", cfg.Adapters.HTTP.ReadTimeout, ""},
				{"write_timeout", cfg.Adapters.HTTP.WriteTimeout, ""},
				{"idle_timeout", cfg.Adapters.HTTP.IdleTimeout, ""},
				{"shutdown_timeout", cfg.Adapters.HTTP.ShutdownTimeout, ""},
				{"max_upload_bytes", cfg.Adapters.HTTP.MaxUploadBytes, "0 means unlimited"},
				{"rate_limit", []entry{
					{"requests_per_second", cfg.Adapters.HTTP.RateLimit.RequestsPerSecond, "0 disables rate limiting"},
					{"burst", cfg.Adapters.HTTP.RateLimit.Burst, ""},
				}, "Per client IP"},
			}, ""},
		}, "Transports"},
	}

	root := mappingNode(doc)
	root.HeadComment = "dittodrop configuration file\n\nEvery key can be overridden with an environment variable,\nfor example DITTODROP_CONTENT_EXPIRATION=30m"

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}); err != nil {
		return nil, fmt.Errorf("failed to encode sample config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode sample config: %w", err)
	}
	return buf.Bytes(), nil
}

// mapEntries turns a type-specific options map into sorted entries.
func mapEntries(m map[string]any) []entry {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, entry{key: k, value: m[k]})
	}
	return entries
}

func mappingNode(entries []entry) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range entries {
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.key, HeadComment: e.comment}
		n.Content = append(n.Content, key, valueNode(e.value))
	}
	return n
}

func valueNode(v any) *yaml.Node {
	switch v := v.(type) {
	case []entry:
		n := mappingNode(v)
		if len(v) == 0 {
			n.Style = yaml.FlowStyle
		}
		return n
	case time.Duration:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.String()}
	case string:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
	case bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(v)}
	case int:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(v)}
	case int64:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(v, 10)}
	case float64:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: strconv.FormatFloat(v, 'f', -1, 64)}
	default:
		n := &yaml.Node{}
		if err := n.Encode(v); err != nil {
			return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: fmt.Sprint(v)}
		}
		return n
	}
}
