package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestInitConfig_Success(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if configPath != GetDefaultConfigPath() {
		t.Errorf("Expected config at %q, got %q", GetDefaultConfigPath(), configPath)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	contentStr := string(content)
	expectedSections := []string{
		"# dittodrop configuration file",
		"logging:",
		"server:",
		"content:",
		"blob:",
		"metadata:",
		"eviction:",
		"gc:",
		"adapters:",
	}
	for _, section := range expectedSections {
		if !strings.Contains(contentStr, section) {
			t.Errorf("Config file missing section: %s", section)
		}
	}

	var raw map[string]any
	if err := yaml.Unmarshal(content, &raw); err != nil {
		t.Fatalf("Generated config is not valid YAML: %v", err)
	}
}

func TestInitConfig_AlreadyExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if _, err := InitConfig(false); err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}

	_, err := InitConfig(false)
	if err == nil {
		t.Fatal("Expected error when config already exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Expected 'already exists' error, got: %v", err)
	}
}

func TestInitConfigToPath_ForceOverwrite(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(configPath, []byte("stale: true\n"), 0644); err != nil {
		t.Fatalf("Failed to write stale config: %v", err)
	}

	if err := InitConfigToPath(configPath, false); err == nil {
		t.Fatal("Expected error without force")
	}
	if err := InitConfigToPath(configPath, true); err != nil {
		t.Fatalf("InitConfigToPath with force failed: %v", err)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}
	if strings.Contains(string(content), "stale") {
		t.Error("Expected stale config to be replaced")
	}
}

func TestInitConfigToPath_CreatesDirectory(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "a", "b", "config.yaml")

	if err := InitConfigToPath(configPath, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("Config file was not created: %v", err)
	}
}

func TestGeneratedConfigIsLoadable(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := InitConfigToPath(configPath, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Generated config does not load: %v", err)
	}

	want := GetDefaultConfig()
	if cfg.Logging != want.Logging {
		t.Errorf("Logging: expected %+v, got %+v", want.Logging, cfg.Logging)
	}
	if cfg.Server != want.Server {
		t.Errorf("Server: expected %+v, got %+v", want.Server, cfg.Server)
	}
	if cfg.Content != want.Content {
		t.Errorf("Content: expected %+v, got %+v", want.Content, cfg.Content)
	}
	if cfg.Eviction != want.Eviction {
		t.Errorf("Eviction: expected %+v, got %+v", want.Eviction, cfg.Eviction)
	}
	if cfg.GC != want.GC {
		t.Errorf("GC: expected %+v, got %+v", want.GC, cfg.GC)
	}
	if cfg.Adapters.HTTP != want.Adapters.HTTP {
		t.Errorf("HTTP: expected %+v, got %+v", want.Adapters.HTTP, cfg.Adapters.HTTP)
	}
	if cfg.Blob.Filesystem["path"] != want.Blob.Filesystem["path"] {
		t.Errorf("Expected blob path %v, got %v", want.Blob.Filesystem["path"], cfg.Blob.Filesystem["path"])
	}
	if cfg.Metadata.Badger["sweep_interval"] != "1s" {
		t.Errorf("Expected badger sweep_interval '1s', got %v", cfg.Metadata.Badger["sweep_interval"])
	}
}

func TestGenerateSampleConfig_DurationsAreStrings(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Content.Expiration = 90 * time.Minute

	data, err := GenerateSampleConfig(cfg)
	if err != nil {
		t.Fatalf("GenerateSampleConfig failed: %v", err)
	}
	if !strings.Contains(string(data), "expiration: 1h30m0s") {
		t.Errorf("Expected human readable expiration, got:\n%s", data)
	}
}
