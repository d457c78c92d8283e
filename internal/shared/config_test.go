package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./cutline.db" {
			t.Errorf("expected database path ./cutline.db, got %s", config.Database.Path)
		}

		if config.Separation.SelectedModelID != "mdx-inst-hq3" {
			t.Errorf("expected separation model mdx-inst-hq3, got %s", config.Separation.SelectedModelID)
		}

		if config.Matching.MinConfidence != 0.6 {
			t.Errorf("expected matching min confidence 0.6, got %v", config.Matching.MinConfidence)
		}

		if config.Detection.FrameInterval != 5 {
			t.Errorf("expected detection frame interval 5, got %d", config.Detection.FrameInterval)
		}

		if config.FlushInterval() != 500*time.Millisecond {
			t.Errorf("expected flush interval 500ms, got %v", config.FlushInterval())
		}

		if err := config.Validate(); err != nil {
			t.Errorf("default config should be valid: %v", err)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		if _, err := os.Stat(configPath); err != nil {
			t.Fatalf("config file should exist: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		defaultConfig := DefaultConfig()
		if config.Database.Path != defaultConfig.Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		testConfig := `[database]
path = "/custom/path.db"

[workspace]
dir = "/data/cutline"

[status]
flush_interval_ms = 250

[matching]
min_confidence = 0.75
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Database.Path != "/custom/path.db" {
			t.Errorf("expected database path /custom/path.db, got %s", config.Database.Path)
		}

		if config.TempDir() != filepath.Join("/data/cutline", "temp") {
			t.Errorf("unexpected temp dir %s", config.TempDir())
		}

		if config.FlushInterval() != 250*time.Millisecond {
			t.Errorf("expected flush interval 250ms, got %v", config.FlushInterval())
		}

		if config.Matching.MinConfidence != 0.75 {
			t.Errorf("expected min confidence 0.75, got %v", config.Matching.MinConfidence)
		}

		if config.Detection.Command != "person-detector" {
			t.Errorf("missing keys should keep defaults, got detection command %q", config.Detection.Command)
		}
	})

	t.Run("LoadConfig rejects invalid values", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(configPath, []byte("[detection]\nconfidence = 1.5\n"), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		_, err := LoadConfig(configPath)
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("LoadConfigOrDefault without file", func(t *testing.T) {
		config, err := LoadConfigOrDefault(filepath.Join(t.TempDir(), "missing.toml"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if config.Workspace.Dir != "./workspace" {
			t.Errorf("expected default workspace, got %s", config.Workspace.Dir)
		}
	})
}
