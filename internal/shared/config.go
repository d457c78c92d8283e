package shared

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Database   DatabaseConfig   `toml:"database"`
	Workspace  WorkspaceConfig  `toml:"workspace"`
	Logging    LoggingConfig    `toml:"logging"`
	Status     StatusConfig     `toml:"status"`
	Tools      ToolsConfig      `toml:"tools"`
	Separation SeparationConfig `toml:"separation"`
	Matching   MatchingConfig   `toml:"matching"`
	Detection  DetectionConfig  `toml:"detection"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// WorkspaceConfig locates intermediate artifacts.
type WorkspaceConfig struct {
	Dir string `toml:"dir"`
}

// LoggingConfig contains log level and the TUI log file.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// StatusConfig controls the status feed.
type StatusConfig struct {
	FlushIntervalMS int `toml:"flush_interval_ms"`
}

// ToolsConfig names the media binaries and the progress event rate.
type ToolsConfig struct {
	FFmpeg       string  `toml:"ffmpeg"`
	FFprobe      string  `toml:"ffprobe"`
	ProgressRate float64 `toml:"progress_rate"`
}

// SeparationConfig contains vocal separation settings.
type SeparationConfig struct {
	Command         string `toml:"command"`
	ModelDir        string `toml:"model_dir"`
	SelectedModelID string `toml:"selected_model_id"`
	OutputFormat    string `toml:"output_format"`
	Acceleration    string `toml:"acceleration"`
	MaxConcurrent   int    `toml:"max_concurrent"`
}

// MatchingConfig contains fingerprint matching settings.
type MatchingConfig struct {
	Command            string  `toml:"command"`
	LibraryDir         string  `toml:"library_dir"`
	MinConfidence      float64 `toml:"min_confidence"`
	MinSegmentDuration float64 `toml:"min_segment_duration"`
	WindowSize         float64 `toml:"window_size"`
	HopSize            float64 `toml:"hop_size"`
	MaxGapDuration     float64 `toml:"max_gap_duration"`
}

// DetectionConfig contains person detection settings.
type DetectionConfig struct {
	Command            string  `toml:"command"`
	ModelPath          string  `toml:"model_path"`
	Confidence         float64 `toml:"confidence"`
	FrameInterval      int     `toml:"frame_interval"`
	MinSegmentDuration float64 `toml:"min_segment_duration"`
	MaxGapDuration     float64 `toml:"max_gap_duration"`
	Acceleration       string  `toml:"acceleration"`
	MaxConcurrent      int     `toml:"max_concurrent"`
}

// FlushInterval returns the status flush interval, defaulting to 500ms.
func (c *Config) FlushInterval() time.Duration {
	if c.Status.FlushIntervalMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.Status.FlushIntervalMS) * time.Millisecond
}

// TempDir returns the directory holding per-project intermediate artifacts.
func (c *Config) TempDir() string {
	return filepath.Join(c.Workspace.Dir, "temp")
}

// AudioPath is where the extracted audio track of a project is cached.
func (c *Config) AudioPath(projectID string) string {
	return filepath.Join(c.TempDir(), projectID+"_audio.wav")
}

// SeparatedDir holds the separator outputs of a project.
func (c *Config) SeparatedDir(projectID string) string {
	return filepath.Join(c.TempDir(), projectID+"_separated")
}

// DetectionDir holds the person detector outputs of a project.
func (c *Config) DetectionDir(projectID string) string {
	return filepath.Join(c.TempDir(), projectID+"_detection")
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	switch {
	case c.Database.Path == "":
		return fmt.Errorf("%w: database.path is empty", ErrInvalidConfig)
	case c.Workspace.Dir == "":
		return fmt.Errorf("%w: workspace.dir is empty", ErrInvalidConfig)
	case c.Matching.MinConfidence < 0 || c.Matching.MinConfidence > 1:
		return fmt.Errorf("%w: matching.min_confidence must be within [0, 1]", ErrInvalidConfig)
	case c.Detection.Confidence < 0 || c.Detection.Confidence > 1:
		return fmt.Errorf("%w: detection.confidence must be within [0, 1]", ErrInvalidConfig)
	case c.Detection.FrameInterval < 0:
		return fmt.Errorf("%w: detection.frame_interval must not be negative", ErrInvalidConfig)
	}
	return nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadConfigOrDefault loads the file at path when it exists, otherwise returns [DefaultConfig].
func LoadConfigOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return DefaultConfig(), nil
	}
	return LoadConfig(path)
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
