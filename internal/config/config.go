package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	API      APIConfig      `yaml:"api" mapstructure:"api"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Storage  StorageConfig  `yaml:"storage" mapstructure:"storage"`
	Import   ImportConfig   `yaml:"import" mapstructure:"import"`
	Sources  []SourceConfig `yaml:"sources" mapstructure:"sources"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// APIConfig represents REST API configuration
type APIConfig struct {
	Host   string `yaml:"host" mapstructure:"host"`
	Port   int    `yaml:"port" mapstructure:"port"`
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// StorageConfig represents local media storage configuration
type StorageConfig struct {
	MediaDir       string `yaml:"media_dir" mapstructure:"media_dir"`
	ThumbnailDir   string `yaml:"thumbnail_dir" mapstructure:"thumbnail_dir"`
	ThumbnailWidth int    `yaml:"thumbnail_width" mapstructure:"thumbnail_width"`
	MaxFileSizeMB  int    `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb"`
}

// ImportConfig represents import pipeline configuration
type ImportConfig struct {
	TickIntervalSeconds int    `yaml:"tick_interval_seconds" mapstructure:"tick_interval_seconds"`
	PageSize            int    `yaml:"page_size" mapstructure:"page_size"`
	DefaultBatchSize    int    `yaml:"default_batch_size" mapstructure:"default_batch_size"`
	ProgressLogEvery    int    `yaml:"progress_log_every" mapstructure:"progress_log_every"`
	MaxFetchFailures    int    `yaml:"max_fetch_failures" mapstructure:"max_fetch_failures"`
	StopFlagTTLMinutes  int    `yaml:"stop_flag_ttl_minutes" mapstructure:"stop_flag_ttl_minutes"`
	CountCacheMinutes   int    `yaml:"count_cache_minutes" mapstructure:"count_cache_minutes"`
	ConflictPolicy      string `yaml:"conflict_policy" mapstructure:"conflict_policy"`
	LogTailLines        int    `yaml:"log_tail_lines" mapstructure:"log_tail_lines"`
}

// SourceConfig represents one remote content source (one import kind)
type SourceConfig struct {
	Kind      string            `yaml:"kind" mapstructure:"kind"`
	URL       string            `yaml:"url" mapstructure:"url"`
	CountPath string            `yaml:"count_path" mapstructure:"count_path"`
	APIKey    string            `yaml:"api_key" mapstructure:"api_key"`
	MediaBase string            `yaml:"media_base" mapstructure:"media_base"`
	Filters   map[string]string `yaml:"filters" mapstructure:"filters"`
}

// LogConfig represents logging configuration with rotation support
type LogConfig struct {
	File       string `yaml:"file" mapstructure:"file"`               // Log file path (empty = console only)
	Level      string `yaml:"level" mapstructure:"level"`             // Log level (debug, info, warn, error)
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`       // Max size in MB before rotation
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`         // Max age in days to keep files
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"` // Max number of rotated files to keep
	Compress   bool   `yaml:"compress" mapstructure:"compress"`       // Compress rotated files
}

// LoadConfig reads the YAML configuration file at path, applies defaults and
// environment overrides (SIDEPULL_ prefix) and validates the result.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SIDEPULL")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		// Missing file is fine, defaults plus env carry the config
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8585)
	v.SetDefault("api.prefix", "/api")
	v.SetDefault("database.path", "./sidepull.db")
	v.SetDefault("storage.media_dir", "./media")
	v.SetDefault("storage.thumbnail_dir", "./media/thumbnails")
	v.SetDefault("storage.thumbnail_width", 320)
	v.SetDefault("storage.max_file_size_mb", 512)
	v.SetDefault("import.tick_interval_seconds", 5)
	v.SetDefault("import.page_size", 50)
	v.SetDefault("import.default_batch_size", 10)
	v.SetDefault("import.progress_log_every", 10)
	v.SetDefault("import.max_fetch_failures", 5)
	v.SetDefault("import.stop_flag_ttl_minutes", 60)
	v.SetDefault("import.count_cache_minutes", 30)
	v.SetDefault("import.conflict_policy", "skip")
	v.SetDefault("import.log_tail_lines", 50)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size", 50)
	v.SetDefault("log.max_age", 14)
	v.SetDefault("log.max_backups", 5)
}

// Validate checks configuration consistency before the server starts.
func (c *Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api port: %d", c.API.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Import.PageSize <= 0 {
		return fmt.Errorf("import.page_size must be positive")
	}
	if c.Import.DefaultBatchSize <= 0 {
		return fmt.Errorf("import.default_batch_size must be positive")
	}
	switch c.Import.ConflictPolicy {
	case "skip", "overwrite":
	default:
		return fmt.Errorf("import.conflict_policy must be skip or overwrite, got %q", c.Import.ConflictPolicy)
	}
	seen := make(map[string]bool, len(c.Sources))
	for i, src := range c.Sources {
		if src.Kind == "" {
			return fmt.Errorf("sources[%d].kind must not be empty", i)
		}
		if src.URL == "" {
			return fmt.Errorf("source %q: url must not be empty", src.Kind)
		}
		if seen[src.Kind] {
			return fmt.Errorf("duplicate source kind %q", src.Kind)
		}
		seen[src.Kind] = true
	}
	return nil
}

// Source returns the source configuration for an import kind, if present.
func (c *Config) Source(kind string) (SourceConfig, bool) {
	for _, src := range c.Sources {
		if src.Kind == kind {
			return src, true
		}
	}
	return SourceConfig{}, false
}

// EnsureDirs creates the directories the server writes to.
func (c *Config) EnsureDirs() error {
	dirs := []string{
		filepath.Dir(c.Database.Path),
		c.Storage.MediaDir,
		c.Storage.ThumbnailDir,
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
