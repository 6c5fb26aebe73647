// Package config provides configuration loading and structs for the kioku server and CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Index     IndexConfig     `yaml:"index"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Watch     WatchConfig     `yaml:"watch"`
	Backup    BackupConfig    `yaml:"backup"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// PreloadCatalog materializes every user known to the catalog at startup.
	PreloadCatalog bool `yaml:"preload_catalog"`
	// PreloadConcurrency bounds parallel materialization during preload.
	PreloadConcurrency int `yaml:"preload_concurrency"`
}

// StorageConfig holds paths for the per-user artifacts, the catalog and the caption index.
type StorageConfig struct {
	DataDir          string `yaml:"data_dir"`
	CatalogPath      string `yaml:"catalog_path"`
	KeywordIndexPath string `yaml:"keyword_index_path"`
}

// IndexConfig holds ANN index and query settings.
type IndexConfig struct {
	Backend            string        `yaml:"backend"`
	Metric             string        `yaml:"metric"`
	DefaultDimension   int           `yaml:"default_dimension"`
	M                  int           `yaml:"m"`
	EfConstruction     int           `yaml:"ef_construction"`
	EfSearch           int           `yaml:"ef_search"`
	DefaultK           int           `yaml:"default_k"`
	MaxK               int           `yaml:"max_k"`
	CaptionMaxTokens   int           `yaml:"caption_max_tokens"`
	CaptionPlaceholder string        `yaml:"caption_placeholder"`
	IdleTTL            time.Duration `yaml:"idle_ttl"`
}

// ExtractorConfig selects and configures the embedding extractor.
type ExtractorConfig struct {
	// Kind is one of "mock", "onnx" or "openai".
	Kind           string        `yaml:"kind"`
	ModelPath      string        `yaml:"model_path"`
	ImageModelPath string        `yaml:"image_model_path"`
	Dimensions     int           `yaml:"dimensions"`
	MaxTokens      int           `yaml:"max_tokens"`
	ImageSize      int           `yaml:"image_size"`
	CacheSize      int           `yaml:"cache_size"`
	Timeout        time.Duration `yaml:"timeout"`
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	Model          string        `yaml:"model"`
}

// WatchConfig holds upload directory watch settings.
type WatchConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Root       string   `yaml:"root"`
	Extensions []string `yaml:"extensions"`
}

// BackupConfig holds the S3 location used for artifact snapshots.
type BackupConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	applyEnv(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)
	cfg.Storage.CatalogPath = expandPath(cfg.Storage.CatalogPath, configDir)
	cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	if cfg.Extractor.ModelPath != "" {
		cfg.Extractor.ModelPath = expandPath(cfg.Extractor.ModelPath, configDir)
	}
	if cfg.Extractor.ImageModelPath != "" {
		cfg.Extractor.ImageModelPath = expandPath(cfg.Extractor.ImageModelPath, configDir)
	}
	if cfg.Watch.Root != "" {
		cfg.Watch.Root = expandPath(cfg.Watch.Root, configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.Index.Backend {
	case "hnsw", "flat", "faiss":
	default:
		return fmt.Errorf("invalid index backend %q", c.Index.Backend)
	}
	switch c.Index.Metric {
	case "l2", "cosine":
	default:
		return fmt.Errorf("invalid index metric %q", c.Index.Metric)
	}
	switch c.Extractor.Kind {
	case "mock", "onnx", "openai":
	default:
		return fmt.Errorf("invalid extractor kind %q", c.Extractor.Kind)
	}
	if c.Index.DefaultK > c.Index.MaxK {
		return fmt.Errorf("index.default_k (%d) exceeds index.max_k (%d)", c.Index.DefaultK, c.Index.MaxK)
	}
	if c.Watch.Enabled && c.Watch.Root == "" {
		return fmt.Errorf("watch.enabled requires watch.root")
	}
	return nil
}

// applyEnv lets secrets come from the environment instead of the config file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("KIOKU_OPENAI_API_KEY"); v != "" {
		cfg.Extractor.APIKey = v
	}
	if v := os.Getenv("KIOKU_S3_ACCESS_KEY_ID"); v != "" {
		cfg.Backup.AccessKeyID = v
	}
	if v := os.Getenv("KIOKU_S3_SECRET_ACCESS_KEY"); v != "" {
		cfg.Backup.SecretAccessKey = v
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
