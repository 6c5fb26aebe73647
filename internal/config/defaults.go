package config

import "time"

// Index defaults shared with components that accept a partially filled IndexConfig.
const (
	DefaultDimension          = 512
	DefaultK                  = 5
	DefaultMaxK               = 100
	DefaultCaptionMaxTokens   = 77
	DefaultCaptionPlaceholder = "No annotation"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Server.PreloadConcurrency == 0 {
		cfg.Server.PreloadConcurrency = 4
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/usr/local/var/kioku/data/users"
	}
	if cfg.Storage.CatalogPath == "" {
		cfg.Storage.CatalogPath = "/usr/local/var/kioku/data/db/catalog.db"
	}
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = "/usr/local/var/kioku/data/indices/captions"
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = "hnsw"
	}
	if cfg.Index.Metric == "" {
		cfg.Index.Metric = "l2"
	}
	if cfg.Index.DefaultDimension == 0 {
		cfg.Index.DefaultDimension = DefaultDimension
	}
	if cfg.Index.M == 0 {
		cfg.Index.M = 16
	}
	if cfg.Index.EfConstruction == 0 {
		cfg.Index.EfConstruction = 200
	}
	if cfg.Index.EfSearch == 0 {
		cfg.Index.EfSearch = 50
	}
	if cfg.Index.DefaultK == 0 {
		cfg.Index.DefaultK = DefaultK
	}
	if cfg.Index.MaxK == 0 {
		cfg.Index.MaxK = DefaultMaxK
	}
	if cfg.Index.CaptionMaxTokens == 0 {
		cfg.Index.CaptionMaxTokens = DefaultCaptionMaxTokens
	}
	if cfg.Index.CaptionPlaceholder == "" {
		cfg.Index.CaptionPlaceholder = DefaultCaptionPlaceholder
	}
	if cfg.Extractor.Kind == "" {
		cfg.Extractor.Kind = "onnx"
	}
	if cfg.Extractor.Dimensions == 0 {
		cfg.Extractor.Dimensions = cfg.Index.DefaultDimension
	}
	if cfg.Extractor.MaxTokens == 0 {
		cfg.Extractor.MaxTokens = cfg.Index.CaptionMaxTokens
	}
	if cfg.Extractor.ImageSize == 0 {
		cfg.Extractor.ImageSize = 224
	}
	if cfg.Extractor.CacheSize == 0 {
		cfg.Extractor.CacheSize = 1000
	}
	if cfg.Extractor.Timeout == 0 {
		cfg.Extractor.Timeout = 30 * time.Second
	}
	if cfg.Extractor.Model == "" {
		cfg.Extractor.Model = "text-embedding-3-small"
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".jpg", ".jpeg", ".png", ".bmp"}
	}
	if cfg.Backup.Prefix == "" {
		cfg.Backup.Prefix = "kioku"
	}
	if cfg.Backup.Region == "" {
		cfg.Backup.Region = "us-east-1"
	}
}
