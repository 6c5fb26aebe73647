package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/vector"
	"go.uber.org/zap"
)

const defaultConfigPath = "/usr/local/etc/kioku/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory wins if it exists (for development); when neither exists the built-in
// defaults are used. Returns the config and the path actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				cfg, err := config.Load(fallback)
				if err != nil {
					return nil, "", err
				}
				return cfg, fallback, nil
			}
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			if err := cfg.Validate(); err != nil {
				return nil, "", err
			}
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// Components holds the wired index stack shared by the server and direct CLI commands.
type Components struct {
	Store     *storage.ArtifactStore
	Catalog   *storage.Catalog
	Captions  *keyword.CaptionIndex
	Extractor embedding.Extractor
	Manager   *indexer.Manager
	Engine    *search.Engine
}

// Close releases everything in reverse order of creation.
func (c *Components) Close() {
	if c.Manager != nil {
		_ = c.Manager.Close()
	}
	if c.Extractor != nil {
		_ = c.Extractor.Close()
	}
	if c.Captions != nil {
		_ = c.Captions.Close()
	}
	if c.Catalog != nil {
		_ = c.Catalog.Close()
	}
}

func openStore(cfg *config.Config, logger *zap.Logger) (*storage.ArtifactStore, error) {
	policy := storage.CaptionPolicy{MaxTokens: cfg.Index.CaptionMaxTokens}
	if cfg.Extractor.Kind == "onnx" {
		policy.Tokens = &embedding.SimpleTokenizer{}
	}
	return storage.NewArtifactStore(cfg.Storage.DataDir, storage.WithCaptionPolicy(policy), storage.WithLogger(logger))
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{}
	var err error
	if c.Store, err = openStore(cfg, logger); err != nil {
		return nil, err
	}
	if c.Catalog, err = storage.NewCatalog(cfg.Storage.CatalogPath); err != nil {
		return nil, fmt.Errorf("failed to initialize catalog: %w", err)
	}
	if c.Captions, err = keyword.NewCaptionIndex(cfg.Storage.KeywordIndexPath); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize caption index: %w", err)
	}
	if c.Extractor, err = newExtractor(cfg.Extractor); err != nil {
		c.Close()
		return nil, err
	}
	metric, err := vector.ParseMetric(cfg.Index.Metric)
	if err != nil {
		c.Close()
		return nil, err
	}
	builder, err := vector.NewBuilder(cfg.Index.Backend, vector.HNSWParams{
		M:              cfg.Index.M,
		EfConstruction: cfg.Index.EfConstruction,
		EfSearch:       cfg.Index.EfSearch,
		Metric:         metric,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize index builder: %w", err)
	}
	logger.Info("index stack initialized",
		zap.String("backend", string(builder.Backend())),
		zap.String("metric", string(metric)),
		zap.String("extractor", cfg.Extractor.Kind),
		zap.Int("dimensions", c.Extractor.Dimensions()),
		zap.Bool("faiss_available", vector.IsFAISSAvailable()))

	c.Manager = indexer.NewManager(c.Store, c.Extractor, builder, cfg.Index,
		indexer.WithLogger(logger),
		indexer.WithCatalog(c.Catalog),
		indexer.WithCaptionIndex(c.Captions))
	c.Engine = search.NewEngine(c.Manager, c.Captions,
		search.WithLimits(cfg.Index.DefaultK, cfg.Index.MaxK),
		search.WithEngineLogger(logger))
	return c, nil
}

// newExtractor builds the configured extractor, wrapped in the text cache and the
// per-call timeout.
func newExtractor(cfg config.ExtractorConfig) (embedding.Extractor, error) {
	var base embedding.Extractor
	switch cfg.Kind {
	case "mock":
		base = embedding.NewMockExtractor(cfg.Dimensions)
	case "onnx":
		onnx, err := embedding.NewONNXExtractor(embedding.ONNXConfig{
			TextModelPath:  cfg.ModelPath,
			ImageModelPath: cfg.ImageModelPath,
			Dimensions:     cfg.Dimensions,
			MaxTokens:      cfg.MaxTokens,
			ImageSize:      cfg.ImageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize onnx extractor: %w", err)
		}
		base = onnx
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai extractor needs extractor.api_key or KIOKU_OPENAI_API_KEY")
		}
		var opts []embedding.OpenAIOption
		if cfg.BaseURL != "" {
			opts = append(opts, embedding.WithBaseURL(cfg.BaseURL))
		}
		base = embedding.NewOpenAIExtractor(cfg.APIKey, cfg.Model, cfg.Dimensions, opts...)
	default:
		return nil, fmt.Errorf("unknown extractor kind %q", cfg.Kind)
	}
	if cfg.CacheSize > 0 {
		base = embedding.NewCachedExtractor(base, cfg.CacheSize)
	}
	if cfg.Timeout > 0 {
		base = embedding.NewTimeoutExtractor(base, cfg.Timeout)
	}
	return base, nil
}
