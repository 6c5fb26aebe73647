package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/kioku/internal/backup"
	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/server"
	"github.com/hyperjump/kioku/internal/watcher"
	"github.com/hyperjump/kioku/pkg/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	debug      bool
	output     string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "kioku",
		Short: "Per-user semantic photo index",
		Long: `kioku keeps one nearest-neighbour index per user over photo embeddings,
with captions for keyword search, and serves them over HTTP.

Direct commands (add, delete, list, search without --server, snapshot) open the
data directory, catalog and caption index themselves. Stop the server first, or
use --server, since the catalog and caption index allow one writer at a time.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", defaultConfigPath, "config file path")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVarP(&g.output, "output", "o", "text", "output format: text or json")

	root.AddCommand(
		newServerCmd(g),
		newAddCmd(g),
		newDeleteCmd(g),
		newListCmd(g),
		newSearchCmd(g),
		newStatusCmd(g),
		newSnapshotCmd(g),
		newVersionCmd(),
	)
	return root
}

// setup loads config and builds a logger. CLI commands log warnings only unless debug is on.
func (g *globalFlags) setup(serverMode bool) (*config.Config, *zap.Logger, error) {
	cfg, resolved, err := loadConfig(g.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	debug := cfg.Debug || g.debug
	var logger *zap.Logger
	if serverMode {
		logger, err = utils.NewLogger(debug)
	} else {
		logger, err = utils.NewCLILogger(debug)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debug))
	return cfg, logger, nil
}

// open loads config and wires the index stack for a direct command.
func (g *globalFlags) open() (*config.Config, *Components, *zap.Logger, error) {
	cfg, logger, err := g.setup(false)
	if err != nil {
		return nil, nil, nil, err
	}
	c, err := initializeComponents(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, err
	}
	return cfg, c, logger, nil
}

func newServerCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.setup(true)
			if err != nil {
				return err
			}
			defer logger.Sync()
			return runServer(cfg, logger)
		},
	}
}

func runServer(cfg *config.Config, logger *zap.Logger) error {
	c, err := initializeComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Server.PreloadCatalog {
		entries, err := c.Catalog.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to read catalog: %w", err)
		}
		users := make([]string, 0, len(entries))
		for _, e := range entries {
			users = append(users, e.UserID)
		}
		start := time.Now()
		if err := c.Manager.Preload(ctx, users, cfg.Server.PreloadConcurrency); err != nil {
			logger.Warn("catalog preload incomplete", zap.Error(err))
		}
		logger.Info("catalog preloaded", zap.Int("users", len(users)), zap.Duration("took", time.Since(start)))
	}

	if cfg.Index.IdleTTL > 0 {
		go evictIdle(ctx, c.Manager, cfg.Index.IdleTTL, logger)
	}

	if cfg.Watch.Enabled {
		w := watcher.New(cfg.Watch.Root, cfg.Watch.Extensions, c.Manager, watcher.WithLogger(logger))
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		defer w.Stop()
		go func() {
			n := w.SyncExisting()
			logger.Info("upload root synced", zap.String("root", w.Root()), zap.Int("photos", n))
		}()
	}

	srv := server.NewServer(c.Manager, c.Engine, cfg, logger,
		server.WithCatalog(c.Catalog),
		server.WithCaptionCount(c.Captions))
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}
	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

// evictIdle drops users idle for longer than ttl, checking at a quarter of ttl.
func evictIdle(ctx context.Context, m *indexer.Manager, ttl time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(evictInterval(ttl))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.EvictIdle(ttl); n > 0 {
				logger.Debug("idle users evicted", zap.Int("count", n))
			}
		}
	}
}

func evictInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

func newAddCmd(g *globalFlags) *cobra.Command {
	var caption string
	cmd := &cobra.Command{
		Use:   "add <user> <photo|directory>",
		Short: "Index a photo, or every new photo under a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, c, logger, err := g.open()
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer c.Close()

			userID, target := args[0], args[1]
			info, err := os.Stat(target)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if info.IsDir() {
				n, err := c.Manager.IndexDirectory(ctx, userID, target, cfg.Watch.Extensions)
				fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d new photos for %s\n", n, userID)
				return err
			}
			col, err := c.Manager.Add(ctx, userID, target, caption)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %s for %s (%d photos)\n", target, userID, len(col.Paths))
			return nil
		},
	}
	cmd.Flags().StringVar(&caption, "caption", "", "caption for a single photo")
	return cmd
}

func newDeleteCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <user> <photo>",
		Short: "Remove a photo from a user's index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, c, logger, err := g.open()
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer c.Close()
			if err := c.Manager.Delete(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s for %s\n", args[1], args[0])
			return nil
		},
	}
}

func newListCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list <user>",
		Short: "List a user's indexed photos",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(g.output)
			if err != nil {
				return err
			}
			_, c, logger, err := g.open()
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer c.Close()
			photos, err := c.Manager.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return cli.WritePhotos(cmd.OutOrStdout(), args[0], photos, format)
		},
	}
}

// searchFlags are the search command's own flags.
type searchFlags struct {
	server        string
	image         string
	k             int
	mode          string
	keywordWeight float64
	// weightSet records an explicit --keyword-weight, so 0 is honored.
	weightSet bool
}

func newSearchCmd(g *globalFlags) *cobra.Command {
	f := &searchFlags{}
	cmd := &cobra.Command{
		Use:   "search <user> [query...]",
		Short: "Search a user's photos by text, image, or both",
		Long: `Search a user's photos. The query is every remaining argument joined by spaces,
so multi-word queries work with or without quotes.

Examples:
  kioku search alice beach at sunset
  kioku search alice --image ./query.jpg
  kioku search alice --mode hybrid --keyword-weight 0.5 red car
  kioku search alice --server http://localhost:8090 dog`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(g.output)
			if err != nil {
				return err
			}
			f.weightSet = cmd.Flags().Changed("keyword-weight")
			q := buildSearchQuery(args[1:], f)
			if f.server != "" {
				resp, err := cli.NewClient(f.server).Search(cmd.Context(), args[0], q)
				if err != nil {
					return err
				}
				return cli.WriteSearchResults(cmd.OutOrStdout(), resp, format)
			}
			_, c, logger, err := g.open()
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer c.Close()
			resp, err := c.Engine.Search(cmd.Context(), args[0], q)
			if err != nil {
				return err
			}
			return cli.WriteSearchResults(cmd.OutOrStdout(), resp, format)
		},
	}
	cmd.Flags().StringVar(&f.server, "server", "", "server URL; empty searches the data directory directly")
	cmd.Flags().StringVar(&f.image, "image", "", "query image path")
	cmd.Flags().IntVarP(&f.k, "k", "k", 0, "number of results (0 = configured default)")
	cmd.Flags().StringVar(&f.mode, "mode", models.ModeSemantic, "search mode: semantic, keyword or hybrid")
	cmd.Flags().Float64Var(&f.keywordWeight, "keyword-weight", models.DefaultKeywordWeight, "keyword share of hybrid scores, 0 to 1")
	return cmd
}

// buildSearchQuery joins positional args with spaces so multi-word queries work the same
// with or without shell quoting.
func buildSearchQuery(args []string, f *searchFlags) models.SearchQuery {
	q := models.SearchQuery{
		Text:  strings.TrimSpace(strings.Join(args, " ")),
		Image: f.image,
		K:     f.k,
		Mode:  f.mode,
	}
	if f.weightSet {
		q.KeywordWeight = models.Float64(f.keywordWeight)
	}
	return q
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "status [user...]",
		Short: "Show server status, or per-user index stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(g.output)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				if serverURL == "" {
					return fmt.Errorf("status without users needs --server")
				}
				status, err := cli.NewClient(serverURL).Status(cmd.Context())
				if err != nil {
					return err
				}
				return cli.WriteJSON(cmd.OutOrStdout(), status)
			}
			_, c, logger, err := g.open()
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer c.Close()
			stats := make([]models.IndexStats, 0, len(args))
			for _, userID := range args {
				s, err := c.Manager.Stats(cmd.Context(), userID)
				if err != nil {
					return err
				}
				stats = append(stats, s)
			}
			return cli.WriteStats(cmd.OutOrStdout(), stats, format)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8090", "server URL for the overall status")
	return cmd
}

func newSnapshotCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Back up or restore a user's artifact set in S3",
	}
	run := func(push bool) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.setup(false)
			if err != nil {
				return err
			}
			defer logger.Sync()
			if cfg.Backup.Bucket == "" {
				return fmt.Errorf("backup.bucket is not configured")
			}
			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			snap := backup.NewSnapshotter(backup.NewS3Client(cfg.Backup), cfg.Backup.Bucket, cfg.Backup.Prefix, store,
				backup.WithLogger(logger))
			var m *backup.Manifest
			if push {
				m, err = snap.Push(cmd.Context(), args[0])
			} else {
				m, err = snap.Pull(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			return cli.WriteJSON(cmd.OutOrStdout(), m)
		}
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "push <user>",
			Short: "Upload a user's committed artifact set",
			Args:  cobra.ExactArgs(1),
			RunE:  run(true),
		},
		&cobra.Command{
			Use:   "pull <user>",
			Short: "Replace a user's artifact set with the stored snapshot",
			Long:  "Replace a user's artifact set with the stored snapshot. Run it while the server is stopped.",
			Args:  cobra.ExactArgs(1),
			RunE:  run(false),
		},
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kioku version %s\n", version)
		},
	}
}
