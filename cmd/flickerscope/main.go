package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/keagan/flickerscope/internal/config"
	"github.com/keagan/flickerscope/internal/logging"
	"github.com/keagan/flickerscope/pkg/util"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	logDir  string

	logCloser io.Closer
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "flickerscope",
	Short: "flickerscope - video flicker feature extraction",
	Long:  "Extracts frame embeddings, suspect frames, motion and multi-window similarity features used to detect flicker in videos.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load config
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-dir") {
			cfg.LogDir = logDir
		}

		// Initialize logging
		closer, err := logging.Init(verbose, cfg.LogDir)
		logCloser = closer
		if err != nil {
			log.Warn().Err(err).Msg("file logging disabled")
		}

		// Store config in context
		ctx := config.WithConfig(cmd.Context(), cfg)
		cmd.SetContext(ctx)

		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logCloser != nil {
			return logCloser.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.SilenceUsage = true
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "directory for log files (empty disables file logging)")

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(digestCmd)
	rootCmd.AddCommand(nearestCmd)
	rootCmd.AddCommand(configCmd)
}

// applyCacheFlags copies the cache flags shared by extract and batch onto cfg
// and creates the cache directory when caching is on.
func applyCacheFlags(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("cache-dir") {
		cfg.CacheDir, _ = cmd.Flags().GetString("cache-dir")
	}
	if cmd.Flags().Changed("disable-cache") {
		cfg.DisableCache, _ = cmd.Flags().GetBool("disable-cache")
	}
	if cmd.Flags().Changed("store") {
		cfg.Store.DSN, _ = cmd.Flags().GetString("store")
	}
	if cfg.DisableCache {
		return nil
	}
	return util.EnsureDir(cfg.CacheDir)
}

func addCacheFlags(cmd *cobra.Command) {
	cmd.Flags().String("cache-dir", "", "feature cache directory (default from config)")
	cmd.Flags().Bool("disable-cache", false, "recompute features and do not write the cache")
	cmd.Flags().String("store", "", "feature store DSN: a SQLite path or postgres:// URL")
}
