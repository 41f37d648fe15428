package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/keagan/flickerscope/internal/config"
	"github.com/keagan/flickerscope/internal/features"
	"github.com/keagan/flickerscope/internal/pipeline"
	"github.com/keagan/flickerscope/pkg/util"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var extractCmd = &cobra.Command{
	Use:   "extract [input video]",
	Short: "Extract flicker features from one video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		if err := applyCacheFlags(cmd, cfg); err != nil {
			return err
		}
		output, _ := cmd.Flags().GetString("output")

		pipe, err := pipeline.New(cmd.Context(), log.Logger, cfg)
		if err != nil {
			return err
		}
		defer pipe.Close()

		res, err := pipe.Analyze(cmd.Context(), args[0], pipeline.AnalyzeOptions{Store: cfg.Store.DSN != ""})
		if res == nil {
			return err
		}
		if err := analyzeFailure(err); err != nil {
			return err
		}

		log.Info().
			Str("digest", res.Digest).
			Int("frames", len(res.Embeddings)).
			Float64("fps", res.FPS).
			Ints("suspects", res.Suspects).
			Bool("cache_hit", res.CacheHit).
			Msg("extraction complete")

		if output != "" {
			return writeJSON(output, res)
		}
		return nil
	},
}

// analyzeFailure returns err unless the only problem was an unwritten cache
// entry, which is logged instead.
func analyzeFailure(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pipeline.ErrStoreSave) || !errors.Is(err, features.ErrCacheWrite) {
		return err
	}
	log.Warn().Err(err).Msg("features not cached")
	return nil
}

var digestCmd = &cobra.Command{
	Use:   "digest [file]",
	Short: "Print the content digest and cache location of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		digest, err := features.Digest(args[0])
		if err != nil {
			return err
		}
		path := features.NewCache(log.Logger, cfg.CacheDir, true).Path(digest)
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", digest, args[0])
		fmt.Fprintf(cmd.OutOrStdout(), "cache: %s (cached: %t)\n", path, util.FileExists(path))
		return nil
	},
}

// writeJSON writes v to path, or to stdout when path is "-".
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if path == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := util.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	log.Info().Str("path", path).Msg("features written")
	return nil
}

func init() {
	addCacheFlags(extractCmd)
	extractCmd.Flags().StringP("output", "o", "", "write the result as JSON to this file (- for stdout)")
}
