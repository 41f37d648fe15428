package main

import (
	"fmt"
	"os"

	"github.com/keagan/flickerscope/internal/config"
	"github.com/keagan/flickerscope/internal/features"
	"github.com/keagan/flickerscope/internal/metrics"
	"github.com/keagan/flickerscope/internal/pipeline"
	"github.com/keagan/flickerscope/pkg/util"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var batchCmd = &cobra.Command{
	Use:   "batch [dir|video]...",
	Short: "Extract features from many videos, continuing past failures",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		if err := applyCacheFlags(cmd, cfg); err != nil {
			return err
		}
		if cmd.Flags().Changed("metrics-addr") {
			cfg.Metrics.Addr, _ = cmd.Flags().GetString("metrics-addr")
		}
		reportPath, _ := cmd.Flags().GetString("report")

		inputs, err := collectInputs(args)
		if err != nil {
			return err
		}
		if len(inputs) == 0 {
			return fmt.Errorf("no videos found")
		}

		if cfg.Metrics.Addr != "" {
			metrics.StartServer(cmd.Context(), cfg.Metrics.Addr, log.Logger)
		}

		pipe, err := pipeline.New(cmd.Context(), log.Logger, cfg)
		if err != nil {
			return err
		}
		defer pipe.Close()

		bar := progressbar.Default(int64(len(inputs)), "extracting")
		report := pipe.Batch(cmd.Context(), inputs, pipeline.BatchOptions{
			AnalyzeOptions: pipeline.AnalyzeOptions{Store: cfg.Store.DSN != ""},
			OnVideo: func(path string, res *features.Result, err error) {
				bar.Add(1)
			},
		})
		bar.Finish()

		for _, f := range report.Failed {
			fmt.Fprintf(os.Stderr, "FAILED %s [%s]: %s\n", f.Path, f.Stage, f.Error)
		}
		if reportPath != "" {
			if err := writeJSON(reportPath, report); err != nil {
				return err
			}
		}
		if len(report.Failed) > 0 {
			return fmt.Errorf("%d of %d videos failed", len(report.Failed), len(inputs))
		}
		return nil
	},
}

// collectInputs expands directory arguments into the videos they contain.
func collectInputs(args []string) ([]string, error) {
	var inputs []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			// let the engine report it as a per-video failure
			inputs = append(inputs, arg)
			continue
		}
		if !info.IsDir() {
			inputs = append(inputs, arg)
			continue
		}
		videos, err := util.ListVideos(arg)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, videos...)
	}
	return inputs, nil
}

func init() {
	addCacheFlags(batchCmd)
	batchCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	batchCmd.Flags().String("report", "", "write the batch report as JSON to this file (- for stdout)")
}
