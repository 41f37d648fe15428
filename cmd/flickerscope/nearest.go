package main

import (
	"fmt"
	"strconv"

	"github.com/keagan/flickerscope/internal/config"
	"github.com/keagan/flickerscope/internal/store"
	"github.com/spf13/cobra"
)

var nearestCmd = &cobra.Command{
	Use:   "nearest [digest] [frame]",
	Short: "List stored frames closest to a stored frame's embedding",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		if cmd.Flags().Changed("store") {
			cfg.Store.DSN, _ = cmd.Flags().GetString("store")
		}
		k, _ := cmd.Flags().GetInt("k")

		frame, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid frame index %q", args[1])
		}

		st, err := store.Open(cmd.Context(), cfg.Store.DSN)
		if err != nil {
			return err
		}
		defer st.Close()

		res, err := st.Load(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if frame < 0 || frame >= len(res.Embeddings) {
			return fmt.Errorf("frame %d out of range, video has %d frames", frame, len(res.Embeddings))
		}

		matches, err := st.Nearest(cmd.Context(), res.Embeddings[frame], k)
		if err != nil {
			return err
		}
		for _, m := range matches {
			fmt.Fprintf(cmd.OutOrStdout(), "%.6f  %s  frame %d  (%s)\n", m.Distance, m.Digest, m.Frame, m.VideoPath)
		}
		return nil
	},
}

func init() {
	nearestCmd.Flags().String("store", "", "feature store DSN (default from config)")
	nearestCmd.Flags().Int("k", 10, "number of frames to list")
}
