package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	llmrelay "github.com/bluefunda/llm-relay"
)

var (
	embedWith  string
	embedModel string
)

func init() {
	rootCmd.AddCommand(embedCmd)
	embedCmd.Flags().StringVarP(&embedWith, "embedder", "e", "", "embedding provider (default: config embedder)")
	embedCmd.Flags().StringVarP(&embedModel, "model", "m", "", "embedding model (default: provider's)")
}

var embedCmd = &cobra.Command{
	Use:   "embed <text>...",
	Short: "Print one JSON embedding per input text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, cfg, err := openRelay(cmd)
		if err != nil {
			return err
		}
		defer r.Close()

		name := embedWith
		if name == "" {
			name = cfg.Embedder
		}
		if name == "" {
			names := r.Router.Embedders()
			if len(names) == 0 {
				return llmrelay.ErrUnknownEmbedder
			}
			name = names[0]
		}

		vecs, err := r.Router.Embed(cmd.Context(), name, &llmrelay.EmbeddingRequest{Model: embedModel, Input: args})
		if err != nil {
			return fmt.Errorf("embed with %s: %w", name, err)
		}

		enc := json.NewEncoder(os.Stdout)
		for _, v := range vecs {
			if err := enc.Encode(v); err != nil {
				return err
			}
		}
		return nil
	},
}
