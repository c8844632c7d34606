package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	llmrelay "github.com/bluefunda/llm-relay"
	"github.com/bluefunda/llm-relay/internal/relay"
)

var (
	chatModel       string
	chatSystem      string
	chatStream      bool
	chatTemperature float64
)

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "model or provider name (default: first fallback)")
	chatCmd.Flags().StringVarP(&chatSystem, "system", "s", "", "system prompt")
	chatCmd.Flags().BoolVar(&chatStream, "stream", false, "stream the reply as it is generated")
	chatCmd.Flags().Float64Var(&chatTemperature, "temperature", -1, "sampling temperature (provider default when negative)")
}

var chatCmd = &cobra.Command{
	Use:   "chat [prompt...]",
	Short: "Send one prompt and print the reply; reads stdin without arguments",
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := strings.Join(args, " ")
		if prompt == "" {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("read prompt: %w", err)
			}
			prompt = strings.TrimSpace(string(b))
		}
		if prompt == "" {
			return fmt.Errorf("empty prompt")
		}

		r, cfg, err := openRelay(cmd)
		if err != nil {
			return err
		}
		defer r.Close()

		req := &llmrelay.Request{Model: chatModel}
		if req.Model == "" {
			req.Model = relay.DefaultModel(cfg)
		}
		if chatSystem != "" {
			req.Messages = append(req.Messages, llmrelay.Message{Role: llmrelay.RoleSystem, Content: chatSystem})
		}
		req.Messages = append(req.Messages, llmrelay.Message{Role: llmrelay.RoleUser, Content: prompt})
		if chatTemperature >= 0 {
			req.Temperature = &chatTemperature
		}

		if !chatStream {
			resp, err := r.Router.Complete(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, resp.Text())
			return nil
		}
		return printStream(cmd, r, req)
	},
}

func printStream(cmd *cobra.Command, r *relay.Relay, req *llmrelay.Request) error {
	events, err := r.Stream(cmd.Context(), req)
	if err != nil {
		return err
	}

	for ev := range events {
		switch ev.Type {
		case llmrelay.EventThinking:
			fmt.Fprintln(os.Stderr, ev.Content)
		case llmrelay.EventContentDelta:
			fmt.Fprint(os.Stdout, ev.Content)
		case llmrelay.EventError:
			fmt.Fprintln(os.Stdout)
			return ev.Error
		case llmrelay.EventDone:
			fmt.Fprintln(os.Stdout)
		}
	}
	return cmd.Context().Err()
}
