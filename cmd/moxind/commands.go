package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"moxind/internal/backend"
	"moxind/internal/manager"
	"moxind/pkg/protocol"
	"moxind/pkg/types"
)

// --- serve ---

func newServeCmd(env *cliEnv) *cobra.Command {
	var (
		port        uint16
		cors        bool
		queuing     bool
		verbose     bool
		raw         bool
		corsOrigins string
		load        string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the backend with the local OpenAI-compatible server",
		Long: `Run the backend with the local OpenAI-compatible server.

Examples:
  moxind serve --port 8080
  moxind serve --load mistral-7b-instruct-v0.2.Q4_K_M.gguf --cors --queue`,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := env.cfg.Server
			flags := cmd.Flags()
			if flags.Changed("port") {
				srv.Port = port
			}
			if flags.Changed("cors") {
				srv.CORS = cors
			}
			if flags.Changed("queue") {
				srv.RequestQueuing = queuing
			}
			if flags.Changed("verbose") {
				srv.VerboseServerLogs = verbose
			}
			if flags.Changed("raw") {
				srv.ApplyPromptFormatting = !raw
			}
			if flags.Changed("cors-origins") {
				env.cfg.CORSOrigins = splitCSV(corsOrigins)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			out := cmd.OutOrStdout()

			return env.withBackend(ctx, func(ctx context.Context, c *backend.Client) error {
				if load != "" {
					info, err := c.Load(ctx, types.FileID(load), types.DefaultLoadModelOptions(), nil)
					if err != nil {
						return fmt.Errorf("load %s: %w", load, err)
					}
					fmt.Fprintf(out, "loaded %s (%s)\n", info.FileID, info.ModelID)
				}
				addr, stopped, err := c.StartServer(ctx, srv, func(line string) { fmt.Fprintln(out, line) })
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "moxind listening on http://%s\n", addr)
				select {
				case <-ctx.Done():
					fmt.Fprintln(out, "shutting down...")
					_ = c.StopServer()
					<-stopped
				case <-stopped:
				}
				return nil
			})
		},
	}
	cmd.Flags().Uint16Var(&port, "port", 0, "Listen port (0 picks a free port; default from config)")
	cmd.Flags().BoolVar(&cors, "cors", false, "Enable CORS")
	cmd.Flags().BoolVar(&queuing, "queue", false, "Queue chat requests instead of answering 429 while busy")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "Log request bodies")
	cmd.Flags().BoolVar(&raw, "raw", false, "Do not apply the chat template to incoming messages")
	cmd.Flags().StringVar(&corsOrigins, "cors-origins", "", "Comma-separated allowed CORS origins")
	cmd.Flags().StringVar(&load, "load", "", "File id to load before serving")
	return cmd
}

// --- featured / search ---

func newFeaturedCmd(env *cliEnv) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "featured",
		Short: "List featured models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withBackend(cmd.Context(), func(ctx context.Context, c *backend.Client) error {
				models, err := c.Featured(ctx)
				if err != nil {
					return err
				}
				return printModels(cmd.OutOrStdout(), models, asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newSearchCmd(env *cliEnv) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "search <keywords>",
		Short:   "Search the catalog",
		Example: "  moxind search mistral instruct",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withBackend(cmd.Context(), func(ctx context.Context, c *backend.Client) error {
				models, err := c.Search(ctx, joinArgs(args))
				if err != nil {
					return err
				}
				return printModels(cmd.OutOrStdout(), models, asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

// --- download / files ---

func newDownloadCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "download <file-id>",
		Short: "Download a model file from the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			out := cmd.OutOrStdout()
			return env.withBackend(ctx, func(ctx context.Context, c *backend.Client) error {
				bar := newProgressPrinter(out, args[0])
				f, err := c.Download(ctx, types.FileID(args[0]), bar.update)
				bar.done()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "downloaded %s (%s)\n", f.ID, humanBytes(f.Size))
				return nil
			})
		},
	}
}

func newFilesCmd(env *cliEnv) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "files",
		Short: "List downloaded files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withBackend(cmd.Context(), func(ctx context.Context, c *backend.Client) error {
				files, err := c.DownloadedFiles(ctx)
				if err != nil {
					return err
				}
				return printFiles(cmd.OutOrStdout(), files, asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

// --- chat ---

func newChatCmd(env *cliEnv) *cobra.Command {
	var (
		fileID    string
		system    string
		stream    bool
		raw       bool
		maxTokens int
		stats     bool
	)
	cmd := &cobra.Command{
		Use:   "chat --model <file-id> <message>",
		Short: "Load a downloaded model and send one chat message",
		Long: `Load a downloaded model and send one chat message.

Examples:
  moxind chat --model tinyllama.Q4_K_M.gguf "Write a haiku about Go"
  moxind chat --model tinyllama.Q4_K_M.gguf --stream --system "Be terse" "Hi"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if fileID == "" {
				return errors.New("--model is required")
			}
			payload, err := buildChatPayload(system, joinArgs(args), stream, raw, maxTokens)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			out := cmd.OutOrStdout()

			return env.withBackend(ctx, func(ctx context.Context, c *backend.Client) error {
				if _, err := c.Load(ctx, types.FileID(fileID), types.DefaultLoadModelOptions(), nil); err != nil {
					return fmt.Errorf("load %s: %w", fileID, err)
				}
				resp, err := c.Chat(ctx, payload, func(r protocol.ChatResponse) error {
					fmt.Fprint(out, chunkContent(r.JSON))
					return nil
				})
				if err != nil {
					return err
				}
				if stream {
					fmt.Fprintln(out)
				} else {
					fmt.Fprintln(out, completionContent(resp.JSON))
				}
				if stats && resp.Data != nil {
					printStats(cmd.ErrOrStderr(), *resp.Data)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&fileID, "model", "m", "", "Downloaded file id to load")
	cmd.Flags().StringVar(&system, "system", "", "System prompt")
	cmd.Flags().BoolVar(&stream, "stream", false, "Stream tokens as they are generated")
	cmd.Flags().BoolVar(&raw, "raw", false, "Send the message without the chat template")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Maximum tokens to generate (0 = model default)")
	cmd.Flags().BoolVar(&stats, "stats", false, "Print generation statistics to stderr")
	return cmd
}

func buildChatPayload(system, message string, stream, raw bool, maxTokens int) (string, error) {
	req := types.ChatRequest{Stream: stream, RawPrompt: raw}
	if system != "" {
		req.Messages = append(req.Messages, types.ChatMessage{Role: "system", Content: system})
	}
	req.Messages = append(req.Messages, types.ChatMessage{Role: "user", Content: message})
	if maxTokens > 0 {
		req.MaxTokens = maxTokens
	}
	b, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func chunkContent(raw string) string {
	var chunk types.ChatCompletionChunk
	if err := json.Unmarshal([]byte(raw), &chunk); err != nil || len(chunk.Choices) == 0 {
		return ""
	}
	return chunk.Choices[0].Delta.Content
}

func completionContent(raw string) string {
	var c types.ChatCompletion
	if err := json.Unmarshal([]byte(raw), &c); err != nil || len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Message.Content
}

// --- version ---

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// No config or logger needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "moxind %s (in-process llama: %t)\n", version, manager.LlamaBuilt())
		},
	}
}
