// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/assistd-org/assistd/internal/llm"
	"github.com/assistd-org/assistd/internal/server"
	"github.com/spf13/cobra"
)

// NewServeCmd creates the :serve command that bootstraps the HTTP server runtime.
func NewServeCmd() *cobra.Command {
	var (
		bindAddr      string
		logMode       string
		devMode       bool
		token         string
		rulesPath     string
		templatesPath string
		model         string
		baseURL       string
		timeout       time.Duration
		verify        bool
	)

	cmd := &cobra.Command{
		Use:   ":serve",
		Short: "Start assistd in API serve mode (REST + SSE)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := server.Config{
				Bind:           bindAddr,
				Dev:            devMode,
				Log:            logMode,
				StdOut:         os.Stdout,
				StdErr:         os.Stderr,
				Token:          token,
				RulesPath:      rulesPath,
				TemplatesPath:  templatesPath,
				CommandTimeout: timeout,
				VerifyResults:  verify,
				LLM: llm.Config{
					APIKey:  os.Getenv("OPENAI_API_KEY"),
					Model:   model,
					BaseURL: baseURL,
				},
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := server.Run(ctx, cfg); err != nil {
				if ctx.Err() != nil {
					// Shutdown initiated; surface as exit 0 after graceful stop.
					return nil
				}
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&bindAddr, "bind", "127.0.0.1:8080", "Address for HTTP server to listen on")
	cmd.Flags().BoolVar(&devMode, "dev", false, "Enable development defaults (relaxed CORS)")
	cmd.Flags().StringVar(&logMode, "log", "text", "Log output format (text|json)")
	cmd.Flags().StringVar(&token, "token", "", "Static bearer token for API auth (overrides ASSISTD_TOKEN)")
	cmd.Flags().StringVar(&rulesPath, "rules", "", "Path to the safety rules file")
	cmd.Flags().StringVar(&templatesPath, "templates", "", "Path to the command templates file")
	cmd.Flags().StringVar(&model, "model", "", "Model used for plan generation")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Override the model provider base URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Per-command execution timeout (default 5m)")
	cmd.Flags().BoolVar(&verify, "verify", false, "Judge each command's output before moving on")

	return cmd
}
