// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"fmt"
	"os"

	"github.com/assistd-org/assistd/internal/paths"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "assistd",
	Short: "Plan execution orchestrator assistd",
	Long: `assistd turns a natural-language task into a reviewed, step-by-step
command plan and executes it under supervision. Risky commands require
explicit confirmation; failed steps can be skipped, revised or aborted.`,
}

func Execute() {
	if dataDir := os.Getenv("ASSISTD_DATA_DIR"); dataDir != "" {
		paths.SetDataDirOverride(dataDir)
	}

	rootCmd.AddCommand(NewCompletionCmd(rootCmd))
	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewRulesCmd())
	rootCmd.AddCommand(NewServeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
