// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/assistd-org/assistd/internal/types"
)

// NewRulesCmd creates the rules command group for inspecting the safety
// rule set without running anything.
func NewRulesCmd() *cobra.Command {
	var rulesPath string

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the safety rules",
	}
	cmd.PersistentFlags().StringVar(&rulesPath, "rules", "", "Path to the safety rules file")

	check := &cobra.Command{
		Use:   "check <command>",
		Short: "Assess a command against the safety rules",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			checker, err := loadChecker(rulesPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			text := strings.Join(args, " ")
			assessment := checker.Assess(types.Command{Kind: types.CommandShell, Text: text})
			if !assessment.Risky {
				fmt.Fprintf(cmd.OutOrStdout(), "safe: %s\n", text)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "RISKY: %s\n", text)
			for _, match := range assessment.Matches {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s  (%s)\n", match.Description, match.Pattern)
			}
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the configured danger patterns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			checker, err := loadChecker(rulesPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			rules := checker.Rules()
			if len(rules) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no rules configured")
				return nil
			}
			for _, rule := range rules {
				fmt.Fprintf(cmd.OutOrStdout(), "%-40s %s\n", rule.Pattern, rule.Description)
			}
			return nil
		},
	}

	cmd.AddCommand(check, list)
	return cmd
}
