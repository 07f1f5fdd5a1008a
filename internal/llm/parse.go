// SPDX-License-Identifier: AGPL-3.0-or-later
package llm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/assistd-org/assistd/internal/types"
)

// parsePlanSteps extracts numbered steps with their commands from the model's
// plan text. The expected shape per step is
//
//	<n>. <description>
//	COMMAND: <command>
//
// with optional [RISKY] and [OBSERVE] markers in the description. Steps are
// renumbered 1..n in the order they appear; models occasionally restart or
// skip numbering and that must not leak into the plan invariants.
func parsePlanSteps(response string) ([]*types.Step, error) {
	var steps []*types.Step
	var current *types.Step

	for _, raw := range strings.Split(response, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if number, rest, ok := splitNumbered(line); ok {
			if current != nil {
				steps = append(steps, current)
			}
			_ = number // model numbering is advisory only
			desc := rest
			risky := strings.Contains(desc, "[RISKY]")
			observe := strings.Contains(desc, "[OBSERVE]")
			desc = strings.TrimSpace(strings.ReplaceAll(desc, "[RISKY]", ""))
			desc = strings.TrimSpace(strings.ReplaceAll(desc, "[OBSERVE]", ""))
			current = &types.Step{
				Description: desc,
				IsRisky:     risky,
				IsObserve:   observe,
				Status:      types.StepPending,
			}
			continue
		}

		if strings.HasPrefix(line, "COMMAND:") && current != nil {
			command := strings.TrimSpace(strings.TrimPrefix(line, "COMMAND:"))
			command = strings.Trim(command, "`")
			if command != "" {
				current.Command = &types.Command{
					Kind: detectKind(command),
					Text: command,
				}
			}
		}
	}
	if current != nil {
		steps = append(steps, current)
	}

	if len(steps) == 0 {
		return nil, fmt.Errorf("no plan steps found in response")
	}
	for i, step := range steps {
		step.Number = i + 1
	}
	return steps, nil
}

// splitNumbered recognises "3. do something" lines.
func splitNumbered(line string) (int, string, bool) {
	dot := strings.Index(line, ".")
	if dot <= 0 {
		return 0, "", false
	}
	n, err := strconv.Atoi(strings.TrimSpace(line[:dot]))
	if err != nil || n < 1 {
		return 0, "", false
	}
	rest := strings.TrimSpace(line[dot+1:])
	if rest == "" {
		return 0, "", false
	}
	return n, rest, true
}

// parseRevisionSummary pulls the REVISION SUMMARY paragraph that precedes the
// first numbered step, when present.
func parseRevisionSummary(response string) string {
	idx := strings.Index(response, "REVISION SUMMARY:")
	if idx < 0 {
		return ""
	}
	var summary strings.Builder
	for _, raw := range strings.Split(response[idx+len("REVISION SUMMARY:"):], "\n") {
		line := strings.TrimSpace(raw)
		if _, _, ok := splitNumbered(line); ok {
			break
		}
		if line == "" && summary.Len() > 0 {
			break
		}
		if line != "" {
			if summary.Len() > 0 {
				summary.WriteString(" ")
			}
			summary.WriteString(line)
		}
	}
	return summary.String()
}

func detectKind(command string) types.CommandKind {
	if strings.HasPrefix(strings.TrimSpace(command), "tell application") {
		return types.CommandAppleScript
	}
	return types.CommandShell
}

// stripCodeFence removes a surrounding markdown fence the model sometimes
// wraps single commands in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return strings.Trim(s, "`")
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.Index(s, "\n"); nl >= 0 && !strings.ContainsAny(s[:nl], " \t") {
		// language tag line
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
