// SPDX-License-Identifier: AGPL-3.0-or-later
package orchestrator

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/assistd-org/assistd/internal/types"
)

// renderPlanText lays a plan out the way it is shown for review, so diffs
// between revisions read naturally.
func renderPlanText(plan *types.Plan) string {
	var b strings.Builder
	for _, step := range plan.Steps {
		marker := ""
		if step.IsRisky {
			marker = "[RISKY] "
		}
		if step.IsObserve {
			marker += "[OBSERVE] "
		}
		fmt.Fprintf(&b, "%d. %s%s\n", step.Number, marker, step.Description)
		if step.Command != nil {
			fmt.Fprintf(&b, "COMMAND: %s\n", step.Command.Text)
		}
	}
	return b.String()
}

// renderPlanDiff returns a unified diff between two plan renderings.
func renderPlanDiff(prior, revised *types.Plan) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(renderPlanText(prior)),
		B:        difflib.SplitLines(renderPlanText(revised)),
		FromFile: prior.ID,
		ToFile:   revised.ID,
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return diff
}
