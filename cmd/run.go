// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/assistd-org/assistd/internal/commandgen"
	"github.com/assistd-org/assistd/internal/coredb"
	"github.com/assistd-org/assistd/internal/events"
	"github.com/assistd-org/assistd/internal/execengine"
	"github.com/assistd-org/assistd/internal/llm"
	"github.com/assistd-org/assistd/internal/orchestrator"
	"github.com/assistd-org/assistd/internal/safety"
	"github.com/assistd-org/assistd/internal/types"
)

// promptSink feeds orchestrator events to the interactive loop. Buffered so
// the execution goroutine never stalls behind a slow reader.
type promptSink struct {
	ch chan events.Event
}

func newPromptSink() *promptSink {
	return &promptSink{ch: make(chan events.Event, 256)}
}

func (s *promptSink) Emit(ev events.Event) {
	s.ch <- ev
}

// NewRunCmd creates the run command: one task in, one supervised plan
// execution out, with all review and confirmation prompts on the terminal.
func NewRunCmd() *cobra.Command {
	var (
		rulesPath     string
		templatesPath string
		model         string
		baseURL       string
		timeout       time.Duration
		verify        bool
		autoApprove   bool
		jsonEvents    bool
	)

	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Plan and execute a task interactively",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := llm.New(llm.Config{
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   model,
				BaseURL: baseURL,
			})
			if err != nil {
				return fmt.Errorf("llm client: %w", err)
			}

			checker, err := loadChecker(rulesPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			table, err := loadTemplates(templatesPath)
			if err != nil {
				return err
			}

			var store orchestrator.Store
			if db, dbErr := coredb.Open(ctx, coredb.Options{}); dbErr == nil {
				defer db.Close()
				store = coredb.NewPlanStore(db)
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: plan history disabled: %v\n", dbErr)
			}

			prompts := newPromptSink()
			orch := orchestrator.New(orchestrator.Config{
				Planner:        client,
				Generator:      commandgen.New(table, client),
				Checker:        checker,
				Runner:         execengine.New(),
				Emitter:        events.NewEmitter(events.NewWriterSink(cmd.OutOrStdout(), jsonEvents), prompts),
				Store:          store,
				CommandTimeout: timeout,
				VerifyResults:  verify,
			})

			run := &interactiveRun{
				orch:    orch,
				events:  prompts.ch,
				in:      bufio.NewReader(cmd.InOrStdin()),
				out:     cmd.OutOrStdout(),
				approve: autoApprove,
			}
			return run.execute(ctx, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVar(&rulesPath, "rules", "", "Path to the safety rules file")
	cmd.Flags().StringVar(&templatesPath, "templates", "", "Path to the command templates file")
	cmd.Flags().StringVar(&model, "model", "", "Model used for plan generation")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Override the model provider base URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Per-command execution timeout (default 5m)")
	cmd.Flags().BoolVar(&verify, "verify", false, "Judge each command's output before moving on")
	cmd.Flags().BoolVarP(&autoApprove, "yes", "y", false, "Accept the generated plan without prompting (risky commands still require confirmation)")
	cmd.Flags().BoolVar(&jsonEvents, "json", false, "Emit progress events as JSON lines")

	return cmd
}

func loadChecker(path string, warnOut io.Writer) (*safety.Checker, error) {
	if path != "" {
		checker, err := safety.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load safety rules: %w", err)
		}
		return checker, nil
	}
	checker, resolved, err := safety.LoadFromEnvOrDefault()
	if err != nil {
		return nil, fmt.Errorf("load safety rules: %w", err)
	}
	fmt.Fprintf(warnOut, "using safety rules from %s\n", resolved)
	return checker, nil
}

func loadTemplates(path string) (*commandgen.Table, error) {
	if path != "" {
		table, err := commandgen.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load command templates: %w", err)
		}
		return table, nil
	}
	table, _, err := commandgen.LoadFromEnvOrDefault()
	if err != nil {
		return nil, fmt.Errorf("load command templates: %w", err)
	}
	return table, nil
}

type interactiveRun struct {
	orch    *orchestrator.Orchestrator
	events  <-chan events.Event
	in      *bufio.Reader
	out     io.Writer
	approve bool
	planID  string
}

func (r *interactiveRun) execute(ctx context.Context, request string) error {
	plan, err := r.orch.SubmitTask(ctx, request)
	if err != nil {
		return fmt.Errorf("generate plan: %w", err)
	}

	accepted, err := r.review(ctx, plan)
	if err != nil || !accepted {
		return err
	}
	return r.supervise(ctx)
}

// review shows the plan and loops until the user accepts, aborts, or the
// feedback-driven revision settles.
func (r *interactiveRun) review(ctx context.Context, plan *types.Plan) (bool, error) {
	for {
		fmt.Fprintf(r.out, "\nPlan %s for: %s\n\n%s\n", plan.ID, plan.Request, renderPlan(plan))
		if plan.RevisionSummary != "" {
			fmt.Fprintf(r.out, "Revision summary: %s\n\n", plan.RevisionSummary)
		}
		if r.approve {
			r.planID = plan.ID
			if err := r.orch.AcceptPlan(ctx, plan.ID); err != nil {
				return false, fmt.Errorf("accept plan: %w", err)
			}
			return true, nil
		}
		answer, err := r.prompt("Accept this plan? [y]es / [n]o / anything else is revision feedback: ")
		if err != nil {
			return false, err
		}
		switch strings.ToLower(answer) {
		case "y", "yes":
			r.planID = plan.ID
			if err := r.orch.AcceptPlan(ctx, plan.ID); err != nil {
				return false, fmt.Errorf("accept plan: %w", err)
			}
			return true, nil
		case "n", "no", "":
			if err := r.orch.AbortPlan(ctx, plan.ID, "rejected during review"); err != nil {
				return false, fmt.Errorf("abort plan: %w", err)
			}
			fmt.Fprintln(r.out, "Plan aborted.")
			return false, nil
		default:
			revised, err := r.orch.RejectPlan(ctx, plan.ID, answer)
			if err != nil {
				return false, fmt.Errorf("revise plan: %w", err)
			}
			plan = revised
		}
	}
}

// supervise reacts to the execution event stream: risky-command gates,
// observation checkpoints, failures and revisions.
func (r *interactiveRun) supervise(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			_ = r.orch.AbortPlan(context.Background(), r.planID, "interrupted")
			return ctx.Err()
		case ev := <-r.events:
			if ev.PlanID != r.planID && ev.Type != events.TypePlanRevised {
				continue
			}
			switch ev.Type {
			case events.TypeConfirmationRequired:
				if err := r.handleConfirmation(ctx, ev); err != nil {
					return err
				}
			case events.TypePlanPaused:
				if err := r.handlePause(ctx, ev); err != nil {
					return err
				}
			case events.TypePlanRevised:
				done, err := r.handleRevision(ctx, ev)
				if err != nil || done {
					return err
				}
			case events.TypePlanCompleted:
				fmt.Fprintln(r.out, "\nPlan completed.")
				return nil
			case events.TypePlanAborted:
				fmt.Fprintf(r.out, "\nPlan aborted: %s\n", ev.Message)
				return nil
			}
		}
	}
}

func (r *interactiveRun) handleConfirmation(ctx context.Context, ev events.Event) error {
	command, _ := ev.Data["command"].(string)
	fmt.Fprintf(r.out, "\nStep %d wants to run a risky command:\n  %s\n", ev.StepNumber, command)
	if rationales, ok := ev.Data["rationales"].([]string); ok {
		for _, rationale := range rationales {
			fmt.Fprintf(r.out, "  - %s\n", rationale)
		}
	}
	answer, err := r.prompt("Run it? [y/N]: ")
	if err != nil {
		return err
	}
	answer = strings.ToLower(answer)
	approve := answer == "y" || answer == "yes"
	if err := r.orch.ConfirmCommand(ctx, ev.CommandID, approve, ""); err != nil {
		return fmt.Errorf("confirm command: %w", err)
	}
	return nil
}

func (r *interactiveRun) handlePause(ctx context.Context, ev events.Event) error {
	observing := ev.Message == "awaiting observation"
	if observing {
		fmt.Fprintf(r.out, "\nStep %d needs your eyes before the plan continues.\n", ev.StepNumber)
	} else {
		fmt.Fprintf(r.out, "\nStep %d failed: %s\n", ev.StepNumber, ev.Message)
	}

	for {
		var question string
		if observing {
			question = "Continue? [p]roceed / [s]kip / [r]evise / [a]bort: "
		} else {
			question = "How to continue? [s]kip / [r]evise / [a]bort: "
		}
		answer, err := r.prompt(question)
		if err != nil {
			return err
		}

		var action orchestrator.Action
		switch strings.ToLower(answer) {
		case "p", "proceed":
			if !observing {
				continue
			}
			action = orchestrator.ActionProceed
		case "s", "skip":
			action = orchestrator.ActionSkip
		case "r", "revise":
			action = orchestrator.ActionRevise
		case "a", "abort", "":
			action = orchestrator.ActionAbort
		default:
			continue
		}

		feedback := ""
		if action == orchestrator.ActionRevise || (observing && action == orchestrator.ActionProceed) {
			feedback, err = r.prompt("Feedback (optional): ")
			if err != nil {
				return err
			}
		}
		if err := r.orch.ContinuePlan(ctx, ev.PlanID, action, feedback); err != nil {
			return fmt.Errorf("continue plan: %w", err)
		}
		return nil
	}
}

// handleRevision puts the successor plan back through review. Returns done
// when the user walked away instead of accepting it.
func (r *interactiveRun) handleRevision(ctx context.Context, ev events.Event) (bool, error) {
	revisedID, _ := ev.Data["revised_plan_id"].(string)
	if revisedID == "" {
		return false, nil
	}
	if diff, ok := ev.Data["diff"].(string); ok && diff != "" {
		fmt.Fprintf(r.out, "\nPlan revised:\n%s\n", diff)
	}
	plan, err := r.orch.Plan(revisedID)
	if err != nil {
		return false, fmt.Errorf("load revised plan: %w", err)
	}
	accepted, err := r.review(ctx, plan)
	if err != nil {
		return false, err
	}
	return !accepted, nil
}

func (r *interactiveRun) prompt(question string) (string, error) {
	fmt.Fprint(r.out, question)
	line, err := r.in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func renderPlan(plan *types.Plan) string {
	var b strings.Builder
	for _, step := range plan.Steps {
		marker := ""
		if step.IsRisky {
			marker = "[RISKY] "
		}
		if step.IsObserve {
			marker += "[OBSERVE] "
		}
		fmt.Fprintf(&b, "  %d. %s%s\n", step.Number, marker, step.Description)
		if step.Command != nil {
			fmt.Fprintf(&b, "     $ %s\n", step.Command.Text)
		}
	}
	return b.String()
}
