// SPDX-License-Identifier: AGPL-3.0-or-later
package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"github.com/assistd-org/assistd/internal/types"
)

// fakeModel replays canned responses and records the prompts it saw.
type fakeModel struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (m *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	i := m.calls
	m.calls++
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				m.prompts = append(m.prompts, text.Text)
			}
		}
	}
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	resp := ""
	if i < len(m.responses) {
		resp = m.responses[i]
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: resp}},
	}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := m.GenerateContent(ctx, []llms.MessageContent{llms.TextParts(schema.ChatMessageTypeHuman, prompt)}, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

const samplePlanResponse = `1. Check available disk space
COMMAND: df -h

2. [RISKY] Remove old temporary files
COMMAND: rm -rf ~/tmp/*

3. [OBSERVE] Verify the folder looks right
COMMAND: open ~/tmp`

func TestGeneratePlanParsesStepsAndMarkers(t *testing.T) {
	t.Parallel()

	model := &fakeModel{responses: []string{samplePlanResponse}}
	client := NewWithModel(model, time.Millisecond)

	plan, err := client.GeneratePlan(context.Background(), "clean up temp files")
	if err != nil {
		t.Fatalf("generate plan: %v", err)
	}
	if plan.Status != types.PlanPendingReview {
		t.Fatalf("expected pending_review, got %s", plan.Status)
	}
	if plan.ID == "" || plan.Request != "clean up temp files" {
		t.Fatalf("plan identity not populated: %#v", plan)
	}
	if len(plan.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(plan.Steps))
	}
	if plan.Steps[0].Command == nil || plan.Steps[0].Command.Text != "df -h" {
		t.Fatalf("step 1 command wrong: %#v", plan.Steps[0].Command)
	}
	if !plan.Steps[1].IsRisky || strings.Contains(plan.Steps[1].Description, "[RISKY]") {
		t.Fatalf("risky marker not lifted: %#v", plan.Steps[1])
	}
	if !plan.Steps[2].IsObserve {
		t.Fatalf("observe marker not lifted: %#v", plan.Steps[2])
	}
}

func TestGeneratePlanRetriesOnceThenSucceeds(t *testing.T) {
	t.Parallel()

	model := &fakeModel{
		errs:      []error{errors.New("rate limited")},
		responses: []string{"", samplePlanResponse},
	}
	client := NewWithModel(model, time.Millisecond)

	if _, err := client.GeneratePlan(context.Background(), "clean up"); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if model.calls != 2 {
		t.Fatalf("expected 2 provider calls, got %d", model.calls)
	}
}

func TestGeneratePlanSurfacesProviderErrorAfterRetry(t *testing.T) {
	t.Parallel()

	model := &fakeModel{errs: []error{errors.New("down"), errors.New("still down")}}
	client := NewWithModel(model, time.Millisecond)

	_, err := client.GeneratePlan(context.Background(), "clean up")
	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected *ProviderError, got %v", err)
	}
	if model.calls != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", model.calls)
	}
}

func TestGeneratePlanRejectsUnparseableResponse(t *testing.T) {
	t.Parallel()

	model := &fakeModel{responses: []string{"sorry, I cannot help with that"}}
	client := NewWithModel(model, time.Millisecond)

	_, err := client.GeneratePlan(context.Background(), "clean up")
	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected *ProviderError for malformed plan, got %v", err)
	}
}

func TestRevisePlanCarriesLineageAndSummary(t *testing.T) {
	t.Parallel()

	exit := 1
	prior := &types.Plan{
		ID:      "plan-1",
		Request: "clean up temp files",
		Status:  types.PlanPaused,
		Steps: []*types.Step{{
			Number:      1,
			Description: "Remove old temporary files",
			Command:     &types.Command{Kind: types.CommandShell, Text: "rm ~/tmp/old"},
			Status:      types.StepFailed,
			Stderr:      "rm: ~/tmp/old: No such file or directory",
			ExitCode:    &exit,
		}},
	}
	model := &fakeModel{responses: []string{`REVISION SUMMARY: Added a check that the file exists first.

1. Remove the file only if present
COMMAND: [ -e ~/tmp/old ] && rm ~/tmp/old || true`}}
	client := NewWithModel(model, time.Millisecond)

	revised, err := client.RevisePlan(context.Background(), prior, "it failed on a missing file")
	if err != nil {
		t.Fatalf("revise plan: %v", err)
	}
	if revised.RevisionOf != "plan-1" {
		t.Fatalf("lineage not recorded: %q", revised.RevisionOf)
	}
	if revised.RevisionSummary != "Added a check that the file exists first." {
		t.Fatalf("unexpected summary: %q", revised.RevisionSummary)
	}
	if revised.ID == prior.ID {
		t.Fatalf("revision must get a fresh id")
	}

	prompt := strings.Join(model.prompts, "\n")
	for _, want := range []string{"No such file or directory", "it failed on a missing file", "EXIT CODE: 1"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("revision prompt missing %q", want)
		}
	}
}

func TestVerifyResultParsesVerdict(t *testing.T) {
	t.Parallel()

	model := &fakeModel{responses: []string{`{"success": false, "explanation": "the directory still exists"}`}}
	client := NewWithModel(model, time.Millisecond)

	verdict, err := client.VerifyResult(context.Background(), &types.Step{
		Number:      1,
		Description: "Remove the backups directory",
		Command:     &types.Command{Kind: types.CommandShell, Text: "rmdir ~/backups"},
	}, types.ExecutionResult{ExitCode: 0, Stdout: ""})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verdict.Success {
		t.Fatalf("expected failure verdict")
	}
	if verdict.Explanation != "the directory still exists" {
		t.Fatalf("unexpected explanation: %q", verdict.Explanation)
	}
}

func TestVerifyResultToleratesSurroundingProse(t *testing.T) {
	t.Parallel()

	model := &fakeModel{responses: []string{"Here is my judgment:\n{\"success\": true, \"explanation\": \"ok\"}\nThanks."}}
	client := NewWithModel(model, time.Millisecond)

	verdict, err := client.VerifyResult(context.Background(), &types.Step{Number: 1, Description: "List files"}, types.ExecutionResult{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !verdict.Success {
		t.Fatalf("expected success verdict")
	}
}

func TestGenerateCommandStripsFences(t *testing.T) {
	t.Parallel()

	model := &fakeModel{responses: []string{"```sh\nls -la ~/Documents\n```"}}
	client := NewWithModel(model, time.Millisecond)

	command, err := client.GenerateCommand(context.Background(), "list the documents folder", nil)
	if err != nil {
		t.Fatalf("generate command: %v", err)
	}
	if command != "ls -la ~/Documents" {
		t.Fatalf("fence not stripped: %q", command)
	}
}

func TestGenerateCommandIncludesEntities(t *testing.T) {
	t.Parallel()

	model := &fakeModel{responses: []string{"open -a Safari"}}
	client := NewWithModel(model, time.Millisecond)

	if _, err := client.GenerateCommand(context.Background(), "open the browser", map[string]string{"app": "Safari"}); err != nil {
		t.Fatalf("generate command: %v", err)
	}
	prompt := strings.Join(model.prompts, "\n")
	if !strings.Contains(prompt, "app = Safari") {
		t.Fatalf("entities missing from prompt: %q", prompt)
	}
}
