// SPDX-License-Identifier: AGPL-3.0-or-later

// Package llm turns task requests into executable plans and judges execution
// results, backed by an OpenAI-compatible chat model.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/assistd-org/assistd/internal/types"
)

// Config selects the provider endpoint and model.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string

	// RetryBackoff is the pause before the single retry of a failed
	// provider call. Zero means the default of two seconds.
	RetryBackoff time.Duration
}

// Client generates, revises and verifies plans. All methods wrap provider
// failures in *ProviderError after one retry.
type Client struct {
	model   llms.Model
	backoff time.Duration
}

// New builds a client over the OpenAI-compatible endpoint in cfg.
func New(cfg Config) (*Client, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
	}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("init llm provider: %w", err)
	}
	return NewWithModel(model, cfg.RetryBackoff), nil
}

// NewWithModel wires an already-constructed model, used by tests and by
// callers that bring their own provider.
func NewWithModel(model llms.Model, backoff time.Duration) *Client {
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return &Client{model: model, backoff: backoff}
}

// GeneratePlan asks the model for a fresh plan for the task request. The
// returned plan is in pending_review and has not been safety-checked.
func (c *Client) GeneratePlan(ctx context.Context, request string) (*types.Plan, error) {
	response, err := c.generate(ctx, "generate plan", planSystemPrompt, "TASK: "+request)
	if err != nil {
		return nil, err
	}
	steps, err := parsePlanSteps(response)
	if err != nil {
		return nil, &ProviderError{Op: "generate plan", Err: err}
	}
	now := time.Now().UTC()
	plan := &types.Plan{
		ID:        uuid.NewString(),
		Request:   request,
		Steps:     steps,
		Status:    types.PlanPendingReview,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := plan.Validate(); err != nil {
		return nil, &ProviderError{Op: "generate plan", Err: err}
	}
	return plan, nil
}

// RevisePlan asks the model for a replacement plan given the prior plan,
// per-step results and the user's feedback. The new plan records its lineage
// and the model's revision summary.
func (c *Client) RevisePlan(ctx context.Context, prior *types.Plan, feedback string) (*types.Plan, error) {
	user := reviseUserPrompt(prior, feedback)
	response, err := c.generate(ctx, "revise plan", reviseSystemPrompt, user)
	if err != nil {
		return nil, err
	}
	steps, err := parsePlanSteps(response)
	if err != nil {
		return nil, &ProviderError{Op: "revise plan", Err: err}
	}
	now := time.Now().UTC()
	plan := &types.Plan{
		ID:              uuid.NewString(),
		Request:         prior.Request,
		Steps:           steps,
		Status:          types.PlanPendingReview,
		RevisionOf:      prior.ID,
		RevisionSummary: parseRevisionSummary(response),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := plan.Validate(); err != nil {
		return nil, &ProviderError{Op: "revise plan", Err: err}
	}
	return plan, nil
}

// VerifyResult asks the model to judge whether a step's execution output
// satisfied its description.
func (c *Client) VerifyResult(ctx context.Context, step *types.Step, result types.ExecutionResult) (types.Verification, error) {
	var user strings.Builder
	fmt.Fprintf(&user, "STEP: %s\n", step.Description)
	if step.Command != nil {
		fmt.Fprintf(&user, "COMMAND: %s\n", step.Command.Text)
	}
	fmt.Fprintf(&user, "EXIT CODE: %d\nSTDOUT:\n%s\nSTDERR:\n%s\n", result.ExitCode, result.Stdout, result.Stderr)

	response, err := c.generate(ctx, "verify result", verifySystemPrompt, user.String())
	if err != nil {
		return types.Verification{}, err
	}
	verdict, err := parseVerification(response)
	if err != nil {
		return types.Verification{}, &ProviderError{Op: "verify result", Err: err}
	}
	return verdict, nil
}

// GenerateCommand translates one step description into a single command.
// It satisfies the command generator's fallback interface.
func (c *Client) GenerateCommand(ctx context.Context, description string, entities map[string]string) (string, error) {
	var user strings.Builder
	fmt.Fprintf(&user, "STEP: %s\n", description)
	if len(entities) > 0 {
		user.WriteString("KNOWN ENTITIES:\n")
		for name, value := range entities {
			fmt.Fprintf(&user, "  %s = %s\n", name, value)
		}
	}
	response, err := c.generate(ctx, "generate command", commandSystemPrompt, user.String())
	if err != nil {
		return "", err
	}
	command := stripCodeFence(response)
	if command == "" {
		return "", &ProviderError{Op: "generate command", Err: fmt.Errorf("empty command in response")}
	}
	return command, nil
}

// generate runs one chat completion, retrying once after backoff. Both
// failures are folded into the returned *ProviderError.
func (c *Client) generate(ctx context.Context, op, system, user string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, system),
		llms.TextParts(schema.ChatMessageTypeHuman, user),
	}

	text, firstErr := c.callOnce(ctx, messages)
	if firstErr == nil {
		return text, nil
	}

	select {
	case <-ctx.Done():
		return "", &ProviderError{Op: op, Err: ctx.Err()}
	case <-time.After(c.backoff):
	}

	text, retryErr := c.callOnce(ctx, messages)
	if retryErr == nil {
		return text, nil
	}
	return "", &ProviderError{Op: op, Err: fmt.Errorf("%v (retry: %w)", firstErr, retryErr)}
}

func (c *Client) callOnce(ctx context.Context, messages []llms.MessageContent) (string, error) {
	resp, err := c.model.GenerateContent(ctx, messages)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	content := strings.TrimSpace(resp.Choices[0].Content)
	if content == "" {
		return "", fmt.Errorf("empty response")
	}
	return content, nil
}

// reviseUserPrompt lays out the prior plan with its observed results so the
// model can see what happened before revising.
func reviseUserPrompt(prior *types.Plan, feedback string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ORIGINAL TASK: %s\n\nORIGINAL PLAN:\n", prior.Request)
	for _, step := range prior.Steps {
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
		fmt.Fprintf(&b, "STATUS: %s\n", step.Status)
		if step.ExitCode != nil {
			fmt.Fprintf(&b, "EXIT CODE: %d\n", *step.ExitCode)
		}
		if step.Stdout != "" {
			fmt.Fprintf(&b, "STDOUT: %s\n", step.Stdout)
		}
		if step.Stderr != "" {
			fmt.Fprintf(&b, "STDERR: %s\n", step.Stderr)
		}
		if step.Feedback != "" {
			fmt.Fprintf(&b, "STEP FEEDBACK: %s\n", step.Feedback)
		}
		b.WriteString("\n")
	}
	if feedback != "" {
		fmt.Fprintf(&b, "USER FEEDBACK: %s\n", feedback)
	}
	return b.String()
}

// parseVerification extracts the JSON verdict object, tolerating surrounding
// prose the model occasionally adds.
func parseVerification(response string) (types.Verification, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return types.Verification{}, fmt.Errorf("no JSON object in verification response")
	}
	var verdict types.Verification
	if err := json.Unmarshal([]byte(response[start:end+1]), &verdict); err != nil {
		return types.Verification{}, fmt.Errorf("decode verification: %w", err)
	}
	return verdict, nil
}
