// SPDX-License-Identifier: AGPL-3.0-or-later

// Package commandgen resolves a plan step's intent into a concrete shell or
// AppleScript command. Resolution prefers the curated template table and only
// falls back to the LLM when no template applies.
package commandgen

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	shellquote "github.com/kballard/go-shellquote"

	"github.com/assistd-org/assistd/internal/types"
)

// placeholderPattern matches unresolved brace-delimited tokens. A generated
// command containing one must never leave this package.
var placeholderPattern = regexp.MustCompile(`\{[A-Za-z_][A-Za-z0-9_]*\}`)

// MissingEntityError reports a required placeholder that could not be
// resolved from the step description or prior entity context.
type MissingEntityError struct {
	Placeholder string
	Description string
}

func (e *MissingEntityError) Error() string {
	return fmt.Sprintf("missing entity %q for step %q", e.Placeholder, e.Description)
}

// Fallback produces a command for descriptions no template covers. The LLM
// integration implements this; tests substitute fakes.
type Fallback interface {
	GenerateCommand(ctx context.Context, description string, entities map[string]string) (string, error)
}

// Generator maps step descriptions to commands via the template table and
// the optional fallback.
type Generator struct {
	table    *Table
	fallback Fallback
}

// New returns a Generator over the supplied table. fallback may be nil, in
// which case uncovered descriptions fail.
func New(table *Table, fallback Fallback) *Generator {
	if table == nil {
		table, _ = NewTable(File{})
	}
	return &Generator{table: table, fallback: fallback}
}

// Generate resolves a command for the step description. Order: exact phrase
// match, keyword template with entity extraction, LLM fallback. Every path
// yields a fully substituted command or an error; a partially substituted
// string is never returned.
func (g *Generator) Generate(ctx context.Context, description string, prior map[string]string) (types.Command, error) {
	if cmd, ok := g.exact(description); ok {
		return cmd, nil
	}
	if cmd, ok, err := g.keyword(description, prior); ok || err != nil {
		return cmd, err
	}
	return g.delegate(ctx, description, prior)
}

func (g *Generator) exact(description string) (types.Command, bool) {
	tpl, ok := g.table.exact[strings.ToLower(strings.TrimSpace(description))]
	if !ok {
		return types.Command{}, false
	}
	kind, _ := parseKind(tpl.Kind)
	return types.Command{
		ID:   uuid.NewString(),
		Kind: kind,
		Text: tpl.Command,
	}, true
}

func (g *Generator) keyword(description string, prior map[string]string) (types.Command, bool, error) {
	lowered := strings.ToLower(description)
	for _, tpl := range g.table.keywords {
		if !matchesAll(lowered, tpl.keywords) {
			continue
		}
		entities := make(map[string]string)
		text := tpl.command
		for _, placeholder := range placeholders(tpl.command) {
			value, ok := extractEntity(tpl, placeholder, description, prior)
			if !ok {
				return types.Command{}, true, &MissingEntityError{Placeholder: placeholder, Description: description}
			}
			entities[placeholder] = value
			text = strings.ReplaceAll(text, "{"+placeholder+"}", quoteEntity(tpl.kind, value))
		}
		return types.Command{
			ID:       uuid.NewString(),
			Kind:     tpl.kind,
			Text:     text,
			Entities: entities,
		}, true, nil
	}
	return types.Command{}, false, nil
}

func (g *Generator) delegate(ctx context.Context, description string, prior map[string]string) (types.Command, error) {
	if g.fallback == nil {
		return types.Command{}, fmt.Errorf("no template matches %q and no fallback is configured", description)
	}
	text, err := g.fallback.GenerateCommand(ctx, description, prior)
	if err != nil {
		return types.Command{}, fmt.Errorf("fallback generation: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return types.Command{}, fmt.Errorf("fallback produced an empty command for %q", description)
	}
	if tokens := placeholderPattern.FindAllString(text, -1); len(tokens) > 0 {
		return types.Command{}, &MissingEntityError{
			Placeholder: strings.Trim(tokens[0], "{}"),
			Description: description,
		}
	}
	entities := make(map[string]string, len(prior))
	for k, v := range prior {
		entities[k] = v
	}
	return types.Command{
		ID:       uuid.NewString(),
		Kind:     detectKind(text),
		Text:     text,
		Entities: entities,
	}, nil
}

func matchesAll(lowered string, keywords []string) bool {
	for _, kw := range keywords {
		if !strings.Contains(lowered, kw) {
			return false
		}
	}
	return len(keywords) > 0
}

func placeholders(command string) []string {
	tokens := placeholderPattern.FindAllString(command, -1)
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		name := strings.Trim(tok, "{}")
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func extractEntity(tpl compiledKeyword, placeholder, description string, prior map[string]string) (string, bool) {
	if re, ok := tpl.extractors[placeholder]; ok {
		if m := re.FindStringSubmatch(description); m != nil && strings.TrimSpace(m[1]) != "" {
			return strings.TrimSpace(m[1]), true
		}
	}
	if value, ok := prior[placeholder]; ok && strings.TrimSpace(value) != "" {
		return value, true
	}
	return "", false
}

// quoteEntity inserts an extracted value as a literal. Shell commands go
// through shellquote so metacharacters in entity text are never re-evaluated
// by the interpreter; AppleScript values get their quotes escaped.
func quoteEntity(kind types.CommandKind, value string) string {
	if kind == types.CommandAppleScript {
		return strings.ReplaceAll(value, `"`, `\"`)
	}
	return shellquote.Join(value)
}

// detectKind mirrors the execution engine's dispatch: AppleScript sources
// start with a tell block or an explicit osascript invocation.
func detectKind(text string) types.CommandKind {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "tell application") {
		return types.CommandAppleScript
	}
	return types.CommandShell
}
