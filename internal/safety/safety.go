// SPDX-License-Identifier: AGPL-3.0-or-later

// Package safety classifies literal command strings as risky or safe against
// a rule set loaded once at startup. Assessment is deterministic and
// side-effect-free; a compiled Checker is safe for concurrent use.
package safety

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/assistd-org/assistd/internal/types"
)

// Rule is one configured danger pattern with its human-readable rationale.
type Rule struct {
	Pattern     string `yaml:"pattern" json:"pattern"`
	Description string `yaml:"description" json:"description"`
}

// Blacklisted is an exact command string that is always flagged, independent
// of the pattern rules.
type Blacklisted struct {
	Command     string `yaml:"command" json:"command"`
	Description string `yaml:"description" json:"description"`
}

type compiledRule struct {
	rule Rule
	re   *regexp.Regexp
}

// Checker holds an immutable, pre-compiled rule set. Malformed patterns are
// rejected when the Checker is built, never during assessment.
type Checker struct {
	rules     []compiledRule
	blacklist []Blacklisted
}

// NewChecker compiles the supplied rules into a Checker. The first
// uncompilable pattern aborts construction.
func NewChecker(rules []Rule, blacklist []Blacklisted) (*Checker, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if strings.TrimSpace(r.Pattern) == "" {
			return nil, fmt.Errorf("safety rule %q: empty pattern", r.Description)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("safety rule %q: %w", r.Pattern, err)
		}
		compiled = append(compiled, compiledRule{rule: r, re: re})
	}
	cleaned := make([]Blacklisted, 0, len(blacklist))
	for _, b := range blacklist {
		cmd := strings.TrimSpace(b.Command)
		if cmd == "" {
			continue
		}
		cleaned = append(cleaned, Blacklisted{Command: cmd, Description: b.Description})
	}
	return &Checker{rules: compiled, blacklist: cleaned}, nil
}

// Rules returns the configured pattern rules in order.
func (c *Checker) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	for i, cr := range c.rules {
		out[i] = cr.rule
	}
	return out
}

// Assess classifies the command. Every matching rule is reported, not just
// the first, so the UI can show the full rationale. An empty command string
// is never risky.
func (c *Checker) Assess(cmd types.Command) types.RiskAssessment {
	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		return types.RiskAssessment{}
	}

	var matches []types.RuleMatch
	for _, b := range c.blacklist {
		if text == b.Command {
			desc := b.Description
			if desc == "" {
				desc = "This command is blacklisted as it can cause serious system damage."
			}
			matches = append(matches, types.RuleMatch{Pattern: b.Command, Description: desc})
		}
	}
	for _, cr := range c.rules {
		if cr.re.MatchString(cmd.Text) {
			matches = append(matches, types.RuleMatch{
				Pattern:     cr.rule.Pattern,
				Description: cr.rule.Description,
			})
		}
	}
	return types.RiskAssessment{Risky: len(matches) > 0, Matches: matches}
}
