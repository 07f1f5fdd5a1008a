package safety

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/assistd-org/assistd/internal/types"
)

func testChecker(t *testing.T) *Checker {
	t.Helper()
	checker, err := NewChecker(
		[]Rule{
			{Pattern: `rm\s+-rf`, Description: "Recursive force deletion can permanently delete files without confirmation."},
			{Pattern: `\bsudo\b`, Description: "Runs with superuser privileges."},
			{Pattern: `\bshutdown\b|\breboot\b|\bhalt\b`, Description: "Shuts down or restarts the system."},
			{Pattern: `chmod\s+[0-7]*7[0-7]*\s`, Description: "World-writable permission change."},
		},
		[]Blacklisted{
			{Command: "rm -rf /", Description: "Destroys the entire filesystem."},
			{Command: ":(){ :|:& };:", Description: "Fork bomb."},
		},
	)
	if err != nil {
		t.Fatalf("build checker: %v", err)
	}
	return checker
}

func TestAssessSafeCommand(t *testing.T) {
	t.Parallel()

	checker := testChecker(t)
	got := checker.Assess(types.Command{Kind: types.CommandShell, Text: "df -h"})
	if got.Risky || len(got.Matches) != 0 {
		t.Fatalf("df -h must be safe, got %#v", got)
	}
}

func TestAssessEmptyCommandNeverRisky(t *testing.T) {
	t.Parallel()

	checker := testChecker(t)
	for _, text := range []string{"", "   ", "\n\t"} {
		if got := checker.Assess(types.Command{Text: text}); got.Risky {
			t.Fatalf("empty command %q flagged risky", text)
		}
	}
}

func TestAssessReportsAllMatchingRules(t *testing.T) {
	t.Parallel()

	checker := testChecker(t)
	got := checker.Assess(types.Command{Kind: types.CommandShell, Text: "sudo rm -rf /var/tmp/build"})
	if !got.Risky {
		t.Fatalf("expected risky")
	}
	if len(got.Matches) != 2 {
		t.Fatalf("expected both rm -rf and sudo rules to report, got %#v", got.Matches)
	}
}

func TestAssessBlacklistExactMatch(t *testing.T) {
	t.Parallel()

	checker := testChecker(t)
	got := checker.Assess(types.Command{Kind: types.CommandShell, Text: "  rm -rf /  "})
	if !got.Risky {
		t.Fatalf("blacklisted command must be risky")
	}
	// Blacklist entry plus the rm -rf pattern rule.
	if len(got.Matches) < 2 {
		t.Fatalf("expected blacklist and pattern matches, got %#v", got.Matches)
	}
	if got.Matches[0].Description != "Destroys the entire filesystem." {
		t.Fatalf("blacklist rationale must be reported first, got %#v", got.Matches[0])
	}
}

func TestAssessIsDeterministic(t *testing.T) {
	t.Parallel()

	checker := testChecker(t)
	cmd := types.Command{Kind: types.CommandShell, Text: "sudo shutdown -h now"}
	first := checker.Assess(cmd)
	for i := 0; i < 10; i++ {
		if got := checker.Assess(cmd); !reflect.DeepEqual(first, got) {
			t.Fatalf("assessment differed on repeat %d: %#v vs %#v", i, first, got)
		}
	}
}

func TestNewCheckerRejectsMalformedPattern(t *testing.T) {
	t.Parallel()

	_, err := NewChecker([]Rule{{Pattern: `rm\s+(-rf`, Description: "broken"}}, nil)
	if err == nil {
		t.Fatalf("expected compile error at load time")
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := `patterns:
  - pattern: 'rm\s+-rf'
    description: "Recursive force deletion."
  - pattern: '\bdd\b'
    description: "Raw disk writes."
blacklist:
  - command: "rm -rf /"
    description: "Destroys the filesystem."
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	checker, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load rules: %v", err)
	}
	if len(checker.Rules()) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(checker.Rules()))
	}
	got := checker.Assess(types.Command{Text: "dd if=/dev/zero of=/dev/disk0"})
	if !got.Risky {
		t.Fatalf("expected dd rule to match")
	}
}

func TestLoadFileRejectsBadPattern(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := "patterns:\n  - pattern: '['\n    description: broken\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected error for uncompilable custom pattern")
	}
}

func TestLoadFileRejectsEmptySet(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte("patterns: []\n"), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected error for empty rule set")
	}
}

func TestShippedRuleSet(t *testing.T) {
	t.Parallel()

	checker, err := LoadFile(filepath.Join("..", "..", "configs", "assistd.rules.yaml"))
	if err != nil {
		t.Fatalf("load shipped rules: %v", err)
	}

	risky := checker.Assess(types.Command{Kind: types.CommandShell, Text: "sudo rm -rf /tmp/build"})
	if !risky.Risky || len(risky.Matches) < 2 {
		t.Fatalf("expected sudo and rm -rf matches, got %+v", risky)
	}
	if safe := checker.Assess(types.Command{Kind: types.CommandShell, Text: "df -h"}); safe.Risky {
		t.Fatalf("df -h flagged risky: %+v", safe)
	}
}
