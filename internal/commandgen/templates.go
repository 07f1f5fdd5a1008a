// SPDX-License-Identifier: AGPL-3.0-or-later
package commandgen

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	yaml "gopkg.in/yaml.v3"

	"github.com/assistd-org/assistd/internal/types"
)

const (
	envTemplatesFile     = "ASSISTD_TEMPLATES_FILE"
	defaultTemplatesFile = "assistd.templates.yaml"
)

// ExactTemplate maps a curated phrase to a fixed command.
type ExactTemplate struct {
	Phrase  string `yaml:"phrase"`
	Command string `yaml:"command"`
	Kind    string `yaml:"kind,omitempty"`
}

// KeywordTemplate matches when every keyword appears in the step description.
// Placeholders in Command are filled from Extractors, regexes run against the
// original description whose first capture group yields the entity value.
type KeywordTemplate struct {
	Keywords   []string          `yaml:"keywords"`
	Command    string            `yaml:"command"`
	Kind       string            `yaml:"kind,omitempty"`
	Extractors map[string]string `yaml:"extractors,omitempty"`
}

// File is the on-disk template table schema, an externally editable data file.
type File struct {
	Exact    []ExactTemplate   `yaml:"exact,omitempty"`
	Keywords []KeywordTemplate `yaml:"keywords,omitempty"`
}

type compiledKeyword struct {
	keywords   []string
	command    string
	kind       types.CommandKind
	extractors map[string]*regexp.Regexp
}

// Table holds the compiled template set. Extractor regexes are compiled when
// the table is built; a malformed extractor fails the load, not a later call.
type Table struct {
	exact    map[string]ExactTemplate
	keywords []compiledKeyword
}

// NewTable compiles the supplied template file into a lookup table.
func NewTable(f File) (*Table, error) {
	t := &Table{exact: make(map[string]ExactTemplate, len(f.Exact))}
	for _, e := range f.Exact {
		phrase := strings.ToLower(strings.TrimSpace(e.Phrase))
		if phrase == "" || strings.TrimSpace(e.Command) == "" {
			return nil, fmt.Errorf("exact template %q: phrase and command are required", e.Phrase)
		}
		if _, err := parseKind(e.Kind); err != nil {
			return nil, fmt.Errorf("exact template %q: %w", e.Phrase, err)
		}
		t.exact[phrase] = e
	}
	for i, k := range f.Keywords {
		if len(k.Keywords) == 0 || strings.TrimSpace(k.Command) == "" {
			return nil, fmt.Errorf("keyword template %d: keywords and command are required", i)
		}
		kind, err := parseKind(k.Kind)
		if err != nil {
			return nil, fmt.Errorf("keyword template %d: %w", i, err)
		}
		ck := compiledKeyword{
			command:    k.Command,
			kind:       kind,
			extractors: make(map[string]*regexp.Regexp, len(k.Extractors)),
		}
		for _, kw := range k.Keywords {
			ck.keywords = append(ck.keywords, strings.ToLower(strings.TrimSpace(kw)))
		}
		for name, pattern := range k.Extractors {
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				return nil, fmt.Errorf("keyword template %d extractor %q: %w", i, name, err)
			}
			if re.NumSubexp() < 1 {
				return nil, fmt.Errorf("keyword template %d extractor %q: needs a capture group", i, name)
			}
			ck.extractors[name] = re
		}
		t.keywords = append(t.keywords, ck)
	}
	return t, nil
}

func parseKind(kind string) (types.CommandKind, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "shell":
		return types.CommandShell, nil
	case "applescript":
		return types.CommandAppleScript, nil
	default:
		return "", fmt.Errorf("unknown command kind %q", kind)
	}
}

// LoadFile reads and compiles a template table from the given path.
func LoadFile(path string) (*Table, error) {
	if path == "" {
		return nil, errors.New("missing templates file path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse templates file: %w", err)
	}
	table, err := NewTable(f)
	if err != nil {
		return nil, fmt.Errorf("compile templates file %s: %w", path, err)
	}
	return table, nil
}

// LoadFromEnvOrDefault loads the template table from ASSISTD_TEMPLATES_FILE,
// falling back to ./assistd.templates.yaml and ./configs/assistd.templates.yaml.
// A missing table is not an error; generation then always delegates to the
// LLM fallback.
func LoadFromEnvOrDefault() (*Table, string, error) {
	path := os.Getenv(envTemplatesFile)
	if path == "" {
		for _, candidate := range []string{
			filepath.Clean(defaultTemplatesFile),
			filepath.Join("configs", defaultTemplatesFile),
		} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path == "" {
		table, _ := NewTable(File{})
		return table, "", nil
	}
	table, err := LoadFile(path)
	return table, path, err
}
