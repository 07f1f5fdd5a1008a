// SPDX-License-Identifier: AGPL-3.0-or-later
package safety

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	yaml "gopkg.in/yaml.v3"
)

const (
	envRulesFile     = "ASSISTD_RULES_FILE"
	defaultRulesFile = "assistd.rules.yaml"
)

// File is the on-disk rule set schema. Operators extend the set by editing
// the data file; no code change is involved.
type File struct {
	Patterns  []Rule        `yaml:"patterns"`
	Blacklist []Blacklisted `yaml:"blacklist,omitempty"`
}

// LoadFile reads and compiles a rule set from the given path. Compilation
// failures surface here, at startup, rather than per assessment.
func LoadFile(path string) (*Checker, error) {
	if path == "" {
		return nil, errors.New("missing rules file path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	if len(f.Patterns) == 0 && len(f.Blacklist) == 0 {
		return nil, fmt.Errorf("rules file %s defines no patterns", path)
	}
	checker, err := NewChecker(f.Patterns, f.Blacklist)
	if err != nil {
		return nil, fmt.Errorf("compile rules file %s: %w", path, err)
	}
	return checker, nil
}

// LoadFromEnvOrDefault loads the rule set from ASSISTD_RULES_FILE, falling
// back to ./assistd.rules.yaml and then ./configs/assistd.rules.yaml.
func LoadFromEnvOrDefault() (*Checker, string, error) {
	path := os.Getenv(envRulesFile)
	if path == "" {
		for _, candidate := range []string{
			filepath.Clean(defaultRulesFile),
			filepath.Join("configs", defaultRulesFile),
		} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path == "" {
		return nil, "", fmt.Errorf("no rules file found; set %s or provide %s", envRulesFile, defaultRulesFile)
	}
	checker, err := LoadFile(path)
	return checker, path, err
}
