package autonomy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule pins a fixed decision level for one action, overriding the
// risk-derived default. Rules are authored by the operator as YAML.
type Rule struct {
	Action string `yaml:"action"`
	Level  Level  `yaml:"level"`
	Note   string `yaml:"note,omitempty"`
}

// Validate checks that the rule names a real level and an action.
func (r Rule) Validate() error {
	if r.Action == "" {
		return errors.New("rule missing action")
	}
	switch r.Level {
	case LevelAutoApprove, LevelAnnounce, LevelConfirmSimple, LevelConfirmDetail, LevelDeny:
		return nil
	}
	return fmt.Errorf("rule for %s has unknown level %q", r.Action, r.Level)
}

// ruleFile is the YAML document shape: a list of rules.
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRulesFromDirectory reads all .yaml/.yml files from a directory.
// A missing directory returns an empty slice, not an error.
func LoadRulesFromDirectory(dir string) ([]Rule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read rules directory %s: %w", dir, err)
	}

	var rules []Rule
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path) //nolint:gosec // G304: operator-controlled directory
		if err != nil {
			return nil, fmt.Errorf("read rules file %s: %w", path, err)
		}

		var f ruleFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse rules file %s: %w", path, err)
		}
		for _, r := range f.Rules {
			if err := r.Validate(); err != nil {
				return nil, fmt.Errorf("validate rules file %s: %w", path, err)
			}
			rules = append(rules, r)
		}
	}
	return rules, nil
}
