// Package rulefile is a YAML file-per-rule repository (§6.3): one
// AutomationRule is stored as one `<id>.yaml` file inside a rules
// directory.
package rulefile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ottoengine/ottoengine/internal/ottoerr"
	"github.com/ottoengine/ottoengine/internal/rules/domain"
	"gopkg.in/yaml.v3"
)

const fileExtension = ".yaml"

// Repository lists, loads, saves and deletes AutomationRules persisted
// under Dir, one file per rule.
type Repository struct {
	Dir string
}

// New creates a Repository rooted at dir.
func New(dir string) *Repository {
	return &Repository{Dir: dir}
}

// List loads every rule file in the directory. A rule that fails to parse
// is skipped and reported as a RuleLoadError in errs; loading continues.
func (r *Repository) List() (rules []domain.AutomationRule, errs []error) {
	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		return nil, []error{fmt.Errorf("rulefile: reading directory %s: %w", r.Dir, err)}
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExtension) {
			continue
		}
		path := filepath.Join(r.Dir, entry.Name())
		rule, err := r.loadFile(path)
		if err != nil {
			errs = append(errs, &ottoerr.RuleLoadError{
				RuleID: strings.TrimSuffix(entry.Name(), fileExtension),
				Path:   path,
				Cause:  err,
			})
			continue
		}
		rules = append(rules, rule)
	}
	return rules, errs
}

// Load reads one rule by id.
func (r *Repository) Load(id string) (domain.AutomationRule, error) {
	rule, err := r.loadFile(r.path(id))
	if err != nil {
		return domain.AutomationRule{}, &ottoerr.RuleLoadError{RuleID: id, Path: r.path(id), Cause: err}
	}
	return rule, nil
}

func (r *Repository) loadFile(path string) (domain.AutomationRule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.AutomationRule{}, err
	}
	var rule domain.AutomationRule
	if err := yaml.Unmarshal(raw, &rule); err != nil {
		return domain.AutomationRule{}, err
	}
	return rule, nil
}

// Save overwrites the rule's file, keyed by its own ID (not the caller's
// requested path), per §6.2's "descriptor's own id wins over path".
func (r *Repository) Save(rule domain.AutomationRule) error {
	raw, err := yaml.Marshal(rule)
	if err != nil {
		return fmt.Errorf("rulefile: marshaling rule %s: %w", rule.ID, err)
	}
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return fmt.Errorf("rulefile: creating directory %s: %w", r.Dir, err)
	}
	if err := os.WriteFile(r.path(rule.ID), raw, 0o644); err != nil {
		return fmt.Errorf("rulefile: writing rule %s: %w", rule.ID, err)
	}
	return nil
}

// Delete removes a rule's file. It reports whether the file existed.
func (r *Repository) Delete(id string) (existed bool, err error) {
	err = os.Remove(r.path(id))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("rulefile: deleting rule %s: %w", id, err)
	}
	return true, nil
}

func (r *Repository) path(id string) string {
	return filepath.Join(r.Dir, id+fileExtension)
}
