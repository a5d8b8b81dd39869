// Package validator checks test configurations before execution.
// It parses every file upfront and reports every problem it finds, so a
// run never starts with a configuration that could only fail.
package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/devicelab-dev/visual-runner/pkg/config"
	"github.com/devicelab-dev/visual-runner/pkg/data"
	"github.com/devicelab-dev/visual-runner/pkg/flow"
	"github.com/devicelab-dev/visual-runner/pkg/interpreter"
)

// ValidationError represents a validation error with context.
type ValidationError struct {
	File    string
	Line    int
	Message string
}

func (e *ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

// Result contains the validation result.
type Result struct {
	// Configs are the configurations that passed the tag filter, in run order.
	Configs []*flow.TestConfig
	// Units is the number of run units the configs fan out to.
	Units int
	// Errors contains all validation errors found.
	Errors []error
}

// IsValid returns true if there are no validation errors.
func (r *Result) IsValid() bool {
	return len(r.Errors) == 0
}

func (r *Result) addf(file string, line int, format string, args ...interface{}) {
	r.Errors = append(r.Errors, &ValidationError{File: file, Line: line, Message: fmt.Sprintf(format, args...)})
}

// ActionSet reports whether an action name is registered.
type ActionSet interface {
	Has(name string) bool
}

// Validator validates configuration files.
type Validator struct {
	Templates   flow.TemplateStore
	Actions     ActionSet // nil skips the action check
	Env         config.Env
	Data        data.Source // nil uses local files
	IncludeTags []string
	ExcludeTags []string
}

// Validate validates the configurations in the given files or directories.
func (v *Validator) Validate(paths ...string) *Result {
	result := &Result{}

	var files []string
	for _, p := range paths {
		found, err := collectFiles(p)
		if err != nil {
			result.addf(p, 0, "cannot access: %v", err)
			continue
		}
		files = append(files, found...)
	}
	sort.Strings(files)

	var configs []*flow.TestConfig
	for _, file := range files {
		parsed, err := flow.ParseConfigFile(file)
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		configs = append(configs, parsed...)
	}

	filter, err := flow.NewTagFilter(v.IncludeTags, v.ExcludeTags)
	if err != nil {
		result.addf("tags", 0, "%v", err)
		return result
	}
	var selected []*flow.TestConfig
	for _, cfg := range configs {
		if filter.Match(cfg.Tags) {
			selected = append(selected, cfg)
		}
	}

	v.check(selected, result)
	return result
}

// ValidateConfigs validates already parsed configurations.
func (v *Validator) ValidateConfigs(configs []*flow.TestConfig) *Result {
	result := &Result{}
	v.check(configs, result)
	return result
}

func (v *Validator) check(configs []*flow.TestConfig, result *Result) {
	seen := make(map[string]string)
	checkedTemplates := make(map[string]bool)

	for _, cfg := range configs {
		result.Configs = append(result.Configs, cfg)

		if prev, dup := seen[cfg.ID]; dup {
			result.addf(cfg.SourcePath, 0, "duplicate config id %q (also in %s)", cfg.ID, prev)
		}
		seen[cfg.ID] = cfg.SourcePath

		if err := cfg.Validate(); err != nil {
			result.addf(cfg.SourcePath, 0, "config %s: %v", cfg.ID, err)
			continue
		}

		for _, id := range cfg.TemplateIDs() {
			tpl, ok := v.Templates.Get(id)
			if !ok {
				result.addf(cfg.SourcePath, 0, "config %s: template %q not found", cfg.ID, id)
				continue
			}
			if !checkedTemplates[id] {
				checkedTemplates[id] = true
				v.checkTemplate(tpl, result)
			}
		}

		rows, err := v.loadRows(cfg)
		if err != nil {
			result.addf(cfg.SourcePath, 0, "config %s: data %s: %v", cfg.ID, cfg.Data, err)
			continue
		}
		result.Units += rows
	}
}

func (v *Validator) checkTemplate(tpl *flow.Template, result *Result) {
	for _, step := range tpl.Steps {
		if v.Actions != nil && !v.Actions.Has(step.Action) {
			result.addf(tpl.SourcePath, step.Line, "template %s: unknown action %q", tpl.ID, step.Action)
		}
		for _, name := range v.undefinedEnv(step.Params) {
			result.addf(tpl.SourcePath, step.Line, "template %s: environment variable %q is not defined", tpl.ID, name)
		}
	}
}

// undefinedEnv returns the {{env.NAME}} references in values that the
// environment snapshot does not define, without repeats.
func (v *Validator) undefinedEnv(values []string) []string {
	var missing []string
	reported := make(map[string]bool)
	for _, value := range values {
		for _, name := range interpreter.EnvReferences(value) {
			if _, ok := v.Env.Lookup(name); ok || reported[name] {
				continue
			}
			reported[name] = true
			missing = append(missing, name)
		}
	}
	return missing
}

// loadRows returns how many rows cfg fans out to.
func (v *Validator) loadRows(cfg *flow.TestConfig) (int, error) {
	if cfg.Data == "" {
		return 1, nil
	}
	ref := cfg.Data
	if cfg.SourcePath != "" && !filepath.IsAbs(ref) {
		ref = filepath.Join(filepath.Dir(cfg.SourcePath), ref)
	}
	var source data.Source = data.FileSource{}
	if v.Data != nil {
		source = v.Data
	}
	rows, err := source.LoadRows(ref)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// collectFiles returns path itself, or every .yaml/.yml file under it.
func collectFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(p))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}
