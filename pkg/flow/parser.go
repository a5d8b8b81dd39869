package flow

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/visual-runner/pkg/logger"
)

// ParseError represents a parsing error with location info.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ParseConfigFile parses a test configuration file. A file holds either one
// configuration mapping or a list of them.
func ParseConfigFile(path string) ([]*TestConfig, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path is user-provided config file
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return ParseConfigs(data, path)
}

// ParseConfigs parses configuration YAML content.
func ParseConfigs(data []byte, sourcePath string) ([]*TestConfig, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ParseError{Path: sourcePath, Line: 1, Message: "empty config file"}
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &ParseError{Path: sourcePath, Message: err.Error()}
	}
	doc := &root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		doc = doc.Content[0]
	}

	var configs []*TestConfig
	switch doc.Kind {
	case yaml.SequenceNode:
		if err := doc.Decode(&configs); err != nil {
			return nil, &ParseError{Path: sourcePath, Line: doc.Line, Message: err.Error()}
		}
	case yaml.MappingNode:
		var cfg TestConfig
		if err := doc.Decode(&cfg); err != nil {
			return nil, &ParseError{Path: sourcePath, Line: doc.Line, Message: err.Error()}
		}
		configs = append(configs, &cfg)
	default:
		return nil, &ParseError{Path: sourcePath, Line: doc.Line, Message: "expected a mapping or a list of configurations"}
	}

	for i, cfg := range configs {
		cfg.SourcePath = sourcePath
		if cfg.ID == "" && len(configs) == 1 {
			cfg.ID = baseName(sourcePath)
		}
		if cfg.ID == "" {
			cfg.ID = fmt.Sprintf("%s-%d", baseName(sourcePath), i+1)
		}
	}
	return configs, nil
}

// ParseTemplateFile parses a step template file.
func ParseTemplateFile(path string) (*Template, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path is inside the templates directory
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return ParseTemplate(data, path)
}

// ParseTemplate parses template YAML content. The ID defaults to the file name.
func ParseTemplate(data []byte, sourcePath string) (*Template, error) {
	var tpl Template
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return nil, &ParseError{Path: sourcePath, Message: err.Error()}
	}
	tpl.SourcePath = sourcePath
	if tpl.ID == "" {
		tpl.ID = baseName(sourcePath)
	}
	if len(tpl.Steps) == 0 {
		return nil, &ParseError{Path: sourcePath, Line: 1, Message: "template has no steps"}
	}
	for _, step := range tpl.Steps {
		if step.Action == "" {
			return nil, &ParseError{Path: sourcePath, Line: step.Line, Message: "step has no action"}
		}
	}
	return &tpl, nil
}

// LoadConfigs parses every configuration under the given files or
// directories. Unparseable files are skipped with a warning; configs are
// returned sorted by source path, then file order.
func LoadConfigs(paths []string) ([]*TestConfig, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("test path %q: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		found, err := yamlFiles(p)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	sort.Strings(files)

	var configs []*TestConfig
	for _, file := range files {
		parsed, err := ParseConfigFile(file)
		if err != nil {
			logger.Warn("skipping %s: %v", file, err)
			continue
		}
		configs = append(configs, parsed...)
	}
	return configs, nil
}

func yamlFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if isYAML(path) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func baseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
