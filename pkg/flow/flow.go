// Package flow handles parsing and representation of test configurations
// and the step templates they reference.
package flow

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// TestConfig is a declarative test: which templates to run, with what
// default parameters, against which data rows and browser profile.
type TestConfig struct {
	SourcePath string            `yaml:"-"`
	ID         string            `yaml:"id"`
	Name       string            `yaml:"name"`
	TemplateID string            `yaml:"templateId"`
	Workflow   []string          `yaml:"workflow"` // Ordered template ids (alternative to templateId)
	Params     map[string]string `yaml:"params"`
	Data       string            `yaml:"data"`   // Data file reference, resolved relative to SourcePath
	Device     string            `yaml:"device"` // Named device descriptor, e.g. "iPhone 13"
	Viewport   *Viewport         `yaml:"viewport"`
	Tags       []string          `yaml:"tags"`
	Snapshot   string            `yaml:"snapshot"` // Baseline used to enrich failures with a diff
}

// Viewport is an explicit browser window size.
type Viewport struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// TemplateIDs returns the templates to execute, in order.
func (c *TestConfig) TemplateIDs() []string {
	if c.TemplateID != "" {
		return []string{c.TemplateID}
	}
	return c.Workflow
}

// DisplayName returns Name, falling back to ID.
func (c *TestConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// Validate checks the structural invariants of a configuration.
func (c *TestConfig) Validate() error {
	var problems []string
	if c.ID == "" {
		problems = append(problems, "id is required")
	}
	hasTemplate := c.TemplateID != ""
	hasWorkflow := len(c.Workflow) > 0
	switch {
	case hasTemplate && hasWorkflow:
		problems = append(problems, "templateId and workflow are mutually exclusive")
	case !hasTemplate && !hasWorkflow:
		problems = append(problems, "one of templateId or workflow is required")
	}
	for i, id := range c.Workflow {
		if strings.TrimSpace(id) == "" {
			problems = append(problems, fmt.Sprintf("workflow[%d] is empty", i))
		}
	}
	if c.Params == nil {
		problems = append(problems, "params is required (use {} for none)")
	}
	if c.Device != "" && c.Viewport != nil {
		problems = append(problems, "device and viewport are mutually exclusive")
	}
	if c.Viewport != nil && (c.Viewport.Width <= 0 || c.Viewport.Height <= 0) {
		problems = append(problems, "viewport width and height must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

// Template is an ordered list of steps identified by ID.
type Template struct {
	SourcePath  string `yaml:"-"`
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Steps       []Step `yaml:"steps"`
}

// Step is one action invocation with positional parameters.
// Parameters may contain {{placeholder}} references.
type Step struct {
	Action string   `yaml:"action" json:"action"`
	Params []string `yaml:"params" json:"params,omitempty"`
	Line   int      `yaml:"-" json:"-"`
}

// Param returns the i-th parameter or "".
func (s Step) Param(i int) string {
	if i < 0 || i >= len(s.Params) {
		return ""
	}
	return s.Params[i]
}

// String describes the step for logs.
func (s Step) String() string {
	if len(s.Params) == 0 {
		return s.Action
	}
	return fmt.Sprintf("%s(%s)", s.Action, strings.Join(s.Params, ", "))
}

// UnmarshalYAML accepts the long form
//
//	- action: fill
//	  params: ["#user", "{{username}}"]
//
// and the shorthand forms
//
//	- click: "#submit"
//	- fill: ["#user", "{{username}}"]
//	- wait
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	s.Line = node.Line

	switch node.Kind {
	case yaml.ScalarNode:
		s.Action = node.Value
		return nil
	case yaml.MappingNode:
	default:
		return fmt.Errorf("line %d: step must be a mapping or action name", node.Line)
	}

	if hasKey(node, "action") {
		var long struct {
			Action string      `yaml:"action"`
			Params []yaml.Node `yaml:"params"`
		}
		if err := node.Decode(&long); err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		s.Action = long.Action
		for i := range long.Params {
			v, err := scalarValue(&long.Params[i])
			if err != nil {
				return err
			}
			s.Params = append(s.Params, v)
		}
		return nil
	}

	if len(node.Content) != 2 {
		return fmt.Errorf("line %d: shorthand step must have exactly one action key", node.Line)
	}
	s.Action = node.Content[0].Value
	params, err := paramValues(node.Content[1])
	if err != nil {
		return err
	}
	s.Params = params
	return nil
}

func hasKey(node *yaml.Node, key string) bool {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return true
		}
	}
	return false
}

func paramValues(node *yaml.Node) ([]string, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil, nil
		}
		return []string{node.Value}, nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			v, err := scalarValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("line %d: step params must be a value or list of values", node.Line)
	}
}

func scalarValue(node *yaml.Node) (string, error) {
	if node.Kind != yaml.ScalarNode {
		return "", fmt.Errorf("line %d: step param must be a scalar", node.Line)
	}
	if node.Tag == "!!null" {
		return "", nil
	}
	return node.Value, nil
}
