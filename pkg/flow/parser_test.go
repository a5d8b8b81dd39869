package flow

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseConfigs_Single(t *testing.T) {
	yaml := `
id: login-smoke
name: Login smoke
templateId: login
params:
  baseUrl: https://example.com
data: users.csv
tags: [smoke, login]
snapshot: dashboard
viewport:
  width: 1280
  height: 720
`
	configs, err := ParseConfigs([]byte(yaml), "tests/login.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(configs) != 1 {
		t.Fatalf("expected 1 config, got %d", len(configs))
	}

	cfg := configs[0]
	if cfg.ID != "login-smoke" {
		t.Errorf("expected id=login-smoke, got %q", cfg.ID)
	}
	if cfg.Params["baseUrl"] != "https://example.com" {
		t.Errorf("expected baseUrl param, got %v", cfg.Params)
	}
	if cfg.Viewport == nil || cfg.Viewport.Width != 1280 {
		t.Errorf("expected viewport 1280x720, got %+v", cfg.Viewport)
	}
	if cfg.SourcePath != "tests/login.yaml" {
		t.Errorf("expected source path, got %q", cfg.SourcePath)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestParseConfigs_ListDefaultsIDs(t *testing.T) {
	yaml := `
- templateId: a
  params: {}
- workflow: [a, b]
  params: {}
`
	configs, err := ParseConfigs([]byte(yaml), "suite.yml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("expected 2 configs, got %d", len(configs))
	}
	if configs[0].ID != "suite-1" || configs[1].ID != "suite-2" {
		t.Errorf("unexpected ids %q, %q", configs[0].ID, configs[1].ID)
	}
	if got := configs[1].TemplateIDs(); len(got) != 2 || got[1] != "b" {
		t.Errorf("TemplateIDs() = %v", got)
	}
}

func TestParseConfigs_Empty(t *testing.T) {
	_, err := ParseConfigs([]byte("  \n"), "empty.yaml")
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if !strings.Contains(perr.Error(), "empty.yaml:1") {
		t.Errorf("error should carry location: %v", perr)
	}
}

func TestTestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     TestConfig
		wantErr string
	}{
		{"template", TestConfig{ID: "a", TemplateID: "t", Params: map[string]string{}}, ""},
		{"workflow", TestConfig{ID: "a", Workflow: []string{"t1", "t2"}, Params: map[string]string{}}, ""},
		{"both", TestConfig{ID: "a", TemplateID: "t", Workflow: []string{"t"}, Params: map[string]string{}}, "mutually exclusive"},
		{"neither", TestConfig{ID: "a", Params: map[string]string{}}, "one of templateId or workflow"},
		{"nil params", TestConfig{ID: "a", TemplateID: "t"}, "params is required"},
		{"device and viewport", TestConfig{ID: "a", TemplateID: "t", Params: map[string]string{}, Device: "Pixel 5", Viewport: &Viewport{1, 1}}, "device and viewport"},
		{"bad viewport", TestConfig{ID: "a", TemplateID: "t", Params: map[string]string{}, Viewport: &Viewport{0, 10}}, "positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseTemplate_StepForms(t *testing.T) {
	yaml := `
name: Login
steps:
  - navigate: "{{baseUrl}}/login"
  - fill: ["#user", "{{username}}"]
  - action: click
    params: ["#submit"]
  - wait: 500
  - screenshot
`
	tpl, err := ParseTemplate([]byte(yaml), "templates/login.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tpl.ID != "login" {
		t.Errorf("expected id from file name, got %q", tpl.ID)
	}
	if len(tpl.Steps) != 5 {
		t.Fatalf("expected 5 steps, got %d", len(tpl.Steps))
	}

	want := []Step{
		{Action: "navigate", Params: []string{"{{baseUrl}}/login"}},
		{Action: "fill", Params: []string{"#user", "{{username}}"}},
		{Action: "click", Params: []string{"#submit"}},
		{Action: "wait", Params: []string{"500"}},
		{Action: "screenshot"},
	}
	for i, w := range want {
		got := tpl.Steps[i]
		if got.Action != w.Action || strings.Join(got.Params, "|") != strings.Join(w.Params, "|") {
			t.Errorf("step %d = %s, want %s", i, got, w)
		}
		if got.Line == 0 {
			t.Errorf("step %d has no line number", i)
		}
	}
}

func TestParseTemplate_NoSteps(t *testing.T) {
	if _, err := ParseTemplate([]byte("id: x\nsteps: []\n"), "x.yaml"); err == nil {
		t.Error("expected error for template without steps")
	}
}

func TestStep_Param(t *testing.T) {
	s := Step{Action: "fill", Params: []string{"#a"}}
	if s.Param(0) != "#a" || s.Param(1) != "" || s.Param(-1) != "" {
		t.Errorf("Param() returned unexpected values")
	}
}

func TestLoadConfigs_SkipsInvalid(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "a.yaml"), "templateId: t\nparams: {}\n")
	write(t, filepath.Join(dir, "nested", "b.yml"), "id: b\nworkflow: [t]\nparams: {}\n")
	write(t, filepath.Join(dir, "broken.yaml"), "id: [unterminated\n")
	write(t, filepath.Join(dir, "notes.txt"), "ignored")

	configs, err := LoadConfigs([]string{dir})
	if err != nil {
		t.Fatalf("LoadConfigs() error = %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("expected 2 configs, got %d", len(configs))
	}
	if configs[0].ID != "a" || configs[1].ID != "b" {
		t.Errorf("unexpected ids %q, %q", configs[0].ID, configs[1].ID)
	}
}

func TestLoadConfigs_MissingPath(t *testing.T) {
	if _, err := LoadConfigs([]string{filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Error("expected error for missing path")
	}
}

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
