package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/devicelab-dev/visual-runner/pkg/core"
)

func readAllureResults(t *testing.T, dir string) map[string]AllureResult {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "*-result.json"))
	if err != nil {
		t.Fatal(err)
	}
	out := make(map[string]AllureResult)
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			t.Fatal(err)
		}
		var r AllureResult
		if err := json.Unmarshal(data, &r); err != nil {
			t.Fatalf("parse %s: %v", f, err)
		}
		out[r.FullName] = r
	}
	return out
}

func TestGenerateAllure(t *testing.T) {
	dir := t.TempDir()
	writeReport(t, dir)

	if err := GenerateAllure(dir); err != nil {
		t.Fatalf("GenerateAllure: %v", err)
	}
	allureDir := filepath.Join(dir, AllureDir)

	results := readAllureResults(t, allureDir)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	login := results["login"]
	if login.Status != "passed" || login.Name != "Login" {
		t.Errorf("login = %+v", login)
	}
	var tags, stories []string
	for _, l := range login.Labels {
		switch l.Name {
		case "tag":
			tags = append(tags, l.Value)
		case "story":
			stories = append(stories, l.Value)
		}
	}
	if len(tags) != 1 || tags[0] != "smoke" {
		t.Errorf("tags = %v", tags)
	}
	if strings.Join(stories, ",") != "open,login" {
		t.Errorf("stories = %v", stories)
	}
	if login.Stop-login.Start != 1500 {
		t.Errorf("duration = %dms", login.Stop-login.Start)
	}

	checkout := results["checkout#1"]
	if checkout.Status != "failed" {
		t.Errorf("checkout status = %q", checkout.Status)
	}
	if !strings.Contains(checkout.StatusDetails.Message, "pixels differ") {
		t.Errorf("message = %q", checkout.StatusDetails.Message)
	}
	if len(checkout.Steps) != 2 || checkout.Steps[0].Status != "failed" || checkout.Steps[1].Name != "attempt 2" {
		t.Errorf("steps = %+v", checkout.Steps)
	}
	if len(checkout.Attachments) != 1 {
		t.Fatalf("attachments = %+v", checkout.Attachments)
	}
	if _, err := os.Stat(filepath.Join(allureDir, checkout.Attachments[0].Source)); err != nil {
		t.Errorf("attachment not copied: %v", err)
	}
	if checkout.HistoryID != fnv32aHash("checkout#1") {
		t.Errorf("historyId = %q", checkout.HistoryID)
	}

	if results["search"].Status != "skipped" {
		t.Errorf("search status = %q", results["search"].Status)
	}

	for _, name := range []string{"categories.json", "environment.properties", "executor.json"} {
		if _, err := os.Stat(filepath.Join(allureDir, name)); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
	env, _ := os.ReadFile(filepath.Join(allureDir, "environment.properties"))
	if !strings.Contains(string(env), "browser=chromium") || !strings.Contains(string(env), "run.id=run-html") {
		t.Errorf("environment.properties = %s", env)
	}
}

func TestMapAllureStatus(t *testing.T) {
	tests := []struct {
		res  core.Result
		want string
	}{
		{core.Result{Status: core.StatusPassed}, "passed"},
		{core.Result{Status: core.StatusFailed, Category: core.ErrCategoryAssertion}, "failed"},
		{core.Result{Status: core.StatusFailed, Category: core.ErrCategoryConfig}, "broken"},
		{core.Result{Status: core.StatusFailed, Category: core.ErrCategoryConnection}, "broken"},
		{core.Result{Status: core.StatusSkipped}, "skipped"},
		{core.Result{Status: core.StatusRunning}, "unknown"},
	}
	for _, tt := range tests {
		if got := mapAllureStatus(&tt.res); got != tt.want {
			t.Errorf("mapAllureStatus(%v/%v) = %q, want %q", tt.res.Status, tt.res.Category, got, tt.want)
		}
	}
}
