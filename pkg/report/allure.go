package report

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/devicelab-dev/visual-runner/pkg/core"
	"github.com/devicelab-dev/visual-runner/pkg/logger"
)

// Allure result schema types.

// AllureResult represents a single test result in Allure format.
type AllureResult struct {
	UUID          string              `json:"uuid"`
	HistoryID     string              `json:"historyId"`
	FullName      string              `json:"fullName"`
	Name          string              `json:"name"`
	Status        string              `json:"status"`
	Stage         string              `json:"stage"`
	Start         int64               `json:"start"`
	Stop          int64               `json:"stop"`
	Labels        []AllureLabel       `json:"labels"`
	StatusDetails AllureStatusDetails `json:"statusDetails"`
	Steps         []AllureStep        `json:"steps"`
	Attachments   []AllureAttachment  `json:"attachments"`
}

// AllureStep is one attempt of a unit.
type AllureStep struct {
	Name          string              `json:"name"`
	Status        string              `json:"status"`
	Stage         string              `json:"stage"`
	StatusDetails AllureStatusDetails `json:"statusDetails"`
}

// AllureAttachment represents a file attachment.
type AllureAttachment struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Type   string `json:"type"`
}

// AllureLabel represents a label on a test result.
type AllureLabel struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// AllureStatusDetails holds failure message and trace.
type AllureStatusDetails struct {
	Message string `json:"message,omitempty"`
	Trace   string `json:"trace,omitempty"`
	Flaky   bool   `json:"flaky,omitempty"`
}

// AllureCategory defines a failure category with regex matching.
type AllureCategory struct {
	Name            string   `json:"name"`
	MatchedStatuses []string `json:"matchedStatuses"`
	MessageRegex    string   `json:"messageRegex"`
}

// AllureExecutor holds executor info.
type AllureExecutor struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	BuildName string `json:"buildName"`
}

// GenerateAllure writes Allure-compatible result files to <reportDir>/allure-results/.
func GenerateAllure(reportDir string) error {
	index, err := ReadIndex(reportDir)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}

	allureDir := filepath.Join(reportDir, AllureDir)
	if err := os.MkdirAll(allureDir, 0o755); err != nil {
		return fmt.Errorf("create %s dir: %w", AllureDir, err)
	}

	for i := range index.Units {
		res := &index.Units[i]
		result := buildAllureResult(res, index)
		copyAllureAttachments(allureDir, res, result.Attachments)

		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal allure result for %s: %w", res.ID, err)
		}
		resultPath := filepath.Join(allureDir, result.UUID+"-result.json")
		if err := os.WriteFile(resultPath, data, 0o644); err != nil {
			return fmt.Errorf("write allure result %s: %w", res.ID, err)
		}
	}

	if err := writeAllureCategories(allureDir); err != nil {
		return err
	}
	if err := writeAllureEnvironment(allureDir, index); err != nil {
		return err
	}
	return writeAllureExecutor(allureDir, index)
}

func buildAllureResult(res *core.Result, index *Index) AllureResult {
	startMs := res.Timestamp.UnixMilli()
	stopMs := startMs + res.Duration.Milliseconds()

	labels := []AllureLabel{
		{Name: "suite", Value: res.ConfigID},
		{Name: "parentSuite", Value: index.Runner.Browser},
		{Name: "framework", Value: "visual-runner"},
		{Name: "severity", Value: "normal"},
	}
	for _, t := range res.Templates {
		labels = append(labels, AllureLabel{Name: "story", Value: t})
	}
	for _, tag := range res.Tags {
		labels = append(labels, AllureLabel{Name: "tag", Value: tag})
	}

	details := AllureStatusDetails{Message: res.Error, Flaky: res.Flaky}
	if len(res.Warnings) > 0 {
		details.Trace = "warnings:\n  " + strings.Join(res.Warnings, "\n  ")
	}

	name := res.Name
	if name == "" {
		name = res.ID
	}

	var attachments []AllureAttachment
	for _, a := range res.Attachments() {
		attachments = append(attachments, AllureAttachment{
			Name:   a.Name,
			Source: res.ID + "-" + filepath.Base(a.Path),
			Type:   a.ContentType,
		})
	}

	return AllureResult{
		UUID:          uuid.NewString(),
		HistoryID:     fnv32aHash(res.ID),
		FullName:      res.ID,
		Name:          name,
		Status:        mapAllureStatus(res),
		Stage:         "finished",
		Start:         startMs,
		Stop:          stopMs,
		Labels:        labels,
		StatusDetails: details,
		Steps:         buildAllureSteps(res),
		Attachments:   attachments,
	}
}

// buildAllureSteps lists one step per attempt; earlier attempts failed.
func buildAllureSteps(res *core.Result) []AllureStep {
	steps := make([]AllureStep, 0, res.Attempts)
	for i, msg := range res.RetryErrors {
		steps = append(steps, AllureStep{
			Name:          fmt.Sprintf("attempt %d", i+1),
			Status:        "failed",
			Stage:         "finished",
			StatusDetails: AllureStatusDetails{Message: msg},
		})
	}
	if res.Attempts > len(res.RetryErrors) {
		steps = append(steps, AllureStep{
			Name:          fmt.Sprintf("attempt %d", res.Attempts),
			Status:        mapAllureStatus(res),
			Stage:         "finished",
			StatusDetails: AllureStatusDetails{Message: res.Error},
		})
	}
	return steps
}

// copyAllureAttachments copies artifact files into allure-results/ flat.
func copyAllureAttachments(allureDir string, res *core.Result, attachments []AllureAttachment) {
	for i, a := range res.Attachments() {
		copyFile(a.Path, filepath.Join(allureDir, attachments[i].Source))
	}
}

// copyFile copies src to dst. A missing source is ignored; baselines may be
// removed by an approval before the export runs.
func copyFile(src, dst string) {
	in, err := os.Open(src) //#nosec G304 -- artifact recorded by the run
	if err != nil {
		return
	}
	defer in.Close()

	out, err := os.Create(dst) //#nosec G304 -- allure-results dir
	if err != nil {
		logger.Warn("failed to create %s: %v", dst, err)
		return
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		logger.Warn("failed to copy %s to %s: %v", src, dst, err)
	}
}

// mapAllureStatus maps a unit status to Allure's. Failures caused by a
// broken setup rather than the page under test are reported as broken.
func mapAllureStatus(res *core.Result) string {
	switch res.Status {
	case core.StatusPassed:
		return "passed"
	case core.StatusFailed:
		switch res.Category {
		case core.ErrCategoryConfig, core.ErrCategoryConnection:
			return "broken"
		}
		return "failed"
	case core.StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// fnv32aHash returns a hex-encoded FNV-32a hash of the input string.
func fnv32aHash(s string) string {
	h := fnv.New32a()
	h.Write([]byte(s))
	return fmt.Sprintf("%08x", h.Sum32())
}

func writeAllureCategories(allureDir string) error {
	failed := []string{"failed"}
	broken := []string{"broken"}
	categories := []AllureCategory{
		{Name: "Visual Regression", MatchedStatuses: failed, MessageRegex: "(?s).*pixels differ from baseline.*|.*image dimensions differ.*"},
		{Name: "Text Not Visible", MatchedStatuses: failed, MessageRegex: "(?s).*not visible.*"},
		{Name: "Assertion Failed", MatchedStatuses: failed, MessageRegex: "(?s).*(does not contain|does not match|unexpected response status|over budget).*"},
		{Name: "Timeout", MatchedStatuses: failed, MessageRegex: "(?is).*(timeout|timed out).*"},
		{Name: "Unknown Action", MatchedStatuses: failed, MessageRegex: "(?s).*unknown action.*"},
		{Name: "Configuration Error", MatchedStatuses: broken, MessageRegex: "(?s).*(not defined|template not found|config |data).*"},
		{Name: "Browser or Network Error", MatchedStatuses: broken, MessageRegex: "(?s).*(browser session|http request failed).*"},
		{Name: "Plugin Error", MatchedStatuses: failed, MessageRegex: "(?s).*(Error|TypeError|ReferenceError).*"},
	}

	data, err := json.MarshalIndent(categories, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}
	if err := os.WriteFile(filepath.Join(allureDir, "categories.json"), data, 0o644); err != nil {
		return fmt.Errorf("write categories.json: %w", err)
	}
	return nil
}

// writeAllureEnvironment writes environment.properties with runner metadata.
func writeAllureEnvironment(allureDir string, index *Index) error {
	var b strings.Builder
	b.WriteString("framework=visual-runner\n")
	fmt.Fprintf(&b, "run.id=%s\n", index.RunID)
	if index.Runner.Version != "" {
		fmt.Fprintf(&b, "runner.version=%s\n", index.Runner.Version)
	}
	if index.Runner.Browser != "" {
		fmt.Fprintf(&b, "browser=%s\n", index.Runner.Browser)
	}
	fmt.Fprintf(&b, "browser.headless=%t\n", index.Runner.Headless)
	fmt.Fprintf(&b, "concurrency=%d\n", index.Runner.Concurrency)
	fmt.Fprintf(&b, "retries=%d\n", index.Runner.Retries)

	path := filepath.Join(allureDir, "environment.properties")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write environment.properties: %w", err)
	}
	return nil
}

func writeAllureExecutor(allureDir string, index *Index) error {
	executor := AllureExecutor{
		Name:      "visual-runner",
		Type:      "visual-runner",
		BuildName: index.RunID,
	}

	data, err := json.MarshalIndent(executor, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal executor: %w", err)
	}
	if err := os.WriteFile(filepath.Join(allureDir, "executor.json"), data, 0o644); err != nil {
		return fmt.Errorf("write executor.json: %w", err)
	}
	return nil
}
