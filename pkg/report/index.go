package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/devicelab-dev/visual-runner/pkg/core"
)

// IndexWriter maintains report.json while a run is in progress. Units
// finish on many goroutines; every Add rewrites the file so a reader
// polling it always sees a complete document.
type IndexWriter struct {
	mu    sync.Mutex
	path  string
	index *Index
}

// NewIndexWriter creates the report directory and writes the initial index.
func NewIndexWriter(dir, runID string, info RunnerInfo) (*IndexWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	now := time.Now()
	w := &IndexWriter{
		path: filepath.Join(dir, IndexFile),
		index: &Index{
			Version:     Version,
			RunID:       runID,
			Status:      core.StatusRunning,
			StartTime:   now,
			LastUpdated: now,
			Runner:      info,
			Units:       []core.Result{},
		},
	}
	return w, w.flushLocked()
}

// Add records a finished unit.
func (w *IndexWriter) Add(res core.Result) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.index.Units = append(w.index.Units, res)
	w.index.Summary = core.Summarize(w.index.Units, time.Since(w.index.StartTime))
	return w.flushLocked()
}

// End replaces the units with the final ordered results and marks the run complete.
func (w *IndexWriter) End(results []core.Result, summary core.Summary) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.index.EndTime = &now
	w.index.Units = results
	w.index.Summary = summary
	w.index.Status = core.StatusPassed
	if summary.Failed > 0 {
		w.index.Status = core.StatusFailed
	}
	return w.flushLocked()
}

// Index returns a copy of the current index.
func (w *IndexWriter) Index() Index {
	w.mu.Lock()
	defer w.mu.Unlock()
	idx := *w.index
	idx.Units = append([]core.Result(nil), w.index.Units...)
	return idx
}

func (w *IndexWriter) flushLocked() error {
	w.index.UpdateSeq++
	w.index.LastUpdated = time.Now()
	return writeJSONAtomic(w.path, w.index)
}

// ReadIndex loads report.json from dir.
func ReadIndex(dir string) (*Index, error) {
	data, err := os.ReadFile(filepath.Join(dir, IndexFile)) //#nosec G304 -- report dir
	if err != nil {
		return nil, err
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse %s: %w", IndexFile, err)
	}
	return &idx, nil
}

// writeJSONAtomic writes v to a temp file and renames it into place.
func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
