package executor

import (
	"fmt"
	"path/filepath"

	"github.com/devicelab-dev/visual-runner/pkg/core"
	"github.com/devicelab-dev/visual-runner/pkg/data"
	"github.com/devicelab-dev/visual-runner/pkg/flow"
)

// Unit is one configuration bound to one resolved data row.
type Unit struct {
	ID        string // <configID>, or <configID>#<row> for data-driven configs
	Config    *flow.TestConfig
	Templates []*flow.Template
	Params    map[string]string
	RowIndex  int // 0-based row position in the data source

	seq int // position in the expanded run, used to order results
}

// TemplateIDs returns the ids of the unit's templates in execution order.
func (u *Unit) TemplateIDs() []string {
	ids := make([]string, len(u.Templates))
	for i, t := range u.Templates {
		ids[i] = t.ID
	}
	return ids
}

// StepCount returns the number of steps across all templates.
func (u *Unit) StepCount() int {
	n := 0
	for _, t := range u.Templates {
		n += len(t.Steps)
	}
	return n
}

// expansion is the fan-out of a set of configurations.
type expansion struct {
	units  []*Unit
	failed []entry // one synthetic result per configuration that could not expand
}

// expand fans every configuration out over its data rows. A configuration
// whose templates or data cannot be loaded yields a single failed result
// and no units.
func (r *Runner) expand(configs []*flow.TestConfig) expansion {
	var out expansion
	seq := 0
	for _, cfg := range configs {
		var templates []*flow.Template
		err := cfg.Validate()
		if err != nil {
			err = core.ErrInvalidConfig.WithMessagef("config %s: %v", cfg.ID, err)
		} else {
			templates, err = r.resolveTemplates(cfg)
		}
		var rows []data.Row
		if err == nil {
			rows, err = r.loadRows(cfg)
		}
		if err != nil {
			out.failed = append(out.failed, entry{seq: seq, result: configFailure(cfg, err)})
			seq++
			continue
		}

		for i, row := range rows {
			id := cfg.ID
			if cfg.Data != "" {
				id = fmt.Sprintf("%s#%d", cfg.ID, i+1)
			}
			out.units = append(out.units, &Unit{
				ID:        id,
				Config:    cfg,
				Templates: templates,
				Params:    data.Merge(cfg.Params, row),
				RowIndex:  i,
				seq:       seq,
			})
			seq++
		}
	}
	return out
}

func (r *Runner) resolveTemplates(cfg *flow.TestConfig) ([]*flow.Template, error) {
	ids := cfg.TemplateIDs()
	templates := make([]*flow.Template, 0, len(ids))
	for _, id := range ids {
		t, ok := r.templates.Get(id)
		if !ok {
			return nil, core.ErrTemplateNotFound.WithMessagef("template %q not found", id)
		}
		templates = append(templates, t)
	}
	return templates, nil
}

// loadRows returns the data rows for cfg, or a single empty row when the
// configuration has no data reference.
func (r *Runner) loadRows(cfg *flow.TestConfig) ([]data.Row, error) {
	if cfg.Data == "" {
		return []data.Row{{}}, nil
	}
	if r.data == nil {
		return nil, core.ErrDataLoad.WithMessagef("no data source for %q", cfg.Data)
	}
	ref := cfg.Data
	if cfg.SourcePath != "" && !filepath.IsAbs(ref) {
		ref = filepath.Join(filepath.Dir(cfg.SourcePath), ref)
	}
	rows, err := r.data.LoadRows(ref)
	if err != nil {
		return nil, core.ErrDataLoad.WithMessagef("load data %s", cfg.Data).WithCause(err)
	}
	return rows, nil
}

// configFailure is the result recorded for a configuration that never ran.
func configFailure(cfg *flow.TestConfig, err error) core.Result {
	exec := core.AsExecutionError(err)
	return core.Result{
		ID:        cfg.ID,
		ConfigID:  cfg.ID,
		Name:      cfg.DisplayName(),
		Templates: cfg.TemplateIDs(),
		Tags:      cfg.Tags,
		Status:    core.StatusFailed,
		Category:  exec.Category,
		Timestamp: timeNow(),
		Error:     exec.Error(),
	}
}
