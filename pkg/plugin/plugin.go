// Package plugin loads JavaScript step actions from a directory.
//
// Each <name>.js file becomes an action called <name>. The file must define
//
//	function run(args, page, ctx) { ... }
//
// where args are the step's resolved parameters, page drives the unit's
// browser session and ctx exposes the unit id, the last HTTP response and
// warn(). Throwing fails the step.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/devicelab-dev/visual-runner/pkg/actions"
	"github.com/devicelab-dev/visual-runner/pkg/core"
	"github.com/devicelab-dev/visual-runner/pkg/jsengine"
	"github.com/devicelab-dev/visual-runner/pkg/logger"
)

// EntryPoint is the function every plugin must define.
const EntryPoint = "run"

// Plugin is a compiled script action.
type Plugin struct {
	Name    string
	Path    string
	program *goja.Program
}

// LoadFile compiles one plugin file.
func LoadFile(path string) (*Plugin, error) {
	src, err := os.ReadFile(path) //#nosec G304 -- plugin directory
	if err != nil {
		return nil, err
	}
	prog, err := jsengine.Compile(path, string(src))
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &Plugin{Name: name, Path: path, program: prog}, nil
}

// LoadDir compiles every .js file in dir, sorted by name. A missing directory
// yields no plugins. Files that fail to compile are reported in the error and
// left out of the result.
func LoadDir(dir string) ([]*Plugin, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read plugin dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".js") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var plugins []*Plugin
	var errs []error
	for _, n := range names {
		p, err := LoadFile(filepath.Join(dir, n))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		plugins = append(plugins, p)
	}
	return plugins, errors.Join(errs...)
}

// Register loads plugins from dir into reg. Plugins whose names collide
// with a built-in or an earlier plugin are rejected; the rest still load.
func Register(reg *actions.Registry, dir string) (int, error) {
	plugins, err := LoadDir(dir)
	errs := []error{err}

	count := 0
	for _, p := range plugins {
		if err := reg.Register(p.Action()); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Path, err))
			continue
		}
		logger.Debug("plugin action %s loaded from %s", p.Name, p.Path)
		count++
	}
	return count, errors.Join(errs...)
}

// Action wraps the plugin for registration.
func (p *Plugin) Action() *actions.Action {
	return &actions.Action{
		Name:        p.Name,
		Description: "plugin " + filepath.Base(p.Path),
		Usage:       p.Name + " [args...]",
		Handler:     p,
		Source:      p.Path,
	}
}

// Execute runs the plugin in a fresh JS runtime.
func (p *Plugin) Execute(sc *actions.Context, params []string) *core.CommandResult {
	ctx := sc.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	engine := jsengine.New(ctx, jsengine.WithHTTPClient(sc.HTTP), jsengine.WithName(p.Name))
	defer engine.Close()

	if err := engine.RunProgram(p.program); err != nil {
		return core.Failed(err)
	}
	if !engine.HasFunction(EntryPoint) {
		return core.Failed(core.ErrInvalidConfig.WithMessagef("plugin %s does not define %s()", p.Path, EntryPoint))
	}

	args := make([]interface{}, len(params))
	for i, v := range params {
		args[i] = v
	}
	start := time.Now()
	out, err := engine.Call(EntryPoint, args, bindPage(engine, sc), bindContext(engine, sc))
	if err != nil {
		return core.Failed(err)
	}

	result := core.Succeeded(fmt.Sprintf("%s completed in %s", p.Name, time.Since(start).Round(time.Millisecond)))
	if msg, ok := out.(string); ok && msg != "" {
		result.Message = msg
	}
	if output := engine.Output(); len(output) > 0 {
		result.Data = output
	}
	return result
}
