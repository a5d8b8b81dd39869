// Package interpreter executes template steps: it resolves placeholders in
// step parameters, dispatches to the registered action and reports the
// outcome as a CommandResult.
package interpreter

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/devicelab-dev/visual-runner/pkg/actions"
	"github.com/devicelab-dev/visual-runner/pkg/config"
	"github.com/devicelab-dev/visual-runner/pkg/core"
	"github.com/devicelab-dev/visual-runner/pkg/flow"
)

// EnvPrefix marks a placeholder that reads the environment snapshot.
const EnvPrefix = "env."

// placeholderPattern matches {{key}}; a leading backslash escapes it.
var placeholderPattern = regexp.MustCompile(`\\?\{\{\s*([^{}]*?)\s*\}\}`)

// Resolver looks up action handlers by name.
type Resolver interface {
	Resolve(name string) (actions.Handler, bool)
}

// Interpreter runs single steps.
type Interpreter struct {
	actions Resolver
	env     config.Env
}

// New creates an interpreter that dispatches through reg and resolves
// {{env.NAME}} from env.
func New(reg Resolver, env config.Env) *Interpreter {
	return &Interpreter{actions: reg, env: env}
}

// Execute runs one step with the unit's parameter mapping. Errors are
// prefixed with the action name and keep their category.
func (in *Interpreter) Execute(sc *actions.Context, step flow.Step, params map[string]string) (result *core.CommandResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = fail(step.Action, core.ErrActionFailed.WithMessagef("panic: %v", r))
		}
		result.Duration = time.Since(start)
	}()

	args, err := ResolveAll(step.Params, params, in.env)
	if err != nil {
		return fail(step.Action, err)
	}

	handler, ok := in.actions.Resolve(step.Action)
	if !ok {
		return fail(step.Action, core.ErrUnknownAction.WithMessagef("unknown action %q", step.Action))
	}

	result = handler.Execute(sc, args)
	if result == nil {
		return core.Succeeded(step.Action)
	}
	if !result.Success {
		cause := result.Error
		if cause == nil {
			cause = core.ErrActionFailed.WithMessage(result.Message)
		}
		wrapped := fail(step.Action, cause)
		wrapped.Data = result.Data
		return wrapped
	}
	return result
}

// fail annotates err with the action name.
func fail(action string, err error) *core.CommandResult {
	exec := core.AsExecutionError(err)
	return core.Failed(exec.WithMessage(action + ": " + exec.Message))
}

// ResolveAll resolves placeholders in every value.
func ResolveAll(values []string, params map[string]string, env config.Env) ([]string, error) {
	out := make([]string, len(values))
	for i, v := range values {
		r, err := Resolve(v, params, env)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

// Resolve substitutes {{key}} placeholders in value. {{env.NAME}} reads env
// and fails when NAME is not defined; any other key reads params and
// becomes "" when absent. \{{key}} is kept literally as {{key}}.
func Resolve(value string, params map[string]string, env config.Env) (string, error) {
	if !strings.Contains(value, "{{") {
		return value, nil
	}

	var missing error
	out := placeholderPattern.ReplaceAllStringFunc(value, func(m string) string {
		if escaped, ok := strings.CutPrefix(m, `\`); ok {
			return escaped
		}
		key := placeholderPattern.FindStringSubmatch(m)[1]
		if name, ok := strings.CutPrefix(key, EnvPrefix); ok {
			v, found := env.Lookup(name)
			if !found && missing == nil {
				missing = core.ErrUndefinedEnv.WithMessagef("environment variable %s is not defined", name)
			}
			return v
		}
		return params[key]
	})
	if missing != nil {
		return "", missing
	}
	return out, nil
}

// Placeholders returns the keys referenced by value, in order.
func Placeholders(value string) []string {
	var keys []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(value, -1) {
		if strings.HasPrefix(m[0], `\`) {
			continue
		}
		keys = append(keys, m[1])
	}
	return keys
}

// EnvReferences returns the environment variable names value refers to.
func EnvReferences(value string) []string {
	var names []string
	for _, k := range Placeholders(value) {
		if name, ok := strings.CutPrefix(k, EnvPrefix); ok {
			names = append(names, name)
		}
	}
	return names
}

// Describe renders a step with its resolved parameters for progress output.
func Describe(step flow.Step, params map[string]string, env config.Env) string {
	args, err := ResolveAll(step.Params, params, env)
	if err != nil {
		return step.String()
	}
	if len(args) == 0 {
		return step.Action
	}
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = fmt.Sprintf("%q", a)
	}
	return step.Action + " " + strings.Join(quoted, " ")
}
