// Package jsengine provides the JavaScript runtime plugin actions run in.
//
// An Engine is single-use and not safe for concurrent use: plugins get a
// fresh Engine per step invocation, so units never share JS state.
package jsengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dop251/goja"

	"github.com/devicelab-dev/visual-runner/pkg/logger"
)

// Engine wraps a goja runtime with console, json, http and output builtins.
type Engine struct {
	runtime *goja.Runtime
	ctx     context.Context
	client  *http.Client
	output  map[string]interface{}
	name    string
	stop    chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithHTTPClient sets the client used by the http module.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithName labels console output in the run log.
func WithName(name string) Option {
	return func(e *Engine) { e.name = name }
}

// New creates a runtime bound to ctx. Cancelling ctx interrupts any script
// that is running.
func New(ctx context.Context, opts ...Option) *Engine {
	e := &Engine{
		runtime: goja.New(),
		ctx:     ctx,
		client:  http.DefaultClient,
		output:  make(map[string]interface{}),
		name:    "js",
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.runtime.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	e.setupBuiltins()

	go func() {
		select {
		case <-ctx.Done():
			e.runtime.Interrupt(ctx.Err())
		case <-e.stop:
		}
	}()
	return e
}

// Close releases the context watcher.
func (e *Engine) Close() {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
}

// Runtime exposes the goja runtime for binding host objects.
func (e *Engine) Runtime() *goja.Runtime {
	return e.runtime
}

func (e *Engine) setupBuiltins() {
	e.setupConsole()
	e.runtime.Set("json", e.jsonFunc())
	e.runtime.Set("http", e.httpModule())
	e.runtime.Set("output", e.output)
}

// setupConsole routes console.log/warn/error to the run log.
func (e *Engine) setupConsole() {
	makeConsoleFunc := func(log func(string, ...interface{})) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.String()
			}
			log("[%s] %s", e.name, strings.Join(parts, " "))
			return goja.Undefined()
		}
	}

	console := e.runtime.NewObject()
	console.Set("log", makeConsoleFunc(logger.Info))
	console.Set("info", makeConsoleFunc(logger.Info))
	console.Set("warn", makeConsoleFunc(logger.Warn))
	console.Set("error", makeConsoleFunc(logger.Error))
	e.runtime.Set("console", console)
}

// jsonFunc parses a JSON string into a JS value.
func (e *Engine) jsonFunc() func(call goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			return goja.Undefined()
		}
		var v interface{}
		if err := json.Unmarshal([]byte(call.Arguments[0].String()), &v); err != nil {
			panic(e.runtime.NewTypeError(fmt.Sprintf("json: %v", err)))
		}
		return e.runtime.ToValue(v)
	}
}

// Set binds a Go value to a global name.
func (e *Engine) Set(name string, value interface{}) error {
	return e.runtime.Set(name, value)
}

// Output returns values scripts stored on the output object.
func (e *Engine) Output() map[string]interface{} {
	out := make(map[string]interface{}, len(e.output))
	for k, v := range e.output {
		out[k] = v
	}
	return out
}

// Compile parses source once so it can be run in many engines.
func Compile(name, source string) (*goja.Program, error) {
	prog, err := goja.Compile(name, source, true)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	return prog, nil
}

// RunProgram executes a compiled program in this engine.
func (e *Engine) RunProgram(p *goja.Program) error {
	_, err := e.runtime.RunProgram(p)
	return scriptError(err)
}

// Eval evaluates a script and returns the exported result.
func (e *Engine) Eval(script string) (interface{}, error) {
	v, err := e.runtime.RunString(script)
	if err != nil {
		return nil, scriptError(err)
	}
	return v.Export(), nil
}

// Call invokes the global function name with args.
func (e *Engine) Call(name string, args ...interface{}) (interface{}, error) {
	fn, ok := goja.AssertFunction(e.runtime.Get(name))
	if !ok {
		return nil, fmt.Errorf("%s is not a function", name)
	}
	values := make([]goja.Value, len(args))
	for i, a := range args {
		values[i] = e.runtime.ToValue(a)
	}
	v, err := fn(goja.Undefined(), values...)
	if err != nil {
		return nil, scriptError(err)
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	return v.Export(), nil
}

// HasFunction reports whether name is a global function.
func (e *Engine) HasFunction(name string) bool {
	_, ok := goja.AssertFunction(e.runtime.Get(name))
	return ok
}

// Throw raises err as a JS exception from inside a host function.
func (e *Engine) Throw(err error) {
	panic(e.runtime.NewGoError(err))
}

// scriptError unwraps JS exceptions into plain errors with the thrown message.
func scriptError(err error) error {
	if err == nil {
		return nil
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			return cause
		}
		return fmt.Errorf("script interrupted: %v", interrupted.Value())
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		if goErr := exc.Unwrap(); goErr != nil {
			return goErr
		}
		return errors.New(exc.Value().String())
	}
	return err
}
