package config

import (
	"os"
	"sort"
	"strings"
)

// Env is an immutable snapshot of environment variables, taken once at
// startup and shared read-only by every run unit.
type Env struct {
	vars map[string]string
}

// SnapshotEnv captures the process environment, then applies layers in
// order (later layers win). Typical layers: workspace env, then -e flags.
func SnapshotEnv(layers ...map[string]string) Env {
	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			vars[k] = v
		}
	}
	for _, layer := range layers {
		for k, v := range layer {
			vars[k] = v
		}
	}
	return Env{vars: vars}
}

// NewEnv builds a snapshot from an explicit map, ignoring the process environment.
func NewEnv(vars map[string]string) Env {
	copied := make(map[string]string, len(vars))
	for k, v := range vars {
		copied[k] = v
	}
	return Env{vars: copied}
}

// Lookup returns the value of name and whether it is defined.
func (e Env) Lookup(name string) (string, bool) {
	v, ok := e.vars[name]
	return v, ok
}

// Names returns the defined variable names, sorted.
func (e Env) Names() []string {
	names := make([]string, 0, len(e.vars))
	for k := range e.vars {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
