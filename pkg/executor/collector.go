package executor

import (
	"sort"
	"sync"

	"github.com/devicelab-dev/visual-runner/pkg/core"
)

type entry struct {
	seq    int
	result core.Result
}

// collector accumulates results from concurrently running units.
type collector struct {
	mu      sync.Mutex
	entries []entry
}

func (c *collector) add(seq int, res core.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry{seq: seq, result: res})
}

// results returns the collected results in expansion order.
func (c *collector) results() []core.Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sorted := append([]entry(nil), c.entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].seq < sorted[j].seq })

	out := make([]core.Result, len(sorted))
	for i, e := range sorted {
		out[i] = e.result
	}
	return out
}
