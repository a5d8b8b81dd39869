package approval

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/devicelab-dev/visual-runner/pkg/visual"
)

// Prompt asks on out and reads answers line by line from in. Unrecognized
// answers are asked again; end of input defers the remaining images.
type Prompt struct {
	in  *bufio.Scanner
	out io.Writer
}

// NewPrompt creates an interactive decider.
func NewPrompt(in io.Reader, out io.Writer) *Prompt {
	return &Prompt{in: bufio.NewScanner(in), out: out}
}

// Decide implements Decider.
func (p *Prompt) Decide(pending visual.Pending) (Decision, error) {
	fmt.Fprintf(p.out, "\n%s\n", pending.Name)
	fmt.Fprintf(p.out, "  baseline: %s\n", pending.BaselinePath)
	fmt.Fprintf(p.out, "  actual:   %s\n", pending.ActualPath)
	if pending.DiffPath != "" {
		fmt.Fprintf(p.out, "  diff:     %s\n", pending.DiffPath)
	}

	for {
		fmt.Fprint(p.out, "[a]pprove, [r]eject, [s]kip? ")
		if !p.in.Scan() {
			if err := p.in.Err(); err != nil {
				return Defer, err
			}
			fmt.Fprintln(p.out)
			return Defer, nil
		}
		d, err := ParseDecision(strings.ToLower(strings.TrimSpace(p.in.Text())))
		if err == nil {
			return d, nil
		}
		fmt.Fprintln(p.out, err)
	}
}
