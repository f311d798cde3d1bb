package pkg

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/multierr"
)

type namedWriter struct {
	name string
	w    io.Writer
}

// CombinedWriter copies each write to every target. A failing target does not
// stop the others, and the error names it.
type CombinedWriter struct {
	targets []namedWriter

	mu       sync.Mutex
	failures map[string]int
}

// NewCombinedWriter names unnamed targets by position and type.
func NewCombinedWriter(writers ...io.Writer) *CombinedWriter {
	cw := &CombinedWriter{failures: make(map[string]int)}
	for i, w := range writers {
		cw.Add(fmt.Sprintf("%d:%T", i, w), w)
	}
	return cw
}

func (cw *CombinedWriter) Add(name string, w io.Writer) *CombinedWriter {
	cw.targets = append(cw.targets, namedWriter{name: name, w: w})
	return cw
}

// Write reports len(p) when at least one target took the whole write.
func (cw *CombinedWriter) Write(p []byte) (int, error) {
	var (
		err      error
		complete bool
	)
	for _, t := range cw.targets {
		written, werr := t.w.Write(p)
		if werr == nil && written < len(p) {
			werr = io.ErrShortWrite
		}
		if werr != nil {
			err = multierr.Append(err, fmt.Errorf("write to %s: %w", t.name, werr))
			cw.recordFailure(t.name)
			continue
		}
		complete = true
	}
	if !complete {
		return 0, err
	}
	return len(p), err
}

// Failures returns the failed write count per target.
func (cw *CombinedWriter) Failures() map[string]int {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	out := make(map[string]int, len(cw.failures))
	for name, n := range cw.failures {
		out[name] = n
	}
	return out
}

func (cw *CombinedWriter) recordFailure(name string) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.failures[name]++
}
