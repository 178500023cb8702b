package vm

import (
	"fmt"
	"io"
	"sync"
)

// Sink receives diagnostic text from FLUSH, PRINT and fault reporting.
// The engine never writes to a terminal or file on its own.
type Sink func(text string)

// Discard is a sink that drops everything.
func Discard(string) {}

// WriterSink returns a sink writing one line per call to w.
func WriterSink(w io.Writer) Sink {
	return func(text string) {
		fmt.Fprintln(w, text)
	}
}

// Transcript collects sink output in memory.
type Transcript struct {
	mu    sync.Mutex
	lines []string
}

// Sink returns a sink appending to the transcript.
func (t *Transcript) Sink() Sink {
	return func(text string) {
		t.mu.Lock()
		t.lines = append(t.lines, text)
		t.mu.Unlock()
	}
}

// Lines returns a copy of the collected lines.
func (t *Transcript) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.lines...)
}
