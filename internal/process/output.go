package process

import (
	"bytes"
	"strings"
	"sync"
)

// MaxLineBytes caps a single captured line; longer runs without a newline are
// split.
const MaxLineBytes = 64 * 1024

// LineWriter is an io.WriteCloser that splits the byte stream of a child's
// stdout or stderr into lines and hands each to emit. Close flushes a trailing
// partial line.
type LineWriter struct {
	mu      sync.Mutex
	pending []byte
	emit    func(line string)
}

func NewLineWriter(emit func(line string)) *LineWriter {
	return &LineWriter{emit: emit}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			w.pending = append(w.pending, p...)
			for len(w.pending) >= MaxLineBytes {
				w.emitLocked(w.pending[:MaxLineBytes])
				w.pending = append(w.pending[:0], w.pending[MaxLineBytes:]...)
			}
			break
		}
		w.pending = append(w.pending, p[:i]...)
		w.emitLocked(w.pending)
		w.pending = w.pending[:0]
		p = p[i+1:]
	}
	return n, nil
}

func (w *LineWriter) emitLocked(b []byte) {
	w.emit(strings.TrimSuffix(string(b), "\r"))
}

func (w *LineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) > 0 {
		w.emitLocked(w.pending)
		w.pending = w.pending[:0]
	}
	return nil
}
