package kfmt

import "io"

// PrefixWriter is an io.Writer that wraps another io.Writer and injects a
// prefix at the beginning of each line. The kernel log formatter uses it to
// tag every line of a multi-line message with the emitting module.
type PrefixWriter struct {
	// A writer where all writes get sent to.
	Sink io.Writer

	// The prefix injected at the beginning of each line.
	Prefix []byte

	midLine bool
}

// Reset points the writer to a new sink and prefix and marks the next write
// as the start of a new line.
func (w *PrefixWriter) Reset(sink io.Writer, prefix []byte) {
	w.Sink, w.Prefix, w.midLine = sink, prefix, false
}

// Write writes len(p) bytes from p to the underlying data stream and returns
// the number of bytes written. The injected prefixes are not included in the
// returned count.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var written, lineStart int

	for index := 0; index < len(p); index++ {
		if p[index] != '\n' {
			continue
		}

		n, err := w.writeLine(p[lineStart : index+1])
		written += n
		if err != nil {
			return written, err
		}
		w.midLine = false
		lineStart = index + 1
	}

	if lineStart < len(p) {
		n, err := w.writeLine(p[lineStart:])
		written += n
		if err != nil {
			return written, err
		}
		w.midLine = true
	}

	return written, nil
}

func (w *PrefixWriter) writeLine(line []byte) (int, error) {
	if !w.midLine {
		if _, err := w.Sink.Write(w.Prefix); err != nil {
			return 0, err
		}
	}

	return w.Sink.Write(line)
}
