// Package kfmt provides kernel logging and panic reporting.
//
// Log output emitted before an output sink is attached is retained in a ring
// buffer and replayed to the sink by SetOutputSink.
package kfmt

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// moduleField is the logrus field that carries the name of the module that
// emitted a log entry.
const moduleField = "module"

var (
	output = &outputSwitch{}

	logger = &logrus.Logger{
		Out:       output,
		Formatter: &kernelFormatter{},
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.InfoLevel,
		ExitFunc:  func(int) {},
	}
)

// outputSwitch routes writes either to the attached sink or, if no sink is
// attached, to the early ring buffer.
type outputSwitch struct {
	mu    sync.Mutex
	sink  io.Writer
	early ringBuffer
}

func (o *outputSwitch) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sink == nil {
		return o.early.Write(p)
	}
	return o.sink.Write(p)
}

// SetOutputSink sets the target for all log output to w and copies any data
// accumulated in the early buffer to it. Passing a nil writer detaches the
// current sink and resumes buffering.
func SetOutputSink(w io.Writer) {
	output.mu.Lock()
	defer output.mu.Unlock()

	output.sink = w
	if w != nil {
		_, _ = io.Copy(w, &output.early)
	}
}

// SetLevel sets the minimum level of entries that reach the output sink.
func SetLevel(level logrus.Level) {
	logger.SetLevel(level)
}

// Logger returns a log entry tagged with the given module name.
func Logger(module string) *logrus.Entry {
	return logger.WithField(moduleField, module)
}

// Hex formats an address for inclusion in a log field.
func Hex(v uintptr) string {
	return fmt.Sprintf("0x%x", v)
}

// kernelFormatter renders entries as "[module] level: message key=value".
// Every line of a multi-line message carries the module prefix.
type kernelFormatter struct{}

func (f *kernelFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	module, _ := entry.Data[moduleField].(string)
	if module == "" {
		module = "kernel"
	}

	var (
		buf  bytes.Buffer
		line bytes.Buffer
		pw   PrefixWriter
	)

	line.WriteString(entry.Level.String())
	line.WriteString(": ")
	line.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for key := range entry.Data {
		if key != moduleField {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&line, " %s=%v", key, entry.Data[key])
	}
	line.WriteByte('\n')

	pw.Reset(&buf, []byte("["+module+"] "))
	if _, err := pw.Write(line.Bytes()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
