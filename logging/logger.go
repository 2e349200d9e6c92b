// Package logging provides the pluggable log sink used by the watcher, its
// registration manager, and its platform backends. It is modeled on the
// teacher's internal logger: a nil-safe *Logger that degrades to a no-op
// when unset, with colorized Warn/Error output gated on TTY detection.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/hashwatch/hashwatch/internal/buildinfo"
)

// writer is an io.Writer that splits its input stream into lines and writes
// those lines to an underlying logger callback.
type writer struct {
	callback func(string)
	buffer   []byte
}

func trimCarriageReturn(buffer []byte) []byte {
	if len(buffer) > 0 && buffer[len(buffer)-1] == '\r' {
		return buffer[:len(buffer)-1]
	}
	return buffer
}

// Write implements io.Writer.Write.
func (w *writer) Write(buffer []byte) (int, error) {
	w.buffer = append(w.buffer, buffer...)

	var processed int
	remaining := w.buffer
	for {
		index := bytes.IndexByte(remaining, '\n')
		if index == -1 {
			break
		}
		w.callback(string(trimCarriageReturn(remaining[:index])))
		processed += index + 1
		remaining = remaining[index+1:]
	}

	if processed > 0 {
		leftover := len(w.buffer) - processed
		if leftover > 0 {
			copy(w.buffer[:leftover], w.buffer[processed:])
		}
		w.buffer = w.buffer[:leftover]
	}

	return len(buffer), nil
}

// Logger is the main logger type. It still functions if nil, in which case
// it discards everything; this lets internal components hold a *Logger field
// unconditionally and call methods on it without a nil check at every call
// site, exactly as the teacher's logger does. It wraps the standard log
// package's global logger, so it respects whatever flags that package has
// been configured with, and is safe for concurrent use.
type Logger struct {
	prefix string
	level  Level
}

// RootLogger is the default root logger. It logs at LevelWarn, writing to
// stderr (not stdout — unlike the teacher's CLI-oriented logger, a library
// must not assume ownership of the process's standard output stream), or at
// LevelDebug when HASHWATCH_DEBUG is set to "1" (see internal/buildinfo), matching
// the teacher's own debug.Enabled-gated verbosity bump.
var RootLogger = &Logger{level: defaultLevel()}

func defaultLevel() Level {
	if buildinfo.DebugEnabled {
		return LevelDebug
	}
	return LevelWarn
}

func init() {
	// Only emit color escapes when stderr is actually a terminal; otherwise
	// redirected output (files, pipes, CI logs) would be littered with raw
	// escape codes.
	if !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		color.NoColor = true
	}
	log.SetOutput(colorable.NewColorable(os.Stderr))
}

// New constructs a root logger at the given level.
func New(level Level) *Logger {
	return &Logger{level: level}
}

// Sublogger creates a new sublogger with the specified name, inheriting the
// parent's level.
func (l *Logger) Sublogger(name string) *Logger {
	if l == nil {
		return nil
	}
	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "." + name
	}
	return &Logger{prefix: prefix, level: l.level}
}

func (l *Logger) output(calldepth int, line string) {
	if l.prefix != "" {
		line = fmt.Sprintf("[%s] %s", l.prefix, line)
	}
	log.Output(calldepth, line)
}

// Print logs unconditionally (used sparingly; prefer a leveled method).
func (l *Logger) Print(v ...interface{}) {
	if l != nil {
		l.output(3, fmt.Sprint(v...))
	}
}

// Printf logs unconditionally with fmt.Printf semantics.
func (l *Logger) Printf(format string, v ...interface{}) {
	if l != nil {
		l.output(3, fmt.Sprintf(format, v...))
	}
}

// Info logs at LevelInfo.
func (l *Logger) Info(v ...interface{}) {
	if l != nil && l.level >= LevelInfo {
		l.output(3, fmt.Sprint(v...))
	}
}

// Infof logs at LevelInfo with fmt.Printf semantics.
func (l *Logger) Infof(format string, v ...interface{}) {
	if l != nil && l.level >= LevelInfo {
		l.output(3, fmt.Sprintf(format, v...))
	}
}

// Debug logs at LevelDebug.
func (l *Logger) Debug(v ...interface{}) {
	if l != nil && l.level >= LevelDebug {
		l.output(3, fmt.Sprint(v...))
	}
}

// Debugf logs at LevelDebug with fmt.Printf semantics.
func (l *Logger) Debugf(format string, v ...interface{}) {
	if l != nil && l.level >= LevelDebug {
		l.output(3, fmt.Sprintf(format, v...))
	}
}

// DebugWriter returns an io.Writer that writes lines using Debug. It can
// feed line-oriented output, such as a custom tree visitor's per-entry walk
// failures, into the logger without every caller formatting a line itself.
func (l *Logger) DebugWriter() io.Writer {
	if l == nil {
		return ioutil.Discard
	}
	return &writer{callback: func(s string) { l.Debug(s) }}
}

// Warn logs at LevelWarn with a yellow "Warning:" prefix when the output
// supports color.
func (l *Logger) Warn(err error) {
	if l != nil && l.level >= LevelWarn {
		l.output(3, color.YellowString("Warning: %v", err))
	}
}

// Error logs at LevelError with a red "Error:" prefix when the output
// supports color.
func (l *Logger) Error(err error) {
	if l != nil && l.level >= LevelError {
		l.output(3, color.RedString("Error: %v", err))
	}
}
