// Package log provides logging utilities including colored console output
// and connection logging capabilities.
package log

import (
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

var red = color.New(color.FgRed).FprintfFunc()
var blue = color.New(color.FgBlue).FprintfFunc()
var yellow = color.New(color.FgYellow).FprintfFunc()

// Logger writes colored status messages. Verbose messages are only
// printed when the logger was created with verbose enabled.
// A nil *Logger discards everything.
type Logger struct {
	out     io.Writer
	verbose bool

	mu sync.Mutex
}

// NewLogger creates a logger writing to out. If out is nil, stderr is used.
func NewLogger(out io.Writer, verbose bool) *Logger {
	if out == nil {
		out = os.Stderr
	}
	return &Logger{out: out, verbose: verbose}
}

// Verbose reports whether verbose messages are printed.
func (l *Logger) Verbose() bool {
	return l != nil && l.verbose
}

// ErrorMsg prints an error message in red color.
func (l *Logger) ErrorMsg(format string, a ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	red(l.out, "[!] Error: "+format, a...)
}

// InfoMsg prints an informational message in blue color.
func (l *Logger) InfoMsg(format string, a ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	blue(l.out, "[+] "+format, a...)
}

// VerboseMsg prints a debug message in yellow, only in verbose mode.
func (l *Logger) VerboseMsg(format string, a ...interface{}) {
	if !l.Verbose() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	yellow(l.out, "[v] "+format, a...)
}

var std = NewLogger(os.Stderr, false)

// ErrorMsg prints an error message to stderr in red color.
func ErrorMsg(format string, a ...interface{}) {
	std.ErrorMsg(format, a...)
}

// InfoMsg prints an informational message to stderr in blue color.
func InfoMsg(format string, a ...interface{}) {
	std.InfoMsg(format, a...)
}
