package pipeio

import (
	"io"
	"os"

	"github.com/muesli/cancelreader"
	"golang.org/x/term"
)

// Stdio provides a ReadWriteCloser interface for standard I/O streams.
// It uses cancelable reading from stdin when supported, allowing reads
// to be interrupted via Close.
type Stdio struct {
	stdin            io.Reader
	cancellableStdin cancelreader.CancelReader

	stdout io.Writer
}

// NewStdio creates a new Stdio with cancelable stdin reading if supported by the platform.
// Nil arguments select os.Stdin and os.Stdout.
func NewStdio(stdin io.Reader, stdout io.Writer) *Stdio {
	if stdin == nil {
		stdin = os.Stdin
	}
	if stdout == nil {
		stdout = os.Stdout
	}

	out := Stdio{
		stdin:  stdin,
		stdout: stdout,
	}

	cancellableStdin, err := cancelreader.NewReader(stdin)
	if err != nil {
		return &out
	}

	out.cancellableStdin = cancellableStdin
	return &out
}

// Read reads from stdin, using the cancelable reader if available.
func (s *Stdio) Read(p []byte) (n int, err error) {
	if s.cancellableStdin != nil {
		return s.cancellableStdin.Read(p)
	}

	return s.stdin.Read(p)
}

// Write writes to stdout.
func (s *Stdio) Write(p []byte) (n int, err error) {
	return s.stdout.Write(p)
}

// Close cancels any pending reads from stdin if using a cancelable reader.
func (s *Stdio) Close() error {
	if s.cancellableStdin != nil {
		s.cancellableStdin.Cancel()
	}
	return nil
}

// Interactive reports whether stdin is a terminal.
func (s *Stdio) Interactive() bool {
	f, ok := s.stdin.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
