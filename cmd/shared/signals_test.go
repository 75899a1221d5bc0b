package shared

import (
	"os"
	"testing"
)

func TestShutdownSignals(t *testing.T) {
	t.Parallel()

	sigs := shutdownSignals()
	if len(sigs) == 0 || sigs[0] != os.Interrupt {
		t.Errorf("shutdownSignals() = %v, want os.Interrupt first", sigs)
	}
}

type namedSignal string

func (s namedSignal) String() string { return string(s) }
func (namedSignal) Signal()          {}

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sig  os.Signal
		want int
	}{
		{"interrupt", os.Interrupt, 130},
		{"not a syscall signal", namedSignal("custom"), 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := exitCode(tc.sig); got != tc.want {
				t.Errorf("exitCode(%v) = %d, want %d", tc.sig, got, tc.want)
			}
		})
	}
}
