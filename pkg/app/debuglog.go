package app

import (
	"strconv"
	"sync"

	"nodeshell/pkg/log"
)

// DebugLog is the numbered message list shown to the user.
type DebugLog struct {
	logger *log.Logger

	mu       sync.Mutex
	counter  int
	messages []string
}

// NewDebugLog ...
func NewDebugLog(logger *log.Logger) *DebugLog {
	return &DebugLog{logger: logger}
}

// Append numbers msg, keeps it and writes it to the logger.
func (l *DebugLog) Append(msg string) {
	l.logger.InfoMsg("%s\n", msg)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.counter++
	l.messages = append(l.messages, strconv.Itoa(l.counter)+": "+msg)
}

// Clear drops all messages and restarts numbering at 1.
func (l *DebugLog) Clear() {
	l.logger.InfoMsg("Log was cleared.\n")

	l.mu.Lock()
	defer l.mu.Unlock()
	l.counter = 0
	l.messages = nil
}

// Messages returns a copy of the kept messages.
func (l *DebugLog) Messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.messages...)
}
