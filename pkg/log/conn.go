package log

import (
	"fmt"
	"io"
	"net"
	"os"
	"sync"
)

// loggedConn wraps a net.Conn and copies all traffic into a trace file.
// Only Read, Write and Close are intercepted, everything else goes to
// the embedded connection.
type loggedConn struct {
	net.Conn

	mu    sync.Mutex
	trace io.WriteCloser
}

func (lc *loggedConn) Read(b []byte) (int, error) {
	n, err := lc.Conn.Read(b)
	if n > 0 {
		if werr := lc.record(b[:n]); werr != nil {
			return n, fmt.Errorf("tracing read: %w", werr)
		}
	}
	return n, err
}

func (lc *loggedConn) Write(b []byte) (int, error) {
	n, err := lc.Conn.Write(b)
	if n > 0 {
		if werr := lc.record(b[:n]); werr != nil {
			return n, fmt.Errorf("tracing write: %w", werr)
		}
	}
	return n, err
}

func (lc *loggedConn) record(b []byte) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	_, err := lc.trace.Write(b)
	return err
}

func (lc *loggedConn) Close() error {
	err := lc.Conn.Close()

	lc.mu.Lock()
	_ = lc.trace.Close()
	lc.mu.Unlock()

	return err
}

// NewLoggedConn wraps a network connection to log all data read from and written to it.
// The log file is created or appended to at the specified path and closed with the connection.
func NewLoggedConn(conn net.Conn, logFilePath string) (net.Conn, error) {
	logFile, err := os.OpenFile(logFilePath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("os.OpenFile(%s): %w", logFilePath, err)
	}

	return &loggedConn{Conn: conn, trace: logFile}, nil
}
