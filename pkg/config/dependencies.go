package config

import (
	"io"
	"net"
	"os"
)

// Dependencies replaces the process' network and terminal access, mostly
// in tests. A nil *Dependencies or a nil field means the real thing.
type Dependencies struct {
	TCPDialer   TCPDialerFunc
	TCPListener TCPListenerFunc
	Stdin       StdinFunc
	Stdout      StdoutFunc
}

// TCPDialerFunc dials the engine's channel.
type TCPDialerFunc func(network string, laddr, raddr *net.TCPAddr) (net.Conn, error)

// TCPListenerFunc listens for an attaching shell.
type TCPListenerFunc func(network string, laddr *net.TCPAddr) (net.Listener, error)

// StdinFunc returns where shell commands are read from.
type StdinFunc func() io.Reader

// StdoutFunc returns where the shell prints.
type StdoutFunc func() io.Writer

// DialTCP connects to raddr.
func (d *Dependencies) DialTCP(raddr *net.TCPAddr) (net.Conn, error) {
	if d != nil && d.TCPDialer != nil {
		return d.TCPDialer("tcp", nil, raddr)
	}
	return net.DialTCP("tcp", nil, raddr)
}

// ListenTCP listens on laddr.
func (d *Dependencies) ListenTCP(laddr *net.TCPAddr) (net.Listener, error) {
	if d != nil && d.TCPListener != nil {
		return d.TCPListener("tcp", laddr)
	}
	return net.ListenTCP("tcp", laddr)
}

// StdinReader returns the shell's input.
func (d *Dependencies) StdinReader() io.Reader {
	if d != nil && d.Stdin != nil {
		return d.Stdin()
	}
	return os.Stdin
}

// StdoutWriter returns the shell's output.
func (d *Dependencies) StdoutWriter() io.Writer {
	if d != nil && d.Stdout != nil {
		return d.Stdout()
	}
	return os.Stdout
}
