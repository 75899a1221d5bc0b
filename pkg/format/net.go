// Package format builds the addresses and URLs of the engine's endpoints.
package format

import (
	"net"
	"net/url"
	"strconv"
)

// Paths served by the engine.
const (
	StatusPath = "/"
	SocketPath = "/socket"
)

// Addr joins host and port, bracketing IPv6 hosts.
func Addr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// StatusURL is the engine's HTTP status endpoint at addr.
func StatusURL(addr string) string {
	return endpoint("http", addr, StatusPath)
}

// SocketURL is the engine's event socket at addr.
func SocketURL(addr string) string {
	return endpoint("ws", addr, SocketPath)
}

func endpoint(scheme, addr, path string) string {
	u := url.URL{Scheme: scheme, Host: addr, Path: path}
	return u.String()
}
