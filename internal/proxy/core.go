package proxy

import (
	"fmt"
	"net"
	"strconv"
)

// Host represents one endpoint of a relayed pair. The client host is fully
// initialized as soon as a TCP connection is accepted; the server host stays
// unresolved until a protocol handler establishes the upstream connection.
type Host struct {
	conn net.Conn
	IP   string
	Port int

	// Managed indicates whether the proxy owns teardown of the underlying
	// connection. When false the caller is responsible for closing it.
	Managed bool
}

// NewHost wraps an established connection in a managed Host
func NewHost(conn net.Conn) *Host {
	h := &Host{Managed: true}
	h.SetConn(conn)
	return h
}

// SetConn attaches a connection to the host, recording the observed peer
// address the first time one is seen
func (h *Host) SetConn(conn net.Conn) {
	h.conn = conn
	if conn == nil || h.IP != "" {
		return
	}
	if addr := conn.RemoteAddr(); addr != nil {
		if ip, port, err := net.SplitHostPort(addr.String()); err == nil {
			h.IP = ip
			h.Port, _ = strconv.Atoi(port)
		}
	}
}

// Conn returns the underlying connection, nil if unresolved
func (h *Host) Conn() net.Conn {
	return h.conn
}

// Resolved reports whether the host has an established connection
func (h *Host) Resolved() bool {
	return h != nil && h.conn != nil
}

// Close tears down the connection if this host is proxy-managed
func (h *Host) Close() error {
	if h.conn == nil || !h.Managed {
		return nil
	}
	return h.conn.Close()
}

func (h *Host) String() string {
	if h == nil || h.conn == nil {
		return "unresolved"
	}
	return net.JoinHostPort(h.IP, strconv.Itoa(h.Port))
}

// Connection represents one intercepted session: the accepted client, the
// upstream server resolved on its behalf, and the protocol handler that
// claimed the session. Protocol is immutable once set.
type Connection struct {
	Client   *Host
	Server   *Host
	Protocol Protocol
}

func (c *Connection) String() string {
	return fmt.Sprintf("client=%s server=%s", c.Client, c.Server)
}

// Flow identifies the direction of relayed data
type Flow int

const (
	// ClientToServer is data sent by the client toward the destination
	ClientToServer Flow = iota
	// ServerToClient is data sent by the destination back to the client
	ServerToClient
)

func (f Flow) String() string {
	if f == ClientToServer {
		return "client_to_server"
	}
	return "server_to_client"
}
