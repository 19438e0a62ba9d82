package proxy

import (
	"github.com/ashbyte/mitm/internal/logger"
)

// Middleware observes connection lifecycle events and may mutate the
// decrypted byte streams. ClientData and ServerData must return the bytes to
// forward; every other hook is purely observational. TLS handshake bytes are
// never passed through the data hooks.
type Middleware interface {
	MITMStarted(host string, port int)
	ClientConnected(conn *Connection)
	ServerConnected(conn *Connection)
	ClientData(conn *Connection, data []byte) []byte
	ServerData(conn *Connection, data []byte) []byte
	ClientDisconnected(conn *Connection)
	ServerDisconnected(conn *Connection)
}

// Chain applies an ordered list of middlewares. For data hooks each
// middleware receives the output of the previous one; the final output is
// what gets written to the peer. A panicking middleware is logged and
// skipped without tearing down the connection.
type Chain struct {
	middlewares []Middleware
	logger      logger.Logger
}

// NewChain creates a middleware chain
func NewChain(log logger.Logger, middlewares ...Middleware) *Chain {
	return &Chain{middlewares: middlewares, logger: log}
}

// MITMStarted notifies all middlewares that the proxy is listening
func (c *Chain) MITMStarted(host string, port int) {
	for _, mw := range c.middlewares {
		c.invoke("mitm_started", func() { mw.MITMStarted(host, port) })
	}
}

// ClientConnected notifies all middlewares of a new client
func (c *Chain) ClientConnected(conn *Connection) {
	for _, mw := range c.middlewares {
		c.invoke("client_connected", func() { mw.ClientConnected(conn) })
	}
}

// ServerConnected notifies all middlewares that the upstream is established
func (c *Chain) ServerConnected(conn *Connection) {
	for _, mw := range c.middlewares {
		c.invoke("server_connected", func() { mw.ServerConnected(conn) })
	}
}

// ClientDisconnected notifies all middlewares that the client is gone
func (c *Chain) ClientDisconnected(conn *Connection) {
	for _, mw := range c.middlewares {
		c.invoke("client_disconnected", func() { mw.ClientDisconnected(conn) })
	}
}

// ServerDisconnected notifies all middlewares that the upstream is gone
func (c *Chain) ServerDisconnected(conn *Connection) {
	for _, mw := range c.middlewares {
		c.invoke("server_disconnected", func() { mw.ServerDisconnected(conn) })
	}
}

// ClientData threads client bytes through the chain and returns the result
func (c *Chain) ClientData(conn *Connection, data []byte) []byte {
	for _, mw := range c.middlewares {
		data = c.invokeData("client_data", data, func() []byte {
			return mw.ClientData(conn, data)
		})
	}
	return data
}

// ServerData threads server bytes through the chain and returns the result
func (c *Chain) ServerData(conn *Connection, data []byte) []byte {
	for _, mw := range c.middlewares {
		data = c.invokeData("server_data", data, func() []byte {
			return mw.ServerData(conn, data)
		})
	}
	return data
}

// invoke runs a lifecycle hook, containing panics
func (c *Chain) invoke(hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Middleware hook panicked", "hook", hook, "panic", r)
		}
	}()
	fn()
}

// invokeData runs a data hook, falling back to the unmodified bytes if the
// middleware panics or returns nil
func (c *Chain) invokeData(hook string, data []byte, fn func() []byte) (out []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Middleware hook panicked", "hook", hook, "panic", r)
			out = data
		}
	}()
	out = fn()
	if out == nil {
		out = data
	}
	return out
}

// LogMiddleware is the built-in middleware that logs lifecycle events and
// a truncated preview of relayed data
type LogMiddleware struct {
	logger logger.Logger
}

// NewLogMiddleware creates the default logging middleware
func NewLogMiddleware(log logger.Logger) *LogMiddleware {
	return &LogMiddleware{logger: log}
}

// MITMStarted logs the listen address
func (m *LogMiddleware) MITMStarted(host string, port int) {
	m.logger.Info("MITM server started", "host", host, "port", port)
}

// ClientConnected logs a new client connection
func (m *LogMiddleware) ClientConnected(conn *Connection) {
	m.logger.Info("Client connected", "client", conn.Client.String())
}

// ServerConnected logs the established upstream connection
func (m *LogMiddleware) ServerConnected(conn *Connection) {
	m.logger.Info("Connected to server", "client", conn.Client.String(), "server", conn.Server.String())
}

// ClientData logs data flowing from the client
func (m *LogMiddleware) ClientData(conn *Connection, data []byte) []byte {
	// The first request is addressed to the proxy itself; everything after
	// is addressed to the destination server.
	if !conn.Server.Resolved() {
		m.logger.Debug("Client to mitm", "client", conn.Client.String(), "data", preview(data))
	} else {
		m.logger.Debug("Client to server",
			"client", conn.Client.String(),
			"server", conn.Server.String(),
			"data", preview(data),
		)
	}
	return data
}

// ServerData logs data flowing back to the client
func (m *LogMiddleware) ServerData(conn *Connection, data []byte) []byte {
	m.logger.Debug("Server to client",
		"server", conn.Server.String(),
		"client", conn.Client.String(),
		"data", preview(data),
	)
	return data
}

// ClientDisconnected logs the client teardown
func (m *LogMiddleware) ClientDisconnected(conn *Connection) {
	m.logger.Info("Client disconnected", "client", conn.Client.String())
}

// ServerDisconnected logs the upstream teardown
func (m *LogMiddleware) ServerDisconnected(conn *Connection) {
	m.logger.Info("Server disconnected", "server", conn.Server.String())
}

// preview truncates data for logging
func preview(data []byte) string {
	const max = 256
	if len(data) > max {
		return string(data[:max]) + "... (truncated)"
	}
	return string(data)
}
