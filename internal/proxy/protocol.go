package proxy

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Protocol identifies an application-layer protocol from a bounded prefix of
// client bytes and establishes the matching upstream connection. Connect must
// report ErrInvalidProtocol when the prefix is not this protocol, which lets
// the registry keep searching.
type Protocol interface {
	// BytesNeeded is the minimum prefix length required to attempt
	// identification.
	BytesNeeded() int
	// BufferSize is the per-chunk read size used by the relay.
	BufferSize() int
	// Timeout is the idle window for relay reads.
	Timeout() time.Duration
	// KeepAlive reports whether the relay keeps running after one completed
	// request/response cycle.
	KeepAlive() bool
	// Connect inspects the prefix, resolves the destination, and attaches
	// the server host to the connection. It may perform the client-side TLS
	// handshake as part of setup.
	Connect(ctx context.Context, conn *Connection, prefix []byte) error
}

// Registry holds the ordered set of protocol handlers
type Registry struct {
	protocols []Protocol
}

// NewRegistry creates a registry with the given handlers, tried in order
func NewRegistry(protocols ...Protocol) *Registry {
	return &Registry{protocols: protocols}
}

// Register appends a handler to the registry
func (r *Registry) Register(p Protocol) {
	r.protocols = append(r.protocols, p)
}

// MaxBytesNeeded returns the largest prefix any registered handler requires
func (r *Registry) MaxBytesNeeded() int {
	max := 0
	for _, p := range r.protocols {
		if n := p.BytesNeeded(); n > max {
			max = n
		}
	}
	return max
}

// Dispatch tries each handler in insertion order. The first handler whose
// Connect does not report ErrInvalidProtocol claims the connection; its
// error, if any, is returned as-is. When every handler rejects the prefix,
// Dispatch fails with ErrInvalidProtocol.
func (r *Registry) Dispatch(ctx context.Context, conn *Connection, prefix []byte) (Protocol, error) {
	for _, p := range r.protocols {
		err := p.Connect(ctx, conn, prefix)
		if err == nil {
			conn.Protocol = p
			return p, nil
		}
		if errors.Is(err, ErrInvalidProtocol) {
			continue
		}
		// The handler recognized the protocol but failed to set it up.
		conn.Protocol = p
		return p, err
	}
	return nil, fmt.Errorf("no handler matched prefix of %d bytes: %w", len(prefix), ErrInvalidProtocol)
}
