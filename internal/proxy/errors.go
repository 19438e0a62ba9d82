package proxy

import "errors"

// Errors surfaced by protocol handlers and the relay. They classify how a
// connection ended; all of them are contained to the owning connection.
var (
	// ErrInvalidProtocol marks a prefix no handler recognized, or one whose
	// contents violated a hard constraint (missing Host header, malformed
	// CONNECT target, failed client-side TLS handshake).
	ErrInvalidProtocol = errors.New("invalid protocol")

	// ErrUpstreamUnreachable marks a DNS, TCP connect, or upstream TLS
	// handshake failure.
	ErrUpstreamUnreachable = errors.New("upstream unreachable")

	// ErrTimeout marks a relay whose both directions went idle past the
	// configured window.
	ErrTimeout = errors.New("connection timed out")

	// ErrPeerClosed marks a normal EOF from either side.
	ErrPeerClosed = errors.New("peer closed connection")
)
