package proxy

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ashbyte/mitm/internal/logger"
	"github.com/ashbyte/mitm/pkg/certificates"
)

const (
	defaultBytesNeeded = 8192
	defaultBufferSize  = 8192
	defaultTimeout     = 5 * time.Second
)

// connectResponse is the reply sent to the client before the TLS handshake
var connectResponse = []byte("HTTP/1.1 200 OK\r\n\r\n")

// HTTPProtocol adds HTTP and HTTPS proxy support. "HTTPS proxy" means a
// proxy that supports the CONNECT method and then impersonates the
// destination to the client with a minted leaf certificate.
type HTTPProtocol struct {
	certs  *certificates.Store
	logger logger.Logger

	bytesNeeded int
	bufferSize  int
	timeout     time.Duration
	keepAlive   bool
	skipVerify  bool
}

// HTTPOption customizes an HTTPProtocol
type HTTPOption func(*HTTPProtocol)

// WithBufferSize overrides the relay chunk size
func WithBufferSize(n int) HTTPOption {
	return func(p *HTTPProtocol) { p.bufferSize = n }
}

// WithTimeout overrides the relay idle timeout
func WithTimeout(d time.Duration) HTTPOption {
	return func(p *HTTPProtocol) { p.timeout = d }
}

// WithKeepAlive controls whether the relay continues after one
// request/response cycle
func WithKeepAlive(keepAlive bool) HTTPOption {
	return func(p *HTTPProtocol) { p.keepAlive = keepAlive }
}

// WithSkipUpstreamVerify disables certificate verification on upstream TLS
// connections
func WithSkipUpstreamVerify(skip bool) HTTPOption {
	return func(p *HTTPProtocol) { p.skipVerify = skip }
}

// NewHTTPProtocol creates the built-in HTTP handler
func NewHTTPProtocol(certs *certificates.Store, log logger.Logger, opts ...HTTPOption) *HTTPProtocol {
	p := &HTTPProtocol{
		certs:       certs,
		logger:      log,
		bytesNeeded: defaultBytesNeeded,
		bufferSize:  defaultBufferSize,
		timeout:     defaultTimeout,
		keepAlive:   true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// BytesNeeded returns the prefix length required to identify an HTTP request
func (p *HTTPProtocol) BytesNeeded() int { return p.bytesNeeded }

// BufferSize returns the per-chunk relay read size
func (p *HTTPProtocol) BufferSize() int { return p.bufferSize }

// Timeout returns the relay idle window
func (p *HTTPProtocol) Timeout() time.Duration { return p.timeout }

// KeepAlive reports whether the relay loops after one request/response cycle
func (p *HTTPProtocol) KeepAlive() bool { return p.keepAlive }

// Connect parses the first request and establishes the upstream connection.
// CONNECT requests are answered locally, followed by a server-side TLS
// handshake with the client; any other method is forwarded in plaintext.
func (p *HTTPProtocol) Connect(ctx context.Context, conn *Connection, prefix []byte) error {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(prefix)))
	if err != nil {
		return fmt.Errorf("failed to parse request: %w", ErrInvalidProtocol)
	}

	if req.Method == http.MethodConnect {
		return p.connectTLS(ctx, conn, req)
	}
	return p.connectPlain(ctx, conn, req, prefix)
}

// connectTLS handles the CONNECT-then-handshake dance: answer the client,
// present a minted leaf for the target host, then open the upstream TLS
// connection
func (p *HTTPProtocol) connectTLS(ctx context.Context, conn *Connection, req *http.Request) error {
	host, port, err := net.SplitHostPort(req.Host)
	if err != nil || host == "" || port == "" {
		return fmt.Errorf("malformed CONNECT target %q: %w", req.Host, ErrInvalidProtocol)
	}

	if _, err := conn.Client.Conn().Write(connectResponse); err != nil {
		return fmt.Errorf("failed to accept CONNECT: %w", ErrInvalidProtocol)
	}

	leaf, err := p.certs.Leaf(host)
	if err != nil {
		p.logger.Error("Failed to mint certificate", "host", host, "error", err)
		return fmt.Errorf("failed to mint certificate for %s: %w", host, ErrInvalidProtocol)
	}

	tlsClient := tls.Server(conn.Client.Conn(), serverTLSConfig(leaf))
	if err := tlsClient.HandshakeContext(ctx); err != nil {
		p.logger.Debug("Client TLS handshake failed", "host", host, "error", err)
		return fmt.Errorf("client TLS handshake failed: %w", ErrInvalidProtocol)
	}
	conn.Client.SetConn(tlsClient)

	dialer := &net.Dialer{Timeout: p.timeout}
	raw, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return fmt.Errorf("failed to connect to %s:%s: %w", host, port, ErrUpstreamUnreachable)
	}

	tlsUpstream := tls.Client(raw, clientTLSConfig(host, p.skipVerify))
	if err := tlsUpstream.HandshakeContext(ctx); err != nil {
		raw.Close()
		return fmt.Errorf("upstream TLS handshake with %s failed: %w", host, ErrUpstreamUnreachable)
	}

	conn.Server.SetConn(tlsUpstream)
	return nil
}

// connectPlain opens a plaintext upstream connection to the Host header's
// destination and forwards the originally-read prefix bytes
func (p *HTTPProtocol) connectPlain(ctx context.Context, conn *Connection, req *http.Request, prefix []byte) error {
	if req.Host == "" {
		return fmt.Errorf("missing Host header: %w", ErrInvalidProtocol)
	}

	host, port := splitHostDefaultPort(req.Host, "80")

	dialer := &net.Dialer{Timeout: p.timeout}
	upstream, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return fmt.Errorf("failed to connect to %s:%s: %w", host, port, ErrUpstreamUnreachable)
	}

	if _, err := upstream.Write(prefix); err != nil {
		upstream.Close()
		return fmt.Errorf("failed to forward request: %w", ErrUpstreamUnreachable)
	}

	conn.Server.SetConn(upstream)
	return nil
}

// splitHostDefaultPort splits host[:port], falling back to the given port
func splitHostDefaultPort(hostport, defaultPort string) (string, string) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, defaultPort
	}
	return host, port
}
