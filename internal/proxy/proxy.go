package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashbyte/mitm/internal/config"
	"github.com/ashbyte/mitm/internal/logger"
)

// Server accepts client connections and drives each one through middleware
// notification, protocol resolution, and the bidirectional relay
type Server struct {
	config      *config.Config
	logger      logger.Logger
	registry    *Registry
	middlewares *Chain

	// GraceWindow bounds how long Stop waits for in-flight connections
	// before force-closing them.
	GraceWindow time.Duration

	mu       sync.Mutex
	listener net.Listener
	active   map[net.Conn]struct{}
	wg       sync.WaitGroup
	quit     chan struct{}
	stopOnce sync.Once
}

// New creates a new proxy server instance
func New(cfg *config.Config, log logger.Logger, registry *Registry, middlewares *Chain) (*Server, error) {
	if registry == nil || registry.MaxBytesNeeded() == 0 {
		return nil, fmt.Errorf("at least one protocol handler is required")
	}
	if middlewares == nil {
		middlewares = NewChain(log)
	}

	return &Server{
		config:      cfg,
		logger:      log,
		registry:    registry,
		middlewares: middlewares,
		GraceWindow: 10 * time.Second,
		active:      make(map[net.Conn]struct{}),
		quit:        make(chan struct{}),
	}, nil
}

// Run binds the listener and accepts connections until Stop is called or the
// context is cancelled. It returns after in-flight connections drain or the
// grace window elapses.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.middlewares.MITMStarted(s.config.Host, s.config.Port)
	s.logger.Info("Proxy listening", "addr", listener.Addr().String())

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.quit:
		}
	}()

	var acceptErr error
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.stopping() {
				break
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Warn("Transient accept error", "error", err)
				continue
			}
			acceptErr = fmt.Errorf("accept failed: %w", err)
			s.Stop()
			break
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}

	s.drain()
	return acceptErr
}

// Stop stops accepting new connections. In-flight connections get the grace
// window to finish before their sockets are force-closed by Run.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Unlock()
	})
}

// stopping reports whether Stop has been called
func (s *Server) stopping() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

// drain waits for in-flight connections, force-closing them after the grace
// window
func (s *Server) drain() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(s.GraceWindow):
	}

	s.logger.Warn("Grace window elapsed, force-closing connections")
	s.mu.Lock()
	for conn := range s.active {
		conn.Close()
	}
	s.mu.Unlock()
	<-done
}

// ListenAddr returns the bound listener address, empty before Run
func (s *Server) ListenAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// track registers a connection for force-close on shutdown
func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.active[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.active, conn)
	s.mu.Unlock()
}

// handle drives a single accepted connection through its whole life cycle.
// Errors are contained here; nothing propagates to the accept loop.
func (s *Server) handle(ctx context.Context, raw net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic in connection handler", "panic", r)
			raw.Close()
		}
	}()

	s.track(raw)
	defer s.untrack(raw)

	connection := &Connection{
		Client: NewHost(raw),
		Server: &Host{Managed: true},
	}

	s.middlewares.ClientConnected(connection)

	prefix, err := s.readPrefix(connection)
	if err != nil || len(prefix) == 0 {
		if err != nil {
			s.logger.Debug("Failed to read prefix", "client", connection.Client.String(), "error", err)
		}
		connection.Client.Close()
		s.middlewares.ClientDisconnected(connection)
		return
	}

	// The sniffed prefix flows through the data hooks as an observation;
	// forwarding it upstream is the protocol handler's decision.
	s.middlewares.ClientData(connection, prefix)

	proto, err := s.registry.Dispatch(ctx, connection, prefix)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidProtocol):
			s.logger.Info("Rejected connection", "client", connection.Client.String(), "error", err)
		case errors.Is(err, ErrUpstreamUnreachable):
			s.logger.Info("Upstream unreachable", "client", connection.Client.String(), "error", err)
		default:
			s.logger.Error("Protocol setup failed", "client", connection.Client.String(), "error", err)
		}
		connection.Client.Close()
		s.middlewares.ClientDisconnected(connection)
		return
	}

	s.middlewares.ServerConnected(connection)

	relayErr := s.relay(connection, proto)
	if relayErr != nil && !errors.Is(relayErr, ErrPeerClosed) && !errors.Is(relayErr, ErrTimeout) {
		s.logger.Debug("Relay ended", "connection", connection.String(), "error", relayErr)
	}

	connection.Client.Close()
	connection.Server.Close()
	s.middlewares.ClientDisconnected(connection)
	s.middlewares.ServerDisconnected(connection)
}

// readPrefix reads up to the registry's maximum prefix from the client,
// honoring the configured idle timeout
func (s *Server) readPrefix(connection *Connection) ([]byte, error) {
	conn := connection.Client.Conn()
	timeout := time.Duration(s.config.TimeoutSeconds) * time.Second

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	defer conn.SetReadDeadline(time.Time{})

	buf := make([]byte, s.registry.MaxBytesNeeded())
	n, err := conn.Read(buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, fmt.Errorf("prefix read: %w", ErrTimeout)
		}
		return nil, fmt.Errorf("prefix read: %w", ErrPeerClosed)
	}
	return buf[:n], nil
}

// relay shuttles bytes between the two hosts until both directions close or
// go idle past the protocol's timeout
func (s *Server) relay(connection *Connection, proto Protocol) error {
	r := &relayState{
		server:     s,
		connection: connection,
		bufferSize: proto.BufferSize(),
		timeout:    proto.Timeout(),
		keepAlive:  proto.KeepAlive(),
		stop:       make(chan struct{}),
	}
	r.lastActivity.Store(time.Now().UnixNano())
	return r.run()
}

// relayState carries the shared state of one relay's two directions
type relayState struct {
	server     *Server
	connection *Connection
	bufferSize int
	timeout    time.Duration
	keepAlive  bool

	stop     chan struct{}
	stopOnce sync.Once
	cause    atomic.Value

	// lastActivity is the unix-nano timestamp of the most recent successful
	// read in either direction. A direction that times out only terminates
	// the relay if no activity happened anywhere within the idle window.
	lastActivity atomic.Int64

	// responseSeen records that at least one server->client chunk has been
	// relayed. With keep_alive off, the relay ends once the response stream
	// drains (EOF or idle) after this point, never mid-response.
	responseSeen atomic.Bool
}

// run starts both directions and waits for them to finish
func (r *relayState) run() error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.pipe(ClientToServer)
	}()
	go func() {
		defer wg.Done()
		r.pipe(ServerToClient)
	}()
	wg.Wait()

	if cause, ok := r.cause.Load().(error); ok {
		return cause
	}
	return nil
}

// halt ends the relay, waking both directions out of blocked reads
func (r *relayState) halt(cause error) {
	r.stopOnce.Do(func() {
		if cause != nil {
			r.cause.Store(cause)
		}
		close(r.stop)
		// Interrupt any in-flight read on either side.
		now := time.Now()
		if c := r.connection.Client.Conn(); c != nil {
			c.SetReadDeadline(now)
		}
		if c := r.connection.Server.Conn(); c != nil {
			c.SetReadDeadline(now)
		}
	})
}

// pipe relays one direction, applying the middleware chain to every chunk.
// Byte order within the direction is preserved end-to-end.
func (r *relayState) pipe(flow Flow) {
	var src, dst net.Conn
	if flow == ClientToServer {
		src = r.connection.Client.Conn()
		dst = r.connection.Server.Conn()
	} else {
		src = r.connection.Server.Conn()
		dst = r.connection.Client.Conn()
	}

	buf := make([]byte, r.bufferSize)
	for {
		select {
		case <-r.stop:
			return
		default:
		}

		src.SetReadDeadline(time.Now().Add(r.timeout))
		n, err := src.Read(buf)

		if n > 0 {
			r.lastActivity.Store(time.Now().UnixNano())

			data := buf[:n]
			if flow == ClientToServer {
				data = r.server.middlewares.ClientData(r.connection, data)
			} else {
				data = r.server.middlewares.ServerData(r.connection, data)
			}

			if len(data) > 0 {
				if _, werr := dst.Write(data); werr != nil {
					r.halt(fmt.Errorf("relay write: %w", ErrPeerClosed))
					return
				}
			}

			if flow == ServerToClient {
				r.responseSeen.Store(true)
			}
		}

		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if r.stopped() {
					return
				}
				if r.cycleComplete(flow) {
					r.halt(nil)
					return
				}
				idle := time.Duration(time.Now().UnixNano() - r.lastActivity.Load())
				if idle >= r.timeout {
					r.halt(ErrTimeout)
					return
				}
				continue
			}
			// EOF or closed socket: the originating side is done.
			if r.cycleComplete(flow) {
				r.halt(nil)
				return
			}
			r.halt(ErrPeerClosed)
			return
		}
	}
}

// cycleComplete reports whether, with keep_alive off, the first
// request/response round has finished: the server->client stream has
// delivered data and then drained (EOF or went quiet). A response still in
// flight keeps the relay running, however many reads it spans.
func (r *relayState) cycleComplete(flow Flow) bool {
	return !r.keepAlive && flow == ServerToClient && r.responseSeen.Load()
}

// stopped reports whether the relay has been halted
func (r *relayState) stopped() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}
