// Package msgserver implements the multi-client message server: an accept
// loop that hands each inbound connection to a message socket, plus a
// broadcast task that periodically pushes an outbound payload to every
// connected client. Grounded on the teacher's internal/server/server.go
// accept loop and internal/hub's snapshot-iterate client list, generalized
// from a single CAN bus fan-out to the message transport's broadcast task
// described in original_source's MessageServer.
package msgserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/kstaniek/go-msgsock/internal/logging"
	"github.com/kstaniek/go-msgsock/internal/metrics"
	"github.com/kstaniek/go-msgsock/internal/socket"
)

// DefaultAcceptBacklog matches the original module's listen backlog.
const DefaultAcceptBacklog = 5

// DefaultBroadcastInterval is how often the broadcast task produces and
// fans out an outbound payload absent an override.
const DefaultBroadcastInterval = 1 * time.Second

// fallbackOutbound is sent when no OutboundProducer is configured, matching
// the original module's literal "test msg" placeholder payload.
const fallbackOutbound = "test msg"

// OutboundProducer yields the next payload to broadcast to every client.
// Returning ("", false) skips that tick.
type OutboundProducer func() (string, bool)

// InboundHandler is invoked once per payload received from any client.
type InboundHandler func(clientName, payload string)

// Server accepts connections on a TCP listener and broadcasts to all of them.
type Server struct {
	addr              string
	socketTimeout     time.Duration
	idleTimeout       time.Duration
	statusInterval    time.Duration
	broadcastInterval time.Duration
	produceOutbound   OutboundProducer
	handleInbound     InboundHandler
	logger            *slog.Logger

	ln          net.Listener
	displayName string

	mu      sync.Mutex
	clients []*socket.Socket

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Server at construction.
type Option func(*Server)

// WithSocketTimeout overrides the per-connection recv/send timeout.
func WithSocketTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.socketTimeout = d
		}
	}
}

// WithIdleTimeout sets the inbound idle timeout passed to every client socket.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) { s.idleTimeout = d }
}

// WithStatusInterval sets the per-connection statistics reporting interval
// passed to every client socket.
func WithStatusInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.statusInterval = d
		}
	}
}

// WithBroadcastInterval overrides how often the broadcast task runs.
func WithBroadcastInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.broadcastInterval = d
		}
	}
}

// WithOutboundProducer supplies the per-tick broadcast payload source.
func WithOutboundProducer(fn OutboundProducer) Option {
	return func(s *Server) { s.produceOutbound = fn }
}

// WithInboundHandler supplies the per-payload callback for any client.
func WithInboundHandler(fn InboundHandler) Option {
	return func(s *Server) { s.handleInbound = fn }
}

// WithLogger overrides the server's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Server bound to addr (not yet listening; call Start).
func New(addr string, opts ...Option) *Server {
	s := &Server{
		addr:              addr,
		socketTimeout:     socket.DefaultSocketTimeout,
		broadcastInterval: DefaultBroadcastInterval,
		logger:            logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start binds the listener and launches the accept and broadcast tasks.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("msgserver: listen %s: %w", s.addr, err)
	}
	s.ln = ln
	s.ctx, s.cancel = context.WithCancel(context.Background())

	hostname, _ := os.Hostname()
	s.displayName = fmt.Sprintf("%s[%s]", hostname, ln.Addr().String())

	s.wg.Add(2)
	go s.acceptLoop()
	go s.broadcastLoop()

	logging.Logf(s.logger, logging.LevelWarning, fmt.Sprintf(`accepting client connections "%s"`, s.displayName))
	return nil
}

// Stop signals both background tasks, joins them, and tears every client
// connection down.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.wg.Wait()

	s.mu.Lock()
	clients := append([]*socket.Socket(nil), s.clients...)
	s.clients = nil
	s.mu.Unlock()

	for _, c := range clients {
		c.Stop()
	}
}

// Addr returns the bound listener address, valid after Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// ClientCount returns the current number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			logging.Logf(s.logger, logging.LevelError, fmt.Sprintf("accept error %v", err))
			return
		}

		var c *socket.Socket
		c = socket.New(
			socket.WithReferenceName(s.displayName),
			socket.WithSocketTimeout(s.socketTimeout),
			socket.WithIdleTimeout(s.idleTimeout),
			socket.WithStatusInterval(s.statusInterval),
			socket.WithInboundHandler(func(refName, payload string) {
				if s.handleInbound != nil {
					s.handleInbound(refName, payload)
				}
			}),
			socket.WithDisconnectHandler(func(_ string) {
				s.removeClient(c.Name())
			}),
		)
		if err := c.AcceptHandshake(conn); err != nil {
			metrics.IncHandshakeFail()
			continue
		}

		s.mu.Lock()
		s.clients = append(s.clients, c)
		metrics.SetActive(len(s.clients))
		s.mu.Unlock()

		c.Start(s.ctx)
	}
}

func (s *Server) removeClient(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.clients[:0]
	for _, c := range s.clients {
		if c.Name() != name {
			out = append(out, c)
		}
	}
	s.clients = out
	metrics.SetActive(len(s.clients))
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.broadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			payload, ok := fallbackOutboundOr(s.produceOutbound)
			if !ok {
				continue
			}
			s.mu.Lock()
			clients := append([]*socket.Socket(nil), s.clients...)
			s.mu.Unlock()
			for _, c := range clients {
				if !c.Connected() {
					continue
				}
				if err := c.Send(payload); err != nil {
					logging.Logf(s.logger, logging.LevelDebug, fmt.Sprintf(`broadcast send failed "%s" %v`, c.Name(), err))
				}
			}
		}
	}
}

func fallbackOutboundOr(fn OutboundProducer) (string, bool) {
	if fn == nil {
		return fallbackOutbound, true
	}
	return fn()
}
