// Package socket implements the message socket: one TCP connection carrying
// fixed-length frames (internal/frame) in both directions, with a hello
// handshake, a receive loop, a send operation, per-connection statistics
// (internal/stats), and idempotent teardown. Grounded on the teacher's
// internal/server/reader.go + writer.go + handshake.go (the read/write
// goroutine split, the sentinel-error classification, the per-connection
// logger) fused into one full-duplex type, the shape original_source's
// MessageSocket class has.
package socket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-msgsock/internal/frame"
	"github.com/kstaniek/go-msgsock/internal/logging"
	"github.com/kstaniek/go-msgsock/internal/metrics"
	"github.com/kstaniek/go-msgsock/internal/stats"
)

// DefaultSocketTimeout is applied to every blocking recv/send/connect
// operation absent an override, matching the original module's
// SOCKET_TIMEOUT default.
const DefaultSocketTimeout = 10 * time.Second

// InboundHandler is invoked once per delivered payload. refName is the
// identifier the embedder supplied at construction time (or the server's
// display name for server-spawned sockets), not the connection's own peer
// name, so the embedder can correlate callbacks to its own registry.
type InboundHandler func(refName, payload string)

// DisconnectHandler is invoked exactly once, when a connection tears down.
type DisconnectHandler func(refName string)

// RecvStatus classifies the three-way outcome of Recv, mirroring the
// original module's message/''/None trichotomy.
type RecvStatus int

const (
	// RecvPayload: a frame was decoded and delivered.
	RecvPayload RecvStatus = iota
	// RecvEmpty: a soft condition (timeout or decode error); socket stays open.
	RecvEmpty
	// RecvNone: the connection was torn down; no more data will arrive.
	RecvNone
)

// Sentinel errors for dial-side classification.
var (
	ErrDialTimeout = errors.New("socket: connection timeout")
	ErrDialAddress = errors.New("socket: server address error")
	ErrDialFailed  = errors.New("socket: connection error")
	ErrHandshake   = errors.New("socket: handshake aborted")
)

// Socket owns one TCP connection and its statistics.
type Socket struct {
	referenceName string
	inbound       InboundHandler
	onDisconnect  DisconnectHandler
	idleTimeout   time.Duration
	socketTimeout time.Duration
	statusOpts    []stats.Option
	logger        *slog.Logger

	conn net.Conn
	name string

	connected atomic.Bool
	running   atomic.Bool

	sendMu  sync.Mutex
	sendSeq uint32

	lastRecvMu sync.Mutex
	lastRecv   time.Time

	stats *stats.Stats

	wg sync.WaitGroup
}

// Option configures a Socket at construction.
type Option func(*Socket)

// WithReferenceName sets the identifier handed back to handlers.
func WithReferenceName(name string) Option {
	return func(s *Socket) { s.referenceName = name }
}

// WithInboundHandler sets the per-payload callback.
func WithInboundHandler(fn InboundHandler) Option {
	return func(s *Socket) { s.inbound = fn }
}

// WithDisconnectHandler sets the teardown callback.
func WithDisconnectHandler(fn DisconnectHandler) Option {
	return func(s *Socket) { s.onDisconnect = fn }
}

// WithIdleTimeout sets the inbound idle timeout (0 disables it).
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Socket) { s.idleTimeout = d }
}

// WithSocketTimeout overrides the default recv/send/connect timeout.
func WithSocketTimeout(d time.Duration) Option {
	return func(s *Socket) {
		if d > 0 {
			s.socketTimeout = d
		}
	}
}

// WithStatusInterval forwards a reporting interval to the connection's stats.
func WithStatusInterval(d time.Duration) Option {
	return func(s *Socket) { s.statusOpts = append(s.statusOpts, stats.WithStatusInterval(d)) }
}

// WithLogger overrides the per-connection logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Socket) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates an unconnected Socket; call AcceptHandshake or DialAndHandshake
// to bring it up.
func New(opts ...Option) *Socket {
	s := &Socket{
		socketTimeout: DefaultSocketTimeout,
		logger:        logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Name returns the connection's display name ("host[ip:port]"), empty
// before a successful handshake.
func (s *Socket) Name() string { return s.name }

// Connected reports whether the connection is currently up.
func (s *Socket) Connected() bool { return s.connected.Load() }

// Running reports whether the receive loop is (or should be) active.
func (s *Socket) Running() bool { return s.running.Load() }

// AcceptHandshake runs the server-accept side of the hello handshake on an
// already-accepted net.Conn: set the socket timeout, then expect exactly one
// frame carrying the peer's hostname.
func (s *Socket) AcceptHandshake(conn net.Conn) error {
	s.conn = conn
	peer := conn.RemoteAddr().String()
	s.name = fmt.Sprintf("[%s]", peer)
	s.stats = stats.New(s.name, s.statusOpts...)
	s.connected.Store(true)

	payload, status := s.Recv()
	if status != RecvPayload || payload == "" {
		s.shutdown(fmt.Sprintf(`connection aborted "%s"`, s.name))
		return ErrHandshake
	}
	s.name = payload + s.name
	s.stats = stats.New(s.name, s.statusOpts...)
	logging.Logf(s.logger, logging.LevelInfo, fmt.Sprintf(`connected "%s"`, s.name))
	metrics.IncAccepted()
	s.setLastRecv(time.Now())
	return nil
}

// DialAndHandshake runs the client-dial side: connect, then send one frame
// carrying the local hostname.
func (s *Socket) DialAndHandshake(server string, port int) error {
	addr := fmt.Sprintf("%s:%d", server, port)
	conn, err := net.DialTimeout("tcp", addr, s.socketTimeout)
	if err != nil {
		switch {
		case isTimeout(err):
			logging.Logf(s.logger, logging.LevelError, fmt.Sprintf(`connection timeout "%s"`, addr))
			return fmt.Errorf("%w: %s", ErrDialTimeout, addr)
		case isDNSError(err):
			logging.Logf(s.logger, logging.LevelError, fmt.Sprintf(`server address error "%s" %v`, addr, err))
			return fmt.Errorf("%w: %s: %v", ErrDialAddress, addr, err)
		default:
			logging.Logf(s.logger, logging.LevelError, fmt.Sprintf(`connection error "%s" %v`, addr, err))
			return fmt.Errorf("%w: %s: %v", ErrDialFailed, addr, err)
		}
	}
	s.conn = conn
	s.connected.Store(true)
	ipv4, peerPort, _ := net.SplitHostPort(conn.RemoteAddr().String())
	s.name = fmt.Sprintf("%s[%s:%s]", server, ipv4, peerPort)
	s.stats = stats.New(s.name, s.statusOpts...)
	logging.Logf(s.logger, logging.LevelInfo, fmt.Sprintf(`connected "%s"`, s.name))
	s.setLastRecv(time.Now())

	hostname, _ := os.Hostname()
	return s.Send(hostname)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isDNSError(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// Send transmits one payload as a frame. It is a no-op if not connected.
// Per-attempt failures classify as: timeout (soft, counted), zero bytes
// written (soft, counted), or any other error (fatal, tears the connection
// down).
func (s *Socket) Send(payload string) error {
	if !s.connected.Load() {
		return nil
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	stripped := strings.TrimSpace(payload)
	wire, truncated := frame.Encode(payload, s.sendSeq, time.Now())
	if truncated {
		logging.Logf(s.logger, logging.LevelWarning, fmt.Sprintf(`message truncated "%s"`, stripped))
	}

	remaining := wire
	for len(remaining) > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.socketTimeout))
		n, err := s.conn.Write(remaining)
		if err != nil {
			if isTimeout(err) {
				s.stats.OnSendTimeout()
				return nil
			}
			s.shutdown(fmt.Sprintf(`send error "%s" %v`, s.name, err))
			return err
		}
		if n == 0 {
			s.stats.OnSendErr()
			return nil
		}
		remaining = remaining[n:]
	}
	s.stats.OnSendOK()
	s.sendSeq = frame.NextSeq(s.sendSeq)
	return nil
}

// Recv reads one fixed-length frame, aggregating partial reads. See
// RecvStatus for the three possible outcomes.
func (s *Socket) Recv() (string, RecvStatus) {
	if !s.connected.Load() {
		return "", RecvNone
	}

	buf := make([]byte, 0, frame.Len)
	for len(buf) < frame.Len {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.socketTimeout))
		tmp := make([]byte, frame.Len-len(buf))
		n, err := s.conn.Read(tmp)
		if err != nil {
			if isTimeout(err) {
				if s.idleTimeout <= 0 {
					return "", RecvEmpty
				}
				if time.Since(s.getLastRecv()) < s.idleTimeout {
					return "", RecvEmpty
				}
				s.shutdown(fmt.Sprintf(`recv timeout "%s"`, s.name))
				return "", RecvNone
			}
			s.shutdown(fmt.Sprintf(`recv error "%s" %v`, s.name, err))
			return "", RecvNone
		}
		if n == 0 {
			s.shutdown(fmt.Sprintf(`disconnected "%s"`, s.name))
			return "", RecvNone
		}
		buf = append(buf, tmp[:n]...)
	}

	now := time.Now()
	decoded, err := frame.Decode(buf)
	if err != nil {
		switch {
		case errors.Is(err, frame.ErrCRC):
			s.stats.OnCRCErr()
		case errors.Is(err, frame.ErrTimestamp):
			s.stats.OnDTErr()
		default:
			s.stats.OnShort()
		}
		return "", RecvEmpty
	}

	s.setLastRecv(now)
	latencyMS := float64(now.Sub(decoded.Timestamp)) / float64(time.Millisecond)
	s.stats.OnRecvOK(decoded.Seq, latencyMS)
	return decoded.Payload, RecvPayload
}

// getLastRecv returns the last time idle-timeout bookkeeping was refreshed:
// either the most recent successfully decoded frame, or, absent any, the
// moment the handshake completed. Both AcceptHandshake and DialAndHandshake
// stamp lastRecv once on success, so the idle clock runs from connection
// start even on a peer that never sends a single frame afterward.
func (s *Socket) getLastRecv() time.Time {
	s.lastRecvMu.Lock()
	defer s.lastRecvMu.Unlock()
	return s.lastRecv
}

func (s *Socket) setLastRecv(t time.Time) {
	s.lastRecvMu.Lock()
	s.lastRecv = t
	s.lastRecvMu.Unlock()
}

// Run drives the receive loop until Recv returns RecvNone or the context is
// cancelled. Delivered payloads are handed to the inbound handler; RecvEmpty
// is ignored.
func (s *Socket) Run(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)
	for s.running.Load() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		payload, status := s.Recv()
		switch status {
		case RecvPayload:
			if s.inbound != nil {
				s.inbound(s.referenceName, payload)
			}
		case RecvNone:
			return
		}
	}
}

// Start launches Run in a background goroutine tracked by Stop.
func (s *Socket) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run(ctx)
	}()
}

// Stop halts the receive loop, joins it if running, and tears the
// connection down if it's still connected.
func (s *Socket) Stop() {
	s.running.Store(false)
	s.wg.Wait()
	if s.connected.Load() {
		if tcp, ok := s.conn.(*net.TCPConn); ok {
			_ = tcp.CloseRead()
			_ = tcp.CloseWrite()
		}
		_ = s.conn.Close()
		s.connected.Store(false)
	}
}

// shutdown performs the idempotent teardown described in spec §4.3: the
// first caller to observe connected flips it (and running) false, logs at
// error severity, closes the socket, and fires the disconnect callback;
// later callers (a racing reader and writer both hitting a fatal error) log
// at debug only.
func (s *Socket) shutdown(errMsg string) {
	if s.connected.CompareAndSwap(true, false) {
		s.running.Store(false)
		logging.Logf(s.logger, logging.LevelError, errMsg)
		_ = s.conn.Close()
		metrics.IncTerminated()
		if s.onDisconnect != nil {
			s.onDisconnect(s.referenceName)
		}
		return
	}
	logging.Logf(s.logger, logging.LevelDebug, errMsg)
}
