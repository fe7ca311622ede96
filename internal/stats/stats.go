// Package stats implements the per-connection statistics aggregator: error
// counters, latency min/max/mean/stddev, and periodic status reporting.
// Grounded on original_source/messagesocket.py's MessageStatus class for the
// exact counter and reporting semantics, wired into internal/metrics the
// way the teacher's internal/hub and internal/server wire into its metrics
// package.
package stats

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/kstaniek/go-msgsock/internal/logging"
	"github.com/kstaniek/go-msgsock/internal/metrics"
)

// DefaultStatusInterval is the reporting cadence if none is configured,
// matching the original module's STATUS_INTERVAL default.
const DefaultStatusInterval = 600 * time.Second

// DefaultSocketTimeout mirrors the original module's SOCKET_TIMEOUT
// default; Stats needs it only to evaluate the severity rule in §4.2.
const DefaultSocketTimeout = 10 * time.Second

// Stats aggregates one connection's counters and latency samples between
// reporting windows.
type Stats struct {
	mu sync.Mutex

	name           string
	logger         *slog.Logger
	statusInterval time.Duration
	socketTimeout  time.Duration

	shorts, crcErrs, dtErrs, seqErrs uint64
	sendErrs, sendTimeouts           uint64
	recvd, sent                      uint64

	min, max, sum, sum2 float64

	haveSeq bool
	nextSeq uint32

	windowStart time.Time
}

// Option configures a Stats at construction.
type Option func(*Stats)

// WithStatusInterval overrides the reporting cadence.
func WithStatusInterval(d time.Duration) Option {
	return func(s *Stats) {
		if d > 0 {
			s.statusInterval = d
		}
	}
}

// WithSocketTimeout overrides the socket timeout used by the severity rule.
func WithSocketTimeout(d time.Duration) Option {
	return func(s *Stats) {
		if d > 0 {
			s.socketTimeout = d
		}
	}
}

// WithLogger overrides the status-line logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Stats) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Stats for the connection identified by name.
func New(name string, opts ...Option) *Stats {
	s := &Stats{
		name:           name,
		logger:         logging.L(),
		statusInterval: DefaultStatusInterval,
		socketTimeout:  DefaultSocketTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	s.reset()
	return s
}

func (s *Stats) reset() {
	s.shorts, s.crcErrs, s.dtErrs, s.seqErrs = 0, 0, 0, 0
	s.sendErrs, s.sendTimeouts = 0, 0
	s.recvd, s.sent = 0, 0
	s.min = math.Inf(1)
	s.max, s.sum, s.sum2 = 0, 0, 0
	s.windowStart = time.Now()
}

// OnShort records a short-frame decode error.
func (s *Stats) OnShort() {
	s.mu.Lock()
	s.shorts++
	metrics.IncShort()
	s.report()
	s.mu.Unlock()
}

// OnCRCErr records a CRC mismatch decode error.
func (s *Stats) OnCRCErr() {
	s.mu.Lock()
	s.crcErrs++
	metrics.IncCRC()
	s.report()
	s.mu.Unlock()
}

// OnDTErr records a timestamp parse decode error.
func (s *Stats) OnDTErr() {
	s.mu.Lock()
	s.dtErrs++
	metrics.IncDT()
	s.report()
	s.mu.Unlock()
}

// OnSendErr records a zero-bytes-written send error.
func (s *Stats) OnSendErr() {
	s.mu.Lock()
	s.sendErrs++
	metrics.IncSendErr()
	s.report()
	s.mu.Unlock()
}

// OnSendTimeout records a send timeout.
func (s *Stats) OnSendTimeout() {
	s.mu.Lock()
	s.sendTimeouts++
	metrics.IncSendTimeout()
	s.report()
	s.mu.Unlock()
}

// OnSendOK records a successful send.
func (s *Stats) OnSendOK() {
	s.mu.Lock()
	s.sent++
	metrics.IncSent()
	s.report()
	s.mu.Unlock()
}

// OnRecvOK records a successfully decoded frame: sequence continuity is
// checked (the first valid sequence is accepted blindly, per spec's stated
// reading of the original's seq bookkeeping), then latency is folded into
// the running min/max/sum/sum-of-squares.
func (s *Stats) OnRecvOK(seq uint32, latencyMS float64) {
	s.mu.Lock()
	if s.haveSeq && seq != s.nextSeq {
		s.seqErrs++
		metrics.IncSeq()
	}
	s.haveSeq = true
	s.nextSeq = seq + 1 // wraps naturally via uint32 overflow, matching NextSeq

	s.recvd++
	metrics.IncRecvd()
	if latencyMS < s.min {
		s.min = latencyMS
	}
	if latencyMS > s.max {
		s.max = latencyMS
	}
	s.sum += latencyMS
	s.sum2 += latencyMS * latencyMS
	s.report()
	s.mu.Unlock()
}

// report emits one status line if the reporting window has elapsed, then
// resets the window. Must be called with mu held.
func (s *Stats) report() {
	elapsed := time.Since(s.windowStart)
	if elapsed < s.statusInterval {
		return
	}
	secs := elapsed.Seconds()

	min := s.min
	if math.IsInf(min, 1) {
		min = 0
	}
	var avg, stddev float64
	if s.recvd > 0 {
		avg = s.sum / float64(s.recvd)
		variance := s.sum2/float64(s.recvd) - avg*avg
		if variance > 0 {
			stddev = math.Sqrt(variance)
		}
	}
	var recvRate, sendRate float64
	if secs > 0 {
		recvRate = float64(s.recvd) / secs
		sendRate = float64(s.sent) / secs
	}

	errCount := s.shorts + s.crcErrs + s.dtErrs + s.seqErrs + s.sendErrs + s.sendTimeouts
	// Preserved literally per spec's open question: compares a millisecond
	// latency against the socket timeout scaled as if it were seconds*1000.
	severe := errCount > 0 || s.max > 1000*s.socketTimeout.Seconds()
	level := logging.LevelDebug
	if severe {
		level = logging.LevelError
	}

	metrics.SetLatencyWindow(min, s.max, avg, stddev)

	msg := fmt.Sprintf(
		`status "%s" recv[%d %d %d %d|%d %d %d %d|%d %d] send[%d %d|%d %d]`,
		s.name,
		s.shorts, s.crcErrs, s.dtErrs, s.seqErrs,
		int64(min), int64(s.max), int64(avg), int64(stddev),
		s.recvd, int64(recvRate),
		s.sendErrs, s.sendTimeouts, s.sent, int64(sendRate),
	)
	logging.Logf(s.logger, level, msg)
	s.reset()
}

// Snapshot is a point-in-time copy of the current window's counters, for
// tests and embedders that want to inspect state without waiting for a
// report.
type Snapshot struct {
	Shorts, CRCErrs, DTErrs, SeqErrs uint64
	SendErrs, SendTimeouts           uint64
	Recvd, Sent                     uint64
	Min, Max, Avg, Stddev            float64
}

// Snapshot returns the current window's counters and latency aggregates.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	min := s.min
	if math.IsInf(min, 1) {
		min = 0
	}
	var avg, stddev float64
	if s.recvd > 0 {
		avg = s.sum / float64(s.recvd)
		variance := s.sum2/float64(s.recvd) - avg*avg
		if variance > 0 {
			stddev = math.Sqrt(variance)
		}
	}
	return Snapshot{
		Shorts: s.shorts, CRCErrs: s.crcErrs, DTErrs: s.dtErrs, SeqErrs: s.seqErrs,
		SendErrs: s.sendErrs, SendTimeouts: s.sendTimeouts,
		Recvd: s.recvd, Sent: s.sent,
		Min: min, Max: s.max, Avg: avg, Stddev: stddev,
	}
}
