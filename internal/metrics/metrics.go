// Package metrics exposes the message transport's counters and latency
// gauges as Prometheus series, mirrored into cheap atomic counters for
// periodic logging. Adapted from the teacher's CAN-gateway metrics package:
// same promauto registration style, the same atomic-mirror-plus-Snap idiom,
// and the same /metrics + /ready HTTP surface.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kstaniek/go-msgsock/internal/logging"
)

// Prometheus series.
var (
	ConnectionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msgsock_connections_accepted_total",
		Help: "Total inbound connections accepted by the server.",
	})
	ConnectionsHandshakeFail = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msgsock_connections_handshake_failed_total",
		Help: "Total connections that failed the hello handshake.",
	})
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "msgsock_connections_active",
		Help: "Current number of connected peers.",
	})
	ConnectionsTerminated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msgsock_connections_terminated_total",
		Help: "Total connections torn down after a fatal error or peer close.",
	})

	FramesRecvd = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msgsock_frames_received_total",
		Help: "Total frames successfully decoded and delivered.",
	})
	FramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msgsock_frames_sent_total",
		Help: "Total frames successfully written to a peer.",
	})
	FrameErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msgsock_frame_errors_total",
		Help: "Soft per-frame errors by kind.",
	}, []string{"kind"})

	LatencyMinMS    = promauto.NewGauge(prometheus.GaugeOpts{Name: "msgsock_latency_min_ms", Help: "Min recv latency in the last reporting window."})
	LatencyMaxMS    = promauto.NewGauge(prometheus.GaugeOpts{Name: "msgsock_latency_max_ms", Help: "Max recv latency in the last reporting window."})
	LatencyAvgMS    = promauto.NewGauge(prometheus.GaugeOpts{Name: "msgsock_latency_avg_ms", Help: "Mean recv latency in the last reporting window."})
	LatencyStddevMS = promauto.NewGauge(prometheus.GaugeOpts{Name: "msgsock_latency_stddev_ms", Help: "Population stddev of recv latency in the last reporting window."})

	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "msgsock_build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Frame error label constants (kept stable to bound cardinality).
const (
	ErrShort     = "short"
	ErrCRC       = "crc"
	ErrTimestamp = "dt"
	ErrSeq       = "seq"
	ErrSendErr   = "send_err"
	ErrSendTO    = "send_timeout"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for cheap periodic logging without scraping
// Prometheus in-process.
var (
	localRecvd, localSent         uint64
	localShort, localCRC, localDT uint64
	localSeq, localSendErr        uint64
	localSendTO                   uint64
	localAccepted, localHSFail    uint64
	localTerminated               uint64
)

// Snapshot is a cheap copy of the local counters.
type Snapshot struct {
	Recvd, Sent             uint64
	Short, CRC, DT, Seq     uint64
	SendErr, SendTimeout    uint64
	Accepted, HandshakeFail uint64
	Terminated              uint64
}

func Snap() Snapshot {
	return Snapshot{
		Recvd:         atomic.LoadUint64(&localRecvd),
		Sent:          atomic.LoadUint64(&localSent),
		Short:         atomic.LoadUint64(&localShort),
		CRC:           atomic.LoadUint64(&localCRC),
		DT:            atomic.LoadUint64(&localDT),
		Seq:           atomic.LoadUint64(&localSeq),
		SendErr:       atomic.LoadUint64(&localSendErr),
		SendTimeout:   atomic.LoadUint64(&localSendTO),
		Accepted:      atomic.LoadUint64(&localAccepted),
		HandshakeFail: atomic.LoadUint64(&localHSFail),
		Terminated:    atomic.LoadUint64(&localTerminated),
	}
}

func IncAccepted()     { ConnectionsAccepted.Inc(); atomic.AddUint64(&localAccepted, 1) }
func IncHandshakeFail() { ConnectionsHandshakeFail.Inc(); atomic.AddUint64(&localHSFail, 1) }
func IncTerminated()    { ConnectionsTerminated.Inc(); atomic.AddUint64(&localTerminated, 1) }
func SetActive(n int)   { ConnectionsActive.Set(float64(n)) }

func IncRecvd() { FramesRecvd.Inc(); atomic.AddUint64(&localRecvd, 1) }
func IncSent()  { FramesSent.Inc(); atomic.AddUint64(&localSent, 1) }

func IncShort() { FrameErrors.WithLabelValues(ErrShort).Inc(); atomic.AddUint64(&localShort, 1) }
func IncCRC()   { FrameErrors.WithLabelValues(ErrCRC).Inc(); atomic.AddUint64(&localCRC, 1) }
func IncDT()    { FrameErrors.WithLabelValues(ErrTimestamp).Inc(); atomic.AddUint64(&localDT, 1) }
func IncSeq()   { FrameErrors.WithLabelValues(ErrSeq).Inc(); atomic.AddUint64(&localSeq, 1) }
func IncSendErr() {
	FrameErrors.WithLabelValues(ErrSendErr).Inc()
	atomic.AddUint64(&localSendErr, 1)
}
func IncSendTimeout() {
	FrameErrors.WithLabelValues(ErrSendTO).Inc()
	atomic.AddUint64(&localSendTO, 1)
}

// SetLatencyWindow records one reporting window's latency aggregates.
func SetLatencyWindow(min, max, avg, stddev float64) {
	LatencyMinMS.Set(min)
	LatencyMaxMS.Set(max)
	LatencyAvgMS.Set(avg)
	LatencyStddevMS.Set(stddev)
}

// InitBuildInfo sets the build info gauge and pre-registers frame error
// label series so the first error doesn't pay registration latency.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{ErrShort, ErrCRC, ErrTimestamp, ErrSeq, ErrSendErr, ErrSendTO} {
		FrameErrors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}
