package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

type appConfig struct {
	listenAddr      string
	logFormat       string
	logLevel        string
	metricsAddr     string
	socketTimeout   time.Duration
	idleTimeout     time.Duration
	statusInterval  time.Duration
	broadcastEvery  time.Duration
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func defaultConfig() *appConfig {
	return &appConfig{
		listenAddr:     ":9600",
		logFormat:      "text",
		logLevel:       "info",
		metricsAddr:    "",
		socketTimeout:  10 * time.Second,
		idleTimeout:    0,
		statusInterval: 600 * time.Second,
		broadcastEvery: 1 * time.Second,
		mdnsName:       "",
	}
}

func bindFlags(fs *pflag.FlagSet, cfg *appConfig) {
	fs.StringVar(&cfg.listenAddr, "listen", cfg.listenAddr, "TCP listen address")
	fs.StringVar(&cfg.logFormat, "log-format", cfg.logFormat, "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", cfg.logLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", cfg.metricsAddr, "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.DurationVar(&cfg.socketTimeout, "socket-timeout", cfg.socketTimeout, "Per-connection recv/send timeout")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", cfg.idleTimeout, "Inbound idle timeout before teardown (0 disables)")
	fs.DurationVar(&cfg.statusInterval, "status-interval", cfg.statusInterval, "Per-connection status reporting interval")
	fs.DurationVar(&cfg.broadcastEvery, "broadcast-interval", cfg.broadcastEvery, "Broadcast task interval")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", cfg.logMetricsEvery, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", cfg.mdnsEnable, "Enable mDNS advertisement")
	fs.StringVar(&cfg.mdnsName, "mdns-name", cfg.mdnsName, "mDNS instance name (default msgsrv-<hostname>)")
}

// applyEnvOverrides maps MSGSRV_* environment variables onto cfg unless the
// corresponding flag was explicitly set on the command line, mirroring the
// teacher's flag-wins-over-env precedence in cmd/can-server/config.go.
func applyEnvOverrides(cfg *appConfig, fs *pflag.FlagSet) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	wasSet := func(name string) bool { return fs.Changed(name) }

	if !wasSet("listen") {
		if v, ok := get("MSGSRV_LISTEN"); ok && v != "" {
			cfg.listenAddr = v
		}
	}
	if !wasSet("log-format") {
		if v, ok := get("MSGSRV_LOG_FORMAT"); ok && v != "" {
			cfg.logFormat = v
		}
	}
	if !wasSet("log-level") {
		if v, ok := get("MSGSRV_LOG_LEVEL"); ok && v != "" {
			cfg.logLevel = v
		}
	}
	if !wasSet("metrics-addr") {
		if v, ok := get("MSGSRV_METRICS"); ok {
			cfg.metricsAddr = v
		}
	}
	if !wasSet("socket-timeout") {
		if v, ok := get("MSGSRV_SOCKET_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				cfg.socketTimeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid MSGSRV_SOCKET_TIMEOUT: %w", err)
			}
		}
	}
	if !wasSet("idle-timeout") {
		if v, ok := get("MSGSRV_IDLE_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				cfg.idleTimeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid MSGSRV_IDLE_TIMEOUT: %w", err)
			}
		}
	}
	if !wasSet("status-interval") {
		if v, ok := get("MSGSRV_STATUS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				cfg.statusInterval = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid MSGSRV_STATUS_INTERVAL: %w", err)
			}
		}
	}
	if !wasSet("broadcast-interval") {
		if v, ok := get("MSGSRV_BROADCAST_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				cfg.broadcastEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid MSGSRV_BROADCAST_INTERVAL: %w", err)
			}
		}
	}
	if !wasSet("log-metrics-interval") {
		if v, ok := get("MSGSRV_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				cfg.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid MSGSRV_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	if !wasSet("mdns-enable") {
		if v, ok := get("MSGSRV_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				cfg.mdnsEnable = true
			case "0", "false", "no", "off":
				cfg.mdnsEnable = false
			}
		}
	}
	if !wasSet("mdns-name") {
		if v, ok := get("MSGSRV_MDNS_NAME"); ok && v != "" {
			cfg.mdnsName = v
		}
	}
	return firstErr
}

// validate performs semantic validation only; it never touches the network.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.socketTimeout <= 0 {
		return fmt.Errorf("socket-timeout must be > 0")
	}
	if c.idleTimeout < 0 {
		return fmt.Errorf("idle-timeout must be >= 0")
	}
	if c.statusInterval <= 0 {
		return fmt.Errorf("status-interval must be > 0")
	}
	if c.broadcastEvery <= 0 {
		return fmt.Errorf("broadcast-interval must be > 0")
	}
	if c.logMetricsEvery < 0 {
		return fmt.Errorf("log-metrics-interval must be >= 0")
	}
	return nil
}

