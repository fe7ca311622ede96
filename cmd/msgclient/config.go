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
	server        string
	port          int
	logFormat     string
	logLevel      string
	socketTimeout time.Duration
	sendInterval  time.Duration
	maxBackoff    time.Duration
}

func defaultConfig() *appConfig {
	return &appConfig{
		server:        "127.0.0.1",
		port:          9600,
		logFormat:     "text",
		logLevel:      "info",
		socketTimeout: 10 * time.Second,
		sendInterval:  5 * time.Second,
		maxBackoff:    30 * time.Second,
	}
}

func bindFlags(fs *pflag.FlagSet, cfg *appConfig) {
	fs.StringVar(&cfg.server, "server", cfg.server, "Server hostname or address")
	fs.IntVar(&cfg.port, "port", cfg.port, "Server port")
	fs.StringVar(&cfg.logFormat, "log-format", cfg.logFormat, "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", cfg.logLevel, "Log level: debug|info|warn|error")
	fs.DurationVar(&cfg.socketTimeout, "socket-timeout", cfg.socketTimeout, "Connect/recv/send timeout")
	fs.DurationVar(&cfg.sendInterval, "send-interval", cfg.sendInterval, "How often to send a demo payload")
	fs.DurationVar(&cfg.maxBackoff, "max-backoff", cfg.maxBackoff, "Maximum redial backoff interval")
}

// applyEnvOverrides maps MSGCLIENT_* environment variables onto cfg unless
// the corresponding flag was explicitly set, mirroring the teacher's
// flag-wins-over-env precedence.
func applyEnvOverrides(cfg *appConfig, fs *pflag.FlagSet) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	wasSet := func(name string) bool { return fs.Changed(name) }

	if !wasSet("server") {
		if v, ok := get("MSGCLIENT_SERVER"); ok && v != "" {
			cfg.server = v
		}
	}
	if !wasSet("port") {
		if v, ok := get("MSGCLIENT_PORT"); ok && v != "" {
			var p int
			if _, err := fmt.Sscanf(v, "%d", &p); err == nil && p > 0 {
				cfg.port = p
			} else if firstErr == nil {
				firstErr = fmt.Errorf("invalid MSGCLIENT_PORT: %q", v)
			}
		}
	}
	if !wasSet("log-format") {
		if v, ok := get("MSGCLIENT_LOG_FORMAT"); ok && v != "" {
			cfg.logFormat = v
		}
	}
	if !wasSet("log-level") {
		if v, ok := get("MSGCLIENT_LOG_LEVEL"); ok && v != "" {
			cfg.logLevel = v
		}
	}
	if !wasSet("socket-timeout") {
		if v, ok := get("MSGCLIENT_SOCKET_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				cfg.socketTimeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid MSGCLIENT_SOCKET_TIMEOUT: %w", err)
			}
		}
	}
	if !wasSet("send-interval") {
		if v, ok := get("MSGCLIENT_SEND_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				cfg.sendInterval = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid MSGCLIENT_SEND_INTERVAL: %w", err)
			}
		}
	}
	if !wasSet("max-backoff") {
		if v, ok := get("MSGCLIENT_MAX_BACKOFF"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				cfg.maxBackoff = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid MSGCLIENT_MAX_BACKOFF: %w", err)
			}
		}
	}
	return firstErr
}

func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if c.server == "" {
		return errors.New("server must not be empty")
	}
	if c.port <= 0 || c.port > 65535 {
		return fmt.Errorf("port out of range: %d", c.port)
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
		return errors.New("socket-timeout must be > 0")
	}
	if c.sendInterval <= 0 {
		return errors.New("send-interval must be > 0")
	}
	if c.maxBackoff <= 0 {
		return errors.New("max-backoff must be > 0")
	}
	return nil
}
