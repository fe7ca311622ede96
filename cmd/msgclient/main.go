// Command msgclient is a demo embedder for internal/socket's client side: it
// dials a message server, sends a payload on a timer, logs whatever arrives,
// and paces redial attempts with exponential backoff when the connection
// drops. internal/socket itself never reconnects (spec Non-goals); that
// decision belongs to the surrounding program, which is what this binary is.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/kstaniek/go-msgsock/internal/socket"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "msgclient",
		Short: "Demo client for the reliable fixed-length message transport",
	}
	root.AddCommand(newDialCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("msgclient %s (commit %s, built %s)\n", version, commit, date)
			return nil
		},
	}
}

func newDialCmd() *cobra.Command {
	cfg := defaultConfig()
	cmd := &cobra.Command{
		Use:   "dial",
		Short: "Connect to a message server and exchange demo payloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyEnvOverrides(cfg, cmd.Flags()); err != nil {
				return err
			}
			if err := cfg.validate(); err != nil {
				return err
			}
			return runClient(cfg)
		},
	}
	bindFlags(cmd.Flags(), cfg)
	return cmd
}

func runClient(cfg *appConfig) error {
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		l.Info("shutdown_signal", "signal", s.String())
		cancel()
	}()
	defer cancel()

	for ctx.Err() == nil {
		sock, err := dialWithBackoff(ctx, cfg, l)
		if err != nil {
			return err // cancellation yields (nil, nil), handled below
		}
		if sock == nil {
			return nil
		}
		runSession(ctx, sock, cfg, l)
	}
	return nil
}

// dialWithBackoff retries DialAndHandshake with exponential pacing
// (capped at cfg.maxBackoff) until it succeeds or ctx is cancelled.
func dialWithBackoff(ctx context.Context, cfg *appConfig, l *slog.Logger) (*socket.Socket, error) {
	var sock *socket.Socket
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = cfg.maxBackoff
	bo.MaxElapsedTime = 0

	operation := func() error {
		s := socket.New(
			socket.WithSocketTimeout(cfg.socketTimeout),
			socket.WithInboundHandler(func(_, payload string) {
				l.Info("inbound", "payload", payload)
			}),
		)
		if err := s.DialAndHandshake(cfg.server, cfg.port); err != nil {
			return err
		}
		sock = s
		return nil
	}
	notify := func(err error, d time.Duration) {
		l.Debug("redial_backoff", "error", err, "wait", d)
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), notify); err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, err
	}
	l.Info("connected", "name", sock.Name())
	return sock, nil
}

// runSession drives one connection: the receive loop runs in the
// background while this goroutine sends a demo payload on a timer. It
// returns once the connection drops or ctx is cancelled.
func runSession(ctx context.Context, sock *socket.Socket, cfg *appConfig, l *slog.Logger) {
	sock.Start(ctx)
	defer sock.Stop()

	ticker := time.NewTicker(cfg.sendInterval)
	defer ticker.Stop()

	hostname, _ := os.Hostname()
	var n int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !sock.Connected() {
				return
			}
			n++
			if err := sock.Send(fmt.Sprintf("%s demo payload #%d", hostname, n)); err != nil {
				l.Warn("send_failed", "error", err)
			}
		}
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
