package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kstaniek/go-msgsock/internal/metrics"
	"github.com/kstaniek/go-msgsock/internal/msgserver"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "msgsrv",
		Short: "Reliable fixed-length message transport server",
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("msgsrv %s (commit %s, built %s)\n", version, commit, date)
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	cfg := defaultConfig()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept connections and broadcast to every connected peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyEnvOverrides(cfg, cmd.Flags()); err != nil {
				return err
			}
			if err := cfg.validate(); err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
	bindFlags(cmd.Flags(), cfg)
	return cmd
}

func runServe(cfg *appConfig) error {
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	srv := msgserver.New(cfg.listenAddr,
		msgserver.WithSocketTimeout(cfg.socketTimeout),
		msgserver.WithIdleTimeout(cfg.idleTimeout),
		msgserver.WithBroadcastInterval(cfg.broadcastEvery),
		msgserver.WithStatusInterval(cfg.statusInterval),
		msgserver.WithLogger(l),
	)

	if err := srv.Start(); err != nil {
		l.Error("server_start_error", "error", err)
		return err
	}
	defer srv.Stop()

	if cfg.mdnsEnable {
		go func() {
			_, portStr, err := net.SplitHostPort(srv.Addr().String())
			if err != nil {
				l.Warn("mdns_port_parse_failed", "error", err)
				return
			}
			port, err := strconv.Atoi(portStr)
			if err != nil {
				l.Warn("mdns_port_parse_failed", "error", err)
				return
			}
			cleanup, err := startMDNS(ctx, cfg, port)
			if err != nil {
				l.Warn("mdns_start_failed", "error", err)
				return
			}
			l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", port)
			go func() { <-ctx.Done(); cleanup() }()
		}()
	}

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		metricsSrv := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = metricsSrv.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	wg.Wait()
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
