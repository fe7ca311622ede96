package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-msgsock/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"recvd", snap.Recvd,
					"sent", snap.Sent,
					"short", snap.Short,
					"crc", snap.CRC,
					"dt", snap.DT,
					"seq", snap.Seq,
					"send_err", snap.SendErr,
					"send_timeout", snap.SendTimeout,
					"accepted", snap.Accepted,
					"handshake_fail", snap.HandshakeFail,
					"terminated", snap.Terminated,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
