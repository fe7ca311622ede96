package msgserver

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-msgsock/internal/socket"
)

func splitHostPort(s string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestServerAcceptsAndHandshakes(t *testing.T) {
	srv := New("127.0.0.1:0", WithSocketTimeout(2*time.Second))
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Stop()

	cli := socket.New(socket.WithSocketTimeout(2 * time.Second))
	host, port := splitAddr(t, srv.Addr().String())
	if err := cli.DialAndHandshake(host, port); err != nil {
		t.Fatalf("dial handshake: %v", err)
	}
	defer cli.Stop()

	waitFor(t, 2*time.Second, func() bool { return srv.ClientCount() == 1 })
}

func TestBroadcastReachesAllClients(t *testing.T) {
	var mu sync.Mutex
	received := map[string]string{}

	srv := New("127.0.0.1:0",
		WithSocketTimeout(2*time.Second),
		WithBroadcastInterval(10*time.Millisecond),
		WithOutboundProducer(func() (string, bool) { return "tick", true }),
	)
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Stop()

	host, port := splitAddr(t, srv.Addr().String())

	const n = 3
	clients := make([]*socket.Socket, n)
	for i := 0; i < n; i++ {
		c := socket.New(socket.WithSocketTimeout(2 * time.Second))
		if err := c.DialAndHandshake(host, port); err != nil {
			t.Fatalf("dial handshake %d: %v", i, err)
		}
		defer c.Stop()
		clients[i] = c
	}

	waitFor(t, 2*time.Second, func() bool { return srv.ClientCount() == n })

	var wg sync.WaitGroup
	for i, c := range clients {
		wg.Add(1)
		go func(i int, c *socket.Socket) {
			defer wg.Done()
			deadline := time.Now().Add(2 * time.Second)
			for time.Now().Before(deadline) {
				payload, status := c.Recv()
				if status == socket.RecvPayload {
					mu.Lock()
					received[addrKey(i)] = payload
					mu.Unlock()
					return
				}
			}
		}(i, c)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(received) != n {
		t.Fatalf("expected %d clients to receive a broadcast, got %d", n, len(received))
	}
	for k, v := range received {
		if v != "tick" {
			t.Fatalf("client %s received %q, want %q", k, v, "tick")
		}
	}
}

func TestInboundHandlerReceivesClientPayload(t *testing.T) {
	var mu sync.Mutex
	var gotName, gotPayload string

	srv := New("127.0.0.1:0",
		WithSocketTimeout(2*time.Second),
		WithInboundHandler(func(name, payload string) {
			mu.Lock()
			gotName, gotPayload = name, payload
			mu.Unlock()
		}),
	)
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Stop()

	host, port := splitAddr(t, srv.Addr().String())
	cli := socket.New(socket.WithSocketTimeout(2 * time.Second))
	if err := cli.DialAndHandshake(host, port); err != nil {
		t.Fatalf("dial handshake: %v", err)
	}
	defer cli.Stop()

	waitFor(t, 2*time.Second, func() bool { return srv.ClientCount() == 1 })
	if err := cli.Send("hello server"); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotPayload == "hello server"
	})
	mu.Lock()
	defer mu.Unlock()
	if gotName != srv.displayName {
		t.Fatalf("expected inbound handler to see the server's display name %q, got %q", srv.displayName, gotName)
	}
}

func TestClientDisconnectRemovesFromRoster(t *testing.T) {
	srv := New("127.0.0.1:0", WithSocketTimeout(50*time.Millisecond))
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Stop()

	host, port := splitAddr(t, srv.Addr().String())
	cli := socket.New(socket.WithSocketTimeout(2 * time.Second))
	if err := cli.DialAndHandshake(host, port); err != nil {
		t.Fatalf("dial handshake: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return srv.ClientCount() == 1 })
	cli.Stop()

	waitFor(t, 2*time.Second, func() bool { return srv.ClientCount() == 0 })
}

func addrKey(i int) string {
	return string(rune('a' + i))
}

func splitAddr(t *testing.T, s string) (string, int) {
	t.Helper()
	host, portStr, err := splitHostPort(s)
	if err != nil {
		t.Fatalf("split host port %q: %v", s, err)
	}
	return host, portStr
}
