package tcpapi

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func startServer(t *testing.T, cfg Config, h Handler) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	srv := New(cfg, h)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve() = %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Serve() did not return after cancel")
		}
	})
	return ln.Addr().String()
}

func roundTrip(t *testing.T, addr, payload string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.WriteString(conn, payload); err != nil {
		t.Fatal(err)
	}
	resp, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	return resp
}

func upper(_ context.Context, line string) string { return strings.ToUpper(line) }

func TestServeOneLinePerConnection(t *testing.T) {
	addr := startServer(t, Config{ReadTimeout: time.Second, WriteTimeout: time.Second}, HandlerFunc(upper))

	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{name: "newline terminated", payload: "mdl\n", want: "MDL\n"},
		{name: "crlf terminated", payload: "mdl;;;wht\r\n", want: "MDL;;;WHT\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := roundTrip(t, addr, tt.payload); got != tt.want {
				t.Errorf("response = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestServeHalfClosedPeer(t *testing.T) {
	addr := startServer(t, Config{ReadTimeout: time.Second}, HandlerFunc(upper))

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.WriteString(conn, "err"); err != nil {
		t.Fatal(err)
	}
	if err := conn.(*net.TCPConn).CloseWrite(); err != nil {
		t.Fatal(err)
	}
	resp, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil || resp != "ERR\n" {
		t.Fatalf("response = %q, %v; want ERR", resp, err)
	}
}

func TestServeOversizedLine(t *testing.T) {
	var calls atomic.Int32
	h := HandlerFunc(func(ctx context.Context, line string) string {
		calls.Add(1)
		return "MDL"
	})
	addr := startServer(t, Config{MaxRequestBytes: 16, ReadTimeout: time.Second}, h)

	if got := roundTrip(t, addr, strings.Repeat("x", 100)+"\n"); got != "ERR\n" {
		t.Errorf("oversized response = %q, want ERR", got)
	}
	if got := roundTrip(t, addr, strings.Repeat("x", 16)+"\n"); got != "MDL\n" {
		t.Errorf("response at the limit = %q, want MDL", got)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("handler called %d times, want 1", n)
	}
}

func TestServeRecoversFromPanic(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, line string) string {
		if line == "boom" {
			panic("boom")
		}
		return "MDL"
	})
	addr := startServer(t, Config{}, h)

	if got := roundTrip(t, addr, "boom\n"); got != "ERR\n" {
		t.Errorf("panic response = %q, want ERR", got)
	}
	if got := roundTrip(t, addr, "ok\n"); got != "MDL\n" {
		t.Errorf("response after panic = %q, want MDL", got)
	}
}

func TestServeSurvivesSilentPeer(t *testing.T) {
	addr := startServer(t, Config{ReadTimeout: 50 * time.Millisecond}, HandlerFunc(upper))

	idle, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer idle.Close()

	if got := roundTrip(t, addr, "next\n"); got != "NEXT\n" {
		t.Errorf("response = %q, want NEXT", got)
	}
}

func TestServeIsSequential(t *testing.T) {
	var inFlight, peak atomic.Int32
	h := HandlerFunc(func(ctx context.Context, line string) string {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return line
	})
	addr := startServer(t, Config{ReadTimeout: 5 * time.Second}, h)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				t.Error(err)
				return
			}
			defer conn.Close()
			_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
			_, _ = io.WriteString(conn, "MDL\n")
			if resp, err := bufio.NewReader(conn).ReadString('\n'); err != nil || resp != "MDL\n" {
				t.Errorf("response = %q, %v", resp, err)
			}
		}()
	}
	wg.Wait()
	if p := peak.Load(); p != 1 {
		t.Errorf("peak concurrent requests = %d, want 1", p)
	}
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	srv := New(Config{Addr: "127.0.0.1:0", Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}, HandlerFunc(upper))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for srv.Addr() == nil && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if srv.Addr() == nil {
		t.Fatal("server never bound")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ListenAndServe() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe() did not return")
	}
}
