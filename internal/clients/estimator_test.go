package clients

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/model"
	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/protocol"
)

var (
	testDomain  = model.NewDomain(model.Discrete{Values: []string{"a", "b"}})
	testRanking = model.Ranking{Bids: []model.Bid{
		model.NewBid(model.LabelValue("a")),
		model.NewBid(model.LabelValue("b")),
	}}
)

// fakeEstimator accepts one connection, reads one line and answers with
// reply. An empty reply closes the connection without answering; hang keeps
// it open until the test ends.
func fakeEstimator(t *testing.T, reply string, hang bool) (string, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	t.Cleanup(func() {
		close(done)
		_ = ln.Close()
	})

	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		got <- strings.TrimRight(line, "\n")
		if hang {
			<-done
			return
		}
		if reply != "" {
			_, _ = io.WriteString(conn, reply+"\n")
		}
	}()
	return ln.Addr().String(), got
}

func newTestClient(addr string) *EstimatorClient {
	return NewEstimatorClientWithRetry(addr, time.Second, RetryConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestEstimateDecodesModel(t *testing.T) {
	addr, got := fakeEstimator(t, "MDL;;;DIS;;;0.5;;;1;;;EDIS;;;WHT;;;1;;;EWHT", false)

	space, err := newTestClient(addr).Estimate(context.Background(), testDomain, testRanking)
	if err != nil {
		t.Fatalf("Estimate() = %v", err)
	}
	want := &model.UtilitySpace{
		Domain:     testDomain,
		Weights:    []float64{1},
		Evaluators: []model.Evaluator{model.DiscreteEvaluator{Utilities: []float64{0.5, 1}}},
	}
	if diff := cmp.Diff(want, space); diff != "" {
		t.Errorf("Estimate() mismatch (-want +got):\n%s", diff)
	}

	wantLine, err := protocol.EncodeRequest(testDomain, testRanking)
	if err != nil {
		t.Fatal(err)
	}
	if line := <-got; line != wantLine {
		t.Errorf("request line = %q, want %q", line, wantLine)
	}
}

func TestEstimateFailures(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		wantErr error
	}{
		{name: "rejected", reply: "ERR", wantErr: protocol.ErrRejected},
		{name: "garbage", reply: "HELLO;;;1", wantErr: model.ErrProtocol},
		{name: "closed without answer", reply: "", wantErr: model.ErrTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, _ := fakeEstimator(t, tt.reply, false)
			space, err := newTestClient(addr).Estimate(context.Background(), testDomain, testRanking)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Estimate() error = %v, want %v", err, tt.wantErr)
			}
			if space != nil {
				t.Error("Estimate() returned a space on failure")
			}
		})
	}
}

func TestEstimateDeadline(t *testing.T) {
	addr, _ := fakeEstimator(t, "", true)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := newTestClient(addr).Estimate(ctx, testDomain, testRanking)
	if !errors.Is(err, model.ErrTransport) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Estimate() error = %v, want a transport error carrying the deadline", err)
	}
}

func TestEstimateConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	c := NewEstimatorClientWithRetry(addr, time.Second, RetryConfig{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}, nil)
	if _, err := c.Estimate(context.Background(), testDomain, testRanking); !errors.Is(err, model.ErrTransport) {
		t.Fatalf("Estimate() error = %v, want ErrTransport", err)
	}
}

func TestEstimateInvalidRequest(t *testing.T) {
	// Nothing listens here; encoding must fail before any dial.
	c := newTestClient("127.0.0.1:1")
	bad := model.Ranking{Bids: []model.Bid{model.NewBid(model.LabelValue("zzz"))}}
	if _, err := c.Estimate(context.Background(), testDomain, bad); errors.Is(err, model.ErrTransport) || err == nil {
		t.Fatalf("Estimate() error = %v, want an encoding error", err)
	}
}
