// Package clients holds the client a negotiating agent uses to ask the
// estimator for a utility space.
package clients

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/logger"
	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/model"
	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/protocol"
)

// RetryConfig bounds redials. Only the dial is retried; a request that
// reached the server is never sent twice.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

type EstimatorClient struct {
	addr        string
	dialTimeout time.Duration
	retry       RetryConfig
	log         *slog.Logger
}

func NewEstimatorClient(addr string, dialTimeout time.Duration, log *slog.Logger) *EstimatorClient {
	return NewEstimatorClientWithRetry(addr, dialTimeout, DefaultRetryConfig(), log)
}

func NewEstimatorClientWithRetry(addr string, dialTimeout time.Duration, retry RetryConfig, log *slog.Logger) *EstimatorClient {
	if log == nil {
		log = slog.Default()
	}
	return &EstimatorClient{addr: addr, dialTimeout: dialTimeout, retry: retry, log: log}
}

// Estimate sends one request over a fresh connection and decodes the answer
// against d. An ERR answer is returned as protocol.ErrRejected; I/O failures
// wrap model.ErrTransport.
func (c *EstimatorClient) Estimate(ctx context.Context, d model.Domain, r model.Ranking) (*model.UtilitySpace, error) {
	req, err := protocol.EncodeRequest(d, r)
	if err != nil {
		return nil, err
	}

	sc := logger.StartSpan(ctx, "estimator_client.estimate", trace.WithSpanKind(trace.SpanKindClient))
	defer sc.End()
	ctx = sc.Context()
	sc.Span().SetAttributes(attribute.String("net.peer.address", c.addr))

	line, err := c.roundTrip(ctx, req)
	if err != nil {
		sc.Fail(err)
		return nil, err
	}
	space, err := protocol.DecodeResponse(line, d)
	if err != nil {
		sc.Fail(err)
		return nil, err
	}
	return space, nil
}

func (c *EstimatorClient) roundTrip(ctx context.Context, req string) (string, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	// Closing the connection unblocks any pending read or write once ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if _, err := io.WriteString(conn, req+"\n"); err != nil {
		return "", c.transportErr(ctx, "write", err)
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return "", c.transportErr(ctx, "read", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *EstimatorClient) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.dialTimeout}
	backoff := c.retry.InitialBackoff
	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			c.log.DebugContext(ctx, "redialing_estimator", "addr", c.addr, "attempt", attempt, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, c.transportErr(ctx, "dial", ctx.Err())
			}
			backoff *= 2
			if backoff > c.retry.MaxBackoff {
				backoff = c.retry.MaxBackoff
			}
		}
		conn, err := d.DialContext(ctx, "tcp", c.addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, c.transportErr(ctx, "dial", lastErr)
}

func (c *EstimatorClient) transportErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	return fmt.Errorf("%w: %s %s: %w", model.ErrTransport, op, c.addr, err)
}
