// Package tcpapi serves the line protocol: one connection, one request line,
// one response line, close. Connections are handled strictly one at a time.
package tcpapi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/logger"
	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/model"
	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/protocol"
)

// Handler turns one request line into one response line.
type Handler interface {
	HandleLine(ctx context.Context, line string) string
}

type HandlerFunc func(ctx context.Context, line string) string

func (f HandlerFunc) HandleLine(ctx context.Context, line string) string { return f(ctx, line) }

type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxRequestBytes int
	Logger          *slog.Logger
}

type Server struct {
	cfg     Config
	handler Handler
	log     *slog.Logger

	mu sync.Mutex
	ln net.Listener
}

var errLineTooLong = errors.New("request line too long")

func New(cfg Config, h Handler) *Server {
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = 1 << 20
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{cfg: cfg, handler: h, log: log}
}

// ListenAndServe binds cfg.Addr and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Addr is the bound address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections on ln until ctx ends, then closes ln and returns
// nil. A connection in flight is finished first.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stop:
		}
	}()
	defer ln.Close()

	s.log.InfoContext(ctx, "listening", "addr", ln.Addr().String())

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isTemporary(err) {
				if delay == 0 {
					delay = 5 * time.Millisecond
				} else {
					delay *= 2
				}
				if delay > time.Second {
					delay = time.Second
				}
				s.log.WarnContext(ctx, "accept_failed", "error", err, "retry_in", delay)
				select {
				case <-time.After(delay):
					continue
				case <-ctx.Done():
					return nil
				}
			}
			return fmt.Errorf("accept: %w", err)
		}
		delay = 0
		s.serveConn(ctx, conn)
	}
}

func isTemporary(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		RequestID:  uuid.NewString(),
		RemoteAddr: conn.RemoteAddr().String(),
		Component:  "estimator.tcpapi",
	})
	sc := logger.StartSpan(ctx, "tcpapi.request", trace.WithSpanKind(trace.SpanKindServer))
	defer sc.End()
	ctx = sc.Context()
	start := time.Now()

	var resp string
	line, err := s.readLine(conn)
	switch {
	case errors.Is(err, errLineTooLong):
		s.log.WarnContext(ctx, "request_rejected", "error_class", model.Class(model.ErrProtocol), "error", err, "limit", s.cfg.MaxRequestBytes)
		resp = protocol.EncodeError()
	case err != nil:
		sc.Fail(err)
		s.log.InfoContext(ctx, "connection_abandoned", "error_class", model.Class(err), "error", err)
		return
	default:
		resp = s.handle(ctx, line)
	}

	if err := s.writeLine(conn, resp); err != nil {
		sc.Fail(err)
		s.log.InfoContext(ctx, "connection_abandoned", "error_class", model.Class(err), "error", err)
		return
	}

	op, _, _ := strings.Cut(resp, protocol.Delimiter)
	sc.Span().SetAttributes(attribute.String("tcpapi.response", op))
	s.log.InfoContext(ctx, "request_served",
		"response", op,
		"request_bytes", len(line),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// readLine reads one newline-terminated line of at most MaxRequestBytes. A
// peer that half-closes after a partial line still gets it handled.
func (s *Server) readLine(conn net.Conn) (string, error) {
	if s.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}
	limit := s.cfg.MaxRequestBytes
	br := bufio.NewReader(io.LimitReader(conn, int64(limit)+1))
	line, err := br.ReadString('\n')
	switch {
	case err == nil:
		return strings.TrimRight(line, "\r\n"), nil
	case errors.Is(err, io.EOF) && len(line) > limit:
		// Consume the rest so the peer reads ERR instead of a reset.
		discardLine(conn)
		return "", errLineTooLong
	case errors.Is(err, io.EOF) && line != "":
		return strings.TrimRight(line, "\r"), nil
	default:
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return "", fmt.Errorf("%w: read: %w", model.ErrTransport, err)
	}
}

// discardLine drops input up to the next newline or read error.
func discardLine(r io.Reader) {
	br := bufio.NewReader(r)
	for {
		if _, err := br.ReadSlice('\n'); err != bufio.ErrBufferFull {
			return
		}
	}
}

func (s *Server) writeLine(conn net.Conn, resp string) error {
	if s.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	if _, err := io.WriteString(conn, resp+"\n"); err != nil {
		return fmt.Errorf("%w: write: %w", model.ErrTransport, err)
	}
	return nil
}

// handle runs the handler, turning a panic into ERR.
func (s *Server) handle(ctx context.Context, line string) (resp string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.ErrorContext(ctx, "handler_panic", "panic", r, "stack", string(debug.Stack()))
			resp = protocol.EncodeError()
		}
	}()
	return s.handler.HandleLine(ctx, line)
}
