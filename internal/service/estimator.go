package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/constraint"
	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/logger"
	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/model"
	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/protocol"
	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/solver"
)

type Options struct {
	// SolveTimeout bounds one estimate; zero means no deadline of its own.
	SolveTimeout time.Duration
	Solver       solver.Config
	Logger       *slog.Logger
}

// Estimator runs one request through build, solve and verification. It holds
// no per-request state.
type Estimator struct {
	timeout time.Duration
	solver  solver.Config
	log     *slog.Logger
}

func New(opts Options) *Estimator {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Estimator{timeout: opts.SolveTimeout, solver: opts.Solver, log: log}
}

// Estimate derives a utility space consistent with r.
func (e *Estimator) Estimate(ctx context.Context, d model.Domain, r model.Ranking) (*model.UtilitySpace, error) {
	sc := logger.StartSpan(ctx, "estimator.estimate")
	defer sc.End()
	ctx = sc.Context()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	space, err := e.estimate(ctx, d, r)
	if err != nil {
		sc.Fail(err)
		return nil, err
	}

	rho, err := model.RankCorrelation(space, r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrSolverResource, err)
	}
	e.log.InfoContext(ctx, "estimate_completed",
		"issues", len(d.Issues),
		"bids", len(r.Bids),
		"anchored", r.Anchors != nil,
		"rank_correlation", rho,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return space, nil
}

func (e *Estimator) estimate(ctx context.Context, d model.Domain, r model.Ranking) (*model.UtilitySpace, error) {
	sys, err := constraint.NewBuilder(d, r).Build()
	if err != nil {
		return nil, err
	}
	e.log.DebugContext(ctx, "system_built",
		"vars", len(sys.Vars),
		"constraints", len(sys.Constraints),
		"choices", len(sys.Choices),
	)

	space, err := solver.Estimate(ctx, e.solver, sys, d)
	if err != nil {
		return nil, err
	}
	if err := model.CheckRanking(space, r, model.Tolerance); err != nil {
		return nil, fmt.Errorf("%w: estimate does not reproduce the ranking: %v", model.ErrSolverResource, err)
	}
	return space, nil
}

// HandleLine answers one request line with one response line (no newline).
// Every failure is answered with ERR.
func (e *Estimator) HandleLine(ctx context.Context, line string) string {
	sc := logger.StartSpan(ctx, "estimator.handle_line")
	defer sc.End()
	ctx = sc.Context()

	d, r, err := protocol.DecodeRequest(line)
	if err != nil {
		return e.fail(ctx, sc, err, line)
	}
	sc.Span().SetAttributes(
		attribute.Int("estimator.issues", len(d.Issues)),
		attribute.Int("estimator.bids", len(r.Bids)),
	)

	space, err := e.Estimate(ctx, d, r)
	if err != nil {
		return e.fail(ctx, sc, err, line)
	}
	out, err := protocol.EncodeResponse(space)
	if err != nil {
		return e.fail(ctx, sc, err, line)
	}
	return out
}

func (e *Estimator) fail(ctx context.Context, sc *logger.SpanContext, err error, line string) string {
	sc.Fail(err)
	class := model.Class(err)
	sc.Span().SetAttributes(attribute.String("estimator.error_class", class))

	attrs := []any{"error_class", class, "error", err}
	switch {
	case errors.Is(err, model.ErrProtocol):
		attrs = append(attrs, "request", logger.Truncate(line, 256))
		e.log.WarnContext(ctx, "request_rejected", attrs...)
	case errors.Is(err, model.ErrMalformedDomain), errors.Is(err, model.ErrEmptyRanking):
		e.log.WarnContext(ctx, "request_rejected", attrs...)
	case errors.Is(err, model.ErrModelInfeasible):
		e.log.WarnContext(ctx, "model_infeasible", attrs...)
	default:
		e.log.ErrorContext(ctx, "estimate_failed", attrs...)
	}
	return protocol.EncodeError()
}
