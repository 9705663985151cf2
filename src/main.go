package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/config"
	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/logger"
	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/service"
	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/solver"
	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/tcpapi"
	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Setup(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	logger.Setup(cfg)

	solverCfg := solver.Config{
		Tolerance:    cfg.Solver.Tolerance,
		Margin:       cfg.Solver.Margin,
		MaxRounds:    cfg.Solver.MaxRounds,
		PollInterval: cfg.Solver.PollInterval,
	}

	// No solver, no service.
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = solver.Probe(probeCtx, solverCfg)
	cancel()
	if err != nil {
		slog.Error("solver_unavailable", "error", err)
		shutdown(tel)
		os.Exit(1)
	}

	svc := service.New(service.Options{
		SolveTimeout: cfg.SolveTimeout,
		Solver:       solverCfg,
		Logger:       slog.Default(),
	})
	srv := tcpapi.New(tcpapi.Config{
		Addr:            ":" + cfg.Port,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxRequestBytes: cfg.MaxRequestBytes,
		Logger:          slog.Default(),
	}, svc)

	slog.Info("starting", "env", cfg.Env, "port", cfg.Port, "telemetry", cfg.OTel.Enabled())
	if err := srv.ListenAndServe(ctx); err != nil {
		slog.Error("server_failed", "error", err)
		shutdown(tel)
		os.Exit(1)
	}
	slog.Info("stopped")
	shutdown(tel)
}

func shutdown(tel *telemetry.Telemetry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := tel.Shutdown(ctx); err != nil {
		log.Printf("telemetry shutdown: %v", err)
	}
}
