package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AEX_ENV", "test")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "8090" {
		t.Errorf("Port = %q, want 8090", cfg.Port)
	}
	if cfg.SolveTimeout != 30*time.Second {
		t.Errorf("SolveTimeout = %v", cfg.SolveTimeout)
	}
	if cfg.Solver.MaxRounds != 4096 || cfg.Solver.Margin != 1e-9 {
		t.Errorf("Solver = %+v", cfg.Solver)
	}
	if cfg.OTel.Enabled() {
		t.Error("OTel enabled without an endpoint")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AEX_ENV", "production")
	t.Setenv("PORT", " 9999 ")
	t.Setenv("SOLVE_TIMEOUT", "250ms")
	t.Setenv("MAX_REQUEST_BYTES", "4096")
	t.Setenv("SOLVER_MARGIN", "1e-7")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4318/")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.IsProduction() || cfg.IsDevelopment() {
		t.Errorf("Env = %q", cfg.Env)
	}
	if cfg.Port != "9999" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.SolveTimeout != 250*time.Millisecond {
		t.Errorf("SolveTimeout = %v", cfg.SolveTimeout)
	}
	if cfg.MaxRequestBytes != 4096 {
		t.Errorf("MaxRequestBytes = %d", cfg.MaxRequestBytes)
	}
	if cfg.Solver.Margin != 1e-7 {
		t.Errorf("Solver.Margin = %g", cfg.Solver.Margin)
	}
	if cfg.OTel.Endpoint != "http://collector:4318" || !cfg.OTel.Enabled() {
		t.Errorf("OTel = %+v", cfg.OTel)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "bad duration", key: "SOLVE_TIMEOUT", val: "soon"},
		{name: "bad int", key: "SOLVER_MAX_ROUNDS", val: "many"},
		{name: "bad float", key: "SOLVER_TOLERANCE", val: "tiny"},
		{name: "non positive size", key: "MAX_REQUEST_BYTES", val: "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("AEX_ENV", "test")
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.key) {
				t.Fatalf("Load() error = %v, want one naming %s", err, tt.key)
			}
		})
	}
}
