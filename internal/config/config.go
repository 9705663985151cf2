package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env  string
	Port string

	SolveTimeout    time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxRequestBytes int

	Solver SolverConfig
	OTel   OTelConfig
}

type SolverConfig struct {
	Tolerance    float64
	Margin       float64
	MaxRounds    int
	PollInterval time.Duration
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

// Load reads the environment. In development a local .env file is loaded
// first; variables already set win over it.
func Load() (Config, error) {
	if getenv("AEX_ENV", "development") == "development" {
		_ = godotenv.Load(".env")
	}

	var errs []string
	dur := func(k string, def time.Duration) time.Duration {
		v, err := getenvDuration(k, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}
	num := func(k string, def int) int {
		v, err := getenvInt(k, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}
	float := func(k string, def float64) float64 {
		v, err := getenvFloat(k, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}

	cfg := Config{
		Env:             getenv("AEX_ENV", "development"),
		Port:            getenv("PORT", "8090"),
		SolveTimeout:    dur("SOLVE_TIMEOUT", 30*time.Second),
		ReadTimeout:     dur("READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    dur("WRITE_TIMEOUT", 10*time.Second),
		MaxRequestBytes: num("MAX_REQUEST_BYTES", 1<<20),
		Solver: SolverConfig{
			Tolerance:    float("SOLVER_TOLERANCE", 1e-10),
			Margin:       float("SOLVER_MARGIN", 1e-9),
			MaxRounds:    num("SOLVER_MAX_ROUNDS", 4096),
			PollInterval: dur("SOLVER_POLL_INTERVAL", time.Millisecond),
		},
		OTel: OTelConfig{
			Endpoint:       strings.TrimRight(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""), "/"),
			Headers:        getenv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getenv("OTEL_SERVICE_NAME", "aex-preference-estimator"),
			ServiceVersion: getenv("OTEL_SERVICE_VERSION", "dev"),
		},
	}
	if len(errs) > 0 {
		return Config{}, fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	if cfg.MaxRequestBytes <= 0 {
		return Config{}, fmt.Errorf("invalid config: MAX_REQUEST_BYTES must be positive")
	}
	return cfg, nil
}

func (c Config) IsProduction() bool { return c.Env == "production" }
func (c Config) IsDevelopment() bool { return c.Env == "development" }

func (c OTelConfig) Enabled() bool { return c.Endpoint != "" }

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getenvDuration(k string, def time.Duration) (time.Duration, error) {
	v := getenv(k, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %v", k, err)
	}
	return d, nil
}

func getenvInt(k string, def int) (int, error) {
	v := getenv(k, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %v", k, err)
	}
	return n, nil
}

func getenvFloat(k string, def float64) (float64, error) {
	v := getenv(k, "")
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("%s: %v", k, err)
	}
	return f, nil
}
