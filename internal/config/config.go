// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server settings,
// logging, database paths, rate limiting, observability, and the alerting
// policy knobs (operational time zone, session timeouts, sweep cadence,
// allowed subscription radii).
package config

import (
	"errors"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// SessionConfig groups the conversation-session policy knobs.
type SessionConfig struct {
	// DefaultTimeout applies to sessions parked at the main menu; flows
	// declare their own timeouts.
	DefaultTimeout time.Duration // SESSION_DEFAULT_TIMEOUT
	// Retention is how long an expired session row is kept before the
	// sweep prunes it.
	Retention time.Duration // SESSION_RETENTION
}

// AlertConfig groups the notification policy knobs.
type AlertConfig struct {
	// OperationalTZ is the single fixed zone all morning/twice-daily/weekly
	// dispatch times are evaluated in.
	OperationalTZ string // OPERATIONAL_TZ (IANA name)
	// SweepSpec is the 5-field cron expression for the scheduler sweep.
	SweepSpec string // SWEEP_CRON
	// StaleGrace is how long a batch may sit in processing before the sweep
	// requeues it (crash recovery).
	StaleGrace time.Duration // BATCH_STALE_GRACE
	// AllowedRadiiKm is the closed set of subscription radii.
	AllowedRadiiKm []float64 // ALLOWED_RADII_KM, CSV
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool

	// App
	DBPath  string // SQLite path
	Session SessionConfig
	Alerts  AlertConfig

	// Rate limiting
	RateRPS   float64
	RateBurst int

	// Web protection
	CORS CORSConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables, applies defaults,
// normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// App
		DBPath: getenv("DB_PATH", "app.db"),
		Session: SessionConfig{
			DefaultTimeout: getdur("SESSION_DEFAULT_TIMEOUT", 10*time.Minute),
			Retention:      getdur("SESSION_RETENTION", 72*time.Hour),
		},
		Alerts: AlertConfig{
			OperationalTZ:  getenv("OPERATIONAL_TZ", "UTC"),
			SweepSpec:      getenv("SWEEP_CRON", "*/1 * * * *"),
			StaleGrace:     getdur("BATCH_STALE_GRACE", 10*time.Minute),
			AllowedRadiiKm: getfloats("ALLOWED_RADII_KM", []float64{2, 5, 10}),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "nearbuy"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	sort.Float64s(cfg.Alerts.AllowedRadiiKm)

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.Session.DefaultTimeout <= 0 {
		return cfg, errors.New("SESSION_DEFAULT_TIMEOUT must be > 0")
	}
	if cfg.Session.Retention <= 0 {
		return cfg, errors.New("SESSION_RETENTION must be > 0")
	}
	if _, err := time.LoadLocation(cfg.Alerts.OperationalTZ); err != nil {
		return cfg, errors.New("OPERATIONAL_TZ must be a valid IANA zone name")
	}
	if cfg.Alerts.StaleGrace <= 0 {
		return cfg, errors.New("BATCH_STALE_GRACE must be > 0")
	}
	if len(cfg.Alerts.AllowedRadiiKm) == 0 {
		return cfg, errors.New("ALLOWED_RADII_KM must not be empty")
	}
	for _, r := range cfg.Alerts.AllowedRadiiKm {
		if r <= 0 {
			return cfg, errors.New("ALLOWED_RADII_KM values must be > 0")
		}
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// OperationalLocation resolves the configured operational time zone. Load
// has already validated the name, so failures only occur when the zone
// database changes underneath the process; UTC is the fallback.
func (c Config) OperationalLocation() *time.Location {
	loc, err := time.LoadLocation(c.Alerts.OperationalTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getfloats(k string, def []float64) []float64 {
	v, ok := os.LookupEnv(k)
	if !ok || v == "" {
		return def
	}
	var out []float64
	for _, p := range strings.Split(v, ",") {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return def
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
