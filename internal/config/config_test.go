package config

import (
	"reflect"
	"testing"
	"time"
)

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose")
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	// Server
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // normalizes to "release"

	// Logging
	t.Setenv("LOG_LEVEL", "warning") // normalizes to "warn"
	t.Setenv("LOG_PRETTY", "yes")

	// App
	t.Setenv("DB_PATH", "db.sqlite")
	t.Setenv("SESSION_DEFAULT_TIMEOUT", "7m")
	t.Setenv("SESSION_RETENTION", "48h")
	t.Setenv("OPERATIONAL_TZ", "Asia/Kolkata")
	t.Setenv("SWEEP_CRON", "*/5 * * * *")
	t.Setenv("BATCH_STALE_GRACE", "20m")
	t.Setenv("ALLOWED_RADII_KM", "10, 2 ,5")

	// Rate limiting: invalid values fall back to defaults
	t.Setenv("RATE_RPS", "x")
	t.Setenv("RATE_BURST", "nope")

	// Web protection
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")

	// OTEL
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}
	if cfg.LogLevel != "warn" || !cfg.LogPretty {
		t.Fatalf("logging fields unexpected: %+v", cfg)
	}
	if cfg.DBPath != "db.sqlite" {
		t.Fatalf("DBPath = %q", cfg.DBPath)
	}
	if cfg.Session.DefaultTimeout != 7*time.Minute || cfg.Session.Retention != 48*time.Hour {
		t.Fatalf("session fields unexpected: %+v", cfg.Session)
	}
	if cfg.Alerts.OperationalTZ != "Asia/Kolkata" ||
		cfg.Alerts.SweepSpec != "*/5 * * * *" ||
		cfg.Alerts.StaleGrace != 20*time.Minute {
		t.Fatalf("alert fields unexpected: %+v", cfg.Alerts)
	}
	// Radii come back sorted.
	if !reflect.DeepEqual(cfg.Alerts.AllowedRadiiKm, []float64{2, 5, 10}) {
		t.Fatalf("radii = %v", cfg.Alerts.AllowedRadiiKm)
	}
	if cfg.RateRPS != 5.0 || cfg.RateBurst != 10 {
		t.Fatalf("rate fields unexpected: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors = %v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure ||
		cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel fields unexpected: %+v", cfg.OTEL)
	}

	if loc := cfg.OperationalLocation(); loc.String() != "Asia/Kolkata" {
		t.Fatalf("location = %v", loc)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		k, v string
	}{
		{"bad log level", "LOG_LEVEL", "verbose"},
		{"empty port", "PORT", " "},
		{"empty db path", "DB_PATH", " "},
		{"bad tz", "OPERATIONAL_TZ", "Mars/OlympusMons"},
		{"negative radius", "ALLOWED_RADII_KM", "-5"},
		{"zero burst", "RATE_BURST", "0"},
		{"bad sample ratio", "OTEL_TRACES_SAMPLER_ARG", "1.5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.k, tc.v)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() should fail with %s=%q", tc.k, tc.v)
			}
		})
	}
}
