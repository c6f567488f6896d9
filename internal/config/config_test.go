package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("OTT_DB_DSN", "host=localhost user=test dbname=test sslmode=disable")
	t.Setenv("OTT_JWT_SIGNING_KEY", "supersecret")
}

func TestLoadReadsCriticalEnvKeys(t *testing.T) {
	setRequired(t)
	t.Setenv("OTT_ENV", "development")
	t.Setenv("OTT_GATEWAY_TIMEOUT_SECONDS", "3")
	t.Setenv("OTT_EVENT_BUS", "NATS")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBDSN == "" {
		t.Fatal("expected DB DSN to be set")
	}
	if cfg.JWTSigningKey != "supersecret" {
		t.Fatalf("unexpected jwt signing key: %q", cfg.JWTSigningKey)
	}
	if cfg.GatewayTimeout() != 3*time.Second {
		t.Errorf("expected 3s gateway timeout, got %v", cfg.GatewayTimeout())
	}
	if cfg.EventBus != EventBusNATS {
		t.Errorf("expected nats bus, got %q", cfg.EventBus)
	}
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.SweepInterval() != time.Minute || cfg.DefaultReconnectWindowSeconds != 60 || cfg.StoreMaxAttempts != 3 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.EventBus != EventBusMemory || cfg.WebhookTolerance() != 5*time.Minute {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadFileOverlayEnvWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ottlive.yaml")
	body := []byte("db_backend: sqlite\ndb_dsn: file.db\njwt_signing_key: from-file\nsweep_interval_seconds: 15\nevent_bus: redis\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("OTT_CONFIG_FILE", path)
	t.Setenv("OTT_JWT_SIGNING_KEY", "from-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBBackend != DatabaseSQLite || cfg.DBDSN != "file.db" {
		t.Errorf("expected file values, got backend=%q dsn=%q", cfg.DBBackend, cfg.DBDSN)
	}
	if cfg.JWTSigningKey != "from-env" {
		t.Errorf("expected env to win, got %q", cfg.JWTSigningKey)
	}
	if cfg.SweepIntervalSeconds != 15 || cfg.EventBus != EventBusRedis {
		t.Errorf("expected file overlay, got %+v", cfg)
	}
	if cfg.HTTPPort != 8080 {
		t.Errorf("keys absent from the file keep defaults, got port %d", cfg.HTTPPort)
	}
}

func TestLoadRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("http_port: [nope"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("OTT_CONFIG_FILE", path)
	setRequired(t)

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing dsn", map[string]string{"OTT_DB_DSN": "", "OTT_JWT_SIGNING_KEY": "k"}},
		{"missing jwt key", map[string]string{"OTT_DB_DSN": "x", "OTT_JWT_SIGNING_KEY": ""}},
		{"bad backend", map[string]string{"OTT_DB_DSN": "x", "OTT_JWT_SIGNING_KEY": "k", "OTT_DB_BACKEND": "oracle"}},
		{"bad bus", map[string]string{"OTT_DB_DSN": "x", "OTT_JWT_SIGNING_KEY": "k", "OTT_EVENT_BUS": "kafka"}},
		{"negative window", map[string]string{"OTT_DB_DSN": "x", "OTT_JWT_SIGNING_KEY": "k", "OTT_DEFAULT_RECONNECT_WINDOW_SECONDS": "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadProductionRequiresRemoteCredentials(t *testing.T) {
	setRequired(t)
	t.Setenv("OTT_ENV", "production")

	if _, err := Load(); err == nil {
		t.Fatal("expected production config load to fail without gateway credentials")
	}

	t.Setenv("OTT_GATEWAY_TOKEN_ID", "id")
	t.Setenv("OTT_GATEWAY_TOKEN_SECRET", "secret")
	if _, err := Load(); err == nil {
		t.Fatal("expected production config load to fail without webhook secret")
	}

	t.Setenv("OTT_WEBHOOK_SECRET", "whsec")
	if _, err := Load(); err != nil {
		t.Fatalf("expected production config with credentials to succeed: %v", err)
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	setRequired(t)
	t.Setenv("MUX_TOKEN_ID", "legacy")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) != 1 {
		t.Fatalf("expected one legacy env warning, got %v", cfg.LegacyEnvWarnings)
	}
}
