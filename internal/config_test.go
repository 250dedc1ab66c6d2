package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/retroboard/pkg/config"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should pass: %v", err)
	}
}

func TestAuthConfig_EmptyModeDefaultsHeader(t *testing.T) {
	cfg := AuthConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to header: %v", err)
	}
	if cfg.Mode != AuthModeHeader {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeHeader)
	}
}

func TestAuthConfig_JWTNeedsSecret(t *testing.T) {
	cfg := AuthConfig{Mode: AuthModeJWT}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("jwt mode without secret should fail")
	}
	if !strings.Contains(strings.ToLower(err.Error()), "secret") {
		t.Errorf("unexpected error: %v", err)
	}

	cfg.Secret = "short"
	if cfg.Validate() == nil {
		t.Fatal("short secret should fail")
	}
	cfg.Secret = "0123456789abcdef0123"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("jwt mode with secret should pass: %v", err)
	}
}

func TestAuthConfig_JWKSNeedsURL(t *testing.T) {
	cfg := AuthConfig{Mode: AuthModeJWKS}
	if cfg.Validate() == nil {
		t.Fatal("jwks mode without url should fail")
	}
	cfg.JWKSURL = "https://idp.example.com/.well-known/jwks.json"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("jwks mode with url should pass: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic"}
	if cfg.Validate() == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestStoreConfig_DriverSections(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Store.Driver = DriverPostgres
	if cfg.Validate() == nil {
		t.Fatal("postgres driver without url should fail")
	}
	cfg.Store.Postgres.URL = "postgres://retro@localhost/retro"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("postgres with url should pass: %v", err)
	}

	cfg.Store.Driver = DriverRedis
	cfg.Store.Redis.Namespace = ""
	if cfg.Validate() == nil {
		t.Fatal("redis without namespace should fail")
	}

	cfg.Store.Driver = "mongo"
	if cfg.Validate() == nil {
		t.Fatal("unknown driver should fail")
	}

	// Only the selected driver's section is checked.
	cfg.Store.Driver = DriverMemory
	cfg.Store.SQLite.Path = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("memory driver should ignore other sections: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("RETRO_TEST_REDIS", "redis://cache:6379/2")
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
app:
  log_level: debug
  http:
    port: 9090
store:
  driver: redis
  redis:
    url: ${RETRO_TEST_REDIS}
    namespace: team-a
auth:
  mode: header
  header: X-Forwarded-Email
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.HTTP.Port != 9090 || cfg.App.LogLevel.String() != "DEBUG" {
		t.Fatalf("app = %+v", cfg.App)
	}
	if cfg.Store.Redis.URL != "redis://cache:6379/2" || cfg.Store.Redis.Namespace != "team-a" {
		t.Fatalf("redis = %+v", cfg.Store.Redis)
	}
	// Keys absent from the file keep their defaults.
	if cfg.App.HTTP.Keepalive != 25*time.Second || cfg.Store.SQLite.PollInterval != time.Second {
		t.Fatalf("defaults lost: %+v %+v", cfg.App.HTTP, cfg.Store.SQLite)
	}
	if cfg.Auth.Header != "X-Forwarded-Email" {
		t.Fatalf("auth = %+v", cfg.Auth)
	}
}

func TestLoadOptionalMissingFile(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := pkgconfig.LoadOptional(filepath.Join(t.TempDir(), "absent.yaml"), cfg); err != nil {
		t.Fatalf("missing optional file should fall back to defaults: %v", err)
	}
	if cfg.Store.Driver != DriverSQLite {
		t.Fatalf("driver = %q", cfg.Store.Driver)
	}
}
