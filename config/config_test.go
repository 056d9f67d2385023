package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T, names ...string) {
	t.Helper()
	for _, n := range names {
		t.Setenv(n, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t, "PORT", "SERVER_PORT", "FITPRO_SERVER_PORT", "OPENAI_API_KEY", "API_KEY", "JWT_SECRET", "DATABASE_URL")
	cfg, err := Load(writeConfig(t, "log_level: debug\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level = %q", cfg.LogLevel)
	}
	if cfg.Server.Port != "8080" || cfg.Auth.TokenTTL != 7*24*time.Hour {
		t.Fatalf("unexpected defaults: port=%q ttl=%s", cfg.Server.Port, cfg.Auth.TokenTTL)
	}
	if cfg.Subscription.MinTxLength != 8 || cfg.Subscription.Amount != "1 USDT" {
		t.Fatalf("unexpected subscription defaults: %+v", cfg.Subscription)
	}
	if cfg.Stripe.Enabled() {
		t.Fatal("stripe must be disabled without keys")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t, "PORT", "SERVER_PORT", "API_KEY", "DATABASE_URL")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("FITPRO_AUTH_JWT_SECRET", "secret")
	t.Setenv("FITPRO_DB_DRIVER", "sqlite")

	cfg, err := Load(writeConfig(t, "ai:\n  model: from-file\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AI.APIKey != "sk-test" || cfg.Auth.JWTSecret != "secret" || cfg.DB.Driver != "sqlite" {
		t.Fatalf("env not applied: %+v %+v %+v", cfg.AI, cfg.Auth, cfg.DB)
	}
	if cfg.AI.Model != "from-file" {
		t.Fatalf("model = %q", cfg.AI.Model)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateReportsMissing(t *testing.T) {
	err := (&Config{DB: DBConfig{Driver: "mysql"}}).Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"ai.api_key", "auth.jwt_secret", "db.driver"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}

func TestPostgresDSN(t *testing.T) {
	c := DBConfig{User: "u", Password: "p", Host: "h", Port: "5432", DBName: "d", SSLMode: "disable"}
	if got, want := c.PostgresDSN(), "postgres://u:p@h:5432/d?sslmode=disable"; got != want {
		t.Fatalf("dsn = %q, want %q", got, want)
	}
	c.URL = "postgres://override"
	if c.PostgresDSN() != "postgres://override" {
		t.Fatal("URL must take precedence")
	}
}

func TestPostgresDSNEscapesCredentials(t *testing.T) {
	c := DBConfig{User: "fit@pro", Password: "p@ss/w:rd?#", Host: "db.internal", Port: "6543", DBName: "fitpro", SSLMode: "require"}
	u, err := url.Parse(c.PostgresDSN())
	if err != nil {
		t.Fatalf("parse %q: %v", c.PostgresDSN(), err)
	}
	pw, _ := u.User.Password()
	if u.User.Username() != "fit@pro" || pw != "p@ss/w:rd?#" {
		t.Fatalf("credentials = %q / %q", u.User.Username(), pw)
	}
	if u.Host != "db.internal:6543" || u.Path != "/fitpro" || u.Query().Get("sslmode") != "require" {
		t.Fatalf("dsn = %q", c.PostgresDSN())
	}
}
