package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // без .env
	p := writeConfig(t, "postgres:\n  dsn: postgres://localhost/test\n")

	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.HTTP.Addr != ":8080" || c.App.Timezone != "UTC" || c.Reports.Driver != "fs" {
		t.Fatalf("defaults not applied: %+v", c)
	}
	if c.Ledger.LockTimeout != 2*time.Second {
		t.Fatalf("lock timeout %v", c.Ledger.LockTimeout)
	}
	if c.Tracing.SampleRatio != 1 || c.Kafka.Topic == "" {
		t.Fatalf("tracing/kafka defaults: %+v %+v", c.Tracing, c.Kafka)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	p := writeConfig(t, `
app:
  env: dev
  timezone: Europe/Moscow
postgres:
  dsn: postgres://file/db
ledger:
  lock_timeout: 5s
`)
	t.Setenv("APP_POSTGRES_DSN", "postgres://env/db")
	t.Setenv("APP_LEDGER_LOCK_TIMEOUT", "750ms")
	t.Setenv("APP_REPORTS_DRIVER", "s3")
	t.Setenv("APP_REPORTS_S3_BUCKET", "stock-reports")

	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Postgres.DSN != "postgres://env/db" {
		t.Fatalf("dsn %q", c.Postgres.DSN)
	}
	if c.Ledger.LockTimeout != 750*time.Millisecond {
		t.Fatalf("lock timeout %v", c.Ledger.LockTimeout)
	}
	if c.Reports.Driver != "s3" || c.Reports.S3.Bucket != "stock-reports" {
		t.Fatalf("reports %+v", c.Reports)
	}
	if c.App.Env != "dev" || c.App.Timezone != "Europe/Moscow" {
		t.Fatalf("app %+v", c.App)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("APP_POSTGRES_DSN=postgres://dotenv/db\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// gotenv выставляет переменную процесса; вернём как было
	t.Setenv("APP_POSTGRES_DSN", "")
	_ = os.Unsetenv("APP_POSTGRES_DSN")

	c, err := Load(writeConfig(t, "app:\n  env: prod\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Postgres.DSN != "postgres://dotenv/db" {
		t.Fatalf("dsn %q", c.Postgres.DSN)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no dsn", "app:\n  env: prod\n"},
		{"bad timezone", "postgres:\n  dsn: x\napp:\n  timezone: Mars/Olympus\n"},
		{"s3 without bucket", "postgres:\n  dsn: x\nreports:\n  driver: s3\n"},
		{"unknown driver", "postgres:\n  dsn: x\nreports:\n  driver: ftp\n"},
		{"bad ratio", "postgres:\n  dsn: x\ntracing:\n  sample_ratio: 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestPath(t *testing.T) {
	t.Setenv("APP_CONFIG", "")
	if Path() != DefaultPath {
		t.Fatalf("default path %q", Path())
	}
	t.Setenv("APP_CONFIG", "/etc/coffee.yaml")
	if Path() != "/etc/coffee.yaml" {
		t.Fatalf("env path %q", Path())
	}
}
