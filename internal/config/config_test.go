package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Server.Host != "0.0.0.0" {
		t.Fatalf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 3000 {
		t.Fatalf("Server.Port = %d, want 3000", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Fatalf("Database.Driver = %q, want %q", cfg.Database.Driver, "sqlite")
	}
	if cfg.Auth.JWTSecret != "change-me-in-production" {
		t.Fatalf("Auth.JWTSecret = %q, want default", cfg.Auth.JWTSecret)
	}
	if cfg.Hooks.MinCommitMsgLength != 10 {
		t.Fatalf("Hooks.MinCommitMsgLength = %d, want 10", cfg.Hooks.MinCommitMsgLength)
	}
	if cfg.Archive.Backend != "local" {
		t.Fatalf("Archive.Backend = %q, want local", cfg.Archive.Backend)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("GITFORGE_HOST", "127.0.0.1")
	t.Setenv("GITFORGE_PORT", "4000")
	t.Setenv("GITFORGE_DB_DRIVER", "postgres")
	t.Setenv("GITFORGE_DB_DSN", "postgres://example")
	t.Setenv("GITFORGE_STORAGE_PATH", "/tmp/repos")
	t.Setenv("GITFORGE_JWT_SECRET", "unit-test-secret-123")
	t.Setenv("GITFORGE_POLICY_URL", "http://policy.internal/check")
	t.Setenv("GITFORGE_DENIED_FILE_PATTERNS", "*.exe, *.iso")
	t.Setenv("GITFORGE_ARCHIVE_BACKEND", "s3")
	t.Setenv("GITFORGE_S3_ENDPOINT", "minio:9000")
	t.Setenv("GITFORGE_S3_BUCKET", "backups")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Fatalf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 4000 {
		t.Fatalf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Database.Driver != "postgres" {
		t.Fatalf("Database.Driver = %q, want %q", cfg.Database.Driver, "postgres")
	}
	if cfg.Database.DSN != "postgres://example" {
		t.Fatalf("Database.DSN = %q, want %q", cfg.Database.DSN, "postgres://example")
	}
	if cfg.Storage.Path != "/tmp/repos" {
		t.Fatalf("Storage.Path = %q, want %q", cfg.Storage.Path, "/tmp/repos")
	}
	if cfg.Auth.JWTSecret != "unit-test-secret-123" {
		t.Fatalf("Auth.JWTSecret = %q, want override", cfg.Auth.JWTSecret)
	}
	if cfg.Hooks.PolicyURL != "http://policy.internal/check" {
		t.Fatalf("Hooks.PolicyURL = %q, want override", cfg.Hooks.PolicyURL)
	}
	if len(cfg.Hooks.DeniedFilePatterns) != 2 || cfg.Hooks.DeniedFilePatterns[0] != "*.exe" {
		t.Fatalf("Hooks.DeniedFilePatterns = %v, want [*.exe *.iso]", cfg.Hooks.DeniedFilePatterns)
	}
	if cfg.Archive.Backend != "s3" {
		t.Fatalf("Archive.Backend = %q, want s3", cfg.Archive.Backend)
	}
	if cfg.Archive.S3.Endpoint != "minio:9000" {
		t.Fatalf("Archive.S3.Endpoint = %q, want minio:9000", cfg.Archive.S3.Endpoint)
	}
	if err := cfg.ValidateServe(); err != nil {
		t.Fatalf("ValidateServe: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
server:
  host: 127.0.0.1
  port: 5555
database:
  driver: sqlite
  dsn: test.db
storage:
  path: data/repos
  temp_dir: /tmp/gitforge
auth:
  jwt_secret: yaml-secret-123456
  token_duration: 12h
hooks:
  policy_url: http://policy.internal/check
  policy_timeout: 2s
  min_commit_msg_length: 20
  denied_file_patterns:
    - "*.exe"
archive:
  backend: local
  local_path: /tmp/archives
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(path): %v", err)
	}

	if cfg.Server.Port != 5555 {
		t.Fatalf("Server.Port = %d, want 5555", cfg.Server.Port)
	}
	if cfg.Storage.TempDir != "/tmp/gitforge" {
		t.Fatalf("Storage.TempDir = %q, want /tmp/gitforge", cfg.Storage.TempDir)
	}
	if cfg.Auth.TokenDuration != "12h" {
		t.Fatalf("Auth.TokenDuration = %q, want %q", cfg.Auth.TokenDuration, "12h")
	}
	if cfg.Hooks.MinCommitMsgLength != 20 {
		t.Fatalf("Hooks.MinCommitMsgLength = %d, want 20", cfg.Hooks.MinCommitMsgLength)
	}
	if got := cfg.PolicyTimeout(); got != 2*time.Second {
		t.Fatalf("PolicyTimeout() = %v, want 2s", got)
	}
	if cfg.Archive.LocalPath != "/tmp/archives" {
		t.Fatalf("Archive.LocalPath = %q, want /tmp/archives", cfg.Archive.LocalPath)
	}
}

func TestValidateServeRejectsWeakSecret(t *testing.T) {
	cfg := Default()
	if err := cfg.ValidateServe(); err == nil {
		t.Fatal("default secret accepted")
	}
	cfg.Auth.JWTSecret = "short"
	if err := cfg.ValidateServe(); err == nil {
		t.Fatal("short secret accepted")
	}
	cfg.Auth.JWTSecret = "long-enough-secret-123"
	cfg.Archive.Backend = "s3"
	if err := cfg.ValidateServe(); err == nil {
		t.Fatal("s3 backend without endpoint accepted")
	}
}

func TestPolicyTimeoutFallsBackOnGarbage(t *testing.T) {
	cfg := Default()
	cfg.Hooks.PolicyTimeout = "not-a-duration"
	if got := cfg.PolicyTimeout(); got != 5*time.Second {
		t.Fatalf("PolicyTimeout() = %v, want 5s fallback", got)
	}
}
