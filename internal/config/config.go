package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Auth     AuthConfig     `yaml:"auth"`
	Hooks    HooksConfig    `yaml:"hooks"`
	Archive  ArchiveConfig  `yaml:"archive"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`    // file path for sqlite, connection string for postgres
}

type StorageConfig struct {
	Path    string `yaml:"path"`     // root of the sharded bare-repo tree
	TempDir string `yaml:"temp_dir"` // scratch space for disposable clones; empty means os.TempDir
}

type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	TokenDuration string `yaml:"token_duration"` // e.g. "24h"
}

// HooksConfig drives the server-side hook chain installed into every repo.
type HooksConfig struct {
	PolicyURL          string   `yaml:"policy_url"` // external policy API consulted on push; empty disables
	EventURL           string   `yaml:"event_url"`  // post-receive event sink; empty disables
	PolicyTimeout      string   `yaml:"policy_timeout"`
	MinCommitMsgLength int      `yaml:"min_commit_msg_length"`
	DeniedFilePatterns []string `yaml:"denied_file_patterns"`
	SelfPath           string   `yaml:"self_path"` // gitforge binary the hook stubs exec; defaults to os.Executable
}

type ArchiveConfig struct {
	Backend   string   `yaml:"backend"` // "local" or "s3"
	LocalPath string   `yaml:"local_path"`
	S3        S3Config `yaml:"s3"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) PolicyTimeout() time.Duration {
	d, err := time.ParseDuration(c.Hooks.PolicyTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

func (c *Config) ValidateServe() error {
	if c == nil {
		return fmt.Errorf("config is required")
	}
	if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("GITFORGE_JWT_SECRET must be set to a non-default value")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("GITFORGE_JWT_SECRET must be at least 16 characters (current length: %d)", len(c.Auth.JWTSecret))
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path must be configured")
	}
	switch c.Archive.Backend {
	case "", "local":
	case "s3":
		if c.Archive.S3.Endpoint == "" || c.Archive.S3.Bucket == "" {
			return fmt.Errorf("archive.s3 requires endpoint and bucket")
		}
	default:
		return fmt.Errorf("unknown archive backend %q", c.Archive.Backend)
	}
	return nil
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "gitforge.db",
		},
		Storage: StorageConfig{
			Path: "data/repos",
		},
		Auth: AuthConfig{
			JWTSecret:     "change-me-in-production",
			TokenDuration: "24h",
		},
		Hooks: HooksConfig{
			PolicyTimeout:      "5s",
			MinCommitMsgLength: 10,
		},
		Archive: ArchiveConfig{
			Backend:   "local",
			LocalPath: "data/archives",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("GITFORGE_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("GITFORGE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("GITFORGE_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("GITFORGE_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("GITFORGE_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("GITFORGE_STORAGE_TEMP_DIR"); v != "" {
		cfg.Storage.TempDir = v
	}
	if v := os.Getenv("GITFORGE_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("GITFORGE_POLICY_URL"); v != "" {
		cfg.Hooks.PolicyURL = v
	}
	if v := os.Getenv("GITFORGE_EVENT_URL"); v != "" {
		cfg.Hooks.EventURL = v
	}
	if v := os.Getenv("GITFORGE_POLICY_TIMEOUT"); v != "" {
		cfg.Hooks.PolicyTimeout = v
	}
	if v := os.Getenv("GITFORGE_MIN_COMMIT_MSG_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Hooks.MinCommitMsgLength = n
		}
	}
	if v := os.Getenv("GITFORGE_DENIED_FILE_PATTERNS"); v != "" {
		cfg.Hooks.DeniedFilePatterns = parseCSV(v)
	}
	if v := os.Getenv("GITFORGE_ARCHIVE_BACKEND"); v != "" {
		cfg.Archive.Backend = v
	}
	if v := os.Getenv("GITFORGE_ARCHIVE_LOCAL_PATH"); v != "" {
		cfg.Archive.LocalPath = v
	}
	if v := os.Getenv("GITFORGE_S3_ENDPOINT"); v != "" {
		cfg.Archive.S3.Endpoint = v
	}
	if v := os.Getenv("GITFORGE_S3_REGION"); v != "" {
		cfg.Archive.S3.Region = v
	}
	if v := os.Getenv("GITFORGE_S3_BUCKET"); v != "" {
		cfg.Archive.S3.Bucket = v
	}
	if v := os.Getenv("GITFORGE_S3_ACCESS_KEY"); v != "" {
		cfg.Archive.S3.AccessKey = v
	}
	if v := os.Getenv("GITFORGE_S3_SECRET_KEY"); v != "" {
		cfg.Archive.S3.SecretKey = v
	}
	if v := os.Getenv("GITFORGE_S3_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Archive.S3.UseSSL = b
		}
	}
}

func parseCSV(v string) []string {
	raw := strings.TrimSpace(v)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}
		out = append(out, value)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
