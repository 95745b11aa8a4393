package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
port: "8080"
logLevel: debug
databaseURL: postgres://graphdj@localhost:5432/graphdj
jwtSecret: change-me
sessionTTL: 5m
refreshTTL: 168h
blobBackend: file
dataDir: /tmp/graphdj
allowedImageExtensions: [".png", ".jpg"]
loginRateLimitPerMinute: 10
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.BlobBackend != "file" || cfg.LoginRateLimitPerMinute != 10 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.AllowedImageExtensions) != 2 {
		t.Fatalf("extensions = %v", cfg.AllowedImageExtensions)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://override")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("API_ALLOWED_IMAGE_EXTENSIONS", ".gif, .webp ,")
	t.Setenv("API_SIGNUP_RATE_LIMIT_PER_MINUTE", "3")
	t.Setenv("API_MAX_UPLOAD_BYTES", "2048")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://override" || cfg.JWTSecret != "from-env" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if got := strings.Join(cfg.AllowedImageExtensions, "|"); got != ".gif|.webp" {
		t.Fatalf("extensions = %q", got)
	}
	if cfg.SignupRateLimitPerMinute != 3 || cfg.MaxUploadBytes != 2048 || !cfg.MinioUseSSL {
		t.Fatalf("numeric overrides not applied: %+v", cfg)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		replace [2]string
		want    string
	}{
		{name: "missing port", replace: [2]string{`port: "8080"`, ""}, want: "port is required"},
		{name: "missing database", replace: [2]string{"databaseURL: postgres://graphdj@localhost:5432/graphdj", ""}, want: "databaseURL is required"},
		{name: "missing secret", replace: [2]string{"jwtSecret: change-me", ""}, want: "jwtSecret is required"},
		{name: "minio without endpoint", replace: [2]string{"blobBackend: file", "blobBackend: minio"}, want: "minioEndpoint"},
		{name: "unknown backend", replace: [2]string{"blobBackend: file", "blobBackend: s3"}, want: "unknown blobBackend"},
		{name: "negative rate", replace: [2]string{"loginRateLimitPerMinute: 10", "loginRateLimitPerMinute: -1"}, want: "rate limits"},
		{name: "bad duration", replace: [2]string{"sessionTTL: 5m", "sessionTTL: soon"}, want: "sessionTTL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := strings.Replace(validYAML, tt.replace[0], tt.replace[1], 1)
			_, err := Load(writeConfig(t, body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestPathHonoursEnv(t *testing.T) {
	t.Setenv("GRAPHDJ_CONFIG", "")
	if Path() != ConfigPath {
		t.Fatalf("default path = %q", Path())
	}
	t.Setenv("GRAPHDJ_CONFIG", "/etc/graphdj.yaml")
	if Path() != "/etc/graphdj.yaml" {
		t.Fatalf("path = %q", Path())
	}
}

func TestParseDuration(t *testing.T) {
	if d, err := ParseDuration("sessionTTL", ""); err != nil || d != 0 {
		t.Fatalf("empty = %v, %v", d, err)
	}
	if d, err := ParseDuration("sessionTTL", "90s"); err != nil || d != 90*time.Second {
		t.Fatalf("90s = %v, %v", d, err)
	}
	if _, err := ParseDuration("sessionTTL", "-1s"); err == nil {
		t.Fatal("expected error for negative duration")
	}
}
