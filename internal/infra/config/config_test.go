package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.JWT.AccessTokenTTL != 30*time.Minute {
		t.Fatalf("expected 30m access ttl, got %v", cfg.JWT.AccessTokenTTL)
	}
	if cfg.JWT.RefreshTokenTTL != 7*24*time.Hour {
		t.Fatalf("expected 7d refresh ttl, got %v", cfg.JWT.RefreshTokenTTL)
	}
	if cfg.Session.MaxConcurrent != 3 {
		t.Fatalf("expected 3 concurrent sessions, got %d", cfg.Session.MaxConcurrent)
	}
	if cfg.RateLimit.WindowDuration != 15*time.Minute || cfg.RateLimit.LoginMaxAttempts != 5 {
		t.Fatalf("unexpected rate limit defaults %+v", cfg.RateLimit)
	}
	if cfg.Encryption.Retention != 90*24*time.Hour || cfg.Encryption.RotationInterval != 24*time.Hour {
		t.Fatalf("unexpected encryption defaults %+v", cfg.Encryption)
	}
	if cfg.RateLimit.DegradationPolicy != "strict" {
		t.Fatalf("expected strict degradation policy, got %q", cfg.RateLimit.DegradationPolicy)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("IAM_SESSION_MAX_CONCURRENT", "5")
	t.Setenv("IAM_ENCRYPTION_ALGORITHM", "chacha20-poly1305")
	t.Setenv("IAM_ROLES_ADMIN_DOMAINS", "example.com,corp.example.com")
	t.Setenv("IAM_RATE_LIMIT_WINDOW_DURATION", "1m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Session.MaxConcurrent != 5 {
		t.Fatalf("expected override to 5, got %d", cfg.Session.MaxConcurrent)
	}
	if cfg.Encryption.Algorithm != "chacha20-poly1305" {
		t.Fatalf("unexpected algorithm %q", cfg.Encryption.Algorithm)
	}
	if len(cfg.Roles.AdminDomains) != 2 || cfg.Roles.AdminDomains[1] != "corp.example.com" {
		t.Fatalf("unexpected admin domains %v", cfg.Roles.AdminDomains)
	}
	if cfg.RateLimit.WindowDuration != time.Minute {
		t.Fatalf("unexpected window %v", cfg.RateLimit.WindowDuration)
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	t.Setenv("IAM_ENCRYPTION_ALGORITHM", "des")
	t.Setenv("IAM_SESSION_MAX_CONCURRENT", "0")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, fragment := range []string{"encryption.algorithm", "session.max_concurrent"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("expected error to mention %s, got %v", fragment, err)
		}
	}
}

func TestLoadRejectsRetentionShorterThanRefreshLifetime(t *testing.T) {
	t.Setenv("IAM_ENCRYPTION_RETENTION", "72h")
	t.Setenv("IAM_ENCRYPTION_ROTATION_INTERVAL", "24h")
	t.Setenv("IAM_JWT_REFRESH_TOKEN_TTL", "168h")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "encryption.retention") {
		t.Fatalf("expected retention validation error, got %v", err)
	}

	t.Setenv("IAM_ENCRYPTION_RETENTION", "192h")
	if _, err := Load(); err != nil {
		t.Fatalf("retention covering rotation plus refresh lifetime should load, got %v", err)
	}
}

func TestLoadRejectsMaxVersionsTooSmallForRefreshLifetime(t *testing.T) {
	t.Setenv("IAM_ENCRYPTION_MAX_VERSIONS", "3")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "encryption.max_versions") {
		t.Fatalf("expected max_versions validation error, got %v", err)
	}

	t.Setenv("IAM_ENCRYPTION_MAX_VERSIONS", "8")
	if _, err := Load(); err != nil {
		t.Fatalf("eight daily versions cover a 7d refresh lifetime, got %v", err)
	}
}

func TestLoadRejectsWildcardOrigin(t *testing.T) {
	t.Setenv("IAM_APP_ALLOWED_ORIGINS", "https://app.example.com,*")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "app.allowed_origins") {
		t.Fatalf("expected wildcard origin to be rejected, got %v", err)
	}

	t.Setenv("IAM_APP_ALLOWED_ORIGINS", "https://app.example.com")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("explicit origin should load, got %v", err)
	}
	if len(cfg.App.AllowedOrigins) != 1 || cfg.App.AllowedOrigins[0] != "https://app.example.com" {
		t.Fatalf("unexpected allowed origins %v", cfg.App.AllowedOrigins)
	}
}
