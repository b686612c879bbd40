package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App        AppSettings        `mapstructure:"app"`
	Postgres   PostgresSettings   `mapstructure:"postgres"`
	Redis      RedisSettings      `mapstructure:"redis"`
	Kafka      KafkaSettings      `mapstructure:"kafka"`
	JWT        JWTSettings        `mapstructure:"jwt"`
	Session    SessionSettings    `mapstructure:"session"`
	RateLimit  RateLimitSettings  `mapstructure:"rate_limit"`
	Encryption EncryptionSettings `mapstructure:"encryption"`
	OAuth      OAuthSettings      `mapstructure:"oauth"`
	Roles      RoleSettings       `mapstructure:"roles"`
	Telemetry  TelemetrySettings  `mapstructure:"telemetry"`
}

type AppSettings struct {
	Name            string        `mapstructure:"name"`
	Env             string        `mapstructure:"env"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type PostgresSettings struct {
	Enabled           bool          `mapstructure:"enabled"`
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	AutoMigrate       bool          `mapstructure:"auto_migrate"`
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	DB               int           `mapstructure:"db"`
	Password         string        `mapstructure:"password"`
	TLSEnabled       bool          `mapstructure:"tls_enabled"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	RevocationPrefix string        `mapstructure:"revocation_prefix"`
	RateLimitPrefix  string        `mapstructure:"rate_limit_prefix"`
	KeyRingPrefix    string        `mapstructure:"key_ring_prefix"`
}

// KafkaSettings configures the audit event producer. Without brokers events are only logged.
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	// ConsumeRevocations subscribes each instance to revocation events to warm its local denylist.
	ConsumeRevocations bool          `mapstructure:"consume_revocations"`
	MaxEventLag        time.Duration `mapstructure:"max_event_lag"`
}

type JWTSettings struct {
	KeyDirectory    string        `mapstructure:"key_directory"`
	Issuer          string        `mapstructure:"issuer"`
	Audience        []string      `mapstructure:"audience"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// SessionSettings configures concurrent-session policy.
type SessionSettings struct {
	MaxConcurrent              int    `mapstructure:"max_concurrent"`
	StrictIPPinning            bool   `mapstructure:"strict_ip_pinning"`
	KeyPrefix                  string `mapstructure:"key_prefix"`
	LogoutFingerprintPrefixLen int    `mapstructure:"logout_fingerprint_prefix_len"`
}

// RateLimitSettings configures the fixed windows guarding authentication operations.
type RateLimitSettings struct {
	WindowDuration     time.Duration `mapstructure:"window_duration"`
	LoginMaxAttempts   int           `mapstructure:"login_max_attempts"`
	RefreshMaxAttempts int           `mapstructure:"refresh_max_attempts"`
	StoreTimeout       time.Duration `mapstructure:"store_timeout"`
	DegradationPolicy  string        `mapstructure:"degradation_policy"`
}

// EncryptionSettings configures the refresh-token key manager.
type EncryptionSettings struct {
	Algorithm        string        `mapstructure:"algorithm"`
	RotationInterval time.Duration `mapstructure:"rotation_interval"`
	Retention        time.Duration `mapstructure:"retention"`
	MaxVersions      int           `mapstructure:"max_versions"`
	SyncInterval     time.Duration `mapstructure:"sync_interval"`
	InitialKey       string        `mapstructure:"initial_key"`
	Passphrase       string        `mapstructure:"passphrase"`
	PassphraseSalt   string        `mapstructure:"passphrase_salt"`
}

type OAuthSettings struct {
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	RedirectURL  string        `mapstructure:"redirect_url"`
	AuthURL      string        `mapstructure:"auth_url"`
	TokenURL     string        `mapstructure:"token_url"`
	UserInfoURL  string        `mapstructure:"userinfo_url"`
	Issuer       string        `mapstructure:"issuer"`
	Scopes       []string      `mapstructure:"scopes"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// RoleSettings drives the email-based role policy behind the directory.
type RoleSettings struct {
	AdminDomains     []string `mapstructure:"admin_domains"`
	SuperAdminEmails []string `mapstructure:"super_admin_emails"`
	DirectoryEnabled bool     `mapstructure:"directory_enabled"`
}

type TelemetrySettings struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("IAM")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.shutdown_timeout",
		"app.trusted_proxies",
		"app.allowed_origins",
		"postgres.enabled",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"postgres.auto_migrate",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.dial_timeout",
		"redis.revocation_prefix",
		"redis.rate_limit_prefix",
		"redis.key_ring_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.consume_revocations",
		"kafka.max_event_lag",
		"jwt.key_directory",
		"jwt.issuer",
		"jwt.audience",
		"jwt.access_token_ttl",
		"jwt.refresh_token_ttl",
		"session.max_concurrent",
		"session.strict_ip_pinning",
		"session.key_prefix",
		"session.logout_fingerprint_prefix_len",
		"rate_limit.window_duration",
		"rate_limit.login_max_attempts",
		"rate_limit.refresh_max_attempts",
		"rate_limit.store_timeout",
		"rate_limit.degradation_policy",
		"encryption.algorithm",
		"encryption.rotation_interval",
		"encryption.retention",
		"encryption.max_versions",
		"encryption.sync_interval",
		"encryption.initial_key",
		"encryption.passphrase",
		"encryption.passphrase_salt",
		"oauth.client_id",
		"oauth.client_secret",
		"oauth.redirect_url",
		"oauth.auth_url",
		"oauth.token_url",
		"oauth.userinfo_url",
		"oauth.issuer",
		"oauth.scopes",
		"oauth.timeout",
		"roles.admin_domains",
		"roles.super_admin_emails",
		"roles.directory_enabled",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the auth core cannot run with.
func (c *AppConfig) Validate() error {
	var errs []error

	positive := map[string]time.Duration{
		"jwt.access_token_ttl":         c.JWT.AccessTokenTTL,
		"jwt.refresh_token_ttl":        c.JWT.RefreshTokenTTL,
		"rate_limit.window_duration":   c.RateLimit.WindowDuration,
		"rate_limit.store_timeout":     c.RateLimit.StoreTimeout,
		"encryption.rotation_interval": c.Encryption.RotationInterval,
		"encryption.retention":         c.Encryption.Retention,
		"oauth.timeout":                c.OAuth.Timeout,
	}
	for key, value := range positive {
		if value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", key))
		}
	}

	if c.JWT.RefreshTokenTTL > 0 && c.JWT.RefreshTokenTTL < c.JWT.AccessTokenTTL {
		errs = append(errs, errors.New("jwt.refresh_token_ttl must not be shorter than jwt.access_token_ttl"))
	}
	if c.Session.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("session.max_concurrent must be positive"))
	}
	if c.Session.LogoutFingerprintPrefixLen < 0 {
		errs = append(errs, errors.New("session.logout_fingerprint_prefix_len must not be negative"))
	}
	if c.RateLimit.LoginMaxAttempts <= 0 || c.RateLimit.RefreshMaxAttempts <= 0 {
		errs = append(errs, errors.New("rate_limit max attempts must be positive"))
	}
	switch strings.ToLower(strings.TrimSpace(c.RateLimit.DegradationPolicy)) {
	case "", "strict", "lenient":
	default:
		errs = append(errs, fmt.Errorf("rate_limit.degradation_policy %q is not supported", c.RateLimit.DegradationPolicy))
	}
	switch strings.ToLower(strings.TrimSpace(c.Encryption.Algorithm)) {
	case "", "aes-256-gcm", "chacha20-poly1305":
	default:
		errs = append(errs, fmt.Errorf("encryption.algorithm %q is not supported", c.Encryption.Algorithm))
	}
	if c.Encryption.MaxVersions < 0 {
		errs = append(errs, errors.New("encryption.max_versions must not be negative"))
	}
	// A key must outlive every refresh token sealed while it was current.
	if keyLifetime := c.Encryption.RotationInterval + c.JWT.RefreshTokenTTL; c.Encryption.RotationInterval > 0 && c.JWT.RefreshTokenTTL > 0 {
		if c.Encryption.Retention > 0 && c.Encryption.Retention < keyLifetime {
			errs = append(errs, fmt.Errorf("encryption.retention must be at least encryption.rotation_interval + jwt.refresh_token_ttl (%s)", keyLifetime))
		}
		if c.Encryption.MaxVersions > 0 && time.Duration(c.Encryption.MaxVersions-1)*c.Encryption.RotationInterval < c.JWT.RefreshTokenTTL {
			errs = append(errs, errors.New("encryption.max_versions is too small to keep keys for unexpired refresh tokens"))
		}
	}
	if c.Encryption.InitialKey != "" && c.Encryption.Passphrase != "" {
		errs = append(errs, errors.New("encryption.initial_key and encryption.passphrase are mutually exclusive"))
	}
	if strings.TrimSpace(c.JWT.Issuer) == "" {
		errs = append(errs, errors.New("jwt.issuer is required"))
	}
	for _, origin := range c.App.AllowedOrigins {
		if strings.TrimSpace(origin) == "*" {
			errs = append(errs, errors.New("app.allowed_origins must list explicit origins, refresh calls carry credentials"))
			break
		}
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "saas-metrics-auth")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.shutdown_timeout", "15s")
	v.SetDefault("app.trusted_proxies", []string{})
	v.SetDefault("app.allowed_origins", []string{})

	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "saas_metrics")
	v.SetDefault("postgres.password", "saas_metrics")
	v.SetDefault("postgres.database", "saas_metrics")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")
	v.SetDefault("postgres.auto_migrate", false)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.revocation_prefix", "auth:revoked")
	v.SetDefault("redis.rate_limit_prefix", "auth:rl")
	v.SetDefault("redis.key_ring_prefix", "auth:keyring")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "saas-metrics")
	v.SetDefault("kafka.consume_revocations", true)
	v.SetDefault("kafka.max_event_lag", "30s")

	v.SetDefault("jwt.key_directory", "")
	v.SetDefault("jwt.issuer", "saas-metrics")
	v.SetDefault("jwt.audience", []string{"saas-metrics-api"})
	v.SetDefault("jwt.access_token_ttl", "30m")
	v.SetDefault("jwt.refresh_token_ttl", "168h")

	v.SetDefault("session.max_concurrent", 3)
	v.SetDefault("session.strict_ip_pinning", false)
	v.SetDefault("session.key_prefix", "auth:sess")
	v.SetDefault("session.logout_fingerprint_prefix_len", 0)

	v.SetDefault("rate_limit.window_duration", "15m")
	v.SetDefault("rate_limit.login_max_attempts", 5)
	v.SetDefault("rate_limit.refresh_max_attempts", 20)
	v.SetDefault("rate_limit.store_timeout", "2s")
	v.SetDefault("rate_limit.degradation_policy", "strict")

	v.SetDefault("encryption.algorithm", "aes-256-gcm")
	v.SetDefault("encryption.rotation_interval", "24h")
	v.SetDefault("encryption.retention", "2160h")
	v.SetDefault("encryption.max_versions", 0)
	v.SetDefault("encryption.sync_interval", "1m")
	v.SetDefault("encryption.initial_key", "")
	v.SetDefault("encryption.passphrase", "")
	v.SetDefault("encryption.passphrase_salt", "")

	v.SetDefault("oauth.scopes", []string{"openid", "email", "profile"})
	v.SetDefault("oauth.timeout", "10s")

	v.SetDefault("roles.admin_domains", []string{})
	v.SetDefault("roles.super_admin_emails", []string{})
	v.SetDefault("roles.directory_enabled", false)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "saas-metrics-auth")
	v.SetDefault("telemetry.sampling_rate", 1.0)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "IAM_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
