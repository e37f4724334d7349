package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/arklim/marketplace-auth/internal/core/domain"
)

const minSecretLength = 32

type AppConfig struct {
	App        AppSettings        `mapstructure:"app"`
	Postgres   PostgresSettings   `mapstructure:"postgres"`
	Redis      RedisSettings      `mapstructure:"redis"`
	Kafka      KafkaSettings      `mapstructure:"kafka"`
	JWT        JWTSettings        `mapstructure:"jwt"`
	Login      LoginSettings      `mapstructure:"login"`
	RateLimit  RateLimitSettings  `mapstructure:"rate_limit"`
	Argon2     Argon2Settings     `mapstructure:"argon2"`
	Revocation RevocationSettings `mapstructure:"revocation"`
	Telemetry  TelemetrySettings  `mapstructure:"telemetry"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// CORSAllowedOrigins lists browser origins allowed to call the API; "*" allows any.
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
	// TrustedProxies lists proxy addresses or CIDRs whose forwarding headers
	// are honoured; empty means the client address is the connection peer.
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type PostgresSettings struct {
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
}

// DSN renders the postgres connection URL.
func (p PostgresSettings) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User,
		p.Password,
		p.Host,
		p.Port,
		p.Database,
		p.SSLMode,
	)
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

// KafkaSettings configures the security event producer and the optional
// revocation sync consumer.
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`

	// SyncRevocations feeds peers' auth.token.revoked events into the local revocation cache.
	SyncRevocations bool   `mapstructure:"sync_revocations"`
	ConsumerGroup   string `mapstructure:"consumer_group"`
}

// JWTSettings holds the two signing secrets and token lifetimes.
type JWTSettings struct {
	AccessSecret    string        `mapstructure:"access_secret"`
	RefreshSecret   string        `mapstructure:"refresh_secret"`
	Issuer          string        `mapstructure:"issuer"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
	Leeway          time.Duration `mapstructure:"leeway"`
}

// LoginSettings configures the credential verifier.
type LoginSettings struct {
	MinDelay time.Duration `mapstructure:"min_delay"`
}

// TierSettings configures one rate-limit tier.
type TierSettings struct {
	Points            int           `mapstructure:"points"`
	Duration          time.Duration `mapstructure:"duration"`
	BlockDuration     time.Duration `mapstructure:"block_duration"`
	ExecEvenly        bool          `mapstructure:"exec_evenly"`
	DegradationPolicy string        `mapstructure:"degradation_policy"`
}

// Tier converts the settings into a domain tier.
func (t TierSettings) Tier(name string) domain.RateLimitTier {
	return domain.RateLimitTier{
		Name:          name,
		Points:        t.Points,
		Duration:      t.Duration,
		BlockDuration: t.BlockDuration,
		ExecEvenly:    t.ExecEvenly,
		Policy:        domain.NewDegradationPolicy(domain.ParseDegradationPolicyMode(t.DegradationPolicy)),
	}
}

// RateLimitSettings configures every login/refresh tier independently.
type RateLimitSettings struct {
	KeyPrefix string       `mapstructure:"key_prefix"`
	IP        TierSettings `mapstructure:"ip"`
	Identity  TierSettings `mapstructure:"identity"`
	Combined  TierSettings `mapstructure:"combined"`
	Refresh   TierSettings `mapstructure:"refresh"`
}

// Argon2Settings configures Argon2id password hashing parameters
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

type RevocationSettings struct {
	KeyPrefix         string        `mapstructure:"key_prefix"`
	DegradationPolicy string        `mapstructure:"degradation_policy"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	// LocalCacheSize bounds the in-process cache of revoked keys; 0 disables it.
	LocalCacheSize    int           `mapstructure:"local_cache_size"`
}

type TelemetrySettings struct {
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("AUTH")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.cors_allowed_origins",
		"app.trusted_proxies",
		"app.shutdown_timeout",
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
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.key_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.sync_revocations",
		"kafka.consumer_group",
		"jwt.access_secret",
		"jwt.refresh_secret",
		"jwt.issuer",
		"jwt.access_token_ttl",
		"jwt.refresh_token_ttl",
		"jwt.leeway",
		"login.min_delay",
		"rate_limit.key_prefix",
		"rate_limit.ip.points",
		"rate_limit.ip.duration",
		"rate_limit.ip.block_duration",
		"rate_limit.ip.exec_evenly",
		"rate_limit.ip.degradation_policy",
		"rate_limit.identity.points",
		"rate_limit.identity.duration",
		"rate_limit.identity.block_duration",
		"rate_limit.identity.exec_evenly",
		"rate_limit.identity.degradation_policy",
		"rate_limit.combined.points",
		"rate_limit.combined.duration",
		"rate_limit.combined.block_duration",
		"rate_limit.combined.exec_evenly",
		"rate_limit.combined.degradation_policy",
		"rate_limit.refresh.points",
		"rate_limit.refresh.duration",
		"rate_limit.refresh.block_duration",
		"rate_limit.refresh.exec_evenly",
		"rate_limit.refresh.degradation_policy",
		"argon2.memory",
		"argon2.iterations",
		"argon2.parallelism",
		"argon2.salt_length",
		"argon2.key_length",
		"revocation.key_prefix",
		"revocation.degradation_policy",
		"revocation.sweep_interval",
		"revocation.local_cache_size",
		"telemetry.tracing_enabled",
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

	return &cfg, nil
}

// Validate rejects configurations the service must never boot with.
func (c *AppConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", domain.ErrConfiguration)
	}

	access := strings.TrimSpace(c.JWT.AccessSecret)
	refresh := strings.TrimSpace(c.JWT.RefreshSecret)
	switch {
	case access == "":
		return fmt.Errorf("%w: jwt.access_secret is required", domain.ErrConfiguration)
	case refresh == "":
		return fmt.Errorf("%w: jwt.refresh_secret is required", domain.ErrConfiguration)
	case access == refresh:
		return fmt.Errorf("%w: jwt.refresh_secret must differ from jwt.access_secret", domain.ErrConfiguration)
	case len(access) < minSecretLength || len(refresh) < minSecretLength:
		return fmt.Errorf("%w: jwt secrets must be at least %d bytes", domain.ErrConfiguration, minSecretLength)
	}

	if c.JWT.AccessTokenTTL <= 0 || c.JWT.RefreshTokenTTL <= 0 {
		return fmt.Errorf("%w: token ttls must be positive", domain.ErrConfiguration)
	}
	if c.JWT.AccessTokenTTL >= c.JWT.RefreshTokenTTL {
		return fmt.Errorf("%w: access token ttl must be shorter than refresh token ttl", domain.ErrConfiguration)
	}
	if c.Login.MinDelay < 0 {
		return fmt.Errorf("%w: login.min_delay must not be negative", domain.ErrConfiguration)
	}

	tiers := map[string]TierSettings{
		domain.TierAddress:  c.RateLimit.IP,
		domain.TierIdentity: c.RateLimit.Identity,
		domain.TierCombined: c.RateLimit.Combined,
		domain.TierRefresh:  c.RateLimit.Refresh,
	}
	for name, tier := range tiers {
		if tier.Points <= 0 || tier.Duration <= 0 {
			return fmt.Errorf("%w: rate_limit.%s requires positive points and duration", domain.ErrConfiguration, name)
		}
		if tier.BlockDuration < 0 {
			return fmt.Errorf("%w: rate_limit.%s.block_duration must not be negative", domain.ErrConfiguration, name)
		}
		if !domain.IsKnownDegradationPolicy(tier.DegradationPolicy) {
			return fmt.Errorf("%w: rate_limit.%s.degradation_policy %q is not supported", domain.ErrConfiguration, name, tier.DegradationPolicy)
		}
	}
	if !domain.IsKnownDegradationPolicy(c.Revocation.DegradationPolicy) {
		return fmt.Errorf("%w: revocation.degradation_policy %q is not supported", domain.ErrConfiguration, c.Revocation.DegradationPolicy)
	}

	for _, proxy := range c.App.TrustedProxies {
		if net.ParseIP(proxy) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(proxy); err != nil {
			return fmt.Errorf("%w: app.trusted_proxies entry %q is not an IP or CIDR", domain.ErrConfiguration, proxy)
		}
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "marketplace-auth")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.cors_allowed_origins", []string{})
	v.SetDefault("app.trusted_proxies", []string{})
	v.SetDefault("app.shutdown_timeout", "15s")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "marketplace")
	v.SetDefault("postgres.password", "marketplace_password")
	v.SetDefault("postgres.database", "marketplace")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.key_prefix", "auth")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "marketplace")
	v.SetDefault("kafka.sync_revocations", false)
	v.SetDefault("kafka.consumer_group", "auth-revocation-sync")

	v.SetDefault("jwt.issuer", "marketplace-auth")
	v.SetDefault("jwt.access_token_ttl", "15m")
	v.SetDefault("jwt.refresh_token_ttl", "168h")
	v.SetDefault("jwt.leeway", "0s")

	v.SetDefault("login.min_delay", "200ms")

	v.SetDefault("rate_limit.key_prefix", "auth:rl")

	v.SetDefault("rate_limit.ip.points", 10)
	v.SetDefault("rate_limit.ip.duration", "15m")
	v.SetDefault("rate_limit.ip.block_duration", "1h")
	v.SetDefault("rate_limit.ip.exec_evenly", false)
	v.SetDefault("rate_limit.ip.degradation_policy", "strict")

	v.SetDefault("rate_limit.identity.points", 5)
	v.SetDefault("rate_limit.identity.duration", "15m")
	v.SetDefault("rate_limit.identity.block_duration", "2h")
	v.SetDefault("rate_limit.identity.exec_evenly", false)
	v.SetDefault("rate_limit.identity.degradation_policy", "strict")

	// 1 point per second, spread evenly
	v.SetDefault("rate_limit.combined.points", 1)
	v.SetDefault("rate_limit.combined.duration", "1s")
	v.SetDefault("rate_limit.combined.block_duration", "0s")
	v.SetDefault("rate_limit.combined.exec_evenly", true)
	v.SetDefault("rate_limit.combined.degradation_policy", "lenient")

	v.SetDefault("rate_limit.refresh.points", 30)
	v.SetDefault("rate_limit.refresh.duration", "15m")
	v.SetDefault("rate_limit.refresh.block_duration", "15m")
	v.SetDefault("rate_limit.refresh.exec_evenly", false)
	v.SetDefault("rate_limit.refresh.degradation_policy", "lenient")

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)

	v.SetDefault("revocation.key_prefix", "auth:revoked")
	v.SetDefault("revocation.degradation_policy", "lenient")
	v.SetDefault("revocation.sweep_interval", "10m")
	v.SetDefault("revocation.local_cache_size", 10000)

	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4318")
	v.SetDefault("telemetry.service_name", "marketplace-auth")
	v.SetDefault("telemetry.sampling_rate", 1.0)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "AUTH_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
