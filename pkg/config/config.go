package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/CatfishW/ping-agaii-org/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Dashboard     DashboardConfig
	Auth          AuthConfig
	Mail          MailConfig
	Jobs          JobsConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	MaxBodyBytes    int64
	CORSOrigins     []string
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig covers the primary store and its optional read replica.
type DatabaseConfig struct {
	URL         string
	ReadURL     string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// RedisConfig is optional; an empty URL disables the shared cache tier.
type RedisConfig struct {
	URL      string
	PoolSize int
}

// DashboardConfig configures the admin dashboard sources.
type DashboardConfig struct {
	LAMMPDBPath   string
	GameDBURL     string
	SourceTimeout time.Duration
	CacheTTL      time.Duration
	CacheSize     int
	RegistryFile  string
}

// AuthConfig configures password hashing and token issuance.
type AuthConfig struct {
	JWTSecret     string
	Issuer        string
	AccessTTL     time.Duration
	BcryptCost    int
	AdminEmail    string
	AdminPassword string
}

// MailConfig configures the SMTP sender. An empty host logs mail instead.
// JoinURL is the page class invitations link to.
type MailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	SSL      bool
	JoinURL  string
}

// JobsConfig holds cron schedules for background work. An empty schedule
// disables that job.
type JobsConfig struct {
	SyncSchedule      string
	RetentionSchedule string
	RetentionDays     int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from the environment
func LoadConfig() (*Config, error) {
	cfg := Load(newViper())
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Load builds a Config from v without validating it.
func Load(v *viper.Viper) *Config {
	setDefaults(v)
	return &Config{
		Server:        loadServerConfig(v),
		Database:      loadDatabaseConfig(v),
		Redis:         loadRedisConfig(v),
		Dashboard:     loadDashboardConfig(v),
		Auth:          loadAuthConfig(v),
		Mail:          loadMailConfig(v),
		Jobs:          loadJobsConfig(v),
		Observability: loadObservabilityConfig(v),
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PING_HOST", "0.0.0.0")
	v.SetDefault("PING_PORT", "8000")
	v.SetDefault("PING_READ_TIMEOUT", 15*time.Second)
	v.SetDefault("PING_WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("PING_IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("PING_SHUTDOWN_TIMEOUT", 30*time.Second)
	v.SetDefault("PING_REQUEST_TIMEOUT", 20*time.Second)
	v.SetDefault("PING_MAX_BODY_BYTES", 1<<20)
	v.SetDefault("CORS_ORIGINS", "*")

	v.SetDefault("DB_MAX_CONNS", 25)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_TIMEOUT", 5*time.Second)
	v.SetDefault("DB_MAX_LIFETIME", 30*time.Minute)
	v.SetDefault("DB_MAX_IDLE_TIME", 5*time.Minute)

	v.SetDefault("REDIS_POOL_SIZE", 10)

	v.SetDefault("DASHBOARD_SOURCE_TIMEOUT", 3*time.Second)
	v.SetDefault("DASHBOARD_CACHE_TTL", 30*time.Second)
	v.SetDefault("DASHBOARD_CACHE_SIZE", 128)

	v.SetDefault("JWT_ISSUER", "ping-agaii")
	v.SetDefault("JWT_ACCESS_TTL", 24*time.Hour)
	v.SetDefault("BCRYPT_COST", 12)

	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("CLASS_JOIN_URL", "http://localhost:3000/join")

	v.SetDefault("SYNC_SCHEDULE", "@every 1h")
	v.SetDefault("RETENTION_SCHEDULE", "0 3 * * *")
	v.SetDefault("TELEMETRY_RETENTION_DAYS", 365)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_ENDPOINT", "localhost:4317")
	v.SetDefault("OTEL_SERVICE_NAME", "ping-api")
	v.SetDefault("OTEL_SERVICE_VERSION", "1.0.0")
	v.SetDefault("OTEL_INSECURE", true)
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)
}

func loadServerConfig(v *viper.Viper) ServerConfig {
	return ServerConfig{
		Host:            v.GetString("PING_HOST"),
		Port:            v.GetString("PING_PORT"),
		ReadTimeout:     v.GetDuration("PING_READ_TIMEOUT"),
		WriteTimeout:    v.GetDuration("PING_WRITE_TIMEOUT"),
		IdleTimeout:     v.GetDuration("PING_IDLE_TIMEOUT"),
		ShutdownTimeout: v.GetDuration("PING_SHUTDOWN_TIMEOUT"),
		RequestTimeout:  v.GetDuration("PING_REQUEST_TIMEOUT"),
		MaxBodyBytes:    v.GetInt64("PING_MAX_BODY_BYTES"),
		CORSOrigins:     splitList(v.GetString("CORS_ORIGINS")),
	}
}

func loadDatabaseConfig(v *viper.Viper) DatabaseConfig {
	return DatabaseConfig{
		URL:         v.GetString("DATABASE_URL"),
		ReadURL:     v.GetString("READ_DATABASE_URL"),
		MaxConns:    v.GetInt("DB_MAX_CONNS"),
		MinConns:    v.GetInt("DB_MIN_CONNS"),
		Timeout:     v.GetDuration("DB_TIMEOUT"),
		MaxLifetime: v.GetDuration("DB_MAX_LIFETIME"),
		MaxIdleTime: v.GetDuration("DB_MAX_IDLE_TIME"),
	}
}

func loadRedisConfig(v *viper.Viper) RedisConfig {
	return RedisConfig{
		URL:      v.GetString("REDIS_URL"),
		PoolSize: v.GetInt("REDIS_POOL_SIZE"),
	}
}

func loadDashboardConfig(v *viper.Viper) DashboardConfig {
	return DashboardConfig{
		LAMMPDBPath:   v.GetString("LAMMP_DB_PATH"),
		GameDBURL:     v.GetString("GAME_DB_URL"),
		SourceTimeout: v.GetDuration("DASHBOARD_SOURCE_TIMEOUT"),
		CacheTTL:      v.GetDuration("DASHBOARD_CACHE_TTL"),
		CacheSize:     v.GetInt("DASHBOARD_CACHE_SIZE"),
		RegistryFile:  v.GetString("APPS_REGISTRY_FILE"),
	}
}

func loadAuthConfig(v *viper.Viper) AuthConfig {
	return AuthConfig{
		JWTSecret:     v.GetString("JWT_SECRET"),
		Issuer:        v.GetString("JWT_ISSUER"),
		AccessTTL:     v.GetDuration("JWT_ACCESS_TTL"),
		BcryptCost:    v.GetInt("BCRYPT_COST"),
		AdminEmail:    strings.ToLower(strings.TrimSpace(v.GetString("ADMIN_EMAIL"))),
		AdminPassword: v.GetString("ADMIN_PASSWORD"),
	}
}

func loadMailConfig(v *viper.Viper) MailConfig {
	from := v.GetString("SMTP_FROM")
	if from == "" {
		from = v.GetString("SMTP_USER")
	}
	return MailConfig{
		Host:     v.GetString("SMTP_HOST"),
		Port:     v.GetInt("SMTP_PORT"),
		User:     v.GetString("SMTP_USER"),
		Password: v.GetString("SMTP_PASSWORD"),
		From:     from,
		SSL:      v.GetBool("SMTP_SSL"),
		JoinURL:  v.GetString("CLASS_JOIN_URL"),
	}
}

func loadJobsConfig(v *viper.Viper) JobsConfig {
	return JobsConfig{
		SyncSchedule:      v.GetString("SYNC_SCHEDULE"),
		RetentionSchedule: v.GetString("RETENTION_SCHEDULE"),
		RetentionDays:     v.GetInt("TELEMETRY_RETENTION_DAYS"),
	}
}

func loadObservabilityConfig(v *viper.Viper) ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(v.GetString("LOG_LEVEL")),
		MetricsEnabled:     v.GetBool("METRICS_ENABLED"),
		OTelEnabled:        v.GetBool("OTEL_ENABLED"),
		OTelEndpoint:       v.GetString("OTEL_ENDPOINT"),
		OTelServiceName:    v.GetString("OTEL_SERVICE_NAME"),
		OTelServiceVersion: v.GetString("OTEL_SERVICE_VERSION"),
		OTelInsecure:       v.GetBool("OTEL_INSECURE"),
		OTelSampleRatio:    v.GetFloat64("OTEL_SAMPLE_RATIO"),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}

	// Authentication reads users from the primary store, so the server
	// cannot start without it even though each dashboard source is optional.
	if c.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.Database.MaxConns <= 0 {
		return errors.New("DB_MAX_CONNS must be positive")
	}

	if len(c.Auth.JWTSecret) < 16 {
		return errors.New("JWT_SECRET must be at least 16 characters")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return errors.New("BCRYPT_COST must be between 4 and 31")
	}
	if c.Auth.AccessTTL <= 0 {
		return errors.New("JWT_ACCESS_TTL must be positive")
	}
	if (c.Auth.AdminEmail == "") != (c.Auth.AdminPassword == "") {
		return errors.New("ADMIN_EMAIL and ADMIN_PASSWORD must be set together")
	}
	if c.Auth.AdminPassword != "" && len(c.Auth.AdminPassword) < 8 {
		return errors.New("ADMIN_PASSWORD must be at least 8 characters")
	}

	if c.Dashboard.SourceTimeout <= 0 {
		return errors.New("DASHBOARD_SOURCE_TIMEOUT must be positive")
	}
	if c.Dashboard.CacheTTL < 0 {
		return errors.New("DASHBOARD_CACHE_TTL must not be negative")
	}

	if c.Jobs.RetentionDays < 0 {
		return errors.New("TELEMETRY_RETENTION_DAYS must not be negative")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return errors.New("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return errors.New("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
