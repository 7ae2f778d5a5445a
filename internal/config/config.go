package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	JWT         JWTConfig         `yaml:"jwt"`
	Log         LogConfig         `yaml:"log"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Marketplace MarketplaceConfig `yaml:"marketplace"`
	Compliance  ComplianceConfig  `yaml:"compliance"`
	Matching    MatchingConfig    `yaml:"matching"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
}

// ServerConfig contains HTTP and gRPC health listener settings
type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// DatabaseConfig contains PostgreSQL connection settings.
// Driver "memory" runs the engine without a database (local development only).
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	Migrate  bool   `yaml:"migrate"`
}

// RedisConfig enables the balance cache when URL is set
type RedisConfig struct {
	URL               string `yaml:"url"`
	BalanceTTLSeconds int    `yaml:"balance_ttl_seconds"`
}

// KafkaConfig enables event publishing when Brokers is non-empty
type KafkaConfig struct {
	Brokers []string          `yaml:"brokers"`
	Topics  map[string]string `yaml:"topics"` // event type -> topic
}

// JWTConfig contains access token validation settings
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// LedgerConfig bounds how long a mutation may wait for account locks
type LedgerConfig struct {
	LockTimeoutMs int `yaml:"lock_timeout_ms"`
}

// MarketplaceConfig holds the trade fee constants
type MarketplaceConfig struct {
	PlatformFeePercent     decimal.Decimal `yaml:"platform_fee_percent"`
	GSTPercent             decimal.Decimal `yaml:"gst_percent"`
	PaymentTimeoutMinutes  int             `yaml:"payment_timeout_minutes"`
	SettlementRetryMinutes int             `yaml:"settlement_retry_minutes"`
}

// ComplianceConfig holds penalty and deadline settings
type ComplianceConfig struct {
	PenaltyRatePerCredit decimal.Decimal `yaml:"penalty_rate_per_credit"`
	WarningWindowDays    int             `yaml:"warning_window_days"`
	DefaultDeadlineDays  int             `yaml:"default_deadline_days"`
}

// MatchingConfig holds the weights of the default listing scoring policy
type MatchingConfig struct {
	PriceWeight        float64 `yaml:"price_weight"`
	VintageWeight      float64 `yaml:"vintage_weight"`
	VerificationWeight float64 `yaml:"verification_weight"`
	CoverageWeight     float64 `yaml:"coverage_weight"`
	ProjectTypeWeight  float64 `yaml:"project_type_weight"`
}

// SchedulerConfig contains cron schedule settings
type SchedulerConfig struct {
	ExpireStalePayments       string `yaml:"expire_stale_payments"`
	ResumeSettlements         string `yaml:"resume_settlements"`
	RefreshComplianceStatuses string `yaml:"refresh_compliance_statuses"`
	AuditLedger               string `yaml:"audit_ledger"`
}

// Load reads configuration from a YAML file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and validates
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.overrideWithEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() error {
	// Database
	if val := os.Getenv("DB_DRIVER"); val != "" {
		c.Database.Driver = val
	}
	if val := os.Getenv("DB_HOST"); val != "" {
		c.Database.Host = val
	}
	if val := os.Getenv("DB_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Database.Port)
	}
	if val := os.Getenv("DB_USER"); val != "" {
		c.Database.User = val
	}
	if val := os.Getenv("DB_PASSWORD"); val != "" {
		c.Database.Password = val
	}
	if val := os.Getenv("DB_NAME"); val != "" {
		c.Database.Database = val
	}
	if val := os.Getenv("DB_SSL_MODE"); val != "" {
		c.Database.SSLMode = val
	}

	// Redis / Kafka
	if val := os.Getenv("REDIS_URL"); val != "" {
		c.Redis.URL = val
	}
	if val := os.Getenv("KAFKA_BROKERS"); val != "" {
		c.Kafka.Brokers = strings.Split(val, ",")
	}

	// JWT
	if val := os.Getenv("JWT_SECRET"); val != "" {
		c.JWT.Secret = val
	}

	// Server
	if val := os.Getenv("SERVER_HOST"); val != "" {
		c.Server.Host = val
	}
	if val := os.Getenv("SERVER_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Server.Port)
	}
	if val := os.Getenv("GRPC_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Server.GRPCPort)
	}

	// Log
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}

	// Fees and penalties
	for env, dst := range map[string]*decimal.Decimal{
		"PLATFORM_FEE_PERCENT":    &c.Marketplace.PlatformFeePercent,
		"GST_PERCENT":             &c.Marketplace.GSTPercent,
		"PENALTY_RATE_PER_CREDIT": &c.Compliance.PenaltyRatePerCredit,
	} {
		if val := os.Getenv(env); val != "" {
			d, err := decimal.NewFromString(val)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", env, err)
			}
			*dst = d
		}
	}

	// Set defaults for log if not configured
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	return nil
}

// Validate checks if the configuration is valid and fills in defaults
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid grpc port: %d", c.Server.GRPCPort)
	}

	// Database validation
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = "disable"
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	// JWT validation
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}

	if c.Redis.BalanceTTLSeconds <= 0 {
		c.Redis.BalanceTTLSeconds = 60
	}

	// Ledger defaults
	if c.Ledger.LockTimeoutMs <= 0 {
		c.Ledger.LockTimeoutMs = 2000
	}

	// Marketplace defaults
	if c.Marketplace.PlatformFeePercent.IsZero() {
		c.Marketplace.PlatformFeePercent = decimal.NewFromInt(2)
	}
	if c.Marketplace.GSTPercent.IsZero() {
		c.Marketplace.GSTPercent = decimal.NewFromInt(18)
	}
	if c.Marketplace.PlatformFeePercent.IsNegative() || c.Marketplace.PlatformFeePercent.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("platform fee percent must be between 0 and 100")
	}
	if c.Marketplace.GSTPercent.IsNegative() || c.Marketplace.GSTPercent.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("GST percent must be between 0 and 100")
	}
	if c.Marketplace.PaymentTimeoutMinutes <= 0 {
		c.Marketplace.PaymentTimeoutMinutes = 24 * 60
	}
	if c.Marketplace.SettlementRetryMinutes <= 0 {
		c.Marketplace.SettlementRetryMinutes = 5
	}

	// Compliance defaults
	if c.Compliance.PenaltyRatePerCredit.IsNegative() {
		return fmt.Errorf("penalty rate must not be negative")
	}
	if c.Compliance.WarningWindowDays <= 0 {
		c.Compliance.WarningWindowDays = 30
	}
	if c.Compliance.DefaultDeadlineDays <= 0 {
		c.Compliance.DefaultDeadlineDays = 365
	}

	// Matching defaults
	m := &c.Matching
	if m.PriceWeight+m.VintageWeight+m.VerificationWeight+m.CoverageWeight+m.ProjectTypeWeight == 0 {
		m.PriceWeight, m.VintageWeight, m.VerificationWeight, m.CoverageWeight, m.ProjectTypeWeight = 0.35, 0.15, 0.2, 0.2, 0.1
	}

	// Scheduler defaults
	if c.Scheduler.ExpireStalePayments == "" {
		c.Scheduler.ExpireStalePayments = "0 */5 * * * *" // every 5 minutes
	}
	if c.Scheduler.ResumeSettlements == "" {
		c.Scheduler.ResumeSettlements = "30 */1 * * * *" // every minute
	}
	if c.Scheduler.RefreshComplianceStatuses == "" {
		c.Scheduler.RefreshComplianceStatuses = "0 0 1 * * *" // 1 AM UTC
	}
	if c.Scheduler.AuditLedger == "" {
		c.Scheduler.AuditLedger = "0 30 2 * * *" // 2:30 AM UTC
	}

	return nil
}

// GetDatabaseConnectionString returns a PostgreSQL connection string
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetServerAddress returns the HTTP listen address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetGRPCAddress returns the health service listen address; empty when disabled
func (c *Config) GetGRPCAddress() string {
	if c.Server.GRPCPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.GRPCPort)
}

func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Ledger.LockTimeoutMs) * time.Millisecond
}

func (c *Config) PaymentTimeout() time.Duration {
	return time.Duration(c.Marketplace.PaymentTimeoutMinutes) * time.Minute
}

func (c *Config) SettlementRetryAfter() time.Duration {
	return time.Duration(c.Marketplace.SettlementRetryMinutes) * time.Minute
}

func (c *Config) WarningWindow() time.Duration {
	return time.Duration(c.Compliance.WarningWindowDays) * 24 * time.Hour
}

func (c *Config) DefaultDeadline() time.Duration {
	return time.Duration(c.Compliance.DefaultDeadlineDays) * 24 * time.Hour
}

func (c *Config) BalanceTTL() time.Duration {
	return time.Duration(c.Redis.BalanceTTLSeconds) * time.Second
}
