package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/storyforge/metering/internal/types"
)

// Configuration is the root configuration for the metering service.
type Configuration struct {
	Deployment DeploymentConfig `mapstructure:"deployment"`
	Server     ServerConfig     `mapstructure:"server"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metering   MeteringConfig   `mapstructure:"metering"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
}

type DeploymentConfig struct {
	Mode types.RunMode `mapstructure:"mode" default:"api"`
}

type ServerConfig struct {
	Address string `mapstructure:"address" default:":8080"`
	// AdminToken authorizes operator override requests. Empty disables the
	// override path entirely.
	AdminToken string `mapstructure:"admin_token"`
}

type PostgresConfig struct {
	Host                   string `mapstructure:"host" default:"localhost"`
	Port                   int    `mapstructure:"port" default:"5432"`
	User                   string `mapstructure:"user" default:"metering"`
	Password               string `mapstructure:"password"`
	DBName                 string `mapstructure:"dbname" default:"metering"`
	SSLMode                string `mapstructure:"sslmode" default:"disable"`
	MaxOpenConns           int    `mapstructure:"max_open_conns" default:"20"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns" default:"5"`
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime_minutes" default:"30"`
}

type LoggingConfig struct {
	Level types.LogLevel `mapstructure:"level" default:"info"`
}

// MeteringConfig holds the entitlement knobs. These are global defaults;
// near-limit is intentionally not tier-configurable yet.
type MeteringConfig struct {
	NearLimitThreshold decimal.Decimal `mapstructure:"near_limit_threshold"`
	GracePeriodDays    int             `mapstructure:"grace_period_days" default:"7"`
	GraceQuotaFraction decimal.Decimal `mapstructure:"grace_quota_fraction"`
	ReminderMilestones []int           `mapstructure:"reminder_milestones"`
	ReservationTTL     time.Duration   `mapstructure:"reservation_ttl" default:"15m"`
	LockTimeout        time.Duration   `mapstructure:"lock_timeout" default:"5s"`
	SweepWorkers       int             `mapstructure:"sweep_workers" default:"8"`
}

type WebhookConfig struct {
	SigningSecret string `mapstructure:"signing_secret"`
}

// NewConfig loads configuration from config.yaml, the environment, and an
// optional .env file. Environment variables use the METERING_ prefix with
// underscores, e.g. METERING_POSTGRES_HOST.
func NewConfig() (*Configuration, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	// Best effort: .env is optional in all deployments.
	_ = godotenv.Load()

	v.SetEnvPrefix("METERING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := GetDefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// GetDefaultConfig returns a configuration with sane defaults, used by tests
// and scripts that do not load config files.
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: types.RunModeAPI},
		Server:     ServerConfig{Address: ":8080"},
		Postgres: PostgresConfig{
			Host:                   "localhost",
			Port:                   5432,
			User:                   "metering",
			DBName:                 "metering",
			SSLMode:                "disable",
			MaxOpenConns:           20,
			MaxIdleConns:           5,
			ConnMaxLifetimeMinutes: 30,
		},
		Logging: LoggingConfig{Level: types.LogLevelInfo},
		Metering: MeteringConfig{
			NearLimitThreshold: decimal.NewFromFloat(0.9),
			GracePeriodDays:    7,
			GraceQuotaFraction: decimal.NewFromFloat(0.5),
			ReminderMilestones: []int{1, 3, 7},
			ReservationTTL:     15 * time.Minute,
			LockTimeout:        5 * time.Second,
			SweepWorkers:       8,
		},
	}
}

// Validate checks cross-field constraints that viper cannot express.
func (c *Configuration) Validate() error {
	if c.Metering.NearLimitThreshold.LessThanOrEqual(decimal.Zero) ||
		c.Metering.NearLimitThreshold.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("metering.near_limit_threshold must be in (0, 1], got %s", c.Metering.NearLimitThreshold)
	}
	if c.Metering.GraceQuotaFraction.LessThan(decimal.Zero) ||
		c.Metering.GraceQuotaFraction.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("metering.grace_quota_fraction must be in [0, 1], got %s", c.Metering.GraceQuotaFraction)
	}
	if c.Metering.GracePeriodDays <= 0 {
		return fmt.Errorf("metering.grace_period_days must be positive")
	}
	if c.Metering.ReservationTTL <= 0 {
		return fmt.Errorf("metering.reservation_ttl must be positive")
	}
	return nil
}

// GetPostgresDSN builds the lib/pq connection string.
func (c *Configuration) GetPostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}
