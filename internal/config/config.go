package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Driver is either "postgres" or "sqlite".
	Driver       string `mapstructure:"driver"`
	SQLitePath   string `mapstructure:"sqlite_path"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN returns the lib/pq connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode,
	)
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type JWTConfig struct {
	SigningKey string        `mapstructure:"signing_key"`
	Issuer     string        `mapstructure:"issuer"`
	AccessTTL  time.Duration `mapstructure:"access_ttl"`
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`
}

type AuthConfig struct {
	PhonePattern       string        `mapstructure:"phone_pattern"`
	CodeLength         int           `mapstructure:"code_length"`
	CodeTTL            time.Duration `mapstructure:"code_ttl"`
	MaxVerifyAttempts  int           `mapstructure:"max_verify_attempts"`
	InviteCodeLength   int           `mapstructure:"invite_code_length"`
	InviteCodeAttempts int           `mapstructure:"invite_code_attempts"`
	// ExposeCode returns the issued code in the login response. Never enable in production.
	ExposeCode bool `mapstructure:"expose_code"`
}

type DeliveryConfig struct {
	// Mode is "log" or "http".
	Mode       string        `mapstructure:"mode"`
	GatewayURL string        `mapstructure:"gateway_url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8000)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.sqlite_path", "phoneauth.db")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.dbname", "phoneauth")
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "authcode")

	v.SetDefault("jwt.signing_key", "")
	v.SetDefault("jwt.issuer", "phone-auth")
	v.SetDefault("jwt.access_ttl", 15*time.Minute)
	v.SetDefault("jwt.refresh_ttl", 24*time.Hour)

	v.SetDefault("auth.phone_pattern", `^\+7\d{10}$`)
	v.SetDefault("auth.code_length", 4)
	v.SetDefault("auth.code_ttl", 5*time.Minute)
	v.SetDefault("auth.max_verify_attempts", 5)
	v.SetDefault("auth.invite_code_length", 6)
	v.SetDefault("auth.invite_code_attempts", 10)
	v.SetDefault("auth.expose_code", false)

	v.SetDefault("delivery.mode", "log")
	v.SetDefault("delivery.gateway_url", "")
	v.SetDefault("delivery.api_key", "")
	v.SetDefault("delivery.timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// LoadConfig reads an optional .env file, config.yaml in path and environment
// variables into Config. Environment keys use "_" for nesting, e.g.
// JWT_SIGNING_KEY overrides jwt.signing_key.
func LoadConfig(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise only fail on first use.
func (c *Config) Validate() error {
	if c.JWT.SigningKey == "" {
		return errors.New("jwt.signing_key is required")
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return errors.New("jwt token lifetimes must be positive")
	}
	if _, err := regexp.Compile(c.Auth.PhonePattern); err != nil {
		return fmt.Errorf("auth.phone_pattern: %w", err)
	}
	if c.Auth.CodeLength < 4 || c.Auth.CodeLength > 8 {
		return fmt.Errorf("auth.code_length must be between 4 and 8, got %d", c.Auth.CodeLength)
	}
	if c.Auth.InviteCodeLength < 4 {
		return fmt.Errorf("auth.invite_code_length must be at least 4, got %d", c.Auth.InviteCodeLength)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	switch c.Delivery.Mode {
	case "log":
	case "http":
		if c.Delivery.GatewayURL == "" {
			return errors.New("delivery.gateway_url is required for http delivery")
		}
	default:
		return fmt.Errorf("unsupported delivery.mode %q", c.Delivery.Mode)
	}
	return nil
}
