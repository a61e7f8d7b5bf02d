package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "GOCHAT"

	DefaultServerAddr     = "localhost:8000"
	DefaultDSN            = "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"
	DefaultSigningKey     = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="
	DefaultTokenTTL       = 24 * time.Hour
	DefaultDBTimeout      = 5 * time.Second
	DefaultRedisChannel   = "gochat:fanout"
	DefaultSweepCron      = "0 * * * *"
	DefaultCleanupCron    = "0 3 * * 0"
	DefaultGracePeriod    = 720 * time.Hour
	DefaultMaxLifetime    = 168 * time.Hour
	DefaultInviteTTL      = 72 * time.Hour
	DefaultRetention      = 720 * time.Hour
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultClientAckAfter = 5 * time.Second
)

var ErrConfiguration = errors.New("configuration error")

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Lifecycle     LifecycleConfig     `mapstructure:"lifecycle"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Log           LogConfig           `mapstructure:"log"`
	Client        ClientConfig        `mapstructure:"client"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr" validate:"required"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type AuthConfig struct {
	SigningKeyBase64 string        `mapstructure:"signing_key" validate:"required,base64"`
	TokenTTL         time.Duration `mapstructure:"token_ttl" validate:"gt=0"`

	// SigningKey is the decoded form of SigningKeyBase64.
	SigningKey []byte `mapstructure:"-"`
}

type DatabaseConfig struct {
	Driver  string        `mapstructure:"driver" validate:"oneof=postgres memory"`
	DSN     string        `mapstructure:"dsn" validate:"required_if=Driver postgres"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// RedisConfig enables cross-instance fan-out when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password string `mapstructure:"password"`
	Channel  string `mapstructure:"channel" validate:"required"`
}

type LifecycleConfig struct {
	SweepCron   string        `mapstructure:"sweep_cron"`
	CleanupCron string        `mapstructure:"cleanup_cron"`
	GracePeriod time.Duration `mapstructure:"grace_period" validate:"gt=0"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime" validate:"gt=0"`
	InviteTTL   time.Duration `mapstructure:"invite_ttl" validate:"gt=0"`
}

type NotificationsConfig struct {
	Retention time.Duration `mapstructure:"retention" validate:"gt=0"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

type ClientConfig struct {
	AckTimeout time.Duration `mapstructure:"ack_timeout" validate:"gt=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", DefaultServerAddr)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("auth.signing_key", DefaultSigningKey)
	v.SetDefault("auth.token_ttl", DefaultTokenTTL)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", DefaultDSN)
	v.SetDefault("database.timeout", DefaultDBTimeout)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.channel", DefaultRedisChannel)

	v.SetDefault("lifecycle.sweep_cron", DefaultSweepCron)
	v.SetDefault("lifecycle.cleanup_cron", DefaultCleanupCron)
	v.SetDefault("lifecycle.grace_period", DefaultGracePeriod)
	v.SetDefault("lifecycle.max_lifetime", DefaultMaxLifetime)
	v.SetDefault("lifecycle.invite_ttl", DefaultInviteTTL)

	v.SetDefault("notifications.retention", DefaultRetention)

	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)

	v.SetDefault("client.ack_timeout", DefaultClientAckAfter)
}

// Load builds the configuration from, in increasing precedence: defaults,
// the config file, GOCHAT_* environment variables (after loading .env when
// present) and overrides. An empty path looks for config.yaml in the
// working directory and tolerates its absence.
func Load(path string, overrides map[string]any) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: load .env: %v", ErrConfiguration, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrConfiguration, path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("%w: read config file: %v", ErrConfiguration, err)
			}
		}
	}

	for k, val := range overrides {
		v.Set(k, val)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config: %v", ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return cfg, nil
}

// Validate checks the struct tags and decodes the signing key.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	signingKey, err := decodeSigningSecret(c.Auth.SigningKeyBase64)
	if err != nil {
		return fmt.Errorf("decode signing secret: %w", err)
	}
	c.Auth.SigningKey = signingKey
	return nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}
