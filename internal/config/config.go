// Package config provides configuration loading for the accounts API.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	PayPal   PayPalConfig   `mapstructure:"paypal"`
	Mailgun  MailgunConfig  `mapstructure:"mailgun"`
	Captcha  CaptchaConfig  `mapstructure:"captcha"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"` // dev, staging, prod
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	SessionExpiry    time.Duration `mapstructure:"session_expiry"`
	ResetTokenExpiry time.Duration `mapstructure:"reset_token_expiry"`
	BcryptCost       int           `mapstructure:"bcrypt_cost"`
	DefaultDailyQuota int          `mapstructure:"default_daily_quota"`
	// AdminAccounts lists account IDs that hold the admin permissions
	// (user.premium.get, user.premium.set, user.apikey.set).
	AdminAccounts []string `mapstructure:"admin_accounts"`
}

// StripeConfig holds Stripe configuration.
type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	SuccessURL    string `mapstructure:"success_url"`
	CancelURL     string `mapstructure:"cancel_url"`
}

// PayPalConfig holds PayPal configuration.
type PayPalConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// MailgunConfig holds reset mail delivery configuration.
type MailgunConfig struct {
	Domain   string `mapstructure:"domain"`
	APIKey   string `mapstructure:"api_key"`
	Sender   string `mapstructure:"sender"`
	ResetURL string `mapstructure:"reset_url"` // base URL the token is appended to
}

// CaptchaConfig holds captcha verification configuration.
// An empty secret disables verification.
type CaptchaConfig struct {
	VerifyURL string `mapstructure:"verify_url"`
	Secret    string `mapstructure:"secret"`
}

// Load reads configuration from files and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/accountd")

	// Enable environment variable override
	v.SetEnvPrefix("ACCOUNTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Explicitly bind secret-bearing environment variables (nested struct
	// issue with viper)
	v.BindEnv("stripe.secret_key", "ACCOUNTD_STRIPE_SECRET_KEY")
	v.BindEnv("stripe.webhook_secret", "ACCOUNTD_STRIPE_WEBHOOK_SECRET")
	v.BindEnv("paypal.client_id", "ACCOUNTD_PAYPAL_CLIENT_ID")
	v.BindEnv("paypal.client_secret", "ACCOUNTD_PAYPAL_CLIENT_SECRET")
	v.BindEnv("mailgun.api_key", "ACCOUNTD_MAILGUN_API_KEY")
	v.BindEnv("captcha.secret", "ACCOUNTD_CAPTCHA_SECRET")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.environment", "dev")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "accountd")
	v.SetDefault("database.password", "accountd")
	v.SetDefault("database.database", "accountd")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Auth defaults
	v.SetDefault("auth.session_expiry", "720h") // 30 days sliding
	v.SetDefault("auth.reset_token_expiry", "30m")
	v.SetDefault("auth.bcrypt_cost", 12)
	v.SetDefault("auth.default_daily_quota", 100)

	// PayPal defaults (sandbox)
	v.SetDefault("paypal.base_url", "https://api-m.sandbox.paypal.com")

	// Captcha defaults
	v.SetDefault("captcha.verify_url", "https://www.google.com/recaptcha/api/siteverify")
}
