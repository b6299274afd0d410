package config

import (
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	HTTPAddress string   `env:"HTTP_ADDRESS" envDefault:":5000"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"https://genuineunlocker.net,http://localhost:5173"`
	LogLevel    string   `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string   `env:"LOG_FORMAT" envDefault:"json"`

	DB DB `envPrefix:"BLUEPRINT_DB_"`

	PayPalMode         string `env:"PAYPAL_MODE" envDefault:"live"`
	PayPalClientID     string `env:"PAYPAL_CLIENT_ID"`
	PayPalClientSecret string `env:"PAYPAL_CLIENT_SECRET"`
	PayPalWebhookID    string `env:"PAYPAL_WEBHOOK_ID"`

	BrevoAPIKey    string `env:"BREVO_API_KEY"`
	MailSender     string `env:"MAIL_SENDER" envDefault:"genuineunlockerinfo@gmail.com"`
	MailSenderName string `env:"MAIL_SENDER_NAME" envDefault:"Genuine Unlocker"`
	AdminEmail     string `env:"ADMIN_EMAIL" envDefault:"genuineunlockerinfo@gmail.com"`

	PricingFile     string `env:"PRICING_FILE"`
	RedisAddr       string `env:"REDIS_ADDR"`
	DisplayTimezone string `env:"DISPLAY_TIMEZONE" envDefault:"Asia/Riyadh"`

	ReconcileInterval   time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1m"`
	ReconcileStaleAfter time.Duration `env:"RECONCILE_STALE_AFTER" envDefault:"15m"`

	TracingServiceName string `env:"TRACING_SERVICE_NAME" envDefault:"unlock-orders"`
}

type DB struct {
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     string `env:"PORT" envDefault:"5432"`
	Database string `env:"DATABASE" envDefault:"unlocker"`
	Username string `env:"USERNAME" envDefault:"postgres"`
	Password string `env:"PASSWORD"`
	Schema   string `env:"SCHEMA" envDefault:"public"`
}

func (d DB) DSN() string {
	q := url.Values{}
	q.Set("sslmode", "disable")
	q.Set("search_path", d.Schema)
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.Username, d.Password),
		Host:     net.JoinHostPort(d.Host, d.Port),
		Path:     "/" + d.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// MockProvider reports whether the in-memory payment gateway should be used.
func (c *Config) MockProvider() bool {
	return c.PayPalMode == "mock"
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.PayPalMode {
	case "live", "sandbox":
		if c.PayPalClientID == "" || c.PayPalClientSecret == "" {
			return fmt.Errorf("PAYPAL_CLIENT_ID and PAYPAL_CLIENT_SECRET must be set in %s mode", c.PayPalMode)
		}
	case "mock":
	default:
		return fmt.Errorf("unknown PAYPAL_MODE %q", c.PayPalMode)
	}
	return nil
}

// Location resolves the timezone payment times are displayed in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil {
		return time.FixedZone("AST", 3*60*60)
	}
	return loc
}
