package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// UPIConfig identifies the merchant on the payment rail.
type UPIConfig struct {
	VPA          string `yaml:"vpa"`
	MerchantName string `yaml:"merchant_name"`
}

// PaymentConfig controls the transaction lifecycle.
type PaymentConfig struct {
	ExpiryMinutes        int    `yaml:"expiry_minutes"`
	SweepIntervalSeconds int    `yaml:"sweep_interval_seconds"`
	WebhookSecret        string `yaml:"webhook_secret"`
}

// ExpiryWindow returns the payment window, defaulting to 15 minutes.
func (p PaymentConfig) ExpiryWindow() time.Duration {
	if p.ExpiryMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(p.ExpiryMinutes) * time.Minute
}

// SweepInterval returns the background sweep period, defaulting to a minute.
func (p PaymentConfig) SweepInterval() time.Duration {
	if p.SweepIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(p.SweepIntervalSeconds) * time.Second
}

// RateLimitConfig bounds request rates per client IP.
type RateLimitConfig struct {
	Limit         int `yaml:"limit"`
	WindowSeconds int `yaml:"window_seconds"`
}

func (r RateLimitConfig) Window() time.Duration {
	if r.WindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(r.WindowSeconds) * time.Second
}

// AuditConfig stores parameters for the settlement auditor's velocity
// checks.
type AuditConfig struct {
	AmountThreshold float64 `yaml:"amount_threshold"`
	MaxPurchases    int     `yaml:"max_purchases"`
	WindowSeconds   int     `yaml:"window_seconds"`
}

// ClickHouseConfig locates the settlement audit store.
type ClickHouseConfig struct {
	Addr string `yaml:"addr"`
}

type Config struct {
	App struct {
		Env string `yaml:"env"`
	} `yaml:"app"`
	Server struct {
		Port        string `yaml:"port"`
		PortAlerter string `yaml:"port_alerter"`
	} `yaml:"server"`
	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`
	Kafka struct {
		BootstrapServers string `yaml:"bootstrap_servers"`
		SettlementTopic  string `yaml:"settlement_topic"`
	} `yaml:"kafka"`
	Redis struct {
		Addr string `yaml:"addr"`
	} `yaml:"redis"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Jaeger     struct {
		Port string `yaml:"port"`
	} `yaml:"jaeger"`
	OIDC struct {
		URL      string `yaml:"url"`
		ClientID string `yaml:"client_id"`
	} `yaml:"oidc"`
	OPA struct {
		URL string `yaml:"url"`
	} `yaml:"opa"`
	JWT struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"jwt"`
	UPI       UPIConfig       `yaml:"upi"`
	Payment   PaymentConfig   `yaml:"payment"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Audit     AuditConfig     `yaml:"audit"`
}

// Load reads the YAML config file, expanding ${ENV_VAR} references first so
// secrets stay out of the file itself.
func Load(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	expandedFile := os.ExpandEnv(string(file))

	if err := yaml.Unmarshal([]byte(expandedFile), config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}
