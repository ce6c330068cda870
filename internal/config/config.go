/**
 * @description
 * Configuration management for the billing service binaries
 * (billing-api, billing-scheduler, migrate). Values come from the
 * environment; mains load an optional .env first for local development.
 */
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	ServerPort     string `mapstructure:"SERVER_PORT"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`
	RedisURL       string `mapstructure:"REDIS_URL"`
	RabbitMQURL    string `mapstructure:"RABBITMQ_URL"`
	EventsExchange string `mapstructure:"EVENTS_EXCHANGE"`
	AllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	AdminJWTSecret string `mapstructure:"ADMIN_JWT_SECRET"`
	AdminRole      string `mapstructure:"ADMIN_ROLE"`
	SiteURL        string `mapstructure:"SITE_URL"`

	PaymobBaseURL       string `mapstructure:"PAYMOB_BASE_URL"`
	PaymobAPIKey        string `mapstructure:"PAYMOB_API_KEY"`
	PaymobIntegrationID int64  `mapstructure:"PAYMOB_INTEGRATION_ID"`
	PaymobIframeID      string `mapstructure:"PAYMOB_IFRAME_ID"`
	PaymobHMACSecret    string `mapstructure:"PAYMOB_HMAC_SECRET"`

	MailerEndpoint string `mapstructure:"MAILER_ENDPOINT"`
	MailerAPIKey   string `mapstructure:"MAILER_API_KEY"`
	MailerFrom     string `mapstructure:"MAILER_FROM"`
	OperatorEmail  string `mapstructure:"OPERATOR_EMAIL"`

	SettlementCurrency       string        `mapstructure:"SETTLEMENT_CURRENCY"`
	BillingMaxRetries        int           `mapstructure:"BILLING_MAX_RETRIES"`
	BillingIntervalDays      int           `mapstructure:"BILLING_INTERVAL_DAYS"`
	BillingRetryIntervalDays int           `mapstructure:"BILLING_RETRY_INTERVAL_DAYS"`
	StrictExchangeRates      bool          `mapstructure:"STRICT_EXCHANGE_RATES"`
	ConfirmationTimeout      time.Duration `mapstructure:"CONFIRMATION_TIMEOUT"`
	ChargeTimeout            time.Duration `mapstructure:"CHARGE_TIMEOUT"`
	RunLockTTL               time.Duration `mapstructure:"RUN_LOCK_TTL"`

	StorageDriver       string        `mapstructure:"STORAGE_DRIVER"`
	LocalStorageDir     string        `mapstructure:"LOCAL_STORAGE_DIR"`
	LocalStorageURL     string        `mapstructure:"LOCAL_STORAGE_URL_PREFIX"`
	S3Region            string        `mapstructure:"S3_REGION"`
	S3Bucket            string        `mapstructure:"S3_BUCKET"`
	S3Prefix            string        `mapstructure:"S3_PREFIX"`
	S3Endpoint          string        `mapstructure:"S3_ENDPOINT"`
	DownloadURLLifetime time.Duration `mapstructure:"DOWNLOAD_URL_LIFETIME"`

	BillingServiceURL          string        `mapstructure:"BILLING_SERVICE_URL"`
	BillingInternalAPIKey      string        `mapstructure:"BILLING_SERVICE_INTERNAL_API_KEY"`
	BillingRunSchedule         string        `mapstructure:"BILLING_RUN_SCHEDULE"`
	ConfirmationExpirySchedule string        `mapstructure:"CONFIRMATION_EXPIRY_SCHEDULE"`
	BillingRunTimeout          time.Duration `mapstructure:"BILLING_RUN_TIMEOUT"`
}

var envKeys = []string{
	"SERVER_PORT", "DATABASE_URL", "INTERNAL_API_KEY", "REDIS_URL", "RABBITMQ_URL", "EVENTS_EXCHANGE",
	"CORS_ALLOWED_ORIGINS", "ADMIN_JWT_SECRET", "ADMIN_ROLE", "SITE_URL",
	"PAYMOB_BASE_URL", "PAYMOB_API_KEY", "PAYMOB_INTEGRATION_ID", "PAYMOB_IFRAME_ID", "PAYMOB_HMAC_SECRET",
	"MAILER_ENDPOINT", "MAILER_API_KEY", "MAILER_FROM", "OPERATOR_EMAIL",
	"SETTLEMENT_CURRENCY", "BILLING_MAX_RETRIES", "BILLING_INTERVAL_DAYS", "BILLING_RETRY_INTERVAL_DAYS",
	"STRICT_EXCHANGE_RATES", "CONFIRMATION_TIMEOUT", "CHARGE_TIMEOUT", "RUN_LOCK_TTL",
	"STORAGE_DRIVER", "LOCAL_STORAGE_DIR", "LOCAL_STORAGE_URL_PREFIX",
	"S3_REGION", "S3_BUCKET", "S3_PREFIX", "S3_ENDPOINT", "DOWNLOAD_URL_LIFETIME",
	"BILLING_SERVICE_URL", "BILLING_SERVICE_INTERNAL_API_KEY", "BILLING_RUN_SCHEDULE",
	"CONFIRMATION_EXPIRY_SCHEDULE", "BILLING_RUN_TIMEOUT",
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("EVENTS_EXCHANGE", "billing.events")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	viper.SetDefault("ADMIN_ROLE", "admin")
	viper.SetDefault("PAYMOB_BASE_URL", "https://accept.paymob.com")
	viper.SetDefault("MAILER_ENDPOINT", "https://api.resend.com/emails")
	viper.SetDefault("SETTLEMENT_CURRENCY", "EGP")
	viper.SetDefault("BILLING_MAX_RETRIES", 3)
	viper.SetDefault("BILLING_INTERVAL_DAYS", 30)
	viper.SetDefault("BILLING_RETRY_INTERVAL_DAYS", 3)
	viper.SetDefault("STRICT_EXCHANGE_RATES", false)
	viper.SetDefault("CONFIRMATION_TIMEOUT", "48h")
	viper.SetDefault("CHARGE_TIMEOUT", "90s")
	viper.SetDefault("RUN_LOCK_TTL", "30m")
	viper.SetDefault("STORAGE_DRIVER", "local")
	viper.SetDefault("DOWNLOAD_URL_LIFETIME", "15m")
	viper.SetDefault("BILLING_RUN_SCHEDULE", "0 6 * * *")       // Daily at 06:00.
	viper.SetDefault("CONFIRMATION_EXPIRY_SCHEDULE", "0 * * * *") // Hourly.
	viper.SetDefault("BILLING_RUN_TIMEOUT", "10m")
	viper.AutomaticEnv()

	// Bind environment variables explicitly so they appear in Unmarshal
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}
	_ = viper.BindEnv("PORT")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	if port := os.Getenv("PORT"); port != "" {
		config.ServerPort = port
	}

	config.SettlementCurrency = strings.ToUpper(strings.TrimSpace(config.SettlementCurrency))
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.BillingInternalAPIKey = strings.TrimSpace(config.BillingInternalAPIKey)
	if config.BillingInternalAPIKey == "" {
		config.BillingInternalAPIKey = config.InternalAPIKey
	}

	if config.BillingMaxRetries < 1 {
		return nil, fmt.Errorf("BILLING_MAX_RETRIES must be at least 1, got %d", config.BillingMaxRetries)
	}
	if config.BillingIntervalDays < 1 || config.BillingRetryIntervalDays < 1 {
		return nil, fmt.Errorf("BILLING_INTERVAL_DAYS and BILLING_RETRY_INTERVAL_DAYS must be positive")
	}

	return &config, nil
}

// ValidateAPI checks the settings billing-api cannot start without.
func (c *Config) ValidateAPI() error {
	required := []struct {
		key   string
		value string
	}{
		{"DATABASE_URL", c.DatabaseURL},
		{"INTERNAL_API_KEY", c.InternalAPIKey},
		{"PAYMOB_API_KEY", c.PaymobAPIKey},
		{"PAYMOB_HMAC_SECRET", c.PaymobHMACSecret},
		{"ADMIN_JWT_SECRET", c.AdminJWTSecret},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%s is required", r.key)
		}
	}
	if c.PaymobIntegrationID <= 0 {
		return fmt.Errorf("PAYMOB_INTEGRATION_ID is required")
	}
	// The expiry job closes claimed attempts older than the confirmation timeout.
	if c.ConfirmationTimeout <= c.ChargeTimeout {
		return fmt.Errorf("CONFIRMATION_TIMEOUT (%s) must exceed CHARGE_TIMEOUT (%s)", c.ConfirmationTimeout, c.ChargeTimeout)
	}
	return nil
}

// ValidateScheduler checks the settings billing-scheduler cannot start without.
func (c *Config) ValidateScheduler() error {
	if strings.TrimSpace(c.BillingServiceURL) == "" {
		return fmt.Errorf("BILLING_SERVICE_URL is required")
	}
	if c.BillingInternalAPIKey == "" {
		return fmt.Errorf("BILLING_SERVICE_INTERNAL_API_KEY (or INTERNAL_API_KEY) is required")
	}
	return nil
}

// Origins splits CORS_ALLOWED_ORIGINS into a list.
func (c *Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
