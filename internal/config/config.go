package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string `mapstructure:"PORT"`
	Env            string `mapstructure:"ENV"`
	LogFormat      string `mapstructure:"LOG_FORMAT"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32  `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	EDISenderID         string `mapstructure:"EDI_SENDER_ID"`
	EDIReceiverID       string `mapstructure:"EDI_RECEIVER_ID"`
	EDISubmitterName    string `mapstructure:"EDI_SUBMITTER_NAME"`
	EDISubmitterContact string `mapstructure:"EDI_SUBMITTER_CONTACT"`
	EDISubmitterPhone   string `mapstructure:"EDI_SUBMITTER_PHONE"`
	EDIReceiverName     string `mapstructure:"EDI_RECEIVER_NAME"`
	EDIBillingName      string `mapstructure:"EDI_BILLING_NAME"`
	EDIBillingNPI       string `mapstructure:"EDI_BILLING_NPI"`
	EDIBillingTaxID     string `mapstructure:"EDI_BILLING_TAX_ID"`
	EDIBillingAddress   string `mapstructure:"EDI_BILLING_ADDRESS"`
	EDIBillingCity      string `mapstructure:"EDI_BILLING_CITY"`
	EDIBillingState     string `mapstructure:"EDI_BILLING_STATE"`
	EDIBillingZip       string `mapstructure:"EDI_BILLING_ZIP"`
	EDIPayerID          string `mapstructure:"EDI_PAYER_ID"`
	EDIUsageIndicator   string `mapstructure:"EDI_USAGE_INDICATOR"`
	EDIControlNumbers   string `mapstructure:"EDI_CONTROL_NUMBERS"`
	EDILineBreaks       bool   `mapstructure:"EDI_LINE_BREAKS"`

	ExportClaimTTL    time.Duration `mapstructure:"EXPORT_CLAIM_TTL"`
	ExportMarkRetries uint64        `mapstructure:"EXPORT_MARK_RETRIES"`

	ArchiveBucket   string `mapstructure:"ARCHIVE_BUCKET"`
	ArchiveRegion   string `mapstructure:"ARCHIVE_REGION"`
	ArchiveEndpoint string `mapstructure:"ARCHIVE_ENDPOINT"`
	ArchivePrefix   string `mapstructure:"ARCHIVE_PREFIX"`
}

// Control number modes.
const (
	ControlNumbersSequence = "sequence"
	ControlNumbersRandom   = "random"
)

var keys = []string{
	"PORT", "ENV", "LOG_FORMAT", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"EDI_SENDER_ID", "EDI_RECEIVER_ID", "EDI_SUBMITTER_NAME", "EDI_SUBMITTER_CONTACT",
	"EDI_SUBMITTER_PHONE", "EDI_RECEIVER_NAME", "EDI_BILLING_NAME", "EDI_BILLING_NPI",
	"EDI_BILLING_TAX_ID", "EDI_BILLING_ADDRESS", "EDI_BILLING_CITY", "EDI_BILLING_STATE",
	"EDI_BILLING_ZIP", "EDI_PAYER_ID", "EDI_USAGE_INDICATOR", "EDI_CONTROL_NUMBERS",
	"EDI_LINE_BREAKS", "EXPORT_CLAIM_TTL", "EXPORT_MARK_RETRIES",
	"ARCHIVE_BUCKET", "ARCHIVE_REGION", "ARCHIVE_ENDPOINT", "ARCHIVE_PREFIX",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("EDI_SENDER_ID", "CLAIMEXPORT")
	v.SetDefault("EDI_RECEIVER_ID", "CLEARINGHOUSE")
	v.SetDefault("EDI_SUBMITTER_NAME", "Wound Care Billing")
	v.SetDefault("EDI_SUBMITTER_CONTACT", "Billing Office")
	v.SetDefault("EDI_SUBMITTER_PHONE", "0000000000")
	v.SetDefault("EDI_RECEIVER_NAME", "Clearinghouse")
	v.SetDefault("EDI_BILLING_NAME", "Wound Care Practice")
	// The billing address has no source table; these defaults are placeholders.
	v.SetDefault("EDI_BILLING_ADDRESS", "123 Main St")
	v.SetDefault("EDI_BILLING_CITY", "Anytown")
	v.SetDefault("EDI_BILLING_STATE", "NY")
	v.SetDefault("EDI_BILLING_ZIP", "10001")
	v.SetDefault("EDI_PAYER_ID", "00000")
	v.SetDefault("EDI_USAGE_INDICATOR", "P")
	v.SetDefault("EDI_CONTROL_NUMBERS", ControlNumbersSequence)
	v.SetDefault("EDI_LINE_BREAKS", false)
	v.SetDefault("EXPORT_CLAIM_TTL", "15m")
	v.SetDefault("EXPORT_MARK_RETRIES", 3)
	v.SetDefault("ARCHIVE_PREFIX", "837p")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedLogFormat is LOG_FORMAT, or console in development and json
// elsewhere.
func (c *Config) ResolvedLogFormat() string {
	if c.LogFormat != "" {
		return c.LogFormat
	}
	if c.IsDev() {
		return "console"
	}
	return "json"
}

// Validate checks that the configuration is safe to run. Outside
// development a token issuer or signing key is required.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if c.IsProduction() && c.AuthSigningKey != "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is for development and tests; use AUTH_JWKS_URL in production")
	}
	switch c.ResolvedLogFormat() {
	case "console", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be \"console\" or \"json\", got %q", c.LogFormat)
	}
	switch c.EDIControlNumbers {
	case ControlNumbersSequence, ControlNumbersRandom:
	default:
		return fmt.Errorf("EDI_CONTROL_NUMBERS must be %q or %q, got %q",
			ControlNumbersSequence, ControlNumbersRandom, c.EDIControlNumbers)
	}
	if c.EDIUsageIndicator != "P" && c.EDIUsageIndicator != "T" {
		return fmt.Errorf("EDI_USAGE_INDICATOR must be P or T, got %q", c.EDIUsageIndicator)
	}
	if c.IsProduction() && c.EDIUsageIndicator == "P" && (c.EDIBillingNPI == "" || c.EDIBillingTaxID == "") {
		return fmt.Errorf("EDI_BILLING_NPI and EDI_BILLING_TAX_ID are required for production interchanges")
	}
	if c.ExportClaimTTL <= 0 {
		return fmt.Errorf("EXPORT_CLAIM_TTL must be positive, got %s", c.ExportClaimTTL)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
