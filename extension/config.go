package extension

import "time"

// Config holds the Treasury extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.treasury" or "treasury" keys).
type Config struct {
	// DisableRoutes prevents HTTP route registration.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for treasury routes (default: "/treasury").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// Environment is the deployment environment tag stamped onto ingested
	// events (default: "development").
	Environment string `json:"environment" mapstructure:"environment" yaml:"environment"`

	// Currency is the default settlement currency code (default: "usd").
	Currency string `json:"currency" mapstructure:"currency" yaml:"currency"`

	// PlatformFeeBps is the platform fee in basis points taken from each
	// payment (default: 1000, i.e. 10%).
	PlatformFeeBps int64 `json:"platform_fee_bps" mapstructure:"platform_fee_bps" yaml:"platform_fee_bps"`

	// RefundInterval is how frequently the refund worker scans for pending
	// refunds (default: 1m).
	RefundInterval time.Duration `json:"refund_interval" mapstructure:"refund_interval" yaml:"refund_interval"`

	// DestinationAccountPrefix is the required prefix for settlement
	// destination account ids (default: "acct_").
	DestinationAccountPrefix string `json:"destination_account_prefix" mapstructure:"destination_account_prefix" yaml:"destination_account_prefix"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Environment:              "development",
		Currency:                 "usd",
		PlatformFeeBps:           1000,
		RefundInterval:           time.Minute,
		DestinationAccountPrefix: "acct_",
	}
}
