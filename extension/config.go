package extension

import "time"

// Config holds the CreditLedger extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.creditledger" or
// "creditledger" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// ScheduleApplyInterval is how often the extension scans for scheduled
	// plan changes whose period has ended and applies them (default: 1m).
	// Set to a negative value to disable the background loop.
	ScheduleApplyInterval time.Duration `json:"schedule_apply_interval" mapstructure:"schedule_apply_interval" yaml:"schedule_apply_interval"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ScheduleApplyInterval: time.Minute,
	}
}
