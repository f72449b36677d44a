package extension

import (
	"time"

	"github.com/xraph/creditledger"
	"github.com/xraph/creditledger/plugin"
	"github.com/xraph/creditledger/store"
)

// Option configures the CreditLedger Forge extension.
type Option func(*Extension)

// WithStore sets the store for the ledger engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithLedgerOption passes a creditledger.Option through to the underlying engine.
func WithLedgerOption(opt creditledger.Option) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, opt)
	}
}

// WithPlugin registers a ledger plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, creditledger.WithPlugin(p))
	}
}

// WithProvider sets the billing provider client used for remote cancels.
func WithProvider(pc creditledger.ProviderClient) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, creditledger.WithProvider(pc))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithScheduleApplyInterval sets how often due scheduled plan changes are
// swept and applied. A negative value disables the background loop.
func WithScheduleApplyInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.ScheduleApplyInterval = d }
}
