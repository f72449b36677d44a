// Package extension provides the Forge extension adapter for CreditLedger.
//
// It implements the forge.Extension interface to integrate CreditLedger
// into a Forge application with automatic dependency discovery,
// DI registration, and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.creditledger" or
// "creditledger" keys.
package extension

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/creditledger"
	"github.com/xraph/creditledger/store"
	"github.com/xraph/creditledger/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "creditledger"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Credit balance ledger and subscription reconciler"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts CreditLedger as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *creditledger.Ledger
	store      store.Store
	ledgerOpts []creditledger.Option

	stopSchedule context.CancelFunc
	scheduleDone chan struct{}
}

// New creates a new CreditLedger Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Ledger instance.
// This is nil until Register is called.
func (e *Extension) Engine() *creditledger.Ledger { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the ledger engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	eng := creditledger.New(e.store, e.ledgerOpts...)
	e.engine = eng

	return vessel.Provide(fapp.Container(), func() (*creditledger.Ledger, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("creditledger: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	if e.config.ScheduleApplyInterval > 0 {
		loopCtx, cancel := context.WithCancel(context.Background())
		e.stopSchedule = cancel
		e.scheduleDone = make(chan struct{})
		go e.runScheduleLoop(loopCtx)
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.stopSchedule != nil {
		e.stopSchedule()
		<-e.scheduleDone
	}
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("creditledger: store not initialized")
	}
	return e.store.Ping(ctx)
}

// runScheduleLoop periodically promotes scheduled plan changes whose
// period has ended. Errors are logged and the loop keeps running.
func (e *Extension) runScheduleLoop(ctx context.Context) {
	defer close(e.scheduleDone)

	ticker := time.NewTicker(e.config.ScheduleApplyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			applied, err := e.engine.ApplyScheduledChanges(ctx, time.Now())
			if err != nil {
				e.Logger().Warn("creditledger: scheduled change sweep failed",
					forge.F("error", err.Error()),
				)
				continue
			}
			if applied > 0 {
				e.Logger().Info("creditledger: applied scheduled changes",
					forge.F("count", applied),
				)
			}
		}
	}
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("creditledger: configuration is required but not found in config files; " +
				"ensure 'extensions.creditledger' or 'creditledger' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("creditledger: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("schedule_apply_interval", e.config.ScheduleApplyInterval),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.creditledger" first (namespaced pattern).
	if cm.IsSet("extensions.creditledger") {
		if err := cm.Bind("extensions.creditledger", &cfg); err == nil {
			e.Logger().Debug("creditledger: loaded config from file",
				forge.F("key", "extensions.creditledger"),
			)
			return cfg, true
		}
		e.Logger().Warn("creditledger: failed to bind extensions.creditledger config",
			forge.F("error", "bind failed"),
		)
	}

	// Try legacy "creditledger" key.
	if cm.IsSet("creditledger") {
		if err := cm.Bind("creditledger", &cfg); err == nil {
			e.Logger().Debug("creditledger: loaded config from file",
				forge.F("key", "creditledger"),
			)
			return cfg, true
		}
		e.Logger().Warn("creditledger: failed to bind creditledger config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.ScheduleApplyInterval == 0 {
		cfg.ScheduleApplyInterval = defaults.ScheduleApplyInterval
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	// Duration fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.ScheduleApplyInterval == 0 && programmaticConfig.ScheduleApplyInterval != 0 {
		yamlConfig.ScheduleApplyInterval = programmaticConfig.ScheduleApplyInterval
	}

	// Fill remaining zeros with defaults.
	return e.mergeWithDefaults(yamlConfig)
}
