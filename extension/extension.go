// Package extension provides the Forge extension adapter for Treasury.
//
// It implements the forge.Extension interface to integrate Treasury
// into a Forge application with automatic dependency discovery,
// DI registration, and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.treasury" or
// "treasury" keys.
package extension

import (
	"context"
	"errors"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	treasury "github.com/xraph/treasury"
	"github.com/xraph/treasury/store"
	"github.com/xraph/treasury/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "treasury"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Double-entry ledger and settlement core"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Treasury as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config   Config
	engine   *treasury.Core
	store    store.Store
	coreOpts []treasury.Option
}

// New creates a new Treasury Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Treasury instance.
// This is nil until Register is called.
func (e *Extension) Engine() *treasury.Core { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the treasury engine, and registers it in the DI container.
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

	// Build core options from resolved config.
	opts := e.buildCoreOpts()

	eng := treasury.New(e.store, opts...)
	e.engine = eng

	return vessel.Provide(fapp.Container(), func() (*treasury.Core, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("treasury: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
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
		return errors.New("treasury: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildCoreOpts constructs treasury.Option values from the resolved config.
func (e *Extension) buildCoreOpts() []treasury.Option {
	opts := make([]treasury.Option, 0, len(e.coreOpts)+5)

	if e.config.Environment != "" {
		opts = append(opts, treasury.WithEnvironment(e.config.Environment))
	}
	if e.config.Currency != "" {
		opts = append(opts, treasury.WithCurrency(e.config.Currency))
	}
	if e.config.PlatformFeeBps > 0 {
		opts = append(opts, treasury.WithPlatformFee(e.config.PlatformFeeBps))
	}
	if e.config.RefundInterval > 0 {
		opts = append(opts, treasury.WithRefundInterval(e.config.RefundInterval))
	}
	if e.config.DestinationAccountPrefix != "" {
		opts = append(opts, treasury.WithDestinationAccountPrefix(e.config.DestinationAccountPrefix))
	}

	// Append any pass-through core options.
	opts = append(opts, e.coreOpts...)

	return opts
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("treasury: configuration is required but not found in config files; " +
				"ensure 'extensions.treasury' or 'treasury' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("treasury: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("environment", e.config.Environment),
		forge.F("currency", e.config.Currency),
		forge.F("platform_fee_bps", e.config.PlatformFeeBps),
		forge.F("refund_interval", e.config.RefundInterval),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.treasury" first (namespaced pattern).
	if cm.IsSet("extensions.treasury") {
		if err := cm.Bind("extensions.treasury", &cfg); err == nil {
			e.Logger().Debug("treasury: loaded config from file",
				forge.F("key", "extensions.treasury"),
			)
			return cfg, true
		}
		e.Logger().Warn("treasury: failed to bind extensions.treasury config",
			forge.F("error", "bind failed"),
		)
	}

	// Try legacy "treasury" key.
	if cm.IsSet("treasury") {
		if err := cm.Bind("treasury", &cfg); err == nil {
			e.Logger().Debug("treasury: loaded config from file",
				forge.F("key", "treasury"),
			)
			return cfg, true
		}
		e.Logger().Warn("treasury: failed to bind treasury config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Environment == "" {
		cfg.Environment = defaults.Environment
	}
	if cfg.Currency == "" {
		cfg.Currency = defaults.Currency
	}
	if cfg.PlatformFeeBps == 0 {
		cfg.PlatformFeeBps = defaults.PlatformFeeBps
	}
	if cfg.RefundInterval == 0 {
		cfg.RefundInterval = defaults.RefundInterval
	}
	if cfg.DestinationAccountPrefix == "" {
		cfg.DestinationAccountPrefix = defaults.DestinationAccountPrefix
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.BasePath == "" && programmaticConfig.BasePath != "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}
	if yamlConfig.Environment == "" && programmaticConfig.Environment != "" {
		yamlConfig.Environment = programmaticConfig.Environment
	}
	if yamlConfig.Currency == "" && programmaticConfig.Currency != "" {
		yamlConfig.Currency = programmaticConfig.Currency
	}
	if yamlConfig.DestinationAccountPrefix == "" && programmaticConfig.DestinationAccountPrefix != "" {
		yamlConfig.DestinationAccountPrefix = programmaticConfig.DestinationAccountPrefix
	}

	// Numeric fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.PlatformFeeBps == 0 && programmaticConfig.PlatformFeeBps != 0 {
		yamlConfig.PlatformFeeBps = programmaticConfig.PlatformFeeBps
	}
	if yamlConfig.RefundInterval == 0 && programmaticConfig.RefundInterval != 0 {
		yamlConfig.RefundInterval = programmaticConfig.RefundInterval
	}

	// Fill remaining zeros with defaults.
	return e.mergeWithDefaults(yamlConfig)
}
