package extension

import (
	"time"

	"github.com/xraph/grove"

	treasury "github.com/xraph/treasury"
	"github.com/xraph/treasury/plugin"
	"github.com/xraph/treasury/provider"
	"github.com/xraph/treasury/store"
	mongostore "github.com/xraph/treasury/store/mongo"
)

// Option configures the Treasury Forge extension.
type Option func(*Extension)

// WithStore sets the store for the treasury engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithMongoDatabase constructs a mongo-backed store from the given grove
// database. The database must use the grove mongo driver.
func WithMongoDatabase(db *grove.DB) Option {
	return func(e *Extension) {
		e.store = mongostore.New(db)
	}
}

// WithCoreOption passes a treasury.Option through to the underlying engine.
func WithCoreOption(opt treasury.Option) Option {
	return func(e *Extension) {
		e.coreOpts = append(e.coreOpts, opt)
	}
}

// WithPlugin registers a treasury plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.coreOpts = append(e.coreOpts, treasury.WithPlugin(p))
	}
}

// WithProvider sets the payment provider for the engine.
func WithProvider(p provider.Provider) Option {
	return func(e *Extension) {
		e.coreOpts = append(e.coreOpts, treasury.WithProvider(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents HTTP route registration.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for treasury routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithEnvironment sets the deployment environment tag.
func WithEnvironment(env string) Option {
	return func(e *Extension) { e.config.Environment = env }
}

// WithCurrency sets the default settlement currency code.
func WithCurrency(currency string) Option {
	return func(e *Extension) { e.config.Currency = currency }
}

// WithPlatformFee sets the platform fee in basis points.
func WithPlatformFee(bps int64) Option {
	return func(e *Extension) { e.config.PlatformFeeBps = bps }
}

// WithRefundInterval sets how frequently the refund worker scans for
// pending refunds.
func WithRefundInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.RefundInterval = d }
}

// WithDestinationAccountPrefix sets the required prefix for settlement
// destination account ids.
func WithDestinationAccountPrefix(prefix string) Option {
	return func(e *Extension) { e.config.DestinationAccountPrefix = prefix }
}
