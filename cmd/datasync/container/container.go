package container

import (
	"fmt"

	"github.com/lyzr/datasync/cmd/datasync/catalog"
	"github.com/lyzr/datasync/cmd/datasync/ledger"
	"github.com/lyzr/datasync/cmd/datasync/planner"
	"github.com/lyzr/datasync/cmd/datasync/progress"
	"github.com/lyzr/datasync/cmd/datasync/remote"
	"github.com/lyzr/datasync/cmd/datasync/service"
	"github.com/lyzr/datasync/cmd/datasync/session"
	"github.com/lyzr/datasync/cmd/datasync/store"
	"github.com/lyzr/datasync/cmd/datasync/transcode"
	"github.com/lyzr/datasync/common/bootstrap"
	"github.com/lyzr/datasync/common/ratelimit"
	"github.com/lyzr/datasync/common/worker"
)

// Container holds all initialized services (singleton pattern)
type Container struct {
	// Components
	Components *bootstrap.Components

	// Storage
	Catalog *catalog.Catalog
	Store   *store.Store
	Ledger  *ledger.Ledger
	Source  remote.DataSource

	// Services
	Pool           *worker.Pool
	Transcoder     *transcode.Transcoder
	Planner        *planner.Planner
	Sessions       *session.Driver
	DatasetService *service.DatasetService

	// SessionLimiter is nil when rate limiting is disabled
	SessionLimiter ratelimit.Checker
}

// Option adjusts container construction
type Option func(*buildOptions)

type buildOptions struct {
	catalog     *catalog.Catalog
	source      remote.DataSource
	plannerOpts []planner.Option
}

// WithCatalog uses cat instead of loading the configured catalog file
func WithCatalog(cat *catalog.Catalog) Option {
	return func(o *buildOptions) {
		o.catalog = cat
	}
}

// WithSource uses src instead of the configured remote
func WithSource(src remote.DataSource) Option {
	return func(o *buildOptions) {
		o.source = src
	}
}

// WithPlannerOptions forwards options to the planner
func WithPlannerOptions(opts ...planner.Option) Option {
	return func(o *buildOptions) {
		o.plannerOpts = append(o.plannerOpts, opts...)
	}
}

// NewContainer initializes all services once
func NewContainer(components *bootstrap.Components, opts ...Option) (*Container, error) {
	o := &buildOptions{}
	for _, opt := range opts {
		opt(o)
	}
	cfg := components.Config
	log := components.Logger

	// Catalog
	cat := o.catalog
	if cat == nil {
		var err error
		cat, err = catalog.Load(cfg.Service.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load catalog: %w", err)
		}
	}
	log.Info("catalog loaded", "datasets", len(cat.Names()))

	// Storage (bottom-up: dependencies first)
	st, err := store.New(cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create content store: %w", err)
	}
	lg, err := ledger.New(cfg.Storage.MetaDir, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger: %w", err)
	}

	// Remote
	src := o.source
	if src == nil {
		src, err = newSource(components, cat.Prefix())
		if err != nil {
			return nil, err
		}
	}

	pool := worker.NewPool(cfg.Worker.PoolSize, log, components.Telemetry)
	tc := transcode.New(st, pool, log, components.Telemetry)
	pl := planner.New(st, lg, tc, pool, cfg.Fetch, log, components.Telemetry, o.plannerOpts...)

	// Mirror session events to redis when connected
	var publisher progress.Publisher
	if components.Redis != nil {
		publisher = components.Redis
	}
	sessions := session.NewDriver(cat, pl, src, cfg.Session, publisher, log, components.Telemetry)

	var limiter ratelimit.Checker
	if cfg.RateLimit.Enabled {
		if components.Redis != nil {
			limiter = ratelimit.NewRedisLimiter(components.Redis.GetUnderlying(), log)
		} else {
			limiter = ratelimit.NewMemoryLimiter(log)
		}
	}

	return &Container{
		Components:     components,
		Catalog:        cat,
		Store:          st,
		Ledger:         lg,
		Source:         src,
		Pool:           pool,
		Transcoder:     tc,
		Planner:        pl,
		Sessions:       sessions,
		DatasetService: service.NewDatasetService(cat, st, lg, tc, log),
		SessionLimiter: limiter,
	}, nil
}

// newSource builds the configured remote. REMOTE_TABLE_PREFIX overrides
// the catalog prefix when set.
func newSource(components *bootstrap.Components, catalogPrefix string) (remote.DataSource, error) {
	cfg := components.Config
	prefix := cfg.Remote.TablePrefix
	if prefix == "" {
		prefix = catalogPrefix
	}
	ttl := cfg.Cache.DefaultTTL

	switch cfg.Remote.Driver {
	case "postgres":
		if components.DB == nil {
			return nil, fmt.Errorf("postgres remote requires a database connection")
		}
		return remote.NewPostgresSource(components.DB, prefix, cfg.Remote.RowKey, components.Cache, ttl, components.Logger), nil
	case "sqlite":
		conn, err := remote.OpenSQLite(cfg.Remote.DSN)
		if err != nil {
			return nil, err
		}
		src := remote.NewSQLSource(conn, prefix, cfg.Remote.RowKey, components.Cache, ttl, components.Logger)
		components.AddCleanup(src.Close)
		return src, nil
	}
	return nil, fmt.Errorf("unknown remote driver: %s", cfg.Remote.Driver)
}
