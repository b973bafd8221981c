// Package application provides application-level services and dependency injection.
package application

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/quotedesk/quotedesk/internal/adapters/remote/httpstore"
	"github.com/quotedesk/quotedesk/internal/adapters/store/sqlite"
	"github.com/quotedesk/quotedesk/internal/application/ports"
	"github.com/quotedesk/quotedesk/internal/application/queue"
	appSync "github.com/quotedesk/quotedesk/internal/application/sync"
	"github.com/quotedesk/quotedesk/internal/infrastructure/config"
	"github.com/quotedesk/quotedesk/internal/infrastructure/connectivity"
	"github.com/quotedesk/quotedesk/internal/infrastructure/logging"
	"github.com/quotedesk/quotedesk/internal/infrastructure/storage"
	"github.com/quotedesk/quotedesk/internal/infrastructure/tracing"
)

// Container holds all application dependencies and provides a central point
// for dependency injection. It manages the lifecycle of services and ensures
// proper initialization order: observability, database, repositories, remote
// client, connectivity, then the engine that ties them together.
type Container struct {
	// Configuration
	config  *config.Config
	verbose bool // Override log level to debug when true

	// Database connection
	dbConn *sqlite.Connection
	db     *sql.DB

	// Repositories
	cacheRepo ports.LocalCachePort
	queueRepo ports.QueueStoragePort

	// Remote store client
	remote *httpstore.Client

	// Connectivity monitor
	monitor *connectivity.Monitor

	// Sync engine
	engine *appSync.Engine

	// Config file watcher for hot reload
	watcher *config.Watcher
	watchWG sync.WaitGroup

	// Observability
	logger *logging.Logger
	tracer *tracing.Tracer
}

// NewContainer creates a new dependency injection container with all services
// initialized based on the provided configuration.
func NewContainer(cfg *config.Config, verbose bool) (*Container, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}

	c := &Container{
		config:  cfg,
		verbose: verbose,
	}

	if err := c.initObservability(); err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	if err := c.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	c.initRepositories()
	c.initRemote()
	c.initConnectivity()
	c.initEngine()

	return c, nil
}

// initObservability initializes logging and tracing.
func (c *Container) initObservability() error {
	logLevel := logging.LevelInfo

	// Verbose flag overrides the configured level
	if c.verbose {
		logLevel = logging.LevelDebug
	} else {
		switch c.config.Logging.Level {
		case "debug":
			logLevel = logging.LevelDebug
		case "info":
			logLevel = logging.LevelInfo
		case "warn":
			logLevel = logging.LevelWarn
		case "error":
			logLevel = logging.LevelError
		}
	}

	logFormat := logging.FormatText
	if c.config.Logging.Format == "json" {
		logFormat = logging.FormatJSON
	}

	c.logger = logging.New(logging.Config{
		Level:  logLevel,
		Format: logFormat,
	})

	if c.config.Tracing.Enabled {
		tracer, err := tracing.New(context.Background(), tracing.Config{
			Enabled:      true,
			ExporterType: tracing.ExporterType(c.config.Tracing.ExporterType),
			OTLPEndpoint: c.config.Tracing.OTLPEndpoint,
			ServiceName:  c.config.Tracing.ServiceName,
			Environment:  "production",
			SampleRate:   c.config.Tracing.SampleRate,
		})
		if err != nil {
			return fmt.Errorf("failed to create tracer: %w", err)
		}
		c.tracer = tracer
	} else {
		c.tracer = tracing.Default()
	}

	return nil
}

// initDatabase initializes the SQLite database connection.
func (c *Container) initDatabase() error {
	conn, err := sqlite.NewConnection(c.config.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}

	if err := conn.Open(); err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db, err := conn.DB()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to get database handle: %w", err)
	}

	c.dbConn = conn
	c.db = db
	return nil
}

// initRepositories initializes the storage repositories.
func (c *Container) initRepositories() {
	c.cacheRepo = storage.NewCacheRepository(c.db)
	c.queueRepo = storage.NewQueueRepository(c.db)
}

// initRemote initializes the remote store client.
func (c *Container) initRemote() {
	opts := []httpstore.ClientOption{
		httpstore.WithBaseURL(c.config.Remote.BaseURL),
	}
	if c.config.Remote.APIToken != "" {
		opts = append(opts, httpstore.WithAPIToken(c.config.Remote.APIToken))
	}
	if c.config.Remote.Timeout > 0 {
		opts = append(opts, httpstore.WithTimeout(c.config.Remote.Timeout))
	}
	c.remote = httpstore.NewClient(opts...)
}

// initConnectivity initializes the reachability monitor. Probing starts in
// StartMonitoring so tests can drive the monitor manually.
func (c *Container) initConnectivity() {
	c.monitor = connectivity.NewMonitor(c.remote, c.config.Connectivity.ProbeInterval, c.logger)
}

// initEngine wires the sync engine over the repositories, the remote client,
// and the connectivity monitor.
func (c *Container) initEngine() {
	c.engine = appSync.New(
		c.cacheRepo,
		c.remote,
		c.queueRepo,
		c.monitor,
		queue.Config{
			BaseDelay:    c.config.Queue.BaseDelay,
			MaxDelay:     c.config.Queue.MaxDelay,
			RetryCeiling: c.config.Queue.RetryCeiling,
		},
		c.logger,
		c.tracer,
	)
}

// StartMonitoring begins connectivity probing. Call after the container is
// fully initialized; the first probe that finds the remote reachable
// triggers a queue drain.
func (c *Container) StartMonitoring() {
	c.monitor.Start()
}

// StartConfigWatch follows edits to the config file and hot-applies the queue
// tuning. Endpoints and the database path still need a restart; a reload that
// fails to parse or validate leaves the running configuration in effect.
func (c *Container) StartConfigWatch(loader *config.Loader, configPath string) error {
	if c.watcher != nil {
		return fmt.Errorf("config watch already started")
	}

	w, err := config.NewWatcher(loader, configPath, config.DefaultWatcherConfig())
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := w.Watch(); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch config file: %w", err)
	}
	c.watcher = w

	c.watchWG.Add(1)
	go func() {
		defer c.watchWG.Done()
		for {
			select {
			case cfg, ok := <-w.Reloads():
				if !ok {
					return
				}
				c.applyReload(cfg)
			case err, ok := <-w.Errors():
				if !ok {
					return
				}
				c.logger.Warn("config reload failed", "error", err.Error())
			}
		}
	}()

	return nil
}

// applyReload pushes the hot-reloadable subset of a changed configuration
// into the running components.
func (c *Container) applyReload(cfg *config.Config) {
	c.engine.Queue().Retune(queue.Config{
		BaseDelay:    cfg.Queue.BaseDelay,
		MaxDelay:     cfg.Queue.MaxDelay,
		RetryCeiling: cfg.Queue.RetryCeiling,
	})
}

// Close releases all resources held by the container.
func (c *Container) Close() error {
	if c.watcher != nil {
		_ = c.watcher.Close()
		c.watchWG.Wait()
		c.watcher = nil
	}

	if c.monitor != nil {
		c.monitor.Stop()
	}

	if c.engine != nil {
		c.engine.Close()
	}

	if c.tracer != nil {
		_ = c.tracer.Shutdown(context.Background())
	}

	if c.dbConn != nil {
		return c.dbConn.Close()
	}
	return nil
}

// Engine returns the sync engine.
func (c *Container) Engine() *appSync.Engine {
	return c.engine
}

// Monitor returns the connectivity monitor.
func (c *Container) Monitor() *connectivity.Monitor {
	return c.monitor
}

// Config returns the active configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the application logger.
func (c *Container) Logger() *logging.Logger {
	return c.logger
}

// Tracer returns the application tracer.
func (c *Container) Tracer() *tracing.Tracer {
	return c.tracer
}
