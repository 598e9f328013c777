// Package server initializes and runs the imagingdesk server.
// It opens the storage index and object store, starts the JSON API, the
// metrics listener and the rate limiter sweeper, and shuts everything down
// on SIGINT/SIGTERM.
package server

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dmitrijs2005/imagingdesk/internal/logging"
	"github.com/dmitrijs2005/imagingdesk/internal/server/access"
	"github.com/dmitrijs2005/imagingdesk/internal/server/config"
	"github.com/dmitrijs2005/imagingdesk/internal/server/httpapi"
	"github.com/dmitrijs2005/imagingdesk/internal/server/metrics"
	"github.com/dmitrijs2005/imagingdesk/internal/server/ratelimit"
	"github.com/dmitrijs2005/imagingdesk/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/imagingdesk/internal/server/services"
	"github.com/dmitrijs2005/imagingdesk/internal/server/storage"
)

type App struct {
	config        *config.Config
	logger        logging.Logger
	registry      *prometheus.Registry
	httpMetrics   *metrics.HTTPMetrics
	limiter       *ratelimit.Limiter
	fileService   *services.FileService
	closeIndex    func() error
	metricsServer *metrics.Server
}

// NewApp wires the server components from c. The storage index schema is
// migrated before NewApp returns.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	httpMetrics := metrics.NewHTTPMetricsWithRegistry(reg)
	resolverMetrics := metrics.NewResolverMetricsWithRegistry(reg)
	storeMetrics := metrics.NewObjectStoreMetricsWithRegistry(reg)

	rm, closeIndex, err := repomanager.New(ctx, c)
	if err != nil {
		return nil, err
	}

	if err := rm.RunMigrations(ctx); err != nil {
		_ = closeIndex()
		return nil, err
	}

	store, err := storage.NewS3Store(ctx, c, storeMetrics)
	if err != nil {
		_ = closeIndex()
		return nil, err
	}

	policy := access.NewPolicy(c.ElevatedRoles, c.S3KeyPrefix)
	fs := services.NewFileService(rm, store, policy, c, resolverMetrics)

	var limiter *ratelimit.Limiter
	if c.RateLimit > 0 {
		limiter = ratelimit.New(c.RateLimit, c.RateLimitWindow)
	}

	return &App{
		config:      c,
		logger:      logger,
		registry:    reg,
		httpMetrics: httpMetrics,
		limiter:     limiter,
		fileService: fs,
		closeIndex:  closeIndex,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startMetricsServer(ctx context.Context) {
	if app.config.MetricsAddr == "" {
		return
	}
	s := metrics.NewServerWithRegistry(app.config.MetricsAddr, app.registry, app.logger.With("module", "metrics_server"))
	if err := s.Start(); err != nil {
		app.logger.Error(ctx, "metrics server failed to start", "error", err)
		return
	}
	app.metricsServer = s
	app.logger.Info(ctx, "Starting metrics server", "address", s.Addr())
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := httpapi.NewHTTPServer(app.config.EndpointAddrHTTP, app.logger, app.fileService,
		app.config.SecretKey, app.limiter, app.httpMetrics, app.config.ShutdownTimeout)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run blocks until a termination signal arrives, ctx is cancelled, or the
// API server fails.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)
	app.startMetricsServer(ctx)

	var wg sync.WaitGroup

	if app.limiter != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.limiter.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	<-ctx.Done()
	if app.limiter != nil {
		app.limiter.Stop()
	}
	wg.Wait()

	app.shutdown()
}

func (app *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), app.config.ShutdownTimeout)
	defer cancel()

	if app.metricsServer != nil {
		if err := app.metricsServer.Close(ctx); err != nil {
			app.logger.Error(ctx, "metrics server shutdown", "error", err)
		}
	}
	if app.closeIndex != nil {
		if err := app.closeIndex(); err != nil {
			app.logger.Error(ctx, "storage index close", "error", err)
		}
	}
	app.logger.Info(ctx, "App stopped")
}
