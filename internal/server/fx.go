// Package server builds the mirror's object graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/hn-mirror/internal/api"
	"github.com/JakeFAU/hn-mirror/internal/clock/system"
	"github.com/JakeFAU/hn-mirror/internal/config"
	"github.com/JakeFAU/hn-mirror/internal/crawler"
	collyfetcher "github.com/JakeFAU/hn-mirror/internal/fetcher/colly"
	"github.com/JakeFAU/hn-mirror/internal/id/uuid"
	"github.com/JakeFAU/hn-mirror/internal/item"
	"github.com/JakeFAU/hn-mirror/internal/logging"
	"github.com/JakeFAU/hn-mirror/internal/metrics"
	"github.com/JakeFAU/hn-mirror/internal/policy/ratelimit"
	"github.com/JakeFAU/hn-mirror/internal/progress"
	progresssinks "github.com/JakeFAU/hn-mirror/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/hn-mirror/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/hn-mirror/internal/publisher/pubsub"
	"github.com/JakeFAU/hn-mirror/internal/refresh"
	memorystorage "github.com/JakeFAU/hn-mirror/internal/storage/memory"
)

const (
	shutdownTimeout = 10 * time.Second
	// memoryNotificationLimit caps notifications retained without Pub/Sub.
	memoryNotificationLimit = 100
)

var dialPubSub = gcppublisher.Dial

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	store           *memorystorage.ItemStore
	topList         *memorystorage.TopList
	crawler         *crawler.Crawler
	service         *crawler.Service
	refresher       *refresh.Refresher
	apiServer       *api.Server
	progressHub     *progress.Hub
	pubsubPublisher *gcppublisher.Publisher

	closeOnce sync.Once
	closeErr  error
}

// Build creates the application's dependencies. Prometheus collectors owned
// by the app are registered on the default registry.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return build(ctx, cfg, logger, prometheus.DefaultRegisterer)
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("remote", cfg.Remote.BaseURL),
		zap.Int("cache_capacity", cfg.Cache.Capacity),
	)

	var err error
	app.store, err = memorystorage.NewItemStore(cfg.Cache.Capacity, metrics.StoreObserver{})
	if err != nil {
		return nil, fmt.Errorf("item store init failed: %w", err)
	}
	app.topList = memorystorage.NewTopList(metrics.StoreObserver{})

	emitter, err := setupProgress(ctx, app, reg)
	if err != nil {
		return nil, err
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	clock := system.New()
	ids := uuid.New()
	fetcher := setupFetcher(app)

	app.crawler, err = crawler.New(
		crawler.Config{MaxInFlight: cfg.Crawler.MaxInFlight, PoolSize: cfg.Crawler.PoolSize},
		app.store,
		fetcher,
		clock,
		ids,
		emitter,
		logger.Named("crawler"),
	)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, fmt.Errorf("crawler init failed: %w", err)
	}
	app.service = crawler.NewService(app.crawler, app.store, app.topList, logger.Named("service"))

	topic := cfg.PubSub.TopicName
	app.refresher = refresh.New(
		refresh.Config{Interval: cfg.Refresh.Interval, TopLimit: cfg.Refresh.TopLimit, Topic: topic},
		fetcher,
		app.topList,
		app.crawler,
		publisher,
		emitter,
		clock,
		ids,
		logger.Named("refresh"),
	)

	app.apiServer = api.NewServer(
		app.service,
		app.topList,
		clock,
		api.Config{RequestTimeout: cfg.RequestTimeout()},
		logger.Named("api"),
	)
	return app, nil
}

func setupFetcher(app *App) *collyfetcher.Fetcher {
	var limiter *ratelimit.Limiter
	if app.cfg.Remote.RequestsPerSecond > 0 {
		limiter = ratelimit.New(ratelimit.Config{
			RequestsPerSecond: app.cfg.Remote.RequestsPerSecond,
			Burst:             app.cfg.Remote.Burst,
		})
		app.logger.Info("rate limiter enabled",
			zap.Float64("requests_per_second", app.cfg.Remote.RequestsPerSecond),
			zap.Int("burst", app.cfg.Remote.Burst),
		)
	}
	return collyfetcher.New(collyfetcher.Config{
		BaseURL:   app.cfg.Remote.BaseURL,
		UserAgent: app.cfg.Remote.UserAgent,
		Timeout:   app.cfg.Remote.Timeout(),
	}, limiter, app.logger.Named("fetcher"))
}

func setupPublisher(ctx context.Context, app *App) (refresh.Publisher, error) {
	if !app.cfg.PubSub.Enabled() {
		app.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(memoryNotificationLimit), nil
	}
	pub, err := dialPubSub(ctx, app.cfg.PubSub.ProjectID, app.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.pubsubPublisher = pub
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return pub, nil
}

func setupProgress(ctx context.Context, app *App, reg prometheus.Registerer) (progress.Emitter, error) {
	if !app.cfg.Progress.Enabled {
		app.logger.Info("crawl progress tracking disabled")
		return progress.Discard, nil
	}
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("progress prometheus sink init failed: %w", err)
	}
	sinkList := []progress.Sink{promSink}
	if app.cfg.Progress.LogEvents {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
	}
	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   app.cfg.Progress.MaxBatchWait,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Int("sinks", len(sinkList)),
	)
	return app.progressHub, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// RefreshOnce runs a single refresh cycle.
func (a *App) RefreshOnce(ctx context.Context) (refresh.Cycle, error) {
	cycle, err := a.refresher.RunOnce(ctx)
	if err != nil {
		return cycle, fmt.Errorf("refresh: %w", err)
	}
	return cycle, nil
}

// Resolve returns one item, crawling its subtree if it is not cached.
func (a *App) Resolve(ctx context.Context, id item.ID) (*item.Item, bool) {
	return a.service.Resolve(ctx, id)
}

// Run serves HTTP and drives periodic refreshes until ctx is cancelled or
// the process receives SIGINT or SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", a.cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Server.Addr(), err)
	}
	return a.serve(ctx, stop, listener)
}

func (a *App) serve(ctx context.Context, stop context.CancelFunc, listener net.Listener) error {
	refreshDone := make(chan struct{})
	if a.cfg.Refresh.Enabled {
		go func() {
			defer close(refreshDone)
			a.refresher.Run(ctx)
		}()
	} else {
		a.logger.Info("periodic refresh disabled")
		close(refreshDone)
	}

	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.String("addr", listener.Addr().String()))
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-refreshDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("refresh cycle still running at shutdown")
	}
	return a.Close(shutdownCtx)
}

// Close flushes crawl events, stops publishers and syncs the logger. Only the
// first call does any work.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.closeInfrastructure(ctx)
		a.logger.Info("shutdown complete")
		a.closeErr = logging.Sync(a.logger)
	})
	return a.closeErr
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		drops := a.progressHub.Dropped()
		a.logger.Info("progress hub closed",
			zap.Int64("fetch_events_dropped", drops.Fetch),
			zap.Int64("lifecycle_events_dropped", drops.Lifecycle),
		)
	}
	if a.pubsubPublisher != nil {
		if err := a.pubsubPublisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
}
