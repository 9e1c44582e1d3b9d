// Package app builds the long-lived services for one process and acts as
// the dependency injection container for the CLI and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"

	gcsstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikindex/internal/clock/system"
	"github.com/JakeFAU/wikindex/internal/config"
	"github.com/JakeFAU/wikindex/internal/fetcher"
	collyfetcher "github.com/JakeFAU/wikindex/internal/fetcher/colly"
	"github.com/JakeFAU/wikindex/internal/fetcher/headless"
	"github.com/JakeFAU/wikindex/internal/hash/sha256"
	"github.com/JakeFAU/wikindex/internal/headless/detector"
	"github.com/JakeFAU/wikindex/internal/id/uuid"
	"github.com/JakeFAU/wikindex/internal/logging"
	"github.com/JakeFAU/wikindex/internal/metrics"
	"github.com/JakeFAU/wikindex/internal/pipeline"
	"github.com/JakeFAU/wikindex/internal/progress"
	"github.com/JakeFAU/wikindex/internal/progress/sinks"
	pubmemory "github.com/JakeFAU/wikindex/internal/publisher/memory"
	"github.com/JakeFAU/wikindex/internal/publisher/pubsub"
	"github.com/JakeFAU/wikindex/internal/source"
	"github.com/JakeFAU/wikindex/internal/source/memory"
	"github.com/JakeFAU/wikindex/internal/source/wiki"
	"github.com/JakeFAU/wikindex/internal/storage/gcs"
	"github.com/JakeFAU/wikindex/internal/storage/local"
	storemem "github.com/JakeFAU/wikindex/internal/storage/memory"
	"github.com/JakeFAU/wikindex/internal/storage/postgres"
	"github.com/JakeFAU/wikindex/internal/store"
	runmem "github.com/JakeFAU/wikindex/internal/store/memory"
)

// App holds the shared services.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	hub     *progress.Hub
	runner  *pipeline.Runner
	runs    store.RunRepository
	closers []func(context.Context) error
}

// Option customizes New.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
}

// WithLogger uses logger instead of building one from the logging config.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegisterer registers progress collectors against reg instead of the
// default registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// New builds every service cfg asks for. It fails fast: a service that
// cannot be created aborts startup and releases what was already built.
func New(ctx context.Context, cfg config.Config, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{cfg: cfg, logger: o.logger}
	if a.logger == nil {
		if a.logger, err = logging.New(cfg.Logging); err != nil {
			return nil, err
		}
	}
	defer func() {
		if err != nil {
			a.Close(ctx)
		}
	}()

	metrics.Init()
	if err := a.buildProgress(o.registerer); err != nil {
		return nil, err
	}

	src, err := a.buildSource()
	if err != nil {
		return nil, err
	}
	blobs, err := a.buildStore(ctx)
	if err != nil {
		return nil, err
	}
	pub, err := a.buildPublisher(ctx)
	if err != nil {
		return nil, err
	}
	if a.runs, err = a.buildLedger(ctx); err != nil {
		return nil, err
	}

	a.runner, err = pipeline.New(pipeline.Deps{
		Source:    src,
		Store:     blobs,
		Publisher: pub,
		Hasher:    sha256.New(),
		Runs:      a.runs,
		IDs:       uuid.New(),
		Clock:     system.New(),
		Logger:    a.logger,
		Events:    a.hub,
	}, pipeline.Config{
		Crawl:      cfg.Crawl,
		Map:        cfg.Map.Config,
		Shards:     cfg.Map.Shards,
		Partitions: cfg.Reduce.Partitions,
		Prefix:     cfg.Storage.Prefix,
		Topic:      cfg.Notify.Topic,
	})
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	a.logger.Debug("application services initialized",
		zap.String("source", cfg.Source.Kind),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("notify", cfg.Notify.Backend),
		zap.String("ledger", cfg.Ledger.Backend),
	)
	return a, nil
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Runner returns the pipeline runner.
func (a *App) Runner() *pipeline.Runner { return a.runner }

// Runs returns the run ledger, or nil when ledger.backend is none.
func (a *App) Runs() store.RunReader { return a.runs }

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config { return a.cfg }

// Close releases services in reverse construction order and flushes the
// progress hub.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync() // stderr sync fails on some terminals
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func (a *App) buildProgress(reg prometheus.Registerer) error {
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("build progress metrics: %w", err)
	}
	hubSinks := []progress.Sink{promSink}
	if a.cfg.Progress.LogEvents {
		hubSinks = append(hubSinks, sinks.NewLogSink(a.logger.Named("progress")))
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize: a.cfg.Progress.BufferSize,
		Logger:     a.logger.Named("progress"),
	}, hubSinks...)
	a.onClose(a.hub.Close)
	return nil
}

func (a *App) buildSource() (source.Source, error) {
	sc := a.cfg.Source
	if sc.Kind == config.SourceFixture {
		src, err := memory.LoadFixtureFile(sc.Fixture)
		if err != nil {
			return nil, fmt.Errorf("load fixture source: %w", err)
		}
		return src, nil
	}

	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     sc.UserAgent,
		RespectRobots: sc.RespectRobots,
		Timeout:       sc.RequestTimeout,
	})
	var f fetcher.Fetcher = probe
	if sc.Renderer == config.RendererHeadless || sc.Renderer == config.RendererAuto {
		hf, err := headless.NewChromedp(headless.Config{
			MaxParallel:       sc.Headless.MaxParallel,
			UserAgent:         sc.UserAgent,
			NavigationTimeout: sc.Headless.NavTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("build headless fetcher: %w", err)
		}
		a.onClose(func(context.Context) error {
			hf.Close()
			return nil
		})
		f = hf
		if sc.Renderer == config.RendererAuto {
			f = fetcher.NewPromoting(probe, hf, detector.NewHeuristic(sc.Headless.PromotionThreshold), a.logger)
		}
	}
	return wiki.New(f, wiki.Config{
		BaseURL:        sc.BaseURL,
		MinTokenLength: sc.MinTokenLength,
	}, a.logger), nil
}

func (a *App) buildStore(ctx context.Context) (pipeline.BlobStore, error) {
	sc := a.cfg.Storage
	switch sc.Backend {
	case config.BackendLocal:
		blobs, err := local.New(local.Config{BaseDir: sc.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("build local storage: %w", err)
		}
		return blobs, nil
	case config.BackendGCS:
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.onClose(func(context.Context) error { return client.Close() })
		blobs, err := gcs.New(client, gcs.Config{Bucket: sc.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("build gcs storage: %w", err)
		}
		return blobs, nil
	case config.BackendMemory:
		return storemem.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
}

func (a *App) buildPublisher(ctx context.Context) (pipeline.Publisher, error) {
	nc := a.cfg.Notify
	switch nc.Backend {
	case config.BackendNone, "":
		return nil, nil
	case config.BackendMemory:
		return pubmemory.New(), nil
	case config.BackendPubSub:
		pub, err := pubsub.New(ctx, pubsub.Config{ProjectID: nc.ProjectID, Topic: nc.Topic})
		if err != nil {
			return nil, fmt.Errorf("build pubsub publisher: %w", err)
		}
		a.onClose(func(context.Context) error { return pub.Close() })
		return pub, nil
	default:
		return nil, errors.New("unknown notify backend " + nc.Backend)
	}
}

func (a *App) buildLedger(ctx context.Context) (store.RunRepository, error) {
	lc := a.cfg.Ledger
	switch lc.Backend {
	case config.BackendNone, "":
		return nil, nil
	case config.BackendMemory:
		return runmem.NewRunStore(), nil
	case config.BackendPostgres:
		runs, err := postgres.New(ctx, lc.Config)
		if err != nil {
			return nil, fmt.Errorf("build postgres ledger: %w", err)
		}
		a.onClose(func(context.Context) error {
			runs.Close()
			return nil
		})
		return runs, nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", lc.Backend)
	}
}
