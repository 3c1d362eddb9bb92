package main

import (
	"context"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"lawcrawl/extract"
	"lawcrawl/httputil"
	"lawcrawl/lookup"
	"lawcrawl/models"
	"lawcrawl/queue"
	"lawcrawl/scraper"
	"lawcrawl/services"
	"lawcrawl/storage"
	"lawcrawl/workers"
)

// app is the wired object graph shared by every command.
type app struct {
	store        storage.Store
	queue        *storage.SQLiteQueue
	orchestrator *scraper.Orchestrator
	browser      *scraper.BrowserFetcher
	jobs         *services.JobService
	health       *services.HealthcheckService
	client       *lookup.Client
	lookups      *lookup.Service
	automator    *lookup.Automator
	dispatcher   *workers.Dispatcher
	logger       *zap.Logger
}

type appOptions struct {
	// memory keeps lawyers in process and the queue in queueDir; nothing
	// outlives the command.
	memory   bool
	queueDir string
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	logger := zap.L()
	a := &app{logger: logger}

	clients, err := httputil.NewClients(cfg.Fetch)
	if err != nil {
		return nil, err
	}

	switch {
	case opts.memory:
		a.store = storage.NewMemoryStore()
	case cfg.DatabaseURL == "":
		return nil, eris.New("DATABASE_URL is not set")
	default:
		pg, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		logger.Info("connected to postgres", zap.String("url", maskConnectionString(cfg.DatabaseURL)))
		a.store = pg
	}

	queuePath := cfg.QueueDBPath
	if opts.queueDir != "" {
		queuePath = filepath.Join(opts.queueDir, "queue.db")
	}
	a.queue, err = storage.NewSQLiteQueue(queuePath)
	if err != nil {
		a.store.Close()
		return nil, err
	}

	var archive storage.Archive = storage.NopArchive{}
	if cfg.Archive.Enabled() {
		s3a, err := storage.NewS3Archive(ctx, cfg.Archive)
		if err != nil {
			a.close()
			return nil, err
		}
		archive = s3a
		logger.Info("archiving to s3", zap.String("bucket", cfg.Archive.Bucket))
	}

	extractor := extract.New(extract.RegistryFromConfig(cfg.Sites))
	var fetcher scraper.PageFetcher = scraper.NewFetcher(cfg.Fetch, clients.Scraping, logger.Named("fetch"))
	if cfg.Fetch.BrowserFallback {
		a.browser = scraper.NewBrowserFetcher(cfg.Fetch, logger.Named("browser"))
		fetcher = scraper.NewFallbackFetcher(fetcher, a.browser, logger.Named("fetch"))
	}
	a.orchestrator = scraper.NewOrchestrator(cfg.Crawl, a.store, fetcher, extractor, logger.Named("crawl"))
	a.orchestrator.SetQueue(a.queue)
	a.orchestrator.SetArchive(archive)

	a.jobs = services.NewJobService(a.store, a.queue, logger)
	a.jobs.SetSites(scraper.NewSites(cfg.Sites))
	a.health = services.NewHealthcheckService(a.store, fetcher, logger.Named("healthcheck"))

	a.client = lookup.NewClient(cfg.Lookup, clients.API, lookup.NewLimiter(nil, logger), logger.Named("rocketreach"))
	a.lookups = lookup.NewService(cfg.Lookup, a.store, a.client, logger.Named("lookup"))
	a.lookups.SetQueue(a.queue)
	a.lookups.SetArchive(archive)
	if cfg.Lookup.Mode == "browser" || cfg.Lookup.Mode == "auto" {
		a.automator = lookup.NewAutomator(cfg.Lookup, logger.Named("browser"))
		a.lookups.SetBrowser(a.automator)
	}

	a.dispatcher = workers.NewDispatcher(a.queue, cfg.Workers, logger)
	a.dispatcher.Handle(queue.KindDiscovery, a.orchestrator.HandleDiscovery)
	a.dispatcher.Handle(queue.KindDetail, a.orchestrator.HandleDetail)
	a.dispatcher.Handle(queue.KindLookup, a.lookups.HandleLookup)
	a.dispatcher.SetLogger(func(taskID string, level models.LogLevel, source, message string) {
		if err := a.queue.Log(context.Background(), taskID, level, source, message); err != nil {
			logger.Warn("write task log", zap.String("task", taskID), zap.Error(err))
		}
	})

	return a, nil
}

func (a *app) close() {
	if a.browser != nil {
		a.browser.Close()
	}
	if a.automator != nil {
		a.automator.Close()
	}
	if a.queue != nil {
		a.queue.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}
