package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/recognition"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/vocabulary"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/resilience"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting recognizer", "port", cfg.Server.Port, "norm", cfg.Recognition.Norm)

	vocab, err := vocabulary.Load(cfg.Recognition.VocabularyPath)
	if err != nil {
		slog.Error("failed to load vocabulary", "path", cfg.Recognition.VocabularyPath, "error", err)
		os.Exit(1)
	}
	searcher := vocabulary.NewBruteForce(vocab)
	engine, err := recognition.NewEngine(searcher, searcher.Size(), cfg.Recognition)
	if err != nil {
		slog.Error("failed to create engine", "error", err)
		os.Exit(1)
	}
	slog.Info("vocabulary loaded", "words", searcher.Size(), "dimension", searcher.Dimension())

	if _, err := os.Stat(cfg.Recognition.SnapshotPath); err == nil {
		if err := engine.LoadSnapshot(cfg.Recognition.SnapshotPath); err != nil {
			slog.Error("failed to load snapshot", "path", cfg.Recognition.SnapshotPath, "error", err)
			os.Exit(1)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		slog.Error("cannot stat snapshot", "path", cfg.Recognition.SnapshotPath, "error", err)
		os.Exit(1)
	} else {
		slog.Info("no snapshot found, starting with an empty index", "path", cfg.Recognition.SnapshotPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	m.RegisterIndex(engine)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		defer shutdownMetrics(context.Background())
	}

	// The snapshot loop outlives ctx: its final save must come after the
	// ingest workers have stopped writing.
	down := &shutdown{timeout: cfg.Server.ShutdownTimeout, workers: &sync.WaitGroup{}}
	if cfg.Recognition.SnapshotPath != "" && cfg.Recognition.SnapshotInterval > 0 {
		snapCtx, stopSnapshots := context.WithCancel(context.Background())
		down.stopSnapshots = stopSnapshots
		down.snapshotDone = engine.StartSnapshotLoop(snapCtx, cfg.Recognition.SnapshotPath, cfg.Recognition.SnapshotInterval, m.ObserveSnapshot)
	}

	checker := health.NewChecker()
	checker.Register("index_engine", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d images over %d words", engine.NumImages(), engine.NumWords()),
		}
	})

	var remote cache.Remote
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, shared query cache disabled", "error", err)
		} else {
			defer redisClient.Close()
			remote = redisClient
			checker.Register("redis", health.Ping(redisClient.Ping, true))
			slog.Info("shared query cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}
	queryCache, err := cache.New(cfg.Search.LocalCacheSize, remote, cfg.Redis.CacheTTL)
	if err != nil {
		slog.Error("failed to create query cache", "error", err)
		os.Exit(1)
	}

	opts := handler.Options{
		Cache:        queryCache,
		Metrics:      m,
		Dimension:    searcher.Dimension(),
		MaxFeatures:  cfg.Search.MaxFeatures,
		DefaultLimit: cfg.Search.DefaultLimit,
		MaxResults:   cfg.Search.MaxResults,
	}
	indexOpts := consumer.Options{
		Limits: validator.Limits{
			Dimension:   searcher.Dimension(),
			MaxFeatures: cfg.Search.MaxFeatures,
		},
		Retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
		},
		Observe: m.ObserveIndex,
	}

	if cfg.Postgres.Enabled {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare image catalog", "error", err)
			os.Exit(1)
		}
		opts.Catalog = db
		indexOpts.Status = db
		checker.Register("postgres", health.Ping(db.Ping, true))
		slog.Info("image catalog enabled", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	}

	if cfg.Kafka.Enabled {
		analyticsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		collector := analytics.NewCollector(analyticsProducer, 10000, 100, time.Second)
		// Close drains the collector, so it runs on a context that shutdown
		// does not cancel.
		collector.Start(context.Background())
		down.closers = append(down.closers, collector.Close, func() { analyticsProducer.Close() })
		m.RegisterAnalytics(collector)
		opts.Tracker = collector
		indexOpts.Tracker = collector
		slog.Info("analytics collector started", "topic", cfg.Kafka.Topics.AnalyticsEvents)

		ingest := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.ImageIngest, consumer.HandleMessage(engine, indexOpts))
		m.RegisterIngest(ingest)
		checker.Register("ingest", ingestCheck(ingest))
		down.workers.Add(1)
		go func() {
			defer down.workers.Done()
			if err := ingest.Start(ctx); err != nil {
				slog.Error("ingest consumer error", "error", err)
			}
		}()
		slog.Info("ingest consumer started", "topic", cfg.Kafka.Topics.ImageIngest, "group", cfg.Kafka.ConsumerGroup)
	}

	mux := http.NewServeMux()
	handler.New(engine, opts).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	down.server = server

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("recognizer listening", "addr", server.Addr)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
		}
	}
	stop()
	down.run()
	slog.Info("recognizer stopped", "images", engine.NumImages())
}
