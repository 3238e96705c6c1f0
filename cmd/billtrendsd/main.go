package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joseph-ayodele/bill-trends/internal/async"
	"github.com/joseph-ayodele/bill-trends/internal/auth"
	"github.com/joseph-ayodele/bill-trends/internal/cache"
	"github.com/joseph-ayodele/bill-trends/internal/common"
	"github.com/joseph-ayodele/bill-trends/internal/ingest"
	"github.com/joseph-ayodele/bill-trends/internal/llm"
	"github.com/joseph-ayodele/bill-trends/internal/llm/openai"
	"github.com/joseph-ayodele/bill-trends/internal/metrics"
	"github.com/joseph-ayodele/bill-trends/internal/ocr"
	"github.com/joseph-ayodele/bill-trends/internal/pipeline"
	"github.com/joseph-ayodele/bill-trends/internal/report"
	repo "github.com/joseph-ayodele/bill-trends/internal/repository"
	"github.com/joseph-ayodele/bill-trends/internal/server"
	"github.com/joseph-ayodele/bill-trends/internal/storage"
	"github.com/joseph-ayodele/bill-trends/internal/trend"
	"github.com/joseph-ayodele/bill-trends/internal/zone"
)

func main() {
	hashPassword := flag.String("hash-password", "", "print the bcrypt hash for ADMIN_PASSWORD_HASH and exit")
	flag.Parse()
	if *hashPassword != "" {
		h, err := auth.HashPassword(*hashPassword)
		if err != nil {
			fmt.Fprintln(os.Stderr, "hash password:", err)
			os.Exit(1)
		}
		fmt.Println(h)
		return
	}

	cfg, err := common.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(2)
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("billtrendsd stopped with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run(cfg *common.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := server.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close(logger)
	metrics.Init(db.DB, logger)

	zoneCache, closeCache := openCache(ctx, cfg.Cache, logger)
	defer closeCache()

	store, err := storage.NewLocalStore(cfg.Storage.Dir, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	sessions := repo.NewSessionRepository(db, logger)
	documents := repo.NewDocumentRepository(db, logger)
	analyses := repo.NewAnalysisRepository(db, logger)
	results := repo.NewResultRepository(db, logger)

	if n, err := analyses.FailStale(ctx, "analysis was interrupted, please retry"); err != nil {
		return fmt.Errorf("fail stale analyses: %w", err)
	} else if n > 0 {
		logger.Warn("stale analyses closed out", "count", n)
	}

	textSource := ocr.NewExtractor(ocr.Config{
		Pdftotext:           cfg.OCR.Pdftotext,
		Pdftoppm:            cfg.OCR.Pdftoppm,
		Tesseract:           cfg.OCR.Tesseract,
		TesseractLang:       cfg.OCR.Lang,
		DPI:                 cfg.OCR.DPI,
		MaxPages:            cfg.OCR.MaxPages,
		TessdataDir:         cfg.OCR.TessdataDir,
		EnableTSVConfidence: true,
	}, logger)

	var fields llm.FieldExtractor
	if cfg.LLM.APIKey != "" {
		fields = openai.NewClient(openai.Config{
			APIKey:          cfg.LLM.APIKey,
			BaseURL:         cfg.LLM.BaseURL,
			Model:           cfg.LLM.Model,
			Temperature:     cfg.LLM.Temperature,
			Timeout:         cfg.LLM.Timeout,
			MaxVisionMB:     cfg.LLM.MaxVisionMB,
			LenientOptional: true,
		}, logger)
	}
	chain, err := pipeline.NewChain(textSource, fields, cfg.LLM.Mode, logger)
	if err != nil {
		return err
	}

	zones := zone.NewAggregator(results, zoneCache, cfg.Cache.ZoneTTL, logger)
	processor := pipeline.NewProcessor(pipeline.Deps{
		Analyses:  analyses,
		Sessions:  sessions,
		Documents: documents,
		Results:   results,
		Blobs:     store,
		Extractor: chain,
		Zones:     zones,
	}, trend.Thresholds{GreenPct: cfg.Trend.GreenPct, YellowPct: cfg.Trend.YellowPct}, logger)

	queue := async.NewProcessorQueue(processor, logger,
		async.WithWorkers(cfg.Queue.Workers),
		async.WithQueueSize(cfg.Queue.Size),
		async.WithProcessTimeout(cfg.Queue.Timeout),
		async.WithOnAbandon(func(ctx context.Context, job async.Job) {
			if err := analyses.MarkError(ctx, job.AnalysisID, "service restarted before the analysis ran, please retry"); err != nil {
				logger.Error("abandoned analysis not closed out", "analysis_id", job.AnalysisID, "error", err)
			}
		}),
	)

	sweeper := storage.NewSweeper(documents, store, cfg.Storage.UploadTTL, cfg.Storage.SweepInterval, logger)
	go sweeper.Run(ctx)

	handler := server.NewRouter(server.Dependencies{
		Sessions:      sessions,
		Documents:     documents,
		Analyses:      analyses,
		Results:       results,
		Ingestor:      ingest.NewIngestor(sessions, documents, store, cfg.Storage.MaxFileMB, logger),
		Queue:         queue,
		Zones:         zones,
		Exporter:      report.NewExporter(results, logger),
		Admin:         auth.NewAdmin(cfg.Auth.AdminPasswordHash, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		RateLimit:     server.NewRateLimit(zoneCache, cfg.Server.RateLimitPerMin, logger),
		DB:            db,
		PublicBaseURL: cfg.Server.PublicBaseURL,
		Logger:        logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer, healthServer := server.NewGRPCServer()
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.GRPCAddr, err)
	}
	go server.WatchHealth(ctx, healthServer, db, 15*time.Second, logger)

	errc := make(chan error, 2)
	go func() {
		logger.Info("grpc health listening", "addr", cfg.Server.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			errc <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	go func() {
		logger.Info("billtrendsd listening", "addr", cfg.Server.HTTPAddr, "extractor", cfg.LLM.Mode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http serve: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errc:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	grpcServer.GracefulStop()
	queue.Shutdown(shutdownCtx)
	logger.Info("stopped")
	return serveErr
}

// openCache uses Redis when REDIS_URL is set and reachable, otherwise an in-process cache.
func openCache(ctx context.Context, cfg common.CacheConfig, logger *slog.Logger) (cache.Cache, func()) {
	memory := func() cache.Cache {
		mc := cache.NewMemoryCache()
		go mc.RunJanitor(ctx, time.Minute)
		return mc
	}
	if cfg.RedisURL == "" {
		logger.Info("cache.memory")
		return memory(), func() {}
	}
	rc, err := cache.NewRedisCache(cfg.RedisURL)
	if err == nil {
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = rc.Ping(pctx)
		cancel()
	}
	if err != nil {
		logger.Warn("cache.redis.unavailable, using memory", "error", err)
		return memory(), func() {}
	}
	logger.Info("cache.redis")
	return rc, func() { _ = rc.Close() }
}
