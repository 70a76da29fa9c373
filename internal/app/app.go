// Package app wires the migration components together.
package app

import (
	"context"
	"fmt"
	"time"

	"wp2s3/internal/config"
	"wp2s3/internal/job"
	"wp2s3/internal/ledger"
	"wp2s3/internal/media"
	"wp2s3/internal/metrics"
	"wp2s3/internal/progress"
	"wp2s3/internal/server"
	"wp2s3/internal/source"
	"wp2s3/internal/storage"
	"wp2s3/internal/transfer"

	"go.uber.org/zap"
)

// App holds the assembled migration pipeline and its shared state.
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   storage.Client
	ledger  *ledger.SQLiteStore
	metrics *metrics.Collector
	orch    *job.Orchestrator
}

// New builds the pipeline from configuration.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	store, err := storage.NewMinIOClient(storage.Config{
		Endpoint:  cfg.Store.Endpoint,
		Region:    cfg.Store.Region,
		AccessKey: cfg.Store.AccessKey,
		SecretKey: cfg.Store.SecretKey,
		Secure:    cfg.Store.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create store client: %w", err)
	}

	ledgerStore, err := ledger.NewSQLiteStore(cfg.Migration.Ledger)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	if cfg.Migration.LegacyLedger != "" {
		n, err := ledgerStore.ImportJSON(cfg.Migration.LegacyLedger)
		if err != nil {
			ledgerStore.Close()
			return nil, fmt.Errorf("failed to import legacy ledger: %w", err)
		}
		if n > 0 {
			logger.Info("Imported legacy ledger entries",
				zap.String("path", cfg.Migration.LegacyLedger),
				zap.Int("imported", n),
			)
		}
	}

	src := source.NewClient(
		cfg.Source.APIURL,
		time.Duration(cfg.Source.TimeoutSeconds)*time.Second,
		logger,
	)

	resolver := media.NewResolver(cfg.Migration.YtdlpPath, cfg.Migration.CookiesFile, logger)
	fetcher := media.NewHTTPFetcher(resolver)

	collector := metrics.New()
	tracker := progress.NewTracker()
	observer := &runObserver{tracker: tracker, metrics: collector}

	engine := transfer.NewEngine(fetcher, store, cfg.Store.Bucket, cfg.Migration.TempDir, observer, logger)

	orch := job.NewOrchestrator(src, ledgerStore, engine, collector, tracker, cfg.Migration.KeyPrefix, logger)

	return &App{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		ledger:  ledgerStore,
		metrics: collector,
		orch:    orch,
	}, nil
}

// Run executes one synchronous migration pass.
func (a *App) Run(ctx context.Context, maxCount int) error {
	if maxCount <= 0 {
		maxCount = a.cfg.Migration.MaxRecords
	}

	a.logger.Info("Starting migration",
		zap.String("source", a.cfg.Source.APIURL),
		zap.String("bucket", a.cfg.Store.Bucket),
		zap.Int("max_records", maxCount),
	)

	return a.orch.Run(ctx, maxCount)
}

// Serve runs the control surface until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	srv := server.New(ctx, a.orch, a.ledger, a.metrics, a.cfg, a.logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(a.cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		// Let an in-flight run reach a record boundary before exiting.
		a.orch.Wait()
		return nil
	}
}

// Verify checks every ledgered record against the object store and reports
// ids whose stored object is missing.
func (a *App) Verify(ctx context.Context) error {
	ids, err := a.ledger.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}

	var present, missing int
	for _, id := range ids {
		key := a.cfg.Migration.KeyPrefix + id + ".mp4"
		info, err := a.store.HeadObject(ctx, a.cfg.Store.Bucket, key)
		if err != nil {
			missing++
			a.logger.Warn("Ledgered object missing from store",
				zap.String("id", id),
				zap.String("key", key),
				zap.Error(err),
			)
			continue
		}

		present++
		a.logger.Debug("Verified object",
			zap.String("key", key),
			zap.String("size", progress.FormatBytes(info.Size)),
		)
	}

	a.logger.Info("Verification finished",
		zap.Int("ledgered", len(ids)),
		zap.Int("present", present),
		zap.Int("missing", missing),
	)

	if missing > 0 {
		return fmt.Errorf("%d ledgered objects missing from store", missing)
	}
	return nil
}

// Orchestrator exposes the job orchestrator, mainly for the CLI status path.
func (a *App) Orchestrator() *job.Orchestrator {
	return a.orch
}

// runObserver fans transfer byte progress out to the progress tracker and
// the metrics counter.
type runObserver struct {
	tracker *progress.Tracker
	metrics *metrics.Collector
}

func (o *runObserver) SetTotal(bytes int64) {
	o.tracker.SetTotal(bytes)
}

func (o *runObserver) AddBytes(bytes int64) {
	o.tracker.AddBytes(bytes)
	o.metrics.AddBytes(bytes)
}

// Close cleans up resources
func (a *App) Close() error {
	if a.ledger != nil {
		return a.ledger.Close()
	}
	return nil
}
