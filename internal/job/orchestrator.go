// Package job drives the migration run: pull records from the paginated
// source, skip the already-migrated ones, extract a media reference, hand
// it to the transfer engine, and append successes to the ledger. At most
// one run executes at any instant, process-wide.
package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wp2s3/internal/extract"
	"wp2s3/internal/ledger"
	"wp2s3/internal/metrics"
	"wp2s3/internal/progress"
	"wp2s3/internal/source"
	"wp2s3/internal/storage"

	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned by Start while another run is in flight.
var ErrAlreadyRunning = errors.New("migration job is already running")

// Paginator yields records page by page from the content source.
type Paginator interface {
	Fetch(ctx context.Context, maxCount int) (<-chan source.Record, <-chan error)
}

// Transferer moves one media object into the store.
type Transferer interface {
	Transfer(ctx context.Context, ref extract.Reference, targetKey string, metadata map[string]string) (storage.ObjectLocation, error)
}

// PendingRecord is one not-yet-migrated record with an extractable
// reference, as reported to the control surface.
type PendingRecord struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	MediaURL string    `json:"media_url"`
	Date     time.Time `json:"date"`
}

// Orchestrator owns the single allowed concurrent migration run and the
// live status snapshot. The run loop is the only writer of both the
// status and the ledger.
type Orchestrator struct {
	src       Paginator
	ledger    ledger.Store
	engine    Transferer
	metrics   *metrics.Collector
	tracker   *progress.Tracker
	keyPrefix string
	logger    *zap.Logger

	mu     sync.RWMutex
	status Status

	wg sync.WaitGroup
}

// NewOrchestrator creates an orchestrator in the idle state.
func NewOrchestrator(
	src Paginator,
	ledgerStore ledger.Store,
	engine Transferer,
	metricsCollector *metrics.Collector,
	tracker *progress.Tracker,
	keyPrefix string,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		src:       src,
		ledger:    ledgerStore,
		engine:    engine,
		metrics:   metricsCollector,
		tracker:   tracker,
		keyPrefix: keyPrefix,
		logger:    logger,
		status:    Status{State: StateIdle},
	}
}

// Start launches a run in the background. It fails with ErrAlreadyRunning
// while another run is in flight and mutates nothing in that case.
// maxCount <= 0 means no cap.
func (o *Orchestrator) Start(ctx context.Context, maxCount int) error {
	if err := o.begin(); err != nil {
		return err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.run(ctx, maxCount); err != nil {
			o.logger.Error("Migration run aborted", zap.Error(err))
		}
	}()

	return nil
}

// Run executes a run synchronously. Same single-flight semantics as Start;
// the returned error is non-nil only for a fatal abort.
func (o *Orchestrator) Run(ctx context.Context, maxCount int) error {
	if err := o.begin(); err != nil {
		return err
	}
	return o.run(ctx, maxCount)
}

// Wait blocks until a background run started with Start has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Status returns the live or frozen snapshot by value.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()

	st := o.status
	if st.CurrentRecord != nil {
		rec := *st.CurrentRecord
		st.CurrentRecord = &rec
	}
	return st
}

// Progress returns byte progress for the current or most recent run.
func (o *Orchestrator) Progress() progress.Status {
	return o.tracker.GetStatus()
}

// begin flips the orchestrator into the running state, replacing the
// previous snapshot wholesale.
func (o *Orchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.status.IsRunning {
		return ErrAlreadyRunning
	}

	now := time.Now()
	o.status = Status{
		State:     StateRunning,
		IsRunning: true,
		StartedAt: &now,
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, maxCount int) error {
	o.metrics.SetJobRunning(true)
	defer o.metrics.SetJobRunning(false)
	o.tracker.Reset()

	o.logger.Info("Migration run started", zap.Int("max_count", maxCount))

	recCh, errCh := o.src.Fetch(ctx, maxCount)

	var fatal error
loop:
	for {
		// A cancelled context aborts at the next record boundary even
		// when the record channel still has items ready.
		if err := ctx.Err(); err != nil {
			fatal = err
			break loop
		}

		select {
		case rec, ok := <-recCh:
			if !ok {
				break loop
			}

			o.mu.Lock()
			o.status.TotalCount++
			o.mu.Unlock()

			migrated, err := o.ledger.Contains(rec.ID)
			if err != nil {
				// Without the ledger the at-most-once guarantee is gone,
				// so a read failure ends the run.
				fatal = fmt.Errorf("ledger read for record %s: %w", rec.ID, err)
				break loop
			}
			if migrated {
				continue
			}

			o.process(ctx, rec)

		case err, ok := <-errCh:
			if !ok {
				// Closed without an error; stop selecting on it.
				errCh = nil
				continue
			}
			if err != nil {
				fatal = err
				break loop
			}

		case <-ctx.Done():
			fatal = ctx.Err()
			break loop
		}
	}

	// The source goroutine buffers its error before closing the record
	// channel, so catch one that raced with the channel close.
	if fatal == nil {
		select {
		case err := <-errCh:
			if err != nil {
				fatal = err
			}
		default:
		}
	}

	o.finish(fatal)
	return fatal
}

// process runs one eligible record through extraction, transfer, and the
// ledger append. Per-record failures are counted and logged, never raised.
func (o *Orchestrator) process(ctx context.Context, rec source.Record) {
	start := time.Now()

	ref, found := extract.Extract(rec.RawContent)

	summary := &RecordSummary{ID: rec.ID, Title: rec.Title}
	if found {
		summary.MediaURL = ref.WatchURL
	}

	// Set the record and bump the index in one critical section so a
	// poller never sees an index without its matching record.
	o.mu.Lock()
	o.status.CurrentRecord = summary
	o.status.CurrentIndex++
	o.mu.Unlock()

	if !found {
		o.mu.Lock()
		o.status.SkippedCount++
		o.mu.Unlock()
		o.metrics.IncSkipped()
		o.logger.Debug("No media reference in record", zap.String("id", rec.ID))
		return
	}

	metadata := map[string]string{
		"post-id":     rec.ID,
		"post-title":  rec.Title,
		"youtube-url": ref.WatchURL,
		"upload-date": time.Now().Format(time.RFC3339),
	}

	loc, err := o.engine.Transfer(ctx, ref, o.keyPrefix+rec.ID+".mp4", metadata)
	if err != nil {
		o.recordFailure(rec, err)
		return
	}

	// The ledger append must be durable before the record counts as a
	// success; a crash in between re-transfers rather than skips.
	if err := o.ledger.Add(rec.ID); err != nil {
		o.recordFailure(rec, fmt.Errorf("ledger append: %w", err))
		return
	}

	o.mu.Lock()
	o.status.SuccessCount++
	o.mu.Unlock()

	o.metrics.IncSuccess()
	o.metrics.ObserveDuration(time.Since(start))

	o.logger.Info("Record migrated",
		zap.String("id", rec.ID),
		zap.String("location", loc.String()),
		zap.Duration("duration", time.Since(start)),
	)
}

func (o *Orchestrator) recordFailure(rec source.Record, err error) {
	o.mu.Lock()
	o.status.FailureCount++
	o.mu.Unlock()

	o.metrics.IncFailed()
	o.logger.Warn("Record migration failed",
		zap.String("id", rec.ID),
		zap.Error(err),
	)
}

func (o *Orchestrator) finish(fatal error) {
	now := time.Now()

	o.mu.Lock()
	o.status.IsRunning = false
	o.status.CurrentRecord = nil
	o.status.CompletedAt = &now
	if fatal != nil {
		o.status.State = StateAborted
	} else {
		o.status.State = StateCompleted
	}
	st := o.status
	o.mu.Unlock()

	o.logger.Info("Migration run finished",
		zap.String("state", string(st.State)),
		zap.Int("total", st.TotalCount),
		zap.Int("success", st.SuccessCount),
		zap.Int("failed", st.FailureCount),
		zap.Int("skipped", st.SkippedCount),
	)
}

// Pending lists records that are not in the ledger and carry an extractable
// media reference, in source order. maxCount caps the returned list,
// <= 0 meaning no cap. It never touches run state.
func (o *Orchestrator) Pending(ctx context.Context, maxCount int) ([]PendingRecord, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	recCh, errCh := o.src.Fetch(ctx, 0)

	var out []PendingRecord
	for rec := range recCh {
		migrated, err := o.ledger.Contains(rec.ID)
		if err != nil {
			return nil, fmt.Errorf("ledger read for record %s: %w", rec.ID, err)
		}
		if migrated {
			continue
		}

		ref, found := extract.Extract(rec.RawContent)
		if !found {
			continue
		}

		out = append(out, PendingRecord{
			ID:       rec.ID,
			Title:    rec.Title,
			MediaURL: ref.WatchURL,
			Date:     rec.PublishedAt,
		})

		if maxCount > 0 && len(out) >= maxCount {
			return out, nil
		}
	}

	if err := <-errCh; err != nil {
		return nil, err
	}
	return out, nil
}
