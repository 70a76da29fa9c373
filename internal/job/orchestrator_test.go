package job

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"wp2s3/internal/extract"
	"wp2s3/internal/ledger"
	"wp2s3/internal/metrics"
	"wp2s3/internal/progress"
	"wp2s3/internal/source"
	"wp2s3/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func videoRecord(id, videoID string) source.Record {
	return source.Record{
		ID:         id,
		Title:      "Post " + id,
		RawContent: fmt.Sprintf(`<iframe src="https://www.youtube.com/embed/%s"></iframe>`, videoID),
	}
}

func plainRecord(id string) source.Record {
	return source.Record{ID: id, Title: "Post " + id, RawContent: "<p>no links here</p>"}
}

// fakePaginator replays a fixed record slice and optionally fails afterward.
type fakePaginator struct {
	records  []source.Record
	finalErr error
}

func (p *fakePaginator) Fetch(ctx context.Context, maxCount int) (<-chan source.Record, <-chan error) {
	recCh := make(chan source.Record)
	errCh := make(chan error, 1)

	go func() {
		defer close(recCh)
		defer close(errCh)

		yielded := 0
		for i := range p.records {
			select {
			case recCh <- p.records[i]:
			case <-ctx.Done():
				return
			}
			yielded++
			if maxCount > 0 && yielded >= maxCount {
				return
			}
		}
		if p.finalErr != nil {
			errCh <- p.finalErr
		}
	}()

	return recCh, errCh
}

// fakeEngine records transfer calls and can fail or block per key.
type fakeEngine struct {
	mu      sync.Mutex
	calls   []string
	failFor map[string]error
	gate    chan struct{} // when set, Transfer blocks until the gate closes
}

func (e *fakeEngine) Transfer(ctx context.Context, ref extract.Reference, targetKey string, metadata map[string]string) (storage.ObjectLocation, error) {
	if e.gate != nil {
		<-e.gate
	}

	e.mu.Lock()
	e.calls = append(e.calls, targetKey)
	e.mu.Unlock()

	if err, ok := e.failFor[targetKey]; ok {
		return storage.ObjectLocation{}, err
	}
	return storage.ObjectLocation{Bucket: "media-bucket", Key: targetKey}, nil
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// failingLedger wraps a real store but refuses appends.
type failingLedger struct {
	ledger.Store
}

func (f *failingLedger) Add(id string) error {
	return errors.New("disk full")
}

func newTestLedger(t *testing.T) *ledger.SQLiteStore {
	t.Helper()
	store, err := ledger.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestOrchestrator(t *testing.T, src Paginator, led ledger.Store, eng Transferer) *Orchestrator {
	t.Helper()
	return NewOrchestrator(src, led, eng, metrics.New(), progress.NewTracker(), "videos/", zap.NewNop())
}

func TestRun_MigratesEligibleRecords(t *testing.T) {
	src := &fakePaginator{records: []source.Record{
		videoRecord("1", "aaaaaaaaaaa"),
		plainRecord("2"),
		videoRecord("3", "bbbbbbbbbbb"),
	}}
	led := newTestLedger(t)
	eng := &fakeEngine{}
	orch := newTestOrchestrator(t, src, led, eng)

	require.NoError(t, orch.Run(context.Background(), 0))

	st := orch.Status()
	assert.Equal(t, StateCompleted, st.State)
	assert.False(t, st.IsRunning)
	assert.NotNil(t, st.CompletedAt)
	assert.Equal(t, 3, st.TotalCount)
	assert.Equal(t, 3, st.CurrentIndex)
	assert.Equal(t, 2, st.SuccessCount)
	assert.Equal(t, 1, st.SkippedCount)
	assert.Equal(t, 0, st.FailureCount)

	assert.Equal(t, []string{"videos/1.mp4", "videos/3.mp4"}, eng.calls)

	for _, id := range []string{"1", "3"} {
		present, err := led.Contains(id)
		require.NoError(t, err)
		assert.True(t, present, "id %s must be ledgered", id)
	}
}

func TestRun_SecondRunTransfersNothing(t *testing.T) {
	src := &fakePaginator{records: []source.Record{
		videoRecord("1", "aaaaaaaaaaa"),
		videoRecord("2", "bbbbbbbbbbb"),
	}}
	led := newTestLedger(t)
	eng := &fakeEngine{}
	orch := newTestOrchestrator(t, src, led, eng)

	require.NoError(t, orch.Run(context.Background(), 0))
	require.Equal(t, 2, eng.callCount())

	require.NoError(t, orch.Run(context.Background(), 0))

	st := orch.Status()
	assert.Equal(t, StateCompleted, st.State)
	assert.Equal(t, 2, eng.callCount(), "already-migrated records must not be retransferred")
	assert.Equal(t, 0, st.SuccessCount)
	assert.Equal(t, 0, st.CurrentIndex)
	assert.Equal(t, 2, st.TotalCount)
}

func TestStart_SingleFlight(t *testing.T) {
	gate := make(chan struct{})
	src := &fakePaginator{records: []source.Record{videoRecord("1", "aaaaaaaaaaa")}}
	eng := &fakeEngine{gate: gate}
	orch := newTestOrchestrator(t, src, newTestLedger(t), eng)

	require.NoError(t, orch.Start(context.Background(), 0))

	err := orch.Start(context.Background(), 0)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	st := orch.Status()
	assert.True(t, st.IsRunning)
	assert.Equal(t, StateRunning, st.State)
	assert.Nil(t, st.CompletedAt)

	close(gate)
	orch.Wait()

	st = orch.Status()
	assert.Equal(t, StateCompleted, st.State)
	assert.Equal(t, 1, st.SuccessCount)

	// A finished run may be restarted.
	require.NoError(t, orch.Start(context.Background(), 0))
	orch.Wait()
}

func TestRun_AbortOnSourceFailure(t *testing.T) {
	srcErr := fmt.Errorf("%w: page 2 returned status 500", source.ErrUnavailable)
	src := &fakePaginator{
		records: []source.Record{
			videoRecord("1", "aaaaaaaaaaa"),
			videoRecord("2", "bbbbbbbbbbb"),
		},
		finalErr: srcErr,
	}
	eng := &fakeEngine{}
	orch := newTestOrchestrator(t, src, newTestLedger(t), eng)

	err := orch.Run(context.Background(), 0)

	require.Error(t, err)
	assert.ErrorIs(t, err, source.ErrUnavailable)

	// Successes accumulated before the failure are preserved.
	st := orch.Status()
	assert.Equal(t, StateAborted, st.State)
	assert.False(t, st.IsRunning)
	assert.Equal(t, 2, st.SuccessCount)
	assert.NotNil(t, st.CompletedAt)
}

func TestRun_TransferFailureIsNonFatal(t *testing.T) {
	src := &fakePaginator{records: []source.Record{
		videoRecord("1", "aaaaaaaaaaa"),
		videoRecord("2", "bbbbbbbbbbb"),
	}}
	led := newTestLedger(t)
	eng := &fakeEngine{failFor: map[string]error{
		"videos/1.mp4": errors.New("download failed"),
	}}
	orch := newTestOrchestrator(t, src, led, eng)

	require.NoError(t, orch.Run(context.Background(), 0))

	st := orch.Status()
	assert.Equal(t, StateCompleted, st.State)
	assert.Equal(t, 1, st.FailureCount)
	assert.Equal(t, 1, st.SuccessCount)

	present, err := led.Contains("1")
	require.NoError(t, err)
	assert.False(t, present, "failed record must not be ledgered")
}

func TestRun_LedgerAppendFailureCountsAsFailure(t *testing.T) {
	src := &fakePaginator{records: []source.Record{videoRecord("1", "aaaaaaaaaaa")}}
	led := &failingLedger{Store: newTestLedger(t)}
	eng := &fakeEngine{}
	orch := newTestOrchestrator(t, src, led, eng)

	require.NoError(t, orch.Run(context.Background(), 0))

	// The transfer landed, but without a durable append the record must
	// not count as migrated.
	st := orch.Status()
	assert.Equal(t, 0, st.SuccessCount)
	assert.Equal(t, 1, st.FailureCount)

	present, err := led.Store.Contains("1")
	require.NoError(t, err)
	assert.False(t, present)
}

func TestRun_CountersNeverExceedIndex(t *testing.T) {
	src := &fakePaginator{records: []source.Record{
		videoRecord("1", "aaaaaaaaaaa"),
		plainRecord("2"),
		videoRecord("3", "bbbbbbbbbbb"),
		plainRecord("4"),
	}}
	orch := newTestOrchestrator(t, src, newTestLedger(t), &fakeEngine{})

	require.NoError(t, orch.Run(context.Background(), 0))

	st := orch.Status()
	assert.LessOrEqual(t, st.SuccessCount+st.FailureCount, st.CurrentIndex)
	assert.Equal(t, 4, st.CurrentIndex)
}

func TestRun_RespectsMaxCount(t *testing.T) {
	src := &fakePaginator{records: []source.Record{
		videoRecord("1", "aaaaaaaaaaa"),
		videoRecord("2", "bbbbbbbbbbb"),
		videoRecord("3", "ccccccccccc"),
	}}
	eng := &fakeEngine{}
	orch := newTestOrchestrator(t, src, newTestLedger(t), eng)

	require.NoError(t, orch.Run(context.Background(), 2))

	assert.Equal(t, 2, eng.callCount())
}

// earlyCloseErrPaginator closes its error channel before delivering any
// record, then streams records.
type earlyCloseErrPaginator struct {
	records []source.Record
}

func (p *earlyCloseErrPaginator) Fetch(ctx context.Context, maxCount int) (<-chan source.Record, <-chan error) {
	recCh := make(chan source.Record)
	errCh := make(chan error)
	close(errCh)
	go func() {
		defer close(recCh)
		for i := range p.records {
			select {
			case recCh <- p.records[i]:
			case <-ctx.Done():
				return
			}
		}
	}()
	return recCh, errCh
}

func TestRun_ErrorChannelCloseIsNotAnError(t *testing.T) {
	src := &earlyCloseErrPaginator{records: []source.Record{videoRecord("1", "aaaaaaaaaaa")}}
	eng := &fakeEngine{}
	orch := newTestOrchestrator(t, src, newTestLedger(t), eng)

	require.NoError(t, orch.Run(context.Background(), 0))

	st := orch.Status()
	assert.Equal(t, StateCompleted, st.State)
	assert.Equal(t, 1, st.SuccessCount)
}

func TestRun_ContextCancelledAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &fakePaginator{records: []source.Record{videoRecord("1", "aaaaaaaaaaa")}}
	orch := newTestOrchestrator(t, src, newTestLedger(t), &fakeEngine{})

	err := orch.Run(ctx, 0)

	require.Error(t, err)
	assert.Equal(t, StateAborted, orch.Status().State)
}

func TestPending_FiltersLedgerAndNonMedia(t *testing.T) {
	src := &fakePaginator{records: []source.Record{
		videoRecord("1", "aaaaaaaaaaa"),
		plainRecord("2"),
		videoRecord("3", "bbbbbbbbbbb"),
		videoRecord("4", "ccccccccccc"),
	}}
	led := newTestLedger(t)
	require.NoError(t, led.Add("3"))

	orch := newTestOrchestrator(t, src, led, &fakeEngine{})

	pending, err := orch.Pending(context.Background(), 0)
	require.NoError(t, err)

	require.Len(t, pending, 2)
	assert.Equal(t, "1", pending[0].ID)
	assert.Equal(t, "https://www.youtube.com/watch?v=aaaaaaaaaaa", pending[0].MediaURL)
	assert.Equal(t, "4", pending[1].ID)
}

func TestPending_RespectsCap(t *testing.T) {
	src := &fakePaginator{records: []source.Record{
		videoRecord("1", "aaaaaaaaaaa"),
		videoRecord("2", "bbbbbbbbbbb"),
		videoRecord("3", "ccccccccccc"),
	}}
	orch := newTestOrchestrator(t, src, newTestLedger(t), &fakeEngine{})

	pending, err := orch.Pending(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestPending_SourceErrorPropagates(t *testing.T) {
	src := &fakePaginator{finalErr: source.ErrUnavailable}
	orch := newTestOrchestrator(t, src, newTestLedger(t), &fakeEngine{})

	_, err := orch.Pending(context.Background(), 0)
	assert.ErrorIs(t, err, source.ErrUnavailable)
}

func TestStatus_SnapshotIsCopied(t *testing.T) {
	gate := make(chan struct{})
	src := &fakePaginator{records: []source.Record{videoRecord("1", "aaaaaaaaaaa")}}
	orch := newTestOrchestrator(t, src, newTestLedger(t), &fakeEngine{gate: gate})

	require.NoError(t, orch.Start(context.Background(), 0))

	// Wait until the run loop has published the current record.
	require.Eventually(t, func() bool {
		return orch.Status().CurrentRecord != nil
	}, 2*time.Second, 5*time.Millisecond)

	st := orch.Status()
	st.CurrentRecord.ID = "mutated"
	assert.Equal(t, "1", orch.Status().CurrentRecord.ID, "snapshot must be a copy")

	close(gate)
	orch.Wait()
}
