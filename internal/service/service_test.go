package service

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackparse/api/internal/assets"
	"github.com/trackparse/api/internal/config"
	"github.com/trackparse/api/internal/engine"
	"github.com/trackparse/api/internal/guard"
	"github.com/trackparse/api/internal/model"
	"github.com/trackparse/api/internal/store"
	"github.com/trackparse/api/internal/worker"
)

// gatedAnalyzer blocks every Analyze call until released, so tests can hold
// admission slots open deliberately.
type gatedAnalyzer struct {
	mu      sync.Mutex
	gate    chan struct{}
	started chan struct{}
	calls   int
}

func newGatedAnalyzer() *gatedAnalyzer {
	return &gatedAnalyzer{
		gate:    make(chan struct{}),
		started: make(chan struct{}, 64),
	}
}

func (a *gatedAnalyzer) release() { close(a.gate) }

func (a *gatedAnalyzer) Analyze(ctx context.Context, req *engine.Request, progress engine.ProgressFunc) (*model.AnalysisResult, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	a.started <- struct{}{}
	<-a.gate
	for _, stage := range engine.Stages {
		progress(stage)
	}
	return &model.AnalysisResult{
		BPM:      120,
		Beats:    []float64{0.5, 1.0},
		Segments: []model.Segment{{Start: 0, End: req.Duration, Label: model.SegmentStart}},
	}, nil
}

func (a *gatedAnalyzer) LoadedModels() []string                { return []string{string(model.DefaultModel)} }
func (a *gatedAnalyzer) HealthCheck(ctx context.Context) error { return nil }

type fixture struct {
	cfg      *config.Config
	store    *store.JobStore
	guard    *guard.ResourceGuard
	assets   *assets.Manager
	analyzer *gatedAnalyzer
	service  *AnalysisService
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Env: "test"},
		Analysis: config.AnalysisConfig{
			MaxConcurrent:     5,
			QueueSize:         8,
			AdmissionRetry:    10 * time.Millisecond,
			SubmissionTimeout: time.Minute,
			SyncTimeout:       5 * time.Second,
			Retention:         time.Hour,
		},
	}
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	log := zerolog.Nop()

	f := &fixture{
		cfg:      cfg,
		store:    store.New(log),
		guard:    guard.New(cfg.Analysis.MaxConcurrent, false, log),
		assets:   assets.NewManager(cfg.Analysis.MaxFileBytes, log),
		analyzer: newGatedAnalyzer(),
	}
	w := worker.New(f.store, f.guard, f.assets, f.analyzer, nil, log)
	f.service = NewAnalysisService(cfg, f.store, f.guard, f.assets, w, log)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	f.service.Start(ctx)
	return f
}

func wavBytes(seconds, sampleRate int) []byte {
	dataLen := sampleRate * seconds * 2
	buf := make([]byte, 44+dataLen)
	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+dataLen))
	copy(buf[8:], "WAVE")
	copy(buf[12:], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1)
	binary.LittleEndian.PutUint16(buf[22:], 1)
	binary.LittleEndian.PutUint32(buf[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:], 2)
	binary.LittleEndian.PutUint16(buf[34:], 16)
	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(dataLen))
	return buf
}

func submission(name string, audio []byte) *Submission {
	return &Submission{Filename: name, Audio: audio}
}

func waitTerminal(t *testing.T, f *fixture, jobID string) model.Job {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := f.store.Get(jobID)
		return err == nil && job.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	job, err := f.store.Get(jobID)
	require.NoError(t, err)
	return job
}

func TestAnalyzeSyncSuccess(t *testing.T) {
	f := newFixture(t, testConfig())
	f.analyzer.release()

	job, jobErr := f.service.AnalyzeSync(context.Background(), submission("clip.wav", wavBytes(30, 8000)))
	require.Nil(t, jobErr)

	assert.Equal(t, model.JobStatusSucceeded, job.Status)
	assert.Equal(t, model.StepDone, job.Step)
	require.NotNil(t, job.Result)
	assert.Equal(t, 120.0, job.Result.BPM)

	// Cleanup runs right after finalization.
	require.Eventually(t, func() bool {
		return f.guard.Outstanding() == 0 && f.assets.Outstanding() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestAnalyzeSyncRejectsInvalidInput(t *testing.T) {
	cfg := testConfig()
	cfg.Analysis.MaxDurationSec = 10
	f := newFixture(t, cfg)
	f.analyzer.release()

	cases := []struct {
		name  string
		sub   *Submission
		check string
	}{
		{"garbage bytes", submission("clip.wav", []byte("not audio, not even close")), ""},
		{"over duration ceiling", submission("long.wav", wavBytes(30, 8000)), "duration"},
		{"unknown model", &Submission{
			Filename: "clip.wav", Audio: wavBytes(1, 8000),
			Options: model.AnalysisOptions{Model: "made-up"},
		}, "model"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, jobErr := f.service.AnalyzeSync(context.Background(), tc.sub)
			require.NotNil(t, jobErr)
			assert.Equal(t, model.ErrInvalidInput, jobErr.Kind)
			if tc.check != "" {
				assert.Contains(t, jobErr.Message, tc.check)
			}
		})
	}

	// Rejected submissions never become jobs.
	assert.Equal(t, 0, f.store.CountByStatus(model.JobStatusQueued))
	assert.Equal(t, 0, f.store.CountByStatus(model.JobStatusFailed))
}

func TestAnalyzeSyncRejectsFileOverSizeCeiling(t *testing.T) {
	cfg := testConfig()
	cfg.Analysis.MaxFileBytes = 1024
	f := newFixture(t, cfg)

	_, jobErr := f.service.AnalyzeSync(context.Background(), submission("big.wav", wavBytes(1, 8000)))
	require.NotNil(t, jobErr)
	assert.Equal(t, model.ErrInvalidInput, jobErr.Kind)
}

func TestAnalyzeSyncCapacityExceeded(t *testing.T) {
	cfg := testConfig()
	cfg.Analysis.MaxConcurrent = 1
	f := newFixture(t, cfg)

	// Saturate the single slot.
	first, jobErr := f.service.SubmitAsync(context.Background(), submission("busy.wav", wavBytes(1, 8000)))
	require.Nil(t, jobErr)
	<-f.analyzer.started

	_, jobErr = f.service.AnalyzeSync(context.Background(), submission("clip.wav", wavBytes(1, 8000)))
	require.NotNil(t, jobErr)
	assert.Equal(t, model.ErrCapacityExceeded, jobErr.Kind)

	f.analyzer.release()
	waitTerminal(t, f, first.ID)
}

func TestAnalyzeSyncTimeoutUnblocksCaller(t *testing.T) {
	cfg := testConfig()
	cfg.Analysis.SyncTimeout = 50 * time.Millisecond
	f := newFixture(t, cfg)

	type syncResult struct {
		jobErr *model.JobError
	}
	resCh := make(chan syncResult, 1)
	go func() {
		_, jobErr := f.service.AnalyzeSync(context.Background(), submission("slow.wav", wavBytes(1, 8000)))
		resCh <- syncResult{jobErr}
	}()

	<-f.analyzer.started
	res := <-resCh
	require.NotNil(t, res.jobErr)
	assert.Equal(t, model.ErrTimeout, res.jobErr.Kind)

	// The worker keeps running; it finalizes Failed(timeout) at the next
	// boundary and releases everything it holds.
	f.analyzer.release()
	require.Eventually(t, func() bool {
		return f.guard.Outstanding() == 0 && f.assets.Outstanding() == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, f.store.CountByStatus(model.JobStatusFailed))
}

func TestSubmitAsyncQueuesBeyondCeiling(t *testing.T) {
	cfg := testConfig()
	cfg.Analysis.MaxConcurrent = 5
	f := newFixture(t, cfg)

	// Fill all five slots.
	var running []model.Job
	for i := 0; i < 5; i++ {
		job, jobErr := f.service.SubmitAsync(context.Background(), submission("clip.wav", wavBytes(1, 8000)))
		require.Nil(t, jobErr)
		running = append(running, job)
		<-f.analyzer.started
	}

	// The sixth is accepted but waits.
	sixth, jobErr := f.service.SubmitAsync(context.Background(), submission("sixth.wav", wavBytes(1, 8000)))
	require.Nil(t, jobErr)
	assert.Equal(t, model.JobStatusQueued, sixth.Status)
	assert.Equal(t, 1, f.service.QueueDepth())

	got, err := f.store.Get(sixth.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, got.Status)

	// Freeing the slots lets the dispatcher admit it.
	f.analyzer.release()
	for _, job := range running {
		waitTerminal(t, f, job.ID)
	}
	final := waitTerminal(t, f, sixth.ID)
	assert.Equal(t, model.JobStatusSucceeded, final.Status)
	assert.Equal(t, 0, f.service.QueueDepth())
	require.Eventually(t, func() bool { return f.guard.Outstanding() == 0 },
		time.Second, 10*time.Millisecond)
}

func TestSubmitAsyncCapacityWhenQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.Analysis.MaxConcurrent = 1
	cfg.Analysis.QueueSize = 1
	f := newFixture(t, cfg)

	first, jobErr := f.service.SubmitAsync(context.Background(), submission("a.wav", wavBytes(1, 8000)))
	require.Nil(t, jobErr)
	<-f.analyzer.started

	queued, jobErr := f.service.SubmitAsync(context.Background(), submission("b.wav", wavBytes(1, 8000)))
	require.Nil(t, jobErr)

	_, jobErr = f.service.SubmitAsync(context.Background(), submission("c.wav", wavBytes(1, 8000)))
	require.NotNil(t, jobErr)
	assert.Equal(t, model.ErrCapacityExceeded, jobErr.Kind)

	f.analyzer.release()
	waitTerminal(t, f, first.ID)
	waitTerminal(t, f, queued.ID)
}

func TestCancelQueuedJobNeverRuns(t *testing.T) {
	cfg := testConfig()
	cfg.Analysis.MaxConcurrent = 1
	f := newFixture(t, cfg)

	blocker, jobErr := f.service.SubmitAsync(context.Background(), submission("busy.wav", wavBytes(1, 8000)))
	require.Nil(t, jobErr)
	<-f.analyzer.started

	queued, jobErr := f.service.SubmitAsync(context.Background(), submission("waiting.wav", wavBytes(1, 8000)))
	require.Nil(t, jobErr)

	_, cancelErr := f.service.Cancel(queued.ID)
	require.Nil(t, cancelErr)

	f.analyzer.release()
	waitTerminal(t, f, blocker.ID)

	final := waitTerminal(t, f, queued.ID)
	assert.Equal(t, model.JobStatusCancelled, final.Status)
	require.NotNil(t, final.Error)
	assert.Equal(t, model.ErrCancelled, final.Error.Kind)
	assert.Equal(t, 1, f.analyzer.calls, "cancelled queued job must never reach the engine")

	require.Eventually(t, func() bool { return f.assets.Outstanding() == 0 },
		time.Second, 10*time.Millisecond)
}

func TestCancelTerminalJobIsIdempotent(t *testing.T) {
	f := newFixture(t, testConfig())
	f.analyzer.release()

	job, jobErr := f.service.AnalyzeSync(context.Background(), submission("clip.wav", wavBytes(1, 8000)))
	require.Nil(t, jobErr)

	got, cancelErr := f.service.Cancel(job.ID)
	require.Nil(t, cancelErr)
	assert.Equal(t, model.JobStatusSucceeded, got.Status, "terminal outcome is never overwritten")
}

func TestGetProgressViews(t *testing.T) {
	f := newFixture(t, testConfig())
	f.analyzer.release()

	job, jobErr := f.service.AnalyzeSync(context.Background(), submission("clip.wav", wavBytes(1, 8000)))
	require.Nil(t, jobErr)

	resp, progErr := f.service.GetProgress(job.ID)
	require.Nil(t, progErr)
	assert.Equal(t, model.JobStatusSucceeded, resp.Status)
	assert.Equal(t, 100.0, resp.Progress)
	assert.NotNil(t, resp.Result)

	_, progErr = f.service.GetProgress("missing")
	require.NotNil(t, progErr)
	assert.Equal(t, model.ErrNotFound, progErr.Kind)
}

func TestSubmitBatchMixedOutcomes(t *testing.T) {
	f := newFixture(t, testConfig())
	f.analyzer.release()

	subs := []*Submission{
		submission("one.wav", wavBytes(1, 8000)),
		submission("broken.bin", []byte("this is not an audio file")),
		submission("three.wav", wavBytes(2, 8000)),
	}

	resp, jobErr := f.service.SubmitBatch(context.Background(), subs, 3)
	require.Nil(t, jobErr)
	assert.Equal(t, 3, resp.FileCount)
	assert.Equal(t, 3, resp.Priority)
	assert.NotEmpty(t, resp.BatchID)

	require.Eventually(t, func() bool {
		_, complete, err := f.service.BatchResult(resp.BatchID)
		return err == nil && complete
	}, 5*time.Second, 10*time.Millisecond)

	result, complete, resErr := f.service.BatchResult(resp.BatchID)
	require.Nil(t, resErr)
	require.True(t, complete)
	require.Len(t, result.Items, 3)

	assert.Equal(t, model.JobStatusSucceeded, result.Items[0].Status)
	assert.Equal(t, model.JobStatusFailed, result.Items[1].Status)
	assert.Empty(t, result.Items[1].RequestID, "rejected item never became a job")
	require.NotNil(t, result.Items[1].Error)
	assert.Equal(t, model.ErrInvalidInput, result.Items[1].Error.Kind)
	assert.Equal(t, model.JobStatusSucceeded, result.Items[2].Status)

	assert.Equal(t, 2, result.Summary.Succeeded)
	assert.Equal(t, 1, result.Summary.Failed)
	assert.False(t, result.Success, "a failed member fails the batch")

	status, statusErr := f.service.BatchStatus(resp.BatchID)
	require.Nil(t, statusErr)
	assert.True(t, status.Complete)
	assert.Equal(t, 3, status.CompletedCount)
	assert.Equal(t, 1, status.FailedCount)

	// Every staged payload was released on the way out.
	require.Eventually(t, func() bool { return f.assets.Outstanding() == 0 },
		time.Second, 10*time.Millisecond)
	assert.Equal(t, f.assets.StagedCount(), f.assets.ReleasedCount())
}

func TestSubmitBatchEmpty(t *testing.T) {
	f := newFixture(t, testConfig())

	_, jobErr := f.service.SubmitBatch(context.Background(), nil, 1)
	require.NotNil(t, jobErr)
	assert.Equal(t, model.ErrInvalidInput, jobErr.Kind)
}

func TestBatchesListing(t *testing.T) {
	f := newFixture(t, testConfig())
	f.analyzer.release()

	resp, jobErr := f.service.SubmitBatch(context.Background(),
		[]*Submission{submission("one.wav", wavBytes(1, 8000))}, 2)
	require.Nil(t, jobErr)

	batches := f.service.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, resp.BatchID, batches[0].BatchID)

	_, statusErr := f.service.BatchStatus("batch_unknown")
	require.NotNil(t, statusErr)
	assert.Equal(t, model.ErrNotFound, statusErr.Kind)
}

func TestHealthMonitorTracksLoad(t *testing.T) {
	cfg := testConfig()
	cfg.Analysis.MaxConcurrent = 2
	f := newFixture(t, cfg)
	monitor := NewHealthMonitor(f.store, f.guard, f.analyzer)

	snap := monitor.Snapshot()
	assert.Equal(t, 0, snap.ActiveJobs)
	assert.Equal(t, 2, snap.Ceiling)
	assert.Equal(t, Version, snap.Version)

	job, jobErr := f.service.SubmitAsync(context.Background(), submission("clip.wav", wavBytes(1, 8000)))
	require.Nil(t, jobErr)
	<-f.analyzer.started

	snap = monitor.Snapshot()
	assert.Equal(t, 1, snap.ActiveJobs)

	f.analyzer.release()
	waitTerminal(t, f, job.ID)

	require.Eventually(t, func() bool {
		s := monitor.Snapshot()
		return s.ActiveJobs == 0 && s.TotalProcessed == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPriorityOrdersWaitQueue(t *testing.T) {
	q := newWaitQueue(8)

	now := time.Now()
	require.True(t, q.Reserve())
	q.Push(&waitItem{jobID: "low", priority: 1, submittedAt: now})
	require.True(t, q.Reserve())
	q.Push(&waitItem{jobID: "high", priority: 5, submittedAt: now.Add(time.Second)})
	require.True(t, q.Reserve())
	q.Push(&waitItem{jobID: "mid", priority: 3, submittedAt: now})

	assert.Equal(t, "high", q.Pop().jobID, "higher priority wins despite later submission")
	assert.Equal(t, "mid", q.Pop().jobID)
	assert.Equal(t, "low", q.Pop().jobID)
	assert.Nil(t, q.Pop())
}

func TestWaitQueueFIFOWithinPriority(t *testing.T) {
	q := newWaitQueue(8)

	now := time.Now()
	for i, id := range []string{"first", "second", "third"} {
		require.True(t, q.Reserve())
		q.Push(&waitItem{jobID: id, priority: 2, submittedAt: now.Add(time.Duration(i) * time.Millisecond)})
	}

	assert.Equal(t, "first", q.Pop().jobID)
	assert.Equal(t, "second", q.Pop().jobID)
	assert.Equal(t, "third", q.Pop().jobID)
}

func TestWaitQueueBounded(t *testing.T) {
	q := newWaitQueue(2)

	require.True(t, q.Reserve())
	require.True(t, q.Reserve())
	assert.False(t, q.Reserve(), "reservations stop at capacity")

	q.Unreserve()
	assert.True(t, q.Reserve())
}

func TestEstimateWaitGrowsWithQueueDepth(t *testing.T) {
	f := newFixture(t, testConfig())
	assert.Equal(t, "30-60s", f.service.EstimateWait())
}
