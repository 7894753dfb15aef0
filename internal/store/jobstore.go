package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/trackparse/api/internal/model"
)

// ErrNotFound is returned for unknown or purged job ids.
var ErrNotFound = errors.New("job not found")

type entry struct {
	mu        sync.Mutex
	job       model.Job
	cancelReq bool
	done      chan struct{}
}

// JobStore is the in-memory table of job records. Map access is guarded by a
// read-write lock; each record carries its own lock so jobs never serialize
// against each other.
type JobStore struct {
	mu             sync.RWMutex
	entries        map[string]*entry
	totalProcessed atomic.Int64
	log            zerolog.Logger
}

func New(log zerolog.Logger) *JobStore {
	return &JobStore{
		entries: make(map[string]*entry),
		log:     log.With().Str("component", "jobstore").Logger(),
	}
}

// CreateParams describes a new job record.
type CreateParams struct {
	BatchID   string
	ItemIndex int
	Priority  int
	Filename  string
	Options   model.AnalysisOptions
}

// Create registers a new job in status Queued at step zero and returns a
// snapshot of it.
func (s *JobStore) Create(p CreateParams) model.Job {
	job := model.Job{
		ID:          uuid.New().String(),
		BatchID:     p.BatchID,
		ItemIndex:   p.ItemIndex,
		Priority:    p.Priority,
		Filename:    p.Filename,
		Options:     p.Options,
		Status:      model.JobStatusQueued,
		Step:        model.StepReceived,
		StepLabel:   model.StepLabel(model.StepReceived),
		SubmittedAt: time.Now(),
	}

	s.mu.Lock()
	s.entries[job.ID] = &entry{job: job, done: make(chan struct{})}
	s.mu.Unlock()

	s.log.Info().Str("request_id", job.ID).Str("filename", job.Filename).
		Str("batch_id", job.BatchID).Msg("job created")
	return job
}

func (s *JobStore) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	return e, ok
}

// Get returns a consistent snapshot of the job, never a partially-updated
// record.
func (s *JobStore) Get(id string) (model.Job, error) {
	e, ok := s.lookup(id)
	if !ok {
		return model.Job{}, ErrNotFound
	}
	e.mu.Lock()
	job := e.job
	e.mu.Unlock()
	return job, nil
}

// Start moves a queued job to Running. The job's worker is the only caller.
func (s *JobStore) Start(id string) error {
	e, ok := s.lookup(id)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.Status != model.JobStatusQueued {
		return errors.New("job not queued")
	}
	now := time.Now()
	e.job.Status = model.JobStatusRunning
	e.job.StartedAt = &now
	return nil
}

// UpdateProgress advances the progress step of a running job. Calls outside
// Running, and steps that would move progress backwards, are no-ops logged as
// protocol violations.
func (s *JobStore) UpdateProgress(id string, step int) {
	e, ok := s.lookup(id)
	if !ok {
		s.log.Warn().Str("request_id", id).Msg("progress update for unknown job")
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job.Status != model.JobStatusRunning {
		s.log.Warn().Str("request_id", id).Str("status", string(e.job.Status)).
			Int("step", step).Msg("protocol violation: progress update outside running")
		return
	}
	if step < e.job.Step || step > model.StepDone {
		s.log.Warn().Str("request_id", id).Int("from", e.job.Step).Int("to", step).
			Msg("protocol violation: non-monotonic progress step")
		return
	}
	e.job.Step = step
	e.job.StepLabel = model.StepLabel(step)
}

// FinalizeSuccess transitions Running -> Succeeded exactly once.
func (s *JobStore) FinalizeSuccess(id string, result *model.AnalysisResult) error {
	return s.finalize(id, model.JobStatusSucceeded, result, nil)
}

// FinalizeError transitions to Failed exactly once, recording the error and
// the step it originated at.
func (s *JobStore) FinalizeError(id string, jobErr *model.JobError) error {
	return s.finalize(id, model.JobStatusFailed, nil, jobErr)
}

// FinalizeCancelled transitions to Cancelled exactly once. The cancellation
// is reported through the error field for channel uniformity.
func (s *JobStore) FinalizeCancelled(id string, step int) error {
	return s.finalize(id, model.JobStatusCancelled, nil, &model.JobError{
		Kind:    model.ErrCancelled,
		Message: "cancelled by client",
		Step:    step,
	})
}

func (s *JobStore) finalize(id string, status model.JobStatus, result *model.AnalysisResult, jobErr *model.JobError) error {
	e, ok := s.lookup(id)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	if e.job.Status.Terminal() {
		e.mu.Unlock()
		s.log.Warn().Str("request_id", id).Str("status", string(e.job.Status)).
			Msg("protocol violation: finalize on terminal job ignored")
		return nil
	}
	now := time.Now()
	e.job.Status = status
	e.job.FinishedAt = &now
	e.job.Result = result
	e.job.Error = jobErr
	if status == model.JobStatusSucceeded {
		e.job.Step = model.StepDone
		e.job.StepLabel = model.StepLabel(model.StepDone)
	}
	e.mu.Unlock()

	close(e.done)
	s.totalProcessed.Add(1)

	ev := s.log.Info().Str("request_id", id).Str("status", string(status))
	if jobErr != nil {
		ev = ev.Str("error_kind", string(jobErr.Kind)).Int("error_step", jobErr.Step)
	}
	ev.Msg("job finalized")
	return nil
}

// RequestCancel sets the cooperative cancellation flag. Workers observe it at
// step boundaries only. It reports false for unknown or already-terminal
// jobs.
func (s *JobStore) RequestCancel(id string) bool {
	e, ok := s.lookup(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.Status.Terminal() {
		return false
	}
	e.cancelReq = true
	return true
}

// CancelRequested reports whether cancellation has been requested.
func (s *JobStore) CancelRequested(id string) bool {
	e, ok := s.lookup(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelReq
}

// Done returns a channel closed when the job reaches a terminal status.
func (s *JobStore) Done(id string) (<-chan struct{}, error) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	return e.done, nil
}

// Purge removes a terminal job record. Purging a non-terminal job is refused.
func (s *JobStore) Purge(id string) error {
	e, ok := s.lookup(id)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	terminal := e.job.Status.Terminal()
	e.mu.Unlock()
	if !terminal {
		return errors.New("job not terminal")
	}

	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	s.log.Info().Str("request_id", id).Msg("job purged")
	return nil
}

// CountByStatus returns the number of jobs currently in the given status.
func (s *JobStore) CountByStatus(status model.JobStatus) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		e.mu.Lock()
		if e.job.Status == status {
			n++
		}
		e.mu.Unlock()
	}
	return n
}

// TotalProcessed returns how many jobs have reached a terminal status.
func (s *JobStore) TotalProcessed() int64 {
	return s.totalProcessed.Load()
}

// StartSweeper purges terminal jobs older than the retention window until ctx
// is cancelled.
func (s *JobStore) StartSweeper(ctx context.Context, retention, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(retention)
			}
		}
	}()
}

func (s *JobStore) sweep(retention time.Duration) {
	cutoff := time.Now().Add(-retention)
	var expired []string

	s.mu.RLock()
	for id, e := range s.entries {
		e.mu.Lock()
		if e.job.Status.Terminal() && e.job.FinishedAt != nil && e.job.FinishedAt.Before(cutoff) {
			expired = append(expired, id)
		}
		e.mu.Unlock()
	}
	s.mu.RUnlock()

	for _, id := range expired {
		_ = s.Purge(id)
	}
	if len(expired) > 0 {
		s.log.Info().Int("purged", len(expired)).Msg("retention sweep complete")
	}
}
