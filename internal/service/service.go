package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/trackparse/api/internal/assets"
	"github.com/trackparse/api/internal/audio"
	"github.com/trackparse/api/internal/config"
	"github.com/trackparse/api/internal/guard"
	"github.com/trackparse/api/internal/model"
	"github.com/trackparse/api/internal/store"
	"github.com/trackparse/api/internal/worker"
)

// Submission is one audio payload plus its analysis options.
type Submission struct {
	Filename string
	Audio    []byte
	Options  model.AnalysisOptions
	Priority int
}

// AnalysisService owns admission and job orchestration: it validates
// submissions at the boundary, admits them against the resource guard, queues
// what cannot run yet, and hands admitted jobs to workers.
type AnalysisService struct {
	cfg     *config.Config
	store   *store.JobStore
	guard   *guard.ResourceGuard
	assets  *assets.Manager
	worker  *worker.Worker
	queue   *waitQueue
	batches *batchRegistry
	log     zerolog.Logger
}

func NewAnalysisService(cfg *config.Config, st *store.JobStore, g *guard.ResourceGuard, am *assets.Manager, w *worker.Worker, log zerolog.Logger) *AnalysisService {
	return &AnalysisService{
		cfg:     cfg,
		store:   st,
		guard:   g,
		assets:  am,
		worker:  w,
		queue:   newWaitQueue(cfg.Analysis.QueueSize),
		batches: newBatchRegistry(),
		log:     log.With().Str("component", "service").Logger(),
	}
}

// Start launches the admission dispatcher and the store's retention sweeper.
func (s *AnalysisService) Start(ctx context.Context) {
	s.store.StartSweeper(ctx, s.cfg.Analysis.Retention, time.Minute)
	go s.dispatch(ctx)
}

// validate enforces the admission-time checks: size ceiling, container
// format, duration ceiling. Rejected submissions never reach the store.
func (s *AnalysisService) validate(sub *Submission) *model.JobError {
	limits := s.cfg.Analysis
	if limits.MaxFileBytes > 0 && int64(len(sub.Audio)) > limits.MaxFileBytes {
		return &model.JobError{
			Kind:    model.ErrInvalidInput,
			Message: fmt.Sprintf("file size %d exceeds %d byte limit", len(sub.Audio), limits.MaxFileBytes),
		}
	}
	if sub.Options.Model != "" && !sub.Options.Model.Valid() {
		return &model.JobError{
			Kind:    model.ErrInvalidInput,
			Message: fmt.Sprintf("unknown model %q", sub.Options.Model),
		}
	}

	info, err := audio.Probe(sub.Audio)
	if err != nil {
		return &model.JobError{Kind: model.ErrInvalidInput, Message: err.Error()}
	}
	if limits.MaxDurationSec > 0 && info.Duration > limits.MaxDurationSec {
		return &model.JobError{
			Kind:    model.ErrInvalidInput,
			Message: fmt.Sprintf("audio duration %.1fs exceeds %.0fs limit", info.Duration, limits.MaxDurationSec),
		}
	}
	return nil
}

func (s *AnalysisService) capacityError() *model.JobError {
	return &model.JobError{
		Kind:    model.ErrCapacityExceeded,
		Message: "analysis capacity exhausted, retry later",
	}
}

// EstimateWait gives clients a rough retry hint from the current queue depth.
func (s *AnalysisService) EstimateWait() string {
	waiting := s.queue.Len() + 1
	return fmt.Sprintf("%d-%ds", waiting*30, waiting*60)
}

// AnalyzeSync admits and runs a job on behalf of a blocked caller. On
// admission denial it rejects immediately with a capacity error; a wall-clock
// timeout unblocks the caller while the worker finalizes the job as
// Failed(Timeout) at its next step boundary.
func (s *AnalysisService) AnalyzeSync(ctx context.Context, sub *Submission) (model.Job, *model.JobError) {
	if jobErr := s.validate(sub); jobErr != nil {
		return model.Job{}, jobErr
	}

	ticket, ok := s.guard.TryAdmit()
	if !ok {
		return model.Job{}, s.capacityError()
	}

	job := s.store.Create(store.CreateParams{
		Filename: sub.Filename,
		Options:  sub.Options,
		Priority: sub.Priority,
	})

	handle, err := s.assets.Stage(job.ID, sub.Audio)
	if err != nil {
		s.guard.Release(ticket)
		jobErr := &model.JobError{Kind: model.ErrInvalidInput, Message: err.Error()}
		s.store.FinalizeError(job.ID, jobErr)
		return model.Job{}, jobErr
	}

	timeout := s.cfg.Analysis.SyncTimeout
	deadline := time.Now().Add(timeout)
	done, _ := s.store.Done(job.ID)

	// Detached context: a dropped client connection must not interrupt the
	// single-writer worker.
	go s.worker.Run(context.WithoutCancel(ctx), job.ID, ticket, handle, deadline)

	select {
	case <-done:
		final, err := s.store.Get(job.ID)
		if err != nil {
			return model.Job{}, &model.JobError{Kind: model.ErrNotFound, Message: "job purged before retrieval"}
		}
		return final, nil
	case <-time.After(timeout):
		s.log.Warn().Str("request_id", job.ID).Dur("timeout", timeout).Msg("sync analysis timed out")
		return model.Job{}, &model.JobError{
			Kind:    model.ErrTimeout,
			Message: fmt.Sprintf("analysis exceeded %s", timeout),
		}
	}
}

// SubmitAsync admits or enqueues a job and returns its id immediately.
func (s *AnalysisService) SubmitAsync(ctx context.Context, sub *Submission) (model.Job, *model.JobError) {
	if jobErr := s.validate(sub); jobErr != nil {
		return model.Job{}, jobErr
	}
	return s.admitOrEnqueue(sub, store.CreateParams{
		Filename: sub.Filename,
		Options:  sub.Options,
		Priority: sub.Priority,
	}, time.Now())
}

// admitOrEnqueue creates the job record only after a slot or queue
// reservation is secured, keeping rejected work out of the store.
func (s *AnalysisService) admitOrEnqueue(sub *Submission, params store.CreateParams, submittedAt time.Time) (model.Job, *model.JobError) {
	ticket, admitted := s.guard.TryAdmit()
	if !admitted && !s.queue.Reserve() {
		return model.Job{}, s.capacityError()
	}

	job := s.store.Create(params)

	handle, err := s.assets.Stage(job.ID, sub.Audio)
	if err != nil {
		if admitted {
			s.guard.Release(ticket)
		} else {
			s.queue.Unreserve()
		}
		jobErr := &model.JobError{Kind: model.ErrInvalidInput, Message: err.Error()}
		s.store.FinalizeError(job.ID, jobErr)
		return model.Job{}, jobErr
	}

	deadline := s.jobDeadline()
	if admitted {
		go s.worker.Run(context.Background(), job.ID, ticket, handle, deadline)
	} else {
		s.queue.Push(&waitItem{
			jobID:       job.ID,
			audioHandle: handle,
			priority:    params.Priority,
			submittedAt: submittedAt,
			deadline:    deadline,
		})
		s.log.Info().Str("request_id", job.ID).Int("queue_depth", s.queue.Len()).
			Msg("job queued for admission")
	}
	return job, nil
}

func (s *AnalysisService) jobDeadline() time.Time {
	if s.cfg.Analysis.JobDeadline <= 0 {
		return time.Time{}
	}
	return time.Now().Add(s.cfg.Analysis.JobDeadline)
}

// dispatch drains the wait queue: it retries admission on a bounded interval
// and reacts to slot releases, expiring jobs that overstay the submission
// timeout.
func (s *AnalysisService) dispatch(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Analysis.AdmissionRetry)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.guard.Releases():
		}
		s.drain(ctx)
	}
}

func (s *AnalysisService) drain(ctx context.Context) {
	for {
		item := s.queue.Pop()
		if item == nil {
			return
		}

		if s.store.CancelRequested(item.jobID) {
			s.store.FinalizeCancelled(item.jobID, model.StepReceived)
			s.assets.ReleaseOwned(item.jobID)
			continue
		}

		if waited := time.Since(item.enqueuedAt); waited > s.cfg.Analysis.SubmissionTimeout {
			s.store.FinalizeError(item.jobID, &model.JobError{
				Kind:    model.ErrTimeout,
				Message: fmt.Sprintf("waited %s for admission", waited.Round(time.Second)),
				Step:    model.StepReceived,
			})
			s.assets.ReleaseOwned(item.jobID)
			continue
		}

		ticket, ok := s.guard.TryAdmit()
		if !ok {
			s.queue.Requeue(item)
			return
		}
		go s.worker.Run(context.WithoutCancel(ctx), item.jobID, ticket, item.audioHandle, item.deadline)
	}
}

// GetJob returns the stored record; retrieval is idempotent until the record
// is purged.
func (s *AnalysisService) GetJob(id string) (model.Job, *model.JobError) {
	job, err := s.store.Get(id)
	if err != nil {
		return model.Job{}, &model.JobError{Kind: model.ErrNotFound, Message: "unknown or purged request id"}
	}
	return job, nil
}

// GetProgress builds the polling view of a job.
func (s *AnalysisService) GetProgress(id string) (*model.ProgressResponse, *model.JobError) {
	job, jobErr := s.GetJob(id)
	if jobErr != nil {
		return nil, jobErr
	}

	elapsed := time.Since(job.SubmittedAt)
	if job.FinishedAt != nil {
		elapsed = job.FinishedAt.Sub(job.SubmittedAt)
	}

	resp := &model.ProgressResponse{
		RequestID:   job.ID,
		Status:      job.Status,
		Step:        job.Step,
		StepLabel:   job.StepLabel,
		Progress:    job.Progress(),
		ElapsedTime: elapsed.Seconds(),
	}
	if job.Status.Terminal() {
		resp.Result = job.Result
		resp.Error = job.Error
	}
	return resp, nil
}

// Cancel requests cooperative cancellation. In-flight engine work runs to
// completion; the job finalizes Cancelled at the next step boundary.
func (s *AnalysisService) Cancel(id string) (model.Job, *model.JobError) {
	job, err := s.store.Get(id)
	if err != nil {
		return model.Job{}, &model.JobError{Kind: model.ErrNotFound, Message: "unknown or purged request id"}
	}
	if job.Status.Terminal() {
		return job, nil
	}
	s.store.RequestCancel(id)
	s.log.Info().Str("request_id", id).Msg("cancellation requested")
	job, _ = s.store.Get(id)
	return job, nil
}

// QueueDepth reports how many jobs wait for admission.
func (s *AnalysisService) QueueDepth() int {
	return s.queue.Len()
}
