package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/trackparse/api/internal/assets"
	"github.com/trackparse/api/internal/audio"
	"github.com/trackparse/api/internal/engine"
	"github.com/trackparse/api/internal/guard"
	"github.com/trackparse/api/internal/model"
	"github.com/trackparse/api/internal/store"
)

// stageSteps maps engine-reported stages onto the middle of the progress
// state machine.
var stageSteps = map[engine.Stage]int{
	engine.StageSourceSeparation:    model.StepSourceSeparating,
	engine.StageFeatureExtraction:   model.StepFeatureExtraction,
	engine.StageBeatTracking:        model.StepBeatTracking,
	engine.StageSegmentation:        model.StepSegmentation,
	engine.StageLabelClassification: model.StepLabelClassification,
}

// Notifier pushes live job updates to subscribed clients. Implementations
// must be safe for concurrent use; a nil Notifier disables pushes.
type Notifier interface {
	JobProgress(id string, step int, label string, status model.JobStatus)
	JobDone(job model.Job)
}

// Worker executes one admitted job: it walks the job through the progress
// state machine, invokes the analysis engine, and writes the terminal outcome
// into the store. A job is mutated by exactly one worker.
type Worker struct {
	store    *store.JobStore
	guard    *guard.ResourceGuard
	assets   *assets.Manager
	analyzer engine.Analyzer
	notifier Notifier
	log      zerolog.Logger
}

func New(st *store.JobStore, g *guard.ResourceGuard, am *assets.Manager, analyzer engine.Analyzer, notifier Notifier, log zerolog.Logger) *Worker {
	return &Worker{
		store:    st,
		guard:    g,
		assets:   am,
		analyzer: analyzer,
		notifier: notifier,
		log:      log.With().Str("component", "worker").Logger(),
	}
}

// Run processes jobID to a terminal status. The ticket and every asset the
// job owns are released on the way out regardless of outcome; deadline zero
// means no per-job deadline.
func (w *Worker) Run(ctx context.Context, jobID string, ticket *guard.Ticket, audioHandle assets.Handle, deadline time.Time) {
	defer w.guard.Release(ticket)
	defer w.assets.ReleaseOwned(jobID)
	defer w.notifyDone(jobID)

	if err := w.store.Start(jobID); err != nil {
		w.log.Error().Str("request_id", jobID).Err(err).Msg("job could not start")
		w.store.FinalizeError(jobID, &model.JobError{
			Kind:    model.ErrAnalysisFailure,
			Message: err.Error(),
			Step:    model.StepReceived,
		})
		return
	}

	run := &jobRun{w: w, ctx: ctx, jobID: jobID, deadline: deadline}
	run.execute(audioHandle)
}

// jobRun tracks one job's walk through the state machine.
type jobRun struct {
	w        *Worker
	ctx      context.Context
	jobID    string
	deadline time.Time
	step     int
}

func (r *jobRun) execute(audioHandle assets.Handle) {
	if !r.boundary() {
		return
	}
	r.advance(model.StepValidating)

	raw, err := r.w.assets.Read(audioHandle)
	if err != nil {
		r.fail(fmt.Errorf("staged audio unavailable: %w", err))
		return
	}
	if len(raw) == 0 {
		r.failKind(model.ErrInvalidInput, "empty audio payload")
		return
	}

	if !r.boundary() {
		return
	}
	r.advance(model.StepDecoding)

	info, err := audio.Probe(raw)
	if err != nil {
		r.failKind(model.ErrInvalidInput, err.Error())
		return
	}

	if !r.boundary() {
		return
	}

	job, err := r.w.store.Get(r.jobID)
	if err != nil {
		return
	}

	// The engine call is non-preemptible: it gets a context detached from
	// caller cancellation and always runs to completion. Cancellation and
	// deadlines take effect at the next step boundary.
	result, err := r.w.analyzer.Analyze(context.WithoutCancel(r.ctx), &engine.Request{
		Audio:              raw,
		Model:              job.Options.Model,
		SampleRate:         info.SampleRate,
		Duration:           info.Duration,
		Visualize:          job.Options.Visualize,
		Sonify:             job.Options.Sonify,
		IncludeActivations: job.Options.IncludeActivations,
		IncludeEmbeddings:  job.Options.IncludeEmbeddings,
	}, func(stage engine.Stage) {
		if step, ok := stageSteps[stage]; ok {
			r.advance(step)
		}
	})
	if err != nil {
		r.fail(err)
		return
	}

	if !r.boundary() {
		return
	}
	r.advance(model.StepPostProcessing)

	if !job.Options.IncludeActivations {
		result.Activations = nil
	}
	if !job.Options.IncludeEmbeddings {
		result.Embeddings = nil
	}

	if !r.boundary() {
		return
	}
	r.advance(model.StepSerializingResult)

	if err := validateResult(result); err != nil {
		r.fail(err)
		return
	}

	if !r.boundary() {
		return
	}
	r.w.store.FinalizeSuccess(r.jobID, result)
}

// advance persists exactly one forward step before the step's work begins, so
// a concurrent progress query always observes a consistent, monotonically
// increasing step.
func (r *jobRun) advance(step int) {
	r.step = step
	r.w.store.UpdateProgress(r.jobID, step)
	if r.w.notifier != nil {
		r.w.notifier.JobProgress(r.jobID, step, model.StepLabel(step), model.JobStatusRunning)
	}
}

// boundary is the cooperative checkpoint between steps: cancellation and
// deadline are observed here and nowhere else.
func (r *jobRun) boundary() bool {
	if r.w.store.CancelRequested(r.jobID) {
		r.w.store.FinalizeCancelled(r.jobID, r.step)
		return false
	}
	if !r.deadline.IsZero() && time.Now().After(r.deadline) {
		r.w.store.FinalizeError(r.jobID, &model.JobError{
			Kind:    model.ErrTimeout,
			Message: "job deadline exceeded",
			Step:    r.step,
		})
		return false
	}
	if err := r.ctx.Err(); err != nil {
		r.w.store.FinalizeError(r.jobID, &model.JobError{
			Kind:    model.ErrTimeout,
			Message: err.Error(),
			Step:    r.step,
		})
		return false
	}
	return true
}

func (r *jobRun) fail(err error) {
	r.failKind(model.ErrAnalysisFailure, err.Error())
}

func (r *jobRun) failKind(kind model.ErrorKind, msg string) {
	r.w.log.Error().Str("request_id", r.jobID).Int("step", r.step).
		Str("kind", string(kind)).Str("error", msg).Msg("job failed")
	r.w.store.FinalizeError(r.jobID, &model.JobError{Kind: kind, Message: msg, Step: r.step})
}

func (w *Worker) notifyDone(jobID string) {
	if w.notifier == nil {
		return
	}
	if job, err := w.store.Get(jobID); err == nil {
		w.notifier.JobDone(job)
	}
}

func validateResult(result *model.AnalysisResult) error {
	if result.BPM <= 0 {
		return fmt.Errorf("engine produced non-positive bpm %v", result.BPM)
	}
	for i := 1; i < len(result.Beats); i++ {
		if result.Beats[i] < result.Beats[i-1] {
			return fmt.Errorf("engine produced unordered beats at index %d", i)
		}
	}
	for i := 1; i < len(result.Segments); i++ {
		if result.Segments[i].Start != result.Segments[i-1].End {
			return fmt.Errorf("engine produced discontiguous segments at index %d", i)
		}
	}
	return nil
}
