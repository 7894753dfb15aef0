package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/trackparse/api/internal/model"
	"github.com/trackparse/api/internal/store"
)

// batchItem records one member of a batch. Items rejected at admission never
// become jobs; their error lives here instead.
type batchItem struct {
	Index    int
	Filename string
	JobID    string
	Err      *model.JobError
}

type batchRecord struct {
	ID        string
	Priority  int
	CreatedAt time.Time
	Items     []batchItem
}

type batchRegistry struct {
	mu      sync.RWMutex
	batches map[string]*batchRecord
}

func newBatchRegistry() *batchRegistry {
	return &batchRegistry{batches: make(map[string]*batchRecord)}
}

func (r *batchRegistry) put(b *batchRecord) {
	r.mu.Lock()
	r.batches[b.ID] = b
	r.mu.Unlock()
}

func (r *batchRegistry) get(id string) (*batchRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.batches[id]
	return b, ok
}

func (r *batchRegistry) all() []*batchRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*batchRecord, 0, len(r.batches))
	for _, b := range r.batches {
		out = append(out, b)
	}
	return out
}

// SubmitBatch creates one job per file under a shared batch id and priority.
// Each member is admitted independently, so a slow or oversized file never
// blocks admission of the others.
func (s *AnalysisService) SubmitBatch(ctx context.Context, subs []*Submission, priority int) (*model.BatchSubmitResponse, *model.JobError) {
	if len(subs) == 0 {
		return nil, &model.JobError{Kind: model.ErrInvalidInput, Message: "batch contains no files"}
	}

	record := &batchRecord{
		ID:        "batch_" + uuid.New().String(),
		Priority:  priority,
		CreatedAt: time.Now(),
		Items:     make([]batchItem, len(subs)),
	}

	var jobIDs []string
	for i, sub := range subs {
		item := batchItem{Index: i, Filename: sub.Filename}

		if jobErr := s.validate(sub); jobErr != nil {
			item.Err = jobErr
		} else {
			job, jobErr := s.admitOrEnqueue(sub, store.CreateParams{
				BatchID:   record.ID,
				ItemIndex: i,
				Priority:  priority,
				Filename:  sub.Filename,
				Options:   sub.Options,
			}, record.CreatedAt)
			if jobErr != nil {
				item.Err = jobErr
			} else {
				item.JobID = job.ID
				jobIDs = append(jobIDs, job.ID)
			}
		}
		record.Items[i] = item
	}

	s.batches.put(record)
	s.log.Info().Str("batch_id", record.ID).Int("files", len(subs)).
		Int("admitted", len(jobIDs)).Int("priority", priority).Msg("batch created")

	go s.watchBatch(record.ID, jobIDs)

	return &model.BatchSubmitResponse{
		Success:       true,
		Message:       fmt.Sprintf("batch accepted with %d files", len(subs)),
		BatchID:       record.ID,
		FileCount:     len(subs),
		Priority:      priority,
		EstimatedTime: fmt.Sprintf("%d-%ds", len(subs)*30, len(subs)*60),
		StatusURL:     "/api/analyze/batch/" + record.ID + "/status",
	}, nil
}

// watchBatch waits until every member job is terminal and logs the summary.
func (s *AnalysisService) watchBatch(batchID string, jobIDs []string) {
	var g errgroup.Group
	for _, id := range jobIDs {
		done, err := s.store.Done(id)
		if err != nil {
			continue
		}
		g.Go(func() error {
			<-done
			return nil
		})
	}
	_ = g.Wait()

	if resp, complete, _ := s.BatchResult(batchID); complete {
		s.log.Info().Str("batch_id", batchID).
			Int("succeeded", resp.Summary.Succeeded).
			Int("failed", resp.Summary.Failed).
			Int("cancelled", resp.Summary.Cancelled).
			Msg("batch complete")
	}
}

func (s *AnalysisService) batchOutcome(item batchItem) model.BatchItemOutcome {
	outcome := model.BatchItemOutcome{
		ItemIndex: item.Index,
		Filename:  item.Filename,
		RequestID: item.JobID,
	}
	if item.Err != nil {
		outcome.Status = model.JobStatusFailed
		outcome.Error = item.Err
		return outcome
	}

	job, err := s.store.Get(item.JobID)
	if err != nil {
		outcome.Status = model.JobStatusFailed
		outcome.Error = &model.JobError{Kind: model.ErrNotFound, Message: "job record purged"}
		return outcome
	}
	outcome.Status = job.Status
	outcome.Result = job.Result
	outcome.Error = job.Error
	return outcome
}

// BatchStatus reports batch-level progress; counts are derived from member
// jobs, never stored.
func (s *AnalysisService) BatchStatus(id string) (*model.BatchStatusResponse, *model.JobError) {
	record, ok := s.batches.get(id)
	if !ok {
		return nil, &model.JobError{Kind: model.ErrNotFound, Message: "unknown batch id"}
	}

	var terminal, failed int
	for _, item := range record.Items {
		outcome := s.batchOutcome(item)
		if outcome.Status.Terminal() {
			terminal++
			if outcome.Status != model.JobStatusSucceeded {
				failed++
			}
		}
	}

	total := len(record.Items)
	return &model.BatchStatusResponse{
		BatchID:        record.ID,
		Complete:       terminal == total,
		Priority:       record.Priority,
		FileCount:      total,
		CompletedCount: terminal,
		FailedCount:    failed,
		Progress:       float64(terminal) / float64(total) * 100,
		CreatedAt:      record.CreatedAt,
	}, nil
}

// BatchResult aggregates per-item outcomes. complete is false until every
// member job is terminal; callers poll until then.
func (s *AnalysisService) BatchResult(id string) (*model.BatchResultResponse, bool, *model.JobError) {
	record, ok := s.batches.get(id)
	if !ok {
		return nil, false, &model.JobError{Kind: model.ErrNotFound, Message: "unknown batch id"}
	}

	items := make([]model.BatchItemOutcome, len(record.Items))
	var summary model.BatchSummary
	var totalSeconds float64
	complete := true

	for i, item := range record.Items {
		outcome := s.batchOutcome(item)
		items[i] = outcome

		switch outcome.Status {
		case model.JobStatusSucceeded:
			summary.Succeeded++
		case model.JobStatusFailed:
			summary.Failed++
		case model.JobStatusCancelled:
			summary.Cancelled++
		default:
			complete = false
		}

		if item.JobID != "" {
			if job, err := s.store.Get(item.JobID); err == nil &&
				job.StartedAt != nil && job.FinishedAt != nil {
				totalSeconds += job.FinishedAt.Sub(*job.StartedAt).Seconds()
			}
		}
	}

	return &model.BatchResultResponse{
		Success:             complete && summary.Failed == 0 && summary.Cancelled == 0,
		BatchID:             record.ID,
		Items:               items,
		Summary:             summary,
		TotalProcessingTime: totalSeconds,
	}, complete, nil
}

// Batches lists every known batch with its current progress.
func (s *AnalysisService) Batches() []*model.BatchStatusResponse {
	records := s.batches.all()
	out := make([]*model.BatchStatusResponse, 0, len(records))
	for _, record := range records {
		if status, jobErr := s.BatchStatus(record.ID); jobErr == nil {
			out = append(out, status)
		}
	}
	return out
}
