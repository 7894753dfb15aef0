package model

import "time"

// Progress steps a job passes through while running. Steps advance strictly
// forward, one at a time; StepDone is reached only on success.
const (
	StepReceived = iota
	StepValidating
	StepDecoding
	StepSourceSeparating
	StepFeatureExtraction
	StepBeatTracking
	StepSegmentation
	StepLabelClassification
	StepPostProcessing
	StepSerializingResult
	StepDone
)

var stepLabels = [...]string{
	StepReceived:            "received",
	StepValidating:          "validating",
	StepDecoding:            "decoding",
	StepSourceSeparating:    "source_separating",
	StepFeatureExtraction:   "feature_extraction",
	StepBeatTracking:        "beat_tracking",
	StepSegmentation:        "segmentation",
	StepLabelClassification: "label_classification",
	StepPostProcessing:      "post_processing",
	StepSerializingResult:   "serializing_result",
	StepDone:                "done",
}

// StepLabel returns the stage label for a progress step.
func StepLabel(step int) string {
	if step < 0 || step >= len(stepLabels) {
		return "unknown"
	}
	return stepLabels[step]
}

// AnalysisOptions carries the model selection and output flags of a submission
type AnalysisOptions struct {
	Model              ModelType `json:"model" validate:"omitempty,oneof=harmonix-all harmonix-fold0 harmonix-fold1 harmonix-fold2 harmonix-fold3 harmonix-fold4 harmonix-fold5 harmonix-fold6 harmonix-fold7"`
	Visualize          bool      `json:"visualize"`
	Sonify             bool      `json:"sonify"`
	IncludeActivations bool      `json:"includeActivations"`
	IncludeEmbeddings  bool      `json:"includeEmbeddings"`
}

// JobError records why a job failed and at which progress step
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Step    int       `json:"step"`
}

func (e *JobError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Job is one admitted unit of analysis work, tracked from submission to a
// terminal status. A job is mutated only by its own worker; readers get
// snapshots from the store.
type Job struct {
	ID          string          `json:"id"`
	BatchID     string          `json:"batchId,omitempty"`
	ItemIndex   int             `json:"itemIndex"`
	Priority    int             `json:"priority"`
	Filename    string          `json:"filename"`
	Options     AnalysisOptions `json:"options"`
	Status      JobStatus       `json:"status"`
	Step        int             `json:"step"`
	StepLabel   string          `json:"stepLabel"`
	SubmittedAt time.Time       `json:"submittedAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
	Result      *AnalysisResult `json:"result,omitempty"`
	Error       *JobError       `json:"error,omitempty"`
}

// Progress maps the current step to an overall percentage.
func (j *Job) Progress() float64 {
	return float64(j.Step) / float64(StepDone) * 100
}
