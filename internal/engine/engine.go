package engine

import (
	"context"

	"github.com/trackparse/api/internal/model"
)

// Stage is one phase the engine reports while an analysis call is in flight.
type Stage string

const (
	StageSourceSeparation    Stage = "source_separation"
	StageFeatureExtraction   Stage = "feature_extraction"
	StageBeatTracking        Stage = "beat_tracking"
	StageSegmentation        Stage = "segmentation"
	StageLabelClassification Stage = "label_classification"
)

// Stages lists the engine phases in execution order.
var Stages = []Stage{
	StageSourceSeparation,
	StageFeatureExtraction,
	StageBeatTracking,
	StageSegmentation,
	StageLabelClassification,
}

// ProgressFunc receives stage transitions from an in-flight analysis.
type ProgressFunc func(stage Stage)

// Request carries one track into the engine.
type Request struct {
	Audio              []byte
	Model              model.ModelType
	SampleRate         int
	Duration           float64
	Visualize          bool
	Sonify             bool
	IncludeActivations bool
	IncludeEmbeddings  bool
}

// Analyzer is the analysis collaborator: a synchronous, CPU-bound call whose
// duration is proportional to the audio length. It is non-preemptible; the
// orchestration layer never interrupts an in-flight call.
type Analyzer interface {
	Analyze(ctx context.Context, req *Request, progress ProgressFunc) (*model.AnalysisResult, error)
	LoadedModels() []string
	HealthCheck(ctx context.Context) error
}
