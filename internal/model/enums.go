package model

// ModelType identifies an analysis model the engine can run
type ModelType string

const (
	ModelHarmonixAll   ModelType = "harmonix-all"
	ModelHarmonixFold0 ModelType = "harmonix-fold0"
	ModelHarmonixFold1 ModelType = "harmonix-fold1"
	ModelHarmonixFold2 ModelType = "harmonix-fold2"
	ModelHarmonixFold3 ModelType = "harmonix-fold3"
	ModelHarmonixFold4 ModelType = "harmonix-fold4"
	ModelHarmonixFold5 ModelType = "harmonix-fold5"
	ModelHarmonixFold6 ModelType = "harmonix-fold6"
	ModelHarmonixFold7 ModelType = "harmonix-fold7"
)

// DefaultModel is the highest-accuracy ensemble, averaging all eight folds.
const DefaultModel = ModelHarmonixAll

var ValidModels = []ModelType{
	ModelHarmonixAll,
	ModelHarmonixFold0, ModelHarmonixFold1, ModelHarmonixFold2,
	ModelHarmonixFold3, ModelHarmonixFold4, ModelHarmonixFold5,
	ModelHarmonixFold6, ModelHarmonixFold7,
}

// ModelDescriptions maps each model to a human-readable summary.
var ModelDescriptions = map[ModelType]string{
	ModelHarmonixAll:   "Ensemble averaging all 8 folds (highest accuracy)",
	ModelHarmonixFold0: "Fold 0 single model",
	ModelHarmonixFold1: "Fold 1 single model",
	ModelHarmonixFold2: "Fold 2 single model",
	ModelHarmonixFold3: "Fold 3 single model",
	ModelHarmonixFold4: "Fold 4 single model",
	ModelHarmonixFold5: "Fold 5 single model",
	ModelHarmonixFold6: "Fold 6 single model",
	ModelHarmonixFold7: "Fold 7 single model",
}

func (m ModelType) Valid() bool {
	for _, v := range ValidModels {
		if m == v {
			return true
		}
	}
	return false
}

// Job status
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further status transitions are permitted.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCancelled
}

// SegmentLabel classifies a structural section of a track
type SegmentLabel string

const (
	SegmentStart  SegmentLabel = "start"
	SegmentEnd    SegmentLabel = "end"
	SegmentIntro  SegmentLabel = "intro"
	SegmentOutro  SegmentLabel = "outro"
	SegmentVerse  SegmentLabel = "verse"
	SegmentChorus SegmentLabel = "chorus"
	SegmentBridge SegmentLabel = "bridge"
	SegmentBreak  SegmentLabel = "break"
	SegmentInst   SegmentLabel = "inst"
	SegmentSolo   SegmentLabel = "solo"
)

// ErrorKind classifies job and request failures
type ErrorKind string

const (
	ErrInvalidInput     ErrorKind = "invalid_input"
	ErrCapacityExceeded ErrorKind = "capacity_exceeded"
	ErrAnalysisFailure  ErrorKind = "analysis_failure"
	ErrTimeout          ErrorKind = "timeout"
	ErrNotFound         ErrorKind = "not_found"
	ErrCancelled        ErrorKind = "cancelled"
)
