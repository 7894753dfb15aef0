package model

// Segment is one structural section of the analyzed track
type Segment struct {
	Start float64      `json:"start"`
	End   float64      `json:"end"`
	Label SegmentLabel `json:"label"`
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Activations holds the raw model activation curves, returned only when
// requested.
type Activations struct {
	Beat     []float64   `json:"beat,omitempty"`
	Downbeat []float64   `json:"downbeat,omitempty"`
	Segment  []float64   `json:"segment,omitempty"`
	Label    [][]float64 `json:"label,omitempty"`
}

// AnalysisResult is the payload the analysis engine produces for one track
type AnalysisResult struct {
	BPM           float64      `json:"bpm"`
	Beats         []float64    `json:"beats"`
	Downbeats     []float64    `json:"downbeats"`
	BeatPositions []int        `json:"beatPositions"`
	Segments      []Segment    `json:"segments"`
	Activations   *Activations `json:"activations,omitempty"`
	Embeddings    []float64    `json:"embeddings,omitempty"`
}

// Duration estimates the track length from the last segment end.
func (r *AnalysisResult) Duration() float64 {
	var max float64
	for _, s := range r.Segments {
		if s.End > max {
			max = s.End
		}
	}
	return max
}
