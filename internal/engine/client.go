package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/trackparse/api/internal/config"
	"github.com/trackparse/api/internal/model"
)

// Client talks to the inference sidecar over HTTP. With no base URL
// configured it falls back to a deterministic synthetic analysis so the
// pipeline runs self-contained in development and tests.
type Client struct {
	httpClient *http.Client
	baseURL    string
	log        zerolog.Logger
}

func NewClient(cfg *config.EngineConfig, log zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		log:        log.With().Str("component", "engine").Logger(),
	}
}

func (c *Client) Analyze(ctx context.Context, req *Request, progress ProgressFunc) (*model.AnalysisResult, error) {
	if progress == nil {
		progress = func(Stage) {}
	}
	if req.Model == "" {
		req.Model = model.DefaultModel
	}
	if !req.Model.Valid() {
		return nil, fmt.Errorf("unknown model %q", req.Model)
	}

	if c.baseURL == "" {
		return c.synthesize(ctx, req, progress)
	}
	return c.analyzeRemote(ctx, req, progress)
}

func (c *Client) analyzeRemote(ctx context.Context, req *Request, progress ProgressFunc) (*model.AnalysisResult, error) {
	// The remote call is a single non-preemptible span. The first stage is
	// reported before it starts; the rest are replayed in order once it
	// returns so progress stays strictly forward.
	progress(Stages[0])

	q := url.Values{}
	q.Set("model", string(req.Model))
	q.Set("include_activations", strconv.FormatBool(req.IncludeActivations))
	q.Set("include_embeddings", strconv.FormatBool(req.IncludeEmbeddings))
	q.Set("visualize", strconv.FormatBool(req.Visualize))
	q.Set("sonify", strconv.FormatBool(req.Sonify))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/analyze?"+q.Encode(), bytes.NewReader(req.Audio))
	if err != nil {
		return nil, fmt.Errorf("build engine request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("engine call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("engine returned %d: %s", resp.StatusCode, string(body))
	}

	var result model.AnalysisResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode engine response: %w", err)
	}

	for _, stage := range Stages[1:] {
		progress(stage)
	}
	return &result, nil
}

// synthesize computes a plausible result from the audio itself: tempo is
// derived from a content hash, beats laid on the resulting grid, and a fixed
// section layout stretched over the clip duration.
func (c *Client) synthesize(ctx context.Context, req *Request, progress ProgressFunc) (*model.AnalysisResult, error) {
	duration := req.Duration
	if duration <= 0 {
		duration = 30
	}

	h := fnv.New32a()
	h.Write(req.Audio)
	bpm := 90 + float64(h.Sum32()%60)

	for _, stage := range Stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		progress(stage)
	}

	interval := 60 / bpm
	var beats, downbeats []float64
	var positions []int
	for i := 0; ; i++ {
		t := 0.33 + float64(i)*interval
		if t >= duration {
			break
		}
		beats = append(beats, round2(t))
		positions = append(positions, i%4+1)
		if i%4 == 0 {
			downbeats = append(downbeats, round2(t))
		}
	}

	result := &model.AnalysisResult{
		BPM:           bpm,
		Beats:         beats,
		Downbeats:     downbeats,
		BeatPositions: positions,
		Segments:      layoutSegments(duration),
	}

	if req.IncludeActivations {
		result.Activations = &model.Activations{
			Beat:     rampCurve(len(beats), 0.8),
			Downbeat: rampCurve(len(downbeats), 0.9),
			Segment:  rampCurve(len(result.Segments), 0.7),
			Label:    [][]float64{rampCurve(len(result.Segments), 0.5)},
		}
	}
	if req.IncludeEmbeddings {
		result.Embeddings = rampCurve(24, 0.3)
	}

	c.log.Debug().Float64("bpm", bpm).Float64("duration", duration).
		Str("model", string(req.Model)).Msg("synthetic analysis produced")
	return result, nil
}

// layoutSegments covers [0, duration] with no gaps, always opening with the
// "start" label.
func layoutSegments(duration float64) []model.Segment {
	boundaries := []struct {
		frac  float64
		label model.SegmentLabel
	}{
		{0.01, model.SegmentStart},
		{0.15, model.SegmentIntro},
		{0.45, model.SegmentVerse},
		{0.80, model.SegmentChorus},
		{1.00, model.SegmentOutro},
	}

	segments := make([]model.Segment, 0, len(boundaries))
	var prev float64
	for _, b := range boundaries {
		end := round2(duration * b.frac)
		if end <= prev {
			continue
		}
		segments = append(segments, model.Segment{Start: prev, End: end, Label: b.label})
		prev = end
	}
	return segments
}

func rampCurve(n int, peak float64) []float64 {
	curve := make([]float64, n)
	for i := range curve {
		curve[i] = peak * float64(i%10) / 10
	}
	return curve
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

// LoadedModels reports which models are available to serve.
func (c *Client) LoadedModels() []string {
	if c.baseURL == "" {
		return []string{string(model.DefaultModel)}
	}
	models := make([]string, 0, len(model.ValidModels))
	for _, m := range model.ValidModels {
		models = append(models, string(m))
	}
	return models
}

func (c *Client) HealthCheck(ctx context.Context) error {
	if c.baseURL == "" {
		return nil
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("engine unhealthy: %d", resp.StatusCode)
	}
	return nil
}
