package handler

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/trackparse/api/internal/audio"
	"github.com/trackparse/api/internal/config"
	"github.com/trackparse/api/internal/model"
	"github.com/trackparse/api/internal/service"
	"github.com/trackparse/api/pkg/response"
)

// SystemHandler serves health and service-catalog queries.
type SystemHandler struct {
	monitor *service.HealthMonitor
	cfg     *config.Config
}

func NewSystemHandler(monitor *service.HealthMonitor, cfg *config.Config) *SystemHandler {
	return &SystemHandler{monitor: monitor, cfg: cfg}
}

// Health handles GET /health.
func (h *SystemHandler) Health(c *fiber.Ctx) error {
	return response.OK(c, h.monitor.Snapshot())
}

// Info handles GET /api/system/info: the model catalog, configured limits and
// feature flags.
func (h *SystemHandler) Info(c *fiber.Ctx) error {
	models := make(map[string]string, len(model.ValidModels))
	for _, m := range model.ValidModels {
		models[string(m)] = model.ModelDescriptions[m]
	}

	limits := h.cfg.Analysis
	describe := func(v string, unlimited bool) string {
		if unlimited {
			return "unlimited"
		}
		return v
	}

	return response.OK(c, model.SystemInfoResponse{
		Service: "music structure analysis api",
		Version: service.Version,
		Models:  models,
		Limits: map[string]string{
			"maxFileSize":   describe(fmt.Sprintf("%dMB", limits.MaxFileBytes/(1024*1024)), limits.MaxFileBytes <= 0),
			"maxDuration":   describe(fmt.Sprintf("%.0fs", limits.MaxDurationSec), limits.MaxDurationSec <= 0),
			"maxConcurrent": fmt.Sprintf("%d", limits.MaxConcurrent),
			"queueSize":     fmt.Sprintf("%d", limits.QueueSize),
		},
		SupportedFormats: audio.SupportedFormats,
		Features: map[string]bool{
			"sync":        true,
			"async":       true,
			"batch":       true,
			"cancel":      true,
			"websocket":   true,
			"activations": true,
			"embeddings":  true,
		},
	})
}
