package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Analysis  AnalysisConfig
	Engine    EngineConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

// AnalysisConfig bounds the admission and job-orchestration layer.
type AnalysisConfig struct {
	MaxConcurrent     int           // concurrency ceiling for running analyses
	QueueSize         int           // max jobs waiting for admission
	AdmissionRetry    time.Duration // interval between admission attempts for queued jobs
	SubmissionTimeout time.Duration // max time a job may wait in the queue
	SyncTimeout       time.Duration // wall-clock cap on a synchronous request
	JobDeadline       time.Duration // per-job deadline checked at step boundaries; 0 disables
	Retention         time.Duration // how long terminal jobs stay queryable
	MaxFileBytes      int64         // upload size ceiling; 0 disables
	MaxDurationSec    float64       // audio duration ceiling; 0 disables
}

type EngineConfig struct {
	BaseURL string
	Timeout time.Duration
}

type RateLimitConfig struct {
	RequestsPerMin int
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "3000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("analysis.max_concurrent", 5)
	viper.SetDefault("analysis.queue_size", 32)
	viper.SetDefault("analysis.admission_retry_ms", 250)
	viper.SetDefault("analysis.submission_timeout_sec", 600)
	viper.SetDefault("analysis.sync_timeout_sec", 300)
	viper.SetDefault("analysis.job_deadline_sec", 0)
	viper.SetDefault("analysis.retention_min", 60)
	viper.SetDefault("analysis.max_file_mb", 50)
	viper.SetDefault("analysis.max_duration_sec", 600)
	viper.SetDefault("engine.base_url", "")
	viper.SetDefault("engine.timeout_sec", 300)
	viper.SetDefault("ratelimit.requests_per_min", 60)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
			Env:  viper.GetString("server.env"),
		},
		Analysis: AnalysisConfig{
			MaxConcurrent:     viper.GetInt("analysis.max_concurrent"),
			QueueSize:         viper.GetInt("analysis.queue_size"),
			AdmissionRetry:    time.Duration(viper.GetInt("analysis.admission_retry_ms")) * time.Millisecond,
			SubmissionTimeout: time.Duration(viper.GetInt("analysis.submission_timeout_sec")) * time.Second,
			SyncTimeout:       time.Duration(viper.GetInt("analysis.sync_timeout_sec")) * time.Second,
			JobDeadline:       time.Duration(viper.GetInt("analysis.job_deadline_sec")) * time.Second,
			Retention:         time.Duration(viper.GetInt("analysis.retention_min")) * time.Minute,
			MaxFileBytes:      viper.GetInt64("analysis.max_file_mb") * 1024 * 1024,
			MaxDurationSec:    viper.GetFloat64("analysis.max_duration_sec"),
		},
		Engine: EngineConfig{
			BaseURL: viper.GetString("engine.base_url"),
			Timeout: time.Duration(viper.GetInt("engine.timeout_sec")) * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMin: viper.GetInt("ratelimit.requests_per_min"),
		},
	}

	return cfg, nil
}

// IsDevelopment reports whether the server runs in development mode.
// Debug-only assertions (double ticket release) are fatal in this mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}
