package model

import "time"

// AnalyzeResponse is the synchronous analysis reply
type AnalyzeResponse struct {
	Success        bool            `json:"success"`
	Message        string          `json:"message"`
	Data           *AnalysisResult `json:"data"`
	ProcessingTime float64         `json:"processingTime"`
	ModelUsed      ModelType       `json:"modelUsed"`
	RequestID      string          `json:"requestId"`
}

// AsyncSubmitResponse acknowledges an asynchronous submission
type AsyncSubmitResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	RequestID     string `json:"requestId"`
	EstimatedTime string `json:"estimatedTime,omitempty"`
	StatusURL     string `json:"statusUrl"`
}

// ProgressResponse reports the live state of one job
type ProgressResponse struct {
	RequestID   string          `json:"requestId"`
	Status      JobStatus       `json:"status"`
	Step        int             `json:"step"`
	StepLabel   string          `json:"stepLabel"`
	Progress    float64         `json:"progress"`
	ElapsedTime float64         `json:"elapsedTime"`
	Result      *AnalysisResult `json:"result,omitempty"`
	Error       *JobError       `json:"error,omitempty"`
}

// CancelResponse acknowledges a cancellation request
type CancelResponse struct {
	Success   bool      `json:"success"`
	RequestID string    `json:"requestId"`
	Status    JobStatus `json:"status"`
}

// BatchSubmitResponse acknowledges a batch submission
type BatchSubmitResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	BatchID       string `json:"batchId"`
	FileCount     int    `json:"fileCount"`
	Priority      int    `json:"priority"`
	EstimatedTime string `json:"estimatedTime,omitempty"`
	StatusURL     string `json:"statusUrl"`
}

// BatchItemOutcome is the terminal outcome of one batch member
type BatchItemOutcome struct {
	ItemIndex int             `json:"itemIndex"`
	RequestID string          `json:"requestId"`
	Filename  string          `json:"filename"`
	Status    JobStatus       `json:"status"`
	Result    *AnalysisResult `json:"result,omitempty"`
	Error     *JobError       `json:"error,omitempty"`
}

// BatchSummary counts member outcomes; derived, never stored
type BatchSummary struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// BatchStatusResponse reports batch-level progress
type BatchStatusResponse struct {
	BatchID        string    `json:"batchId"`
	Complete       bool      `json:"complete"`
	Priority       int       `json:"priority"`
	FileCount      int       `json:"fileCount"`
	CompletedCount int       `json:"completedCount"`
	FailedCount    int       `json:"failedCount"`
	Progress       float64   `json:"progress"`
	CreatedAt      time.Time `json:"createdAt"`
}

// BatchResultResponse aggregates per-item outcomes once all members are
// terminal
type BatchResultResponse struct {
	Success             bool               `json:"success"`
	BatchID             string             `json:"batchId"`
	Items               []BatchItemOutcome `json:"items"`
	Summary             BatchSummary       `json:"summary"`
	TotalProcessingTime float64            `json:"totalProcessingTime"`
}

// HealthResponse is the aggregate system snapshot
type HealthResponse struct {
	Status         string   `json:"status"`
	Version        string   `json:"version"`
	Uptime         string   `json:"uptime"`
	ActiveJobs     int      `json:"activeJobs"`
	QueuedJobs     int      `json:"queuedJobs"`
	Ceiling        int      `json:"ceiling"`
	MemoryUsage    float64  `json:"memoryUsage"`
	TotalProcessed int64    `json:"totalProcessed"`
	ModelsLoaded   []string `json:"modelsLoaded"`
}

// SystemInfoResponse describes the service catalog and configured limits
type SystemInfoResponse struct {
	Service          string            `json:"service"`
	Version          string            `json:"version"`
	Models           map[string]string `json:"models"`
	Limits           map[string]string `json:"limits"`
	SupportedFormats []string          `json:"supportedFormats"`
	Features         map[string]bool   `json:"features"`
}
