package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	Detail      string `json:"detail,omitempty"`
	LastChecked string `json:"lastChecked"`
}

// LLMMetrics is returned by GET /v1/metrics/llm.
type LLMMetrics struct {
	TotalCalls          int64   `json:"totalCalls"`
	ErrorRate           float64 `json:"errorRate"`
	PromptTokens        int64   `json:"promptTokens"`
	CompletionTokens    int64   `json:"completionTokens"`
	AvgTokensPerCall    float64 `json:"avgTokensPerCall"`
	EstimatedCostUsd    float64 `json:"estimatedCostUsd"`
	TotalMismatches     int64   `json:"totalMismatches"`
	ImagesProcessed     int64   `json:"imagesProcessed"`
	ActiveSessions      int64   `json:"activeSessions"`
	SessionCacheHitRate float64 `json:"sessionCacheHitRate"`
	Period              string  `json:"period"`
}
