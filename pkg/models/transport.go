package models

import "time"

// PredictionResponse is the body of a successful POST /predict
type PredictionResponse struct {
	Model        string  `json:"model"`
	Output       string  `json:"output"`
	Confidence   float64 `json:"confidence"`
	Latency      int64   `json:"latency"`       // inference only, ms
	TotalLatency int64   `json:"total_latency"` // load + preprocess + inference, ms
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error      string `json:"error"`
	Suggestion string `json:"suggestion,omitempty"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status       string   `json:"status"`
	ModelsLoaded []string `json:"models_loaded"`
}

// HistoryEntry is one row of the prediction run log
type HistoryEntry struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	Output       string    `json:"output"`
	Confidence   float64   `json:"confidence"`
	Latency      int64     `json:"latency"`
	TotalLatency int64     `json:"total_latency"`
	Timestamp    time.Time `json:"timestamp"`
}

// HistoryResponse is the body of GET /history
type HistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
}
