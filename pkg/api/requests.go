package api

// CreateRunRequest is the HTTP request body for POST /api/v1/runs.
type CreateRunRequest struct {
	Agent        string         `json:"agent,omitempty"`
	Input        map[string]any `json:"input"`
	ThreadID     string         `json:"thread_id,omitempty"`
	ConnectionID string         `json:"connection_id,omitempty"`
	// TimeoutSeconds of 0 uses the configured default.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
	// Wait runs the agent inside the request and returns its result.
	Wait bool `json:"wait,omitempty"`
}
