package models

// ExecutionResult is what the executors record for one run.
type ExecutionResult struct {
	ID            string               `json:"execution_id"`
	DeviceID      string               `json:"device_id"`
	Type          string               `json:"execution_type"` // action, verification, navigation
	Success       bool                 `json:"success"`
	Message       string               `json:"message,omitempty"`
	StartedAt     int64                `json:"started_at"` // unix ms
	DurationMs    int64                `json:"duration_ms"`
	Verifications []VerificationResult `json:"verification_results,omitempty"`
}

// Transition is one edge of a navigation graph: the actions that move the
// device from one screen to another and the checks that confirm it arrived.
type Transition struct {
	FromNodeID     string               `json:"from_node_id,omitempty"`
	ToNodeID       string               `json:"to_node_id"`
	Actions        []Action             `json:"actions"`
	RetryActions   []Action             `json:"retry_actions,omitempty"`
	FailureActions []Action             `json:"failure_actions,omitempty"`
	Verifications  []VerificationConfig `json:"verifications,omitempty"`
}
