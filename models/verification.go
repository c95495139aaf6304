package models

// VerificationConfig describes one check to run against a device.
type VerificationConfig struct {
	VerificationType string                 `json:"verification_type"` // image, text, video, audio, adb, appium
	Command          string                 `json:"command"`
	Params           map[string]interface{} `json:"params,omitempty"`
}

// VerificationResult is the uniform answer of every verification controller.
type VerificationResult struct {
	Success    bool                   `json:"success"`
	Message    string                 `json:"message"`
	Confidence float64                `json:"confidence"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// VerificationFailed builds a failed result with zero confidence.
func VerificationFailed(message string) VerificationResult {
	return VerificationResult{Success: false, Message: message}
}
