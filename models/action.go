package models

// Action is one step of a command sequence sent to a controller.
type Action struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Delay   int                    `json:"delay,omitempty"` // ms to wait after the command
}

// SequenceRequest carries a main batch plus optional retry and failure batches.
type SequenceRequest struct {
	Actions        []Action `json:"actions"`
	RetryActions   []Action `json:"retry_actions,omitempty"`
	FailureActions []Action `json:"failure_actions,omitempty"`
}

// CommandRequest is a single command addressed to a controller.
type CommandRequest struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// CommandResult is what every ExecuteCommand returns. An unrecognised command
// sets Unknown and lists ValidCommands so callers can tell it apart from a
// command that ran and failed.
type CommandResult struct {
	Success       bool                   `json:"success"`
	Message       string                 `json:"message,omitempty"`
	Error         string                 `json:"error,omitempty"`
	Unknown       bool                   `json:"unknown_command,omitempty"`
	ValidCommands []string               `json:"valid_commands,omitempty"`
	Data          map[string]interface{} `json:"data,omitempty"`
}

// CommandOK builds a successful result.
func CommandOK(message string) CommandResult {
	return CommandResult{Success: true, Message: message}
}

// CommandFailed builds a failed result.
func CommandFailed(err string) CommandResult {
	return CommandResult{Success: false, Error: err}
}

// UnknownCommand builds the structured error for an unrecognised verb.
func UnknownCommand(command string, valid []string) CommandResult {
	return CommandResult{
		Success:       false,
		Error:         "unknown command: " + command,
		Unknown:       true,
		ValidCommands: valid,
	}
}

// BatchSequenceRequest runs one sequence on several devices.
type BatchSequenceRequest struct {
	DeviceIDs []string `json:"device_ids"`
	SequenceRequest
}
