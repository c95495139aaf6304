package models

// APIResponse is the envelope of every host API reply.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func SuccessResponse(data interface{}) APIResponse {
	return APIResponse{
		Success: true,
		Data:    data,
	}
}

func ErrorResponse(err string) APIResponse {
	return APIResponse{
		Success: false,
		Error:   err,
	}
}

// ResultResponse wraps a controller result, keeping its own success flag.
func ResultResponse(success bool, data interface{}, err string) APIResponse {
	return APIResponse{
		Success: success,
		Data:    data,
		Error:   err,
	}
}
