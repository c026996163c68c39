package errors

const (
	HttpInternalError         = "internal_error"
	HttpInvalidJsonError      = "invalid_json"
	HttpValidationError       = "validation_failed"
	HttpDuplicateEventError   = "duplicate_event"
	HttpStoreUnavailableError = "store_unavailable"
)

// ErrorResponse is the error response body for registration and stats errors.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
