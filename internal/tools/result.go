package tools

import "fmt"

// Status marks a Result as success or failure.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Error taxonomy codes. The MCP layer includes the code in the rendered
// error text so the model can distinguish failure classes.
const (
	ErrCodeValidation = "VALIDATION"
	ErrCodeSecurity   = "PERMISSION_DENIED"
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeConflict   = "CONFLICT"
	ErrCodeTimeout    = "TIMEOUT"
	ErrCodeIO         = "IO"
	ErrCodeExternal   = "EXTERNAL"
	ErrCodeInternal   = "INTERNAL"
)

// Error is the structured failure payload carried by a Result.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the uniform return shape of every tool handler.
// On success, Message is a short human-readable summary and Data carries
// the payload (a string for text-producing tools, a map or slice for
// structured ones). On error, Error is set and Data is ignored.
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Success builds a successful Result.
func Success(message string, data any) Result {
	return Result{Status: StatusSuccess, Message: message, Data: data}
}

// Errorf builds a failed Result with a taxonomy code.
func Errorf(code, format string, args ...any) Result {
	return Result{
		Status: StatusError,
		Error:  &Error{Code: code, Message: fmt.Sprintf(format, args...)},
	}
}

// IsError reports whether the result carries a failure.
func (r Result) IsError() bool {
	return r.Status == StatusError
}

// Text returns the textual payload of a successful result: Data when it is
// a string, otherwise the Message.
func (r Result) Text() string {
	if s, ok := r.Data.(string); ok {
		return s
	}
	return r.Message
}
