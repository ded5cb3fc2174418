package errors

import (
	"net/http"

	"github.com/portfoliodash/payserver/pkg/responders"
)

// ErrorResponse is the error envelope shared by every JSON endpoint.
type ErrorResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Code      ErrorCode `json:"code"`
	Retryable bool      `json:"retryable,omitempty"`
}

// NewErrorResponse builds an envelope for code.
func NewErrorResponse(code ErrorCode, message string) ErrorResponse {
	return ErrorResponse{
		Success:   false,
		Message:   message,
		Code:      code,
		Retryable: code.IsRetryable(),
	}
}

// WriteJSON writes the envelope with the code's HTTP status.
func (e ErrorResponse) WriteJSON(w http.ResponseWriter) {
	responders.JSON(w, e.Code.HTTPStatus(), e)
}

// WriteError writes an error envelope in one call.
func WriteError(w http.ResponseWriter, code ErrorCode, message string) {
	NewErrorResponse(code, message).WriteJSON(w)
}
