package dto

// Error codes carried in ErrorResponse.
const (
	CodeBadRequest          = "bad_request"
	CodeInvalidInput        = "invalid_input"
	CodeInvalidParticipants = "invalid_participants"
	CodeUnauthorized        = "unauthorized"
	CodeForbidden           = "forbidden"
	CodeNotFound            = "not_found"
	CodeInternal            = "internal_error"
)

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorPayload `json:"error"`
}
