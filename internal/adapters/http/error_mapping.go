package httpadapter

import (
	"errors"
	"net/http"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch domain.ErrorCode(err) {
	case domain.CodeInvalidInput:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeRunInProgress:
		return http.StatusConflict
	case domain.CodeTransportFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	code := domain.ErrorCode(err)
	message := err.Error()
	var runErr *domain.RunError
	if errors.As(err, &runErr) {
		message = runErr.Message
	}
	writeJSON(w, mapErrorToHTTPStatus(err), errorBody{Error: errorDetail{Code: code, Message: message}})
}

func writeErrorStatus(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}
