package server

import (
	"errors"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"library-lending/library"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type dataResponse struct {
	Data any `json:"data"`
}

type listResponse struct {
	Data     any `json:"data"`
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
	Total    int `json:"total"`
}

type errorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, dataResponse{Data: data})
}

func writeList(w http.ResponseWriter, data any, p library.Page, total int) {
	writeJSON(w, http.StatusOK, listResponse{Data: data, Page: p.Number, PageSize: p.Size, Total: total})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorPayload{Code: code, Message: message, RequestID: requestIDFromContext(r.Context())}})
}

// writeDomainError maps a library error onto a status code and envelope.
// Storage failures do not leak driver text to the client.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := mapDomainError(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	writeError(w, r, status, code, msg)
}

func mapDomainError(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, library.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, library.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, library.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, library.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, library.ErrStorage):
		return http.StatusServiceUnavailable, "storage_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// outcome is the lending metric label for err.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	_, code := mapDomainError(err)
	return code
}
