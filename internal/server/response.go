package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/joseph-ayodele/bill-trends/internal/common"
)

type envelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFile(w http.ResponseWriter, contentType, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// writeAppError maps repository and validation errors onto the envelope. Unknown errors are
// logged by the caller and reported as a generic internal error.
func writeAppError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if !errors.As(err, &appErr) {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
		return
	}
	switch {
	case errors.Is(err, common.ErrNotFound):
		writeError(w, http.StatusNotFound, appErr.Code, appErr.Message)
	case errors.Is(err, common.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, appErr.Code, appErr.Message)
	case errors.Is(err, common.ErrConflict):
		writeError(w, http.StatusConflict, appErr.Code, appErr.Message)
	case errors.Is(err, common.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, appErr.Code, appErr.Message)
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
	}
}
