package api

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/warp/qa-engine/qa"
)

// statusFor maps a workflow error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, qa.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, qa.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, qa.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, qa.ErrPreconditionFailed):
		return http.StatusPreconditionFailed
	case errors.Is(err, qa.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders a workflow error. Internal causes are logged,
// never sent to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
		writeError(w, status, "INTERNAL_ERROR", "internal server error", nil)
		return
	}

	msg := err.Error()
	var coded *qa.Error
	if errors.As(err, &coded) {
		msg = coded.Message
	}
	writeError(w, status, qa.CodeOf(err), msg, nil)
}

func writeError(w http.ResponseWriter, status int, code, message string, details []string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
