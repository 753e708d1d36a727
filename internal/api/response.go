package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/littletone/littletone/internal/log"
)

// successResponse is the envelope for successful chat replies.
type successResponse struct {
	Status    string `json:"status"`
	Data      any    `json:"data"`
	SessionID string `json:"session_id,omitempty"`
}

// errorResponse is the envelope for all error replies.
type errorResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	ErrorType  string `json:"error_type,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"` // seconds, rate limiting only
}

// writeJSON writes a JSON response with the given status code.
// Buffer-first: headers are only sent after successful encoding, so an
// encoding failure can still produce a proper 500.
func writeJSON(w http.ResponseWriter, status int, data any, logger log.Logger) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		logger.Error("encoding JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Client disconnects are common and expected.
		logger.Debug("writing response body", "error", err)
	}
}

// writeError writes an error envelope.
func writeError(w http.ResponseWriter, status int, message string, logger log.Logger) {
	writeJSON(w, status, errorResponse{Status: "error", Message: message}, logger)
}
