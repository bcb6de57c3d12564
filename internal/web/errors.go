package web

// errors.go provides unified error response handling for the web layer.
//
// All errors are logged with full technical detail server-side and returned
// to clients as a small JSON document. Handlers hand storage errors to
// respondStoreError, which maps the not-found sentinel to a 404 and
// everything else to a 500 with a generic message.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/parsekit/fileparser/internal/ingest"
)

// ErrorResponse is the JSON structure for API error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON with the given status code.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode", "error", err)
	}
}

// writeError writes a JSON error response with the given client message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// respondStoreError logs err with request context and writes the response a
// failed storage call warrants: 404 for a missing file, 500 otherwise. The
// technical error never reaches the client.
func respondStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ingest.ErrFileNotFound) {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	slog.Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"error", err.Error(),
		"request_id", middleware.GetReqID(r.Context()),
	)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
