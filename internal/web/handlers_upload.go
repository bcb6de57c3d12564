package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// handleUpload accepts a multipart file upload using streaming.
// The response is sent once the bytes are durably stored; parsing continues
// in a background task observable via the progress and events endpoints.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	// Multipart part headers only; the file part itself streams from disk
	// or the socket without being buffered whole.
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "file too large or invalid form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	rec, err := s.service.BeginUpload(r.Context(), header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"file_id": rec.ID.String(),
		"status":  string(rec.Status),
	})
}

// handleProgress returns the current status and progress counter for a file.
// Which counter is surfaced depends on the file's lifecycle state.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := fileIDParam(w, r)
	if !ok {
		return
	}

	rec, err := s.store.GetFile(r.Context(), id)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"file_id":  rec.ID.String(),
		"status":   rec.Status,
		"progress": rec.Progress(),
	})
}

// handleEvents streams progress events for a file via Server-Sent Events.
// The subscription starts immediately; events published before the client
// connected are not replayed. The stream ends when the client disconnects
// or the hub shuts down.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")
	if fileID == "" {
		writeError(w, http.StatusBadRequest, "missing file ID")
		return
	}
	// Events are keyed by the canonical lowercase UUID form; normalize so a
	// client sending an uppercase ID still receives its stream.
	if id, err := uuid.Parse(fileID); err == nil {
		fileID = id.String()
	}

	// ResponseController unwraps middleware writers to reach http.Flusher.
	rc := http.NewResponseController(w)

	sub := s.hub.Subscribe(fileID)
	defer s.hub.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	for {
		select {
		case ev, open := <-sub.C:
			if !open {
				// Hub shut down
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
			if err := rc.Flush(); err != nil {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

// fileIDParam parses the fileID URL parameter, writing a 404 when it is not
// a valid UUID. A malformed ID can never name an existing file.
func fileIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "fileID")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return uuid.Nil, false
	}
	return id, true
}
