package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/parsekit/fileparser/internal/ingest"
)

// maxPageLimit bounds the per-page row count a client may request.
const maxPageLimit = 1000

// fileSummary is the listing projection of a file record.
type fileSummary struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// handleListFiles returns all uploaded files, newest first.
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListFiles(r.Context())
	if err != nil {
		respondStoreError(w, r, err)
		return
	}

	out := make([]fileSummary, len(recs))
	for i, rec := range recs {
		out[i] = fileSummary{
			ID:        rec.ID.String(),
			Filename:  rec.Filename,
			Status:    string(rec.Status),
			CreatedAt: rec.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// contentResponse is a page of parsed rows for a ready file.
type contentResponse struct {
	FileID    string            `json:"file_id"`
	Status    string            `json:"status"`
	Page      int               `json:"page"`
	Limit     int               `json:"limit"`
	TotalRows int               `json:"total_rows"`
	Rows      []json.RawMessage `json:"rows"`
}

// handleContent returns a page of parsed rows for a file. Rows exist only
// once the file is ready; earlier states get an advisory response and a
// failed file surfaces its stored error.
func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	id, ok := fileIDParam(w, r)
	if !ok {
		return
	}

	rec, err := s.store.GetFile(r.Context(), id)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}

	switch rec.Status {
	case ingest.StatusUploading:
		writeJSON(w, http.StatusAccepted, map[string]string{
			"message": "file upload in progress, try again later",
		})
		return
	case ingest.StatusProcessing:
		writeJSON(w, http.StatusAccepted, map[string]string{
			"message": "file processing in progress, try again later",
		})
		return
	case ingest.StatusFailed:
		writeJSON(w, http.StatusConflict, map[string]string{
			"message": "file processing failed",
			"error":   rec.ErrorMessage,
		})
		return
	}

	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	limit := queryInt(r, "limit", s.cfg.API.PageSize)
	if limit < 1 {
		limit = 1
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	total, err := s.store.CountRows(r.Context(), id)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}

	rows, err := s.store.ListRows(r.Context(), id, (page-1)*limit, limit)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	if rows == nil {
		rows = []json.RawMessage{}
	}

	writeJSON(w, http.StatusOK, contentResponse{
		FileID:    rec.ID.String(),
		Status:    string(rec.Status),
		Page:      page,
		Limit:     limit,
		TotalRows: total,
		Rows:      rows,
	})
}

// handleDeleteFile removes a file record, its stored bytes and all parsed
// rows. A parse still running for the file notices the deletion and stops.
func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id, ok := fileIDParam(w, r)
	if !ok {
		return
	}

	if err := s.service.Delete(r.Context(), id); err != nil {
		respondStoreError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// queryInt parses an integer query parameter, falling back to def when the
// parameter is absent or malformed.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
