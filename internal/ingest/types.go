// Package ingest provides the ingestion pipeline for uploaded tabular files:
// streaming upload with progress tracking, background streaming parse, and
// batched row persistence with periodic progress checkpoints.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an uploaded file.
//
// Transitions: uploading -> processing -> ready | failed. Terminal states
// never transition back; a failed or completed file can only be deleted.
type Status string

const (
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is a terminal lifecycle state.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// FileRecord is the persisted metadata for one uploaded file.
//
// UploadProgress is meaningful only while uploading; ParseProgress only in
// processing and terminal states. Readers select which counter to surface
// based on Status.
type FileRecord struct {
	ID             uuid.UUID `json:"id"`
	Filename       string    `json:"filename"`
	MimeType       string    `json:"mime_type"`
	SizeBytes      int64     `json:"size_bytes"`
	StoragePath    string    `json:"storage_path"`
	Status         Status    `json:"status"`
	UploadProgress int       `json:"upload_progress"`
	ParseProgress  int       `json:"parse_progress"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Progress returns the progress value a caller should surface for the
// record's current status.
func (f FileRecord) Progress() int {
	switch f.Status {
	case StatusUploading:
		return f.UploadProgress
	case StatusProcessing:
		return f.ParseProgress
	case StatusReady:
		return 100
	default:
		// Anomalous or failed: best-known value.
		if f.ParseProgress > 0 {
			return f.ParseProgress
		}
		return f.UploadProgress
	}
}

// Row is one parsed data row: an ordered mapping from column name to string
// value. Columns reflect file order, which pagination must preserve. Indices
// start at 1; index 0 is the header row, consumed but never emitted.
type Row struct {
	Index   int
	Columns []string
	Values  []string
}

// MarshalJSON encodes the row as a JSON object preserving column order.
// encoding/json sorts map keys, so the object is built by hand.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range r.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		var val []byte
		if i < len(r.Values) {
			val, err = json.Marshal(r.Values[i])
		} else {
			val, err = json.Marshal("")
		}
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ErrFileNotFound is returned by stores when a file record does not exist,
// including when it was deleted while a parse was still running.
var ErrFileNotFound = errors.New("file not found")
