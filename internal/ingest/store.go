package ingest

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Store is the durable keyed storage for file metadata and parsed rows.
//
// Implementations must return ErrFileNotFound from any per-file operation
// whose file record no longer exists, so a parse task can detect concurrent
// deletion and exit quietly. Mutations on one file are never issued by more
// than one task at a time (phase separation), so implementations need only
// the ordinary transactional guarantees of the backing database.
type Store interface {
	CreateFile(ctx context.Context, rec FileRecord) error
	GetFile(ctx context.Context, id uuid.UUID) (FileRecord, error)
	ListFiles(ctx context.Context) ([]FileRecord, error)

	// SetUploadProgress persists the upload counter for a file still uploading.
	SetUploadProgress(ctx context.Context, id uuid.UUID, progress int) error
	// FinishUpload records the final byte size, sets upload progress to 100
	// and transitions the file to processing.
	FinishUpload(ctx context.Context, id uuid.UUID, sizeBytes int64) error
	// SetParseProgress persists a parse checkpoint for a processing file.
	SetParseProgress(ctx context.Context, id uuid.UUID, progress int) error
	// MarkReady transitions the file to ready with parse progress 100.
	MarkReady(ctx context.Context, id uuid.UUID) error
	// MarkFailed transitions the file to failed, resetting parse progress to
	// zero and recording the cause.
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error

	// DeleteFile removes the record and, by cascade, all its rows.
	DeleteFile(ctx context.Context, id uuid.UUID) error

	// InsertRows persists one batch of parsed rows keyed (file id, row index).
	InsertRows(ctx context.Context, id uuid.UUID, rows []Row) error
	CountRows(ctx context.Context, id uuid.UUID) (int, error)
	// ListRows returns serialized row objects ordered by row index.
	ListRows(ctx context.Context, id uuid.UUID, offset, limit int) ([]json.RawMessage, error)
}
