package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parsekit/fileparser/internal/logging"
	"github.com/parsekit/fileparser/internal/notify"
)

// Publisher delivers progress events to live observers. Satisfied by
// *notify.Hub; swappable for a distributed backend.
type Publisher interface {
	Publish(fileID string, ev notify.Event)
}

// Options tune the ingestion pipeline. Zero values fall back to defaults.
type Options struct {
	// ChunkSize is the upload read/write chunk size in bytes (default 1 MiB).
	ChunkSize int
	// UploadStep is the heuristic upload progress increment per chunk
	// (default 5). Upload progress saturates at 95 until the finalize step.
	UploadStep int
	// CSVBatchSize is the row flush interval for delimited files (default 100).
	CSVBatchSize int
	// XLSXBatchSize is the row flush interval for workbooks (default 50).
	XLSXBatchSize int
}

const (
	defaultChunkSize     = 1 << 20
	defaultUploadStep    = 5
	defaultCSVBatchSize  = 100
	defaultXLSXBatchSize = 50

	// uploadProgressCeiling is the highest value the chunk loop may report;
	// the remaining 5% is reserved for the finalize step so a mid-stream
	// reader never sees a false 100%.
	uploadProgressCeiling = 95

	// parseProgressCeiling caps checkpoint progress until the terminal
	// transition publishes the real 100.
	parseProgressCeiling = 99

	// parseStep is the fixed increment used when the total row count is
	// unknown.
	parseStep = 5
)

// Service is the ingestion coordinator. It owns the end-to-end lifecycle of
// uploaded files: streaming the upload to disk, driving the state machine,
// running the background parse, and publishing progress.
type Service struct {
	store      Store
	publisher  Publisher
	uploadsDir string
	opts       Options

	mu     sync.Mutex
	parses map[uuid.UUID]chan struct{}
}

// NewService creates a coordinator writing uploaded bytes under uploadsDir.
func NewService(store Store, publisher Publisher, uploadsDir string, opts Options) (*Service, error) {
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.UploadStep <= 0 {
		opts.UploadStep = defaultUploadStep
	}
	if opts.CSVBatchSize <= 0 {
		opts.CSVBatchSize = defaultCSVBatchSize
	}
	if opts.XLSXBatchSize <= 0 {
		opts.XLSXBatchSize = defaultXLSXBatchSize
	}
	return &Service{
		store:      store,
		publisher:  publisher,
		uploadsDir: uploadsDir,
		opts:       opts,
		parses:     make(map[uuid.UUID]chan struct{}),
	}, nil
}

// BeginUpload streams the request body to durable storage, reporting
// progress after every chunk, and on completion transitions the file to
// processing and schedules the background parse. It returns once the upload
// phase is complete; parsing continues independently.
func (s *Service) BeginUpload(ctx context.Context, filename, mimeType string, body io.Reader) (FileRecord, error) {
	id := uuid.New()
	rec := FileRecord{
		ID:          id,
		Filename:    filename,
		MimeType:    mimeType,
		StoragePath: filepath.Join(s.uploadsDir, id.String()+"_"+sanitizeFilename(filename)),
		Status:      StatusUploading,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}

	// The record must exist before any bytes land on disk so pollers can
	// observe the uploading state from the start.
	if err := s.store.CreateFile(ctx, rec); err != nil {
		return FileRecord{}, fmt.Errorf("create file record: %w", err)
	}

	size, err := s.streamToDisk(ctx, &rec, body)
	if err != nil {
		s.failUpload(ctx, rec, size, err)
		return FileRecord{}, err
	}

	rec.SizeBytes = size
	rec.UploadProgress = 100
	rec.Status = StatusProcessing
	if err := s.store.FinishUpload(ctx, id, size); err != nil {
		s.failUpload(ctx, rec, size, err)
		return FileRecord{}, fmt.Errorf("finish upload: %w", err)
	}
	s.publisher.Publish(id.String(), notify.Event{Stage: notify.StageUploading, Progress: notify.Percent(100)})

	s.startParse(id)
	return rec, nil
}

// streamToDisk copies the body to the record's storage path in fixed-size
// chunks, persisting a heuristic progress value after each chunk. Content
// length is frequently unknown up front, so progress advances in fixed
// increments and saturates below 100.
func (s *Service) streamToDisk(ctx context.Context, rec *FileRecord, body io.Reader) (int64, error) {
	out, err := os.Create(rec.StoragePath)
	if err != nil {
		return 0, fmt.Errorf("create storage file: %w", err)
	}
	defer out.Close()

	var size int64
	buf := make([]byte, s.opts.ChunkSize)
	for {
		n, readErr := io.ReadFull(body, buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return size, fmt.Errorf("write chunk: %w", err)
			}
			size += int64(n)

			if rec.UploadProgress < uploadProgressCeiling {
				rec.UploadProgress = min(uploadProgressCeiling, rec.UploadProgress+s.opts.UploadStep)
			}
			if err := s.store.SetUploadProgress(ctx, rec.ID, rec.UploadProgress); err != nil {
				return size, fmt.Errorf("persist upload progress: %w", err)
			}
			s.publisher.Publish(rec.ID.String(), notify.Event{
				Stage:    notify.StageUploading,
				Progress: notify.Percent(rec.UploadProgress),
			})
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return size, fmt.Errorf("read upload stream: %w", readErr)
		}
	}

	if err := out.Sync(); err != nil {
		return size, fmt.Errorf("sync storage file: %w", err)
	}
	return size, nil
}

// failUpload resolves a mid-upload failure. If any bytes were durably
// recorded the file ends failed with a descriptive message; otherwise the
// record is removed so no orphan sits in uploading forever.
func (s *Service) failUpload(ctx context.Context, rec FileRecord, written int64, cause error) {
	logger := logging.WithFields(ctx, "file_id", rec.ID, "filename", rec.Filename)
	logger.Error("upload failed", "error", cause, "bytes_written", written)

	if written == 0 {
		_ = os.Remove(rec.StoragePath)
		if err := s.store.DeleteFile(ctx, rec.ID); err != nil && !errors.Is(err, ErrFileNotFound) {
			logger.Error("cleanup of aborted upload failed", "error", err)
		}
		return
	}
	if err := s.store.MarkFailed(ctx, rec.ID, cause.Error()); err != nil {
		if !errors.Is(err, ErrFileNotFound) {
			logger.Error("marking upload failed", "error", err)
		}
		// Nothing was persisted, so nothing is published.
		return
	}
	s.publisher.Publish(rec.ID.String(), notify.Event{Stage: notify.StageFailed, Error: cause.Error()})
}

// startParse spawns the background parse task for a file and tracks it so
// tests and shutdown can await completion deterministically.
func (s *Service) startParse(id uuid.UUID) {
	done := make(chan struct{})
	s.mu.Lock()
	s.parses[id] = done
	s.mu.Unlock()

	go func() {
		defer func() {
			close(done)
			s.mu.Lock()
			delete(s.parses, id)
			s.mu.Unlock()
		}()
		s.RunParse(context.Background(), id)
	}()
}

// WaitParse blocks until the background parse for the file (if any) has
// finished. Used by tests and by handlers that need deterministic ordering.
func (s *Service) WaitParse(id uuid.UUID) {
	s.mu.Lock()
	done, ok := s.parses[id]
	s.mu.Unlock()
	if ok {
		<-done
	}
}

// WaitForParses blocks until every in-flight parse has finished or the
// context expires. Called during graceful shutdown.
func (s *Service) WaitForParses(ctx context.Context) error {
	s.mu.Lock()
	pending := make([]chan struct{}, 0, len(s.parses))
	for _, done := range s.parses {
		pending = append(pending, done)
	}
	s.mu.Unlock()

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// RunParse executes the parse phase for one file: a single forward pass
// persisting rows in batches with progress checkpoints. Errors are resolved
// into the failed terminal state; a file deleted mid-parse makes the task
// exit quietly.
func (s *Service) RunParse(ctx context.Context, id uuid.UUID) {
	rec, err := s.store.GetFile(ctx, id)
	if errors.Is(err, ErrFileNotFound) {
		// Deleted before the parse started; nothing to do.
		return
	}
	logger := logging.WithFields(ctx, "file_id", id, "filename", rec.Filename)
	if err != nil {
		logger.Error("loading file record for parse", "error", err)
		return
	}

	parser := NewParser(rec.StoragePath)
	batchSize := s.opts.CSVBatchSize
	if _, ok := parser.(*workbookParser); ok {
		batchSize = s.opts.XLSXBatchSize
	}

	total := parser.Total()
	processed := 0
	progress := 0
	batch := make([]Row, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.store.InsertRows(ctx, id, batch); err != nil {
			return err
		}
		processed += len(batch)
		batch = batch[:0]

		if total > 0 {
			progress = min(parseProgressCeiling, processed*100/total)
		} else {
			progress = min(parseProgressCeiling, progress+parseStep)
		}
		if err := s.store.SetParseProgress(ctx, id, progress); err != nil {
			return err
		}
		s.publisher.Publish(id.String(), notify.Event{
			Stage:    notify.StageProcessing,
			Progress: notify.Percent(progress),
		})
		return nil
	}

	err = parser.Parse(func(row Row) error {
		batch = append(batch, row)
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}

	if errors.Is(err, ErrFileNotFound) {
		// Deleted mid-parse; the task exits without error and writes nothing
		// further.
		logger.Info("file deleted during parse, aborting")
		return
	}
	if err != nil {
		logger.Error("parse failed", "error", err, "rows_committed", processed)
		if markErr := s.store.MarkFailed(ctx, id, err.Error()); markErr != nil {
			if !errors.Is(markErr, ErrFileNotFound) {
				logger.Error("marking parse failed", "error", markErr)
			}
			return
		}
		s.publisher.Publish(id.String(), notify.Event{Stage: notify.StageFailed, Error: err.Error()})
		return
	}

	if err := s.store.MarkReady(ctx, id); err != nil {
		if !errors.Is(err, ErrFileNotFound) {
			logger.Error("marking file ready", "error", err)
		}
		return
	}
	logger.Info("parse complete", "rows", processed)
	s.publisher.Publish(id.String(), notify.Event{
		Stage:    notify.StageProcessing,
		Progress: notify.Percent(100),
	})
}

// Delete removes the stored bytes (best effort; a missing file on disk is
// not an error) and deletes the record with all its rows.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	rec, err := s.store.GetFile(ctx, id)
	if err != nil {
		return err
	}
	if err := os.Remove(rec.StoragePath); err != nil && !os.IsNotExist(err) {
		logging.FromContext(ctx).Warn("removing stored bytes", "file_id", id, "error", err)
	}
	return s.store.DeleteFile(ctx, id)
}

// sanitizeFilename strips path components and characters that have no place
// in an on-disk name. The id prefix already guarantees uniqueness; this only
// guards against separator and traversal characters in client input.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if name == "" || name == "." || name == ".." {
		return "upload"
	}
	return name
}
