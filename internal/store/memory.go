package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parsekit/fileparser/internal/auth"
	"github.com/parsekit/fileparser/internal/ingest"
)

// Memory is an in-memory Row Store and user store with the same semantics
// as the Postgres implementation. It backs tests and database-free local
// runs; it is not durable.
type Memory struct {
	mu    sync.RWMutex
	files map[uuid.UUID]ingest.FileRecord
	rows  map[uuid.UUID][]memRow
	users map[uuid.UUID]auth.User
}

type memRow struct {
	index int
	data  json.RawMessage
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		files: make(map[uuid.UUID]ingest.FileRecord),
		rows:  make(map[uuid.UUID][]memRow),
		users: make(map[uuid.UUID]auth.User),
	}
}

// CreateFile persists a new file record.
func (m *Memory) CreateFile(_ context.Context, rec ingest.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[rec.ID] = rec
	return nil
}

// GetFile loads one file record by id.
func (m *Memory) GetFile(_ context.Context, id uuid.UUID) (ingest.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.files[id]
	if !ok {
		return ingest.FileRecord{}, ingest.ErrFileNotFound
	}
	return rec, nil
}

// ListFiles returns all file records, newest first.
func (m *Memory) ListFiles(_ context.Context) ([]ingest.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := make([]ingest.FileRecord, 0, len(m.files))
	for _, rec := range m.files {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

func (m *Memory) mutate(id uuid.UUID, fn func(*ingest.FileRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.files[id]
	if !ok {
		return ingest.ErrFileNotFound
	}
	fn(&rec)
	rec.UpdatedAt = time.Now().UTC()
	m.files[id] = rec
	return nil
}

// SetUploadProgress persists the upload counter.
func (m *Memory) SetUploadProgress(_ context.Context, id uuid.UUID, progress int) error {
	return m.mutate(id, func(rec *ingest.FileRecord) {
		rec.UploadProgress = progress
	})
}

// FinishUpload records the byte size and moves the file to processing.
func (m *Memory) FinishUpload(_ context.Context, id uuid.UUID, sizeBytes int64) error {
	return m.mutate(id, func(rec *ingest.FileRecord) {
		rec.SizeBytes = sizeBytes
		rec.UploadProgress = 100
		rec.Status = ingest.StatusProcessing
	})
}

// SetParseProgress persists a parse checkpoint.
func (m *Memory) SetParseProgress(_ context.Context, id uuid.UUID, progress int) error {
	return m.mutate(id, func(rec *ingest.FileRecord) {
		rec.ParseProgress = progress
	})
}

// MarkReady transitions the file to its successful terminal state.
func (m *Memory) MarkReady(_ context.Context, id uuid.UUID) error {
	return m.mutate(id, func(rec *ingest.FileRecord) {
		rec.Status = ingest.StatusReady
		rec.ParseProgress = 100
	})
}

// MarkFailed transitions the file to failed with the cause recorded.
func (m *Memory) MarkFailed(_ context.Context, id uuid.UUID, message string) error {
	return m.mutate(id, func(rec *ingest.FileRecord) {
		rec.Status = ingest.StatusFailed
		rec.ParseProgress = 0
		rec.ErrorMessage = message
	})
}

// DeleteFile removes the record and all its rows.
func (m *Memory) DeleteFile(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[id]; !ok {
		return ingest.ErrFileNotFound
	}
	delete(m.files, id)
	delete(m.rows, id)
	return nil
}

// InsertRows persists one batch; inserting against a deleted file reports
// ingest.ErrFileNotFound like the Postgres foreign key does.
func (m *Memory) InsertRows(_ context.Context, id uuid.UUID, batch []ingest.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[id]; !ok {
		return ingest.ErrFileNotFound
	}
	for _, row := range batch {
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		m.rows[id] = append(m.rows[id], memRow{index: row.Index, data: data})
	}
	return nil
}

// CountRows returns the number of persisted rows for a file.
func (m *Memory) CountRows(_ context.Context, id uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows[id]), nil
}

// ListRows returns serialized rows ordered by row index.
func (m *Memory) ListRows(_ context.Context, id uuid.UUID, offset, limit int) ([]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := make([]memRow, len(m.rows[id]))
	copy(rows, m.rows[id])
	sort.Slice(rows, func(i, j int) bool { return rows[i].index < rows[j].index })

	if offset >= len(rows) {
		return []json.RawMessage{}, nil
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	result := make([]json.RawMessage, 0, end-offset)
	for _, row := range rows[offset:end] {
		result = append(result, row.data)
	}
	return result, nil
}

// CreateUser persists a new account.
func (m *Memory) CreateUser(_ context.Context, user auth.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return auth.ErrEmailTaken
		}
	}
	m.users[user.ID] = user
	return nil
}

// GetUserByEmail looks an account up by email, case-insensitively.
func (m *Memory) GetUserByEmail(_ context.Context, email string) (auth.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, user := range m.users {
		if strings.EqualFold(user.Email, strings.TrimSpace(email)) {
			return user, nil
		}
	}
	return auth.User{}, auth.ErrUserNotFound
}

// GetUser loads an account by id.
func (m *Memory) GetUser(_ context.Context, id uuid.UUID) (auth.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return user, nil
}
