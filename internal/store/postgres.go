// Package store provides Row Store implementations: a PostgreSQL store on
// pgx/v5 for production and an in-memory store for tests and local runs.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parsekit/fileparser/internal/auth"
	"github.com/parsekit/fileparser/internal/ingest"
)

// foreignKeyViolation is the PostgreSQL error code raised when a row insert
// references a file record deleted mid-parse.
const foreignKeyViolation = "23503"

// uniqueViolation is raised on duplicate user emails.
const uniqueViolation = "23505"

// Postgres implements ingest.Store and auth.UserStore on a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const fileColumns = `id, filename, mime_type, size_bytes, storage_path, status,
	upload_progress, parse_progress, error_message, created_at, updated_at`

func scanFile(row pgx.Row) (ingest.FileRecord, error) {
	var rec ingest.FileRecord
	err := row.Scan(
		&rec.ID, &rec.Filename, &rec.MimeType, &rec.SizeBytes, &rec.StoragePath,
		&rec.Status, &rec.UploadProgress, &rec.ParseProgress, &rec.ErrorMessage,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return ingest.FileRecord{}, ingest.ErrFileNotFound
	}
	if err != nil {
		return ingest.FileRecord{}, fmt.Errorf("scan file record: %w", err)
	}
	return rec, nil
}

// CreateFile persists a new file record.
func (s *Postgres) CreateFile(ctx context.Context, rec ingest.FileRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO files (id, filename, mime_type, size_bytes, storage_path, status,
			upload_progress, parse_progress, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.Filename, rec.MimeType, rec.SizeBytes, rec.StoragePath,
		rec.Status, rec.UploadProgress, rec.ParseProgress, rec.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("insert file record: %w", err)
	}
	return nil
}

// GetFile loads one file record by id.
func (s *Postgres) GetFile(ctx context.Context, id uuid.UUID) (ingest.FileRecord, error) {
	return scanFile(s.pool.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = $1`, id))
}

// ListFiles returns all file records, newest first.
func (s *Postgres) ListFiles(ctx context.Context) ([]ingest.FileRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fileColumns+` FROM files ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	records := []ingest.FileRecord{}
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return records, nil
}

// update runs an UPDATE that must affect exactly one file record.
func (s *Postgres) update(ctx context.Context, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update file record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ingest.ErrFileNotFound
	}
	return nil
}

// SetUploadProgress persists the upload counter.
func (s *Postgres) SetUploadProgress(ctx context.Context, id uuid.UUID, progress int) error {
	return s.update(ctx,
		`UPDATE files SET upload_progress = $2, updated_at = now() WHERE id = $1`,
		id, progress)
}

// FinishUpload records the byte size and moves the file to processing.
func (s *Postgres) FinishUpload(ctx context.Context, id uuid.UUID, sizeBytes int64) error {
	return s.update(ctx,
		`UPDATE files SET size_bytes = $2, upload_progress = 100, status = $3,
			updated_at = now() WHERE id = $1`,
		id, sizeBytes, ingest.StatusProcessing)
}

// SetParseProgress persists a parse checkpoint.
func (s *Postgres) SetParseProgress(ctx context.Context, id uuid.UUID, progress int) error {
	return s.update(ctx,
		`UPDATE files SET parse_progress = $2, updated_at = now() WHERE id = $1`,
		id, progress)
}

// MarkReady transitions the file to its successful terminal state.
func (s *Postgres) MarkReady(ctx context.Context, id uuid.UUID) error {
	return s.update(ctx,
		`UPDATE files SET status = $2, parse_progress = 100, updated_at = now()
		 WHERE id = $1`,
		id, ingest.StatusReady)
}

// MarkFailed transitions the file to failed with the cause recorded.
func (s *Postgres) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	return s.update(ctx,
		`UPDATE files SET status = $2, parse_progress = 0, error_message = $3,
			updated_at = now() WHERE id = $1`,
		id, ingest.StatusFailed, message)
}

// DeleteFile removes the record; parsed rows cascade.
func (s *Postgres) DeleteFile(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete file record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ingest.ErrFileNotFound
	}
	return nil
}

// InsertRows persists one batch via the COPY protocol. A foreign key
// violation means the file was deleted mid-parse and maps to
// ingest.ErrFileNotFound so the parse task can stop quietly.
func (s *Postgres) InsertRows(ctx context.Context, id uuid.UUID, batch []ingest.Row) error {
	if len(batch) == 0 {
		return nil
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"parsed_rows"},
		[]string{"file_id", "row_index", "data"},
		pgx.CopyFromSlice(len(batch), func(i int) ([]any, error) {
			data, err := json.Marshal(batch[i])
			if err != nil {
				return nil, fmt.Errorf("serialize row %d: %w", batch[i].Index, err)
			}
			return []any{id, batch[i].Index, string(data)}, nil
		}),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return ingest.ErrFileNotFound
		}
		return fmt.Errorf("copy rows: %w", err)
	}
	return nil
}

// CountRows returns the number of persisted rows for a file.
func (s *Postgres) CountRows(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM parsed_rows WHERE file_id = $1`, id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return count, nil
}

// ListRows returns serialized row objects ordered by row index. The stored
// text is emitted verbatim so the original column order survives the trip.
func (s *Postgres) ListRows(ctx context.Context, id uuid.UUID, offset, limit int) ([]json.RawMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM parsed_rows WHERE file_id = $1
		 ORDER BY row_index LIMIT $2 OFFSET $3`,
		id, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	defer rows.Close()

	result := []json.RawMessage{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		result = append(result, json.RawMessage(data))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

// CreateUser persists a new account.
func (s *Postgres) CreateUser(ctx context.Context, user auth.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, is_active)
		 VALUES ($1, $2, $3, $4)`,
		user.ID, user.Email, user.PasswordHash, user.IsActive,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return auth.ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByEmail looks an account up by email, case-insensitively.
func (s *Postgres) GetUserByEmail(ctx context.Context, email string) (auth.User, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, is_active, created_at
		 FROM users WHERE lower(email) = lower($1)`, strings.TrimSpace(email)))
}

// GetUser loads an account by id.
func (s *Postgres) GetUser(ctx context.Context, id uuid.UUID) (auth.User, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, is_active, created_at
		 FROM users WHERE id = $1`, id))
}

func (s *Postgres) scanUser(row pgx.Row) (auth.User, error) {
	var user auth.User
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.IsActive, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return auth.User{}, auth.ErrUserNotFound
	}
	if err != nil {
		return auth.User{}, fmt.Errorf("scan user: %w", err)
	}
	return user, nil
}
