// Package config provides centralized configuration management. Settings
// load from environment variables with defaults and are validated on
// startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Upload   UploadConfig
	API      APIConfig
	Auth     AuthConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading the request body.
	// Large uploads stream within this window (default: 10m)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"10m"`

	// WriteTimeout is the maximum duration for writing a response.
	// Zero keeps SSE connections open indefinitely (default: 0s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	// URL is the connection string (required). DB_URL is accepted as an
	// alternate name for compatibility.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the pool ceiling (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the number of connections kept open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime closes idle connections after this long (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// UploadConfig holds streaming upload and parse settings.
type UploadConfig struct {
	// Dir is where uploaded bytes are stored (default: uploads)
	Dir string `env:"UPLOAD_DIR" default:"uploads"`

	// ChunkSize is the upload read/write chunk size in bytes (default: 1 MiB)
	ChunkSize int `env:"CHUNK_SIZE" default:"1048576"`

	// ProgressStep is the upload progress increment per chunk (default: 5)
	ProgressStep int `env:"UPLOAD_PROGRESS_STEP" default:"5"`

	// MaxFileSize is the maximum accepted upload in bytes (default: 100MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"104857600"`

	// CSVBatchSize is the row flush interval for delimited files (default: 100)
	CSVBatchSize int `env:"UPLOAD_CSV_BATCH_SIZE" default:"100"`

	// XLSXBatchSize is the row flush interval for workbooks (default: 50)
	XLSXBatchSize int `env:"UPLOAD_XLSX_BATCH_SIZE" default:"50"`
}

// APIConfig holds response shaping settings.
type APIConfig struct {
	// PageSize is the default content page size (default: 100)
	PageSize int `env:"PAGE_SIZE" default:"100"`
}

// AuthConfig holds token settings.
type AuthConfig struct {
	// JWTSecret signs access tokens. Override the default outside of
	// local development.
	JWTSecret string `env:"JWT_SECRET" default:"change_me_please"`

	// TokenTTL is the access token lifetime (default: 24h)
	TokenTTL time.Duration `env:"JWT_TOKEN_TTL" default:"24h"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port form.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
