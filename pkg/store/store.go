// Package store persists descriptors, their cookies and download jobs in sqlite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"vidproxy/pkg/logging"

	_ "github.com/mattn/go-sqlite3"
)

const dbDriver = "sqlite3"

//go:embed sql/schema.sql
var schemaSQL string

// ErrNotFound is returned when a video or job does not exist.
var ErrNotFound = errors.New("not found")

// Table and column names.
const (
	tableVideos  = "videos"
	tableCookies = "cookies"
	tableJobs    = "download_jobs"

	colVideoID            = "video_id"
	colTitle              = "title"
	colThumbnail          = "thumbnail"
	colSourceCount        = "source_count"
	colCookieHeader       = "cookie_header"
	colSimpleCookieHeader = "simple_cookie_header"
	colDescriptor         = "descriptor"
	colScrapedAt          = "scraped_at"
	colUpdatedAt          = "updated_at"

	colPosition   = "position"
	colName       = "name"
	colValue      = "value"
	colAttributes = "attributes"
	colRaw        = "raw"
	colExpiresAt  = "expires_at"

	colJobID       = "job_id"
	colSourceURL   = "source_url"
	colOutputPath  = "output_path"
	colStatus      = "status"
	colProgress    = "progress"
	colDuration    = "duration_secs"
	colCurrentTime = "current_secs"
	colError       = "error"
	colExitCode    = "exit_code"
	colCreatedAt   = "created_at"
	colStartedAt   = "started_at"
	colFinishedAt  = "finished_at"
)

// Store is the sqlite-backed persistence layer.
type Store struct {
	db  *sql.DB
	log *logging.Logger
}

// Open opens (or creates) the database at path and initializes its tables.
// The path ":memory:" opens a private in-memory database.
func Open(path string, log *logging.Logger) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// PRAGMAs below only reach the first connection; the DSN applies them to all.
	db, err := sql.Open(dbDriver, path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database at path %q: %w", path, err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, log: log.WithComponent("store")}
	if err := s.configure(path); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	s.log.Info("database ready", "path", path)
	return s, nil
}

func (s *Store) configure(path string) error {
	pragmas := []string{
		`PRAGMA foreign_keys = ON;`,
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA synchronous = NORMAL;`,
	}
	if path != ":memory:" {
		pragmas = append(pragmas, `PRAGMA journal_mode = WAL;`)
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return nil
}

// initTables creates the schema inside one transaction.
func (s *Store) initTables() (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				s.log.Error("transaction rollback failed", "error", rollbackErr)
			}
		}
	}()

	if _, err = tx.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing when it returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var committed bool

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if !committed {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				s.log.Error("transaction rollback failed", "error", rollbackErr)
			}
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}
