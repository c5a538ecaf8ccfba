// Package store keeps the append-only index of downloaded model files.
package store

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"moxind/pkg/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a file id has no record.
var ErrNotFound = errors.New("not found")

// Store wraps a SQLite database holding DownloadedFile records.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the index in dataDir and runs pending migrations.
// Pass ":memory:" for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "moxind.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	// Single connection: concurrent downloads serialize their inserts.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// Add records a completed download. Records are immutable: adding an id
// that already exists keeps the original and returns it.
func (s *Store) Add(df types.DownloadedFile) (types.DownloadedFile, error) {
	fb, err := json.Marshal(df.File)
	if err != nil {
		return df, fmt.Errorf("encoding file: %w", err)
	}
	mb, err := json.Marshal(df.Model)
	if err != nil {
		return df, fmt.Errorf("encoding model: %w", err)
	}
	if df.DownloadedAt.IsZero() {
		df.DownloadedAt = time.Now()
	}
	_, err = s.db.Exec(`
		INSERT INTO downloaded_files (file_id, model_id, file_json, model_json, path, downloaded_at, compatibility, information)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_id) DO NOTHING`,
		string(df.File.ID), string(df.Model.ID), string(fb), string(mb), df.Path,
		df.DownloadedAt.UTC().Format(time.RFC3339Nano), string(df.CompatibilityGuess), df.Information,
	)
	if err != nil {
		return df, fmt.Errorf("inserting %s: %w", df.File.ID, err)
	}
	return s.Get(df.File.ID)
}

// Get returns the record for id or ErrNotFound.
func (s *Store) Get(id types.FileID) (types.DownloadedFile, error) {
	row := s.db.QueryRow(`
		SELECT file_json, model_json, path, downloaded_at, compatibility, information
		FROM downloaded_files WHERE file_id = ?`, string(id))
	df, err := scanDownloaded(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.DownloadedFile{}, ErrNotFound
	}
	return df, err
}

// List returns every record. Order is not part of the contract.
func (s *Store) List() ([]types.DownloadedFile, error) {
	rows, err := s.db.Query(`
		SELECT file_json, model_json, path, downloaded_at, compatibility, information
		FROM downloaded_files`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.DownloadedFile
	for rows.Next() {
		df, err := scanDownloaded(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, df)
	}
	return out, rows.Err()
}

// Remove deletes the record for id. The artifact on disk is left alone.
func (s *Store) Remove(id types.FileID) error {
	res, err := s.db.Exec(`DELETE FROM downloaded_files WHERE file_id = ?`, string(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDownloaded(sc scanner) (types.DownloadedFile, error) {
	var df types.DownloadedFile
	var fileJSON, modelJSON, at, compat string
	if err := sc.Scan(&fileJSON, &modelJSON, &df.Path, &at, &compat, &df.Information); err != nil {
		return df, err
	}
	if err := json.Unmarshal([]byte(fileJSON), &df.File); err != nil {
		return df, fmt.Errorf("decoding file: %w", err)
	}
	if err := json.Unmarshal([]byte(modelJSON), &df.Model); err != nil {
		return df, fmt.Errorf("decoding model: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return df, fmt.Errorf("parsing downloaded_at: %w", err)
	}
	df.DownloadedAt = t
	df.CompatibilityGuess = types.CompatibilityGuess(compat)
	return df, nil
}
