// Package ledger records which remote files have already been fully
// downloaded, per camera. An entry exists if and only if the file is
// durably written locally; the downloader appends only after the final
// rename, and nothing ever mutates an entry afterwards.
package ledger

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaFS embed.FS

// Entry is one completed download. Immutable once appended.
type Entry struct {
	CameraIdentity string
	RemoteName     string
	LocalPath      string
	ByteSize       int64
	DownloadedAt   time.Time
}

// Ledger is a SQLite-backed append-only store keyed by
// (camera_identity, remote_name).
type Ledger struct {
	db     *sql.DB
	logger *zap.Logger

	// mu linearizes appends. SQLite serialises writers anyway, but the
	// durability invariant is easier to reason about with one writer at
	// a time at this layer too.
	mu sync.Mutex
}

// Open opens (creating if necessary) the ledger database at path.
func Open(path string, logger *zap.Logger) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}

	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return nil, fmt.Errorf("read ledger schema: %w", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		db.Close()
		return nil, fmt.Errorf("execute ledger schema: %w", err)
	}

	return &Ledger{db: db, logger: logger}, nil
}

// Has reports whether a completed download is recorded for the given
// camera and remote file name.
func (l *Ledger) Has(cameraIdentity, remoteName string) (bool, error) {
	var exists bool
	err := l.db.QueryRow(
		"SELECT EXISTS(SELECT 1 FROM downloads WHERE camera_identity = ? AND remote_name = ?)",
		cameraIdentity, remoteName,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ledger lookup: %w", err)
	}
	return exists, nil
}

// Names returns the set of remote names already downloaded for a camera.
// The crawler takes this snapshot once at crawl start.
func (l *Ledger) Names(cameraIdentity string) (map[string]bool, error) {
	rows, err := l.db.Query(
		"SELECT remote_name FROM downloads WHERE camera_identity = ?",
		cameraIdentity,
	)
	if err != nil {
		return nil, fmt.Errorf("ledger snapshot: %w", err)
	}
	defer rows.Close()

	names := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("ledger snapshot scan: %w", err)
		}
		names[name] = true
	}
	return names, rows.Err()
}

// Append records a completed download. The caller must only invoke this
// after the file is fully written and renamed into its final location.
func (l *Ledger) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("ledger append begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT INTO downloads (camera_identity, remote_name, local_path, byte_size, downloaded_at) VALUES (?, ?, ?, ?, ?)",
		e.CameraIdentity, e.RemoteName, e.LocalPath, e.ByteSize, e.DownloadedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("ledger append: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger append commit: %w", err)
	}

	l.logger.Debug("ledger entry appended",
		zap.String("camera", e.CameraIdentity),
		zap.String("remote_name", e.RemoteName),
		zap.Int64("bytes", e.ByteSize))
	return nil
}

// Close releases the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
