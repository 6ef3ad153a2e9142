package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"pdfsplitbot/internal/models"
)

// Open connects to the SQLite audit database at the provided path.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path must be provided")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS download_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			token TEXT NOT NULL,
			file_name TEXT NOT NULL,
			event TEXT NOT NULL,
			client_ip TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_download_audit_token ON download_audit(token)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Audit records token issuance and fetch events. Best effort only;
// callers must never let an audit failure block serving a file.
type Audit struct {
	db *sql.DB
}

// NewAudit wraps an opened database. A nil db disables recording.
func NewAudit(db *sql.DB) *Audit {
	return &Audit{db: db}
}

// Record inserts one audit row.
func (a *Audit) Record(ctx context.Context, tok, fileName, event, clientIP string) error {
	if a == nil || a.db == nil {
		return nil
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO download_audit (token, file_name, event, client_ip, created_at) VALUES (?, ?, ?, ?, ?)`,
		tok, fileName, event, clientIP, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	return nil
}

// RecordsForToken lists audit rows for a token, newest first.
func (a *Audit) RecordsForToken(ctx context.Context, tok string) ([]models.DownloadRecord, error) {
	if a == nil || a.db == nil {
		return nil, nil
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, token, file_name, event, client_ip, created_at
		 FROM download_audit WHERE token = ? ORDER BY id DESC`, tok)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var records []models.DownloadRecord
	for rows.Next() {
		var r models.DownloadRecord
		if err := rows.Scan(&r.ID, &r.Token, &r.FileName, &r.Event, &r.ClientIP, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
