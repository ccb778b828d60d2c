package metastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO

	"github.com/ragpp/ragpp/internal/apperr"
)

// SQLiteBackend is the durable Backend implementation: one row per
// document, with user_metadata serialized as JSON to preserve both types
// and insertion order.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

var _ Backend = (*SQLiteBackend)(nil)

// NewSQLiteBackend opens (creating if necessary) a SQLite-backed metadata
// store at path. An empty path opens an in-memory database, useful for
// tests that want backend semantics without touching disk.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, apperr.SnapshotIO("failed to create metadata store directory", err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperr.SnapshotIO("failed to open metadata database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, apperr.SnapshotIO("failed to set metadata database pragma", err)
		}
	}

	b := &SQLiteBackend{db: db, path: path}
	if err := b.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS documents (
		doc_id           TEXT PRIMARY KEY,
		text             TEXT NOT NULL,
		user_metadata    TEXT NOT NULL,
		metadata_order   TEXT NOT NULL,
		content_length   INTEGER NOT NULL,
		indexed_at       INTEGER NOT NULL
	);`
	if _, err := b.db.Exec(schema); err != nil {
		return apperr.SnapshotIO("failed to initialize metadata schema", err)
	}
	return nil
}

// Put upserts doc into the documents table.
func (b *SQLiteBackend) Put(ctx context.Context, doc *Document) error {
	metaJSON, err := json.Marshal(doc.UserMetadata)
	if err != nil {
		return apperr.Internal("failed to marshal user metadata", err)
	}
	orderJSON, err := json.Marshal(doc.MetadataOrder)
	if err != nil {
		return apperr.Internal("failed to marshal metadata order", err)
	}

	const stmt = `
	INSERT INTO documents (doc_id, text, user_metadata, metadata_order, content_length, indexed_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(doc_id) DO UPDATE SET
		text = excluded.text,
		user_metadata = excluded.user_metadata,
		metadata_order = excluded.metadata_order,
		content_length = excluded.content_length,
		indexed_at = excluded.indexed_at;`

	_, err = b.db.ExecContext(ctx, stmt,
		doc.DocID, doc.Text, string(metaJSON), string(orderJSON),
		doc.SystemMetadata.ContentLength, doc.SystemMetadata.IndexedAt)
	if err != nil {
		return apperr.SnapshotIO(fmt.Sprintf("failed to upsert document %q", doc.DocID), err)
	}
	return nil
}

// Delete removes doc_id's row, if present.
func (b *SQLiteBackend) Delete(ctx context.Context, docID string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM documents WHERE doc_id = ?`, docID)
	if err != nil {
		return apperr.SnapshotIO(fmt.Sprintf("failed to delete document %q", docID), err)
	}
	return nil
}

// LoadAll reads every document row back into memory at startup.
func (b *SQLiteBackend) LoadAll(ctx context.Context) ([]*Document, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT doc_id, text, user_metadata, metadata_order, content_length, indexed_at FROM documents`)
	if err != nil {
		return nil, apperr.SnapshotIO("failed to query documents", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var (
			d             Document
			metaJSON      string
			orderJSON     string
		)
		if err := rows.Scan(&d.DocID, &d.Text, &metaJSON, &orderJSON,
			&d.SystemMetadata.ContentLength, &d.SystemMetadata.IndexedAt); err != nil {
			return nil, apperr.SnapshotIO("failed to scan document row", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &d.UserMetadata); err != nil {
			return nil, apperr.Internal("failed to unmarshal user metadata", err)
		}
		if err := json.Unmarshal([]byte(orderJSON), &d.MetadataOrder); err != nil {
			return nil, apperr.Internal("failed to unmarshal metadata order", err)
		}
		docs = append(docs, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.SnapshotIO("failed while iterating document rows", err)
	}
	return docs, nil
}

// Close closes the underlying database handle.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
