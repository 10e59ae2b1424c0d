// Package docstore persists per-document layout records, the raw material
// for sentence indexes. Postgres is the primary backend; sqlite3 serves
// single-node runs.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/openclass-ai/citestream/internal/config"
	"github.com/openclass-ai/citestream/internal/metrics"
	"github.com/openclass-ai/citestream/internal/sentences"
)

// ErrNotFound reports that no layout is stored for the document.
var ErrNotFound = errors.New("docstore: document not found")

// Store reads and writes document layouts.
type Store struct {
	db     *sqlx.DB
	driver string
	logger *zap.Logger
}

// Open connects to the configured database and ensures the schema exists.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db, driver: cfg.Driver, logger: logger}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing connection; used by tests.
func NewWithDB(db *sqlx.DB, driver string, logger *zap.Logger) *Store {
	return &Store{db: db, driver: driver, logger: logger}
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies connectivity; health checks call this.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) ensureSchema(ctx context.Context) error {
	layoutType := "JSONB"
	if s.driver == "sqlite3" {
		layoutType = "TEXT"
	}
	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS document_layouts (
	doc_id     TEXT PRIMARY KEY,
	layout     %s NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`, layoutType)
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// SaveLayout upserts a document's layout records.
func (s *Store) SaveLayout(ctx context.Context, docID uuid.UUID, records []sentences.LayoutRecord) error {
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode layout: %w", err)
	}
	q := s.db.Rebind(`
INSERT INTO document_layouts (doc_id, layout, updated_at) VALUES (?, ?, ?)
ON CONFLICT (doc_id) DO UPDATE SET layout = EXCLUDED.layout, updated_at = EXCLUDED.updated_at`)
	if _, err := s.db.ExecContext(ctx, q, docID.String(), string(payload), time.Now().UTC()); err != nil {
		metrics.RecordDocstoreQuery("save", "error")
		return fmt.Errorf("save layout %s: %w", docID, err)
	}
	metrics.RecordDocstoreQuery("save", "ok")
	s.logger.Debug("layout saved",
		zap.String("doc_id", docID.String()), zap.Int("records", len(records)))
	return nil
}

// LoadLayout returns a document's layout records, or ErrNotFound.
func (s *Store) LoadLayout(ctx context.Context, docID uuid.UUID) ([]sentences.LayoutRecord, error) {
	var payload string
	q := s.db.Rebind(`SELECT layout FROM document_layouts WHERE doc_id = ?`)
	err := s.db.GetContext(ctx, &payload, q, docID.String())
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordDocstoreQuery("load", "miss")
		return nil, ErrNotFound
	}
	if err != nil {
		metrics.RecordDocstoreQuery("load", "error")
		return nil, fmt.Errorf("load layout %s: %w", docID, err)
	}
	var records []sentences.LayoutRecord
	if err := json.Unmarshal([]byte(payload), &records); err != nil {
		metrics.RecordDocstoreQuery("load", "error")
		return nil, fmt.Errorf("decode layout %s: %w", docID, err)
	}
	metrics.RecordDocstoreQuery("load", "ok")
	return records, nil
}

// DeleteLayout removes a document's layout. Deleting an absent document is
// not an error.
func (s *Store) DeleteLayout(ctx context.Context, docID uuid.UUID) error {
	q := s.db.Rebind(`DELETE FROM document_layouts WHERE doc_id = ?`)
	if _, err := s.db.ExecContext(ctx, q, docID.String()); err != nil {
		metrics.RecordDocstoreQuery("delete", "error")
		return fmt.Errorf("delete layout %s: %w", docID, err)
	}
	metrics.RecordDocstoreQuery("delete", "ok")
	return nil
}
