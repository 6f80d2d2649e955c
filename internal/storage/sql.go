package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/hyperjump/vecindex/internal/models"
	"github.com/hyperjump/vecindex/internal/vector"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLStore implements Store over database/sql. Each document is two kinds of rows: one in
// vector_documents and one per record in vector_records. Every write is a single
// transaction that rewrites the document's rows.
type SQLStore struct {
	db       *sql.DB
	postgres bool

	// Serializes writers; SQLite allows one writer at a time anyway.
	mu sync.Mutex
}

// NewSQLiteStore opens or creates a SQLite database at dbPath. driver is "sqlite3"
// (github.com/mattn/go-sqlite3) or "sqlite" (modernc.org/sqlite).
// Parent directories are created if they do not exist.
func NewSQLiteStore(ctx context.Context, dbPath, driver string) (*SQLStore, error) {
	if driver == "" {
		driver = "sqlite3"
	}
	if driver != "sqlite3" && driver != "sqlite" {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open(driver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Pragmas are per connection; a single connection keeps them in force.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLStore{db: db}
	if err := s.migrate(ctx, "migrations/sqlite.sql"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// NewPostgresStore connects to PostgreSQL through pgx and creates the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &SQLStore{db: db, postgres: true}
	if err := s.migrate(ctx, "migrations/postgres.sql"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context, name string) error {
	data, err := migrations.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Load reads every document and record.
func (s *SQLStore) Load(ctx context.Context) (*models.Snapshot, error) {
	snap := models.NewSnapshot()
	byID := make(map[string]*models.DocumentSnapshot)

	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id, dimension, created_at_ns, updated_at_ns
		 FROM vector_documents ORDER BY document_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	for rows.Next() {
		var d models.DocumentSnapshot
		var created, updated int64
		if err := rows.Scan(&d.DocumentID, &d.Dimension, &created, &updated); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		d.CreatedAt = time.Unix(0, created).UTC()
		d.UpdatedAt = time.Unix(0, updated).UTC()
		snap.Documents = append(snap.Documents, &d)
		byID[d.DocumentID] = &d
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx,
		`SELECT embedding_id, document_id, chunk_id, seq, vector, metadata
		 FROM vector_records ORDER BY document_id, seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			r        models.RecordSnapshot
			docID    string
			seq      int64
			blob     []byte
			metadata sql.NullString
		)
		if err := rows.Scan(&r.EmbeddingID, &docID, &r.ChunkID, &seq, &blob, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		d, ok := byID[docID]
		if !ok {
			return nil, models.Errorf(models.ErrCorruptSnapshot, "record %q belongs to unknown document %q", r.EmbeddingID, docID)
		}
		if seq < 0 {
			return nil, models.Errorf(models.ErrCorruptSnapshot, "record %q has negative seq", r.EmbeddingID)
		}
		r.Seq = uint64(seq)
		if r.Vector, err = vector.DecodeVector(blob); err != nil {
			return nil, models.Errorf(models.ErrCorruptSnapshot, "record %q: %v", r.EmbeddingID, err)
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &r.Metadata); err != nil {
				return nil, models.Errorf(models.ErrCorruptSnapshot, "record %q metadata: %v", r.EmbeddingID, err)
			}
		}
		d.Records = append(d.Records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

// PutDocument replaces the rows of doc in one transaction.
func (s *SQLStore) PutDocument(ctx context.Context, doc *models.DocumentSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM vector_records WHERE document_id = ?`), doc.DocumentID); err != nil {
		return persistErr("delete records", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO vector_documents (document_id, dimension, created_at_ns, updated_at_ns)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (document_id) DO UPDATE SET
			dimension = excluded.dimension,
			created_at_ns = excluded.created_at_ns,
			updated_at_ns = excluded.updated_at_ns`),
		doc.DocumentID, doc.Dimension, doc.CreatedAt.UnixNano(), doc.UpdatedAt.UnixNano(),
	); err != nil {
		return persistErr("upsert document", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO vector_records (embedding_id, document_id, chunk_id, seq, vector, metadata)
		 VALUES (?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return persistErr("prepare insert", err)
	}
	defer stmt.Close()

	for _, r := range doc.Records {
		var metadata sql.NullString
		if len(r.Metadata) > 0 {
			data, err := json.Marshal(r.Metadata)
			if err != nil {
				return persistErr("marshal metadata", err)
			}
			metadata = sql.NullString{String: string(data), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, r.EmbeddingID, doc.DocumentID, r.ChunkID, int64(r.Seq),
			vector.EncodeVector(r.Vector), metadata); err != nil {
			return persistErr("insert record", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return persistErr("commit", err)
	}
	return nil
}

// DeleteDocument removes documentID and its records in one transaction.
func (s *SQLStore) DeleteDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM vector_records WHERE document_id = ?`), documentID); err != nil {
		return persistErr("delete records", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM vector_documents WHERE document_id = ?`), documentID); err != nil {
		return persistErr("delete document", err)
	}
	if err := tx.Commit(); err != nil {
		return persistErr("commit", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
