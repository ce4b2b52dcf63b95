// Package sqlitevec implements a persistent VectorIndex on SQLite with the
// sqlite-vec extension.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/spetr/chatwizard/pkg/provider"
	"github.com/spetr/chatwizard/pkg/types"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

var (
	// Ensure sqlite-vec Auto() is called exactly once before any db connection
	vecAutoOnce sync.Once
)

// SchemaVersion is incremented when schema changes require re-ingestion.
const SchemaVersion = 1

// Store implements the VectorIndex interface using sqlite-vec.
type Store struct {
	// mu serializes writers; SQLite allows one writer and the dimension is
	// established on the first write.
	mu         sync.Mutex
	db         *sql.DB
	path       string
	dimensions int
}

// New creates a new sqlite-vec store. Call Init before use.
func New() *Store {
	return &Store{}
}

// Name returns the store name.
func (s *Store) Name() string {
	return "sqlitevec"
}

// Init opens or creates the database at path.
func (s *Store) Init(path string) error {
	s.path = path

	// Register sqlite-vec extension before opening any database connection.
	vecAutoOnce.Do(func() {
		sqlite_vec.Auto()
	})

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// WAL mode for concurrent reads, busy_timeout to wait for locks instead of failing immediately
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	s.db = db

	if _, err := db.Exec("SELECT vec_version()"); err != nil {
		db.Close()
		return fmt.Errorf("sqlite-vec extension not available: %w", err)
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return fmt.Errorf("failed to create schema: %w", err)
	}

	dims, err := s.loadDimensions()
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to read dimensions: %w", err)
	}
	if dims > 0 {
		if err := s.createVectorTable(s.db, dims); err != nil {
			db.Close()
			return err
		}
		s.dimensions = dims
	}

	return nil
}

// createSchema creates the document and metadata tables. The vector table
// is created once the first batch fixes the dimension.
func (s *Store) createSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			seq INTEGER NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_seq ON documents(seq)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}

	_, err := s.db.Exec(`INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', ?)`,
		strconv.Itoa(SchemaVersion))
	return err
}

func (s *Store) loadDimensions() (int, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = 'dimensions'`).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(value)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// createVectorTable creates the vec0 table with the specified dimensions.
func (s *Store) createVectorTable(db execer, dimensions int) error {
	_, err := db.Exec(fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS document_embeddings USING vec0(
			document_id TEXT PRIMARY KEY,
			embedding float[%d]
		)
	`, dimensions))
	if err != nil {
		return fmt.Errorf("failed to create vector table: %w", err)
	}
	return nil
}

// Close releases resources and closes connections.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// AddDocuments inserts or overwrites documents in a single transaction.
func (s *Store) AddDocuments(ctx context.Context, docs []*types.Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dims, err := provider.ValidateBatch(docs, s.dimensions)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if s.dimensions == 0 {
		if err := s.createVectorTable(tx, dims); err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT OR REPLACE INTO metadata (key, value) VALUES ('dimensions', ?)`, strconv.Itoa(dims)); err != nil {
			return err
		}
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM documents`).Scan(&seq); err != nil {
		return err
	}

	docStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO documents (id, seq, content, metadata)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer docStmt.Close()

	// vec0 tables do not support upserts
	delStmt, err := tx.PrepareContext(ctx, `DELETE FROM document_embeddings WHERE document_id = ?`)
	if err != nil {
		return err
	}
	defer delStmt.Close()

	embStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO document_embeddings (document_id, embedding)
		VALUES (?, ?)
	`)
	if err != nil {
		return err
	}
	defer embStmt.Close()

	for _, d := range docs {
		seq++

		var meta sql.NullString
		if len(d.Metadata) > 0 {
			data, err := json.Marshal(d.Metadata)
			if err != nil {
				return fmt.Errorf("failed to encode metadata for %s: %w", d.ID, err)
			}
			meta = sql.NullString{String: string(data), Valid: true}
		}

		if _, err := docStmt.ExecContext(ctx, d.ID, seq, d.Content, meta); err != nil {
			return fmt.Errorf("failed to store document %s: %w", d.ID, err)
		}
		if _, err := delStmt.ExecContext(ctx, d.ID); err != nil {
			return fmt.Errorf("failed to replace embedding for %s: %w", d.ID, err)
		}
		if _, err := embStmt.ExecContext(ctx, d.ID, floatsToBytes(d.Embedding)); err != nil {
			return fmt.Errorf("failed to store embedding for %s: %w", d.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.dimensions = dims
	return nil
}

// FindSimilar returns the nearest documents by cosine distance.
// Equal distances are ordered by insertion sequence.
func (s *Store) FindSimilar(ctx context.Context, query []float32, limit int) ([]*types.ScoredDocument, error) {
	if limit <= 0 {
		return []*types.ScoredDocument{}, nil
	}

	s.mu.Lock()
	dims := s.dimensions
	s.mu.Unlock()

	if dims == 0 {
		return []*types.ScoredDocument{}, nil
	}
	if len(query) != dims {
		return nil, &types.DimensionMismatchError{Expected: dims, Got: len(query)}
	}
	if provider.Norm(query) == 0 {
		return []*types.ScoredDocument{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			d.id, d.content, d.metadata, e.embedding,
			vec_distance_cosine(e.embedding, ?) AS distance
		FROM document_embeddings e
		JOIN documents d ON e.document_id = d.id
		ORDER BY distance ASC, d.seq ASC
		LIMIT ?
	`, floatsToBytes(query), limit)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	results := []*types.ScoredDocument{}
	for rows.Next() {
		var (
			doc      types.Document
			meta     sql.NullString
			emb      []byte
			distance float64
		)
		if err := rows.Scan(&doc.ID, &doc.Content, &meta, &emb, &distance); err != nil {
			return nil, err
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &doc.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata for %s: %w", doc.ID, err)
			}
		}
		doc.Embedding = bytesToFloats(emb)

		results = append(results, &types.ScoredDocument{
			Document: &doc,
			Score:    float32(1 - distance),
		})
	}
	return results, rows.Err()
}

// DeleteDocument removes a document by ID.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.deleteIDs(ctx, []string{id})
	return err
}

// DeleteByMetadata removes documents whose metadata[key] equals value.
func (s *Store) DeleteByMetadata(ctx context.Context, key, value string) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, json_extract(metadata, ?) FROM documents WHERE metadata IS NOT NULL`,
		jsonPath(key))
	if err != nil {
		return 0, err
	}

	var ids []string
	for rows.Next() {
		var id string
		var v any
		if err := rows.Scan(&id, &v); err != nil {
			rows.Close()
			return 0, err
		}
		if v != nil && formatValue(v) == value {
			ids = append(ids, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	return s.deleteIDs(ctx, ids)
}

func (s *Store) deleteIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	removed := 0
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
		if err != nil {
			return 0, fmt.Errorf("failed to delete document %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			removed++
		}
		if s.dimensions > 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM document_embeddings WHERE document_id = ?`, id); err != nil {
				return 0, fmt.Errorf("failed to delete embedding %s: %w", id, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return removed, nil
}

// Count returns the number of stored documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

// Dimensions returns the embedding dimension persisted for this database.
func (s *Store) Dimensions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dimensions
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// jsonPath builds a JSON path selecting a top-level key.
func jsonPath(key string) string {
	return `$."` + strings.ReplaceAll(key, `"`, `\"`) + `"`
}

// formatValue renders a json_extract result the way fmt.Sprint renders the
// original Go value, so string and numeric metadata compare alike.
func formatValue(v any) string {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprint(x)
	}
}

// floatsToBytes encodes float32 values as little-endian bytes for sqlite-vec.
func floatsToBytes(floats []float32) []byte {
	bytes := make([]byte, len(floats)*4)
	for i, f := range floats {
		bits := math.Float32bits(f)
		bytes[i*4] = byte(bits)
		bytes[i*4+1] = byte(bits >> 8)
		bytes[i*4+2] = byte(bits >> 16)
		bytes[i*4+3] = byte(bits >> 24)
	}
	return bytes
}

func bytesToFloats(b []byte) []float32 {
	floats := make([]float32, len(b)/4)
	for i := range floats {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		floats[i] = math.Float32frombits(bits)
	}
	return floats
}

// Ensure Store implements VectorIndex interface
var _ provider.VectorIndex = (*Store)(nil)
