package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Document represents a row in the documents table.
type Document struct {
	ID               int64  `json:"id"`
	StoredFilename   string `json:"stored_filename"`
	OriginalFilename string `json:"original_filename"`
	FilePath         string `json:"file_path"`
	FileSize         int64  `json:"file_size"`
	FileType         string `json:"file_type"`
	Title            string `json:"title"`
	Description      string `json:"description,omitempty"`
	ProcessingStatus string `json:"processing_status"`
	ChunksCount      *int   `json:"chunks_count,omitempty"`
	ErrorMessage     string `json:"error_message,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
	ProcessedAt      string `json:"processed_at,omitempty"`
}

// Document processing-status values.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Chunk represents a row in the chunks table.
type Chunk struct {
	ID            int64  `json:"id"`
	DocumentID    int64  `json:"document_id"`
	ChunkIndex    int    `json:"chunk_index"`
	Content       string `json:"content"`
	ContentLength int    `json:"content_length"`
	CreatedAt     string `json:"created_at"`
}

// ChunkInput is a chunk awaiting insertion: its position, text and vector
// (possibly nil, in which case no vec_chunks row is written for it).
type ChunkInput struct {
	Index     int
	Content   string
	Embedding []float32
}

// QueryLogEntry is a row written to the audit log by the query coordinator.
type QueryLogEntry struct {
	Question    string
	Answer      string
	OK          bool
	Sources     interface{}
	SearchTypes []string
	TokensUsed  int
	ElapsedMS   int64
	UserID      *int64
}

// RetrievalResult holds a chunk with its retrieval score, document metadata,
// and the search method that produced it.
type RetrievalResult struct {
	ChunkID       int64   `json:"chunk_id"`
	DocumentID    int64   `json:"document_id"`
	ChunkIndex    int     `json:"chunk_index"`
	Content       string  `json:"content"`
	DocumentTitle string  `json:"document_title"`
	Score         float64 `json:"score"`
	SearchType    string  `json:"search_type"`
}

// Store wraps the SQLite database for all hrqa persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec and FTS5 virtual tables.
func New(dbPath string, embeddingDim int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Document operations ---

// CreateDocument persists a new document row with status pending and
// returns its id.
func (s *Store) CreateDocument(ctx context.Context, doc Document) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (stored_filename, original_filename, file_path, file_size, file_type, title, description, processing_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.StoredFilename, doc.OriginalFilename, doc.FilePath, doc.FileSize, doc.FileType, doc.Title, doc.Description, StatusPending)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SetStatus updates a document's processing status and error message,
// bumping updated_at and — for terminal states — processed_at. When
// fromStatuses is non-empty the update only applies if the current status
// is one of them, realizing the compare-and-set transition into processing
// that the ingestion pipeline relies on for mutual exclusion. Returns whether
// a row changed.
func (s *Store) SetStatus(ctx context.Context, id int64, status, errMsg string, fromStatuses ...string) (bool, error) {
	terminal := status == StatusCompleted || status == StatusFailed

	var b strings.Builder
	b.WriteString("UPDATE documents SET processing_status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP")
	if terminal {
		b.WriteString(", processed_at = CURRENT_TIMESTAMP")
	}
	b.WriteString(" WHERE id = ?")

	args := []interface{}{status, nullIfEmpty(errMsg), id}

	if len(fromStatuses) > 0 {
		b.WriteString(" AND processing_status IN (?")
		args = append(args, fromStatuses[0])
		for _, st := range fromStatuses[1:] {
			b.WriteString(", ?")
			args = append(args, st)
		}
		b.WriteString(")")
	}

	res, err := s.db.ExecContext(ctx, b.String(), args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetChunksCount records the final chunk count for a completed document.
func (s *Store) SetChunksCount(ctx context.Context, id int64, count int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE documents SET chunks_count = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		count, id)
	return err
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	return s.scanDocument(s.db.QueryRowContext(ctx, documentSelect+" WHERE id = ?", id))
}

// ListDocuments returns all documents ordered by creation time, optionally
// filtered to a single processing status.
func (s *Store) ListDocuments(ctx context.Context, status string) ([]Document, error) {
	query := documentSelect
	var args []interface{}
	if status != "" {
		query += " WHERE processing_status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocumentRow(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document and cascades to its chunks, embeddings,
// and the file on disk.
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	var filePath string
	if err := s.db.QueryRowContext(ctx, "SELECT file_path FROM documents WHERE id = ?", id).Scan(&filePath); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM vec_chunks WHERE chunk_id IN (
				SELECT id FROM chunks WHERE document_id = ?
			)`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	if filePath != "" {
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing file %s: %w", filePath, err)
		}
	}
	return nil
}

// DeleteChunks removes every chunk (and embedding) belonging to a document,
// returning the count removed. Used at the start of ingestion so re-runs
// start from a clean slate.
func (s *Store) DeleteChunks(ctx context.Context, documentID int64) (int, error) {
	var count int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks WHERE document_id = ?", documentID).Scan(&count); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM vec_chunks WHERE chunk_id IN (
				SELECT id FROM chunks WHERE document_id = ?
			)`, documentID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID)
		return err
	})
	return count, err
}

// InsertChunks atomically inserts a batch of chunks (and their embeddings,
// where present) in index order and returns their new IDs.
func (s *Store) InsertChunks(ctx context.Context, documentID int64, chunks []ChunkInput) ([]int64, error) {
	ids := make([]int64, len(chunks))

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (document_id, chunk_index, content, content_length)
			VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		embStmt, err := tx.PrepareContext(ctx,
			"INSERT INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)")
		if err != nil {
			return err
		}
		defer embStmt.Close()

		for i, c := range chunks {
			res, err := stmt.ExecContext(ctx, documentID, c.Index, c.Content, len([]rune(c.Content)))
			if err != nil {
				return err
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			ids[i] = id

			if c.Embedding != nil {
				if _, err := embStmt.ExecContext(ctx, id, serializeFloat32(c.Embedding)); err != nil {
					return err
				}
			}
		}
		return nil
	})

	return ids, err
}

// GetChunksByDocument returns all chunks for a document in index order.
func (s *Store) GetChunksByDocument(ctx context.Context, documentID int64) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, chunk_index, content, content_length, created_at
		FROM chunks WHERE document_id = ? ORDER BY chunk_index
	`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &c.ContentLength, &c.CreatedAt); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// --- Retrieval operations ---

// SearchVector runs a cosine-distance KNN search via sqlite-vec, restricted
// to chunks of completed documents whose content exceeds 100 characters,
// and returns matches at or above minSim sorted by similarity descending.
func (s *Store) SearchVector(ctx context.Context, queryEmbedding []float32, k int, minSim float64) ([]RetrievalResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.chunk_id, v.distance, c.document_id, c.chunk_index, c.content, d.title
		FROM vec_chunks v
		JOIN chunks c ON c.id = v.chunk_id
		JOIN documents d ON d.id = c.document_id
		WHERE v.embedding MATCH ? AND k = ?
			AND d.processing_status = 'completed'
			AND c.content_length > 100
		ORDER BY v.distance
	`, serializeFloat32(queryEmbedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RetrievalResult
	for rows.Next() {
		var r RetrievalResult
		var distance float64
		if err := rows.Scan(&r.ChunkID, &distance, &r.DocumentID, &r.ChunkIndex, &r.Content, &r.DocumentTitle); err != nil {
			return nil, err
		}
		r.Score = 1.0 - distance
		r.SearchType = "vector"
		if r.Score >= minSim {
			results = append(results, r)
		}
	}
	return results, rows.Err()
}

// SearchText performs a case-insensitive OR-match across keywords against
// the FTS5 index, assigning every hit the constant textual-fallback score
// of 0.7.
func (s *Store) SearchText(ctx context.Context, keywords []string, k int) ([]RetrievalResult, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	match := strings.Join(keywords, " OR ")

	rows, err := s.db.QueryContext(ctx, `
		SELECT f.rowid, c.document_id, c.chunk_index, c.content, d.title
		FROM chunks_fts f
		JOIN chunks c ON c.id = f.rowid
		JOIN documents d ON d.id = c.document_id
		WHERE chunks_fts MATCH ? AND d.processing_status = 'completed'
		ORDER BY f.rank
		LIMIT ?
	`, match, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RetrievalResult
	for rows.Next() {
		var r RetrievalResult
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.ChunkIndex, &r.Content, &r.DocumentTitle); err != nil {
			return nil, err
		}
		r.Score = 0.7
		r.SearchType = "text"
		results = append(results, r)
	}
	return results, rows.Err()
}

// SearchSubstring is the naive last-resort fallback: a substring OR-match
// over whole-word tokens, each hit scored 0.5. Matching lowercases both
// sides, but SQLite's LOWER folds ASCII letters only, so capitalised
// Cyrillic text in a chunk does not match a lowercase token.
func (s *Store) SearchSubstring(ctx context.Context, tokens []string, k int) ([]RetrievalResult, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	conditions := make([]string, len(tokens))
	args := make([]interface{}, 0, len(tokens)+1)
	for i, t := range tokens {
		conditions[i] = "LOWER(c.content) LIKE ?"
		args = append(args, "%"+strings.ToLower(t)+"%")
	}
	args = append(args, k)

	query := `
		SELECT c.id, c.document_id, c.chunk_index, c.content, d.title
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.processing_status = 'completed' AND (` + strings.Join(conditions, " OR ") + `)
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RetrievalResult
	for rows.Next() {
		var r RetrievalResult
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.ChunkIndex, &r.Content, &r.DocumentTitle); err != nil {
			return nil, err
		}
		r.Score = 0.5
		r.SearchType = "fallback"
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Query log ---

// LogQuery writes an audit-log entry for one ask() call.
func (s *Store) LogQuery(ctx context.Context, e QueryLogEntry) error {
	sourcesJSON, _ := json.Marshal(e.Sources)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_log (question, answer, ok, sources, search_types, tokens_used, elapsed_ms, user_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Question, e.Answer, boolToInt(e.OK), string(sourcesJSON), strings.Join(e.SearchTypes, ","), e.TokensUsed, e.ElapsedMS, e.UserID)
	return err
}

// --- helpers ---

const documentSelect = `SELECT id, stored_filename, original_filename, file_path, file_size, file_type,
	title, description, processing_status, chunks_count, error_message, created_at, updated_at, processed_at
	FROM documents`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanDocument(row *sql.Row) (*Document, error) {
	return scanDocumentRow(row)
}

func scanDocumentRow(row rowScanner) (*Document, error) {
	var d Document
	var description, errMsg, processedAt sql.NullString
	var chunksCount sql.NullInt64
	if err := row.Scan(&d.ID, &d.StoredFilename, &d.OriginalFilename, &d.FilePath, &d.FileSize, &d.FileType,
		&d.Title, &description, &d.ProcessingStatus, &chunksCount, &errMsg, &d.CreatedAt, &d.UpdatedAt, &processedAt); err != nil {
		return nil, err
	}
	d.Description = description.String
	d.ErrorMessage = errMsg.String
	d.ProcessedAt = processedAt.String
	if chunksCount.Valid {
		n := int(chunksCount.Int64)
		d.ChunksCount = &n
	}
	return &d, nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
