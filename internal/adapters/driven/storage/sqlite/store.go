package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/sercha-local/internal/adapters/driven/storage"
	"github.com/custodia-labs/sercha-local/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-local/internal/logger"
	"github.com/custodia-labs/sercha-local/internal/textindex"
	"github.com/custodia-labs/sercha-local/internal/vector"
)

// Ensure Store implements the interface.
var _ driven.Storage = (*Store)(nil)

var log = logger.ForComponent(logger.CompStorage).With(slog.String("backend", "sqlite"))

// Store is the SQLite implementation of driven.Storage.
type Store struct {
	db   *sqlx.DB
	path string
}

// NewStore creates a new SQLite store at the specified data directory.
// If dataDir is empty, defaults to ~/.sercha/data/index.db.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".sercha", "data")
	}

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "index.db")

	// WAL for concurrent readers; immediate transactions so writers queue on
	// busy_timeout instead of failing when upgrading a read lock.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	// Run migrations
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// SchedulerStore returns a SchedulerStore interface backed by this store.
func (s *Store) SchedulerStore() driven.SchedulerStore {
	return &schedulerStore{store: s}
}

// migrate runs all pending migrations. A database already at a newer
// version than this build supports is rejected.
func (s *Store) migrate(fsys fs.FS) error {
	// Ensure schema_migrations table exists
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	currentVersion, err := s.SchemaVersion(context.Background())
	if err != nil {
		return err
	}
	if currentVersion > storage.SchemaVersion {
		return fmt.Errorf("%w: database version %d, supported %d",
			domain.ErrIncompatibleSchema, currentVersion, storage.SchemaVersion)
	}

	// Find all up migrations
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort and run migrations
	var upFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// Extract version number (e.g., "001_initial.up.sql" -> 1)
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue // Skip files that don't match pattern
		}

		if version <= currentVersion {
			continue // Already applied
		}

		// Read and execute migration
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %s: %w", name, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", name, err)
		}
		log.Info("migration_applied", slog.Int("version", version))
	}

	return nil
}

// SchemaVersion returns the newest applied migration.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.GetContext(ctx, &v, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations"); err != nil {
		return 0, fmt.Errorf("getting current version: %w", err)
	}
	return v, nil
}

// ==================== Documents ====================

const documentColumns = `id, path, title, content_hash, status, category, mime_type, size, mod_time,
	ocr_status, error_stage, error_message, tags, content, metadata, deleted_at, created_at, updated_at, indexed_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func documentArgs(doc *domain.Document) ([]any, error) {
	tags := doc.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("marshalling tags: %w", err)
	}
	metadata := doc.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshalling metadata: %w", err)
	}
	var errStage, errMsg any
	if doc.Error != nil {
		errStage, errMsg = string(doc.Error.Stage), doc.Error.Message
	}
	return []any{
		doc.ID, doc.Path, doc.Title, doc.ContentHash, string(doc.Status), string(doc.Category),
		doc.MIMEType, doc.Size, formatNullableTime(doc.ModTime), string(doc.OCRStatus),
		errStage, errMsg, string(tagsJSON), doc.Content, string(metadataJSON),
		formatTimePtr(doc.DeletedAt), formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt),
		formatTimePtr(doc.IndexedAt),
	}, nil
}

// CreateDocument inserts a new document.
func (s *Store) CreateDocument(ctx context.Context, doc *domain.Document) error {
	args, err := documentArgs(doc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if err != nil {
		if isConstraintError(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("creating document: %w", err)
	}
	return nil
}

// UpdateDocument replaces a document row.
func (s *Store) UpdateDocument(ctx context.Context, doc *domain.Document) error {
	return updateDocument(ctx, s.db, doc)
}

func updateDocument(ctx context.Context, db execer, doc *domain.Document) error {
	args, err := documentArgs(doc)
	if err != nil {
		return err
	}
	// id moves to the end for the WHERE clause.
	args = append(args[1:], args[0])
	res, err := db.ExecContext(ctx, `
		UPDATE documents SET
			path = ?, title = ?, content_hash = ?, status = ?, category = ?, mime_type = ?,
			size = ?, mod_time = ?, ocr_status = ?, error_stage = ?, error_message = ?,
			tags = ?, content = ?, metadata = ?, deleted_at = ?, created_at = ?,
			updated_at = ?, indexed_at = ?
		WHERE id = ?
	`, args...)
	if err != nil {
		if isConstraintError(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("updating document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating document: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// GetDocumentByPath retrieves a document by path.
func (s *Store) GetDocumentByPath(ctx context.Context, path string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE path = ?`, path)
	return scanDocument(row)
}

// QueryByFilters lists documents ordered by path.
func (s *Store) QueryByFilters(ctx context.Context, filter domain.DocumentFilter) ([]*domain.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE 1 = 1`
	var args []any
	if !filter.IncludeTombstoned {
		query += ` AND deleted_at IS NULL`
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		query += ` AND status IN (?)`
		args = append(args, statuses)
	}
	if filter.PathPrefix != "" {
		query += ` AND substr(path, 1, ?) = ?`
		args = append(args, len(filter.PathPrefix), filter.PathPrefix)
	}
	query += ` ORDER BY path`

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("building document query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		// Tags live in a JSON column; filter them here.
		if !storage.MatchDocument(doc, filter) {
			continue
		}
		docs = append(docs, doc)
		if filter.Limit > 0 && len(docs) == filter.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

// ==================== Chunks ====================

const chunkColumns = `c.id, c.document_id, c.position, c.content, c.start_offset, c.end_offset,
	c.section, c.heading, c.page, c.token_count, c.embedding`

// ReplaceChunks swaps a document's chunk set and writes the document row
// in one transaction.
func (s *Store) ReplaceChunks(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := updateDocument(ctx, tx, doc); err != nil {
		return err
	}
	if err := deleteChunks(ctx, tx, doc.ID); err != nil {
		return err
	}
	for i := range chunks {
		if err := insertChunk(ctx, tx, &chunks[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// CreateChunk inserts a single chunk.
func (s *Store) CreateChunk(ctx context.Context, chunk *domain.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents WHERE id = ?", chunk.DocumentID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking document: %w", err)
	}
	if exists == 0 {
		return domain.ErrNotFound
	}
	if err := insertChunk(ctx, tx, chunk); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func insertChunk(ctx context.Context, tx *sql.Tx, c *domain.Chunk) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO chunks (id, document_id, position, content, start_offset, end_offset,
			section, heading, page, token_count, embedding, dimensions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.DocumentID, c.Index, c.Content, c.StartOffset, c.EndOffset,
		c.Section, c.Heading, c.Page, c.TokenCount, embeddingBlob(c.Embedding), len(c.Embedding))
	if err != nil {
		if isConstraintError(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("saving chunk: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("saving chunk: %w", err)
	}
	tokens := strings.Join(textindex.Tokenize(c.Content), " ")
	if _, err := tx.ExecContext(ctx, "INSERT INTO chunks_fts (rowid, tokens) VALUES (?, ?)", rowID, tokens); err != nil {
		return fmt.Errorf("indexing chunk: %w", err)
	}
	return nil
}

// UpdateChunkEmbedding writes a chunk's vector once.
func (s *Store) UpdateChunkEmbedding(ctx context.Context, chunkID string, embedding []float32) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chunks SET embedding = ?, dimensions = ?
		WHERE id = ? AND embedding IS NULL
	`, embeddingBlob(embedding), len(embedding), chunkID)
	if err != nil {
		return fmt.Errorf("saving embedding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("saving embedding: %w", err)
	}
	if n == 1 {
		return nil
	}
	var exists int
	if err := s.db.GetContext(ctx, &exists, "SELECT COUNT(*) FROM chunks WHERE id = ?", chunkID); err != nil {
		return fmt.Errorf("checking chunk: %w", err)
	}
	if exists == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrAlreadyExists
}

// GetChunks returns a document's chunks in index order.
func (s *Store) GetChunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chunkColumns+` FROM chunks c WHERE c.document_id = ? ORDER BY c.position
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk //nolint:prealloc // size unknown from query
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *chunk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}

	return chunks, nil
}

// GetChunk retrieves a specific chunk by ID.
func (s *Store) GetChunk(ctx context.Context, id string) (*domain.Chunk, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chunkColumns+` FROM chunks c WHERE c.id = ?`, id)
	return scanChunk(row)
}

// DeleteChunks removes all chunks of a document.
func (s *Store) DeleteChunks(ctx context.Context, documentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := deleteChunks(ctx, tx, documentID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func deleteChunks(ctx context.Context, tx *sql.Tx, documentID string) error {
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM chunks_fts WHERE rowid IN (SELECT rowid FROM chunks WHERE document_id = ?)
	`, documentID); err != nil {
		return fmt.Errorf("deleting chunk index: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	return nil
}

// ==================== Helper Functions ====================

type scanner interface {
	Scan(dest ...any) error
}

// scanDocument scans a single document row.
func scanDocument(row scanner) (*domain.Document, error) {
	var doc domain.Document
	var status, category, ocrStatus, tagsJSON, metadataJSON, createdAt, updatedAt string
	var modTime, errStage, errMsg, deletedAt, indexedAt sql.NullString

	if err := row.Scan(&doc.ID, &doc.Path, &doc.Title, &doc.ContentHash, &status, &category,
		&doc.MIMEType, &doc.Size, &modTime, &ocrStatus, &errStage, &errMsg, &tagsJSON,
		&doc.Content, &metadataJSON, &deletedAt, &createdAt, &updatedAt, &indexedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}

	doc.Status = domain.DocumentStatus(status)
	doc.Category = domain.Category(category)
	doc.OCRStatus = domain.OCRStatus(ocrStatus)
	doc.ModTime = parseNullableTime(modTime)
	doc.CreatedAt = parseTime(createdAt)
	doc.UpdatedAt = parseTime(updatedAt)
	doc.DeletedAt = parseTimePtr(deletedAt)
	doc.IndexedAt = parseTimePtr(indexedAt)
	if errStage.Valid || errMsg.Valid {
		doc.Error = &domain.DocumentError{Stage: domain.Stage(errStage.String), Message: errMsg.String}
	}
	if err := json.Unmarshal([]byte(tagsJSON), &doc.Tags); err != nil {
		return nil, fmt.Errorf("unmarshaling tags: %w", err)
	}
	if len(doc.Tags) == 0 {
		doc.Tags = nil
	}
	if err := json.Unmarshal([]byte(metadataJSON), &doc.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshaling metadata: %w", err)
	}

	return &doc, nil
}

// scanChunk scans a single chunk row.
func scanChunk(row scanner, extra ...any) (*domain.Chunk, error) {
	var chunk domain.Chunk
	var blob []byte

	dest := []any{&chunk.ID, &chunk.DocumentID, &chunk.Index, &chunk.Content,
		&chunk.StartOffset, &chunk.EndOffset, &chunk.Section, &chunk.Heading,
		&chunk.Page, &chunk.TokenCount, &blob}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning chunk: %w", err)
	}

	if len(blob) > 0 {
		v, err := vector.Decode(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding of %s: %w", chunk.ID, err)
		}
		chunk.Embedding = v
	}
	return &chunk, nil
}

func embeddingBlob(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return vector.Encode(v)
}

// isConstraintError reports a unique or primary key violation.
func isConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}

// timeLayout is fixed width so stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// formatNullableTime stores the zero time as NULL.
func formatNullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func parseNullableTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	return parseTime(s.String)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
