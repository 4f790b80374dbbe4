package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/didi/gendry/builder"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/custodia-labs/sercha-local/internal/adapters/driven/storage"
	"github.com/custodia-labs/sercha-local/internal/adapters/driven/storage/postgres/migrations"
	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-local/internal/logger"
	"github.com/custodia-labs/sercha-local/internal/textindex"
)

// Ensure Store implements the interface.
var _ driven.Storage = (*Store)(nil)

var log = logger.ForComponent(logger.CompStorage).With(slog.String("backend", "postgres"))

// Store is the PostgreSQL implementation of driven.Storage.
type Store struct {
	db *sqlx.DB
}

// NewStore connects to dsn and applies pending migrations.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: postgres dsn is empty", domain.ErrInvalidConfiguration)
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// SchedulerStore returns a SchedulerStore backed by this database.
func (s *Store) SchedulerStore() driven.SchedulerStore {
	return &schedulerStore{db: s.db}
}

func (s *Store) migrate(ctx context.Context, fsys fs.FS) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if current > storage.SchemaVersion {
		return fmt.Errorf("%w: database version %d, supported %d",
			domain.ErrIncompatibleSchema, current, storage.SchemaVersion)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil || version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
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

const (
	documentsTable = "documents"
	chunksTable    = "chunks"
	queueTable     = "queue"
)

var documentFields = []string{
	"id", "path", "title", "content_hash", "status", "category", "mime_type", "size",
	"mod_time", "ocr_status", "error_stage", "error_message", "tags", "content",
	"metadata", "deleted_at", "created_at", "updated_at", "indexed_at",
}

type documentRow struct {
	ID           string         `db:"id"`
	Path         string         `db:"path"`
	Title        string         `db:"title"`
	ContentHash  string         `db:"content_hash"`
	Status       string         `db:"status"`
	Category     string         `db:"category"`
	MIMEType     string         `db:"mime_type"`
	Size         int64          `db:"size"`
	ModTime      sql.NullTime   `db:"mod_time"`
	OCRStatus    string         `db:"ocr_status"`
	ErrorStage   sql.NullString `db:"error_stage"`
	ErrorMessage sql.NullString `db:"error_message"`
	Tags         []byte         `db:"tags"`
	Content      string         `db:"content"`
	Metadata     []byte         `db:"metadata"`
	DeletedAt    sql.NullTime   `db:"deleted_at"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	IndexedAt    sql.NullTime   `db:"indexed_at"`
}

func (r *documentRow) toDomain() (*domain.Document, error) {
	doc := &domain.Document{
		ID:          r.ID,
		Path:        r.Path,
		Title:       r.Title,
		ContentHash: r.ContentHash,
		Status:      domain.DocumentStatus(r.Status),
		Category:    domain.Category(r.Category),
		MIMEType:    r.MIMEType,
		Size:        r.Size,
		ModTime:     nullTime(r.ModTime),
		OCRStatus:   domain.OCRStatus(r.OCRStatus),
		Content:     r.Content,
		DeletedAt:   nullTimePtr(r.DeletedAt),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
		IndexedAt:   nullTimePtr(r.IndexedAt),
	}
	if r.ErrorStage.Valid || r.ErrorMessage.Valid {
		doc.Error = &domain.DocumentError{Stage: domain.Stage(r.ErrorStage.String), Message: r.ErrorMessage.String}
	}
	if err := json.Unmarshal(r.Tags, &doc.Tags); err != nil {
		return nil, fmt.Errorf("unmarshaling tags: %w", err)
	}
	if len(doc.Tags) == 0 {
		doc.Tags = nil
	}
	if err := json.Unmarshal(r.Metadata, &doc.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshaling metadata: %w", err)
	}
	return doc, nil
}

// documentData maps a document onto columns for gendry.
func documentData(doc *domain.Document) (map[string]any, error) {
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
	data := map[string]any{
		"id":            doc.ID,
		"path":          doc.Path,
		"title":         doc.Title,
		"content_hash":  doc.ContentHash,
		"status":        string(doc.Status),
		"category":      string(doc.Category),
		"mime_type":     doc.MIMEType,
		"size":          doc.Size,
		"mod_time":      timeOrNil(doc.ModTime),
		"ocr_status":    string(doc.OCRStatus),
		"error_stage":   nil,
		"error_message": nil,
		"tags":          string(tagsJSON),
		"content":       doc.Content,
		"metadata":      string(metadataJSON),
		"deleted_at":    timePtrOrNil(doc.DeletedAt),
		"created_at":    doc.CreatedAt.UTC(),
		"updated_at":    doc.UpdatedAt.UTC(),
		"indexed_at":    timePtrOrNil(doc.IndexedAt),
	}
	if doc.Error != nil {
		data["error_stage"] = string(doc.Error.Stage)
		data["error_message"] = doc.Error.Message
	}
	return data, nil
}

// CreateDocument inserts a new document.
func (s *Store) CreateDocument(ctx context.Context, doc *domain.Document) error {
	data, err := documentData(doc)
	if err != nil {
		return err
	}
	query, args, err := builder.BuildInsert(documentsTable, []map[string]any{data})
	if err != nil {
		return fmt.Errorf("building insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, rebind(s.db, query), args...); err != nil {
		if isConflict(err) {
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

func updateDocument(ctx context.Context, db sqlx.ExtContext, doc *domain.Document) error {
	data, err := documentData(doc)
	if err != nil {
		return err
	}
	delete(data, "id")
	query, args, err := builder.BuildUpdate(documentsTable, map[string]any{"id": doc.ID}, data)
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}
	res, err := db.ExecContext(ctx, rebind(db, query), args...)
	if err != nil {
		if isConflict(err) {
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
	return s.getDocument(ctx, map[string]any{"id": id})
}

// GetDocumentByPath retrieves a document by path.
func (s *Store) GetDocumentByPath(ctx context.Context, path string) (*domain.Document, error) {
	return s.getDocument(ctx, map[string]any{"path": path})
}

func (s *Store) getDocument(ctx context.Context, where map[string]any) (*domain.Document, error) {
	query, args, err := builder.BuildSelect(documentsTable, where, documentFields)
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}
	var row documentRow
	if err := s.db.GetContext(ctx, &row, rebind(s.db, query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting document: %w", err)
	}
	return row.toDomain()
}

// QueryByFilters lists documents ordered by path.
func (s *Store) QueryByFilters(ctx context.Context, filter domain.DocumentFilter) ([]*domain.Document, error) {
	where := map[string]any{"_orderby": "path"}
	if !filter.IncludeTombstoned {
		where["deleted_at"] = builder.IsNull
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]any, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		where["status in"] = statuses
	}
	if filter.PathPrefix != "" {
		where["path like"] = escapeLike(filter.PathPrefix) + "%"
	}
	query, args, err := builder.BuildSelect(documentsTable, where, documentFields)
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}
	var rows []documentRow
	if err := s.db.SelectContext(ctx, &rows, rebind(s.db, query), args...); err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}

	var docs []*domain.Document
	for i := range rows {
		doc, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		// Tags are JSON; filter them here.
		if !storage.MatchDocument(doc, filter) {
			continue
		}
		docs = append(docs, doc)
		if filter.Limit > 0 && len(docs) == filter.Limit {
			break
		}
	}
	return docs, nil
}

// ==================== Chunks ====================

const chunkColumns = `c.id, c.document_id, c.position, c.content, c.start_offset, c.end_offset,
	c.section, c.heading, c.page, c.token_count, c.embedding`

type chunkRow struct {
	ID          string           `db:"id"`
	DocumentID  string           `db:"document_id"`
	Position    int              `db:"position"`
	Content     string           `db:"content"`
	StartOffset int              `db:"start_offset"`
	EndOffset   int              `db:"end_offset"`
	Section     string           `db:"section"`
	Heading     string           `db:"heading"`
	Page        int              `db:"page"`
	TokenCount  int              `db:"token_count"`
	Embedding   *pgvector.Vector `db:"embedding"`
}

func (r *chunkRow) toDomain() domain.Chunk {
	c := domain.Chunk{
		ID:          r.ID,
		DocumentID:  r.DocumentID,
		Index:       r.Position,
		Content:     r.Content,
		StartOffset: r.StartOffset,
		EndOffset:   r.EndOffset,
		Section:     r.Section,
		Heading:     r.Heading,
		Page:        r.Page,
		TokenCount:  r.TokenCount,
	}
	if r.Embedding != nil {
		c.Embedding = r.Embedding.Slice()
	}
	return c
}

// ReplaceChunks swaps a document's chunk set and writes the document row
// in one transaction.
func (s *Store) ReplaceChunks(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := updateDocument(ctx, tx, doc); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = $1", doc.ID); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
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
	return insertChunk(ctx, s.db, chunk)
}

func insertChunk(ctx context.Context, db sqlx.ExecerContext, c *domain.Chunk) error {
	tokens := strings.Join(textindex.Tokenize(c.Content), " ")
	_, err := db.ExecContext(ctx, `
		INSERT INTO chunks (id, document_id, position, content, start_offset, end_offset,
			section, heading, page, token_count, tokens, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, to_tsvector('simple', $11), $12)
	`, c.ID, c.DocumentID, c.Index, c.Content, c.StartOffset, c.EndOffset,
		c.Section, c.Heading, c.Page, c.TokenCount, tokens, vectorOrNil(c.Embedding))
	switch {
	case err == nil:
		return nil
	case isConflict(err):
		return domain.ErrAlreadyExists
	case isForeignKeyViolation(err):
		return domain.ErrNotFound
	default:
		return fmt.Errorf("saving chunk: %w", err)
	}
}

// UpdateChunkEmbedding writes a chunk's vector once.
func (s *Store) UpdateChunkEmbedding(ctx context.Context, chunkID string, embedding []float32) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE chunks SET embedding = $1 WHERE id = $2 AND embedding IS NULL",
		vectorOrNil(embedding), chunkID)
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
	var exists bool
	if err := s.db.GetContext(ctx, &exists, "SELECT EXISTS (SELECT 1 FROM chunks WHERE id = $1)", chunkID); err != nil {
		return fmt.Errorf("checking chunk: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrAlreadyExists
}

// GetChunks returns a document's chunks in index order.
func (s *Store) GetChunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	var rows []chunkRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT `+chunkColumns+` FROM chunks c WHERE c.document_id = $1 ORDER BY c.position`,
		documentID); err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	chunks := make([]domain.Chunk, len(rows))
	for i := range rows {
		chunks[i] = rows[i].toDomain()
	}
	return chunks, nil
}

// GetChunk retrieves a specific chunk by ID.
func (s *Store) GetChunk(ctx context.Context, id string) (*domain.Chunk, error) {
	var row chunkRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+chunkColumns+` FROM chunks c WHERE c.id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting chunk: %w", err)
	}
	c := row.toDomain()
	return &c, nil
}

// DeleteChunks removes all chunks of a document.
func (s *Store) DeleteChunks(ctx context.Context, documentID string) error {
	query, args, err := builder.BuildDelete(chunksTable, map[string]any{"document_id": documentID})
	if err != nil {
		return fmt.Errorf("building delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, rebind(s.db, query), args...); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	return nil
}

// ==================== Helper Functions ====================

// rebind converts gendry output to PostgreSQL syntax: numbered
// placeholders and double-quoted identifiers.
func rebind(db interface{ Rebind(string) string }, query string) string {
	return db.Rebind(strings.ReplaceAll(query, "`", `"`))
}

// isConflict reports a unique_violation.
func isConflict(err error) bool {
	var pgErr *pq.Error
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isForeignKeyViolation reports a foreign_key_violation.
func isForeignKeyViolation(err error) bool {
	var pgErr *pq.Error
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func vectorOrNil(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

func timeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func timePtrOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time.UTC()
	return &u
}
