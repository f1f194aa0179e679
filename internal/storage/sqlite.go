package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/coderag-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
)

// maxParams bounds the number of placeholders in one IN (...) list
const maxParams = 500

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return classify(t.tx.Commit())
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// classify maps SQLite out-of-space and out-of-memory failures to
// types.ErrResourceExhausted, the one error that ends a whole run
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"database or disk is full", "sqlite_full", "out of memory", "sqlite_nomem"} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", types.ErrResourceExhausted, err)
		}
	}
	return err
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// Project operations

func (s *SQLiteStorage) CreateProject(ctx context.Context, project *Project) error {
	query := `
		INSERT INTO projects (name, root_path, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if project.State == "" {
		project.State = types.StateUninitialized
	}
	now := time.Now()
	result, err := s.db.ExecContext(ctx, query, project.Name, project.RootPath, string(project.State), now, now)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return fmt.Errorf("%w: project %s", ErrAlreadyExists, project.Name)
		}
		return fmt.Errorf("failed to create project: %w", classify(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	project.ID = id
	project.CreatedAt = now
	project.UpdatedAt = now
	return nil
}

const projectColumns = `id, name, root_path, state, last_sync_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(row rowScanner) (*Project, error) {
	var project Project
	var state string
	var lastSync sql.NullTime
	err := row.Scan(&project.ID, &project.Name, &project.RootPath, &state,
		&lastSync, &project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		return nil, err
	}
	project.State = types.ProjectState(state)
	if lastSync.Valid {
		project.LastSyncAt = lastSync.Time
	}
	return &project, nil
}

// getProjectWithQuerier looks a project up by one unique column
func (s *SQLiteStorage) getProjectWithQuerier(ctx context.Context, q querier, column string, value interface{}) (*Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE ` + column + ` = ?`
	project, err := scanProject(q.QueryRowContext(ctx, query, value))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return project, nil
}

func (s *SQLiteStorage) GetProject(ctx context.Context, name string) (*Project, error) {
	return s.getProjectWithQuerier(ctx, s.querier(), "name", name)
}

func (s *SQLiteStorage) GetProjectByPath(ctx context.Context, rootPath string) (*Project, error) {
	return s.getProjectWithQuerier(ctx, s.querier(), "root_path", rootPath)
}

func (s *SQLiteStorage) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	projects := make([]*Project, 0)
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

// UpdateProjectState records a state transition; synced also stamps last_sync_at
func (s *SQLiteStorage) UpdateProjectState(ctx context.Context, projectID int64, state types.ProjectState, synced bool) error {
	now := time.Now()
	query := `UPDATE projects SET state = ?, updated_at = ? WHERE id = ?`
	args := []interface{}{string(state), now, projectID}
	if synced {
		query = `UPDATE projects SET state = ?, updated_at = ?, last_sync_at = ? WHERE id = ?`
		args = []interface{}{string(state), now, now, projectID}
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", classify(err))
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProject removes a project; every derived row cascades
func (s *SQLiteStorage) DeleteProject(ctx context.Context, projectID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, projectID)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", classify(err))
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// File operations

const fileColumns = `id, project_id, rel_path, fingerprint, mod_time, size_bytes, language, indexed_at`

func scanFile(row rowScanner) (*File, error) {
	var file File
	var fingerprint []byte
	var language string
	var modTime, indexedAt sql.NullTime
	err := row.Scan(&file.ID, &file.ProjectID, &file.RelPath, &fingerprint,
		&modTime, &file.SizeBytes, &language, &indexedAt)
	if err != nil {
		return nil, err
	}
	copy(file.Fingerprint[:], fingerprint)
	file.Language = types.Language(language)
	if modTime.Valid {
		file.ModTime = modTime.Time
	}
	if indexedAt.Valid {
		file.IndexedAt = indexedAt.Time
	}
	return &file, nil
}

// upsertFileWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) upsertFileWithQuerier(ctx context.Context, q querier, file *File) error {
	query := `
		INSERT INTO files (project_id, rel_path, fingerprint, mod_time, size_bytes, language, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, rel_path) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			mod_time = excluded.mod_time,
			size_bytes = excluded.size_bytes,
			language = excluded.language,
			indexed_at = excluded.indexed_at
		RETURNING id
	`
	now := time.Now()
	err := q.QueryRowContext(ctx, query,
		file.ProjectID, file.RelPath, file.Fingerprint[:], file.ModTime,
		file.SizeBytes, string(file.Language), now).Scan(&file.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert file: %w", classify(err))
	}
	file.IndexedAt = now
	return nil
}

func (s *SQLiteStorage) GetFile(ctx context.Context, projectID int64, relPath string) (*File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE project_id = ? AND rel_path = ?`
	file, err := scanFile(s.db.QueryRowContext(ctx, query, projectID, relPath))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return file, nil
}

func (s *SQLiteStorage) ListFiles(ctx context.Context, projectID int64) ([]*File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE project_id = ? ORDER BY rel_path`
	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	files := make([]*File, 0)
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

// DeleteFile removes a file row; its chunks, embeddings, symbols and edges cascade
func (s *SQLiteStorage) DeleteFile(ctx context.Context, projectID int64, relPath string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE project_id = ? AND rel_path = ?`, projectID, relPath)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", classify(err))
	}
	return nil
}

// CommitFile applies the changes of one file in a single transaction. The
// file row is written last in effect: if anything fails the transaction is
// rolled back and the previous row (or none) remains.
func (s *SQLiteStorage) CommitFile(ctx context.Context, commit *FileCommit) (err error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	file := commit.File
	if err = tx.UpsertFile(ctx, file); err != nil {
		return err
	}
	if _, err = tx.DeleteChunks(ctx, file.ProjectID, commit.Removed); err != nil {
		return err
	}
	if err = tx.UpdateChunkSpans(ctx, file.ProjectID, commit.Unchanged); err != nil {
		return err
	}
	if err = tx.InsertChunks(ctx, file.ProjectID, file.ID, commit.Added); err != nil {
		return err
	}
	if err = tx.UpsertEmbeddings(ctx, file.ProjectID, commit.Vectors); err != nil {
		return err
	}
	if err = tx.ReplaceSymbols(ctx, file.ProjectID, file.ID, commit.Symbols); err != nil {
		return err
	}
	if err = tx.ReplaceCallEdges(ctx, file.ProjectID, file.ID, commit.Edges); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit file %s: %w", file.RelPath, classify(err))
	}
	return nil
}

// Chunk operations

const chunkColumns = `c.id, c.project_id, c.file_id, f.rel_path, c.language, c.kind, c.symbol,
	c.content, c.fingerprint, c.start_line, c.end_line, c.start_byte, c.end_byte,
	c.suspicious, c.redactions`

func scanChunk(row rowScanner) (*Chunk, error) {
	var chunk Chunk
	var language, kind string
	var fingerprint []byte
	err := row.Scan(&chunk.ID, &chunk.ProjectID, &chunk.FileID, &chunk.FilePath,
		&language, &kind, &chunk.Symbol, &chunk.Content, &fingerprint,
		&chunk.StartLine, &chunk.EndLine, &chunk.StartByte, &chunk.EndByte,
		&chunk.Suspicious, &chunk.Redactions)
	if err != nil {
		return nil, err
	}
	chunk.Language = types.Language(language)
	chunk.Kind = types.ChunkKind(kind)
	copy(chunk.Fingerprint[:], fingerprint)
	return &chunk, nil
}

func collectChunks(rows *sql.Rows) ([]*Chunk, error) {
	defer func() { _ = rows.Close() }()

	chunks := make([]*Chunk, 0)
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStorage) ListChunksByFile(ctx context.Context, projectID, fileID int64) ([]*Chunk, error) {
	query := `
		SELECT ` + chunkColumns + `
		FROM chunks c JOIN files f ON c.file_id = f.id
		WHERE c.project_id = ? AND c.file_id = ?
		ORDER BY c.start_line, c.id
	`
	rows, err := s.db.QueryContext(ctx, query, projectID, fileID)
	if err != nil {
		return nil, err
	}
	return collectChunks(rows)
}

// GetChunks loads chunk rows by id. Missing ids are absent from the map.
func (s *SQLiteStorage) GetChunks(ctx context.Context, projectID int64, ids []string) (map[string]*Chunk, error) {
	out := make(map[string]*Chunk, len(ids))
	for start := 0; start < len(ids); start += maxParams {
		batch := ids[start:min(start+maxParams, len(ids))]
		query := `
			SELECT ` + chunkColumns + `
			FROM chunks c JOIN files f ON c.file_id = f.id
			WHERE c.project_id = ? AND c.id IN (` + placeholders(len(batch)) + `)
		`
		args := make([]interface{}, 0, len(batch)+1)
		args = append(args, projectID)
		for _, id := range batch {
			args = append(args, id)
		}

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		chunks, err := collectChunks(rows)
		if err != nil {
			return nil, err
		}
		for _, c := range chunks {
			out[c.ID] = c
		}
	}
	return out, nil
}

// EachChunk streams every chunk of a project. fn must not call back into
// the storage: the single connection is held until iteration ends.
func (s *SQLiteStorage) EachChunk(ctx context.Context, projectID int64, fn func(*Chunk) error) error {
	query := `
		SELECT ` + chunkColumns + `
		FROM chunks c JOIN files f ON c.file_id = f.id
		WHERE c.project_id = ?
		ORDER BY f.rel_path, c.start_line, c.id
	`
	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return err
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SQLiteStorage) insertChunksWithQuerier(ctx context.Context, q querier, projectID, fileID int64, chunks []*Chunk) error {
	query := `
		INSERT INTO chunks (project_id, id, file_id, kind, symbol, language, content, fingerprint,
			start_line, end_line, start_byte, end_byte, suspicious, redactions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, id) DO UPDATE SET
			file_id = excluded.file_id,
			content = excluded.content,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			start_byte = excluded.start_byte,
			end_byte = excluded.end_byte,
			suspicious = excluded.suspicious,
			redactions = excluded.redactions
	`
	for _, c := range chunks {
		c.ProjectID = projectID
		c.FileID = fileID
		_, err := q.ExecContext(ctx, query,
			projectID, c.ID, fileID, string(c.Kind), c.Symbol, string(c.Language),
			c.Content, c.Fingerprint[:], c.StartLine, c.EndLine, c.StartByte, c.EndByte,
			c.Suspicious, c.Redactions)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, classify(err))
		}
	}
	return nil
}

func (s *SQLiteStorage) updateChunkSpansWithQuerier(ctx context.Context, q querier, projectID int64, chunks []*Chunk) error {
	query := `
		UPDATE chunks SET start_line = ?, end_line = ?, start_byte = ?, end_byte = ?
		WHERE project_id = ? AND id = ?
	`
	for _, c := range chunks {
		_, err := q.ExecContext(ctx, query, c.StartLine, c.EndLine, c.StartByte, c.EndByte, projectID, c.ID)
		if err != nil {
			return fmt.Errorf("failed to update chunk %s: %w", c.ID, classify(err))
		}
	}
	return nil
}

func (s *SQLiteStorage) deleteChunksWithQuerier(ctx context.Context, q querier, projectID int64, ids []string) (int, error) {
	deleted := 0
	for start := 0; start < len(ids); start += maxParams {
		batch := ids[start:min(start+maxParams, len(ids))]
		args := make([]interface{}, 0, len(batch)+1)
		args = append(args, projectID)
		for _, id := range batch {
			args = append(args, id)
		}

		result, err := q.ExecContext(ctx,
			`DELETE FROM chunks WHERE project_id = ? AND id IN (`+placeholders(len(batch))+`)`, args...)
		if err != nil {
			return deleted, fmt.Errorf("failed to delete chunks: %w", classify(err))
		}
		n, err := result.RowsAffected()
		if err != nil {
			return deleted, err
		}
		deleted += int(n)
	}
	return deleted, nil
}

// Embedding operations

func (s *SQLiteStorage) upsertEmbeddingsWithQuerier(ctx context.Context, q querier, projectID int64, embeddings []Embedding) error {
	query := `
		INSERT INTO embeddings (project_id, chunk_id, vector, dimension, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, chunk_id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			model = excluded.model,
			created_at = excluded.created_at
	`
	now := time.Now()
	for _, e := range embeddings {
		blob, err := encodeVector(e.Vector)
		if err != nil {
			return fmt.Errorf("failed to encode vector for %s: %w", e.ChunkID, err)
		}
		if _, err := q.ExecContext(ctx, query, projectID, e.ChunkID, blob, len(e.Vector), e.Model, now); err != nil {
			return fmt.Errorf("failed to upsert embedding %s: %w", e.ChunkID, classify(err))
		}
	}
	return nil
}

// UpsertEmbeddings stores vectors for chunks that already exist, in one transaction
func (s *SQLiteStorage) UpsertEmbeddings(ctx context.Context, projectID int64, embeddings []Embedding) (err error) {
	if len(embeddings) == 0 {
		return nil
	}
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = tx.UpsertEmbeddings(ctx, projectID, embeddings); err != nil {
		return err
	}
	return tx.Commit()
}

// EachEmbedding streams the vectors of a project produced by model
func (s *SQLiteStorage) EachEmbedding(ctx context.Context, projectID int64, model string, fn func(string, []float32) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id, vector FROM embeddings WHERE project_id = ? AND model = ? ORDER BY chunk_id`,
		projectID, model)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return err
		}
		if err := fn(id, unpackVector(blob)); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ListMissingEmbeddings returns non-empty chunks without a vector from model
func (s *SQLiteStorage) ListMissingEmbeddings(ctx context.Context, projectID int64, model string, limit int) ([]*Chunk, error) {
	query := `
		SELECT ` + chunkColumns + `
		FROM chunks c
		JOIN files f ON c.file_id = f.id
		LEFT JOIN embeddings e ON e.project_id = c.project_id AND e.chunk_id = c.id AND e.model = ?
		WHERE c.project_id = ? AND e.chunk_id IS NULL AND trim(c.content, char(32, 9, 10, 13)) != ''
		ORDER BY f.rel_path, c.start_line, c.id
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, model, projectID, limit)
	if err != nil {
		return nil, err
	}
	return collectChunks(rows)
}

func (s *SQLiteStorage) SearchVector(ctx context.Context, projectID int64, model string, query []float32, limit int) ([]VectorResult, error) {
	if limit <= 0 || len(query) == 0 {
		return []VectorResult{}, nil
	}
	return searchVector(ctx, s.db, projectID, model, query, limit)
}

// Symbol and call graph operations

const symbolColumns = `s.id, s.project_id, s.file_id, s.chunk_id, f.rel_path, s.name, s.kind,
	s.signature, s.start_line, s.end_line`

func collectSymbols(rows *sql.Rows) ([]*Symbol, error) {
	defer func() { _ = rows.Close() }()

	symbols := make([]*Symbol, 0)
	for rows.Next() {
		var symbol Symbol
		var kind string
		var signature sql.NullString
		err := rows.Scan(&symbol.ID, &symbol.ProjectID, &symbol.FileID, &symbol.ChunkID,
			&symbol.FilePath, &symbol.Name, &kind, &signature, &symbol.StartLine, &symbol.EndLine)
		if err != nil {
			return nil, err
		}
		symbol.Kind = types.SymbolKind(kind)
		symbol.Signature = signature.String
		symbols = append(symbols, &symbol)
	}
	return symbols, rows.Err()
}

// SearchSymbols matches names case-insensitively: a pattern containing * or ?
// is a glob over the whole name, anything else a substring
func (s *SQLiteStorage) SearchSymbols(ctx context.Context, projectID int64, pattern string, limit int) ([]*Symbol, error) {
	cond := `instr(lower(s.name), lower(?)) > 0`
	if strings.ContainsAny(pattern, "*?") {
		cond = `lower(s.name) GLOB lower(?)`
	}
	query := `
		SELECT ` + symbolColumns + `
		FROM symbols s JOIN files f ON s.file_id = f.id
		WHERE s.project_id = ? AND ` + cond + `
		ORDER BY length(s.name), s.name, f.rel_path, s.start_line
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, projectID, pattern, limit)
	if err != nil {
		return nil, err
	}
	return collectSymbols(rows)
}

func (s *SQLiteStorage) ListSymbols(ctx context.Context, projectID int64) ([]*Symbol, error) {
	query := `
		SELECT ` + symbolColumns + `
		FROM symbols s JOIN files f ON s.file_id = f.id
		WHERE s.project_id = ?
		ORDER BY f.rel_path, s.start_line, s.id
	`
	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	return collectSymbols(rows)
}

func (s *SQLiteStorage) ListCallEdges(ctx context.Context, projectID int64) ([]*CallEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, file_id, caller_chunk_id, caller_symbol, callee_name, line
		FROM call_edges WHERE project_id = ?
		ORDER BY caller_chunk_id, line, id
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	edges := make([]*CallEdge, 0)
	for rows.Next() {
		var e CallEdge
		if err := rows.Scan(&e.ProjectID, &e.FileID, &e.CallerChunk, &e.CallerSymbol, &e.Callee, &e.Line); err != nil {
			return nil, err
		}
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}

func (s *SQLiteStorage) replaceSymbolsWithQuerier(ctx context.Context, q querier, projectID, fileID int64, symbols []*Symbol) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM symbols WHERE project_id = ? AND file_id = ?`, projectID, fileID); err != nil {
		return fmt.Errorf("failed to clear symbols: %w", classify(err))
	}
	query := `
		INSERT INTO symbols (project_id, file_id, chunk_id, name, kind, signature, start_line, end_line)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	for _, sym := range symbols {
		sym.ProjectID = projectID
		sym.FileID = fileID
		err := q.QueryRowContext(ctx, query, projectID, fileID, sym.ChunkID, sym.Name,
			string(sym.Kind), sym.Signature, sym.StartLine, sym.EndLine).Scan(&sym.ID)
		if err != nil {
			return fmt.Errorf("failed to insert symbol %s: %w", sym.Name, classify(err))
		}
	}
	return nil
}

func (s *SQLiteStorage) replaceCallEdgesWithQuerier(ctx context.Context, q querier, projectID, fileID int64, edges []*CallEdge) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM call_edges WHERE project_id = ? AND file_id = ?`, projectID, fileID); err != nil {
		return fmt.Errorf("failed to clear call edges: %w", classify(err))
	}
	query := `
		INSERT INTO call_edges (project_id, file_id, caller_chunk_id, caller_symbol, callee_name, line)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	for _, e := range edges {
		e.ProjectID = projectID
		e.FileID = fileID
		if _, err := q.ExecContext(ctx, query, projectID, fileID, e.CallerChunk, e.CallerSymbol, e.Callee, e.Line); err != nil {
			return fmt.Errorf("failed to insert call edge: %w", classify(err))
		}
	}
	return nil
}

// Status operations

func (s *SQLiteStorage) GetStats(ctx context.Context, projectID int64, model string) (*ProjectStats, error) {
	stats := &ProjectStats{
		Languages:   make(map[types.Language]int),
		SymbolKinds: make(map[types.SymbolKind]int),
	}

	counts := []struct {
		dest  *int
		query string
		args  []interface{}
	}{
		{&stats.Files, `SELECT COUNT(*) FROM files WHERE project_id = ?`, []interface{}{projectID}},
		{&stats.Chunks, `SELECT COUNT(*) FROM chunks WHERE project_id = ?`, []interface{}{projectID}},
		{&stats.Embeddings, `SELECT COUNT(*) FROM embeddings WHERE project_id = ? AND model = ?`, []interface{}{projectID, model}},
		{&stats.StaleEmbeddings, `SELECT COUNT(*) FROM embeddings WHERE project_id = ? AND model != ?`, []interface{}{projectID, model}},
		{&stats.Symbols, `SELECT COUNT(*) FROM symbols WHERE project_id = ?`, []interface{}{projectID}},
		{&stats.CallEdges, `SELECT COUNT(*) FROM call_edges WHERE project_id = ?`, []interface{}{projectID}},
		{&stats.SuspiciousChunks, `SELECT COUNT(*) FROM chunks WHERE project_id = ? AND suspicious`, []interface{}{projectID}},
		{&stats.Redactions, `SELECT COALESCE(SUM(redactions), 0) FROM chunks WHERE project_id = ?`, []interface{}{projectID}},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query, c.args...).Scan(c.dest); err != nil {
			return nil, err
		}
	}

	if err := s.groupCount(ctx, `SELECT language, COUNT(*) FROM files WHERE project_id = ? GROUP BY language`, projectID,
		func(key string, n int) { stats.Languages[types.Language(key)] = n }); err != nil {
		return nil, err
	}
	if err := s.groupCount(ctx, `SELECT kind, COUNT(*) FROM symbols WHERE project_id = ? GROUP BY kind`, projectID,
		func(key string, n int) { stats.SymbolKinds[types.SymbolKind(key)] = n }); err != nil {
		return nil, err
	}

	// Calculate database size
	var pageCount, pageSize int
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		stats.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	return stats, nil
}

func (s *SQLiteStorage) groupCount(ctx context.Context, query string, projectID int64, fn func(string, int)) error {
	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		fn(key, n)
	}
	return rows.Err()
}

// Transaction implementations delegate to the querier-based helpers

func (t *sqliteTx) UpsertFile(ctx context.Context, file *File) error {
	return t.storage.upsertFileWithQuerier(ctx, t.querier(), file)
}

func (t *sqliteTx) InsertChunks(ctx context.Context, projectID, fileID int64, chunks []*Chunk) error {
	return t.storage.insertChunksWithQuerier(ctx, t.querier(), projectID, fileID, chunks)
}

func (t *sqliteTx) UpdateChunkSpans(ctx context.Context, projectID int64, chunks []*Chunk) error {
	return t.storage.updateChunkSpansWithQuerier(ctx, t.querier(), projectID, chunks)
}

func (t *sqliteTx) DeleteChunks(ctx context.Context, projectID int64, ids []string) (int, error) {
	return t.storage.deleteChunksWithQuerier(ctx, t.querier(), projectID, ids)
}

func (t *sqliteTx) UpsertEmbeddings(ctx context.Context, projectID int64, embeddings []Embedding) error {
	return t.storage.upsertEmbeddingsWithQuerier(ctx, t.querier(), projectID, embeddings)
}

func (t *sqliteTx) ReplaceSymbols(ctx context.Context, projectID, fileID int64, symbols []*Symbol) error {
	return t.storage.replaceSymbolsWithQuerier(ctx, t.querier(), projectID, fileID, symbols)
}

func (t *sqliteTx) ReplaceCallEdges(ctx context.Context, projectID, fileID int64, edges []*CallEdge) error {
	return t.storage.replaceCallEdgesWithQuerier(ctx, t.querier(), projectID, fileID, edges)
}
