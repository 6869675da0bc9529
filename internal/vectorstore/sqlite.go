package vectorstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dshills/gocontext-index/internal/logging"
	"github.com/dshills/gocontext-index/pkg/types"
)

// SQLiteStore implements Store on a local SQLite database. Several
// workspaces share one database file, each in its own collection row.
type SQLiteStore struct {
	db         *sql.DB
	collection string
	dimension  int
	logger     *slog.Logger

	mu          sync.Mutex
	initialized bool
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

	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

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

// NewSQLiteStore opens dbPath and binds the store to collection
func NewSQLiteStore(dbPath, collection string, dimension int) (*SQLiteStore, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dimension)
	}
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStore{
		db:         db,
		collection: collection,
		dimension:  dimension,
		logger:     logging.NewModuleLogger("vectorstore", "sqlite"),
	}, nil
}

func (s *SQLiteStore) CollectionName() string { return s.collection }

// Initialize creates the collection row. An existing collection with a
// different dimension is emptied and resized, which counts as created.
func (s *SQLiteStore) Initialize(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var dim int
	err = tx.QueryRowContext(ctx, "SELECT dimension FROM collections WHERE name = ?", s.collection).Scan(&dim)
	created := false
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO collections (name, dimension) VALUES (?, ?)", s.collection, s.dimension); err != nil {
			return false, fmt.Errorf("create collection %s: %w", s.collection, err)
		}
		created = true
	case err != nil:
		return false, fmt.Errorf("read collection %s: %w", s.collection, err)
	case dim != s.dimension:
		s.logger.Warn("collection dimension changed, recreating",
			slog.String("collection", s.collection),
			slog.Int("old", dim),
			slog.Int("new", s.dimension))
		if _, err := tx.ExecContext(ctx, "DELETE FROM points WHERE collection = ?", s.collection); err != nil {
			return false, fmt.Errorf("clear collection %s: %w", s.collection, err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE collections SET dimension = ?, created_at = CURRENT_TIMESTAMP WHERE name = ?",
			s.dimension, s.collection); err != nil {
			return false, fmt.Errorf("resize collection %s: %w", s.collection, err)
		}
		created = true
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	s.initialized = true
	return created, nil
}

func (s *SQLiteStore) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	return nil
}

// Upsert writes points in one transaction
func (s *SQLiteStore) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := s.ready(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO points (id, collection, file_path, start_line, end_line, kind, name, content, file_hash, segment_hash, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			file_path = excluded.file_path,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			kind = excluded.kind,
			name = excluded.name,
			content = excluded.content,
			file_hash = excluded.file_hash,
			segment_hash = excluded.segment_hash,
			vector = excluded.vector
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range points {
		p := &points[i]
		if len(p.Vector) != s.dimension {
			return fmt.Errorf("point %s: %w: got %d, want %d", p.ID, ErrDimensionMismatch, len(p.Vector), s.dimension)
		}
		b := &p.Block
		if _, err := stmt.ExecContext(ctx, p.ID, s.collection, b.FilePath, b.StartLine, b.EndLine,
			string(b.Kind), b.Name, b.Content, b.FileHash, b.SegmentHash, serializeVector(p.Vector)); err != nil {
			return fmt.Errorf("upsert point %s: %w", p.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE collections SET updated_at = CURRENT_TIMESTAMP WHERE name = ?", s.collection); err != nil {
		return fmt.Errorf("touch collection: %w", err)
	}

	return tx.Commit()
}

// DeleteByFiles removes points belonging to paths
func (s *SQLiteStore) DeleteByFiles(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	if err := s.ready(); err != nil {
		return err
	}

	// Stay well below SQLite's bound parameter limit
	const chunk = 500
	for start := 0; start < len(paths); start += chunk {
		end := min(start+chunk, len(paths))
		part := paths[start:end]

		args := make([]any, 0, len(part)+1)
		args = append(args, s.collection)
		for _, p := range part {
			args = append(args, p)
		}
		query := "DELETE FROM points WHERE collection = ? AND file_path IN (" +
			strings.TrimSuffix(strings.Repeat("?,", len(part)), ",") + ")"
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("delete points by file: %w", err)
		}
	}
	return nil
}

// Search ranks the collection against vector
func (s *SQLiteStore) Search(ctx context.Context, vector []float32, limit int) ([]Hit, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), s.dimension)
	}
	if limit <= 0 {
		return []Hit{}, nil
	}

	if VectorExtensionAvailable {
		return s.searchOptimized(ctx, vector, limit)
	}
	return s.searchFallback(ctx, vector, limit)
}

// searchOptimized uses sqlite-vec. vec_distance_cosine returns a distance,
// converted to similarity so both paths score the same way.
func (s *SQLiteStore) searchOptimized(ctx context.Context, vector []float32, limit int) ([]Hit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_path, start_line, end_line, kind, name, content, file_hash, segment_hash,
			1.0 - vec_distance_cosine(vector, ?) AS similarity
		FROM points
		WHERE collection = ?
		ORDER BY similarity DESC, id
		LIMIT ?
	`, serializeVector(vector), s.collection, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hits := make([]Hit, 0, limit)
	for rows.Next() {
		var h Hit
		var name, fileHash sql.NullString
		var kind string
		if err := rows.Scan(&h.ID, &h.Block.FilePath, &h.Block.StartLine, &h.Block.EndLine, &kind,
			&name, &h.Block.Content, &fileHash, &h.Block.SegmentHash, &h.Score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		h.Block.Kind = types.BlockKind(kind)
		h.Block.Name = name.String
		h.Block.FileHash = fileHash.String
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// searchFallback computes cosine similarity in Go
func (s *SQLiteStore) searchFallback(ctx context.Context, vector []float32, limit int) ([]Hit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_path, start_line, end_line, kind, name, content, file_hash, segment_hash, vector
		FROM points
		WHERE collection = ?
	`, s.collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query points: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hits := make([]Hit, 0, 256)
	for rows.Next() {
		var h Hit
		var name, fileHash sql.NullString
		var kind string
		var blob []byte
		if err := rows.Scan(&h.ID, &h.Block.FilePath, &h.Block.StartLine, &h.Block.EndLine, &kind,
			&name, &h.Block.Content, &fileHash, &h.Block.SegmentHash, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan point: %w", err)
		}
		stored := deserializeVector(blob)
		if len(stored) != len(vector) {
			continue
		}
		h.Block.Kind = types.BlockKind(kind)
		h.Block.Name = name.String
		h.Block.FileHash = fileHash.String
		h.Score = cosineSimilarity(vector, stored)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortHits(hits)
	return topK(hits, limit), nil
}

// ClearCollection removes all points but keeps the collection
func (s *SQLiteStore) ClearCollection(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM points WHERE collection = ?", s.collection); err != nil {
		return fmt.Errorf("clear collection %s: %w", s.collection, err)
	}
	return nil
}

// DeleteCollection drops the collection and, by cascade, its points
func (s *SQLiteStore) DeleteCollection(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM collections WHERE name = ?", s.collection); err != nil {
		return fmt.Errorf("delete collection %s: %w", s.collection, err)
	}
	s.mu.Lock()
	s.initialized = false
	s.mu.Unlock()
	return nil
}

// Count returns the number of points in the collection
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM points WHERE collection = ?", s.collection).Scan(&n)
	return n, err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
