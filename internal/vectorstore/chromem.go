package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/dshills/gocontext-index/internal/logging"
	"github.com/dshills/gocontext-index/pkg/types"
)

var errNoEmbeddingFunc = errors.New("chromem store only accepts precomputed embeddings")

// ChromemStore implements Store on an embedded chromem-go database, either
// in memory or persisted to a directory.
type ChromemStore struct {
	db         *chromem.DB
	collection string
	dimension  int
	logger     *slog.Logger

	mu  sync.Mutex
	col *chromem.Collection
}

// NewChromemStore opens a chromem database. An empty dir keeps it in memory.
func NewChromemStore(dir string, compress bool, collection string, dimension int) (*ChromemStore, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dimension)
	}
	var db *chromem.DB
	if dir == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(dir, compress)
		if err != nil {
			return nil, fmt.Errorf("open chromem db %s: %w", dir, err)
		}
	}
	return &ChromemStore{
		db:         db,
		collection: collection,
		dimension:  dimension,
		logger:     logging.NewModuleLogger("vectorstore", "chromem"),
	}, nil
}

func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

func (s *ChromemStore) CollectionName() string { return s.collection }

// Initialize opens or creates the collection. A collection holding vectors
// of another dimension is dropped and recreated.
func (s *ChromemStore) Initialize(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if col := s.db.GetCollection(s.collection, noEmbed); col != nil {
		if s.dimensionMatches(ctx, col) {
			s.col = col
			return false, nil
		}
		s.logger.Warn("collection dimension changed, recreating",
			slog.String("collection", s.collection),
			slog.Int("dimension", s.dimension))
		if err := s.db.DeleteCollection(s.collection); err != nil {
			return false, fmt.Errorf("drop collection %s: %w", s.collection, err)
		}
	}

	col, err := s.db.CreateCollection(s.collection, map[string]string{
		"dimension": strconv.Itoa(s.dimension),
	}, noEmbed)
	if err != nil {
		return false, fmt.Errorf("create collection %s: %w", s.collection, err)
	}
	s.col = col
	return true, nil
}

// dimensionMatches queries an existing collection with a unit vector. chromem
// rejects queries whose length differs from the stored embeddings.
func (s *ChromemStore) dimensionMatches(ctx context.Context, col *chromem.Collection) bool {
	if col.Count() == 0 {
		return true
	}
	unit := make([]float32, s.dimension)
	unit[0] = 1
	_, err := col.QueryEmbedding(ctx, unit, 1, nil, nil)
	return err == nil
}

func (s *ChromemStore) current() (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.col == nil {
		return nil, ErrNotInitialized
	}
	return s.col, nil
}

// Upsert adds documents; chromem overwrites documents with the same id
func (s *ChromemStore) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	col, err := s.current()
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, 0, len(points))
	for i := range points {
		p := &points[i]
		if len(p.Vector) != s.dimension {
			return fmt.Errorf("point %s: %w: got %d, want %d", p.ID, ErrDimensionMismatch, len(p.Vector), s.dimension)
		}
		docs = append(docs, chromem.Document{
			ID:        p.ID,
			Content:   p.Block.Content,
			Embedding: p.Vector,
			Metadata:  blockMetadata(&p.Block),
		})
	}

	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("add documents: %w", err)
	}
	return nil
}

// DeleteByFiles removes documents whose file metadata matches one of paths
func (s *ChromemStore) DeleteByFiles(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	col, err := s.current()
	if err != nil {
		return err
	}
	for _, path := range paths {
		if err := col.Delete(ctx, map[string]string{metaFile: path}, nil); err != nil {
			return fmt.Errorf("delete documents for %s: %w", path, err)
		}
	}
	return nil
}

// Search queries by embedding. chromem refuses nResults above the
// document count, so the limit is clamped.
func (s *ChromemStore) Search(ctx context.Context, vector []float32, limit int) ([]Hit, error) {
	col, err := s.current()
	if err != nil {
		return nil, err
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), s.dimension)
	}
	n := min(limit, col.Count())
	if n <= 0 {
		return []Hit{}, nil
	}

	results, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w", s.collection, err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		b := metadataBlock(r.Metadata)
		b.Content = r.Content
		hits = append(hits, Hit{ID: r.ID, Score: float64(r.Similarity), Block: b})
	}
	sortHits(hits)
	return hits, nil
}

// ClearCollection drops and recreates the collection
func (s *ChromemStore) ClearCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db.GetCollection(s.collection, noEmbed) == nil {
		return nil
	}
	if err := s.db.DeleteCollection(s.collection); err != nil {
		return fmt.Errorf("clear collection %s: %w", s.collection, err)
	}
	col, err := s.db.CreateCollection(s.collection, map[string]string{
		"dimension": strconv.Itoa(s.dimension),
	}, noEmbed)
	if err != nil {
		return fmt.Errorf("recreate collection %s: %w", s.collection, err)
	}
	s.col = col
	return nil
}

// DeleteCollection drops the collection
func (s *ChromemStore) DeleteCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.col = nil
	if err := s.db.DeleteCollection(s.collection); err != nil {
		return fmt.Errorf("delete collection %s: %w", s.collection, err)
	}
	return nil
}

// Count returns the number of documents in the collection
func (s *ChromemStore) Count() int {
	col, err := s.current()
	if err != nil {
		return 0
	}
	return col.Count()
}

// Close is a no-op; persistent databases write through on every change
func (s *ChromemStore) Close() error {
	return nil
}

const (
	metaFile        = "file"
	metaStartLine   = "start_line"
	metaEndLine     = "end_line"
	metaKind        = "kind"
	metaName        = "name"
	metaFileHash    = "file_hash"
	metaSegmentHash = "segment_hash"
)

func blockMetadata(b *types.Block) map[string]string {
	return map[string]string{
		metaFile:        b.FilePath,
		metaStartLine:   strconv.Itoa(b.StartLine),
		metaEndLine:     strconv.Itoa(b.EndLine),
		metaKind:        string(b.Kind),
		metaName:        b.Name,
		metaFileHash:    b.FileHash,
		metaSegmentHash: b.SegmentHash,
	}
}

func metadataBlock(m map[string]string) types.Block {
	start, _ := strconv.Atoi(m[metaStartLine])
	end, _ := strconv.Atoi(m[metaEndLine])
	return types.Block{
		FilePath:    m[metaFile],
		StartLine:   start,
		EndLine:     end,
		Kind:        types.BlockKind(m[metaKind]),
		Name:        m[metaName],
		FileHash:    m[metaFileHash],
		SegmentHash: m[metaSegmentHash],
	}
}
