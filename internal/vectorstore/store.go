package vectorstore

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/dshills/gocontext-index/pkg/types"
)

var (
	// ErrNotFound is returned when a requested collection doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrDimensionMismatch is returned when a vector does not match the collection
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrNotInitialized is returned when the collection was not initialized
	ErrNotInitialized = errors.New("collection not initialized")
)

// pointNamespace scopes UUIDv5 point ids
var pointNamespace = uuid.MustParse("6f0b6c3e-4a4c-5d8e-9a51-2f1e7d9c0b11")

// Point is one embedded block
type Point struct {
	ID     string
	Vector []float32
	Block  types.Block
}

// Hit is a search match
type Hit struct {
	ID    string
	Score float64 // cosine similarity, higher is better
	Block types.Block
}

// Store persists and queries the vectors of one workspace collection
type Store interface {
	// Initialize creates the collection if needed and reports whether it was
	// freshly created (including re-creation after a dimension change)
	Initialize(ctx context.Context) (created bool, err error)

	// Upsert inserts or replaces points by id
	Upsert(ctx context.Context, points []Point) error

	// DeleteByFiles removes every point whose block belongs to one of paths
	DeleteByFiles(ctx context.Context, paths []string) error

	// Search returns up to limit points ordered by descending similarity
	Search(ctx context.Context, vector []float32, limit int) ([]Hit, error)

	// ClearCollection removes all points but keeps the collection
	ClearCollection(ctx context.Context) error

	// DeleteCollection drops the collection
	DeleteCollection(ctx context.Context) error

	// CollectionName returns the backing collection name
	CollectionName() string

	Close() error
}

// CollectionName derives the collection name for a workspace root
func CollectionName(workspace string) string {
	return "ws_" + types.WorkspaceKey(workspace)
}

// PointID returns the stable point id of a block
func PointID(b *types.Block) string {
	seg := b.SegmentHash
	if seg == "" {
		seg = b.ComputeSegmentHash()
	}
	return uuid.NewSHA1(pointNamespace, []byte(seg)).String()
}

// NewPoint builds a point for block with its embedding
func NewPoint(b types.Block, vector []float32) Point {
	return Point{ID: PointID(&b), Vector: vector, Block: b}
}
