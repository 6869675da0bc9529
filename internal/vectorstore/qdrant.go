package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/dshills/gocontext-index/internal/logging"
	"github.com/dshills/gocontext-index/pkg/types"
)

// QdrantConfig holds Qdrant connection settings
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// QdrantStore implements Store on a Qdrant server over gRPC
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
	logger     *slog.Logger
}

// NewQdrantStore connects to Qdrant. The client connects lazily, so an
// unreachable server surfaces on Initialize.
func NewQdrantStore(cfg QdrantConfig, collection string, dimension int) (*QdrantStore, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dimension)
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334 // gRPC port
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client for %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return &QdrantStore{
		client:     client,
		collection: collection,
		dimension:  dimension,
		logger:     logging.NewModuleLogger("vectorstore", "qdrant"),
	}, nil
}

func (s *QdrantStore) CollectionName() string { return s.collection }

// Initialize creates the collection, recreating it when the configured
// dimension no longer matches.
func (s *QdrantStore) Initialize(ctx context.Context) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return false, fmt.Errorf("failed to check collection existence: %w", err)
	}

	if exists {
		info, err := s.client.GetCollectionInfo(ctx, s.collection)
		if err != nil {
			return false, fmt.Errorf("failed to read collection info: %w", err)
		}
		size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size == uint64(s.dimension) {
			return false, nil
		}
		s.logger.Warn("collection dimension changed, recreating",
			slog.String("collection", s.collection),
			slog.Uint64("old", size),
			slog.Int("new", s.dimension))
		if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
			return false, fmt.Errorf("failed to drop collection: %w", err)
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return false, nil
		}
		return false, fmt.Errorf("failed to create collection: %w", err)
	}

	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collection,
		FieldName:      metaFile,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		s.logger.Warn("failed to create file payload index", slog.String("error", err.Error()))
	}
	return true, nil
}

// Upsert writes points and waits for the write to be applied
func (s *QdrantStore) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*qdrant.PointStruct, 0, len(points))
	for i := range points {
		p := &points[i]
		if len(p.Vector) != s.dimension {
			return fmt.Errorf("point %s: %w: got %d, want %d", p.ID, ErrDimensionMismatch, len(p.Vector), s.dimension)
		}
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: blockPayload(&p.Block),
		})
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         structs,
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// DeleteByFiles removes points whose file payload is one of paths
func (s *QdrantStore) DeleteByFiles(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: metaFile,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keywords{
							Keywords: &qdrant.RepeatedStrings{Strings: paths},
						},
					},
				},
			},
		}},
	}
	return s.deleteByFilter(ctx, filter)
}

func (s *QdrantStore) deleteByFilter(ctx context.Context, filter *qdrant.Filter) error {
	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete by filter: %w", err)
	}
	return nil
}

// Search finds the most similar points
func (s *QdrantStore) Search(ctx context.Context, vector []float32, limit int) ([]Hit, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), s.dimension)
	}
	if limit <= 0 {
		return []Hit{}, nil
	}

	resp, err := s.client.GetPointsClient().Search(ctx, &qdrant.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	hits := make([]Hit, 0, len(resp.GetResult()))
	for _, sp := range resp.GetResult() {
		hits = append(hits, Hit{
			ID:    pointIDString(sp.GetId()),
			Score: float64(sp.GetScore()),
			Block: payloadBlock(sp.GetPayload()),
		})
	}
	return hits, nil
}

// ClearCollection deletes every point with an empty filter
func (s *QdrantStore) ClearCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		return nil
	}
	return s.deleteByFilter(ctx, &qdrant.Filter{})
}

// DeleteCollection drops the collection if it exists
func (s *QdrantStore) DeleteCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		return nil
	}
	if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return nil
}

// Close closes the Qdrant client
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func blockPayload(b *types.Block) map[string]*qdrant.Value {
	return map[string]*qdrant.Value{
		metaFile:        qdrant.NewValueString(b.FilePath),
		metaStartLine:   qdrant.NewValueInt(int64(b.StartLine)),
		metaEndLine:     qdrant.NewValueInt(int64(b.EndLine)),
		metaKind:        qdrant.NewValueString(string(b.Kind)),
		metaName:        qdrant.NewValueString(b.Name),
		metaFileHash:    qdrant.NewValueString(b.FileHash),
		metaSegmentHash: qdrant.NewValueString(b.SegmentHash),
		"content":       qdrant.NewValueString(b.Content),
	}
}

func payloadBlock(p map[string]*qdrant.Value) types.Block {
	return types.Block{
		FilePath:    p[metaFile].GetStringValue(),
		StartLine:   int(p[metaStartLine].GetIntegerValue()),
		EndLine:     int(p[metaEndLine].GetIntegerValue()),
		Kind:        types.BlockKind(p[metaKind].GetStringValue()),
		Name:        p[metaName].GetStringValue(),
		FileHash:    p[metaFileHash].GetStringValue(),
		SegmentHash: p[metaSegmentHash].GetStringValue(),
		Content:     p["content"].GetStringValue(),
	}
}

func pointIDString(id *qdrant.PointId) string {
	switch v := id.GetPointIdOptions().(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	default:
		return ""
	}
}
