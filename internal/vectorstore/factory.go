package vectorstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dshills/gocontext-index/internal/config"
)

// DatabaseFile is the SQLite file name inside the configured directory
const DatabaseFile = "gocontext.db"

// New builds the configured backend for a workspace collection
func New(cfg config.VectorStoreConfig, workspace string, dimension int) (Store, error) {
	name := CollectionName(workspace)

	switch cfg.Backend {
	case "", "sqlite":
		if err := os.MkdirAll(cfg.SQLite.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
		return NewSQLiteStore(filepath.Join(cfg.SQLite.Dir, DatabaseFile), name, dimension)
	case "qdrant":
		return NewQdrantStore(QdrantConfig{
			Host:   cfg.Qdrant.Host,
			Port:   cfg.Qdrant.Port,
			APIKey: cfg.Qdrant.APIKey,
			UseTLS: cfg.Qdrant.UseTLS,
		}, name, dimension)
	case "chromem":
		return NewChromemStore(cfg.Chromem.Dir, cfg.Chromem.Compress, name, dimension)
	default:
		return nil, fmt.Errorf("unknown vector store backend %q", cfg.Backend)
	}
}
