package types

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

// WorkspaceKey returns a short stable identifier for a workspace root.
// It names the cache artifacts and the vector store collection.
func WorkspaceKey(root string) string {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	sum := sha256.Sum256([]byte(filepath.Clean(root)))
	return hex.EncodeToString(sum[:8])
}
