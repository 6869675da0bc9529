package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"unicode/utf8"
)

// BlockKind represents the kind of source region a block covers
type BlockKind string

const (
	BlockFunction BlockKind = "function"
	BlockMethod   BlockKind = "method"
	BlockType     BlockKind = "type"
	BlockDecl     BlockKind = "decl"
	BlockWindow   BlockKind = "window"
)

// Block is a slice of source text and the unit of embedding
type Block struct {
	// Location
	FilePath  string // Relative to the workspace root
	StartLine int
	EndLine   int

	// Content
	Kind    BlockKind
	Name    string // Declaration name when known
	Content string

	// Identity
	FileHash    string // Hash of the whole file the block came from
	SegmentHash string // Hash of path, span and content
}

// ComputeSegmentHash derives the block identity from its path, span and content
func (b *Block) ComputeSegmentHash() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s:%d:%d\n", b.FilePath, b.StartLine, b.EndLine)
	h.Write([]byte(b.Content))
	b.SegmentHash = hex.EncodeToString(h.Sum(nil))
	return b.SegmentHash
}

// Validate checks that the block can be embedded and stored
func (b *Block) Validate() error {
	if b.Content == "" {
		return ErrEmptyContent
	}
	if b.FilePath == "" {
		return ErrMissingFilePath
	}
	if !utf8.ValidString(b.Content) {
		return ErrInvalidUTF8
	}
	if b.StartLine <= 0 || b.EndLine <= 0 {
		return errors.New("line numbers must be positive")
	}
	if b.StartLine > b.EndLine {
		return errors.New("start line must be before or equal to end line")
	}
	return nil
}

// EmbeddingText returns the text sent to the embedding provider
func (b *Block) EmbeddingText() string {
	if b.Name == "" {
		return fmt.Sprintf("// %s:%d\n%s", b.FilePath, b.StartLine, b.Content)
	}
	return fmt.Sprintf("// %s:%d %s\n%s", b.FilePath, b.StartLine, b.Name, b.Content)
}

// ContentHash returns the hex sha256 of data, the digest used for file hashes
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
