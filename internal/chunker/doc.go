// Package chunker slices source files into blocks, the unit of embedding.
//
// Go files are parsed with go/parser and split at top-level declarations:
// functions, methods (named Receiver.Method), type groups and const/var
// groups. Leading doc comments belong to their declaration. Imports and the
// package clause are not emitted.
//
// Other files, Go files that fail to yield any declaration, and declarations
// longer than the block limit are split into line windows. A window never
// exceeds MaxBlockChars; a single oversized line is cut into pieces.
//
// Blocks whose trimmed content is shorter than MinBlockChars are skipped, and
// identical blocks within a file are emitted once. Every block carries the
// hash of its file and its own segment hash.
//
//	c := chunker.New(chunker.Options{MaxBlockChars: 4000, MinBlockChars: 50})
//	blocks := c.Chunk("internal/cache/cache.go", content)
package chunker
