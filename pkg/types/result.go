package types

// SearchResult represents a single search hit with relevance information
type SearchResult struct {
	Rank  int     // Position in result set (1-based)
	Score float64 // Cosine similarity

	FilePath  string
	StartLine int
	EndLine   int
	Kind      BlockKind
	Name      string
	Content   string
}
