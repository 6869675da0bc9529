// Package searcher answers natural language queries against a workspace index.
//
// The query is embedded with the same provider that indexed the workspace
// (through a cached QueryEmbedder) and compared with the stored vectors.
// Two modes are available:
//
//   - vector: blocks ordered by cosine similarity
//   - hybrid (default): the similarity order fused with an order by query
//     term matches in block names and content, using Reciprocal Rank Fusion
//
// RRF score for a block d over rankings r:
//
//	score(d) = sum(1 / (k + rank_r(d)))
//
// with k = 60 unless the request sets RRFConstant.
//
// # Usage
//
//	s, _ := searcher.NewSearcher(store, queryEmbedder, 0)
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    Query:    "retry with exponential backoff",
//	    Limit:    5,
//	    UseCache: true,
//	})
//	for _, r := range resp.Results {
//	    fmt.Printf("%d. %s:%d-%d %s\n", r.Rank, r.FilePath, r.StartLine, r.EndLine, r.Name)
//	}
//
// Responses are kept in an LRU cache with a TTL. InvalidateCache must be
// called whenever the index changes; the workspace registry does it on every
// transition into the indexed state.
package searcher
