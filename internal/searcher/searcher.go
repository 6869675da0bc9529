package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"path"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/gocontext-index/internal/vectorstore"
	"github.com/dshills/gocontext-index/pkg/types"
)

// SearchMode defines how candidates are ranked
type SearchMode string

const (
	SearchModeVector SearchMode = "vector" // cosine similarity only
	SearchModeHybrid SearchMode = "hybrid" // similarity fused with term matches (RRF)
)

const (
	DefaultLimit     = 10
	MaxLimit         = 100
	DefaultCacheSize = 1000
	DefaultCacheTTL  = time.Hour
	defaultRRF       = 60
)

// ErrEmptyQuery is returned for blank queries
var ErrEmptyQuery = errors.New("query cannot be empty")

// QueryEmbedder turns a query into a vector. *embedder.QueryEmbedder implements it.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// Index is the similarity search side of a vector store
type Index interface {
	Search(ctx context.Context, vector []float32, limit int) ([]vectorstore.Hit, error)
}

// Filters narrow the candidate set
type Filters struct {
	Kinds       []types.BlockKind
	FilePattern string  // path.Match glob or directory prefix
	MinScore    float64 // minimum cosine similarity
}

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query       string
	Limit       int
	Mode        SearchMode
	Filters     *Filters
	UseCache    bool
	CacheTTL    time.Duration
	RRFConstant float64
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results    []types.SearchResult
	Candidates int
	SearchMode SearchMode
	Duration   time.Duration
	CacheHit   bool
}

type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Searcher answers natural language queries against one workspace index
type Searcher struct {
	index    Index
	embedder QueryEmbedder
	cache    *lru.Cache[[32]byte, *cacheEntry]
	cacheMu  sync.Mutex
	now      func() time.Time
}

// NewSearcher creates a Searcher with a response cache of cacheSize entries
func NewSearcher(index Index, emb QueryEmbedder, cacheSize int) (*Searcher, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[[32]byte, *cacheEntry](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create response cache: %w", err)
	}
	return &Searcher{index: index, embedder: emb, cache: cache, now: time.Now}, nil
}

// Search embeds the query and ranks the stored blocks against it
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	start := s.now()
	if err := validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	key := computeQueryHash(req)
	if req.UseCache {
		if cached := s.checkCache(key); cached != nil {
			cached.CacheHit = true
			cached.Duration = s.now().Sub(start)
			return cached, nil
		}
	}

	vec, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	// Filters and fusion need headroom beyond the requested limit.
	fetch := req.Limit
	if req.Mode == SearchModeHybrid || req.Filters != nil {
		fetch = min(req.Limit*3, MaxLimit*3)
	}
	hits, err := s.index.Search(ctx, vec, fetch)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	hits = applyFilters(hits, req.Filters)

	var ranked []rankedHit
	switch req.Mode {
	case SearchModeHybrid:
		ranked = applyRRF(hits, queryTerms(req.Query), req.RRFConstant)
	default:
		ranked = make([]rankedHit, len(hits))
		for i, h := range hits {
			ranked[i] = rankedHit{hit: h, score: h.Score}
		}
	}

	resp := &SearchResponse{
		Results:    toResults(ranked, req.Limit),
		Candidates: len(hits),
		SearchMode: req.Mode,
	}
	resp.Duration = s.now().Sub(start)

	if req.UseCache && len(resp.Results) > 0 {
		s.storeInCache(key, resp, req.CacheTTL)
	}
	return resp, nil
}

// InvalidateCache drops every cached response. Call it when the index changes.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen returns the number of cached responses
func (s *Searcher) CacheLen() int {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.cache.Len()
}

func validateRequest(req *SearchRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return ErrEmptyQuery
	}
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}
	switch req.Mode {
	case "":
		req.Mode = SearchModeHybrid
	case SearchModeVector, SearchModeHybrid:
	default:
		return fmt.Errorf("unsupported search mode: %s", req.Mode)
	}
	if req.RRFConstant <= 0 {
		req.RRFConstant = defaultRRF
	}
	if req.CacheTTL <= 0 {
		req.CacheTTL = DefaultCacheTTL
	}
	return nil
}

func applyFilters(hits []vectorstore.Hit, f *Filters) []vectorstore.Hit {
	if f == nil {
		return hits
	}
	out := hits[:0:0]
	for _, h := range hits {
		if h.Score < f.MinScore {
			continue
		}
		if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, h.Block.Kind) {
			continue
		}
		if f.FilePattern != "" && !matchPath(f.FilePattern, h.Block.FilePath) {
			continue
		}
		out = append(out, h)
	}
	return out
}

func matchPath(pattern, p string) bool {
	if ok, err := path.Match(pattern, p); err == nil && ok {
		return true
	}
	if ok, err := path.Match(pattern, path.Base(p)); err == nil && ok {
		return true
	}
	return strings.HasPrefix(p, strings.TrimSuffix(pattern, "/")+"/")
}

type rankedHit struct {
	hit   vectorstore.Hit
	score float64
}

// applyRRF fuses the similarity order with the order by query term matches.
// RRF(d) = sum over rankings of 1/(k + rank(d))
func applyRRF(hits []vectorstore.Hit, terms []string, k float64) []rankedHit {
	ranked := make([]rankedHit, len(hits))
	for i, h := range hits {
		ranked[i] = rankedHit{hit: h, score: 1 / (k + float64(i+1))}
	}
	if len(terms) == 0 {
		return ranked
	}

	matches := make([]int, len(hits))
	order := make([]int, 0, len(hits))
	for i, h := range hits {
		matches[i] = termMatches(h.Block, terms)
		if matches[i] > 0 {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool { return matches[order[a]] > matches[order[b]] })
	for rank, i := range order {
		ranked[i].score += 1 / (k + float64(rank+1))
	}

	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].score > ranked[b].score })
	return ranked
}

func termMatches(b types.Block, terms []string) int {
	name := strings.ToLower(b.Name)
	content := strings.ToLower(b.Content)
	n := 0
	for _, t := range terms {
		if strings.Contains(name, t) {
			n += 2
		}
		n += min(strings.Count(content, t), 5)
	}
	return n
}

func queryTerms(q string) []string {
	fields := strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	terms := fields[:0]
	for _, f := range fields {
		if len(f) > 2 && !slices.Contains(terms, f) {
			terms = append(terms, f)
		}
	}
	return terms
}

func toResults(ranked []rankedHit, limit int) []types.SearchResult {
	limit = min(limit, len(ranked))
	results := make([]types.SearchResult, 0, limit)
	for i := range limit {
		b := ranked[i].hit.Block
		results = append(results, types.SearchResult{
			Rank:      i + 1,
			Score:     ranked[i].hit.Score,
			FilePath:  b.FilePath,
			StartLine: b.StartLine,
			EndLine:   b.EndLine,
			Kind:      b.Kind,
			Name:      b.Name,
			Content:   b.Content,
		})
	}
	return results
}

func (s *Searcher) checkCache(key [32]byte) *SearchResponse {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	entry, ok := s.cache.Get(key)
	if !ok {
		return nil
	}
	if s.now().After(entry.expiresAt) {
		s.cache.Remove(key)
		return nil
	}
	return copySearchResponse(entry.response)
}

func (s *Searcher) storeInCache(key [32]byte, resp *SearchResponse, ttl time.Duration) {
	entry := &cacheEntry{response: copySearchResponse(resp), expiresAt: s.now().Add(ttl)}
	s.cacheMu.Lock()
	s.cache.Add(key, entry)
	s.cacheMu.Unlock()
}

// copySearchResponse copies src; SearchResult holds only values
func copySearchResponse(src *SearchResponse) *SearchResponse {
	dst := *src
	dst.Results = slices.Clone(src.Results)
	return &dst
}

// computeQueryHash derives the cache key of a normalized request
func computeQueryHash(req SearchRequest) [32]byte {
	var data strings.Builder
	data.WriteString(req.Query)
	data.WriteString("|")
	data.WriteString(string(req.Mode))
	data.WriteString("|")
	data.WriteString(strconv.Itoa(req.Limit))
	data.WriteString("|")
	data.WriteString(strconv.FormatFloat(req.RRFConstant, 'f', -1, 64))

	if f := req.Filters; f != nil {
		kinds := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			kinds[i] = string(k)
		}
		sort.Strings(kinds)
		data.WriteString("|filters:")
		data.WriteString(strings.Join(kinds, ","))
		data.WriteString("|")
		data.WriteString(f.FilePattern)
		data.WriteString("|")
		data.WriteString(strconv.FormatFloat(f.MinScore, 'f', 4, 64))
	}
	return sha256.Sum256([]byte(data.String()))
}
