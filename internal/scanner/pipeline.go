package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/gocontext-index/internal/embedder"
	"github.com/dshills/gocontext-index/internal/vectorstore"
	"github.com/dshills/gocontext-index/pkg/types"
)

// SegmentError is reported through Callbacks.OnBatchError
type SegmentError struct {
	ID     string
	Kind   types.ErrorKind
	Blocks int // blocks left unindexed
	Err    error
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("segment %s (%d blocks, %s): %v", e.ID, e.Blocks, e.Kind, e.Err)
}

func (e *SegmentError) Unwrap() error { return e.Err }

// parsedFile is the chunker output for one changed file
type parsedFile struct {
	path   string
	hash   string
	blocks []types.Block
}

// fileState tracks blocks of a file that are still in flight
type fileState struct {
	hash      string
	remaining int
	failed    bool
}

// segment is one unit of embedding work
type segment struct {
	id     int
	blocks []types.Block
	fresh  []string // files whose first blocks are in this segment
}

// run holds the mutable state of one process call
type run struct {
	s  *DirectoryScanner
	cb Callbacks

	mu      sync.Mutex
	stats   types.ScanStats
	issues  types.IssueLog
	files   map[string]*fileState
	found   int
	indexed int
}

// process reads, chunks, embeds and stores files. Reading and chunking run
// on Workers goroutines while segments are embedded EmbedConcurrency at a time.
func (s *DirectoryScanner) process(ctx context.Context, files []string, cb Callbacks) (*types.ScanStats, error) {
	r := &run{s: s, cb: cb, files: make(map[string]*fileState)}
	r.stats.FilesFound = len(files)

	g, gctx := errgroup.WithContext(ctx)
	parsed := make(chan parsedFile, s.opts.Workers)

	g.Go(func() error {
		defer close(parsed)
		pg, pctx := errgroup.WithContext(gctx)
		pg.SetLimit(s.opts.Workers)
		for _, path := range files {
			pg.Go(func() error {
				pf, ok := r.parse(path)
				if !ok {
					return nil
				}
				select {
				case parsed <- pf:
					return nil
				case <-pctx.Done():
					return pctx.Err()
				}
			})
		}
		return pg.Wait()
	})

	g.Go(func() error {
		return r.assemble(gctx, parsed)
	})

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	stats := r.stats
	stats.Issues = r.issues.Issues()
	return &stats, err
}

// parse reads and chunks one file. Unchanged files are counted as skipped
// and return false.
func (r *run) parse(path string) (parsedFile, bool) {
	s := r.s
	data, err := os.ReadFile(s.Abs(path))
	if err != nil {
		r.mu.Lock()
		r.stats.FilesFailed++
		r.issues.Add(types.KindUnknown, fmt.Sprintf("read %s: %v", path, err))
		r.mu.Unlock()
		s.logger.Warn("failed to read file", slog.String("path", path), slog.String("error", err.Error()))
		return parsedFile{}, false
	}

	hash := types.ContentHash(data)
	if cached, ok := s.cache.Hash(path); ok && cached == hash {
		r.mu.Lock()
		r.stats.FilesSkipped++
		r.mu.Unlock()
		return parsedFile{}, false
	}

	blocks := s.chunker.Chunk(path, data)
	valid := blocks[:0]
	for _, b := range blocks {
		if err := b.Validate(); err != nil {
			s.logger.Warn("skipping invalid block",
				slog.String("path", path),
				slog.Int("line", b.StartLine),
				slog.String("error", err.Error()))
			continue
		}
		valid = append(valid, b)
	}
	return parsedFile{path: path, hash: hash, blocks: valid}, true
}

// assemble packs parsed files into segments in arrival order and dispatches
// them. A file's remaining count is fully set before any of its segments
// is dispatched.
func (r *run) assemble(ctx context.Context, parsed <-chan parsedFile) error {
	s := r.s
	eg := new(errgroup.Group)
	eg.SetLimit(s.opts.EmbedConcurrency)

	var cur segment
	seq := 0
	dispatch := func() {
		if len(cur.blocks) == 0 {
			return
		}
		seq++
		seg := cur
		seg.id = seq
		cur = segment{}

		// Old points go before any segment of the file can store new ones.
		// Later segments of the same file are built after this call returns.
		if len(seg.fresh) > 0 {
			if err := s.store.DeleteByFiles(ctx, seg.fresh); err != nil {
				r.failSegment(seg, seg.blocks, fmt.Sprintf("segment-%d", seg.id), types.KindUnknown,
					fmt.Errorf("vector store delete: %w", err))
				r.settle(seg.blocks)
				return
			}
		}

		eg.Go(func() error {
			r.embedSegment(ctx, seg)
			return nil
		})
	}

	for pf := range parsed {
		r.mu.Lock()
		if r.cb.OnFileParsed != nil {
			r.cb.OnFileParsed(len(pf.blocks))
		}
		r.found += len(pf.blocks)
		r.stats.BlocksFound += len(pf.blocks)
		r.mu.Unlock()

		if len(pf.blocks) == 0 {
			r.finishEmptyFile(ctx, pf)
			continue
		}

		r.mu.Lock()
		r.files[pf.path] = &fileState{hash: pf.hash, remaining: len(pf.blocks)}
		r.mu.Unlock()

		cur.fresh = append(cur.fresh, pf.path)
		for _, b := range pf.blocks {
			cur.blocks = append(cur.blocks, b)
			if len(cur.blocks) >= s.opts.BatchSegmentSize {
				dispatch()
			}
		}
		if ctx.Err() != nil {
			break
		}
	}
	dispatch()

	if err := eg.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// finishEmptyFile handles a changed file that yields no blocks: its old
// points go away and its hash is recorded
func (r *run) finishEmptyFile(ctx context.Context, pf parsedFile) {
	s := r.s
	if err := s.store.DeleteByFiles(ctx, []string{pf.path}); err != nil {
		r.mu.Lock()
		r.stats.FilesFailed++
		r.issues.Add(types.KindUnknown, fmt.Sprintf("delete %s: %v", pf.path, err))
		r.mu.Unlock()
		return
	}
	s.cache.UpdateHash(pf.path, pf.hash)
	r.mu.Lock()
	r.stats.FilesIndexed++
	r.mu.Unlock()
}

// embedSegment embeds and stores one segment. Failures are recorded, never
// returned.
func (r *run) embedSegment(ctx context.Context, seg segment) {
	s := r.s
	if ctx.Err() != nil {
		r.mu.Lock()
		r.markFailed(seg.blocks)
		r.mu.Unlock()
		r.settle(seg.blocks)
		return
	}

	texts := make([]string, len(seg.blocks))
	for i := range seg.blocks {
		texts[i] = seg.blocks[i].EmbeddingText()
	}

	res, embedErr := s.embedder.Embed(ctx, texts)
	if res == nil {
		res = &embedder.Result{}
	}

	points := make([]vectorstore.Point, 0, len(res.Indices))
	done := make(map[int]bool, len(res.Indices)+len(res.Dropped))
	for i, idx := range res.Indices {
		points = append(points, vectorstore.NewPoint(seg.blocks[idx], res.Embeddings[i]))
		done[idx] = true
	}

	if len(points) > 0 {
		if err := s.store.Upsert(ctx, points); err != nil {
			r.failSegment(seg, seg.blocks, fmt.Sprintf("segment-%d", seg.id), types.KindUnknown,
				fmt.Errorf("vector store upsert: %w", err))
			r.settle(seg.blocks)
			return
		}
	}

	for _, idx := range res.Dropped {
		done[idx] = true
	}

	r.mu.Lock()
	r.indexed += len(points)
	r.stats.BlocksIndexed += len(points)
	r.stats.BlocksDropped += len(res.Dropped)
	r.stats.Usage.Add(res.Usage)
	if len(points) > 0 && r.cb.OnBlocksIndexed != nil {
		r.cb.OnBlocksIndexed(len(points))
	}
	if len(res.Dropped) > 0 && r.cb.OnBlocksDropped != nil {
		r.cb.OnBlocksDropped(len(res.Dropped))
	}
	s.cache.UpdateProgress(r.indexed, r.found)
	r.mu.Unlock()

	var missed []types.Block
	for i := range seg.blocks {
		if !done[i] {
			missed = append(missed, seg.blocks[i])
		}
	}
	if embedErr != nil || len(missed) > 0 {
		if embedErr == nil {
			embedErr = errors.New("embedding missing for some blocks")
		}
		id := fmt.Sprintf("segment-%d", seg.id)
		var be *embedder.BatchError
		if errors.As(embedErr, &be) {
			id = be.BatchID
		}
		r.failSegment(seg, missed, id, embedder.Classify(embedErr), embedErr)
	}

	r.settle(seg.blocks)
}

// failSegment records a segment failure and marks the files of the missed
// blocks as failed so their hashes stay out of the cache
func (r *run) failSegment(seg segment, missed []types.Block, id string, kind types.ErrorKind, err error) {
	s := r.s
	msg := err.Error()
	s.cache.RecordFailedBatch(id, msg)
	s.logger.Error("segment failed",
		slog.Int("segment", seg.id),
		slog.Int("blocks", len(missed)),
		slog.String("kind", string(kind)),
		slog.String("error", msg))

	r.mu.Lock()
	r.issues.Add(kind, msg)
	r.markFailed(missed)
	if r.cb.OnBatchError != nil {
		r.cb.OnBatchError(&SegmentError{ID: id, Kind: kind, Blocks: len(missed), Err: err})
	}
	r.mu.Unlock()
}

// markFailed flags the files of blocks; callers hold r.mu
func (r *run) markFailed(blocks []types.Block) {
	for i := range blocks {
		if st := r.files[blocks[i].FilePath]; st != nil {
			st.failed = true
		}
	}
}

// settle counts down the blocks of each file and records the file hash once
// all of its blocks are stored
func (r *run) settle(blocks []types.Block) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range blocks {
		path := blocks[i].FilePath
		st := r.files[path]
		if st == nil {
			continue
		}
		st.remaining--
		if st.remaining > 0 {
			continue
		}
		delete(r.files, path)
		if st.failed {
			r.stats.FilesFailed++
			continue
		}
		r.s.cache.UpdateHash(path, st.hash)
		r.stats.FilesIndexed++
	}
}
