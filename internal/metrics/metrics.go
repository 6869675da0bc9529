package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/gocontext-index/internal/embedder"
	"github.com/dshills/gocontext-index/internal/state"
	"github.com/dshills/gocontext-index/pkg/types"
)

const namespace = "gocontext"

// Metrics holds every collector on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	blocksIndexed prometheus.Counter
	blocksFound   prometheus.Counter
	filesSkipped  prometheus.Counter
	batches       prometheus.Counter
	retries       *prometheus.CounterVec
	failures      *prometheus.CounterVec
	dropped       prometheus.Counter
	tokens        prometheus.Counter
	state         *prometheus.GaugeVec
	cacheWrites   *prometheus.CounterVec
}

// New creates and registers the collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_runs_total",
			Help:      "Indexing runs by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_run_duration_seconds",
			Help:      "Duration of full indexing runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
		blocksIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_indexed_total",
			Help:      "Blocks embedded and stored.",
		}),
		blocksFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_found_total",
			Help:      "Blocks produced from changed files.",
		}),
		filesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_skipped_total",
			Help:      "Files skipped because their content hash was cached.",
		}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_batches_total",
			Help:      "Successful embedding provider calls.",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_retries_total",
			Help:      "Embedding retries by error kind.",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_failures_total",
			Help:      "Terminal embedding batch failures by error kind.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_dropped_total",
			Help:      "Texts dropped for exceeding the per-item token ceiling.",
		}),
		tokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_tokens_total",
			Help:      "Prompt tokens reported by the embedding provider.",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexing_state",
			Help:      "1 for the current indexing state of a workspace, 0 otherwise.",
		}, []string{"workspace", "state"}),
		cacheWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_writes_total",
			Help:      "Cache artifact writes.",
		}, []string{"artifact"}),
	}

	m.registry.MustRegister(
		m.runs, m.runDuration, m.blocksIndexed, m.blocksFound, m.filesSkipped,
		m.batches, m.retries, m.failures, m.dropped, m.tokens, m.state, m.cacheWrites,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the metrics in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// BatcherHooks returns embedder hooks feeding the embedding collectors
func (m *Metrics) BatcherHooks() embedder.Hooks {
	if m == nil {
		return embedder.Hooks{}
	}
	return embedder.Hooks{
		OnBatch: func(_ int, usage types.Usage) {
			m.batches.Inc()
			m.tokens.Add(float64(usage.PromptTokens))
		},
		OnRetry:   func(kind types.ErrorKind) { m.retries.WithLabelValues(string(kind)).Inc() },
		OnFailure: func(kind types.ErrorKind) { m.failures.WithLabelValues(string(kind)).Inc() },
		OnDrop:    func() { m.dropped.Inc() },
	}
}

// CacheWriteHook counts cache artifact writes
func (m *Metrics) CacheWriteHook() func(artifact string) {
	if m == nil {
		return nil
	}
	return func(artifact string) { m.cacheWrites.WithLabelValues(artifact).Inc() }
}

// StateListener mirrors state transitions of a workspace into the state gauge
func (m *Metrics) StateListener(workspace string) state.Listener {
	if m == nil {
		return func(types.IndexingState, types.Status) {}
	}
	m.setState(workspace, types.StateStandby)
	return func(_ types.IndexingState, to types.Status) {
		m.setState(workspace, to.State)
	}
}

func (m *Metrics) setState(workspace string, current types.IndexingState) {
	for _, s := range []types.IndexingState{types.StateStandby, types.StateIndexing, types.StateIndexed, types.StateError} {
		v := 0.0
		if s == current {
			v = 1
		}
		m.state.WithLabelValues(workspace, string(s)).Set(v)
	}
}

// ObserveRun records the outcome of a full indexing run
func (m *Metrics) ObserveRun(outcome string, d time.Duration, stats *types.ScanStats) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(d.Seconds())
	if stats != nil {
		m.blocksFound.Add(float64(stats.BlocksFound))
		m.blocksIndexed.Add(float64(stats.BlocksIndexed))
		m.filesSkipped.Add(float64(stats.FilesSkipped))
	}
}

// ObserveIncremental records blocks stored by a watcher batch
func (m *Metrics) ObserveIncremental(blocks int) {
	if m == nil {
		return
	}
	m.blocksIndexed.Add(float64(blocks))
}
