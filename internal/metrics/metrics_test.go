package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/gocontext-index/pkg/types"
)

func TestBatcherHooks(t *testing.T) {
	m := New()
	h := m.BatcherHooks()

	h.OnBatch(3, types.Usage{PromptTokens: 12, TotalTokens: 12})
	h.OnRetry(types.KindRateLimit)
	h.OnRetry(types.KindRateLimit)
	h.OnFailure(types.KindAuth)
	h.OnDrop()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.batches))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.tokens))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.retries.WithLabelValues("rate_limit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("auth")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped))
}

func TestStateListener(t *testing.T) {
	m := New()
	l := m.StateListener("/ws")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.state.WithLabelValues("/ws", "standby")))

	l(types.StateStandby, types.Status{State: types.StateIndexing})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.state.WithLabelValues("/ws", "standby")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.state.WithLabelValues("/ws", "indexing")))
}

func TestObserveRun(t *testing.T) {
	m := New()
	m.ObserveRun("success", time.Second, &types.ScanStats{BlocksFound: 10, BlocksIndexed: 9, FilesSkipped: 2})
	m.ObserveIncremental(4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("success")))
	assert.Equal(t, 13.0, testutil.ToFloat64(m.blocksIndexed))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.blocksFound))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRun("fatal", time.Second, nil)
		m.ObserveIncremental(1)
		m.StateListener("/ws")(types.StateStandby, types.Status{State: types.StateError})
		h := m.BatcherHooks()
		assert.Nil(t, h.OnBatch)
		assert.Nil(t, m.CacheWriteHook())
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.CacheWriteHook()("hashes")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `gocontext_cache_writes_total{artifact="hashes"} 1`)
}
