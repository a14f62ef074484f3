package prometheus

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittokv/pkg/metrics"
)

var errBoom = errors.New("boom")

func TestCatalogMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newCatalogMetrics(reg)

	m.RecordOperation("CreateStore", time.Millisecond, nil)
	m.RecordOperation("CreateStore", time.Millisecond, errBoom)
	m.RecordOperation("MergeStore", time.Millisecond, nil)
	m.SetStores(2, 5)
	m.RecordReplay(42, time.Second, nil)
	m.RecordReplay(0, time.Second, errBoom)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("CreateStore", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("CreateStore", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.stores.WithLabelValues("incomplete")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.stores.WithLabelValues("complete")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.replayEntries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.replayFailures))
}

func TestJournalMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newJournalMetrics(reg)

	m.RecordFlush(3, 120, time.Millisecond, nil)
	m.RecordFlush(1, 40, time.Millisecond, errBoom)
	m.RecordCheckpoint(10, 500, time.Second, nil)
	m.RecordLogSealed()
	m.SetNextSequence(77)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.flushedEntries))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.flushedBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.flushesTotal.WithLabelValues("error")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.checkpointEntries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logsSealed))
	assert.Equal(t, 77.0, testutil.ToFloat64(m.nextSequence))
}

func TestGCMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newGCMetrics(reg)

	m.RecordCycle(time.Second, nil)
	m.RecordDeletion("log", nil)
	m.RecordDeletion("log", errBoom)
	m.RecordRetained("checkpoint", "too-young")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.cyclesTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deletions.WithLabelValues("log", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deletions.WithLabelValues("log", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retained.WithLabelValues("checkpoint", "too-young")))

	expected := `
# HELP dittokv_gc_retained_total Total number of journal artifacts kept by a GC cycle, by kind and reason
# TYPE dittokv_gc_retained_total counter
dittokv_gc_retained_total{kind="checkpoint",reason="too-young"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "dittokv_gc_retained_total"))
}

func TestStorageMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newStorageMetrics(reg)

	m.ObserveOperation("s3", "put", time.Millisecond, 1024, nil)
	m.ObserveOperation("s3", "put", time.Millisecond, 1024, errBoom)
	m.ObserveOperation("s3", "delete", time.Millisecond, 0, nil)

	assert.Equal(t, 1024.0, testutil.ToFloat64(m.bytesTotal.WithLabelValues("s3", "put")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("s3", "put", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("s3", "delete", "success")))
}

func TestConstructorsWithoutRegistry(t *testing.T) {
	if metrics.IsEnabled() {
		t.Skip("global registry already initialized")
	}

	assert.Equal(t, metrics.NewNoopCatalogMetrics(), NewCatalogMetrics())
	assert.Equal(t, metrics.NewNoopJournalMetrics(), NewJournalMetrics())
	assert.Equal(t, metrics.NewNoopGCMetrics(), NewGCMetrics())
	assert.Equal(t, metrics.NewNoopStorageMetrics(), NewStorageMetrics())
}
