package telemetry

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bridgedist/bucketd/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTelemetry(t *testing.T, textfile string) {
	t.Helper()
	original := cfg.Config
	originalRegistry := registry
	t.Cleanup(func() {
		cfg.Config = original
		registry = originalRegistry
		InitMetrics()
	})

	cfg.Config = cfg.Default()
	cfg.Config.InstanceID = "test"
	cfg.Config.Prometheus.Enabled = true
	cfg.Config.Prometheus.Textfile = textfile
	InitializeTelemetry()
}

func TestNoopWhenDisabled(t *testing.T) {
	original := cfg.Config
	originalRegistry := registry
	defer func() { cfg.Config = original; registry = originalRegistry }()

	cfg.Config = cfg.Default()
	registry = nil
	InitializeTelemetry()

	assert.Nil(t, GetMetricsHandler())
	assert.NoError(t, Flush())
	// Noop metrics accept updates without panicking
	TransitionsTotal.With("PersonA", "admit").Inc()
	UpdateBucketGauges([]BucketCounts{{Name: "PersonA", Capacity: 3, New: 1}})
}

func TestFlush_WritesTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bucketd.prom")
	withTelemetry(t, path)

	TransitionsTotal.With("PersonA", "admit").Add(2)
	UpdateBucketGauges([]BucketCounts{{Name: "PersonA", Capacity: 10, New: 2, Running: 1}})

	require.NoError(t, Flush())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `bucketd_transitions_total{bucket="PersonA",instance_id="test",op="admit"} 2`)
	assert.Contains(t, text, `bucketd_bucket_members{bucket="PersonA",instance_id="test",status="RUNNING"} 1`)
	assert.Contains(t, text, `bucketd_bucket_capacity{bucket="PersonA",instance_id="test"} 10`)
}

func TestMetricsHandler(t *testing.T) {
	withTelemetry(t, "")
	PassesTotal.With("ok").Inc()

	handler := GetMetricsHandler()
	require.NotNil(t, handler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "bucketd_passes_total"))
}

type countingLister struct {
	calls atomic.Int32
}

func (c *countingLister) ListBucketCounts() ([]BucketCounts, error) {
	c.calls.Add(1)
	return []BucketCounts{{Name: "PersonB", Capacity: 5, Old: 4}}, nil
}

func TestMetricsCollector_CollectsOnStart(t *testing.T) {
	lister := &countingLister{}
	mc := NewMetricsCollector(lister, time.Hour)
	mc.Start()
	require.Eventually(t, func() bool { return lister.calls.Load() >= 1 }, time.Second, 10*time.Millisecond)
	mc.Stop()
}
