package telemetry

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// BucketCounts is a per-status member count for one bucket
type BucketCounts struct {
	Name     string
	Capacity int
	New      int
	Running  int
	Old      int
}

// BucketLister provides current bucket counts, usually read from snapshots
type BucketLister interface {
	ListBucketCounts() ([]BucketCounts, error)
}

// UpdateBucketGauges publishes member and capacity gauges
func UpdateBucketGauges(counts []BucketCounts) {
	for _, c := range counts {
		BucketMembers.With(c.Name, "NEW").Set(float64(c.New))
		BucketMembers.With(c.Name, "RUNNING").Set(float64(c.Running))
		BucketMembers.With(c.Name, "OLD").Set(float64(c.Old))
		BucketCapacity.With(c.Name).Set(float64(c.Capacity))
	}
}

// MetricsCollector periodically reads bucket counts and updates gauges.
// Used by long-running modes where no pass updates them.
type MetricsCollector struct {
	lister   BucketLister
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(lister BucketLister, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		lister:   lister,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.lister == nil {
		return
	}

	counts, err := mc.lister.ListBucketCounts()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to collect bucket counts")
		return
	}
	UpdateBucketGauges(counts)
}
