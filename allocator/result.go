package allocator

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bridgedist/bucketd/bucket"
	"github.com/bridgedist/bucketd/telemetry"
	"github.com/rs/zerolog/log"
)

// BucketStats summarizes one bucket after a pass
type BucketStats struct {
	Name     string
	Capacity int

	// Operations applied this pass
	Admitted   int
	Confirmed  int
	Readmitted int
	Evicted    int

	// Membership after the pass
	New       int
	Running   int
	Old       int
	Occupancy int
}

// Members returns the total member count
func (s BucketStats) Members() int {
	return s.New + s.Running + s.Old
}

// Result describes one pass
type Result struct {
	Buckets []BucketStats

	Queried int // Candidates returned by the source
	Fresh   int // Candidates left after filtering
	Dropped int // Fresh candidates no bucket acted on

	SourceErr  error
	LoadErrors map[string]error
	SaveErrors map[string]error
	Duration   time.Duration
}

func newResult(buckets []*bucket.Bucket) *Result {
	res := &Result{
		Buckets:    make([]BucketStats, len(buckets)),
		LoadErrors: make(map[string]error),
		SaveErrors: make(map[string]error),
	}
	for i, b := range buckets {
		res.Buckets[i] = BucketStats{Name: b.Name(), Capacity: b.Capacity()}
	}
	return res
}

func (r *Result) collect(buckets []*bucket.Bucket) {
	for i, b := range buckets {
		counts := b.CountByStatus()
		r.Buckets[i].New = counts[bucket.Admitted]
		r.Buckets[i].Running = counts[bucket.Active]
		r.Buckets[i].Old = counts[bucket.Stale]
		r.Buckets[i].Occupancy = b.Occupancy()
	}
}

// Stats returns the stats for a bucket name
func (r *Result) Stats(name string) (BucketStats, bool) {
	for _, s := range r.Buckets {
		if s.Name == name {
			return s, true
		}
	}
	return BucketStats{}, false
}

// Degraded reports whether the pass completed with recoverable failures
func (r *Result) Degraded() bool {
	return r.SourceErr != nil || len(r.LoadErrors) > 0 || len(r.SaveErrors) > 0
}

// SaveErr joins every save failure, sorted by bucket name
func (r *Result) SaveErr() error {
	if len(r.SaveErrors) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.SaveErrors))
	for name := range r.SaveErrors {
		names = append(names, name)
	}
	sort.Strings(names)

	errs := make([]error, 0, len(names))
	for _, name := range names {
		errs = append(errs, fmt.Errorf("bucket %s: %w", name, r.SaveErrors[name]))
	}
	return errors.Join(errs...)
}

func (r *Result) record() {
	result := "ok"
	if r.Degraded() {
		result = "degraded"
	}
	telemetry.PassesTotal.With(result).Inc()
	telemetry.PassDurationSeconds.Observe(r.Duration.Seconds())
	telemetry.CandidatesTotal.With("queried").Add(float64(r.Queried))
	telemetry.CandidatesTotal.With("fresh").Add(float64(r.Fresh))
	telemetry.CandidatesTotal.With("dropped").Add(float64(r.Dropped))

	counts := make([]telemetry.BucketCounts, 0, len(r.Buckets))
	for _, s := range r.Buckets {
		telemetry.TransitionsTotal.With(s.Name, "admit").Add(float64(s.Admitted))
		telemetry.TransitionsTotal.With(s.Name, "confirm").Add(float64(s.Confirmed))
		telemetry.TransitionsTotal.With(s.Name, "readmit").Add(float64(s.Readmitted))
		telemetry.TransitionsTotal.With(s.Name, "evict").Add(float64(s.Evicted))
		counts = append(counts, telemetry.BucketCounts{
			Name:     s.Name,
			Capacity: s.Capacity,
			New:      s.New,
			Running:  s.Running,
			Old:      s.Old,
		})
	}
	telemetry.UpdateBucketGauges(counts)
	telemetry.LastPassTimestamp.SetToCurrentTime()
}

func (r *Result) log() {
	for _, s := range r.Buckets {
		log.Info().
			Str("bucket", s.Name).
			Int("capacity", s.Capacity).
			Int("admitted", s.Admitted).
			Int("confirmed", s.Confirmed).
			Int("readmitted", s.Readmitted).
			Int("evicted", s.Evicted).
			Int("new", s.New).
			Int("running", s.Running).
			Int("old", s.Old).
			Msg("Bucket reconciled")
	}

	log.Info().
		Int("queried", r.Queried).
		Int("fresh", r.Fresh).
		Int("dropped", r.Dropped).
		Bool("degraded", r.Degraded()).
		Dur("duration", r.Duration).
		Msg("Reconciliation pass complete")
}
