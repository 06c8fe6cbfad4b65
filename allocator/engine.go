// Package allocator runs reconciliation passes: it places fresh candidates
// into an ordered list of buckets and classifies every member's lifecycle.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bridgedist/bucketd/bucket"
	"github.com/bridgedist/bucketd/candidate"
	"github.com/bridgedist/bucketd/telemetry"
	"github.com/rs/zerolog/log"
)

// ErrSourceUnavailable wraps candidate store failures that abort a pass
var ErrSourceUnavailable = errors.New("candidate source unavailable")

// BucketSpec configures one bucket. Slice order is fill priority.
type BucketSpec struct {
	Name     string
	Capacity int
}

// SnapshotStore loads and saves bucket membership
type SnapshotStore interface {
	Load(b *bucket.Bucket) (bucket.LoadResult, error)
	Save(b *bucket.Bucket) error
}

// Config is everything a pass needs. Nothing is read from process state.
type Config struct {
	Buckets []BucketSpec
	Store   SnapshotStore

	// Window is the freshness window applied to candidates
	Window time.Duration

	// AbortOnSourceError aborts the pass before any bucket is touched when
	// the source query fails. By default the pass continues with no candidates.
	AbortOnSourceError bool

	// Now defaults to time.Now
	Now func() time.Time
}

// Engine owns the bucket collection for its passes. Not safe for
// concurrent use.
type Engine struct {
	config  Config
	buckets []*bucket.Bucket
}

// New validates config and creates empty buckets
func New(config Config) (*Engine, error) {
	if len(config.Buckets) == 0 {
		return nil, fmt.Errorf("at least one bucket is required")
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	seen := make(map[string]bool, len(config.Buckets))
	buckets := make([]*bucket.Bucket, 0, len(config.Buckets))
	for _, spec := range config.Buckets {
		if spec.Name == "" {
			return nil, fmt.Errorf("bucket name is required")
		}
		if spec.Capacity < 1 {
			return nil, fmt.Errorf("bucket %s: capacity must be >= 1", spec.Name)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("duplicate bucket name: %s", spec.Name)
		}
		seen[spec.Name] = true
		buckets = append(buckets, bucket.New(spec.Name, spec.Capacity))
	}

	return &Engine{config: config, buckets: buckets}, nil
}

// Buckets returns the buckets in fill order
func (e *Engine) Buckets() []*bucket.Bucket {
	return e.buckets
}

// Bucket returns the bucket with the given name
func (e *Engine) Bucket(name string) (*bucket.Bucket, bool) {
	for _, b := range e.buckets {
		if b.Name() == name {
			return b, true
		}
	}
	return nil, false
}

// Reconcile resets every bucket and assigns candidates greedily: candidates
// in order, each offered to the buckets in order, first matching bucket
// wins. Candidates must already be filtered.
func (e *Engine) Reconcile(candidates []candidate.Candidate) *Result {
	res := newResult(e.buckets)

	for _, b := range e.buckets {
		b.ResetForPass()
	}

	for _, c := range candidates {
		if !e.place(c, res) {
			res.Dropped++
		}
	}

	res.collect(e.buckets)
	return res
}

// place offers c to the buckets in order and applies the first matching
// case. Returns false when no bucket took any action.
func (e *Engine) place(c candidate.Candidate, res *Result) bool {
	for i, b := range e.buckets {
		stats := &res.Buckets[i]
		member := b.Contains(c.IdentityKey)

		switch {
		case member && b.NeedsMore():
			changed, err := b.Confirm(c)
			if err != nil {
				log.Error().Err(err).Msg("Confirm failed")
				return true
			}
			if changed {
				stats.Readmitted++
			} else {
				stats.Confirmed++
			}
			return true

		case b.NeedsMore():
			if err := b.Admit(c); err != nil {
				log.Error().Err(err).Msg("Admit failed")
				return true
			}
			stats.Admitted++
			return true

		case member:
			// Full and no longer hungry: drop it here, it is not moved on
			b.Evict(c.IdentityKey)
			stats.Evicted++
			return true
		}
	}
	return false
}

// Run performs a full pass: query, filter, load, reconcile, save.
// The returned error is non-nil only when the pass was aborted; per-bucket
// load and save failures are reported in the Result.
func (e *Engine) Run(ctx context.Context, src candidate.Source) (*Result, error) {
	start := time.Now()

	if e.config.Store == nil {
		return nil, fmt.Errorf("snapshot store is required")
	}

	all, srcErr := src.ListCandidates(ctx)
	if srcErr != nil {
		telemetry.SourceErrorsTotal.Inc()
		if e.config.AbortOnSourceError {
			telemetry.PassesTotal.With("aborted").Inc()
			log.Error().Err(srcErr).Msg("Candidate source failed, aborting pass")
			return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, srcErr)
		}
		log.Error().Err(srcErr).Msg("Candidate source failed, continuing with no candidates")
		all = nil
	}

	fresh := candidate.Fresh(all, e.config.Window, e.config.Now())

	loadErrs := make(map[string]error)
	for _, b := range e.buckets {
		if _, err := e.config.Store.Load(b); err != nil {
			log.Error().Err(err).Str("bucket", b.Name()).Msg("Snapshot load incomplete")
			loadErrs[b.Name()] = err
		}
	}

	res := e.Reconcile(fresh)
	res.Queried = len(all)
	res.Fresh = len(fresh)
	res.SourceErr = srcErr
	res.LoadErrors = loadErrs

	for _, b := range e.buckets {
		// A partial read must never replace the file
		if _, failed := loadErrs[b.Name()]; failed {
			log.Warn().Str("bucket", b.Name()).Msg("Snapshot left unchanged after incomplete load")
			continue
		}
		if err := e.config.Store.Save(b); err != nil {
			log.Error().Err(err).Str("bucket", b.Name()).Msg("Failed to save snapshot")
			res.SaveErrors[b.Name()] = err
		}
	}

	res.Duration = time.Since(start)
	res.record()
	res.log()

	return res, nil
}
