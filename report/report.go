// Package report groups a persisted bucket snapshot by lifecycle status.
package report

import (
	"path/filepath"

	"github.com/bridgedist/bucketd/bucket"
	"github.com/bridgedist/bucketd/telemetry"
	"github.com/rs/zerolog/log"
)

// Groups holds a bucket's members by status token, in file order
type Groups struct {
	New     []bucket.Member `json:"new"`
	Running []bucket.Member `json:"running"`
	Old     []bucket.Member `json:"old"`
}

// Empty is true when there is nothing to announce (no NEW or RUNNING)
func (g Groups) Empty() bool {
	return len(g.New) == 0 && len(g.Running) == 0
}

// Len returns the total member count
func (g Groups) Len() int {
	return len(g.New) + len(g.Running) + len(g.Old)
}

// Read groups the snapshot at path. A missing file yields empty groups and
// no error; malformed lines are skipped.
func Read(path string) (Groups, error) {
	groups := Groups{
		New:     []bucket.Member{},
		Running: []bucket.Member{},
		Old:     []bucket.Member{},
	}

	members, skipped, missing, err := bucket.ReadMembers(path)
	if missing {
		log.Warn().Str("path", path).Msg("Snapshot not found")
		return groups, nil
	}
	for _, le := range skipped {
		log.Warn().Str("path", path).Int("line", le.Line).Str("reason", le.Reason).Msg("Skipping malformed snapshot line")
	}

	for _, m := range members {
		switch m.Status {
		case bucket.Admitted:
			groups.New = append(groups.New, m)
		case bucket.Active:
			groups.Running = append(groups.Running, m)
		default:
			groups.Old = append(groups.Old, m)
		}
	}

	return groups, err
}

// ReadBucket reads the snapshot of a named bucket in dir
func ReadBucket(dir, name string) (Groups, error) {
	return Read(filepath.Join(dir, name+bucket.FileExt))
}

// BucketRef names a bucket and its capacity
type BucketRef struct {
	Name     string
	Capacity int
}

// Lister reads per-status counts for a fixed set of buckets
type Lister struct {
	Dir     string
	Buckets []BucketRef
}

var _ telemetry.BucketLister = (*Lister)(nil)

// ListBucketCounts implements telemetry.BucketLister
func (l *Lister) ListBucketCounts() ([]telemetry.BucketCounts, error) {
	counts := make([]telemetry.BucketCounts, 0, len(l.Buckets))
	for _, ref := range l.Buckets {
		g, err := ReadBucket(l.Dir, ref.Name)
		if err != nil {
			return nil, err
		}
		counts = append(counts, telemetry.BucketCounts{
			Name:     ref.Name,
			Capacity: ref.Capacity,
			New:      len(g.New),
			Running:  len(g.Running),
			Old:      len(g.Old),
		})
	}
	return counts, nil
}
