package candidate

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// StoreTimeLayout is the timestamp format written by the bridge database
const StoreTimeLayout = "2006-01-02 15:04"

var naiveLayouts = []string{
	StoreTimeLayout,
	"2006-01-02 15:04:05",
}

// ParseSeen parses a first/last-seen timestamp. Store layouts without a zone
// are read in local time; RFC 3339 values carry their own offset.
func ParseSeen(value string) (time.Time, error) {
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, nil
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unparsable timestamp %q", value)
}

// Fresh keeps unallocated candidates last seen within window of now, in
// input order. Unparsable timestamps count as stale. Only the first
// occurrence of an identity key is kept.
func Fresh(candidates []Candidate, window time.Duration, now time.Time) []Candidate {
	kept := make([]Candidate, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))

	for _, c := range candidates {
		if c.Distributor != Unallocated {
			continue
		}

		lastSeen, err := ParseSeen(c.LastSeen)
		if err != nil {
			log.Debug().Str("key", c.IdentityKey).Err(err).Msg("Skipping candidate with bad last-seen")
			continue
		}
		if now.Sub(lastSeen) > window {
			continue
		}

		if _, dup := seen[c.IdentityKey]; dup {
			log.Debug().Str("key", c.IdentityKey).Msg("Skipping duplicate candidate")
			continue
		}
		seen[c.IdentityKey] = struct{}{}
		kept = append(kept, c)
	}

	return kept
}

// Window converts a day count into a freshness window
func Window(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
