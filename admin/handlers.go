package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bridgedist/bucketd/bucket"
	"github.com/bridgedist/bucketd/notify"
	"github.com/bridgedist/bucketd/report"
	"github.com/rs/zerolog/log"
)

// AdminHandlers serves read-only views of bucket snapshots and the
// dispatch journal
type AdminHandlers struct {
	dir         string
	buckets     []report.BucketRef
	journalPath string
}

// NewAdminHandlers creates a new AdminHandlers instance. journalPath may be
// empty when no journal is kept.
func NewAdminHandlers(dir string, buckets []report.BucketRef, journalPath string) *AdminHandlers {
	return &AdminHandlers{
		dir:         dir,
		buckets:     buckets,
		journalPath: journalPath,
	}
}

// bucketSummary is one row of the bucket listing
type bucketSummary struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
	New      int    `json:"new"`
	Running  int    `json:"running"`
	Old      int    `json:"old"`
}

// bucketDetail is a bucket with its members in identity key order
type bucketDetail struct {
	Name     string          `json:"name"`
	Capacity int             `json:"capacity"`
	Members  []bucket.Member `json:"members"`
	Skipped  int             `json:"skipped_lines"`
}

// dispatchRecord is a journal record with a readable timestamp
type dispatchRecord struct {
	Sink       string   `json:"sink"`
	Recipients []string `json:"recipients"`
	Digest     string   `json:"digest"`
	SentAt     string   `json:"sent_at"`
}

func (h *AdminHandlers) lookup(name string) (report.BucketRef, bool) {
	for _, ref := range h.buckets {
		if ref.Name == name {
			return ref, true
		}
	}
	return report.BucketRef{}, false
}

func (h *AdminHandlers) handleListBuckets(w http.ResponseWriter, r *http.Request) {
	lister := &report.Lister{Dir: h.dir, Buckets: h.buckets}
	counts, err := lister.ListBucketCounts()
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]bucketSummary, 0, len(counts))
	for _, c := range counts {
		out = append(out, bucketSummary{
			Name:     c.Name,
			Capacity: c.Capacity,
			New:      c.New,
			Running:  c.Running,
			Old:      c.Old,
		})
	}
	writeJSONResponse(w, out)
}

func (h *AdminHandlers) handleBucket(w http.ResponseWriter, r *http.Request, ref report.BucketRef) {
	members, skipped, _, err := bucket.ReadMembers(filepath.Join(h.dir, ref.Name+bucket.FileExt))
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	b := bucket.New(ref.Name, ref.Capacity)
	b.Replace(members)
	writeJSONResponse(w, bucketDetail{
		Name:     ref.Name,
		Capacity: ref.Capacity,
		Members:  b.Members(),
		Skipped:  len(skipped),
	})
}

func (h *AdminHandlers) handleGroups(w http.ResponseWriter, r *http.Request, ref report.BucketRef) {
	groups, err := report.ReadBucket(h.dir, ref.Name)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONResponse(w, groups)
}

func (h *AdminHandlers) handleDispatches(w http.ResponseWriter, r *http.Request, ref report.BucketRef) {
	limit, err := parseLimit(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	out := make([]dispatchRecord, 0)
	if h.journalPath == "" {
		writeJSONResponse(w, out)
		return
	}
	if _, err := os.Stat(h.journalPath); os.IsNotExist(err) {
		writeJSONResponse(w, out)
		return
	}

	// Opened per request; a running mail pass holds the write lock
	j, err := notify.OpenJournalReadOnly(h.journalPath)
	if err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "dispatch journal unavailable")
		log.Warn().Err(err).Msg("Failed to open dispatch journal")
		return
	}
	defer j.Close()

	records, err := j.History(ref.Name, limit)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, rec := range records {
		out = append(out, dispatchRecord{
			Sink:       rec.Sink,
			Recipients: rec.Recipients,
			Digest:     fmt.Sprintf("%016x", rec.Digest),
			SentAt:     formatTimestamp(rec.SentAt),
		})
	}
	writeJSONResponse(w, out)
}

// writeJSONResponse writes a JSON response wrapped in a data envelope
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"error": message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// parseLimit parses limit parameter with defaults
func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return 50, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}
	if limit < 1 {
		return 0, fmt.Errorf("limit must be positive")
	}
	if limit > 1024 {
		return 0, fmt.Errorf("limit cannot exceed 1024")
	}
	return limit, nil
}

// formatTimestamp converts nanoseconds to ISO 8601 string
func formatTimestamp(nanos int64) string {
	if nanos == 0 {
		return ""
	}
	return time.Unix(0, nanos).UTC().Format(time.RFC3339Nano)
}
