package notify

import (
	"fmt"
	"sync/atomic"

	"github.com/bridgedist/bucketd/encoding"
	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"
)

// Key prefixes for Pebble storage
const (
	prefixLast = "/last/" // /last/{bucket}/{sink}/{recipients} -> latest Record
	prefixSent = "/sent/" // /sent/{bucket}/{20-digit-sent-at}/{sink} -> Record
)

// Record is one successful delivery
type Record struct {
	Bucket     string   `json:"bucket"`
	Sink       string   `json:"sink"`
	Recipients []string `json:"recipients"`
	Digest     uint64   `json:"digest"`
	SentAt     int64    `json:"sent_at"` // Unix nanoseconds
}

// Journal is a Pebble-backed record of delivered messages
type Journal struct {
	db     *pebble.DB
	path   string
	closed atomic.Bool
}

// OpenJournal creates or opens the journal at path
func OpenJournal(path string) (*Journal, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open dispatch journal at %s: %w", path, err)
	}
	return &Journal{db: db, path: path}, nil
}

// OpenJournalReadOnly opens an existing journal for reading
func OpenJournalReadOnly(path string) (*Journal, error) {
	db, err := pebble.Open(path, &pebble.Options{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open dispatch journal at %s: %w", path, err)
	}
	return &Journal{db: db, path: path}, nil
}

func lastKey(bucketName, sink, recipients string) []byte {
	return []byte(prefixLast + bucketName + "/" + sink + "/" + recipients)
}

func sentKey(bucketName string, sentAt int64, sink string) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d/%s", prefixSent, bucketName, sentAt, sink))
}

// Append stores a record as the latest for its bucket, sink and recipients
// and adds it to the bucket history
func (j *Journal) Append(rec Record) error {
	if j.closed.Load() {
		return fmt.Errorf("dispatch journal is closed")
	}

	val, err := encoding.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	batch := j.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(lastKey(rec.Bucket, rec.Sink, recipientKey(rec.Recipients)), val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := batch.Set(sentKey(rec.Bucket, rec.SentAt, rec.Sink), val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Last returns the latest record for a bucket, sink and recipient set
func (j *Journal) Last(bucketName, sink string, recipients []string) (Record, bool, error) {
	var rec Record
	if j.closed.Load() {
		return rec, false, fmt.Errorf("dispatch journal is closed")
	}

	val, closer, err := j.db.Get(lastKey(bucketName, sink, recipientKey(recipients)))
	if err == pebble.ErrNotFound {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, err
	}
	defer closer.Close()

	if err := encoding.Unmarshal(val, &rec); err != nil {
		return rec, false, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return rec, true, nil
}

// History returns a bucket's records, newest first. limit <= 0 returns all.
func (j *Journal) History(bucketName string, limit int) ([]Record, error) {
	if j.closed.Load() {
		return nil, fmt.Errorf("dispatch journal is closed")
	}

	prefix := []byte(prefixSent + bucketName + "/")
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	records := make([]Record, 0)
	for iter.Last(); iter.Valid(); iter.Prev() {
		if limit > 0 && len(records) >= limit {
			break
		}
		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}

		var rec Record
		if err := encoding.Unmarshal(val, &rec); err != nil {
			log.Warn().Err(err).Str("key", string(iter.Key())).Msg("Failed to unmarshal dispatch record")
			continue
		}
		records = append(records, rec)
	}

	if err := iter.Error(); err != nil {
		return nil, err
	}
	return records, nil
}

// Close closes the Pebble database
func (j *Journal) Close() error {
	if !j.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatch journal already closed")
	}
	return j.db.Close()
}

// prefixUpperBound returns the upper bound for a prefix scan
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end
		}
	}
	return nil
}
