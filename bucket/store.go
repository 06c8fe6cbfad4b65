package bucket

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bridgedist/bucketd/telemetry"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

const (
	historyDirName = "history"
	historyExt     = FileExt + ".zst"
	historyStamp   = 20 // zero padded unix nanos
)

// LoadResult summarizes one snapshot load
type LoadResult struct {
	Loaded  int
	Skipped []LineError
	Missing bool
}

// Store persists buckets as one text file per bucket in a directory
type Store struct {
	dir         string
	historyKeep int
	now         func() time.Time
}

// NewStore creates a store rooted at dir. When historyKeep > 0 the previous
// snapshot is archived before every save.
func NewStore(dir string, historyKeep int) *Store {
	return &Store{dir: dir, historyKeep: historyKeep, now: time.Now}
}

// Dir returns the snapshot directory
func (s *Store) Dir() string { return s.dir }

// Path returns the snapshot file for a bucket name
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+FileExt)
}

// ReadMembers reads a snapshot file in file order. A missing file yields no
// members and missing=true.
func ReadMembers(path string) (members []Member, skipped []LineError, missing bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, true, nil
		}
		return nil, nil, false, fmt.Errorf("failed to open snapshot %s: %w", path, err)
	}
	defer f.Close()

	members, skipped, err = Decode(f)
	if err != nil {
		err = fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}
	return members, skipped, false, err
}

// Load replaces b's membership with its snapshot. Missing files and
// malformed lines degrade to fewer members and are logged. A non-nil error
// means the read stopped early; b then holds the lines read before it.
func (s *Store) Load(b *Bucket) (LoadResult, error) {
	path := s.Path(b.Name())
	members, skipped, missing, err := ReadMembers(path)

	b.Replace(members)
	res := LoadResult{Loaded: b.Len(), Skipped: skipped, Missing: missing}

	if missing {
		log.Warn().Str("bucket", b.Name()).Str("path", path).Msg("Snapshot not found, starting empty")
	}
	for _, le := range skipped {
		log.Warn().
			Str("bucket", b.Name()).
			Int("line", le.Line).
			Str("reason", le.Reason).
			Msg("Skipping malformed snapshot line")
		telemetry.SnapshotErrorsTotal.With(b.Name(), "malformed").Inc()
	}
	if err != nil {
		telemetry.SnapshotErrorsTotal.With(b.Name(), "load").Inc()
	}

	return res, err
}

// Save writes b's membership atomically (temp file, fsync, rename)
func (s *Store) Save(b *Bucket) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		telemetry.SnapshotErrorsTotal.With(b.Name(), "save").Inc()
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	path := s.Path(b.Name())

	if s.historyKeep > 0 {
		if err := s.archive(b.Name(), path); err != nil {
			// History is best effort
			log.Warn().Err(err).Str("bucket", b.Name()).Msg("Failed to archive previous snapshot")
			telemetry.SnapshotErrorsTotal.With(b.Name(), "history").Inc()
		}
	}

	if err := writeAtomic(path, b.Members()); err != nil {
		telemetry.SnapshotErrorsTotal.With(b.Name(), "save").Inc()
		return err
	}
	return nil
}

func writeAtomic(path string, members []Member) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if err := Encode(tmp, members); err != nil {
		cleanup()
		return fmt.Errorf("failed to write snapshot %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync snapshot %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close snapshot %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod snapshot %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace snapshot %s: %w", path, err)
	}
	return nil
}

// archive compresses the current snapshot into the history directory and
// prunes old archives. No-op when there is no current snapshot.
func (s *Store) archive(name, path string) error {
	src, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	defer src.Close()

	histDir := filepath.Join(s.dir, historyDirName)
	if err := os.MkdirAll(histDir, 0755); err != nil {
		return err
	}

	target := filepath.Join(histDir, fmt.Sprintf("%s.%0*d%s", name, historyStamp, s.now().UnixNano(), historyExt))
	dst, err := os.Create(target)
	if err != nil {
		return err
	}

	enc, err := zstd.NewWriter(dst)
	if err != nil {
		dst.Close()
		os.Remove(target)
		return err
	}
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		dst.Close()
		os.Remove(target)
		return err
	}
	if err := enc.Close(); err != nil {
		dst.Close()
		os.Remove(target)
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	return s.prune(name)
}

// History returns archived snapshot paths for name, oldest first
func (s *Store) History(name string) ([]string, error) {
	histDir := filepath.Join(s.dir, historyDirName)
	entries, err := os.ReadDir(histDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !isArchiveOf(e.Name(), name) {
			continue
		}
		paths = append(paths, filepath.Join(histDir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *Store) prune(name string) error {
	paths, err := s.History(name)
	if err != nil {
		return err
	}
	for len(paths) > s.historyKeep {
		if err := os.Remove(paths[0]); err != nil {
			return err
		}
		paths = paths[1:]
	}
	return nil
}

// isArchiveOf matches "<name>.<stamp>.brdgs.zst" exactly
func isArchiveOf(file, name string) bool {
	if !strings.HasPrefix(file, name+".") || !strings.HasSuffix(file, historyExt) {
		return false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(file, name+"."), historyExt)
	if len(stamp) != historyStamp {
		return false
	}
	for _, r := range stamp {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ReadArchive decompresses one history archive
func ReadArchive(path string) ([]Member, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	members, _, err := Decode(dec)
	return members, err
}
