package schedule

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.yaml.in/yaml/v3"

	logx "seobot/pkg/logx"
)

var (
	// ErrPersistence marks a failed read or write of the backing file. The
	// in-memory list is left as it was after the last successful write.
	ErrPersistence = errors.New("schedule persistence failed")

	ErrInvalidRecord = errors.New("invalid schedule record")
)

// Store is the file-backed schedule list. Every mutation re-reads the whole
// file, applies the change and atomically rewrites it; the file is not
// locked, so concurrent external edits are last-writer-wins.
type Store struct {
	path string
	log  logx.Logger
	now  func() time.Time

	mu      sync.Mutex
	records []Record
	hash    string
}

func NewStore(path string, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{
		path: strings.TrimSpace(path),
		log:  log.With(logx.String("comp", "schedule.store")),
		now:  time.Now,
	}
}

func (s *Store) Path() string { return s.path }

// Load re-reads the backing file. changed reports whether the content differs
// from what the store last read or wrote. A missing file is an empty list.
func (s *Store) Load() (changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, h, err := s.readLocked()
	if err != nil {
		return false, err
	}
	if h == s.hash && s.records != nil {
		return false, nil
	}
	if n := s.assignMissingIDs(recs); n > 0 {
		// Persist the ids so the records can be listed and removed.
		if err := s.writeLocked(recs); err != nil {
			s.log.Warn("assigned schedule ids not saved", logx.Int("records", n), logx.Err(err))
		} else {
			s.log.Info("assigned ids to schedules without one", logx.Int("records", n))
			return true, nil
		}
	}
	s.records = recs
	s.hash = h
	return true, nil
}

// assignMissingIDs gives every record without an id a fresh one, in place.
func (s *Store) assignMissingIDs(recs []Record) int {
	n := 0
	for i := range recs {
		if strings.TrimSpace(recs[i].ID) == "" {
			recs[i].ID = newID(recs[i].Target, s.now(), recs)
			n++
		}
	}
	return n
}

// List returns a copy of the records in file order.
func (s *Store) List() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

// Get returns the record with the given id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

// normalize trims r, requires a target and a destination and canonicalizes
// the recurrence.
func normalize(r Record) (Record, error) {
	r.Target = strings.TrimSpace(r.Target)
	r.Destination = strings.TrimSpace(r.Destination)
	r.ID = strings.TrimSpace(r.ID)
	if r.Target == "" || r.Destination == "" {
		return Record{}, errors.Wrap(ErrInvalidRecord, "target and destination are required")
	}
	canon, err := ParseSimplified(r.Recurrence)
	if err != nil {
		return Record{}, err
	}
	r.Recurrence = canon
	return r, nil
}

// Add stores r, normalizing its recurrence and assigning an id when empty.
// A record whose id already exists replaces it in place.
func (s *Store) Add(r Record) (Record, error) {
	r, err := normalize(r)
	if err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recs, _, err := s.readLocked()
	if err != nil {
		return Record{}, err
	}
	s.assignMissingIDs(recs)
	if r.ID == "" {
		r.ID = newID(r.Target, s.now(), recs)
	}

	replaced := false
	for i := range recs {
		if recs[i].ID == r.ID {
			recs[i] = r
			replaced = true
			break
		}
	}
	if !replaced {
		recs = append(recs, r)
	}
	if err := s.writeLocked(recs); err != nil {
		return Record{}, err
	}
	s.log.Info("schedule saved", logx.String("id", r.ID), logx.String("target", r.Target), logx.String("cron", r.Recurrence))
	return r, nil
}

// Remove deletes the record with the given id. It reports false, without an
// error, when no such record exists.
func (s *Store) Remove(id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recs, h, err := s.readLocked()
	if err != nil {
		return false, err
	}
	next := recs[:0:0]
	for _, r := range recs {
		if r.ID != id {
			next = append(next, r)
		}
	}
	if len(next) == len(recs) {
		s.records, s.hash = recs, h
		return false, nil
	}
	if err := s.writeLocked(next); err != nil {
		return false, err
	}
	s.log.Info("schedule removed", logx.String("id", id))
	return true, nil
}

// ReplaceAll rewrites the whole list. Records are checked like Add; records
// without an id get one, and a repeated id rejects the whole list.
func (s *Store) ReplaceAll(records []Record) error {
	next := make([]Record, len(records))
	ids := make(map[string]struct{}, len(records))
	for i := range records {
		r, err := normalize(records[i])
		if err != nil {
			return errors.Wrapf(err, "schedule %d (%q)", i, records[i].ID)
		}
		if r.ID != "" {
			if _, dup := ids[r.ID]; dup {
				return errors.Wrapf(ErrInvalidRecord, "duplicate schedule id %q", r.ID)
			}
			ids[r.ID] = struct{}{}
		}
		next[i] = r
	}
	s.assignMissingIDs(next)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(next)
}

func (s *Store) readLocked() ([]Record, string, error) {
	if s.path == "" {
		return nil, "", errors.Mark(errors.New("schedules path is empty"), ErrPersistence)
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Record{}, "", nil
		}
		return nil, "", errors.Mark(errors.Wrapf(err, "read %s", s.path), ErrPersistence)
	}
	recs, err := decodeRecords(s.path, b)
	if err != nil {
		return nil, "", errors.Mark(errors.Wrapf(err, "decode %s", s.path), ErrPersistence)
	}
	return recs, hashBytes(b), nil
}

// writeLocked replaces the backing file through a temp file in the same
// directory and commits recs to memory only after the rename succeeded.
func (s *Store) writeLocked(recs []Record) error {
	b, err := encodeRecords(s.path, recs)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "encode schedules"), ErrPersistence)
	}
	if err := writeFileAtomic(s.path, b); err != nil {
		return errors.Mark(errors.Wrapf(err, "write %s", s.path), ErrPersistence)
	}
	s.records = append([]Record(nil), recs...)
	s.hash = hashBytes(b)
	return nil
}

func writeFileAtomic(path string, b []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func decodeRecords(path string, b []byte) ([]Record, error) {
	recs := []Record{}
	if len(bytes.TrimSpace(b)) == 0 {
		return recs, nil
	}
	if isYAML(path) {
		if err := yaml.Unmarshal(b, &recs); err != nil {
			return nil, err
		}
		return recs, nil
	}
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func encodeRecords(path string, recs []Record) ([]byte, error) {
	if recs == nil {
		recs = []Record{}
	}
	if isYAML(path) {
		return yaml.Marshal(recs)
	}
	b, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// newID returns target-<unix millis>, suffixed when that id is taken.
func newID(target string, now time.Time, existing []Record) string {
	base := target + "-" + strconv.FormatInt(now.UnixMilli(), 10)
	taken := make(map[string]struct{}, len(existing))
	for _, r := range existing {
		taken[r.ID] = struct{}{}
	}
	id := base
	for n := 2; ; n++ {
		if _, ok := taken[id]; !ok {
			return id
		}
		id = base + "-" + strconv.Itoa(n)
	}
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
