package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

var (
	ErrNotFound  = eris.New("event not found")
	ErrDuplicate = eris.New("event with same name and date already exists")
)

// FileStore keeps the full event collection in one JSON file and the scan
// metadata in a second one. Every mutation reads the whole file, rewrites
// the whole file. The mutex serializes manual edits against a scan's merge;
// request volume is low enough that this is all the coordination needed.
type FileStore struct {
	mu         sync.Mutex
	eventsPath string
	metaPath   string
}

func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, eris.Wrap(err, "create data dir")
	}
	return &FileStore{
		eventsPath: filepath.Join(dataDir, "events.json"),
		metaPath:   filepath.Join(dataDir, "scan-meta.json"),
	}, nil
}

// List returns all events in stored order.
func (s *FileStore) List() ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadEvents()
}

func (s *FileStore) Get(id int) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events, err := s.loadEvents()
	if err != nil {
		return Event{}, err
	}
	for _, e := range events {
		if e.ID == id {
			return e, nil
		}
	}
	return Event{}, ErrNotFound
}

// Create appends a manually entered event. The id is max existing + 1 and
// is never reused after a delete. Returns ErrDuplicate when the (name, date)
// key is already taken.
func (s *FileStore) Create(e Event) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events, err := s.loadEvents()
	if err != nil {
		return Event{}, err
	}

	key := DedupKey(e.Name, e.Date)
	for _, ex := range events {
		if DedupKey(ex.Name, ex.Date) == key {
			return Event{}, ErrDuplicate
		}
	}

	e.ID = nextID(events)
	e.Normalize()
	e.AIFound = false
	e.AddedAt = time.Now().UTC().Format(time.RFC3339)
	events = append(events, e)

	if err := s.saveEvents(events); err != nil {
		return Event{}, err
	}
	return e, nil
}

func (s *FileStore) Update(id int, in Event) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events, err := s.loadEvents()
	if err != nil {
		return Event{}, err
	}

	key := DedupKey(in.Name, in.Date)
	for _, e := range events {
		if e.ID != id && DedupKey(e.Name, e.Date) == key {
			return Event{}, ErrDuplicate
		}
	}

	for i, e := range events {
		if e.ID != id {
			continue
		}
		in.ID = id
		in.Normalize()
		in.AIFound = e.AIFound
		in.AddedAt = e.AddedAt
		in.ScannedAt = e.ScannedAt
		events[i] = in
		if err := s.saveEvents(events); err != nil {
			return Event{}, err
		}
		return in, nil
	}
	return Event{}, ErrNotFound
}

func (s *FileStore) Delete(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	events, err := s.loadEvents()
	if err != nil {
		return err
	}
	for i, e := range events {
		if e.ID == id {
			events = append(events[:i], events[i+1:]...)
			return s.saveEvents(events)
		}
	}
	return ErrNotFound
}

// Merge appends every candidate whose dedup key is not already present,
// assigning ids sequentially from max existing + 1. Existing events are
// never touched. Returns the number of events added.
func (s *FileStore) Merge(candidates []Event) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events, err := s.loadEvents()
	if err != nil {
		return 0, err
	}

	seen := make(map[string]bool, len(events))
	for _, e := range events {
		seen[DedupKey(e.Name, e.Date)] = true
	}

	id := nextID(events)
	added := 0
	for _, c := range candidates {
		key := DedupKey(c.Name, c.Date)
		if seen[key] {
			continue
		}
		seen[key] = true
		c.ID = id
		id++
		events = append(events, c)
		added++
	}

	if added > 0 {
		if err := s.saveEvents(events); err != nil {
			return 0, err
		}
	}
	return added, nil
}

func (s *FileStore) Meta() (ScanMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadMeta()
}

// RecordScan updates the scan metadata after a completed run.
func (s *FileStore) RecordScan(added int, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.loadMeta()
	if err != nil {
		return err
	}
	meta.LastScan = when.UTC().Format(time.RFC3339)
	meta.TotalScans++
	meta.LastAdded = added
	return s.saveMeta(meta)
}

func (s *FileStore) loadEvents() ([]Event, error) {
	b, err := os.ReadFile(s.eventsPath)
	if os.IsNotExist(err) {
		return []Event{}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "read events file")
	}
	var events []Event
	if err := json.Unmarshal(b, &events); err != nil {
		return nil, eris.Wrap(err, "parse events file")
	}
	return events, nil
}

func (s *FileStore) saveEvents(events []Event) error {
	return writeFileAtomic(s.eventsPath, events)
}

func (s *FileStore) loadMeta() (ScanMeta, error) {
	b, err := os.ReadFile(s.metaPath)
	if os.IsNotExist(err) {
		return ScanMeta{}, nil
	}
	if err != nil {
		return ScanMeta{}, eris.Wrap(err, "read scan meta file")
	}
	var meta ScanMeta
	if err := json.Unmarshal(b, &meta); err != nil {
		return ScanMeta{}, eris.Wrap(err, "parse scan meta file")
	}
	return meta, nil
}

func (s *FileStore) saveMeta(meta ScanMeta) error {
	return writeFileAtomic(s.metaPath, meta)
}

// writeFileAtomic marshals v and replaces path in one rename so a crash
// mid-write never leaves a truncated collection behind.
func writeFileAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "marshal")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return eris.Wrap(err, "write temp file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return eris.Wrap(err, "rename into place")
	}
	return nil
}

func nextID(events []Event) int {
	max := 0
	for _, e := range events {
		if e.ID > max {
			max = e.ID
		}
	}
	return max + 1
}
