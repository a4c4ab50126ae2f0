// Package journal keeps runs the executor accepted but the run store could
// not record, so they can be replayed later.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/runstore"
)

// Entry is the persistent record written to <run_id>.json. Fields are only
// ever added.
type Entry struct {
	Run        runstore.Run `json:"run"`
	RecordedAt time.Time    `json:"recorded_at"`
	LastError  string       `json:"last_error,omitempty"`
	Attempts   int          `json:"attempts"`
}

// Store persists and loads journal entries from an on-disk directory.
//
// Directory layout:
//
//	<root>/<run_id>.json
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root)}
}

func (s *Store) RootDir() string {
	return s.root
}

func (s *Store) EntryPath(runID string) string {
	return filepath.Join(s.root, fileName(runID))
}

func (s *Store) ensureRoot() error {
	if strings.TrimSpace(s.root) == "" {
		return fmt.Errorf("journal root dir is empty")
	}
	return os.MkdirAll(s.root, 0755)
}

// Write stores an entry atomically, replacing any entry for the same run.
func (s *Store) Write(entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("journal entry is nil")
	}
	runID := strings.TrimSpace(entry.Run.RunID)
	if runID == "" {
		return fmt.Errorf("run_id is required")
	}
	if err := s.ensureRoot(); err != nil {
		return err
	}

	b, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(s.root, ".entry.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp journal file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp journal file: %w", err)
	}

	if err := os.Rename(tmpName, s.EntryPath(runID)); err != nil {
		return fmt.Errorf("rename journal file: %w", err)
	}
	return nil
}

// Get loads the entry of a run.
func (s *Store) Get(runID string) (*Entry, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("run_id is required")
	}
	b, err := os.ReadFile(s.EntryPath(runID))
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("journal entry %s is empty", runID)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(trimmed), &entry); err != nil {
		return nil, fmt.Errorf("parse journal entry %s: %w", runID, err)
	}
	return &entry, nil
}

// List returns every entry, oldest first. Unreadable files are skipped.
func (s *Store) List() ([]Entry, error) {
	if strings.TrimSpace(s.root) == "" {
		return nil, fmt.Errorf("journal root dir is empty")
	}
	dirEntries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read journal root: %w", err)
	}

	out := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		entry, err := s.readFile(filepath.Join(s.root, name))
		if err != nil {
			continue
		}
		out = append(out, *entry)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out, nil
}

// Remove deletes the entry of a run. Missing entries are not an error.
func (s *Store) Remove(runID string) error {
	err := os.Remove(s.EntryPath(runID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove journal entry: %w", err)
	}
	return nil
}

func (s *Store) readFile(path string) (*Entry, error) {
	// #nosec G304 -- path is built from the journal root listing
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(b, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// fileName keeps executor-assigned ids filesystem safe.
func fileName(runID string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_", ":", "_")
	return r.Replace(strings.TrimSpace(runID)) + ".json"
}
