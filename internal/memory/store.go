// Package memory is the persisted preference store: category mappings, short
// per-file notes, and the flat file index the inference path matches against.
// The pipeline reads from here; only explicit user operations and the
// background indexer write.
package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"sortd/internal/logging"
	"sortd/internal/nameparse"
)

// IndexEntry is one row of the file index.
type IndexEntry struct {
	Path      string             `json:"path"` // absolute
	Name      string             `json:"name"`
	Extension string             `json:"extension"` // lower-cased, with dot
	Meta      nameparse.Metadata `json:"meta"`
}

// ScanInfo records when and over what the index was last rebuilt.
type ScanInfo struct {
	Root      string
	IndexedAt time.Time
	FileCount int
}

// Store wraps the SQLite database holding all persisted preferences.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open initializes the store at the given path, creating the schema on
// first use.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set journal_mode=WAL: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("store opened at %s", path)
	return s, nil
}

func (s *Store) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS categories (
			name TEXT PRIMARY KEY,
			path TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS file_notes (
			rel_path TEXT PRIMARY KEY,
			note TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS file_index (
			path TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			extension TEXT NOT NULL,
			course_code TEXT NOT NULL DEFAULT '',
			file_date TEXT NOT NULL DEFAULT '',
			doc_type TEXT NOT NULL DEFAULT '',
			keywords TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_file_index_ext ON file_index(extension)`,
		`CREATE TABLE IF NOT EXISTS scan_info (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			root TEXT NOT NULL,
			indexed_at INTEGER NOT NULL,
			file_count INTEGER NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Categories
// ---------------------------------------------------------------------------

// Categories returns the full name -> absolute path map.
func (s *Store) Categories() (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT name, path FROM categories`)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var name, path string
		if err := rows.Scan(&name, &path); err != nil {
			return nil, err
		}
		out[name] = path
	}
	return out, rows.Err()
}

// AddCategory upserts one category mapping. Names are stored lower-cased so
// matching is case-insensitive.
func (s *Store) AddCategory(name, path string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return fmt.Errorf("category name is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO categories (name, path) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET path = excluded.path`,
		name, path)
	if err != nil {
		return fmt.Errorf("add category %q: %w", name, err)
	}
	logging.StoreDebug("category %q -> %s", name, path)
	return nil
}

// RemoveCategory deletes one category; removing a missing one is not an error.
func (s *Store) RemoveCategory(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM categories WHERE name = ?`, strings.ToLower(strings.TrimSpace(name)))
	return err
}

// SyncCategoriesFromRoot registers every immediate subdirectory of root as a
// category and drops categories whose root-level folder is gone, keeping
// user folders and the category map from drifting apart. Hidden directories
// are skipped. Existing entries are updated in place.
func (s *Store) SyncCategoriesFromRoot(root string) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, fmt.Errorf("sync categories: %w", err)
	}

	added := 0
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := s.AddCategory(e.Name(), filepath.Join(root, e.Name())); err != nil {
			return added, err
		}
		added++
	}

	// Categories pointing at removed root-level folders are stale. Entries
	// outside the root (or nested deeper) are left alone.
	stored, err := s.Categories()
	if err != nil {
		return added, err
	}
	for name, path := range stored {
		if filepath.Dir(path) != root {
			continue
		}
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			if err := s.RemoveCategory(name); err != nil {
				return added, err
			}
			logging.Store("dropped stale category %q (%s)", name, path)
		}
	}

	logging.Store("synced %d categories from %s", added, root)
	return added, nil
}

// ---------------------------------------------------------------------------
// File notes
// ---------------------------------------------------------------------------

// SetNote stores a short note about a file, keyed by root-relative path.
func (s *Store) SetNote(relPath, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO file_notes (rel_path, note, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(rel_path) DO UPDATE SET note = excluded.note, updated_at = excluded.updated_at`,
		relPath, note, time.Now().Unix())
	return err
}

// Note returns the note for one file, "" if none.
func (s *Store) Note(relPath string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var note string
	err := s.db.QueryRow(`SELECT note FROM file_notes WHERE rel_path = ?`, relPath).Scan(&note)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return note, err
}

// Notes returns all notes keyed by relative path.
func (s *Store) Notes() (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT rel_path, note FROM file_notes`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var rel, note string
		if err := rows.Scan(&rel, &note); err != nil {
			return nil, err
		}
		out[rel] = note
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// File index
// ---------------------------------------------------------------------------

// ReplaceIndex atomically swaps the whole file index for a fresh scan and
// records the scan info.
func (s *Store) ReplaceIndex(root string, entries []IndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("replace index: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM file_index`); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO file_index (path, name, extension, course_code, file_date, doc_type, keywords)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		keywords, err := json.Marshal(e.Meta.Keywords)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(e.Path, e.Name, e.Extension,
			e.Meta.CourseCode, e.Meta.Date, e.Meta.DocType, string(keywords)); err != nil {
			return fmt.Errorf("insert %s: %w", e.Path, err)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO scan_info (id, root, indexed_at, file_count) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET root = excluded.root, indexed_at = excluded.indexed_at, file_count = excluded.file_count`,
		root, time.Now().Unix(), len(entries)); err != nil {
		return fmt.Errorf("record scan: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logging.Store("index replaced: %d entries under %s", len(entries), root)
	return nil
}

// IndexEntries returns the whole index sorted by path.
func (s *Store) IndexEntries() ([]IndexEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT path, name, extension, course_code, file_date, doc_type, keywords
		 FROM file_index`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IndexEntry
	for rows.Next() {
		var e IndexEntry
		var keywords string
		if err := rows.Scan(&e.Path, &e.Name, &e.Extension,
			&e.Meta.CourseCode, &e.Meta.Date, &e.Meta.DocType, &keywords); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(keywords), &e.Meta.Keywords); err != nil {
			e.Meta.Keywords = nil
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// LastScan returns the recorded scan info, or ok=false if never scanned.
func (s *Store) LastScan() (ScanInfo, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var info ScanInfo
	var at int64
	err := s.db.QueryRow(`SELECT root, indexed_at, file_count FROM scan_info WHERE id = 1`).
		Scan(&info.Root, &at, &info.FileCount)
	if err == sql.ErrNoRows {
		return ScanInfo{}, false, nil
	}
	if err != nil {
		return ScanInfo{}, false, err
	}
	info.IndexedAt = time.Unix(at, 0)
	return info, true, nil
}

// IndexValidity is how long a completed scan stays trusted.
const IndexValidity = 24 * time.Hour

// IndexFresh reports whether the stored index can be used for root without a
// rescan: same root, younger than the validity window, and the live file
// count still matches the recorded one.
func (s *Store) IndexFresh(root string, liveCount int) (bool, error) {
	info, ok, err := s.LastScan()
	if err != nil || !ok {
		return false, err
	}
	if info.Root != root {
		return false, nil
	}
	if time.Since(info.IndexedAt) > IndexValidity {
		return false, nil
	}
	return info.FileCount == liveCount, nil
}
