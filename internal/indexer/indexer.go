// Package indexer builds the persisted file index in the background. A scan
// runs in two phases with cooperative cancellation: walking the tree into
// index entries (first half of reported progress), then filling in notes for
// files that have none (second half). The interactive pipeline never waits
// on a scan; it reads whatever index the last completed scan left behind.
package indexer

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"sortd/internal/logging"
	"sortd/internal/memory"
	"sortd/internal/nameparse"
)

// Progress reports scan advancement. percent is 0-100; indexing occupies
// 0-50 and note generation 50-100 so a UI can show phase boundaries.
type Progress func(percent int, phase string)

// Result summarizes one completed (or cancelled) scan.
type Result struct {
	FilesIndexed int
	NotesWritten int
	Cancelled    bool
}

// Indexer scans the allowed root into the preference store.
type Indexer struct {
	root     string
	store    *memory.Store
	maxFiles int
	progress Progress
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithProgress installs a progress callback.
func WithProgress(p Progress) Option {
	return func(ix *Indexer) { ix.progress = p }
}

// WithMaxFiles bounds how many files one scan will index. 0 means no bound.
func WithMaxFiles(n int) Option {
	return func(ix *Indexer) { ix.maxFiles = n }
}

// New creates an Indexer over root writing into store.
func New(root string, store *memory.Store, opts ...Option) *Indexer {
	ix := &Indexer{root: root, store: store}
	for _, o := range opts {
		o(ix)
	}
	return ix
}

// Scan walks the tree and replaces the stored index, then backfills notes.
// Cancellation is checked between files, never mid-operation; a cancelled
// scan commits nothing from its incomplete phase.
func (ix *Indexer) Scan(ctx context.Context) (Result, error) {
	timer := logging.StartTimer(logging.CategoryIndexer, "scan")
	defer timer.Stop()

	logging.Indexer("scan starting under %s", ix.root)

	entries, cancelled, err := ix.collect(ctx)
	if err != nil {
		return Result{}, err
	}
	if cancelled {
		logging.Indexer("scan cancelled during indexing, nothing committed")
		return Result{Cancelled: true}, nil
	}

	if err := ix.store.ReplaceIndex(ix.root, entries); err != nil {
		return Result{}, fmt.Errorf("persist index: %w", err)
	}
	ix.report(50, "indexed")

	notes, cancelled, err := ix.backfillNotes(ctx, entries)
	if err != nil {
		return Result{FilesIndexed: len(entries)}, err
	}

	ix.report(100, "done")
	logging.Indexer("scan complete: %d files, %d notes, cancelled=%v", len(entries), notes, cancelled)
	return Result{FilesIndexed: len(entries), NotesWritten: notes, Cancelled: cancelled}, nil
}

// collect is phase one: walk the tree into index entries.
func (ix *Indexer) collect(ctx context.Context) (entries []memory.IndexEntry, cancelled bool, err error) {
	err = filepath.WalkDir(ix.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			logging.IndexerDebug("skipping %s: %v", path, walkErr)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		select {
		case <-ctx.Done():
			cancelled = true
			return filepath.SkipAll
		default:
		}

		if d.IsDir() {
			if path != ix.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		entries = append(entries, memory.IndexEntry{
			Path:      path,
			Name:      d.Name(),
			Extension: strings.ToLower(filepath.Ext(path)),
			Meta:      nameparse.Parse(d.Name()),
		})

		if ix.maxFiles > 0 && len(entries) >= ix.maxFiles {
			return filepath.SkipAll
		}
		// First phase spans 0-50.
		if len(entries)%64 == 0 {
			ix.report(min(49, len(entries)/64), "indexing")
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("walk %s: %w", ix.root, err)
	}
	return entries, cancelled, nil
}

// backfillNotes is phase two: write a derived note for every indexed file
// that has none yet. Notes come from the filename metadata; they exist so
// the prompt builder has something to say about a file beyond its name.
func (ix *Indexer) backfillNotes(ctx context.Context, entries []memory.IndexEntry) (written int, cancelled bool, err error) {
	for i, e := range entries {
		select {
		case <-ctx.Done():
			return written, true, nil
		default:
		}

		rel, relErr := filepath.Rel(ix.root, e.Path)
		if relErr != nil {
			continue
		}

		existing, noteErr := ix.store.Note(rel)
		if noteErr != nil {
			return written, false, noteErr
		}
		if existing != "" {
			continue
		}

		note := describeEntry(e)
		if note == "" {
			continue
		}
		if err := ix.store.SetNote(rel, note); err != nil {
			return written, false, err
		}
		written++

		if len(entries) > 0 {
			ix.report(50+((i+1)*50)/len(entries), "notes")
		}
	}
	return written, false, nil
}

// describeEntry turns parsed metadata into a one-line note.
func describeEntry(e memory.IndexEntry) string {
	var parts []string
	if e.Meta.DocType != "" {
		parts = append(parts, e.Meta.DocType)
	}
	if e.Meta.CourseCode != "" {
		parts = append(parts, "for "+e.Meta.CourseCode)
	}
	if e.Meta.Date != "" {
		parts = append(parts, "dated "+e.Meta.Date)
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, " ")
}

func (ix *Indexer) report(percent int, phase string) {
	if ix.progress != nil {
		ix.progress(percent, phase)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
