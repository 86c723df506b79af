// Package fsops implements the filesystem primitives behind validated
// actions. Every function takes paths that already cleared the sandbox;
// nothing here performs permission logic of its own.
package fsops

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sortd/internal/logging"
)

// Primitive-level errors.
var (
	ErrNotFound       = errors.New("no such file or directory")
	ErrNotADirectory  = errors.New("path exists but is not a directory")
	ErrNotAFile       = errors.New("path is not a regular file")
	ErrUnreadableType = errors.New("file type is not readable as text")
	ErrTooLarge       = errors.New("file too large to read")
)

// readableExtensions is the allowlist for read_file. Binary formats are
// refused rather than dumped as mojibake.
var readableExtensions = map[string]bool{
	".txt": true, ".md": true, ".py": true, ".java": true,
	".json": true, ".csv": true, ".log": true, ".xml": true, ".html": true,
}

// maxReadBytes caps read_file so a stray multi-gigabyte log cannot be
// pulled into a prompt.
const maxReadBytes = 256 << 10

// Entry describes one listed file or directory.
type Entry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// ListDir returns the immediate children of dir, directories first, each
// group sorted by name. limit <= 0 means unlimited.
func ListDir(dir string, limit int) ([]Entry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, classify("list", dir, err)
	}

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue // dotfiles include our own state directory
		}
		info, err := e.Info()
		if err != nil {
			continue // raced away between readdir and stat
		}
		out = append(out, Entry{
			Name:  e.Name(),
			Path:  filepath.Join(dir, e.Name()),
			IsDir: e.IsDir(),
			Size:  info.Size(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDir != out[j].IsDir {
			return out[i].IsDir
		}
		return out[i].Name < out[j].Name
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	logging.Dispatch("list %s: %d entries", dir, len(out))
	return out, nil
}

// ListTree walks the whole tree under dir and returns every regular file.
// Hidden directories (dot-prefixed) are skipped; the application's own
// state directory lives in one. limit <= 0 means unlimited.
func ListTree(dir string, limit int) ([]Entry, error) {
	var out []Entry
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		out = append(out, Entry{Name: d.Name(), Path: path, IsDir: false, Size: info.Size()})
		if limit > 0 && len(out) >= limit {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, classify("list_all", dir, err)
	}
	logging.Dispatch("list tree %s: %d files", dir, len(out))
	return out, nil
}

// Move renames src to dst, creating dst's parent directories as needed.
// On failure the source is left untouched; there is no copy-and-delete
// fallback that could half-complete.
func Move(src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		return classify("move", src, err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create parent for %s: %w", dst, err)
	}

	if err := os.Rename(src, dst); err != nil {
		return classify("move", src, err)
	}
	logging.Dispatch("moved %s -> %s", src, dst)
	return nil
}

// CreateFolder makes the directory (and parents). The second return is true
// when the directory already existed; callers report that as its own
// success variant, not an error. An existing non-directory is an error.
func CreateFolder(path string) (existed bool, err error) {
	info, statErr := os.Stat(path)
	if statErr == nil {
		if info.IsDir() {
			return true, nil
		}
		return false, fmt.Errorf("%s: %w", path, ErrNotADirectory)
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return false, classify("create_folder", path, err)
	}
	logging.Dispatch("created folder %s", path)
	return false, nil
}

// ReadFile returns the contents of a small text file. Only allowlisted
// extensions qualify and the size cap is enforced before reading.
func ReadFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", classify("read", path, err)
	}
	if info.IsDir() || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s: %w", path, ErrNotAFile)
	}
	if !readableExtensions[strings.ToLower(filepath.Ext(path))] {
		return "", fmt.Errorf("%s: %w", path, ErrUnreadableType)
	}
	if info.Size() > maxReadBytes {
		return "", fmt.Errorf("%s is %d bytes (cap %d): %w", path, info.Size(), maxReadBytes, ErrTooLarge)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", classify("read", path, err)
	}
	return string(data), nil
}

// DescribeType reports a short human description of what sits at path.
func DescribeType(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", classify("file_type", path, err)
	}
	if info.IsDir() {
		return "directory", nil
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return "file with no extension", nil
	}
	desc, ok := extensionDescriptions[ext]
	if !ok {
		return fmt.Sprintf("%s file", strings.TrimPrefix(ext, ".")), nil
	}
	return desc, nil
}

// extensionDescriptions names the common cases; everything else falls back
// to "<ext> file".
var extensionDescriptions = map[string]string{
	".txt":  "plain text file",
	".md":   "markdown document",
	".pdf":  "PDF document",
	".doc":  "Word document",
	".docx": "Word document",
	".xls":  "Excel spreadsheet",
	".xlsx": "Excel spreadsheet",
	".csv":  "comma-separated data file",
	".json": "JSON data file",
	".xml":  "XML data file",
	".html": "HTML page",
	".py":   "Python source file",
	".java": "Java source file",
	".go":   "Go source file",
	".jpg":  "JPEG image",
	".jpeg": "JPEG image",
	".png":  "PNG image",
	".gif":  "GIF image",
	".mp3":  "MP3 audio file",
	".mp4":  "MP4 video file",
	".zip":  "ZIP archive",
	".tar":  "tar archive",
	".gz":   "gzip archive",
	".log":  "log file",
}

// IsReadableExtension reports whether read_file would accept the path.
func IsReadableExtension(path string) bool {
	return readableExtensions[strings.ToLower(filepath.Ext(path))]
}

// classify maps OS errors onto the package sentinels where a cleaner
// message helps, passing everything else through wrapped.
func classify(op, path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s %s: %w", op, path, ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, path, err)
}
