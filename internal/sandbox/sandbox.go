// Package sandbox enforces the single-allowed-root policy for every
// filesystem path the pipeline touches. All paths coming from model output
// or user text are treated as hostile until normalized and proven to live
// inside the allowed root. Any failure during normalization denies the
// path; the sandbox never guesses in the permissive direction.
package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"sortd/internal/logging"
)

// Sentinel errors for permission decisions. Callers distinguish a path that
// could not be understood from a path that resolved fine but lands outside
// the allowed root.
var (
	ErrInvalidPath = errors.New("path could not be resolved")
	ErrOutsideRoot = errors.New("path is outside the allowed root")
	ErrEmptyPath   = errors.New("path is empty")
)

// RootMacro is the placeholder models may emit instead of spelling out the
// allowed root. It is substituted before any other expansion.
const RootMacro = "{ROOT}"

// Sandbox validates paths against a single allowed root directory.
type Sandbox struct {
	root string // absolute, symlink-resolved
}

// New creates a sandbox rooted at the given directory. The root must exist
// and resolve cleanly; a sandbox that cannot pin down its own root would be
// unable to make sound decisions.
func New(root string) (*Sandbox, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("sandbox root: %w", ErrEmptyPath)
	}

	expanded, err := expandHome(root)
	if err != nil {
		return nil, fmt.Errorf("sandbox root %q: %w", root, err)
	}

	abs, err := filepath.Abs(expanded)
	if err != nil {
		return nil, fmt.Errorf("sandbox root %q: %w", root, ErrInvalidPath)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("sandbox root %q: %w", root, ErrInvalidPath)
	}

	info, err := os.Stat(resolved)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("sandbox root %q is not a directory: %w", root, ErrInvalidPath)
	}

	logging.Sandbox("sandbox rooted at %s", resolved)
	return &Sandbox{root: resolved}, nil
}

// Root returns the resolved allowed root.
func (s *Sandbox) Root() string {
	return s.root
}

// SetRoot re-points the sandbox at a new root. The new root goes through the
// same validation as New; on failure the old root stays in force.
func (s *Sandbox) SetRoot(root string) error {
	fresh, err := New(root)
	if err != nil {
		return err
	}
	logging.Sandbox("root changed: %s -> %s", s.root, fresh.root)
	s.root = fresh.root
	return nil
}

// Expand substitutes the {ROOT} macro and a leading ~ before resolution.
// Relative paths are anchored at the root, not the process working
// directory; the model has no business knowing where the binary runs.
func (s *Sandbox) Expand(raw string) (string, error) {
	p := strings.TrimSpace(raw)
	if p == "" {
		return "", ErrEmptyPath
	}

	p = strings.ReplaceAll(p, RootMacro, s.root)

	p, err := expandHome(p)
	if err != nil {
		return "", err
	}

	if !filepath.IsAbs(p) {
		p = filepath.Join(s.root, p)
	}
	return filepath.Clean(p), nil
}

// Normalize expands a raw path and resolves it to a canonical absolute path
// with symlinks evaluated. Paths that do not exist yet (move destinations,
// folders about to be created) are resolved through their deepest existing
// ancestor so a symlink higher up cannot smuggle the tail outside the root.
func (s *Sandbox) Normalize(raw string) (string, error) {
	expanded, err := s.Expand(raw)
	if err != nil {
		return "", fmt.Errorf("%q: %w", raw, err)
	}

	resolved, err := resolveWithAncestor(expanded)
	if err != nil {
		logging.SandboxWarn("normalize failed for %q: %v", raw, err)
		return "", fmt.Errorf("%q: %w", raw, ErrInvalidPath)
	}
	return resolved, nil
}

// IsContained reports whether an already-normalized path is the root itself
// or a strict descendant of it. It performs no resolution; feed it the
// output of Normalize.
func (s *Sandbox) IsContained(path string) bool {
	if path == s.root {
		return true
	}
	return strings.HasPrefix(path, s.root+string(filepath.Separator))
}

// RequireAllowed is the gate every operation path goes through. It returns
// the canonical path on success, ErrInvalidPath when the path cannot be
// resolved, and ErrOutsideRoot when it resolves outside the allowed root.
func (s *Sandbox) RequireAllowed(raw string) (string, error) {
	resolved, err := s.Normalize(raw)
	if err != nil {
		logging.Audit(logging.AuditEvent{
			EventType: logging.AuditPathDenied,
			Target:    raw,
			Error:     err.Error(),
		})
		return "", err
	}

	if !s.IsContained(resolved) {
		logging.SandboxWarn("denied %q: resolves to %s outside %s", raw, resolved, s.root)
		logging.Audit(logging.AuditEvent{
			EventType: logging.AuditPathDenied,
			Target:    resolved,
			Error:     ErrOutsideRoot.Error(),
		})
		return "", fmt.Errorf("%q resolves outside allowed root: %w", raw, ErrOutsideRoot)
	}

	logging.SandboxDebug("allowed %q -> %s", raw, resolved)
	return resolved, nil
}

// resolveWithAncestor resolves symlinks for a path that may not exist.
// It walks up to the deepest existing ancestor, resolves that, then joins
// the non-existent remainder back on lexically.
func resolveWithAncestor(path string) (string, error) {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	ancestor := path
	var tail []string
	for {
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			// Hit the filesystem root without finding anything that exists.
			return "", fmt.Errorf("no existing ancestor for %s", path)
		}
		tail = append([]string{filepath.Base(ancestor)}, tail...)
		ancestor = parent

		resolved, err := filepath.EvalSymlinks(ancestor)
		if err == nil {
			return filepath.Join(append([]string{resolved}, tail...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}
}

// expandHome replaces a leading ~ with the current user's home directory.
func expandHome(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, "~\\") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("home directory unavailable: %w", ErrInvalidPath)
		}
		if p == "~" {
			return home, nil
		}
		return filepath.Join(home, p[2:]), nil
	}
	return p, nil
}
