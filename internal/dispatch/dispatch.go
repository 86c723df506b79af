// Package dispatch executes validated action batches against the filesystem,
// gated per-path by the sandbox, and reconstructs implied actions from prose
// when the upstream emitted none. Every executed action leaves exactly one
// operation record behind.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"sortd/internal/action"
	"sortd/internal/config"
	"sortd/internal/fsops"
	"sortd/internal/logging"
	"sortd/internal/memory"
	"sortd/internal/sandbox"
)

// Result is the per-action outcome. Failures never abort sibling actions;
// each action reports independently.
type Result struct {
	Action      action.Action `json:"action"`
	OK          bool          `json:"ok"`
	Message     string        `json:"message"` // human-facing text, reason on failure
	Payload     interface{}   `json:"payload,omitempty"`
	SideEffects bool          `json:"side_effects"`
	Err         error         `json:"-"`
}

// Dispatcher runs batches for one session.
type Dispatcher struct {
	sb      *sandbox.Sandbox
	store   *memory.Store
	cfg     config.DispatchConfig
	records *Records
}

// New creates a dispatcher bound to a sandbox, store, and record list.
func New(sb *sandbox.Sandbox, store *memory.Store, cfg config.DispatchConfig, records *Records) *Dispatcher {
	return &Dispatcher{sb: sb, store: store, cfg: cfg, records: records}
}

// Records exposes the session's operation log.
func (d *Dispatcher) Records() *Records {
	return d.records
}

// Execute runs the batch strictly in order. Cancellation is honored between
// actions: anything not yet run when the context dies is simply not run, and
// the returned results cover only what executed. Only the executed prefix is
// remembered for repeat requests; a replay never runs actions that were cut
// off.
func (d *Dispatcher) Execute(ctx context.Context, batch action.Batch, requestID string) []Result {
	results := make([]Result, 0, len(batch))
	executed := make(action.Batch, 0, len(batch))
	for _, a := range batch {
		select {
		case <-ctx.Done():
			logging.Dispatch("batch cancelled after %d of %d actions", len(results), len(batch))
			d.records.RememberBatch(executed)
			return results
		default:
		}
		results = append(results, d.executeOne(a, requestID))
		executed = append(executed, a)
	}
	d.records.RememberBatch(executed)
	return results
}

func (d *Dispatcher) executeOne(a action.Action, requestID string) Result {
	logging.Dispatch("execute %s", a.Kind)

	switch a.Kind {
	case action.KindChat:
		return Result{Action: a, OK: true, Message: a.Note}
	case action.KindListFiles:
		return d.list(a, requestID, false)
	case action.KindListAllFiles:
		return d.list(a, requestID, true)
	case action.KindMoveFile:
		return d.move(a, requestID)
	case action.KindCreateFolder:
		return d.createFolder(a, requestID)
	case action.KindReadFile:
		return d.readFile(a, requestID)
	case action.KindFileType:
		return d.fileType(a, requestID)
	default:
		// Validation guarantees this cannot happen; defend anyway.
		return fail(a, fmt.Errorf("unexecutable kind %q", a.Kind))
	}
}

// ---------------------------------------------------------------------------
// Per-kind handlers
// ---------------------------------------------------------------------------

func (d *Dispatcher) list(a action.Action, requestID string, recursive bool) Result {
	raw := a.Arg(action.ArgPath)
	if raw == "" {
		raw = d.sb.Root() // pathless listing means "the folder"
	}

	resolved, err := d.sb.RequireAllowed(raw)
	if err != nil {
		return denied(a, err)
	}

	limit := d.cfg.ListLimit
	if s := a.Arg(action.ArgLimit); s != "" {
		limit, _ = strconv.Atoi(s) // validated upstream
	}

	var entries []fsops.Entry
	if recursive {
		entries, err = fsops.ListTree(resolved, limit)
	} else {
		entries, err = fsops.ListDir(resolved, limit)
	}
	logging.AuditOp(logging.AuditFileList, requestID, string(a.Kind), resolved, err)
	if err != nil {
		return fail(a, err)
	}

	d.records.Append(a.Kind, resolved, len(entries), 0)
	return Result{
		Action:  a,
		OK:      true,
		Message: fmt.Sprintf("%d entries in %s", len(entries), resolved),
		Payload: entries,
	}
}

func (d *Dispatcher) move(a action.Action, requestID string) Result {
	// Source and destination are checked independently; a contained source
	// never licenses an uncontained destination.
	src, err := d.sb.RequireAllowed(a.Arg(action.ArgSource))
	if err != nil {
		return denied(a, err)
	}
	dst, err := d.sb.RequireAllowed(a.Arg(action.ArgDestination))
	if err != nil {
		return denied(a, err)
	}

	err = fsops.Move(src, dst)
	logging.AuditOp(logging.AuditFileMove, requestID, string(a.Kind), src+" -> "+dst, err)
	if err != nil {
		return fail(a, err)
	}

	d.records.Append(a.Kind, src+" -> "+dst, 0, 1)
	return Result{
		Action:      a,
		OK:          true,
		Message:     fmt.Sprintf("moved %s to %s", filepath.Base(src), dst),
		SideEffects: true,
	}
}

func (d *Dispatcher) createFolder(a action.Action, requestID string) Result {
	raw := a.Arg(action.ArgPath)
	if raw == "" {
		raw = d.sb.Root()
	}

	resolved, err := d.sb.RequireAllowed(raw)
	if err != nil {
		return denied(a, err)
	}

	existed, err := fsops.CreateFolder(resolved)
	logging.AuditOp(logging.AuditFolderCreate, requestID, string(a.Kind), resolved, err)
	if err != nil {
		return fail(a, err)
	}

	d.records.Append(a.Kind, resolved, 0, 0)

	// Folders created directly under the root double as categories for
	// inference matching; nested folders do not.
	if filepath.Dir(resolved) == d.sb.Root() {
		name := filepath.Base(resolved)
		if cerr := d.store.AddCategory(name, resolved); cerr != nil {
			logging.DispatchError("register category %q: %v", name, cerr)
		}
	}

	if existed {
		return Result{Action: a, OK: true, Message: fmt.Sprintf("%s already exists", resolved)}
	}
	return Result{Action: a, OK: true, Message: fmt.Sprintf("created %s", resolved), SideEffects: true}
}

func (d *Dispatcher) readFile(a action.Action, requestID string) Result {
	raw := a.Arg(action.ArgPath)
	if raw == "" {
		// No sensible default exists for reading; ask.
		return Result{Action: a, OK: true, Message: "Which file would you like me to read?"}
	}

	resolved, err := d.sb.RequireAllowed(raw)
	if err != nil {
		return denied(a, err)
	}

	content, err := fsops.ReadFile(resolved)
	logging.AuditOp(logging.AuditFileRead, requestID, string(a.Kind), resolved, err)
	if err != nil {
		return fail(a, err)
	}

	d.records.Append(a.Kind, resolved, 1, 0)
	return Result{Action: a, OK: true, Message: fmt.Sprintf("contents of %s", resolved), Payload: content}
}

func (d *Dispatcher) fileType(a action.Action, requestID string) Result {
	raw := a.Arg(action.ArgPath)
	if raw == "" {
		if d.cfg.FileTypeDefault == config.FileTypeRoot {
			raw = d.sb.Root()
		} else {
			return Result{Action: a, OK: true, Message: "Which file should I identify?"}
		}
	}

	resolved, err := d.sb.RequireAllowed(raw)
	if err != nil {
		return denied(a, err)
	}

	desc, err := fsops.DescribeType(resolved)
	if err != nil {
		return fail(a, err)
	}

	d.records.Append(a.Kind, resolved, 1, 0)
	return Result{Action: a, OK: true, Message: fmt.Sprintf("%s is a %s", filepath.Base(resolved), desc)}
}

// ---------------------------------------------------------------------------
// Result helpers
// ---------------------------------------------------------------------------

// denied builds the result for a sandbox rejection. The wording keeps
// "outside your folder" distinct from resolution failures so users can tell
// a permission problem from a typo.
func denied(a action.Action, err error) Result {
	var msg string
	switch {
	case errors.Is(err, sandbox.ErrOutsideRoot):
		msg = "that path is outside your folder, so I won't touch it"
	case errors.Is(err, sandbox.ErrEmptyPath):
		msg = "I need a path for that"
	default:
		msg = "I couldn't make sense of that path"
	}
	logging.Dispatch("denied %s: %v", a.Kind, err)
	return Result{Action: a, Message: msg, Err: err}
}

// fail builds the result for a filesystem-level error.
func fail(a action.Action, err error) Result {
	msg := err.Error()
	if errors.Is(err, fsops.ErrNotFound) {
		msg = "I couldn't find that file or folder"
	} else if errors.Is(err, fsops.ErrUnreadableType) {
		msg = "that file type isn't readable as text"
	}
	logging.DispatchError("%s failed: %v", a.Kind, err)
	return Result{Action: a, Message: msg, Err: err}
}

// Summarize renders results into one human-facing chunk of text.
func Summarize(results []Result) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		if r.Message != "" {
			parts = append(parts, r.Message)
		}
	}
	return strings.Join(parts, "\n")
}
