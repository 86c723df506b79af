package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// =============================================================================
// AUDIT EVENT TYPES
// =============================================================================

// AuditEventType defines the type of audit event.
type AuditEventType string

const (
	// Filesystem operations
	AuditFileMove     AuditEventType = "file_move"
	AuditFileRead     AuditEventType = "file_read"
	AuditFolderCreate AuditEventType = "folder_create"
	AuditFileList     AuditEventType = "file_list"
	AuditFileError    AuditEventType = "file_error"

	// Sandbox decisions
	AuditPathAllowed AuditEventType = "path_allowed"
	AuditPathDenied  AuditEventType = "path_denied"

	// Request lifecycle
	AuditRequestStart AuditEventType = "request_start"
	AuditRequestEnd   AuditEventType = "request_end"

	// Perception
	AuditIntentParsed   AuditEventType = "intent_parsed"
	AuditActionInferred AuditEventType = "action_inferred"
)

// AuditEvent represents a structured audit log entry. Events are appended as
// JSON lines so the trail can be replayed or grepped after the fact.
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"`      // Unix milliseconds
	EventType  AuditEventType         `json:"event"`   //
	SessionID  string                 `json:"session"` // Session correlation
	RequestID  string                 `json:"req"`     // Request correlation
	Target     string                 `json:"target"`  // Path or object acted on
	Action     string                 `json:"action"`  // Action kind being performed
	Success    bool                   `json:"success"` //
	DurationMs int64                  `json:"dur_ms"`  //
	Error      string                 `json:"error"`   // Error message if failed
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

var (
	auditFile *os.File
	auditMu   sync.Mutex
)

// InitAudit opens the audit trail. Unlike category logs the audit file is
// written even when debug mode is off; the trail is part of normal operation,
// not diagnostics.
func InitAudit(workspace string) error {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil // Already initialized
	}

	dir := filepath.Join(workspace, ".sortd", "logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(dir, fmt.Sprintf("%s_audit.jsonl", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file
	return nil
}

// CloseAudit closes the audit trail (call at shutdown).
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit appends one event to the trail. Events with a zero timestamp are
// stamped at write time. Failures to write are reported on stderr but never
// propagate; auditing must not break the operation it records.
func Audit(ev AuditEvent) {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile == nil {
		return
	}

	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}

	line, err := json.Marshal(ev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[audit] Warning: could not marshal event: %v\n", err)
		return
	}
	if _, err := auditFile.Write(append(line, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "[audit] Warning: could not write event: %v\n", err)
	}
}

// AuditOp is a convenience for recording a filesystem operation outcome.
func AuditOp(eventType AuditEventType, requestID, action, target string, err error) {
	ev := AuditEvent{
		EventType: eventType,
		RequestID: requestID,
		Action:    action,
		Target:    target,
		Success:   err == nil,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	Audit(ev)
}
