package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func resetLogging() {
	CloseAll()
	CloseAudit()
	loggers = make(map[Category]*Logger)
	logsDir = ""
	opts = Options{}
}

// TestAllCategoriesLog tests that all categories create log files when debug mode is on.
func TestAllCategoriesLog(t *testing.T) {
	tempDir := t.TempDir()
	resetLogging()
	defer resetLogging()

	if err := Initialize(tempDir, Options{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	if !IsDebugMode() {
		t.Error("Expected debug mode to be enabled")
	}

	categories := []Category{
		CategoryBoot,
		CategorySession,
		CategorySandbox,
		CategoryActions,
		CategoryPerception,
		CategoryDispatch,
		CategoryIndexer,
		CategoryStore,
		CategoryAPI,
	}

	for _, cat := range categories {
		if !IsCategoryEnabled(cat) {
			t.Errorf("Category %s should be enabled", cat)
		}

		logger := Get(cat)
		logger.Info("Test info message for %s", cat)
		logger.Debug("Test debug message for %s", cat)
		logger.Warn("Test warn message for %s", cat)
		logger.Error("Test error message for %s", cat)
	}

	CloseAll()

	date := time.Now().Format("2006-01-02")
	for _, cat := range categories {
		logPath := filepath.Join(tempDir, ".sortd", "logs", date+"_"+string(cat)+".log")
		data, err := os.ReadFile(logPath)
		if err != nil {
			t.Errorf("Expected log file for %s: %v", cat, err)
			continue
		}
		content := string(data)
		for _, level := range []string{"[INFO]", "[DEBUG]", "[WARN]", "[ERROR]"} {
			if !strings.Contains(content, level) {
				t.Errorf("Category %s log missing %s entry", cat, level)
			}
		}
	}
}

// TestDisabledDebugModeIsNoOp verifies no files are written when debug mode is off.
func TestDisabledDebugModeIsNoOp(t *testing.T) {
	tempDir := t.TempDir()
	resetLogging()
	defer resetLogging()

	if err := Initialize(tempDir, Options{DebugMode: false, Level: "info"}); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	Get(CategorySandbox).Info("should not appear anywhere")
	Sandbox("neither should this")

	if _, err := os.Stat(filepath.Join(tempDir, ".sortd", "logs")); !os.IsNotExist(err) {
		t.Error("Expected no logs directory when debug mode is off")
	}
}

// TestCategoryFilter verifies that a disabled category is silenced while
// others keep logging.
func TestCategoryFilter(t *testing.T) {
	tempDir := t.TempDir()
	resetLogging()
	defer resetLogging()

	err := Initialize(tempDir, Options{
		DebugMode:  true,
		Level:      "debug",
		Categories: map[string]bool{"sandbox": false, "dispatch": true},
	})
	if err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	if IsCategoryEnabled(CategorySandbox) {
		t.Error("sandbox category should be disabled")
	}
	if !IsCategoryEnabled(CategoryDispatch) {
		t.Error("dispatch category should be enabled")
	}
	// Unlisted categories default to enabled.
	if !IsCategoryEnabled(CategoryIndexer) {
		t.Error("indexer category should default to enabled")
	}
}

// TestAuditTrailWrittenWithoutDebugMode verifies the audit trail is written
// even in production mode.
func TestAuditTrailWrittenWithoutDebugMode(t *testing.T) {
	tempDir := t.TempDir()
	resetLogging()
	defer resetLogging()

	if err := Initialize(tempDir, Options{DebugMode: false}); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	if err := InitAudit(tempDir); err != nil {
		t.Fatalf("Failed to initialize audit: %v", err)
	}

	AuditOp(AuditFileMove, "req-1", "move_file", "/tmp/a.txt", nil)
	Audit(AuditEvent{
		EventType: AuditPathDenied,
		RequestID: "req-1",
		Target:    "/etc/passwd",
		Success:   false,
		Error:     "outside allowed root",
	})
	CloseAudit()

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(tempDir, ".sortd", "logs", date+"_audit.jsonl")
	data, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("Expected audit file: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 audit events, got %d", len(lines))
	}

	var first AuditEvent
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("Audit line is not valid JSON: %v", err)
	}
	if first.EventType != AuditFileMove {
		t.Errorf("Expected file_move event, got %s", first.EventType)
	}
	if !first.Success {
		t.Error("Expected success=true for nil error")
	}
	if first.Timestamp == 0 {
		t.Error("Expected timestamp to be stamped at write time")
	}

	var second AuditEvent
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("Audit line is not valid JSON: %v", err)
	}
	if second.EventType != AuditPathDenied || second.Success {
		t.Errorf("Unexpected second event: %+v", second)
	}
}

// TestTimer verifies the timer measures elapsed duration.
func TestTimer(t *testing.T) {
	tempDir := t.TempDir()
	resetLogging()
	defer resetLogging()

	if err := Initialize(tempDir, Options{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	timer := StartTimer(CategoryIndexer, "scan")
	time.Sleep(5 * time.Millisecond)
	elapsed := timer.Stop()
	if elapsed < 5*time.Millisecond {
		t.Errorf("Expected elapsed >= 5ms, got %v", elapsed)
	}
}
