package perception

import (
	"regexp"
	"strings"

	"sortd/internal/logging"
)

// Intent is the coarse classification of free user text. It drives which
// context (categories, index snippets, notes) gets folded into the prompt.
type Intent string

const (
	IntentGreeting     Intent = "greeting"
	IntentCreateFolder Intent = "create_folder"
	IntentList         Intent = "list"
	IntentIdentify     Intent = "identify" // what kind of file is X
	IntentRead         Intent = "read"
	IntentOrganize     Intent = "organize"
	IntentScanAll      Intent = "scan_all"
	IntentChat         Intent = "chat"
)

// rule pairs a predicate with the intent it selects. Rules are evaluated in
// order and the first hit wins; overlapping phrases make the order load
// bearing ("create a folder" must win before the bare "folder" checks).
type rule struct {
	intent Intent
	match  func(string) bool
}

var intentRules = []rule{
	{IntentGreeting, isGreeting},
	{IntentCreateFolder, anyPhrase("create a folder", "create folder", "make a folder", "make folder", "new folder", "create a directory", "make a directory", "create dir")},
	{IntentList, anyPhrase("list", "show me", "show my", "what files", "which files", "what's in", "whats in", "contents of")},
	{IntentIdentify, anyPhrase("what kind of file", "what type of file", "file type", "what is this file", "identify")},
	{IntentRead, anyPhrase("read", "open", "show the contents", "print the file", "cat ")},
	{IntentOrganize, anyPhrase("sort", "organize", "organise", "clean up", "cleanup", "tidy", "move", "file away", "put away")},
	{IntentScanAll, anyPhrase("scan", "everything", "all files", "all my files", "entire folder", "whole folder", "index")},
}

// greetingWords are matched on word boundaries, not substrings: "hill" must
// not read as "hi".
var greetingWords = map[string]bool{
	"hi": true, "hello": true, "hey": true, "yo": true,
	"howdy": true, "greetings": true, "morning": true, "evening": true,
}

// ClassifyIntent maps lower-cased user text onto the first matching intent,
// defaulting to chat.
func ClassifyIntent(text string) Intent {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return IntentChat
	}

	for _, r := range intentRules {
		if r.match(lower) {
			logging.PerceptionDebug("intent %q for %q", r.intent, truncate(lower, 60))
			return r.intent
		}
	}
	return IntentChat
}

func isGreeting(lower string) bool {
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '!' || r == '?'
	})
	// Greetings are short; a long sentence that happens to open with "hey"
	// is a request, not a salutation.
	if len(words) == 0 || len(words) > 4 {
		return false
	}
	return greetingWords[words[0]]
}

// namedFolderRe pulls a folder name out of create-folder phrasing, quoted
// or bare after "called"/"named".
var namedFolderRe = regexp.MustCompile(`(?i)(?:folder|directory)\s+["']([^"']+)["']|(?:called|named)\s+["']?([\w][\w\- ]*?)["']?\s*$`)

// ExtractFolderName returns the folder name a create request asks for, or
// "" when none can be found.
func ExtractFolderName(text string) string {
	m := namedFolderRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return ""
	}
	for _, g := range m[1:] {
		if g != "" {
			return strings.TrimSpace(g)
		}
	}
	return ""
}

func anyPhrase(phrases ...string) func(string) bool {
	return func(lower string) bool {
		for _, p := range phrases {
			if strings.Contains(lower, p) {
				return true
			}
		}
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
