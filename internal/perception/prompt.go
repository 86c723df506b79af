package perception

import (
	"fmt"
	"sort"
	"strings"
)

// Turn is one entry of the bounded conversation history.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// PromptContext carries everything the prompt builder may fold in. Which
// pieces are actually used depends on the classified intent; a greeting does
// not need the file index.
type PromptContext struct {
	Root       string
	Categories map[string]string // name -> absolute path
	Files      []string          // preformatted index lines, already capped
	Notes      map[string]string // relative path -> short note
	History    []Turn            // bounded, oldest first
	UserText   string
	Intent     Intent
}

// systemInstructions teaches the model the reply format. The schema listed
// here must stay in lockstep with the action validator.
const systemInstructions = `You are a file organization assistant. You may ONLY act inside the user's chosen folder, referred to as {ROOT}.

Reply in EXACTLY this format:

CONVERSATION:
<one or two friendly sentences for the user>
COMMAND:
<a single JSON object>

The JSON object is one of:
  {"action": "chat"}
  {"action": "list_files", "path": "{ROOT}"}
  {"action": "list_all_files", "path": "{ROOT}"}
  {"action": "read_file", "path": "{ROOT}/notes.txt"}
  {"action": "file_type", "path": "{ROOT}/mystery.bin"}
  {"action": "create_folder", "path": "{ROOT}/Documents"}
  {"action": "move_file", "source": "{ROOT}/a.pdf", "destination": "{ROOT}/Documents/a.pdf"}
or {"actions": [ ... ]} for several steps in order.

Use "chat" when no file operation is needed. Never invent paths outside {ROOT}.`

// maxHistoryInPrompt caps how many turns are replayed upstream.
const maxHistoryInPrompt = 10

// BuildPrompt assembles the full prompt for one completion call.
func BuildPrompt(pc PromptContext) string {
	var b strings.Builder
	b.WriteString(systemInstructions)
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "The user's folder is: %s\n", pc.Root)

	if len(pc.Categories) > 0 && wantsCategories(pc.Intent) {
		b.WriteString("\nKnown categories:\n")
		for _, name := range sortedKeys(pc.Categories) {
			fmt.Fprintf(&b, "  - %s: %s\n", name, pc.Categories[name])
		}
	}

	if len(pc.Files) > 0 && wantsIndex(pc.Intent) {
		b.WriteString("\nFiles currently in the folder:\n")
		for _, line := range pc.Files {
			fmt.Fprintf(&b, "  - %s\n", line)
		}
	}

	if len(pc.Notes) > 0 && pc.Intent == IntentIdentify {
		b.WriteString("\nNotes about files:\n")
		for _, path := range sortedKeys(pc.Notes) {
			fmt.Fprintf(&b, "  - %s: %s\n", path, pc.Notes[path])
		}
	}

	history := pc.History
	if len(history) > maxHistoryInPrompt {
		history = history[len(history)-maxHistoryInPrompt:]
	}
	if len(history) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, t := range history {
			fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
		}
	}

	fmt.Fprintf(&b, "\nuser: %s\n", pc.UserText)
	return b.String()
}

// wantsCategories reports whether the intent benefits from the category map.
func wantsCategories(i Intent) bool {
	switch i {
	case IntentOrganize, IntentCreateFolder, IntentScanAll, IntentList:
		return true
	}
	return false
}

// wantsIndex reports whether the intent benefits from index lines.
func wantsIndex(i Intent) bool {
	switch i {
	case IntentOrganize, IntentList, IntentScanAll, IntentIdentify, IntentRead:
		return true
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
