package dispatch

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"sortd/internal/action"
	"sortd/internal/logging"
	"sortd/internal/memory"
	"sortd/internal/perception"
)

// Inference reconstructs an implied action batch from conversational text
// when the upstream claimed to act but emitted no command. It is a
// best-effort secondary interpreter: synthesized actions re-enter the normal
// validate-then-dispatch path and get no special permissions.
type Inference struct {
	store   *memory.Store
	root    string
	records *Records
}

// NewInference creates the inference engine for one session.
func NewInference(store *memory.Store, root string, records *Records) *Inference {
	return &Inference{store: store, root: root, records: records}
}

// Phrases that mark the text as a clarifying question; questions are passed
// to the user verbatim, never second-guessed into actions.
var questionPhrases = []string{
	"which folder", "which file", "would you like", "do you want",
	"should i", "could you tell", "let me know", "can you clarify",
	"what would you", "please specify",
}

// Completion phrasings checked in precedence order: a claim of having
// sorted/moved wins over a claim of having created, which wins over a
// request to repeat.
var (
	sortedPhrases = []string{
		"i've sorted", "i have sorted", "sorted your", "i've moved",
		"i have moved", "moved your", "i've organized", "i've organised",
		"organized your", "organised your", "filed your", "i've filed",
		"cleaned up your", "i've cleaned up", "put away",
	}
	createdPhrases = []string{
		"i've created", "i have created", "created a folder", "created the folder",
		"i've made a folder", "made a folder", "made the folder", "i've set up",
		"set up a folder",
	}
	repeatPhrases = []string{
		"do that again", "did it again", "same as before", "once more",
		"repeated the", "i'll do the same", "done the same",
	}
)

// extensionMention finds explicit mentions like "csv files" or ".pdf".
var extensionMention = regexp.MustCompile(`\.?\b([a-z0-9]{2,5})\b files?`)

// synonymExtensions maps loose vocabulary to the extensions it usually
// means. Used when neither a category nor an extension is named outright.
var synonymExtensions = map[string][]string{
	"documents":    {".pdf", ".doc", ".docx", ".txt", ".md"},
	"document":     {".pdf", ".doc", ".docx", ".txt", ".md"},
	"docs":         {".pdf", ".doc", ".docx", ".txt", ".md"},
	"pictures":     {".jpg", ".jpeg", ".png", ".gif"},
	"photos":       {".jpg", ".jpeg", ".png", ".gif"},
	"images":       {".jpg", ".jpeg", ".png", ".gif"},
	"spreadsheets": {".xls", ".xlsx", ".csv"},
	"data":         {".csv", ".xlsx", ".json"},
	"music":        {".mp3", ".wav", ".flac"},
	"videos":       {".mp4", ".mkv", ".mov"},
	"code":         {".py", ".go", ".java", ".js"},
	"archives":     {".zip", ".tar", ".gz", ".rar"},
}

// folderNameRe pulls a folder name out of create-completion prose.
var folderNameRe = regexp.MustCompile(`folder (?:called |named )?["']([^"']+)["']|folder (?:called |named )(\w[\w\- ]*)`)

// Infer examines the assistant's prose and the user's last message. It
// returns either a synthesized batch or a clarification message; inferred
// is false when the text does not claim any completed action.
func (inf *Inference) Infer(assistantText string, history []perception.Turn) (batch action.Batch, clarification string, inferred bool) {
	lower := strings.ToLower(assistantText)

	if isQuestion(lower) {
		logging.Dispatch("inference skipped: text reads as a question")
		return nil, "", false
	}

	lastUser := strings.ToLower(lastUserMessage(history))

	switch {
	case containsAny(lower, sortedPhrases):
		b, clar := inf.inferMoves(lower, lastUser)
		return b, clar, true
	case containsAny(lower, createdPhrases):
		b, clar := inf.inferCreate(lower, lastUser)
		return b, clar, true
	case containsAny(lower, repeatPhrases):
		if last := inf.records.LastBatch(); last != nil {
			logging.Dispatch("inference: repeating last batch of %d", len(last))
			return last, "", true
		}
		return nil, "I don't have a previous operation to repeat.", true
	}
	return nil, "", false
}

// inferMoves synthesizes move_file actions by matching indexed files against
// the category and file vocabulary of the conversation. Match precedence per
// file: named category substring, then named extension, then synonym
// keyword overlap.
func (inf *Inference) inferMoves(assistant, lastUser string) (action.Batch, string) {
	combined := assistant + " " + lastUser

	categories, err := inf.store.Categories()
	if err != nil {
		logging.DispatchError("inference: load categories: %v", err)
		return nil, "I couldn't check your categories; which files should go where?"
	}

	destName, destPath := namedCategory(combined, categories)
	if destPath == "" {
		return nil, "I couldn't tell which folder those files should go to. Which one did you mean?"
	}

	entries, err := inf.store.IndexEntries()
	if err != nil {
		logging.DispatchError("inference: load index: %v", err)
		return nil, "I couldn't check the file index; which files did you mean?"
	}

	wanted := wantedExtensions(combined, destName)
	var batch action.Batch
	for _, e := range entries {
		if filepath.Dir(e.Path) != inf.root {
			continue // already filed somewhere
		}
		if !matches(e, combined, wanted) {
			continue
		}
		batch = append(batch, action.Action{
			Kind: action.KindMoveFile,
			Args: map[string]string{
				action.ArgSource:      e.Path,
				action.ArgDestination: filepath.Join(destPath, e.Name),
			},
		})
	}

	if len(batch) == 0 {
		return nil, fmt.Sprintf("I couldn't find matching files to move into %s. Which files did you mean?", destName)
	}
	logging.Dispatch("inference: %d moves into %s", len(batch), destName)
	return batch, ""
}

// inferCreate synthesizes a create_folder from create-completion prose.
func (inf *Inference) inferCreate(assistant, lastUser string) (action.Batch, string) {
	for _, text := range []string{assistant, lastUser} {
		if m := folderNameRe.FindStringSubmatch(text); m != nil {
			name := m[1]
			if name == "" {
				name = m[2]
			}
			name = strings.TrimSpace(name)
			if name != "" {
				return action.Batch{{
					Kind: action.KindCreateFolder,
					Args: map[string]string{action.ArgPath: name},
				}}, ""
			}
		}
	}
	return nil, "What should the new folder be called?"
}

// matches applies the per-file precedence: category substring in the file
// name, explicit extension, then synonym overlap with parsed keywords.
func matches(e memory.IndexEntry, combined string, wanted map[string]bool) bool {
	if len(wanted) > 0 {
		return wanted[e.Extension]
	}
	for _, kw := range e.Meta.Keywords {
		if len(kw) >= 3 && strings.Contains(combined, kw) {
			return true
		}
	}
	return false
}

// wantedExtensions collects the extensions the conversation names, first
// explicitly ("csv files", ".pdf"), then via the synonym table, including
// the destination category's own name ("data" implies .csv and friends).
func wantedExtensions(combined, destName string) map[string]bool {
	wanted := map[string]bool{}
	for _, m := range extensionMention.FindAllStringSubmatch(combined, -1) {
		ext := "." + m[1]
		if knownExtension(ext) {
			wanted[ext] = true
		}
	}
	for word, exts := range synonymExtensions {
		if strings.Contains(combined, word) || word == destName {
			for _, ext := range exts {
				wanted[ext] = true
			}
		}
	}
	return wanted
}

// knownExtension keeps the explicit-mention regex from matching stray words
// like "my files".
func knownExtension(ext string) bool {
	for _, exts := range synonymExtensions {
		for _, e := range exts {
			if e == ext {
				return true
			}
		}
	}
	switch ext {
	case ".log", ".xml", ".html", ".pptx", ".ppt":
		return true
	}
	return false
}

// namedCategory finds the category whose name appears in the text. When
// several names match, the longest wins (ties broken alphabetically) so the
// choice does not depend on map iteration order.
func namedCategory(text string, categories map[string]string) (string, string) {
	names := make([]string, 0, len(categories))
	for name := range categories {
		if name != "" && strings.Contains(text, name) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", ""
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	return names[0], categories[names[0]]
}

func isQuestion(lower string) bool {
	trimmed := strings.TrimSpace(lower)
	if strings.HasSuffix(trimmed, "?") {
		return true
	}
	return containsAny(trimmed, questionPhrases)
}

func lastUserMessage(history []perception.Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == perception.RoleUser {
			return history[i].Content
		}
	}
	return ""
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
