// Package action defines the closed set of filesystem action kinds and the
// validator that turns raw untrusted payloads into typed batches. Nothing
// downstream of this package ever sees an action whose kind is outside the
// closed set or whose required arguments are absent.
package action

// Kind identifies one member of the closed action set.
type Kind string

const (
	KindChat         Kind = "chat"
	KindNone         Kind = "none"
	KindListFiles    Kind = "list_files"
	KindListAllFiles Kind = "list_all_files"
	KindMoveFile     Kind = "move_file"
	KindCreateFolder Kind = "create_folder"
	KindReadFile     Kind = "read_file"
	KindFileType     Kind = "file_type"
)

// Argument names used across the schema.
const (
	ArgPath        = "path"
	ArgSource      = "source"
	ArgDestination = "destination"
	ArgLimit       = "limit"
)

// Action is one typed, validated request. Args holds the per-kind arguments
// with canonical names; Note carries the conversational text that traveled
// with the action (the whole reply for chat, an optional aside otherwise).
type Action struct {
	Kind Kind              `json:"kind"`
	Args map[string]string `json:"args,omitempty"`
	Note string            `json:"note,omitempty"`
}

// Batch is an ordered sequence of actions. Insertion order is execution
// order; the dispatcher never reorders it.
type Batch []Action

// IsKnown reports whether k belongs to the closed action set.
func IsKnown(k Kind) bool {
	switch k {
	case KindChat, KindNone, KindListFiles, KindListAllFiles,
		KindMoveFile, KindCreateFolder, KindReadFile, KindFileType:
		return true
	}
	return false
}

// Mutates reports whether the kind has filesystem side effects.
func (k Kind) Mutates() bool {
	return k == KindMoveFile || k == KindCreateFolder
}

// Chat constructs a conversational action carrying the given text. Used both
// for normal replies and as the degraded form of rejected payloads.
func Chat(text string) Action {
	return Action{Kind: KindChat, Note: text}
}

// Arg returns the named argument, or "" when absent.
func (a Action) Arg(name string) string {
	if a.Args == nil {
		return ""
	}
	return a.Args[name]
}
