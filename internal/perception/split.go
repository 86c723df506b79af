// Package perception turns raw model output into structured material for the
// rest of the pipeline: it splits a reply into its conversational and command
// halves, classifies bare user text into a coarse intent, builds the prompt
// sent upstream, and talks to the completion service.
package perception

import (
	"encoding/json"
	"fmt"
	"strings"

	"sortd/internal/logging"
)

// Section markers the model is instructed to emit. Everything between them
// is for the human; everything after the second is for the machine.
const (
	ConversationMarker = "CONVERSATION:"
	CommandMarker      = "COMMAND:"
)

// conversationPreview bounds how much of an unstructured reply is surfaced
// when no markers and no JSON are found.
const conversationPreview = 200

// SplitResult is the outcome of dividing a raw reply.
type SplitResult struct {
	Conversation string      // human-facing text, whitespace-trimmed
	Payload      interface{} // decoded JSON command payload, nil if absent
	HasCommand   bool
}

// Split divides a raw reply into conversation and command. It never fails:
// a reply the splitter cannot make sense of degrades to conversation-only.
func Split(raw string) SplitResult {
	convIdx := strings.Index(raw, ConversationMarker)
	cmdIdx := strings.Index(raw, CommandMarker)

	if convIdx >= 0 && cmdIdx > convIdx {
		conversation := strings.TrimSpace(raw[convIdx+len(ConversationMarker) : cmdIdx])
		commandText := raw[cmdIdx+len(CommandMarker):]

		if payload, ok := decodeCommand(commandText); ok {
			logging.PerceptionDebug("split: markers present, command decoded")
			return SplitResult{Conversation: conversation, Payload: payload, HasCommand: true}
		}
		logging.Perception("split: command section undecodable, degrading to conversation-only")
		return SplitResult{Conversation: conversation}
	}

	// No marker pair. The model may have emitted bare JSON.
	if payload, ok := decodeCommand(raw); ok {
		logging.PerceptionDebug("split: markerless reply parsed as bare command")
		return SplitResult{Payload: payload, HasCommand: true}
	}

	conversation := strings.TrimSpace(raw)
	if len(conversation) > conversationPreview {
		conversation = conversation[:conversationPreview]
	}
	return SplitResult{Conversation: conversation}
}

// Format renders a conversation/command pair in the marker format Split
// consumes. Used by tests and by synthetic replies.
func Format(conversation string, command interface{}) (string, error) {
	encoded, err := json.Marshal(command)
	if err != nil {
		return "", fmt.Errorf("encode command: %w", err)
	}
	return fmt.Sprintf("%s\n%s\n%s\n%s", ConversationMarker, conversation, CommandMarker, encoded), nil
}

// decodeCommand tries increasingly forgiving strategies to pull a JSON value
// out of text: the whole string, then the first brace- or bracket-delimited
// substring.
func decodeCommand(text string) (interface{}, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, false
	}

	if v, ok := decodeValue(trimmed); ok {
		return v, true
	}

	// Models wrap JSON in prose and code fences; take the first structural
	// opener and let the decoder find the end of the value.
	objIdx := strings.Index(trimmed, "{")
	arrIdx := strings.Index(trimmed, "[")
	start := objIdx
	if start < 0 || (arrIdx >= 0 && arrIdx < start) {
		start = arrIdx
	}
	if start < 0 {
		return nil, false
	}
	return decodeValue(trimmed[start:])
}

// decodeValue decodes the first JSON value at the start of s. Trailing text
// after a complete value is tolerated; only objects and arrays qualify as
// commands.
func decodeValue(s string) (interface{}, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		return v, true
	}
	return nil, false
}
