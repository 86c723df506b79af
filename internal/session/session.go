// Package session owns one conversation: the bounded turn history, the
// single-in-flight request gate, and the pipeline that turns a user message
// into completed actions and a reply.
package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"sortd/internal/action"
	"sortd/internal/config"
	"sortd/internal/dispatch"
	"sortd/internal/logging"
	"sortd/internal/memory"
	"sortd/internal/perception"
	"sortd/internal/sandbox"
)

// ErrRequestInFlight is returned when Process is called while another
// request is still running. The caller routes this to a cancel control; new
// requests are never queued behind a stuck one.
var ErrRequestInFlight = errors.New("a request is already being processed")

// maxHistory bounds the retained conversation turns.
const maxHistory = 10

// maxIndexLinesInPrompt caps how much of the file index the prompt carries.
const maxIndexLinesInPrompt = 50

// Response is what one processed request produces.
type Response struct {
	RequestID string
	Text      string            // human-facing reply
	Results   []dispatch.Result // per-action outcomes, empty for pure chat
}

// Session wires the pipeline together for one allowed root.
type Session struct {
	cfg       *config.Config
	sb        *sandbox.Sandbox
	store     *memory.Store
	completer perception.Completer
	disp      *dispatch.Dispatcher
	inference *dispatch.Inference

	mu       sync.Mutex
	inFlight bool
	cancel   context.CancelFunc
	history  []perception.Turn
}

// New creates a session. The dispatcher and inference engine share one
// record list so repeat requests see everything that ran.
func New(cfg *config.Config, sb *sandbox.Sandbox, store *memory.Store, completer perception.Completer) *Session {
	records := dispatch.NewRecords()
	return &Session{
		cfg:       cfg,
		sb:        sb,
		store:     store,
		completer: completer,
		disp:      dispatch.New(sb, store, cfg.Dispatch, records),
		inference: dispatch.NewInference(store, sb.Root(), records),
	}
}

// Process handles one user message end to end. Only one request runs at a
// time; a second concurrent call fails fast with ErrRequestInFlight.
func (s *Session) Process(ctx context.Context, userText string) (*Response, error) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil, ErrRequestInFlight
	}
	s.inFlight = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.inFlight = false
		s.cancel = nil
		s.mu.Unlock()
	}()

	requestID := uuid.NewString()
	logging.Session("request %s: %q", requestID, truncate(userText, 120))
	logging.Audit(logging.AuditEvent{EventType: logging.AuditRequestStart, RequestID: requestID, Target: truncate(userText, 200), Success: true})

	s.appendTurn(perception.Turn{Role: perception.RoleUser, Content: userText})

	reply, results := s.runPipeline(ctx, requestID, userText)

	s.appendTurn(perception.Turn{Role: perception.RoleAssistant, Content: reply})
	logging.Audit(logging.AuditEvent{EventType: logging.AuditRequestEnd, RequestID: requestID, Success: true})

	return &Response{RequestID: requestID, Text: reply, Results: results}, nil
}

// CancelActive cancels the in-flight request, if any. Safe to call anytime.
func (s *Session) CancelActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		logging.Session("cancelling active request")
		s.cancel()
	}
}

// History returns a copy of the retained turns.
func (s *Session) History() []perception.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]perception.Turn(nil), s.history...)
}

// Records returns the session's operation log.
func (s *Session) Records() []dispatch.OperationRecord {
	return s.disp.Records().All()
}

// runPipeline is the sequential core: classify, prompt, complete, split,
// validate, dispatch, and fall back to inference when the reply claims an
// action it never emitted.
func (s *Session) runPipeline(ctx context.Context, requestID, userText string) (string, []dispatch.Result) {
	intent := perception.ClassifyIntent(userText)
	logging.Audit(logging.AuditEvent{EventType: logging.AuditIntentParsed, RequestID: requestID, Action: string(intent), Success: true})

	prompt := perception.BuildPrompt(s.promptContext(userText, intent))

	raw, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		if errors.Is(err, perception.ErrUpstreamUnavailable) {
			logging.Session("request %s: upstream unavailable: %v", requestID, err)
			if reply, results, ok := s.tryOffline(ctx, requestID, intent, userText); ok {
				return reply, results
			}
			return "I couldn't reach the language model. Is the Ollama server running? I can try again once it's available.", nil
		}
		if ctx.Err() != nil {
			return "Okay, I've stopped that request.", nil
		}
		logging.Session("request %s: completion failed: %v", requestID, err)
		return fmt.Sprintf("The language model returned an error (%v), so I haven't done anything.", err), nil
	}

	split := perception.Split(raw)
	batch := s.toBatch(split)

	results := s.disp.Execute(ctx, batch, requestID)

	// A chat-only batch whose prose claims completed work goes through the
	// inference engine; synthesized actions re-enter the exact same
	// validate-and-dispatch path.
	if chatOnly(batch) {
		if inferredResults, reply, ok := s.tryInference(ctx, requestID, split.Conversation); ok {
			return reply, inferredResults
		}
	}

	return s.composeReply(split.Conversation, batch, results), results
}

// toBatch validates the split payload, degrading rejections to a chat echo
// so the user always sees a reply.
func (s *Session) toBatch(split perception.SplitResult) action.Batch {
	if !split.HasCommand {
		return action.Batch{action.Chat(split.Conversation)}
	}

	batch, err := action.Validate(split.Payload)
	if err != nil {
		logging.Session("payload rejected: %v", err)
		echo := split.Conversation
		if echo == "" {
			echo = "I got a command I couldn't safely understand, so I haven't done anything."
		}
		return action.Batch{action.Chat(echo)}
	}

	// Chat actions emitted with no note inherit the conversational half.
	for i := range batch {
		if batch[i].Kind == action.KindChat && batch[i].Note == "" {
			batch[i].Note = split.Conversation
		}
	}
	return batch
}

// tryOffline handles a request without the model when the intent maps onto
// one unambiguous action, so an unreachable model still leaves basic
// operations working. Anything richer waits for the model to come back.
func (s *Session) tryOffline(ctx context.Context, requestID string, intent perception.Intent, userText string) (string, []dispatch.Result, bool) {
	var offline action.Batch
	switch intent {
	case perception.IntentCreateFolder:
		name := perception.ExtractFolderName(userText)
		if name == "" {
			return "", nil, false
		}
		offline = action.Batch{{Kind: action.KindCreateFolder, Args: map[string]string{action.ArgPath: name}}}
	case perception.IntentList:
		offline = action.Batch{{Kind: action.KindListFiles}}
	case perception.IntentScanAll:
		offline = action.Batch{{Kind: action.KindListAllFiles}}
	case perception.IntentRead:
		offline = action.Batch{{Kind: action.KindReadFile}}
	default:
		return "", nil, false
	}

	validated, err := action.ValidateBatch(offline)
	if err != nil {
		return "", nil, false
	}

	logging.Session("request %s: model unreachable, handling %s offline", requestID, intent)
	results := s.disp.Execute(ctx, validated, requestID)
	reply := "I couldn't reach the language model, so I handled that directly.\n" +
		s.composeReply("", validated, results)
	return reply, results, true
}

// tryInference runs the inference fallback. ok is true when inference either
// produced executed actions or a clarification that should replace the reply.
func (s *Session) tryInference(ctx context.Context, requestID, conversation string) ([]dispatch.Result, string, bool) {
	inferred, clarification, claimed := s.inference.Infer(conversation, s.History())
	if !claimed {
		return nil, "", false
	}
	if clarification != "" {
		return nil, clarification, true
	}

	validated, err := action.ValidateBatch(inferred)
	if err != nil {
		logging.Session("inferred batch failed validation: %v", err)
		return nil, "", false
	}

	logging.Audit(logging.AuditEvent{EventType: logging.AuditActionInferred, RequestID: requestID, Action: action.Describe(validated), Success: true})
	results := s.disp.Execute(ctx, validated, requestID)
	return results, s.composeReply(conversation, validated, results), true
}

// composeReply merges the conversational text with per-action outcomes.
func (s *Session) composeReply(conversation string, batch action.Batch, results []dispatch.Result) string {
	if chatOnly(batch) {
		if conversation != "" {
			return conversation
		}
		return dispatch.Summarize(results)
	}

	var parts []string
	if conversation != "" {
		parts = append(parts, conversation)
	}
	for _, r := range results {
		if r.Action.Kind == action.KindChat {
			continue // already covered by the conversational half
		}
		if r.Message != "" {
			parts = append(parts, r.Message)
		}
	}
	return strings.Join(parts, "\n")
}

// promptContext gathers the material BuildPrompt may use for this intent.
func (s *Session) promptContext(userText string, intent perception.Intent) perception.PromptContext {
	pc := perception.PromptContext{
		Root:     s.sb.Root(),
		UserText: userText,
		Intent:   intent,
		History:  s.History(),
	}

	if cats, err := s.store.Categories(); err == nil {
		pc.Categories = cats
	}
	if notes, err := s.store.Notes(); err == nil {
		pc.Notes = notes
	}
	if entries, err := s.store.IndexEntries(); err == nil {
		for i, e := range entries {
			if i >= maxIndexLinesInPrompt {
				break
			}
			rel, err := filepath.Rel(s.sb.Root(), e.Path)
			if err != nil {
				rel = e.Name
			}
			pc.Files = append(pc.Files, fmt.Sprintf("%s (%s)", rel, strings.TrimPrefix(e.Extension, ".")))
		}
	}
	return pc
}

func (s *Session) appendTurn(t perception.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, t)
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
}

func chatOnly(b action.Batch) bool {
	for _, a := range b {
		if a.Kind != action.KindChat {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
