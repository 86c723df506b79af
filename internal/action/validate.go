package action

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"sortd/internal/logging"
)

// requiredArgs maps each kind to the arguments it cannot run without.
// Kinds absent from the map require nothing.
var requiredArgs = map[Kind][]string{
	KindListFiles:    {ArgPath},
	KindListAllFiles: {ArgPath},
	KindMoveFile:     {ArgSource, ArgDestination},
	KindCreateFolder: {ArgPath},
	KindReadFile:     {ArgPath},
	KindFileType:     {ArgPath},
}

// relaxedPath is the subset of kinds for which a missing path argument is
// underspecification, not malformation. The validator records an explicit
// empty marker and the dispatcher decides what the path defaults to.
var relaxedPath = map[Kind]bool{
	KindListFiles:    true,
	KindListAllFiles: true,
	KindReadFile:     true,
	KindFileType:     true,
	KindCreateFolder: true,
}

// kindAliases maps spelling variants a generator is known to emit onto
// canonical kinds.
var kindAliases = map[string]Kind{
	"create_file":  KindCreateFolder,
	"create_dir":   KindCreateFolder,
	"make_folder":  KindCreateFolder,
	"list":         KindListFiles,
	"list_all":     KindListAllFiles,
	"move":         KindMoveFile,
	"read":         KindReadFile,
	"conversation": KindChat,
	"respond":      KindChat,
	"no_action":    KindNone,
	"do_nothing":   KindNone,
}

// argAliases maps variant argument names onto canonical ones.
var argAliases = map[string]string{
	"src":         ArgSource,
	"from":        ArgSource,
	"dst":         ArgDestination,
	"dest":        ArgDestination,
	"to":          ArgDestination,
	"target":      ArgDestination,
	"folder":      ArgPath,
	"directory":   ArgPath,
	"dir":         ArgPath,
	"file":        ArgPath,
	"filename":    ArgPath,
	"count":       ArgLimit,
	"max_results": ArgLimit,
}

// Payload keys carrying the kind in a raw action object, checked in order.
var kindKeys = []string{"action", "command", "kind"}

// Payload keys carrying a nested batch, checked in order.
var batchKeys = []string{"actions", "commands"}

// Payload keys treated as conversational text rather than arguments.
var noteKeys = map[string]bool{"message": true, "note": true, "reply": true, "text": true}

// Payload keys holding a nested argument object.
var argsKeys = map[string]bool{"args": true, "arguments": true}

// Validate normalizes a decoded JSON payload into a Batch or rejects it
// whole. The payload may be a single action object, an object carrying an
// actions array, or a bare array. One invalid element invalidates the entire
// batch; a partially valid batch is never returned.
func Validate(payload interface{}) (Batch, error) {
	rawActions, err := flatten(payload)
	if err != nil {
		return nil, err
	}
	if len(rawActions) == 0 {
		return nil, ErrEmptyBatch
	}

	batch := make(Batch, 0, len(rawActions))
	var problems []string
	for i, raw := range rawActions {
		a, err := validateOne(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("action %d: %v", i+1, err))
			continue
		}
		batch = append(batch, a)
	}

	if len(problems) > 0 {
		// Atomic rejection. Keep the first error's sentinel so callers
		// can still classify, but report every problem.
		logging.Actions("rejected batch of %d: %s", len(rawActions), strings.Join(problems, "; "))
		_, firstErr := validateOne(rawActions[indexOfFirstProblem(rawActions)])
		return nil, fmt.Errorf("%d of %d actions invalid (%s): %w",
			len(problems), len(rawActions), strings.Join(problems, "; "), sentinelOf(firstErr))
	}

	logging.ActionsDebug("validated batch of %d", len(batch))
	return batch, nil
}

// ValidateBatch re-validates an already typed batch. Inference-synthesized
// actions re-enter through here so they face the same rules as parsed ones.
// For a batch that already passed validation this is the identity.
func ValidateBatch(b Batch) (Batch, error) {
	if len(b) == 0 {
		return nil, ErrEmptyBatch
	}

	out := make(Batch, 0, len(b))
	for i, a := range b {
		na, err := normalizeAction(a)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i+1, err)
		}
		out = append(out, na)
	}
	return out, nil
}

// flatten reduces the three accepted payload shapes to a flat list of raw
// action objects.
func flatten(payload interface{}) ([]map[string]interface{}, error) {
	switch v := payload.(type) {
	case map[string]interface{}:
		for _, key := range batchKeys {
			if nested, ok := v[key]; ok {
				arr, ok := nested.([]interface{})
				if !ok {
					return nil, fmt.Errorf("%q is not an array: %w", key, ErrBadPayload)
				}
				return toObjects(arr)
			}
		}
		return []map[string]interface{}{v}, nil
	case []interface{}:
		return toObjects(v)
	case nil:
		return nil, ErrEmptyBatch
	default:
		return nil, fmt.Errorf("top-level %T: %w", payload, ErrBadPayload)
	}
}

func toObjects(arr []interface{}) ([]map[string]interface{}, error) {
	out := make([]map[string]interface{}, 0, len(arr))
	for i, el := range arr {
		obj, ok := el.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("element %d is %T, not an object: %w", i+1, el, ErrBadPayload)
		}
		out = append(out, obj)
	}
	return out, nil
}

// validateOne turns one raw object into a typed Action.
func validateOne(raw map[string]interface{}) (Action, error) {
	kind, err := extractKind(raw)
	if err != nil {
		return Action{}, err
	}

	a := Action{Kind: kind, Args: map[string]string{}}
	for key, val := range raw {
		lower := strings.ToLower(strings.TrimSpace(key))
		if isKindKey(lower) {
			continue
		}
		if noteKeys[lower] {
			if s, ok := val.(string); ok {
				a.Note = s
			}
			continue
		}
		if argsKeys[lower] {
			// Arguments may arrive nested under an "args" object instead
			// of spread across the top level; both shapes are accepted.
			if nested, ok := val.(map[string]interface{}); ok {
				for nk, nv := range nested {
					if err := setArg(&a, nk, nv); err != nil {
						return Action{}, err
					}
				}
				continue
			}
		}
		if err := setArg(&a, key, val); err != nil {
			return Action{}, err
		}
	}

	return normalizeAction(a)
}

// setArg records one argument under its canonical name.
func setArg(a *Action, key string, val interface{}) error {
	lower := strings.ToLower(strings.TrimSpace(key))
	if canonical, ok := argAliases[lower]; ok {
		lower = canonical
	}
	s, err := stringify(val)
	if err != nil {
		return fmt.Errorf("argument %q: %w", key, err)
	}
	a.Args[lower] = s
	return nil
}

// normalizeAction applies the per-kind rules: required arguments, the
// relaxed-path marker, limit coercion, and the none-to-chat collapse. It is
// idempotent; its output passes through unchanged.
func normalizeAction(a Action) (Action, error) {
	if !IsKnown(a.Kind) {
		return Action{}, fmt.Errorf("%q: %w", a.Kind, ErrUnknownKind)
	}

	// A no-op is a conversational event, not a filesystem event.
	if a.Kind == KindNone {
		a.Kind = KindChat
	}

	if a.Args == nil {
		a.Args = map[string]string{}
	}

	for _, req := range requiredArgs[a.Kind] {
		if _, ok := a.Args[req]; ok {
			continue
		}
		if req == ArgPath && relaxedPath[a.Kind] {
			a.Args[ArgPath] = "" // underspecified, dispatcher decides
			continue
		}
		return Action{}, fmt.Errorf("%s requires %q: %w", a.Kind, req, ErrMissingArgument)
	}

	if limit, ok := a.Args[ArgLimit]; ok && limit != "" {
		n, err := strconv.Atoi(strings.TrimSpace(limit))
		if err != nil || n < 0 {
			return Action{}, fmt.Errorf("limit %q is not a non-negative integer: %w", limit, ErrBadArgument)
		}
		a.Args[ArgLimit] = strconv.Itoa(n)
	}

	return a, nil
}

func extractKind(raw map[string]interface{}) (Kind, error) {
	for _, key := range kindKeys {
		for rawKey, val := range raw {
			if !strings.EqualFold(strings.TrimSpace(rawKey), key) {
				continue
			}
			s, ok := val.(string)
			if !ok {
				return "", fmt.Errorf("kind field %q is %T: %w", rawKey, val, ErrUnknownKind)
			}
			k := Kind(strings.ToLower(strings.TrimSpace(s)))
			if alias, ok := kindAliases[string(k)]; ok {
				k = alias
			}
			if !IsKnown(k) {
				return "", fmt.Errorf("%q: %w", s, ErrUnknownKind)
			}
			return k, nil
		}
	}
	return "", fmt.Errorf("no action field present: %w", ErrUnknownKind)
}

func isKindKey(lower string) bool {
	for _, k := range kindKeys {
		if lower == k {
			return true
		}
	}
	return false
}

// stringify coerces JSON scalar values into string arguments. Integral
// numbers lose the trailing .0 a JSON decoder gives them.
func stringify(val interface{}) (string, error) {
	switch v := val.(type) {
	case string:
		return v, nil
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10), nil
		}
		return "", fmt.Errorf("non-integral number %v: %w", v, ErrBadArgument)
	case bool:
		return strconv.FormatBool(v), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("unsupported type %T: %w", val, ErrBadArgument)
	}
}

func indexOfFirstProblem(raws []map[string]interface{}) int {
	for i, raw := range raws {
		if _, err := validateOne(raw); err != nil {
			return i
		}
	}
	return 0
}

// sentinelOf maps an arbitrary validation error back to its sentinel for
// wrapping at the batch level.
func sentinelOf(err error) error {
	for _, s := range []error{ErrUnknownKind, ErrMissingArgument, ErrBadArgument, ErrBadPayload} {
		if errors.Is(err, s) {
			return s
		}
	}
	if err != nil {
		return err
	}
	return ErrBadPayload
}

// Describe renders a batch compactly for logs.
func Describe(b Batch) string {
	parts := make([]string, 0, len(b))
	for _, a := range b {
		keys := make([]string, 0, len(a.Args))
		for k, v := range a.Args {
			if v != "" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		parts = append(parts, fmt.Sprintf("%s(%s)", a.Kind, strings.Join(keys, ",")))
	}
	return strings.Join(parts, " -> ")
}
