package action

import "errors"

// Validation errors. Every rejection wraps one of these so callers can
// distinguish a malformed payload from an unknown kind and degrade
// accordingly.
var (
	// ErrBadPayload indicates the raw payload had no recognizable shape
	// (not a single action object, an actions array, or a bare array).
	ErrBadPayload = errors.New("payload shape not recognized")

	// ErrEmptyBatch indicates the payload normalized to zero actions.
	ErrEmptyBatch = errors.New("action batch is empty")

	// ErrUnknownKind indicates an action kind outside the closed set.
	ErrUnknownKind = errors.New("unknown action kind")

	// ErrMissingArgument indicates a required argument was absent
	// (and the kind is not in the relaxed-path subset).
	ErrMissingArgument = errors.New("missing required argument")

	// ErrBadArgument indicates an argument was present but of the wrong
	// type, such as a non-numeric limit.
	ErrBadArgument = errors.New("argument is not usable")
)
