package decoder

import "fmt"

// Kind classifies the error taxonomy from spec.md §7.
type Kind int32

const (
	KindEmptyPrompt Kind = iota
	KindLongPrompt
	KindOutOfMemory
	KindExecutorFailure
	KindCancelled
	KindStopped
	KindAdapterNotFound
)

func (k Kind) String() string {
	switch k {
	case KindEmptyPrompt:
		return "EMPTY_PROMPT"
	case KindLongPrompt:
		return "LONG_PROMPT"
	case KindOutOfMemory:
		return "OUT_OF_MEMORY"
	case KindExecutorFailure:
		return "EXECUTOR_FAILURE"
	case KindCancelled:
		return "CANCELLED"
	case KindStopped:
		return "STOPPED"
	case KindAdapterNotFound:
		return "ADAPTER_NOT_FOUND"
	default:
		return "UNKNOWN"
	}
}

// EngineError is the wrapped-error type the core returns and attaches to
// terminal stream snapshots.
type EngineError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *EngineError) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, Kind) style comparisons work against a bare Kind
// wrapped in a sentinel error (used by callers that only care about the kind).
func (e *EngineError) Is(target error) bool {
	other, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

func newEngineError(kind Kind, format string, args ...any) *EngineError {
	return &EngineError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapEngineError(kind Kind, cause error, format string, args ...any) *EngineError {
	return &EngineError{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}
