package decoder

import "time"

// Status is the lifecycle state of a GenerateStream.
type Status int32

const (
	StatusQueued Status = iota
	StatusRunning
	StatusFinishedEOS
	StatusFinishedLength
	StatusCancelled
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "QUEUED"
	case StatusRunning:
		return "RUNNING"
	case StatusFinishedEOS:
		return "FINISHED_EOS"
	case StatusFinishedLength:
		return "FINISHED_LENGTH"
	case StatusCancelled:
		return "CANCELLED"
	case StatusErrored:
		return "ERRORED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether s is a final status a stream cannot leave.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFinishedEOS, StatusFinishedLength, StatusCancelled, StatusErrored:
		return true
	default:
		return false
	}
}

// RequestFormat distinguishes raw completion requests from chat-templated ones.
type RequestFormat int32

const (
	RequestFormatRaw RequestFormat = iota
	RequestFormatChatAPI
)

// NoLoraID is the sentinel LoraID for requests with no adapter attached.
const NoLoraID int32 = -1

// SamplingParams configures token sampling for a request.
type SamplingParams struct {
	Temperature       float64
	TopK              int
	TopP              float64
	RepetitionPenalty float64
}

// GenerateConfig carries the recognized per-request generation options
// (spec.md §3).
type GenerateConfig struct {
	MaxNewTokens      int
	StopTokenIDs      map[int32]struct{}
	Sampling          SamplingParams
	AdapterName       *string
	RequestFormat     RequestFormat
	ReturnLogprobs    bool
}

// EmbeddingTensor is an opaque pre-computed multimodal embedding. The core
// never interprets Data/Shape; it only threads the tensor through to the
// executor and runs Release (if set) as a destructor on stream teardown.
type EmbeddingTensor struct {
	Data    []float32
	Shape   []int
	Release func()
}

// GenerateInput is the immutable request the caller submits.
type GenerateInput struct {
	PromptTokenIDs []int32
	TokenTypeIDs   []int32
	Embedding      *EmbeddingTensor
	Config         GenerateConfig

	// LoraID is filled in by Engine.Decode before the stream is queued: the
	// acquired adapter's id when Config.AdapterName is set, else NoLoraID.
	LoraID int32
}

// GenerateOutput is the snapshot a consumer observes from GenerateStream.Wait.
type GenerateOutput struct {
	RequestID     uint64
	Produced      []int32 // full produced-so-far sequence, copied
	Delta         []int32 // tokens appended since the previous snapshot of this stream
	Status        Status
	StopReason    string
	StepGeneration uint64
	ObservedAt    time.Time
}

// Finished reports whether this snapshot carries a terminal status.
func (o GenerateOutput) Finished() bool {
	return o.Status.IsTerminal()
}
