// Package modelclient is the sole integration point with the local
// inference service (spec §4.A). It exposes capability interfaces so the
// document pipeline orchestrator (internal/pipeline) is testable without a
// running model, per the trait-based dependency injection design note
// (spec §9): production code wires the HTTP client below; tests inject
// deterministic fakes.
package modelclient

import "context"

// Capability narrows what a resolved model can do.
type Capability string

const (
	CapabilityVision  Capability = "Vision"
	CapabilityTextOnly Capability = "TextOnly"
)

// GenerationParams tunes a single generate/chat call. Zero values fall
// back to the role-appropriate defaults documented in spec §4.A.
type GenerationParams struct {
	Model      string
	Temperature  *float64
	TopP      *float64
	TopK      *int
	NumPredict  *int
	NumCtx     *int
	KeepAlive   string
	Images     [][]byte // base64-decoded image bytes, vision calls only
}

// StreamEventType narrows what a StreamEvent carries.
type StreamEventType string

const (
	StreamEventToken   StreamEventType = "token"
	StreamEventThinking StreamEventType = "thinking"
	StreamEventError   StreamEventType = "error"
	StreamEventDone    StreamEventType = "done"
)

// StreamEvent is one unit pushed to a StreamCallback during streaming
// generation.
type StreamEvent struct {
	Type  StreamEventType
	Token string
	Err  error
}

// StreamCallback receives streaming events. Returning false requests the
// producer to stop (cooperative cancellation, spec §5).
type StreamCallback func(StreamEvent) bool

// TextGenerator is the capability interface for non-streaming and
// streaming text generation.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
	GenerateStreaming(ctx context.Context, prompt string, params GenerationParams, cb StreamCallback) error
}

// VisionGenerator is the capability interface for image-grounded chat
// generation (the rasterized extraction path, spec §4.B).
type VisionGenerator interface {
	ChatWithImages(ctx context.Context, systemPrompt, userPrompt string, images [][]byte, params GenerationParams) (string, error)
}

// DegenerationPattern names the kind of repetition a StreamGuard detected.
type DegenerationPattern string

const (
	PatternRepeatedSubstring DegenerationPattern = "repeated_substring"
	PatternUnclosedJSON   DegenerationPattern = "unclosed_json"
	PatternRepeatedLine    DegenerationPattern = "repeated_line"
)

// DegenerationError is returned by GenerateStreamingGuarded when a
// StreamGuard aborts the read.
type DegenerationError struct {
	Pattern      DegenerationPattern
	TokensBeforeAbort int
	PartialOutput   string
}

func (e *DegenerationError) Error() string {
	return "stream degeneration detected: " + string(e.Pattern)
}

// MedicalStructurer is the capability interface the structuring stage
// (internal/structuring) depends on: streaming generation guarded by a
// degeneration watchdog (spec §4.C).
type MedicalStructurer interface {
	GenerateStreamingGuarded(ctx context.Context, prompt string, params GenerationParams, guard *StreamGuard, cb StreamCallback) (string, error)
}

// ModelInfo summarizes one installed model as returned by list/show.
type ModelInfo struct {
	Name     string
	Size     int64
	Capability Capability
}

// PullProgress is one line of a streaming pull response.
type PullProgress struct {
	Status   string
	Completed int64
	Total    int64
	Done    bool
}

// PullCallback receives pull progress; returning false cancels the pull.
type PullCallback func(PullProgress) bool

// Client is the full model-client contract (spec §4.A): the management
// surface plus both generator capability interfaces.
type Client interface {
	TextGenerator
	VisionGenerator
	MedicalStructurer

	Health(ctx context.Context) error
	ListModelsDetailed(ctx context.Context) ([]ModelInfo, error)
	ShowModel(ctx context.Context, name string) (ModelInfo, error)
	PullModel(ctx context.Context, name string, cb PullCallback) error
	DeleteModel(ctx context.Context, name string) error
	ResolveModel(ctx context.Context, userSelected string, fallbackAny bool) (string, error)
	WarmModel(ctx context.Context, name string) error
	UnloadModel(ctx context.Context, name string) error
	DetectCapability(ctx context.Context, name string) (Capability, error)
}

// ListModels derives the legacy names-only projection from the detailed
// call. Per spec §9's open question, only ListModelsDetailed is exposed
// externally; this helper is the "derive the legacy projection internally"
// resolution, kept unexported-shaped by convention (callers needing the
// legacy surface should wrap this themselves rather than relying on a
// public method on Client).
func ListModels(ctx context.Context, c Client) ([]string, error) {
	detailed, err := c.ListModelsDetailed(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(detailed))
	for i, m := range detailed {
		names[i] = m.Name
	}
	return names, nil
}
