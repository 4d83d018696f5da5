package llm

// Message represents a chat message for the LLM.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall is a completed tool call in wire format, used when replaying
// prior assistant decisions to the provider.
type ToolCall struct {
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

// CallFragment is one streamed piece of a tool-call decision. Args is
// raw JSON text and may be incomplete; the consumer merges fragments
// sharing an ID until the arguments parse.
type CallFragment struct {
	ID   string
	Name string
	Args string
}

// StreamEventKind identifies the type of stream event.
type StreamEventKind int

const (
	// KindToken is an incremental text token from the model.
	KindToken StreamEventKind = iota

	// KindCall carries a tool-call fragment.
	KindCall

	// KindDone signals the model finished this response.
	KindDone
)

// StreamEvent represents a single event in a streaming response.
// Consumers switch on Kind to determine what data is available.
type StreamEvent struct {
	Kind StreamEventKind

	// Token is set for KindToken events.
	Token string

	// Call is set for KindCall events.
	Call *CallFragment

	// Token usage, set on KindDone when the provider reports it.
	InputTokens  int
	OutputTokens int
}
