// Package llm provides LLM client implementations.
package llm

import "context"

// Client is the interface the decision loop consumes. A provider turns
// a prompt (history + tool schemas) into a lazy stream of decision
// events.
type Client interface {
	// ChatStream opens a streaming chat request. The returned Stream
	// yields events until the model finishes; it is finite and cannot
	// be restarted. The caller must Close it.
	ChatStream(ctx context.Context, model string, messages []Message, tools []map[string]any) (Stream, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

// Stream is a non-restartable sequence of decision events.
type Stream interface {
	// Recv returns the next event. After the final event it returns
	// io.EOF; any other error means the stream broke mid-turn.
	Recv() (StreamEvent, error)

	// Close releases the underlying connection. Safe to call more
	// than once.
	Close() error
}
