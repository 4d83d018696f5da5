// Package conversation maintains per-session chat logs enriched with
// structured tool-call records, and derives the replay views that are
// sent back to the model on later turns.
package conversation

// Message is the closed set of record kinds a session log can hold.
// The concrete types are [UserMessage], [AssistantMessage] and
// [ToolResultMessage]; consumers switch exhaustively on these three.
type Message interface {
	message()
}

// UserMessage is a plain user utterance.
type UserMessage struct {
	Text string
}

// AssistantMessage carries the model's text for one step, plus any tool
// calls it decided to make. Text may be empty when the step was purely
// a tool decision.
type AssistantMessage struct {
	Text  string
	Calls []ToolCall
}

// ToolResultMessage records the textual outcome of one executed tool
// call, paired to its call by ToolCallID.
type ToolResultMessage struct {
	ToolName   string
	ToolCallID string
	Result     string
}

// ToolCall is a structured request to invoke one named tool. Arguments
// holds the raw JSON object text as produced by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

func (UserMessage) message()       {}
func (AssistantMessage) message()  {}
func (ToolResultMessage) message() {}

// mergeCall folds call into calls under the duplicate-id rule: the
// later fragment's arguments win wholesale, and the name is retained
// from whichever fragment supplied a non-empty value. Order of first
// appearance is preserved.
func mergeCall(calls []ToolCall, call ToolCall) []ToolCall {
	for i := range calls {
		if calls[i].ID == call.ID {
			if call.Name != "" {
				calls[i].Name = call.Name
			}
			calls[i].Arguments = call.Arguments
			return calls
		}
	}
	return append(calls, call)
}

// copyMessages returns a snapshot of msgs that shares no mutable state
// with the original. Callers can iterate it without holding locks.
func copyMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		if am, ok := m.(AssistantMessage); ok {
			calls := make([]ToolCall, len(am.Calls))
			copy(calls, am.Calls)
			am.Calls = calls
			out[i] = am
			continue
		}
		out[i] = m
	}
	return out
}
