// Package agent implements the decision loop that turns one user
// message into a finite stream of progress events, orchestrating the
// model and the tool registry around the session log.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"curator/internal/conversation"
	"curator/internal/llm"
	"curator/internal/notify"
	"curator/internal/tools"
)

// EventType identifies a progress event kind.
type EventType string

// Event types, in the rough order they appear within a turn. StreamEnd
// is always the last event of a turn, unconditionally.
const (
	EventStatus     EventType = "status"
	EventThinking   EventType = "thinking_step"
	EventToolRun    EventType = "tool_run"
	EventToolResult EventType = "tool_result"
	EventFinal      EventType = "final_output"
	EventError      EventType = "error"
	EventStreamEnd  EventType = "stream_end"
)

// Event is one progress event delivered to the caller during a turn.
type Event struct {
	Type    EventType `json:"type"`
	Message string    `json:"message,omitempty"`
	Data    any       `json:"data,omitempty"`
}

// ToolRunData is the payload of a tool_run event.
type ToolRunData struct {
	ToolName   string `json:"tool_name"`
	ToolInput  string `json:"tool_input"`
	ToolCallID string `json:"tool_call_id"`
}

// ToolResultData is the payload of a tool_result event.
type ToolResultData struct {
	ToolName    string `json:"tool_name"`
	Observation string `json:"observation"`
	ToolCallID  string `json:"tool_call_id"`
}

// FinalData is the payload of a final_output event.
type FinalData struct {
	Output string `json:"output"`
}

// Sink receives progress events. Implementations must not block for
// long; the loop calls it synchronously.
type Sink func(Event)

// fallbackAnswer closes out a turn whose stream ended without a final
// text answer, so the log always has a concluding assistant message.
const fallbackAnswer = "Task completed."

// maxIterations bounds the model/tool round trips within one turn.
const maxIterations = 8

// maxSearchAttempts allows one automatic retry of a failed search
// within a turn; a further attempt is refused structurally.
const maxSearchAttempts = 2

// Loop is the per-process decision loop. It is safe for concurrent use
// across sessions; turns within one session are serialized.
type Loop struct {
	logger         *slog.Logger
	llm            llm.Client
	registry       *tools.Registry
	store          *conversation.Store
	notifier       *notify.Notifier
	model          string
	maxResultChars int

	mu        sync.Mutex
	turnLocks map[string]*sync.Mutex
}

// NewLoop creates a decision loop.
func NewLoop(logger *slog.Logger, client llm.Client, registry *tools.Registry, store *conversation.Store, notifier *notify.Notifier, model string, maxResultChars int) *Loop {
	if maxResultChars <= 0 {
		maxResultChars = 800
	}
	return &Loop{
		logger:         logger,
		llm:            client,
		registry:       registry,
		store:          store,
		notifier:       notifier,
		model:          model,
		maxResultChars: maxResultChars,
		turnLocks:      make(map[string]*sync.Mutex),
	}
}

// Model returns the configured default model name.
func (l *Loop) Model() string { return l.model }

// sessionLock returns the turn mutex for a session. Two turns for the
// same session must never interleave appends; cross-session turns run
// freely in parallel.
func (l *Loop) sessionLock(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.turnLocks[id]
	if !ok {
		m = &sync.Mutex{}
		l.turnLocks[id] = m
	}
	return m
}

// Turn runs one conversational turn: append the user text, stream the
// model's decisions, dispatch tool calls synchronously as they become
// complete, and forward progress events to sink. The event sequence
// always ends with a stream_end event, whatever happens in between.
//
// If ctx is cancelled mid-turn, event forwarding stops but a tool call
// already dispatched still completes and is recorded, so the log stays
// consistent for the next turn.
func (l *Loop) Turn(ctx context.Context, sessionID, userText string, sink Sink) {
	lock := l.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	// Drop events once the caller is gone; never let a dead transport
	// panic or stall the turn.
	emit := func(ev Event) {
		if ctx.Err() != nil {
			return
		}
		sink(ev)
	}
	defer func() { sink(Event{Type: EventStreamEnd}) }()

	turnID, _ := uuid.NewV7()
	tid := turnID.String()
	start := time.Now()

	l.logger.Info("turn started", "turn_id", tid, "session", sessionID, "model", l.model)
	emit(Event{Type: EventStatus, Message: "Agent is thinking..."})

	l.store.AppendUser(sessionID, userText)

	// The replay view collapses earlier turns' tool activity to text.
	// Results produced within this turn ride along raw and untruncated.
	base := l.replayMessages(sessionID)
	toolDefs := l.registry.List()

	var turnMsgs []llm.Message
	searchFailures := make(map[string]int)
	finalText := ""

	for iter := 0; iter < maxIterations; iter++ {
		if ctx.Err() != nil {
			l.closeOut(sessionID, finalText)
			return
		}

		msgs := append(append([]llm.Message{}, base...), turnMsgs...)
		l.logger.Debug("model call", "turn_id", tid, "iter", iter, "msgs", len(msgs))

		stream, err := l.llm.ChatStream(ctx, l.model, msgs, toolDefs)
		if err != nil {
			l.abort(ctx, emit, sessionID, tid, fmt.Errorf("model call failed: %w", err))
			return
		}

		text, calls, err := l.consumeStream(ctx, tid, sessionID, stream, searchFailures, emit)
		stream.Close()
		if err != nil {
			l.abort(ctx, emit, sessionID, tid, err)
			return
		}
		if text != "" {
			finalText = text
		}

		if len(calls) == 0 {
			// Text-only response: the turn is finalized.
			break
		}

		// Feed this iteration's decisions and raw results back for the
		// next model call.
		assistant := llm.Message{Role: "assistant", Content: text}
		for _, c := range calls {
			var wire llm.ToolCall
			wire.ID = c.call.ID
			wire.Function.Name = c.call.Name
			_ = json.Unmarshal([]byte(c.call.Arguments), &wire.Function.Arguments)
			assistant.ToolCalls = append(assistant.ToolCalls, wire)
		}
		turnMsgs = append(turnMsgs, assistant)
		for _, c := range calls {
			turnMsgs = append(turnMsgs, llm.Message{
				Role:       "tool",
				Content:    c.result,
				ToolCallID: c.call.ID,
			})
		}

		if ctx.Err() != nil {
			// Results above are already recorded; stop before another
			// model call.
			l.closeOut(sessionID, finalText)
			return
		}
	}

	if finalText == "" {
		finalText = fallbackAnswer
	}
	l.store.AppendAssistantText(sessionID, finalText)

	emit(Event{Type: EventFinal, Data: FinalData{Output: finalText}})
	l.logger.Info("turn finished", "turn_id", tid, "session", sessionID,
		"elapsed", time.Since(start).Round(time.Millisecond))
}

// Ask is the synchronous variant of Turn: it blocks until the turn
// completes and returns only the final output. History side effects
// are identical to the streaming form.
func (l *Loop) Ask(ctx context.Context, sessionID, userText string) (string, error) {
	var output string
	var turnErr error
	l.Turn(ctx, sessionID, userText, func(ev Event) {
		switch ev.Type {
		case EventFinal:
			if d, ok := ev.Data.(FinalData); ok {
				output = d.Output
			}
		case EventError:
			turnErr = errors.New(ev.Message)
		}
	})
	if turnErr != nil {
		return "", turnErr
	}
	return output, nil
}

// executedCall pairs a dispatched call with its recorded result.
type executedCall struct {
	call   conversation.ToolCall
	result string
}

// consumeStream drains one model response. Text tokens accumulate and
// are forwarded as thinking steps; tool-call fragments merge by id
// until the arguments parse, at which point the call is dispatched
// synchronously and its call/result pair is appended to the log and
// forwarded, in that order.
func (l *Loop) consumeStream(ctx context.Context, tid, sessionID string, stream llm.Stream, searchFailures map[string]int, emit func(Event)) (string, []executedCall, error) {
	var text strings.Builder
	var executed []executedCall

	// In-flight calls: fragments merge here until dispatchable. Order
	// preserved so multi-call iterations execute in decision order.
	pending := make(map[string]*conversation.ToolCall)
	var order []string

	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return text.String(), executed, fmt.Errorf("model stream broke: %w", err)
		}

		switch ev.Kind {
		case llm.KindToken:
			text.WriteString(ev.Token)
			emit(Event{Type: EventThinking, Data: ev.Token})

		case llm.KindCall:
			frag := ev.Call
			call, ok := pending[frag.ID]
			if !ok {
				call = &conversation.ToolCall{ID: frag.ID}
				pending[frag.ID] = call
				order = append(order, frag.ID)
			}
			if frag.Name != "" {
				call.Name = frag.Name
			}
			call.Arguments = mergeFragment(call.Arguments, frag.Args)

			if call.Name != "" && isCompleteArgs(call.Arguments) {
				result := l.dispatch(ctx, tid, sessionID, *call, searchFailures, emit)
				executed = append(executed, executedCall{call: *call, result: result})
				delete(pending, frag.ID)
			}

		case llm.KindDone:
			l.logger.Debug("model response done",
				"turn_id", tid, "input_tokens", ev.InputTokens, "output_tokens", ev.OutputTokens)
		}
	}

	// Fragments that never became parsable are dropped: they were
	// never appended to the log, so no pairing invariant is at risk.
	for _, id := range order {
		if c, ok := pending[id]; ok {
			l.logger.Warn("discarding incomplete tool call",
				"turn_id", tid, "call_id", id, "tool", c.Name)
		}
	}

	return text.String(), executed, nil
}

// dispatch runs one complete tool call and records both sides in the
// log. The call is announced before the result, always. Tool failures
// never escape: they become descriptive result text the model reasons
// about on the next iteration.
func (l *Loop) dispatch(ctx context.Context, tid, sessionID string, call conversation.ToolCall, searchFailures map[string]int, emit func(Event)) string {
	l.store.AppendToolCall(sessionID, call)
	emit(Event{Type: EventToolRun, Data: ToolRunData{
		ToolName:   call.Name,
		ToolInput:  call.Arguments,
		ToolCallID: call.ID,
	}})

	var result string
	if isSearchTool(call.Name) && searchFailures[call.Name] >= maxSearchAttempts {
		result = "This search already failed twice in this turn. Do not retry; explain the failure to the user."
	} else {
		start := time.Now()
		// Detached context: a call already dispatched completes and is
		// recorded even if the caller disconnects mid-turn.
		var err error
		result, err = l.registry.Execute(context.WithoutCancel(ctx), call.Name, call.Arguments)
		if err != nil {
			result = fmt.Sprintf("Tool %s failed: %v", call.Name, err)
		}
		l.logger.Info("tool executed", "turn_id", tid, "tool", call.Name,
			"elapsed", time.Since(start).Round(time.Millisecond))

		if isSearchTool(call.Name) && isFailedSearch(result) {
			searchFailures[call.Name]++
		}
	}

	l.store.AppendToolResult(sessionID, call.Name, call.ID, result)
	emit(Event{Type: EventToolResult, Data: ToolResultData{
		ToolName:    call.Name,
		Observation: result,
		ToolCallID:  call.ID,
	}})
	return result
}

// abort emits an error event and closes out the log so the next turn's
// pairing invariants hold. Raw errors never reach the user; the event
// carries a plain-language message and the detail goes to the log.
func (l *Loop) abort(ctx context.Context, emit func(Event), sessionID, tid string, err error) {
	l.logger.Error("turn aborted", "turn_id", tid, "session", sessionID, "error", err)
	l.notifier.TurnError(context.WithoutCancel(ctx), sessionID, err.Error())
	emit(Event{Type: EventError, Message: "An internal error occurred while handling your request. Please try again."})
	l.closeOut(sessionID, "")
}

// closeOut appends the concluding assistant message for an interrupted
// turn. Dispatched calls already have their results recorded; this
// only seals the turn.
func (l *Loop) closeOut(sessionID, finalText string) {
	if finalText == "" {
		finalText = fallbackAnswer
	}
	l.store.AppendAssistantText(sessionID, finalText)
}

// replayMessages builds the wire-format prompt from the session log:
// the system prompt followed by the sanitized, textualized history.
func (l *Loop) replayMessages(sessionID string) []llm.Message {
	log := conversation.Textualize(conversation.Sanitize(l.store.Messages(sessionID)), l.maxResultChars)

	msgs := make([]llm.Message, 0, len(log)+1)
	msgs = append(msgs, llm.Message{Role: "system", Content: systemPrompt})
	for _, m := range log {
		switch m := m.(type) {
		case conversation.UserMessage:
			msgs = append(msgs, llm.Message{Role: "user", Content: m.Text})
		case conversation.AssistantMessage:
			msgs = append(msgs, llm.Message{Role: "assistant", Content: m.Text})
		}
	}
	return msgs
}

// mergeFragment appends a newly arrived argument fragment to the
// buffer, tolerating overlapping retransmissions: the longest suffix
// of buf that equals a prefix of frag is not duplicated. A repeated
// identical fragment is therefore a no-op, and split fragments that
// share an overlap region concatenate to the intended whole.
func mergeFragment(buf, frag string) string {
	if buf == "" {
		return frag
	}
	if frag == "" {
		return buf
	}
	max := len(frag)
	if len(buf) < max {
		max = len(buf)
	}
	for k := max; k > 0; k-- {
		if strings.HasSuffix(buf, frag[:k]) {
			return buf + frag[k:]
		}
	}
	return buf + frag
}

// isCompleteArgs reports whether an argument buffer is a dispatchable
// JSON object. A partial buffer is simply "not yet dispatchable"; the
// loop keeps merging fragments until this holds.
func isCompleteArgs(args string) bool {
	trimmed := strings.TrimSpace(args)
	return strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed))
}

func isSearchTool(name string) bool {
	return name == "search_movie" || name == "search_series"
}

// isFailedSearch classifies a search result as a failure for the
// retry bound. Backend errors render with an "Error" prefix; an empty
// result set is a valid answer, not a failure.
func isFailedSearch(result string) bool {
	return strings.HasPrefix(result, "Error")
}
