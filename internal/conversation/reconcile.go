package conversation

import "strings"

// Ellipsis is appended to argument and result previews that were cut
// at the character bound.
const Ellipsis = "..."

// argsPreviewChars caps the rendered argument preview in a replay
// block. Arguments are short JSON objects; anything longer is noise.
const argsPreviewChars = 200

// noResultPlaceholder marks a call that never received a result. It is
// rendered rather than dropped so the model can see the call happened.
const noResultPlaceholder = "(no result)"

// actionsHeader labels the collapsed tool activity appended to an
// assistant message in the replay view.
const actionsHeader = "--- Previous tool actions ---"

// Sanitize returns a copy of log in which every assistant message's
// call list has been deduplicated by id: a later fragment's arguments
// supersede an earlier one's, and the name is retained from whichever
// fragment supplied a non-empty value. Other message kinds pass
// through untouched. Sanitize never mutates its input and is
// idempotent.
func Sanitize(log []Message) []Message {
	out := make([]Message, 0, len(log))
	for _, m := range log {
		am, ok := m.(AssistantMessage)
		if !ok {
			out = append(out, m)
			continue
		}
		var calls []ToolCall
		for _, c := range am.Calls {
			calls = mergeCall(calls, c)
		}
		am.Calls = calls
		out = append(out, am)
	}
	return out
}

// Textualize collapses a log into a form safe to replay to the model:
// only user and assistant messages survive, and every tool call/result
// pair is rendered as narrative text inside its assistant message so
// the model will not re-invoke completed calls.
//
// For each assistant message carrying calls, the contiguous run of
// immediately following results is consumed (the scan stops at the
// next user or assistant message). Each call renders as a block:
//
//	[Tool] <name> args=<args preview>
//	[Result] <result preview>
//
// in original call order. When the calling message carries no text of
// its own, the next assistant message's text (the turn's conclusion)
// is folded in ahead of the action blocks. A call with no matching
// result renders an explicit "(no result)" placeholder. Result previews are cut at
// maxResultChars characters with an ellipsis marker; truncation
// happens at a character boundary, never inside one.
//
// Raw tool result messages never appear in the output; orphaned
// results (no owning call) are skipped rather than treated as errors.
func Textualize(log []Message, maxResultChars int) []Message {
	if maxResultChars <= 0 {
		maxResultChars = 800
	}

	var out []Message
	for i := 0; i < len(log); i++ {
		switch m := log[i].(type) {
		case UserMessage:
			out = append(out, m)

		case ToolResultMessage:
			// Orphaned result: its call was lost (trimming, arrival
			// order). Nothing to render it against.
			continue

		case AssistantMessage:
			if len(m.Calls) == 0 {
				out = append(out, m)
				continue
			}

			// Collect the result run that follows this message.
			results := make(map[string]string, len(m.Calls))
			j := i + 1
			for ; j < len(log); j++ {
				tr, ok := log[j].(ToolResultMessage)
				if !ok {
					break
				}
				if _, dup := results[tr.ToolCallID]; !dup {
					results[tr.ToolCallID] = tr.Result
				}
			}
			i = j - 1

			// A tool-decision step usually carries no text of its own;
			// the conclusion lands in the next assistant message. Fold
			// that conclusion in so the replay reads as one utterance.
			text := m.Text
			if text == "" && j < len(log) {
				if next, ok := log[j].(AssistantMessage); ok && len(next.Calls) == 0 {
					text = next.Text
					i = j
				}
			}

			blocks := make([]string, 0, len(m.Calls))
			for _, c := range m.Calls {
				var b strings.Builder
				b.WriteString("[Tool] ")
				b.WriteString(c.Name)
				b.WriteString(" args=")
				b.WriteString(truncate(c.Arguments, argsPreviewChars))
				b.WriteString("\n[Result] ")
				if r, ok := results[c.ID]; ok {
					b.WriteString(truncate(r, maxResultChars))
				} else {
					b.WriteString(noResultPlaceholder)
				}
				blocks = append(blocks, b.String())
			}

			if text != "" {
				text += "\n\n"
			}
			text += actionsHeader + "\n" + strings.Join(blocks, "\n")
			out = append(out, AssistantMessage{Text: text})
		}
	}
	return out
}

// truncate cuts s at max characters (runes, so a multi-byte character
// is never split) and appends the ellipsis marker when it cut.
func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + Ellipsis
}
