package conversation

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Store is the process-wide registry of session logs. Sessions are
// created lazily on first reference and live entirely in memory.
//
// The registry map is guarded by its own mutex; each session carries a
// second mutex guarding its message slice, so appends on different
// sessions never contend with each other.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*session

	maxMessages int
	keepHead    int
	logger      *slog.Logger
}

type session struct {
	mu         sync.Mutex
	messages   []Message
	createdAt  time.Time
	lastAccess time.Time
}

// NewStore creates a session store. maxMessages bounds each session's
// log; keepHead is how many early messages survive trimming.
func NewStore(maxMessages, keepHead int, logger *slog.Logger) *Store {
	if maxMessages <= 0 {
		maxMessages = 100
	}
	if keepHead <= 0 || keepHead >= maxMessages {
		keepHead = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions:    make(map[string]*session),
		maxMessages: maxMessages,
		keepHead:    keepHead,
		logger:      logger,
	}
}

// getOrCreate returns the session for id, creating an empty one on
// first reference. The session's last-access time is refreshed.
func (s *Store) getOrCreate(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		now := time.Now()
		sess = &session{createdAt: now}
		s.sessions[id] = sess
		s.logger.Debug("session created", "session", id)
	}
	sess.lastAccess = time.Now()
	return sess
}

// AppendUser appends a plain user message.
func (s *Store) AppendUser(id, text string) {
	sess := s.getOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.messages = append(sess.messages, UserMessage{Text: text})
	s.trimLocked(sess)
}

// AppendAssistantText appends an assistant message carrying only text.
func (s *Store) AppendAssistantText(id, text string) {
	sess := s.getOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.messages = append(sess.messages, AssistantMessage{Text: text})
	s.trimLocked(sess)
}

// AppendToolCall records that the assistant decided to call a tool. If
// the trailing message is an assistant message with no finalized text,
// the call is merged into it (last-write-wins on id collision);
// otherwise a new assistant message is started for this decision.
func (s *Store) AppendToolCall(id string, call ToolCall) {
	sess := s.getOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if n := len(sess.messages); n > 0 {
		if am, ok := sess.messages[n-1].(AssistantMessage); ok && am.Text == "" {
			am.Calls = mergeCall(am.Calls, call)
			sess.messages[n-1] = am
			return
		}
	}
	sess.messages = append(sess.messages, AssistantMessage{Calls: []ToolCall{call}})
	s.trimLocked(sess)
}

// AppendToolResult appends a tool result. The referenced call is not
// validated here: streamed arrival order may transiently violate
// pairing, and reconciliation tolerates orphans.
func (s *Store) AppendToolResult(id, toolName, callID, result string) {
	sess := s.getOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.messages = append(sess.messages, ToolResultMessage{
		ToolName:   toolName,
		ToolCallID: callID,
		Result:     result,
	})
	s.trimLocked(sess)
}

// Messages returns a snapshot of the session's log. The returned slice
// shares no mutable state with the store and is safe to iterate while
// other goroutines append.
func (s *Store) Messages(id string) []Message {
	sess := s.getOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return copyMessages(sess.messages)
}

// Clear removes the session entirely. It reports whether one existed.
func (s *Store) Clear(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// SessionInfo is a display snapshot of one session.
type SessionInfo struct {
	ID         string    `json:"id"`
	Messages   int       `json:"messages"`
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
}

// Sessions returns a snapshot listing of all sessions, sorted by id.
func (s *Store) Sessions() []SessionInfo {
	s.mu.Lock()
	infos := make([]SessionInfo, 0, len(s.sessions))
	for id, sess := range s.sessions {
		sess.mu.Lock()
		infos = append(infos, SessionInfo{
			ID:         id,
			Messages:   len(sess.messages),
			CreatedAt:  sess.createdAt,
			LastAccess: sess.lastAccess,
		})
		sess.mu.Unlock()
	}
	s.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// EvictExcess removes least-recently-used sessions until at most max
// remain, returning how many were removed. A max of zero or less
// evicts nothing.
func (s *Store) EvictExcess(max int) int {
	if max <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	excess := len(s.sessions) - max
	if excess <= 0 {
		return 0
	}

	type candidate struct {
		id         string
		lastAccess time.Time
	}
	cands := make([]candidate, 0, len(s.sessions))
	for id, sess := range s.sessions {
		cands = append(cands, candidate{id, sess.lastAccess})
	}
	sort.Slice(cands, func(i, j int) bool {
		if !cands[i].lastAccess.Equal(cands[j].lastAccess) {
			return cands[i].lastAccess.Before(cands[j].lastAccess)
		}
		return cands[i].id < cands[j].id
	})

	for _, c := range cands[:excess] {
		delete(s.sessions, c.id)
	}
	s.logger.Info("evicted excess sessions", "removed", excess, "remaining", len(s.sessions))
	return excess
}

// trimLocked bounds the session log by keeping the first keepHead
// messages and the most recent tail, discarding the middle span. The
// cut points are expanded so that no tool call is separated from its
// results: the head grows forward over the result run that follows it,
// and the tail start walks back off any result run so the owning
// assistant message is retained. Caller must hold sess.mu.
func (s *Store) trimLocked(sess *session) {
	msgs := sess.messages
	if len(msgs) <= s.maxMessages {
		return
	}

	headEnd := s.keepHead
	tailStart := len(msgs) - (s.maxMessages - s.keepHead)
	if tailStart <= headEnd {
		return
	}

	// Keep the results belonging to a call in the head.
	for headEnd < tailStart {
		if _, ok := msgs[headEnd].(ToolResultMessage); !ok {
			break
		}
		headEnd++
	}
	// Never start the tail inside a result run.
	for tailStart > headEnd {
		if _, ok := msgs[tailStart].(ToolResultMessage); !ok {
			break
		}
		tailStart--
	}
	if tailStart <= headEnd {
		return
	}

	kept := make([]Message, 0, headEnd+len(msgs)-tailStart)
	kept = append(kept, msgs[:headEnd]...)
	kept = append(kept, msgs[tailStart:]...)
	s.logger.Debug("trimmed session log",
		"dropped", len(msgs)-len(kept), "kept", len(kept))
	sess.messages = kept
}
