package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"curator/internal/httpkit"
)

// OllamaClient is a client for the Ollama API.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(baseURL string) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		// A deliberately plain client: the shared transport's
		// response-header timeout would kill requests while Ollama
		// cold-loads a model, and large models with tools need time.
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// ChatRequest is the request format for Ollama chat API.
type ChatRequest struct {
	Model    string           `json:"model"`
	Messages []Message        `json:"messages"`
	Stream   bool             `json:"stream"`
	Tools    []map[string]any `json:"tools,omitempty"`
}

// chatChunk is one newline-delimited JSON object from the stream.
type chatChunk struct {
	Model   string  `json:"model"`
	Message Message `json:"message"`
	Done    bool    `json:"done"`

	// Usage stats (when done=true)
	PromptEvalCount int `json:"prompt_eval_count,omitempty"`
	EvalCount       int `json:"eval_count,omitempty"`
}

// ChatStream opens a streaming chat request against /api/chat.
func (c *OllamaClient) ChatStream(ctx context.Context, model string, messages []Message, tools []map[string]any) (Stream, error) {
	req := ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
		Tools:    tools,
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	return &ollamaStream{
		body: resp.Body,
		dec:  json.NewDecoder(resp.Body),
	}, nil
}

// ollamaStream adapts Ollama's newline-delimited JSON chunks to the
// Stream interface. One chunk can expand to several events, so decoded
// events are queued and drained one Recv at a time.
type ollamaStream struct {
	body io.ReadCloser
	dec  *json.Decoder

	queue    []StreamEvent
	content  strings.Builder
	sawCalls bool
	nextID   int
	done     bool

	closeOnce sync.Once
	closeErr  error
}

func (s *ollamaStream) Recv() (StreamEvent, error) {
	for len(s.queue) == 0 {
		if s.done {
			return StreamEvent{}, io.EOF
		}

		var chunk chatChunk
		if err := s.dec.Decode(&chunk); err != nil {
			if err == io.EOF {
				// Server hung up before the done marker.
				return StreamEvent{}, io.ErrUnexpectedEOF
			}
			return StreamEvent{}, fmt.Errorf("decode stream chunk: %w", err)
		}

		if chunk.Message.Content != "" {
			s.content.WriteString(chunk.Message.Content)
			s.queue = append(s.queue, StreamEvent{Kind: KindToken, Token: chunk.Message.Content})
		}
		for _, tc := range chunk.Message.ToolCalls {
			s.queueCall(tc)
		}

		if chunk.Done {
			// Many models emit their tool call as JSON in the content
			// instead of the native tool_calls field.
			if !s.sawCalls {
				for _, tc := range parseTextToolCalls(s.content.String()) {
					s.queueCall(tc)
				}
			}
			s.queue = append(s.queue, StreamEvent{
				Kind:         KindDone,
				InputTokens:  chunk.PromptEvalCount,
				OutputTokens: chunk.EvalCount,
			})
			s.done = true
		}
	}

	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, nil
}

// queueCall converts a wire tool call to a fragment event. Ollama does
// not assign call ids, so they are synthesized per stream.
func (s *ollamaStream) queueCall(tc ToolCall) {
	id := tc.ID
	if id == "" {
		id = "call_" + strconv.Itoa(s.nextID)
		s.nextID++
	}
	args := "{}"
	if tc.Function.Arguments != nil {
		if raw, err := json.Marshal(tc.Function.Arguments); err == nil {
			args = string(raw)
		}
	}
	s.sawCalls = true
	s.queue = append(s.queue, StreamEvent{
		Kind: KindCall,
		Call: &CallFragment{ID: id, Name: tc.Function.Name, Args: args},
	})
}

func (s *ollamaStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

// parseTextToolCalls attempts to extract tool calls from content text.
// Handled formats:
//   - Raw JSON object: {"name": "...", "arguments": {...}}
//   - JSON array: [{"name": "...", "arguments": {...}}]
//   - Tagged: <tool_call>...</tool_call>
func parseTextToolCalls(content string) []ToolCall {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	if strings.Contains(content, "<tool_call>") {
		start := strings.Index(content, "<tool_call>")
		end := strings.Index(content, "</tool_call>")
		if start != -1 && end > start {
			content = strings.TrimSpace(content[start+len("<tool_call>") : end])
		} else if start != -1 {
			// No closing tag, take rest of content
			content = strings.TrimSpace(content[start+len("<tool_call>"):])
		}
	}

	var calls []struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(content), &calls); err == nil && len(calls) > 0 {
		result := make([]ToolCall, len(calls))
		for i, c := range calls {
			result[i].Function.Name = c.Name
			result[i].Function.Arguments = c.Arguments
		}
		return result
	}

	var single struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(content), &single); err == nil && single.Name != "" {
		var tc ToolCall
		tc.Function.Name = single.Name
		tc.Function.Arguments = single.Arguments
		return []ToolCall{tc}
	}

	return nil
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4<<10)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %d", resp.StatusCode)
	}

	return nil
}
