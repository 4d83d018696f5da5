// Package tools defines the tools available to the agent.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"curator/internal/notify"
	"curator/internal/qbittorrent"
	"curator/internal/radarr"
	"curator/internal/sonarr"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string                                                          `json:"name"`
	Description string                                                          `json:"description"`
	Parameters  map[string]any                                                  `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Registry holds available tools.
type Registry struct {
	tools    map[string]*Tool
	radarr   *radarr.Client
	sonarr   *sonarr.Client
	qbt      *qbittorrent.Client
	notifier *notify.Notifier
}

// NewRegistry creates a tool registry wired to the media backends. Any
// backend may be nil; its tools then answer with a "not configured"
// result instead of failing the turn.
func NewRegistry(rad *radarr.Client, son *sonarr.Client, qbt *qbittorrent.Client, notifier *notify.Notifier) *Registry {
	r := &Registry{
		tools:    make(map[string]*Tool),
		radarr:   rad,
		sonarr:   son,
		qbt:      qbt,
		notifier: notifier,
	}
	r.registerBuiltins()
	return r
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all tools in the wire format the LLM expects.
func (r *Registry) List() []map[string]any {
	var result []map[string]any
	for _, name := range r.Names() {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name with given arguments. Handlers report
// backend failures as descriptive result strings rather than errors;
// an error here means the call itself was malformed (unknown tool,
// unparsable arguments).
func (r *Registry) Execute(ctx context.Context, name string, argsJSON string) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", fmt.Errorf("unknown tool: %s", name)
	}

	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}

	return tool.Handler(ctx, args)
}
