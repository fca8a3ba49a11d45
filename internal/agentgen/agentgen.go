// Package agentgen supports generating agent definitions with a model: it
// gathers the tool names an agent may use and validates generated output.
package agentgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nulpointcorp/chat-gateway/internal/store"
)

// DefaultTools are the tools built into the chat application.
var DefaultTools = []string{
	"createPieChart",
	"createBarChart",
	"createLineChart",
	"createTable",
	"webSearch",
	"webContent",
	"http",
	"mini-javascript-execution",
	"python-execution",
}

// Agent is a generated agent definition.
type Agent struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Role         string   `json:"role"`
	Instructions string   `json:"instructions"`
	Tools        []string `json:"tools"`
}

// WorkflowSource lists the workflows a user may run as tools.
type WorkflowSource interface {
	ExecutableWorkflows(ctx context.Context, userID string) ([]store.Workflow, error)
}

// ToolSet collects tool names from the built-in tools, configured extras and
// the user's workflows.
type ToolSet struct {
	extra     []string
	workflows WorkflowSource
	log       *slog.Logger
}

func NewToolSet(extra []string, workflows WorkflowSource, log *slog.Logger) *ToolSet {
	if log == nil {
		log = slog.Default()
	}
	return &ToolSet{extra: extra, workflows: workflows, log: log.With("component", "agentgen")}
}

// Names returns the distinct tool names available to userID in a stable
// order. A failing workflow lookup is logged and skipped.
func (t *ToolSet) Names(ctx context.Context, userID string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}

	for _, n := range DefaultTools {
		add(n)
	}
	for _, n := range t.extra {
		add(n)
	}

	if t.workflows != nil {
		wfs, err := t.workflows.ExecutableWorkflows(ctx, userID)
		if err != nil {
			t.log.WarnContext(ctx, "agent_tools_workflows_failed",
				slog.String("user_id", userID),
				slog.Any("error", err),
			)
		}
		for _, w := range wfs {
			add(w.Name)
		}
	}

	return out
}

// Validate decodes a generated definition and checks it against the agent
// schema with tools restricted to toolNames. A Markdown code fence around
// the object is tolerated. A null or missing tools field becomes an empty
// list.
func Validate(raw []byte, toolNames []string) (*Agent, error) {
	raw = stripFence(raw)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("agentgen: output is not a JSON object: %w", err)
	}

	var errs []error
	var a Agent
	for _, f := range []struct {
		key string
		dst *string
	}{
		{"name", &a.Name},
		{"description", &a.Description},
		{"role", &a.Role},
		{"instructions", &a.Instructions},
	} {
		v, ok := fields[f.key]
		if !ok {
			errs = append(errs, fmt.Errorf("%s: required", f.key))
			continue
		}
		if err := json.Unmarshal(v, f.dst); err != nil {
			errs = append(errs, fmt.Errorf("%s: expected a string", f.key))
		}
	}
	if a.Name == "" && fields["name"] != nil {
		errs = append(errs, errors.New("name: must not be empty"))
	}

	a.Tools = []string{}
	if v, ok := fields["tools"]; ok && !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		if err := json.Unmarshal(v, &a.Tools); err != nil {
			errs = append(errs, errors.New("tools: expected an array of strings"))
		}
	}

	allowed := make(map[string]bool, len(toolNames))
	for _, n := range toolNames {
		allowed[n] = true
	}
	for _, tool := range a.Tools {
		if !allowed[tool] {
			errs = append(errs, fmt.Errorf("tools: unknown tool %q", tool))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return &a, fmt.Errorf("agentgen: invalid agent: %w", err)
	}
	return &a, nil
}

func stripFence(raw []byte) []byte {
	s := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(s, []byte("```")) {
		return s
	}
	s = s[3:]
	if i := bytes.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = bytes.TrimSuffix(bytes.TrimSpace(s), []byte("```"))
	return bytes.TrimSpace(s)
}
