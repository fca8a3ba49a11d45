// Package uimessage is the server side of the chat UI message protocol: the
// message model clients send, its conversion to provider messages, and the
// UI message stream (v1) replies are written in.
package uimessage

import (
	"encoding/json"
	"strings"
)

// Roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Part types. Tool parts use "tool-<name>"; data parts use "data-<name>".
const (
	PartText        = "text"
	PartReasoning   = "reasoning"
	PartFile        = "file"
	PartStepStart   = "step-start"
	PartDynamicTool = "dynamic-tool"
	PartSourceURL   = "source-url"
	PartSourceDoc   = "source-document"

	toolPrefix = "tool-"
	dataPrefix = "data-"
)

// Tool invocation states.
const (
	StateInputStreaming  = "input-streaming"
	StateInputAvailable  = "input-available"
	StateOutputAvailable = "output-available"
	StateOutputError     = "output-error"
)

// UIMessage is one chat message as the UI holds it.
type UIMessage struct {
	ID       string          `json:"id"`
	Role     string          `json:"role"`
	Parts    []Part          `json:"parts"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// Part is a tagged union on Type. Only the fields of the given type are set.
type Part struct {
	Type string `json:"type"`

	// text, reasoning
	Text  string `json:"text,omitempty"`
	State string `json:"state,omitempty"`

	// file
	MediaType string `json:"mediaType,omitempty"`
	URL       string `json:"url,omitempty"`
	Filename  string `json:"filename,omitempty"`

	// tool-*, dynamic-tool
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	ErrorText  string          `json:"errorText,omitempty"`

	// source-url, source-document
	SourceID string `json:"sourceId,omitempty"`
	Title    string `json:"title,omitempty"`

	// data-*
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IsToolPart reports whether p is a static or dynamic tool invocation.
func (p Part) IsToolPart() bool {
	return p.Type == PartDynamicTool || strings.HasPrefix(p.Type, toolPrefix)
}

// IsDataPart reports whether p carries custom data.
func (p Part) IsDataPart() bool {
	return strings.HasPrefix(p.Type, dataPrefix)
}

// Tool returns the invoked tool's name, or "" for non-tool parts.
func (p Part) Tool() string {
	switch {
	case p.Type == PartDynamicTool:
		return p.ToolName
	case strings.HasPrefix(p.Type, toolPrefix):
		return strings.TrimPrefix(p.Type, toolPrefix)
	default:
		return ""
	}
}

// IsCompleted reports whether a tool invocation has an output or an error.
func (p Part) IsCompleted() bool {
	return strings.HasPrefix(p.State, "output")
}

func (p Part) IsError() bool { return p.State == StateOutputError }

// Text concatenates the text parts of m.
func (m UIMessage) Text() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}
