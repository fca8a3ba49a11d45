package uimessage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nulpointcorp/chat-gateway/internal/providers"
)

// ConvertToModelMessages turns UI messages into provider messages.
//
// System messages keep their text. User messages keep text and files.
// Assistant messages keep text and completed tool invocations, rendered as
// a compact text record. Reasoning, step, source and data parts are dropped,
// as are messages left empty.
func ConvertToModelMessages(msgs []UIMessage) ([]providers.Message, error) {
	out := make([]providers.Message, 0, len(msgs))

	for i, m := range msgs {
		var (
			msg providers.Message
			err error
		)
		switch m.Role {
		case RoleSystem:
			msg = providers.Message{Role: RoleSystem, Content: m.Text()}
		case RoleUser:
			msg = userMessage(m)
		case RoleAssistant:
			msg = assistantMessage(m)
		default:
			err = fmt.Errorf("uimessage: message %d: unsupported role %q", i, m.Role)
		}
		if err != nil {
			return nil, err
		}

		if strings.TrimSpace(msg.Content) == "" && len(msg.Files) == 0 {
			continue
		}
		out = append(out, msg)
	}

	return out, nil
}

func userMessage(m UIMessage) providers.Message {
	msg := providers.Message{Role: RoleUser}
	var texts []string
	for _, p := range m.Parts {
		switch p.Type {
		case PartText:
			texts = append(texts, p.Text)
		case PartFile:
			if p.URL == "" {
				continue
			}
			msg.Files = append(msg.Files, providers.FilePart{
				MediaType: p.MediaType,
				URL:       p.URL,
				Filename:  p.Filename,
			})
		}
	}
	msg.Content = strings.Join(texts, "\n")
	return msg
}

func assistantMessage(m UIMessage) providers.Message {
	var sb strings.Builder
	for _, p := range m.Parts {
		switch {
		case p.Type == PartText:
			writeBlock(&sb, p.Text)
		case p.IsToolPart() && p.IsCompleted():
			writeBlock(&sb, toolRecord(p))
		}
	}
	return providers.Message{Role: RoleAssistant, Content: sb.String()}
}

func writeBlock(sb *strings.Builder, s string) {
	if s == "" {
		return
	}
	if sb.Len() > 0 {
		sb.WriteString("\n\n")
	}
	sb.WriteString(s)
}

// toolRecord renders a finished tool call, e.g.
//
//	[tool webSearch call_1] input={"q":"go"} output={"hits":3}
func toolRecord(p Part) string {
	var sb strings.Builder
	sb.WriteString("[tool " + p.Tool())
	if p.ToolCallID != "" {
		sb.WriteString(" " + p.ToolCallID)
	}
	sb.WriteString("]")
	if in := compactJSON(p.Input); in != "" {
		sb.WriteString(" input=")
		sb.WriteString(in)
	}
	if p.IsError() {
		sb.WriteString(" error=")
		sb.WriteString(p.ErrorText)
		return sb.String()
	}
	if out := compactJSON(p.Output); out != "" {
		sb.WriteString(" output=")
		sb.WriteString(out)
	}
	return sb.String()
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
