// Package prompts builds the system prompts sent with chat and agent
// generation requests.
package prompts

import (
	"fmt"
	"strings"
	"time"

	"github.com/nulpointcorp/chat-gateway/internal/store"
)

const defaultBotName = "better-chatbot"

// Now is the clock used for the current-time line.
var Now = time.Now

// BuildUserSystemPrompt describes the assistant and the user it talks to.
// user and prefs may be nil.
func BuildUserSystemPrompt(user *store.User, prefs *store.UserPreferences) string {
	botName := defaultBotName
	if prefs != nil && strings.TrimSpace(prefs.BotName) != "" {
		botName = strings.TrimSpace(prefs.BotName)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s, an intelligent AI assistant that helps the user with their requests.\n", botName)
	fmt.Fprintf(&sb, "The current date and time is %s.\n", Now().Format("Monday, January 2, 2006 15:04 MST"))

	var userLines []string
	if user != nil {
		name := user.Name
		if prefs != nil && strings.TrimSpace(prefs.DisplayName) != "" {
			name = strings.TrimSpace(prefs.DisplayName)
		}
		if name != "" {
			userLines = append(userLines, "- Name: "+name)
		}
		if user.Email != "" {
			userLines = append(userLines, "- Email: "+user.Email)
		}
	}
	if prefs != nil && strings.TrimSpace(prefs.Profession) != "" {
		userLines = append(userLines, "- Profession: "+strings.TrimSpace(prefs.Profession))
	}
	if len(userLines) > 0 {
		sb.WriteString("\n<user_information>\n")
		sb.WriteString(strings.Join(userLines, "\n"))
		sb.WriteString("\n</user_information>\n")
	}

	if prefs != nil && strings.TrimSpace(prefs.ResponseStyleExample) != "" {
		sb.WriteString("\n<response_style>\n")
		sb.WriteString("Match the tone and format of this example when answering:\n")
		sb.WriteString(strings.TrimSpace(prefs.ResponseStyleExample))
		sb.WriteString("\n</response_style>\n")
	}

	sb.WriteString(`
<general_capabilities>
- Answer in the user's language unless asked otherwise.
- Use Markdown for structure: headings, lists and fenced code blocks with a language tag.
- Keep answers focused. Ask a clarifying question when the request is ambiguous.
- Say so plainly when you do not know something.
</general_capabilities>`)

	return strings.TrimSpace(sb.String())
}

// BuildAgentGenerationPrompt instructs the model to design an agent that
// may only use the given tools.
func BuildAgentGenerationPrompt(toolNames []string) string {
	tools := "(no tools are available; return an empty list)"
	if len(toolNames) > 0 {
		tools = "- " + strings.Join(toolNames, "\n- ")
	}

	return strings.TrimSpace(fmt.Sprintf(`
You are an expert at designing AI agents. From the user's description, create
an agent definition.

Return a single JSON object with exactly these fields:
- "name": a short, descriptive agent name.
- "description": one or two sentences on what the agent does.
- "role": the agent's area of expertise, e.g. "data analyst".
- "instructions": detailed system instructions for the agent, written in the
  second person, covering goals, workflow, tone and constraints.
- "tools": the names of the tools the agent needs, chosen only from the list
  below. Use an empty array when none fit.

Available tools:
%s

Write the definition in the language of the user's description.
Output the JSON object only, without Markdown fences or commentary.`, tools))
}
