package llm

import (
	"fmt"
	"strings"
)

// DefaultSystemPrompt is used when neither a deployment prompt nor a
// per-call goal is configured.
const DefaultSystemPrompt = "You are a helpful AI assistant."

// toolInstructions teaches the backend the embedded directive format. It is
// always appended so every deployment prompt gains call control.
const toolInstructions = `
You can control the call by outputting a JSON block at the very end of your response.
Available Tools:
- hangup: Ends the call. Use this when the user says goodbye or wants to stop.

If you decide to hangup, you MUST generate a polite sign-off message (e.g., "Goodbye!", "Have a nice day!") before the JSON block in the "[Your spoken response here]" section.

Format:
[Your spoken response here]
` + "```json" + `
{
  "action": "hangup",
  "reason": "user said goodbye"
}
` + "```" + `
IMPORTANT: Do NOT output any text after the JSON block. Do NOT read the JSON block aloud.
`

// PromptParams carries the pieces merged into one system prompt.
type PromptParams struct {
	// SystemPrompt is the deployment-wide prompt from configuration.
	SystemPrompt string
	// CallGoal is the per-call goal passed when dialing out.
	CallGoal string
	// UserID and ChatID identify an associated chat context, when known.
	UserID string
	ChatID string
}

// ComposeSystemPrompt merges the deployment prompt, the per-call goal and
// the tool instructions into the system prompt for one call.
func ComposeSystemPrompt(p PromptParams) string {
	base := strings.TrimSpace(p.SystemPrompt)

	switch {
	case p.CallGoal != "" && base != "":
		base = fmt.Sprintf("%s\n\nCurrent Call Goal: %s", base, p.CallGoal)
	case p.CallGoal != "":
		base = p.CallGoal
	case base == "":
		base = DefaultSystemPrompt
	}

	if p.UserID != "" || p.ChatID != "" {
		base += fmt.Sprintf("\n\n[Context: user_id=%s, chat_id=%s]", p.UserID, p.ChatID)
	}

	return base + "\n" + toolInstructions
}
