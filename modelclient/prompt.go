package modelclient

import (
	"fmt"
	"strings"

	"github.com/openguardrails/openguardrails-sub000/types"
)

const instructionTemplate = "[INST] Task: Check if there is unsafe content in '%s' messages in conversations according to our safety policy with the below categories.\n\n<BEGIN UNSAFE CONTENT CATEGORIES>\n%s\n<END UNSAFE CONTENT CATEGORIES>\n\n<BEGIN CONVERSATION>\n\n%s\n\n<END CONVERSATION>\n\nProvide your safety assessment for ONLY THE LAST %s message in the above conversation:\n- First line must read 'safe' or 'unsafe'.\n- If unsafe, a second line must include a comma-separated list of violated categories. [/INST]"

// BuildDetectionPrompt renders the single-turn moderation instruction for a
// conversation. categories is the rendered category block, one definition per
// line. The assessment targets only the last message; its role decides whether
// the model judges 'User' or 'Agent' content.
func BuildDetectionPrompt(messages []types.Message, categories string) string {
	role := lastMessageRole(messages)
	conversation := conversationString(messages)
	return fmt.Sprintf(instructionTemplate, role, categories, conversation, role)
}

// lastMessageRole returns "Agent" when the last message is from the
// assistant, otherwise "User".
func lastMessageRole(messages []types.Message) string {
	if len(messages) > 0 && messages[len(messages)-1].Role == types.RoleAssistant {
		return "Agent"
	}
	return "User"
}

// conversationString flattens a conversation into "Role: content" lines.
// Image parts contribute their text only; presence of images is handled by
// routing the request to the vision model instead.
func conversationString(messages []types.Message) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		role := "User"
		if m.Role == types.RoleAssistant {
			role = "Agent"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", role, m.Content))
	}
	return strings.Join(parts, "\n")
}
