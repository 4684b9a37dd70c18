package chat

import (
	"fmt"
	"strings"
	"time"

	"assistberry/internal/content"
	"assistberry/internal/models"
)

// BuildTurns assembles the model context from the stored history plus the
// incoming turn. Historical messages that carry inline base64 media are
// replaced wholesale with a placeholder so old image payloads never travel
// back to the provider. An incoming turn with neither text nor attachments
// is rejected.
func BuildTurns(history []models.Message, text string, atts []models.Attachment) ([]models.Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" && len(atts) == 0 {
		return nil, fmt.Errorf("%w: empty turn", models.ErrInvalidInput)
	}

	turns := make([]models.Turn, 0, len(history)+1)
	for _, msg := range history {
		body := msg.Content
		if content.HasInlineMedia(body) {
			body = content.PlaceholderHistory
		}
		turns = append(turns, models.Turn{Role: msg.Role, Text: body})
	}
	turns = append(turns, models.Turn{Role: models.RoleUser, Text: text, Attachments: atts})
	return turns, nil
}

// ComposeSystem builds the system instruction: persona, current time, then
// the synthesized user profile, with "None" standing in when no profile has
// been written yet.
func ComposeSystem(persona string, now time.Time, memory string) string {
	memory = strings.TrimSpace(memory)
	if memory == "" {
		memory = "None"
	}
	return fmt.Sprintf("%s\nCurrent time: %s\n[User Profile]: %s",
		persona, now.Format("Monday, 2 January 2006 15:04"), memory)
}

// memoryPrompt asks the collaborator to fold the latest exchange into the
// persistent profile. The model reply is stripped of inline media first.
func memoryPrompt(current, userText, modelText string) string {
	if strings.TrimSpace(current) == "" {
		current = "None"
	}
	return fmt.Sprintf(
		"You maintain a concise profile of a user based on their conversations. "+
			"Update the profile below with any new durable facts or preferences from the latest exchange. "+
			"Keep it under 150 words. Reply with the updated profile only.\n\n"+
			"[Current Profile]: %s\n\n[Latest Exchange]\nUser: %s\nAssistant: %s",
		current, userText, content.StripInlineMedia(modelText),
	)
}
