package chat

import (
	"context"
	"strings"
)

// Persona modes selectable per session. Unknown modes fall back to general.
const (
	PersonaGeneral  = "general"
	PersonaTech     = "tech"
	PersonaBusiness = "business"
	PersonaCustom   = "custom"
)

var personaTexts = map[string]string{
	PersonaGeneral:  "You are a helpful, friendly assistant. Answer clearly and concisely.",
	PersonaTech:     "You are a pragmatic senior engineer. Give precise technical answers with working examples and call out trade-offs.",
	PersonaBusiness: "You are a sharp business analyst. Answer in structured, decision-oriented terms and quantify where possible.",
}

// resolvePersona returns the persona text for a turn. In custom mode the
// session's first user turn IS the persona: its text is pinned to the
// session, and the guarded write makes every later turn see the same text
// no matter what mode the request carries.
func (s *Service) resolvePersona(ctx context.Context, sessionID int64, sessionPersona, mode, turnText string) (string, error) {
	if sessionPersona != "" {
		return sessionPersona, nil
	}
	if mode == PersonaCustom {
		turnText = strings.TrimSpace(turnText)
		if turnText != "" {
			return s.store.SetSessionPersona(ctx, sessionID, turnText)
		}
	}
	if text, ok := personaTexts[mode]; ok {
		return text, nil
	}
	return personaTexts[PersonaGeneral], nil
}
