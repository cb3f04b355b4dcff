package knowledge

import (
	"strings"
)

// Extractor decides whether a user message carries something worth keeping.
type Extractor interface {
	Extract(userMessage string) (string, bool)
}

var DefaultTriggers = []string{"remember", "important"}

const mentionPrefix = "User mentioned: "

// TriggerExtractor records the whole message when it contains any trigger
// word. Matching is a case-sensitive substring test, nothing smarter.
type TriggerExtractor struct {
	triggers []string
}

func NewTriggerExtractor(triggers ...string) *TriggerExtractor {
	if len(triggers) == 0 {
		triggers = DefaultTriggers
	}
	cleaned := make([]string, 0, len(triggers))
	for _, t := range triggers {
		if t != "" {
			cleaned = append(cleaned, t)
		}
	}
	return &TriggerExtractor{triggers: cleaned}
}

func (e *TriggerExtractor) Extract(userMessage string) (string, bool) {
	for _, trigger := range e.triggers {
		if strings.Contains(userMessage, trigger) {
			return mentionPrefix + userMessage, true
		}
	}
	return "", false
}

// Nop never extracts anything.
type Nop struct{}

func (Nop) Extract(string) (string, bool) { return "", false }
