package memory

import (
	"strings"

	"github.com/xaenox/memo-assistant/internal/models"
	"go.uber.org/zap"
)

// Context is a rendered prompt plus what went into it.
type Context struct {
	Prompt        string
	Conversations int
	Knowledge     int
	// Tokens is only filled in when a token budget is configured.
	Tokens    int
	Truncated bool
}

// GetContextualPrompt renders the recent exchanges and knowledge ahead of
// the current message. It reads state only.
func (m *Manager) GetContextualPrompt(currentMessage string) string {
	return m.BuildContext(currentMessage).Prompt
}

func (m *Manager) BuildContext(currentMessage string) Context {
	m.mu.RLock()
	convs := tailEntries(m.conversations, m.recentConversations)
	knowledge := tailStrings(m.knowledge, m.recentKnowledge)
	m.mu.RUnlock()

	result := Context{
		Prompt:        RenderPrompt(convs, knowledge, currentMessage),
		Conversations: len(convs),
		Knowledge:     len(knowledge),
	}
	if m.counter == nil || m.maxPromptTokens <= 0 {
		return result
	}
	return m.fitBudget(result, convs, knowledge, currentMessage)
}

// fitBudget drops the oldest exchanges, then the oldest knowledge, until
// the prompt fits. The preamble and the current message always stay, so the
// result can still exceed the budget on its own.
func (m *Manager) fitBudget(result Context, convs []models.ConversationEntry, knowledge []string, currentMessage string) Context {
	tokens, err := m.counter.Count(result.Prompt)
	if err != nil {
		m.logger.Warn("Failed to count prompt tokens, sending untruncated", zap.Error(err))
		return result
	}

	for tokens > m.maxPromptTokens && (len(convs) > 0 || len(knowledge) > 0) {
		if len(convs) > 0 {
			convs = convs[1:]
		} else {
			knowledge = knowledge[1:]
		}
		result.Prompt = RenderPrompt(convs, knowledge, currentMessage)
		result.Truncated = true
		if tokens, err = m.counter.Count(result.Prompt); err != nil {
			m.logger.Warn("Failed to count prompt tokens", zap.Error(err))
			break
		}
	}

	result.Conversations = len(convs)
	result.Knowledge = len(knowledge)
	result.Tokens = tokens

	if result.Truncated {
		m.logger.Warn("Prompt context truncated to fit token budget",
			zap.Int("max_tokens", m.maxPromptTokens),
			zap.Int("tokens", tokens),
			zap.Int("conversations_kept", result.Conversations),
			zap.Int("knowledge_kept", result.Knowledge))
	}
	return result
}

// RenderPrompt is the fixed prompt layout.
func RenderPrompt(convs []models.ConversationEntry, knowledge []string, currentMessage string) string {
	var b strings.Builder
	b.WriteString("Previous context:\n")

	if len(convs) > 0 {
		b.WriteString("Recent conversations:\n")
		for _, c := range convs {
			b.WriteString("User: ")
			b.WriteString(c.UserMessage)
			b.WriteString("\nAI: ")
			b.WriteString(c.AIResponse)
			b.WriteString("\n\n")
		}
	}

	if len(knowledge) > 0 {
		b.WriteString("Learned knowledge:\n")
		b.WriteString(strings.Join(knowledge, "\n"))
		b.WriteString("\n\n")
	}

	b.WriteString("Current message: ")
	b.WriteString(currentMessage)
	return b.String()
}

func tailEntries(in []models.ConversationEntry, n int) []models.ConversationEntry {
	if n > len(in) {
		n = len(in)
	}
	return cloneEntries(in[len(in)-n:])
}

func tailStrings(in []string, n int) []string {
	if n > len(in) {
		n = len(in)
	}
	return cloneStrings(in[len(in)-n:])
}
