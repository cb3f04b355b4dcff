package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/memo-assistant/internal/chat"
	"github.com/xaenox/memo-assistant/internal/memory"
	"github.com/xaenox/memo-assistant/internal/models"
	"go.uber.org/zap"
)

const historySize = 5

// SessionFactory builds the chat session backing one namespace.
type SessionFactory func(ctx context.Context, namespace string) (*chat.Session, error)

// MetricsSource derives the current metrics for one namespace from storage.
type MetricsSource func(ctx context.Context, namespace string) models.Metrics

// telegramAPI is the part of *tgbotapi.BotAPI the bot talks through.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type Bot struct {
	api        telegramAPI
	updates    func() (tgbotapi.UpdatesChannel, func())
	newSession SessionFactory
	metricsFor MetricsSource
	logger     *zap.Logger

	mu       sync.Mutex
	sessions map[int64]*chat.Session
}

func New(token string, newSession SessionFactory, metricsFor MetricsSource, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	logger.Info("Authorized on Telegram", zap.String("username", api.Self.UserName))

	b := newBot(api, newSession, metricsFor, logger)
	b.updates = func() (tgbotapi.UpdatesChannel, func()) {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		return api.GetUpdatesChan(u), api.StopReceivingUpdates
	}
	return b, nil
}

func newBot(api telegramAPI, newSession SessionFactory, metricsFor MetricsSource, logger *zap.Logger) *Bot {
	return &Bot{
		api:        api,
		newSession: newSession,
		metricsFor: metricsFor,
		logger:     logger,
		sessions:   make(map[int64]*chat.Session),
	}
}

// Start polls for updates until ctx is done.
func (b *Bot) Start(ctx context.Context) error {
	updates, stop := b.updates()
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				b.handleUpdate(ctx, update)
			}()
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func namespaceFor(chatID int64) string {
	return "telegram:" + strconv.FormatInt(chatID, 10)
}

func (b *Bot) session(ctx context.Context, chatID int64) (*chat.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.sessions[chatID]; ok {
		return s, nil
	}
	s, err := b.newSession(ctx, namespaceFor(chatID))
	if err != nil {
		return nil, err
	}
	b.sessions[chatID] = s
	return s, nil
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	session, err := b.session(ctx, message.Chat.ID)
	if err != nil {
		b.logger.Error("Failed to open chat session",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't open your conversation memory. Please try again later.")
		return
	}

	if message.IsCommand() {
		b.handleCommand(ctx, session, message)
		return
	}

	content := message.Text
	if message.Caption != "" {
		content = message.Caption
	}
	if strings.TrimSpace(content) == "" {
		b.sendMessage(message.Chat.ID, "I can only read text for now. Send me a message!")
		return
	}

	if _, err := b.api.Request(tgbotapi.NewChatAction(message.Chat.ID, tgbotapi.ChatTyping)); err != nil {
		b.logger.Debug("Failed to send typing action", zap.Error(err))
	}

	turn, err := session.Send(ctx, content)
	switch {
	case errors.Is(err, chat.ErrBusy):
		b.sendMessage(message.Chat.ID, "⏳ Still thinking about your previous message, one moment please.")
		return
	case err != nil:
		b.logger.Error("Chat turn failed",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, something went wrong. Please try again.")
		return
	}

	if turn.Warning != nil {
		b.logger.Warn("Conversation not persisted",
			zap.Error(turn.Warning),
			zap.Int64("chat_id", message.Chat.ID))
	}

	b.sendReply(message.Chat.ID, message.MessageID, turn)
}

func (b *Bot) sendReply(chatID int64, replyToID int, turn chat.Turn) {
	text := turn.Reply
	if turn.Failed {
		text = "⚠️ " + text
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyToID
	if turn.Entry.ID != "" {
		msg.ReplyMarkup = feedbackKeyboard(turn.Entry.ID)
	}

	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send reply",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func feedbackKeyboard(conversationID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("👍", feedbackData(models.FeedbackPositive, conversationID)),
			tgbotapi.NewInlineKeyboardButtonData("👎", feedbackData(models.FeedbackNegative, conversationID)),
		),
	)
}

func feedbackData(feedback models.Feedback, conversationID string) string {
	return "fb:" + string(feedback) + ":" + conversationID
}

func parseFeedbackData(data string) (models.Feedback, string, bool) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 || parts[0] != "fb" || parts[2] == "" {
		return "", "", false
	}
	feedback := models.Feedback(parts[1])
	if !feedback.Valid() {
		return "", "", false
	}
	return feedback, parts[2], true
}

func (b *Bot) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	feedback, conversationID, ok := parseFeedbackData(query.Data)
	if !ok || query.Message == nil {
		b.answerCallback(query.ID, "")
		return
	}

	session, err := b.session(ctx, query.Message.Chat.ID)
	if err != nil {
		b.logger.Error("Failed to open chat session",
			zap.Error(err),
			zap.Int64("chat_id", query.Message.Chat.ID))
		b.answerCallback(query.ID, "Sorry, I couldn't save that.")
		return
	}

	if err := session.Feedback(ctx, conversationID, feedback); err != nil && !errors.Is(err, memory.ErrPersistence) {
		b.logger.Error("Failed to record feedback",
			zap.Error(err),
			zap.String("conversation_id", conversationID))
		b.answerCallback(query.ID, "Sorry, I couldn't save that.")
		return
	}

	b.answerCallback(query.ID, "Thanks for the feedback!")
}

func (b *Bot) answerCallback(queryID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(queryID, text)); err != nil {
		b.logger.Error("Failed to answer callback",
			zap.Error(err),
			zap.String("callback_id", queryID))
	}
}

func (b *Bot) handleCommand(ctx context.Context, session *chat.Session, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "history":
		b.handleHistory(session, message)
	case "knowledge":
		b.handleKnowledge(session, message)
	case "metrics":
		b.handleMetrics(ctx, message)
	case "reload":
		if err := session.Memory().Reload(ctx); err != nil {
			b.logger.Warn("Reload from storage incomplete", zap.Error(err))
		}
		b.sendMessage(message.Chat.ID, "Memory reloaded.")
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	b.sendMessage(message.Chat.ID, chat.Greeting)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/start - Start the bot
/help - Show this help message
/history - Show our last exchanges
/knowledge - Show what I have learned
/metrics - Show feedback statistics
/reload - Re-read memory from storage

Say "remember ..." or mark something "important" and I'll keep it in mind.
Rate my answers with 👍 or 👎 to help me improve!`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleHistory(session *chat.Session, message *tgbotapi.Message) {
	b.sendMarkdown(message.Chat.ID, formatHistory(session.Memory().Conversations(), historySize))
}

func (b *Bot) handleKnowledge(session *chat.Session, message *tgbotapi.Message) {
	b.sendMarkdown(message.Chat.ID, formatKnowledge(session.Memory().Knowledge()))
}

func (b *Bot) handleMetrics(ctx context.Context, message *tgbotapi.Message) {
	m := b.metricsFor(ctx, namespaceFor(message.Chat.ID))
	b.sendMarkdown(message.Chat.ID, formatMetrics(m))
}

func formatHistory(conversations []models.ConversationEntry, n int) string {
	if len(conversations) == 0 {
		return escapeMarkdown("We haven't talked yet.")
	}
	if len(conversations) > n {
		conversations = conversations[len(conversations)-n:]
	}

	var sb strings.Builder
	sb.WriteString("*Recent conversations:*\n\n")
	for _, c := range conversations {
		sb.WriteString(fmt.Sprintf("*You:* %s\n", escapeMarkdown(c.UserMessage)))
		sb.WriteString(fmt.Sprintf("*AI:* %s", escapeMarkdown(c.AIResponse)))
		switch c.Feedback {
		case models.FeedbackPositive:
			sb.WriteString(" 👍")
		case models.FeedbackNegative:
			sb.WriteString(" 👎")
		}
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func formatKnowledge(items []string) string {
	if len(items) == 0 {
		return escapeMarkdown("I haven't learned anything yet. Ask me to remember something!")
	}

	var sb strings.Builder
	sb.WriteString("*Learned knowledge:*\n")
	for _, item := range items {
		sb.WriteString(escapeMarkdown("• "+item) + "\n")
	}
	return sb.String()
}

func formatMetrics(m models.Metrics) string {
	lines := []string{
		fmt.Sprintf("Conversations: %d", m.TotalConversations),
		fmt.Sprintf("Positive feedback: %d", m.PositiveFeedback),
		fmt.Sprintf("Negative feedback: %d", m.NegativeFeedback),
		fmt.Sprintf("Knowledge items: %d", m.KnowledgeItems),
		fmt.Sprintf("Accuracy: %.1f%%", m.AccuracyScore),
		fmt.Sprintf("Learning rate: %.6f", m.LearningRate),
	}
	return "*Metrics:*\n" + escapeMarkdown(strings.Join(lines, "\n"))
}

// escapeMarkdown escapes special characters for MarkdownV2
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendMarkdown(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
