package models

import "time"

// Feedback is the user's rating of an assistant response.
type Feedback string

const (
	FeedbackPositive Feedback = "positive"
	FeedbackNegative Feedback = "negative"
)

// Valid reports whether f is one of the known rating tags.
func (f Feedback) Valid() bool {
	return f == FeedbackPositive || f == FeedbackNegative
}

// ConversationEntry represents one completed user/assistant exchange
type ConversationEntry struct {
	ID               string    `json:"id"`
	UserMessage      string    `json:"user_message"`
	AIResponse       string    `json:"ai_response"`
	Timestamp        time.Time `json:"timestamp"`
	Feedback         Feedback  `json:"feedback,omitempty"`
	LearnedKnowledge string    `json:"learned_knowledge,omitempty"`
}

// Metrics is derived from the conversation log and knowledge list, never stored.
type Metrics struct {
	TotalConversations int       `json:"total_conversations"`
	PositiveFeedback   int       `json:"positive_feedback"`
	NegativeFeedback   int       `json:"negative_feedback"`
	KnowledgeItems     int       `json:"knowledge_items"`
	LearningRate       float64   `json:"learning_rate"`
	AccuracyScore      float64   `json:"accuracy_score"`
	LastUpdated        time.Time `json:"last_updated"`
}
