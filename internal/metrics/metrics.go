package metrics

import (
	"math"
	"time"

	"github.com/xaenox/memo-assistant/internal/models"
)

const (
	// BaselineAccuracy is reported before any conversation exists.
	BaselineAccuracy = 85.2

	InitialLearningRate = 0.001
	LearningRateDecay   = 0.000001
	MinLearningRate     = 0.0001
)

// Compute folds the log and knowledge list into a Metrics snapshot.
func Compute(conversations []models.ConversationEntry, knowledge []string, now time.Time) models.Metrics {
	var positive, negative int
	for _, c := range conversations {
		switch c.Feedback {
		case models.FeedbackPositive:
			positive++
		case models.FeedbackNegative:
			negative++
		}
	}

	total := len(conversations)
	accuracy := BaselineAccuracy
	if total > 0 {
		accuracy = float64(positive) / float64(total) * 100
	}

	return models.Metrics{
		TotalConversations: total,
		PositiveFeedback:   positive,
		NegativeFeedback:   negative,
		KnowledgeItems:     len(knowledge),
		LearningRate:       LearningRate(total),
		AccuracyScore:      accuracy,
		LastUpdated:        now,
	}
}

// LearningRate decays linearly with the log size and is clamped at MinLearningRate.
func LearningRate(totalConversations int) float64 {
	return math.Max(MinLearningRate, InitialLearningRate-float64(totalConversations)*LearningRateDecay)
}
