package repositories

import (
	"context"

	"github.com/elaracare/elara/server/domain/entities"
)

// SentimentAnalyzer scores the emotional content of text
type SentimentAnalyzer interface {
	AnalyzeSentiment(ctx context.Context, text string) (*entities.SentimentResult, error)
}

// CrisisDetector screens text for crisis indicators. Detection failures are
// absorbed by the caller, but a positive detection must always reach
// persistence.
type CrisisDetector interface {
	DetectCrisis(ctx context.Context, text string) (*entities.CrisisAssessment, error)
}
