package openai

import (
	"context"
	"strings"

	"github.com/elaracare/elara/server/domain/entities"
	"github.com/elaracare/elara/server/domain/repositories"
)

// MockClient is a deterministic keyword-based stand-in for the OpenAI
// backend, used in development when no API key is configured and in tests.
type MockClient struct{}

// NewMockClient creates the keyword-based mock backend
func NewMockClient() *MockClient {
	return &MockClient{}
}

var positiveWords = []string{"happy", "great", "good", "better", "grateful", "hopeful", "calm", "relieved", "proud"}

var negativeWords = []string{"sad", "depressed", "anxious", "angry", "hopeless", "alone", "scared", "worthless", "tired"}

var crisisPhrases = []string{
	"kill myself",
	"end my life",
	"don't want to be here",
	"don't want to live",
	"hurt myself",
	"self-harm",
	"suicide",
	"no reason to go on",
}

// AnalyzeSentiment implements repositories.SentimentAnalyzer
func (m *MockClient) AnalyzeSentiment(ctx context.Context, text string) (*entities.SentimentResult, error) {
	normalized := strings.ToLower(text)

	score := 0.0
	keywords := make([]string, 0)
	emotions := map[string]float64{"joy": 0, "sadness": 0, "anger": 0, "fear": 0, "surprise": 0, "disgust": 0}

	for _, w := range positiveWords {
		if strings.Contains(normalized, w) {
			score += 0.3
			emotions["joy"] += 0.3
			keywords = append(keywords, w)
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(normalized, w) {
			score -= 0.3
			emotions["sadness"] += 0.3
			keywords = append(keywords, w)
		}
	}
	if strings.Contains(normalized, "angry") || strings.Contains(normalized, "furious") {
		emotions["anger"] += 0.4
	}
	if strings.Contains(normalized, "scared") || strings.Contains(normalized, "afraid") {
		emotions["fear"] += 0.4
	}

	for name, v := range emotions {
		if v > 1 {
			emotions[name] = 1
		}
	}

	return &entities.SentimentResult{
		Score:    clamp(score, -1, 1),
		Emotions: emotions,
		Keywords: keywords,
	}, nil
}

// DetectCrisis implements repositories.CrisisDetector
func (m *MockClient) DetectCrisis(ctx context.Context, text string) (*entities.CrisisAssessment, error) {
	normalized := strings.ToLower(text)

	indicators := make([]string, 0)
	for _, phrase := range crisisPhrases {
		if strings.Contains(normalized, phrase) {
			indicators = append(indicators, phrase)
		}
	}

	if len(indicators) == 0 {
		return &entities.CrisisAssessment{IsCrisis: false, RiskLevel: entities.RiskLevelLow}, nil
	}

	level := entities.RiskLevelHigh
	if len(indicators) > 1 {
		level = entities.RiskLevelCritical
	}

	return &entities.CrisisAssessment{
		IsCrisis:         true,
		RiskLevel:        level,
		Indicators:       indicators,
		SuggestedActions: []string{"express concern", "share crisis hotline information", "encourage professional help"},
	}, nil
}

// GenerateReply implements repositories.ResponseGenerator
func (m *MockClient) GenerateReply(ctx context.Context, history []repositories.ChatMessage, mood repositories.MoodContext) (*repositories.Reply, error) {
	tone := "supportive"
	text := "Thank you for sharing that with me. It takes courage to put feelings into words. Can you tell me more about what's been on your mind?"
	if mood.InCrisis {
		tone = "calming"
		text = "I'm really concerned about what you're going through right now. You don't have to face this alone - please consider reaching out to a crisis line or a mental health professional. Would you like to talk about what's making things feel so heavy?"
	}

	return &repositories.Reply{
		Text:       text,
		Techniques: []string{"active listening", "validation"},
		Tone:       tone,
		FollowUps:  []string{"How long have you been feeling this way?"},
	}, nil
}
