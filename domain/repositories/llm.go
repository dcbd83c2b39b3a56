package repositories

import (
	"context"

	"github.com/elaracare/elara/server/domain/entities"
)

// ChatMessage represents a single message handed to the response generator
type ChatMessage struct {
	Role    entities.MessageRole `json:"role"`
	Content string               `json:"content"`
}

// MoodContext carries conversation-level mood and technique metadata used to
// steer reply generation.
type MoodContext struct {
	UserMood   string
	Techniques []string
	InCrisis   bool
}

// Reply is the next agent utterance plus its generation metadata
type Reply struct {
	Text       string   `json:"text"`
	Techniques []string `json:"techniques"`
	Tone       string   `json:"tone"`
	FollowUps  []string `json:"follow_ups"`
}

// ResponseGenerator produces the next agent utterance from bounded
// conversation history plus mood context.
type ResponseGenerator interface {
	GenerateReply(ctx context.Context, history []ChatMessage, mood MoodContext) (*Reply, error)
}
