package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ConversationStatus represents the lifecycle state of a conversation
type ConversationStatus string

const (
	ConversationStatusActive    ConversationStatus = "active"
	ConversationStatusCompleted ConversationStatus = "completed"
)

// MessageRole represents the author role of a message
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// ContentType represents how a message's content was produced
type ContentType string

const (
	ContentTypeText            ContentType = "text"
	ContentTypeAudioTranscript ContentType = "audio-transcript"
)

// Conversation represents one logical thread between a user and the assistant
type Conversation struct {
	ID     string             `json:"id" bson:"_id,omitempty"`
	UserID string             `json:"user_id" bson:"user_id"`
	Title  string             `json:"title" bson:"title"`
	Status ConversationStatus `json:"status" bson:"status"`
	// IsCrisis is monotonic: once crisis language is detected it is never
	// cleared by the engine.
	IsCrisis   bool       `json:"is_crisis" bson:"is_crisis"`
	MoodStart  string     `json:"mood_start,omitempty" bson:"mood_start,omitempty"`
	MoodEnd    string     `json:"mood_end,omitempty" bson:"mood_end,omitempty"`
	Techniques []string   `json:"techniques" bson:"techniques"`
	Summary    string     `json:"summary,omitempty" bson:"summary,omitempty"`
	StartedAt  time.Time  `json:"started_at" bson:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" bson:"ended_at,omitempty"`
}

// NewConversation creates a new active conversation for a user
func NewConversation(userID, title, initialMood string) *Conversation {
	if title == "" {
		title = "New Conversation"
	}
	return &Conversation{
		ID:         uuid.NewString(),
		UserID:     userID,
		Title:      title,
		Status:     ConversationStatusActive,
		MoodStart:  initialMood,
		Techniques: make([]string, 0),
		StartedAt:  time.Now().UTC(),
	}
}

// IsOwnedBy reports whether the conversation belongs to the given user
func (c *Conversation) IsOwnedBy(userID string) bool {
	return c.UserID == userID
}

// CanAcceptMessages reports whether new messages may be appended
func (c *Conversation) CanAcceptMessages() bool {
	return c.Status == ConversationStatusActive
}

// End transitions the conversation to completed
func (c *Conversation) End(endMood, summary string) {
	now := time.Now().UTC()
	c.Status = ConversationStatusCompleted
	c.MoodEnd = endMood
	c.Summary = summary
	c.EndedAt = &now
}

// Validate validates the conversation data
func (c *Conversation) Validate() error {
	if c.UserID == "" {
		return errors.New("user_id is required")
	}
	if c.Status != ConversationStatusActive && c.Status != ConversationStatusCompleted {
		return errors.New("invalid conversation status")
	}
	return nil
}

// ReplyMeta carries generation metadata attached to assistant messages
type ReplyMeta struct {
	Techniques []string `json:"techniques,omitempty" bson:"techniques,omitempty"`
	Tone       string   `json:"tone,omitempty" bson:"tone,omitempty"`
	FollowUps  []string `json:"follow_ups,omitempty" bson:"follow_ups,omitempty"`
}

// Message is an ordered, append-only entry in a conversation. Messages within
// one conversation are totally ordered by Seq, assigned by the store at
// append time; that order is the order used to build reply context and the
// order replayed to late joiners.
type Message struct {
	ID             string            `json:"id" bson:"_id,omitempty"`
	ConversationID string            `json:"conversation_id" bson:"conversation_id"`
	Role           MessageRole       `json:"role" bson:"role"`
	Content        string            `json:"content" bson:"content"`
	ContentType    ContentType       `json:"content_type" bson:"content_type"`
	AudioURL       string            `json:"audio_url,omitempty" bson:"audio_url,omitempty"`
	Sentiment      *SentimentResult  `json:"sentiment,omitempty" bson:"sentiment,omitempty"`
	Crisis         *CrisisAssessment `json:"crisis,omitempty" bson:"crisis,omitempty"`
	Meta           *ReplyMeta        `json:"meta,omitempty" bson:"meta,omitempty"`
	Seq            int64             `json:"seq" bson:"seq"`
	CreatedAt      time.Time         `json:"created_at" bson:"created_at"`
}

// NewUserMessage builds a message authored by a user
func NewUserMessage(conversationID, content string, contentType ContentType, audioURL string) *Message {
	if contentType == "" {
		contentType = ContentTypeText
	}
	return &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           MessageRoleUser,
		Content:        content,
		ContentType:    contentType,
		AudioURL:       audioURL,
		CreatedAt:      time.Now().UTC(),
	}
}

// NewAssistantMessage builds a message authored by the assistant. Assistant
// messages carry no owning identity.
func NewAssistantMessage(conversationID, content string, meta *ReplyMeta) *Message {
	return &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           MessageRoleAssistant,
		Content:        content,
		ContentType:    ContentTypeText,
		Meta:           meta,
		CreatedAt:      time.Now().UTC(),
	}
}

// NewSystemMessage builds a system message, such as the conversation greeting
func NewSystemMessage(conversationID, content string) *Message {
	return &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           MessageRoleSystem,
		Content:        content,
		ContentType:    ContentTypeText,
		CreatedAt:      time.Now().UTC(),
	}
}

// Validate validates the message data
func (m *Message) Validate() error {
	if m.ConversationID == "" {
		return errors.New("conversation_id is required")
	}
	if m.Content == "" {
		return errors.New("content is required")
	}
	switch m.Role {
	case MessageRoleUser, MessageRoleAssistant, MessageRoleSystem:
	default:
		return errors.New("invalid message role")
	}
	return nil
}
