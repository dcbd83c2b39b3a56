package api

import (
	"time"

	"github.com/elaracare/elara/server/domain/entities"
)

// RegisterRequest represents the user registration payload
type RegisterRequest struct {
	Email    string `json:"email" validate:"required"`
	Name     string `json:"name" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginRequest represents the login payload
type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse represents a successful authentication response
type AuthResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	User      *entities.User `json:"user"`
}

// StartConversationRequest represents the conversation creation payload
type StartConversationRequest struct {
	Title       string `json:"title"`
	InitialMood string `json:"initial_mood"`
}

// EndConversationRequest represents the conversation completion payload
type EndConversationRequest struct {
	EndMood string `json:"end_mood"`
	Summary string `json:"summary"`
}

// ConversationWithMessages bundles a conversation and its ordered message log
type ConversationWithMessages struct {
	Conversation *entities.Conversation `json:"conversation"`
	Messages     []*entities.Message    `json:"messages"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
