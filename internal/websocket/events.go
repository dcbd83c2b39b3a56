package websocket

import (
	"encoding/json"
	"errors"

	"github.com/elaracare/elara/server/domain"
	"github.com/elaracare/elara/server/domain/entities"
)

// Client -> server event types
const (
	EventJoinConversation  = "join-conversation"
	EventLeaveConversation = "leave-conversation"
	EventSendMessage       = "send-message"
	EventTyping            = "typing"
)

// Server -> client event types
const (
	EventJoinedConversation = "joined-conversation"
	EventLeftConversation   = "left-conversation"
	EventNewMessage         = "new-message"
	EventAITyping           = "ai-typing"
	EventUserTyping         = "user-typing"
	EventError              = "error"
)

// Envelope is the wire frame for every event in either direction
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinConversationPayload asks to subscribe the connection to a room
type JoinConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

// SendMessagePayload carries one inbound user message
type SendMessagePayload struct {
	ConversationID string               `json:"conversationId"`
	Content        string               `json:"content"`
	ContentType    entities.ContentType `json:"contentType,omitempty"`
	AudioURL       string               `json:"audioUrl,omitempty"`
}

// TypingPayload signals the sender's typing state to the room
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// JoinedConversationPayload confirms room membership
type JoinedConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

// AITypingPayload reports whether a reply is being generated
type AITypingPayload struct {
	IsTyping bool `json:"isTyping"`
}

// UserTypingPayload relays another member's typing state
type UserTypingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// ErrorPayload is the structured error event surfaced to a connection
type ErrorPayload struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
}

func marshalEvent(eventType string, payload interface{}) []byte {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	data, _ := json.Marshal(Envelope{Type: eventType, Payload: raw})
	return data
}

// errorPayloadFor maps a domain error onto the wire shape. Unknown errors
// are reported as internal without detail.
func errorPayloadFor(err error) ErrorPayload {
	if retryAfter, ok := domain.IsRateLimited(err); ok {
		seconds := int(retryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		return ErrorPayload{
			Code:              "rate_limited",
			Message:           "Message rate limit exceeded. Please slow down.",
			RetryAfterSeconds: seconds,
		}
	}

	switch {
	case errors.Is(err, domain.ErrAuthenticationFailed):
		return ErrorPayload{Code: "authentication_failed", Message: "Authentication failed"}
	case errors.Is(err, domain.ErrAuthorizationDenied):
		return ErrorPayload{Code: "authorization_denied", Message: "Not a member of this conversation"}
	case errors.Is(err, domain.ErrNotFound):
		return ErrorPayload{Code: "not_found", Message: "Conversation not found"}
	case errors.Is(err, domain.ErrValidationFailed):
		return ErrorPayload{Code: "validation_failed", Message: "Malformed message"}
	case errors.Is(err, domain.ErrGenerationFailed):
		return ErrorPayload{Code: "generation_failed", Message: "Could not generate a reply. Your message was saved."}
	case errors.Is(err, domain.ErrStoreFailure):
		return ErrorPayload{Code: "store_failure", Message: "Failed to save message"}
	default:
		return ErrorPayload{Code: "internal_error", Message: "Something went wrong"}
	}
}
