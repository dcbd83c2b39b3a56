package repositories

import (
	"context"

	"github.com/elaracare/elara/server/domain/entities"
)

// UserRepository defines data access methods for user accounts
type UserRepository interface {
	Create(ctx context.Context, user *entities.User) error
	GetByID(ctx context.Context, id string) (*entities.User, error)
	GetByEmail(ctx context.Context, email string) (*entities.User, error)
	Update(ctx context.Context, user *entities.User) error
}

// ConversationRepository is the durable record of conversations and their
// messages. It is the single source of truth for conversation status and the
// crisis flag; the session registry's in-memory room state is only a cache
// that gets re-validated here on every join.
type ConversationRepository interface {
	Create(ctx context.Context, conversation *entities.Conversation) error

	// GetByID returns the conversation only when it is owned by ownerID.
	// A conversation that exists but belongs to someone else yields
	// domain.ErrNotFound, the same as one that does not exist.
	GetByID(ctx context.Context, id, ownerID string) (*entities.Conversation, error)

	// AppendMessage appends the message to the conversation's ordered log
	// and assigns its sequence number.
	AppendMessage(ctx context.Context, message *entities.Message) error

	// ListRecentMessages returns up to limit of the newest messages for the
	// conversation, in ascending order.
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]*entities.Message, error)

	// ListMessages returns the full ordered message log.
	ListMessages(ctx context.Context, conversationID string) ([]*entities.Message, error)

	// SetCrisisFlag marks the conversation as having contained crisis
	// language. The flag is monotonic; there is no operation to clear it.
	SetCrisisFlag(ctx context.Context, conversationID string) error

	// AddTechniques accumulates therapeutic technique tags onto the
	// conversation.
	AddTechniques(ctx context.Context, conversationID string, techniques []string) error

	// End transitions the conversation to completed.
	End(ctx context.Context, conversationID, endMood, summary string) error

	// ListByUser returns the user's conversations, newest first.
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*entities.Conversation, error)
}
