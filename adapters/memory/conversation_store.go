package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/elaracare/elara/server/domain"
	"github.com/elaracare/elara/server/domain/entities"
)

// ConversationStore is an in-memory implementation of
// repositories.ConversationRepository. Messages are kept per conversation in
// append order with a monotonically increasing sequence number, mirroring
// the ordering contract of the durable store.
type ConversationStore struct {
	mu            sync.RWMutex
	conversations map[string]*entities.Conversation
	messages      map[string][]*entities.Message
	seq           map[string]int64
}

// NewConversationStore creates an empty in-memory conversation store
func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		conversations: make(map[string]*entities.Conversation),
		messages:      make(map[string][]*entities.Message),
		seq:           make(map[string]int64),
	}
}

// Create implements repositories.ConversationRepository
func (s *ConversationStore) Create(ctx context.Context, conversation *entities.Conversation) error {
	if err := conversation.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if conversation.ID == "" {
		conversation.ID = uuid.NewString()
	}
	copied := *conversation
	s.conversations[conversation.ID] = &copied
	s.messages[conversation.ID] = make([]*entities.Message, 0, 16)
	return nil
}

// GetByID implements repositories.ConversationRepository. A conversation
// owned by someone else is indistinguishable from a missing one.
func (s *ConversationStore) GetByID(ctx context.Context, id, ownerID string) (*entities.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok || !conv.IsOwnedBy(ownerID) {
		return nil, domain.ErrNotFound
	}
	copied := *conv
	return &copied, nil
}

// AppendMessage implements repositories.ConversationRepository
func (s *ConversationStore) AppendMessage(ctx context.Context, message *entities.Message) error {
	if err := message.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[message.ConversationID]; !ok {
		return domain.ErrNotFound
	}

	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	s.seq[message.ConversationID]++
	message.Seq = s.seq[message.ConversationID]

	copied := *message
	s.messages[message.ConversationID] = append(s.messages[message.ConversationID], &copied)
	return nil
}

// ListRecentMessages implements repositories.ConversationRepository
func (s *ConversationStore) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]*entities.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs, ok := s.messages[conversationID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	start := 0
	if limit > 0 && len(msgs) > limit {
		start = len(msgs) - limit
	}
	return copyMessages(msgs[start:]), nil
}

// ListMessages implements repositories.ConversationRepository
func (s *ConversationStore) ListMessages(ctx context.Context, conversationID string) ([]*entities.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs, ok := s.messages[conversationID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyMessages(msgs), nil
}

// SetCrisisFlag implements repositories.ConversationRepository. The flag is
// monotonic; repeated calls are no-ops.
func (s *ConversationStore) SetCrisisFlag(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return domain.ErrNotFound
	}
	conv.IsCrisis = true
	return nil
}

// AddTechniques implements repositories.ConversationRepository
func (s *ConversationStore) AddTechniques(ctx context.Context, conversationID string, techniques []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return domain.ErrNotFound
	}

	known := make(map[string]bool, len(conv.Techniques))
	for _, t := range conv.Techniques {
		known[t] = true
	}
	for _, t := range techniques {
		if !known[t] {
			conv.Techniques = append(conv.Techniques, t)
			known[t] = true
		}
	}
	return nil
}

// End implements repositories.ConversationRepository
func (s *ConversationStore) End(ctx context.Context, conversationID, endMood, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return domain.ErrNotFound
	}
	conv.End(endMood, summary)
	return nil
}

// ListByUser implements repositories.ConversationRepository
func (s *ConversationStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*entities.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entities.Conversation, 0)
	for _, conv := range s.conversations {
		if conv.UserID == userID {
			copied := *conv
			out = append(out, &copied)
		}
	}

	// Newest first
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].StartedAt.After(out[i].StartedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	if offset >= len(out) {
		return []*entities.Conversation{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyMessages(msgs []*entities.Message) []*entities.Message {
	out := make([]*entities.Message, len(msgs))
	for i, m := range msgs {
		copied := *m
		out[i] = &copied
	}
	return out
}
