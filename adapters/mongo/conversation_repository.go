package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/elaracare/elara/server/domain"
	"github.com/elaracare/elara/server/domain/entities"
	"github.com/elaracare/elara/server/domain/repositories"
)

// ConversationRepository persists conversations and their ordered message
// logs. Message ordering is enforced with a per-conversation sequence
// counter maintained on the conversation document, so appends are totally
// ordered even under concurrent writers.
type ConversationRepository struct {
	conversations *mongo.Collection
	messages      *mongo.Collection
}

// NewConversationRepository creates a MongoDB conversation repository
func NewConversationRepository(db *mongo.Database) repositories.ConversationRepository {
	return &ConversationRepository{
		conversations: db.Collection("conversations"),
		messages:      db.Collection("messages"),
	}
}

// Create implements repositories.ConversationRepository
func (r *ConversationRepository) Create(ctx context.Context, conversation *entities.Conversation) error {
	if conversation == nil {
		return errors.New("conversation cannot be nil")
	}
	if err := conversation.Validate(); err != nil {
		return err
	}
	if conversation.ID == "" {
		conversation.ID = uuid.NewString()
	}

	doc := bson.M{
		"_id":         conversation.ID,
		"user_id":     conversation.UserID,
		"title":       conversation.Title,
		"status":      conversation.Status,
		"is_crisis":   conversation.IsCrisis,
		"mood_start":  conversation.MoodStart,
		"techniques":  conversation.Techniques,
		"started_at":  conversation.StartedAt,
		"message_seq": int64(0),
	}

	if _, err := r.conversations.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// GetByID implements repositories.ConversationRepository. The owner check is
// part of the query, so a conversation owned by someone else is
// indistinguishable from a missing one.
func (r *ConversationRepository) GetByID(ctx context.Context, id, ownerID string) (*entities.Conversation, error) {
	filter := bson.M{"_id": id, "user_id": ownerID}

	var conv entities.Conversation
	if err := r.conversations.FindOne(ctx, filter).Decode(&conv); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	return &conv, nil
}

// AppendMessage implements repositories.ConversationRepository
func (r *ConversationRepository) AppendMessage(ctx context.Context, message *entities.Message) error {
	if message == nil {
		return errors.New("message cannot be nil")
	}
	if err := message.Validate(); err != nil {
		return err
	}
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	// Claim the next sequence number atomically.
	var counter struct {
		MessageSeq int64 `bson:"message_seq"`
	}
	err := r.conversations.FindOneAndUpdate(
		ctx,
		bson.M{"_id": message.ConversationID},
		bson.M{"$inc": bson.M{"message_seq": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After).
			SetProjection(bson.M{"message_seq": 1}),
	).Decode(&counter)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("failed to claim message sequence: %w", err)
	}
	message.Seq = counter.MessageSeq

	if _, err := r.messages.InsertOne(ctx, message); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// ListRecentMessages implements repositories.ConversationRepository
func (r *ConversationRepository) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]*entities.Message, error) {
	opts := options.Find().SetSort(bson.M{"seq": -1})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.messages.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
	}

	var newestFirst []*entities.Message
	if err := cursor.All(ctx, &newestFirst); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}

	// Reverse into ascending order.
	out := make([]*entities.Message, len(newestFirst))
	for i, m := range newestFirst {
		out[len(newestFirst)-1-i] = m
	}
	return out, nil
}

// ListMessages implements repositories.ConversationRepository
func (r *ConversationRepository) ListMessages(ctx context.Context, conversationID string) ([]*entities.Message, error) {
	opts := options.Find().SetSort(bson.M{"seq": 1})
	cursor, err := r.messages.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	var out []*entities.Message
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return out, nil
}

// SetCrisisFlag implements repositories.ConversationRepository. Monotonic:
// there is no corresponding clear operation.
func (r *ConversationRepository) SetCrisisFlag(ctx context.Context, conversationID string) error {
	result, err := r.conversations.UpdateOne(
		ctx,
		bson.M{"_id": conversationID},
		bson.M{"$set": bson.M{"is_crisis": true}},
	)
	if err != nil {
		return fmt.Errorf("failed to set crisis flag: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AddTechniques implements repositories.ConversationRepository
func (r *ConversationRepository) AddTechniques(ctx context.Context, conversationID string, techniques []string) error {
	if len(techniques) == 0 {
		return nil
	}

	result, err := r.conversations.UpdateOne(
		ctx,
		bson.M{"_id": conversationID},
		bson.M{"$addToSet": bson.M{"techniques": bson.M{"$each": techniques}}},
	)
	if err != nil {
		return fmt.Errorf("failed to add techniques: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// End implements repositories.ConversationRepository
func (r *ConversationRepository) End(ctx context.Context, conversationID, endMood, summary string) error {
	update := bson.M{"$set": bson.M{
		"status":   entities.ConversationStatusCompleted,
		"mood_end": endMood,
		"summary":  summary,
		"ended_at": time.Now().UTC(),
	}}

	result, err := r.conversations.UpdateOne(ctx, bson.M{"_id": conversationID}, update)
	if err != nil {
		return fmt.Errorf("failed to end conversation: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByUser implements repositories.ConversationRepository
func (r *ConversationRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*entities.Conversation, error) {
	opts := options.Find().SetSort(bson.M{"started_at": -1})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	if offset > 0 {
		opts.SetSkip(int64(offset))
	}

	cursor, err := r.conversations.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	var out []*entities.Conversation
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	return out, nil
}
