package websocket

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/elaracare/elara/server/domain"
	"github.com/elaracare/elara/server/domain/entities"
	"github.com/elaracare/elara/server/domain/repositories"
	"github.com/elaracare/elara/server/internal/pipeline"
	"github.com/elaracare/elara/server/internal/ratelimit"
)

const joinLookupTimeout = 5 * time.Second

// Hub is the session registry and router. It owns the identity -> connections
// map and each connection's single room pointer; no other component mutates
// room membership. Register, join, leave and unregister are atomic with
// respect to each other for the same connection.
type Hub struct {
	mu sync.RWMutex

	// conns maps connection id to client.
	conns map[string]*Client

	// identities maps user id to that user's open connections, supporting
	// multiple simultaneous devices.
	identities map[string]map[string]*Client

	store          repositories.ConversationRepository
	pipeline       *pipeline.Pipeline
	messageLimiter *ratelimit.Limiter
	logger         *zap.Logger
}

// NewHub creates a session registry backed by the conversation store for
// join authorization. The pipeline is attached afterwards since it needs the
// hub as its notifier.
func NewHub(store repositories.ConversationRepository, messageLimiter *ratelimit.Limiter, logger *zap.Logger) *Hub {
	return &Hub{
		conns:          make(map[string]*Client),
		identities:     make(map[string]map[string]*Client),
		store:          store,
		messageLimiter: messageLimiter,
		logger:         logger,
	}
}

// AttachPipeline wires the message pipeline. Must be called before the first
// connection is served.
func (h *Hub) AttachPipeline(p *pipeline.Pipeline) {
	h.pipeline = p
}

// Register adds an authenticated connection to the registry. Idempotent per
// connection id.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.conns[client.id]; exists {
		return
	}
	h.conns[client.id] = client
	if _, ok := h.identities[client.userID]; !ok {
		h.identities[client.userID] = make(map[string]*Client)
	}
	h.identities[client.userID][client.id] = client

	h.logger.Info("Connection registered",
		zap.String("connectionID", client.id),
		zap.String("userID", client.userID))
}

// Unregister removes the connection and clears its room membership. When it
// was the identity's last open connection the identity goes offline.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.conns[client.id]; !exists {
		return
	}
	delete(h.conns, client.id)
	client.room = ""

	if conns, ok := h.identities[client.userID]; ok {
		delete(conns, client.id)
		if len(conns) == 0 {
			delete(h.identities, client.userID)
			h.logger.Info("User offline", zap.String("userID", client.userID))
		}
	}

	h.logger.Info("Connection unregistered",
		zap.String("connectionID", client.id),
		zap.String("userID", client.userID))
}

// JoinRoom subscribes the connection to a conversation room after
// re-validating ownership against the store. In-memory membership is only a
// cache; the store stays the authority on every join. On success any prior
// room membership for the connection is replaced.
func (h *Hub) JoinRoom(ctx context.Context, client *Client, conversationID string) error {
	lookupCtx, cancel := context.WithTimeout(ctx, joinLookupTimeout)
	defer cancel()

	if _, err := h.store.GetByID(lookupCtx, conversationID, client.userID); err != nil {
		h.logger.Warn("Join denied",
			zap.String("connectionID", client.id),
			zap.String("conversationID", conversationID),
			zap.Error(err))
		return domain.ErrNotFound
	}

	h.mu.Lock()
	client.room = conversationID
	h.mu.Unlock()

	h.logger.Info("User joined conversation",
		zap.String("userID", client.userID),
		zap.String("conversationID", conversationID))
	return nil
}

// LeaveRoom clears the connection's room membership; no-op when not joined
func (h *Hub) LeaveRoom(client *Client) {
	h.mu.Lock()
	left := client.room
	client.room = ""
	h.mu.Unlock()

	if left != "" {
		h.logger.Info("User left conversation",
			zap.String("userID", client.userID),
			zap.String("conversationID", left))
	}
}

// InRoom implements pipeline.Notifier
func (h *Hub) InRoom(connectionID, conversationID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.conns[connectionID]
	return ok && client.room == conversationID
}

// Room returns the connection ids currently joined to the conversation
func (h *Hub) Room(conversationID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := make([]string, 0)
	for id, client := range h.conns {
		if client.room == conversationID {
			members = append(members, id)
		}
	}
	return members
}

// BroadcastToRoom delivers the event to every connection joined to the room.
// Each connection receives room events in broadcast order; closed or
// slow connections are skipped, never blocked on.
func (h *Hub) BroadcastToRoom(conversationID string, event []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0)
	for _, client := range h.conns {
		if client.room == conversationID {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if !client.enqueue(event) {
			h.logger.Debug("Dropped event for unreachable connection",
				zap.String("connectionID", client.id),
				zap.String("conversationID", conversationID))
		}
	}
}

// SendToIdentity delivers the event to every open connection of the user,
// regardless of room.
func (h *Hub) SendToIdentity(userID string, event []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0)
	for _, client := range h.identities[userID] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		client.enqueue(event)
	}
}

// SendToConnection delivers the event to one connection. Returns false when
// the connection is gone.
func (h *Hub) SendToConnection(connectionID string, event []byte) bool {
	h.mu.RLock()
	client, ok := h.conns[connectionID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return client.enqueue(event)
}

// BroadcastMessage implements pipeline.Notifier
func (h *Hub) BroadcastMessage(conversationID string, message *entities.Message) {
	h.BroadcastToRoom(conversationID, marshalEvent(EventNewMessage, message))
}

// BroadcastAssistantTyping implements pipeline.Notifier
func (h *Hub) BroadcastAssistantTyping(conversationID string, isTyping bool) {
	h.BroadcastToRoom(conversationID, marshalEvent(EventAITyping, AITypingPayload{IsTyping: isTyping}))
}

// SendError implements pipeline.Notifier. Only the originating connection
// sees a failed message; the rest of the room receives nothing.
func (h *Hub) SendError(connectionID string, err error) {
	h.SendToConnection(connectionID, marshalEvent(EventError, errorPayloadFor(err)))
}

// IsUserOnline reports whether the identity has at least one open connection
func (h *Hub) IsUserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.identities[userID]) > 0
}

// OnlineUsers returns the ids of identities with open connections
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make([]string, 0, len(h.identities))
	for id := range h.identities {
		users = append(users, id)
	}
	return users
}
