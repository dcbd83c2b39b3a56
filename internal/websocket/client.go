package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/elaracare/elara/server/domain"
	"github.com/elaracare/elara/server/domain/entities"
	"github.com/elaracare/elara/server/internal/pipeline"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict to configured origins before exposing publicly
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Client is one live transport channel. The owning identity is set exactly
// once at handshake and never reassigned; the client never outlives its
// websocket connection.
type Client struct {
	id     string
	userID string

	// room is the single conversation this connection is subscribed to.
	// Mutated only by the hub, under the hub's lock.
	room string

	hub  *Hub
	conn *websocket.Conn

	// send is the buffered channel of outbound frames.
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}

	logger *zap.Logger
}

// HandleConnection upgrades the pre-authenticated request and runs the
// client pumps. Authentication happens before the upgrade so rejected
// connections are closed with an HTTP failure, never left half-open.
func HandleConnection(hub *Hub, c echo.Context, user *entities.User, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		id:     uuid.NewString(),
		userID: user.ID,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		logger: logger,
	}

	client.hub.Register(client)

	go client.writePump()
	go client.readPump()

	return nil
}

// close marks the connection dead. Safe to call more than once.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// enqueue offers an outbound frame without ever blocking or panicking on a
// closed connection. Returns false when the frame was dropped.
func (c *Client) enqueue(event []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- event:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// readPump pumps frames from the websocket connection into the router
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			return
		}
		c.processEvent(raw)
	}
}

// writePump pumps frames from the send channel to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, event); err != nil {
				c.logger.Error("Failed to write event", zap.Error(err))
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processEvent routes one inbound frame
func (c *Client) processEvent(raw []byte) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		c.logger.Warn("Failed to parse event",
			zap.String("connectionID", c.id),
			zap.Error(err))
		c.sendError(domain.ErrValidationFailed)
		return
	}

	switch envelope.Type {
	case EventJoinConversation:
		c.handleJoin(envelope.Payload)
	case EventLeaveConversation:
		c.handleLeave()
	case EventSendMessage:
		c.handleSendMessage(envelope.Payload)
	case EventTyping:
		c.handleTyping(envelope.Payload)
	default:
		c.logger.Warn("Unknown event type",
			zap.String("connectionID", c.id),
			zap.String("type", envelope.Type))
		c.sendError(domain.ErrValidationFailed)
	}
}

func (c *Client) handleJoin(payload json.RawMessage) {
	var req JoinConversationPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.ConversationID == "" {
		c.sendError(domain.ErrValidationFailed)
		return
	}

	if err := c.hub.JoinRoom(context.Background(), c, req.ConversationID); err != nil {
		c.sendError(err)
		return
	}

	c.enqueue(marshalEvent(EventJoinedConversation, JoinedConversationPayload{
		ConversationID: req.ConversationID,
	}))
}

func (c *Client) handleLeave() {
	c.hub.LeaveRoom(c)
	c.enqueue(marshalEvent(EventLeftConversation, nil))
}

func (c *Client) handleSendMessage(payload json.RawMessage) {
	var req SendMessagePayload
	if err := json.Unmarshal(payload, &req); err != nil || req.ConversationID == "" {
		c.sendError(domain.ErrValidationFailed)
		return
	}

	// Admission control: the per-identity message limiter runs before the
	// message enters the pipeline. Denial carries a retry-after hint and
	// never partially admits.
	if err := c.hub.messageLimiter.Allow(c.userID); err != nil {
		c.sendError(err)
		return
	}

	c.hub.pipeline.Submit(pipeline.Request{
		ConnectionID:   c.id,
		UserID:         c.userID,
		ConversationID: req.ConversationID,
		Content:        req.Content,
		ContentType:    req.ContentType,
		AudioURL:       req.AudioURL,
	})
}

func (c *Client) handleTyping(payload json.RawMessage) {
	var req TypingPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError(domain.ErrValidationFailed)
		return
	}

	if !c.hub.InRoom(c.id, req.ConversationID) {
		return
	}

	event := marshalEvent(EventUserTyping, UserTypingPayload{
		UserID:   c.userID,
		IsTyping: req.IsTyping,
	})
	for _, connID := range c.hub.Room(req.ConversationID) {
		if connID == c.id {
			continue
		}
		c.hub.SendToConnection(connID, event)
	}
}

func (c *Client) sendError(err error) {
	c.enqueue(marshalEvent(EventError, errorPayloadFor(err)))
}
