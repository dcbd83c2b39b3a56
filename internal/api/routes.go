package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/elaracare/elara/server/domain"
	"github.com/elaracare/elara/server/domain/entities"
	"github.com/elaracare/elara/server/domain/repositories"
	"github.com/elaracare/elara/server/internal/auth"
	"github.com/elaracare/elara/server/internal/websocket"
)

const (
	greetingMessage = "Hello! I'm here to listen and support you. How are you feeling today?"

	minPasswordLength = 8
	defaultListLimit  = 20
	maxListLimit      = 100
)

// currentUserKey is the echo context key for the authenticated user
const currentUserKey = "current_user"

// Handlers carries the dependencies of the HTTP surface
type Handlers struct {
	users         repositories.UserRepository
	conversations repositories.ConversationRepository
	authService   *auth.Service
	hub           *websocket.Hub
	logger        *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(
	e *echo.Echo,
	users repositories.UserRepository,
	conversations repositories.ConversationRepository,
	authService *auth.Service,
	hub *websocket.Hub,
	logger *zap.Logger,
) {
	h := &Handlers{
		users:         users,
		conversations: conversations,
		authService:   authService,
		hub:           hub,
		logger:        logger,
	}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "elara-server",
		})
	})

	v1 := e.Group("/api/v1")

	v1.POST("/auth/register", h.register)
	v1.POST("/auth/login", h.login)

	authed := v1.Group("", h.requireAuth)
	authed.POST("/conversations", h.startConversation)
	authed.GET("/conversations", h.listConversations)
	authed.GET("/conversations/:id", h.getConversation)
	authed.POST("/conversations/:id/end", h.endConversation)

	// WebSocket endpoint. Authentication happens before the upgrade; a bad
	// token is rejected with a plain HTTP failure.
	e.GET("/ws", h.websocketWithAuth)
}

func (h *Handlers) register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Name == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Email and name are required",
		})
	}
	if len(req.Password) < minPasswordLength {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "weak_password",
			Message: "Password must be at least 8 characters",
		})
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("Failed to hash password", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Registration failed",
		})
	}

	user := &entities.User{
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: string(hash),
		Role:         entities.UserRoleMember,
		IsActive:     true,
	}
	if err := h.users.Create(c.Request().Context(), user); err != nil {
		if errors.Is(err, domain.ErrValidationFailed) {
			return c.JSON(http.StatusConflict, ErrorResponse{
				Error:   "email_taken",
				Message: "An account with this email already exists",
			})
		}
		h.logger.Error("Failed to create user", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Registration failed",
		})
	}

	h.logger.Info("User registered",
		zap.String("userID", user.ID),
		zap.String("email", user.Email))

	return h.respondWithToken(c, http.StatusCreated, user)
}

func (h *Handlers) login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := h.users.GetByEmail(c.Request().Context(), email)
	if err != nil || !user.IsActive ||
		bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		// One uniform answer for unknown email, bad password and
		// deactivated account.
		h.logger.Warn("Login failed", zap.String("email", email))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "authentication_failed",
			Message: "Invalid email or password",
		})
	}

	return h.respondWithToken(c, http.StatusOK, user)
}

func (h *Handlers) respondWithToken(c echo.Context, status int, user *entities.User) error {
	token, expiresAt, err := h.authService.IssueToken(user)
	if err != nil {
		h.logger.Error("Failed to issue token",
			zap.String("userID", user.ID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}
	return c.JSON(status, AuthResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user,
	})
}

// requireAuth resolves the bearer token to a live user and stores it on the
// context.
func (h *Handlers) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c)
		if token == "" {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "missing_token",
				Message: "Authorization header is required",
			})
		}

		user, err := h.authService.Verify(c.Request().Context(), token)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "invalid_token",
				Message: "Invalid or expired token",
			})
		}

		c.Set(currentUserKey, user)
		return next(c)
	}
}

func currentUser(c echo.Context) *entities.User {
	user, _ := c.Get(currentUserKey).(*entities.User)
	return user
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	// Browsers cannot set headers on websocket handshakes.
	return c.QueryParam("token")
}

func (h *Handlers) startConversation(c echo.Context) error {
	user := currentUser(c)

	var req StartConversationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	ctx := c.Request().Context()
	conversation := entities.NewConversation(user.ID, req.Title, req.InitialMood)
	if err := h.conversations.Create(ctx, conversation); err != nil {
		h.logger.Error("Failed to create conversation",
			zap.String("userID", user.ID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to start conversation",
		})
	}

	// Seed the opening greeting so the room is never empty on first join.
	greeting := entities.NewSystemMessage(conversation.ID, greetingMessage)
	if err := h.conversations.AppendMessage(ctx, greeting); err != nil {
		h.logger.Error("Failed to seed greeting",
			zap.String("conversationID", conversation.ID),
			zap.Error(err))
	}

	h.logger.Info("Conversation started",
		zap.String("conversationID", conversation.ID),
		zap.String("userID", user.ID))

	return c.JSON(http.StatusCreated, conversation)
}

func (h *Handlers) listConversations(c echo.Context) error {
	user := currentUser(c)

	limit := queryInt(c, "limit", defaultListLimit)
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := queryInt(c, "offset", 0)

	conversations, err := h.conversations.ListByUser(c.Request().Context(), user.ID, limit, offset)
	if err != nil {
		h.logger.Error("Failed to list conversations",
			zap.String("userID", user.ID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to list conversations",
		})
	}
	return c.JSON(http.StatusOK, conversations)
}

func (h *Handlers) getConversation(c echo.Context) error {
	user := currentUser(c)
	id := c.Param("id")

	ctx := c.Request().Context()
	conversation, err := h.conversations.GetByID(ctx, id, user.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Conversation not found",
			})
		}
		h.logger.Error("Failed to get conversation",
			zap.String("conversationID", id),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to load conversation",
		})
	}

	messages, err := h.conversations.ListMessages(ctx, id)
	if err != nil {
		h.logger.Error("Failed to list messages",
			zap.String("conversationID", id),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to load messages",
		})
	}

	return c.JSON(http.StatusOK, ConversationWithMessages{
		Conversation: conversation,
		Messages:     messages,
	})
}

func (h *Handlers) endConversation(c echo.Context) error {
	user := currentUser(c)
	id := c.Param("id")

	var req EndConversationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	ctx := c.Request().Context()

	// Ownership gate before the status write.
	if _, err := h.conversations.GetByID(ctx, id, user.ID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Conversation not found",
			})
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to end conversation",
		})
	}

	if err := h.conversations.End(ctx, id, req.EndMood, req.Summary); err != nil {
		h.logger.Error("Failed to end conversation",
			zap.String("conversationID", id),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to end conversation",
		})
	}

	h.logger.Info("Conversation ended",
		zap.String("conversationID", id),
		zap.String("userID", user.ID))

	conversation, err := h.conversations.GetByID(ctx, id, user.ID)
	if err != nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, conversation)
}

// websocketWithAuth authenticates the handshake and hands the connection to
// the hub.
func (h *Handlers) websocketWithAuth(c echo.Context) error {
	token := bearerToken(c)
	if token == "" {
		h.logger.Warn("WebSocket connection rejected: missing token")
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "missing_token",
			Message: "Authentication token is required",
		})
	}

	user, err := h.authService.Verify(c.Request().Context(), token)
	if err != nil {
		h.logger.Warn("WebSocket connection rejected: invalid token", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_token",
			Message: "Invalid or expired token",
		})
	}

	h.logger.Info("WebSocket connection authenticated",
		zap.String("userID", user.ID))

	return websocket.HandleConnection(h.hub, c, user, h.logger)
}

func queryInt(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
