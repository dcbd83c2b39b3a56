package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/elaracare/elara/server/adapters/memory"
	"github.com/elaracare/elara/server/domain/entities"
	"github.com/elaracare/elara/server/internal/auth"
	"github.com/elaracare/elara/server/internal/websocket"
)

type testServer struct {
	echo          *echo.Echo
	users         *memory.UserStore
	conversations *memory.ConversationStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()

	users := memory.NewUserStore()
	conversations := memory.NewConversationStore()
	authService := auth.NewService([]byte("test-secret"), time.Hour, users, logger)
	hub := websocket.NewHub(conversations, nil, logger)

	e := echo.New()
	InitRoutes(e, users, conversations, authService, hub, logger)

	return &testServer{echo: e, users: users, conversations: conversations}
}

func (s *testServer) request(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("")
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) registerUser(t *testing.T, email string) AuthResponse {
	t.Helper()
	rec := s.request(t, http.MethodPost, "/api/v1/auth/register", "", RegisterRequest{
		Email:    email,
		Name:     "Test User",
		Password: "long enough password",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := s.request(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterIssuesToken(t *testing.T) {
	s := newTestServer(t)

	resp := s.registerUser(t, "mira@example.com")
	assert.NotEmpty(t, resp.Token)
	assert.True(t, resp.ExpiresAt.After(time.Now()))
	require.NotNil(t, resp.User)
	assert.Equal(t, "mira@example.com", resp.User.Email)
	assert.Equal(t, entities.UserRoleMember, resp.User.Role)
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	s := newTestServer(t)
	rec := s.request(t, http.MethodPost, "/api/v1/auth/register", "", RegisterRequest{
		Email:    "mira@example.com",
		Name:     "Mira",
		Password: "short",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	s := newTestServer(t)
	s.registerUser(t, "mira@example.com")

	rec := s.request(t, http.MethodPost, "/api/v1/auth/register", "", RegisterRequest{
		Email:    "mira@example.com",
		Name:     "Mira Again",
		Password: "long enough password",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegisterNormalizesEmail(t *testing.T) {
	s := newTestServer(t)
	s.registerUser(t, " Mira@Example.com ")

	rec := s.request(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{
		Email:    "mira@example.com",
		Password: "long enough password",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginFailuresAreUniform(t *testing.T) {
	s := newTestServer(t)
	s.registerUser(t, "mira@example.com")

	cases := []LoginRequest{
		{Email: "unknown@example.com", Password: "long enough password"},
		{Email: "mira@example.com", Password: "wrong password here"},
	}
	for _, req := range cases {
		rec := s.request(t, http.MethodPost, "/api/v1/auth/login", "", req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "authentication_failed", resp.Error)
	}
}

func TestLoginRejectsDeactivatedAccount(t *testing.T) {
	s := newTestServer(t)
	resp := s.registerUser(t, "mira@example.com")

	user, err := s.users.GetByID(context.Background(), resp.User.ID)
	require.NoError(t, err)
	user.IsActive = false
	require.NoError(t, s.users.Update(context.Background(), user))

	rec := s.request(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{
		Email:    "mira@example.com",
		Password: "long enough password",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestConversationsRequireAuth(t *testing.T) {
	s := newTestServer(t)

	rec := s.request(t, http.MethodGet, "/api/v1/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.request(t, http.MethodGet, "/api/v1/conversations", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStartConversationSeedsGreeting(t *testing.T) {
	s := newTestServer(t)
	authResp := s.registerUser(t, "mira@example.com")

	rec := s.request(t, http.MethodPost, "/api/v1/conversations", authResp.Token, StartConversationRequest{
		Title:       "Evening check-in",
		InitialMood: "anxious",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var conv entities.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	assert.Equal(t, "Evening check-in", conv.Title)
	assert.Equal(t, "anxious", conv.MoodStart)
	assert.Equal(t, entities.ConversationStatusActive, conv.Status)

	msgs, err := s.conversations.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, entities.MessageRoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "How are you feeling today?")
}

func TestGetConversationReturnsMessages(t *testing.T) {
	s := newTestServer(t)
	authResp := s.registerUser(t, "mira@example.com")

	rec := s.request(t, http.MethodPost, "/api/v1/conversations", authResp.Token, StartConversationRequest{})
	require.Equal(t, http.StatusCreated, rec.Code)
	var conv entities.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))

	rec = s.request(t, http.MethodGet, "/api/v1/conversations/"+conv.ID, authResp.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload ConversationWithMessages
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, conv.ID, payload.Conversation.ID)
	assert.Len(t, payload.Messages, 1)
}

func TestGetConversationHidesOtherUsers(t *testing.T) {
	s := newTestServer(t)
	owner := s.registerUser(t, "owner@example.com")
	stranger := s.registerUser(t, "stranger@example.com")

	rec := s.request(t, http.MethodPost, "/api/v1/conversations", owner.Token, StartConversationRequest{})
	require.Equal(t, http.StatusCreated, rec.Code)
	var conv entities.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))

	rec = s.request(t, http.MethodGet, "/api/v1/conversations/"+conv.ID, stranger.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListConversations(t *testing.T) {
	s := newTestServer(t)
	authResp := s.registerUser(t, "mira@example.com")

	for i := 0; i < 3; i++ {
		rec := s.request(t, http.MethodPost, "/api/v1/conversations", authResp.Token, StartConversationRequest{})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := s.request(t, http.MethodGet, "/api/v1/conversations?limit=2", authResp.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var conversations []*entities.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conversations))
	assert.Len(t, conversations, 2)
}

func TestEndConversation(t *testing.T) {
	s := newTestServer(t)
	authResp := s.registerUser(t, "mira@example.com")

	rec := s.request(t, http.MethodPost, "/api/v1/conversations", authResp.Token, StartConversationRequest{})
	require.Equal(t, http.StatusCreated, rec.Code)
	var conv entities.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))

	rec = s.request(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/end", authResp.Token, EndConversationRequest{
		EndMood: "calm",
		Summary: "worked through the evening spiral",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var ended entities.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ended))
	assert.Equal(t, entities.ConversationStatusCompleted, ended.Status)
	assert.Equal(t, "calm", ended.MoodEnd)
	assert.NotNil(t, ended.EndedAt)
}

func TestEndConversationHidesOtherUsers(t *testing.T) {
	s := newTestServer(t)
	owner := s.registerUser(t, "owner@example.com")
	stranger := s.registerUser(t, "stranger@example.com")

	rec := s.request(t, http.MethodPost, "/api/v1/conversations", owner.Token, StartConversationRequest{})
	require.Equal(t, http.StatusCreated, rec.Code)
	var conv entities.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))

	rec = s.request(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/end", stranger.Token, EndConversationRequest{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	s := newTestServer(t)
	rec := s.request(t, http.MethodGet, "/ws", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	s := newTestServer(t)
	rec := s.request(t, http.MethodGet, "/ws?token=garbage", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
