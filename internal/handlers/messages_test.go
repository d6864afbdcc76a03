package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"presence-service/internal/middleware"
	"presence-service/internal/mocks"
	"presence-service/internal/models"
	"presence-service/internal/telemetry"
	"presence-service/internal/ws"
)

func setupMessageRouter(handler *MessageHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, "alice")
		c.Next()
	})
	r.GET("/messages/:user_id", handler.GetConversation)
	r.POST("/messages", handler.PostMessage)
	return r
}

func newMessageHandler(store *mocks.MessageStoreMock) *MessageHandler {
	hub := ws.NewHub(ws.NewRegistry(), store, nil, ws.Options{MaxMessageLength: 10})
	return NewMessageHandler(store, hub, nil)
}

func TestGetConversationSuccess(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	router := setupMessageRouter(newMessageHandler(store))

	sent := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	store.On("ListConversation", mock.Anything, "alice", "bob").Return([]models.Message{
		{ID: "m1", From: "alice", To: "bob", Content: "hello", Status: models.StatusSent, Timestamp: sent, ClientMessageID: "c1"},
		{ID: "m2", From: "bob", To: "alice", Content: "hey", Status: models.StatusSent, Timestamp: sent.Add(time.Minute)},
	}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages/bob", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "m1", resp.Messages[0].ID)
	assert.Equal(t, "c1", resp.Messages[0].ClientMessageID)
	assert.Equal(t, "m2", resp.Messages[1].ID)
	store.AssertExpectations(t)
}

func TestGetConversationEmpty(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	router := setupMessageRouter(newMessageHandler(store))

	store.On("ListConversation", mock.Anything, "alice", "bob").Return(nil, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages/bob", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"messages":[]}`, rec.Body.String())
}

func TestGetConversationRepoError(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	router := setupMessageRouter(newMessageHandler(store))

	store.On("ListConversation", mock.Anything, "alice", "bob").Return(nil, assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages/bob", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	store.AssertExpectations(t)
}

func TestPostMessageCreated(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	router := setupMessageRouter(newMessageHandler(store))

	store.On("CreateMessage", mock.Anything, models.NewMessage{From: "alice", To: "bob", Content: "hello", ClientMessageID: "abc123"}).
		Return(models.Message{ID: "m9", From: "alice", To: "bob", Content: "hello", Status: models.StatusSent, ClientMessageID: "abc123"}, nil).Once()

	body := bytes.NewBufferString(`{"to":"bob","content":"hello","clientMessageId":"abc123"}`)
	req := httptest.NewRequest(http.MethodPost, "/messages", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var msg models.Message
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msg))
	assert.Equal(t, "m9", msg.ID)
	assert.Equal(t, "abc123", msg.ClientMessageID)
	store.AssertExpectations(t)
}

func TestPostMessageInvalid(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	router := setupMessageRouter(newMessageHandler(store))

	for _, body := range []string{`{"to":"bob"}`, `{"to":"bob","content":"   "}`, `{"to":"bob","content":"far too long for this"}`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	store.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestPostMessagePersistFailure(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	router := setupMessageRouter(newMessageHandler(store))

	store.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, assert.AnError).Once()

	req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewBufferString(`{"to":"bob","content":"hello"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	store.AssertExpectations(t)
}

func TestPostMessageEmitsAudit(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	pub := new(mocks.PublisherMock)
	hub := ws.NewHub(ws.NewRegistry(), store, nil, ws.Options{})
	router := setupMessageRouter(NewMessageHandler(store, hub, telemetry.NewAuditEmitter(pub, "presence-service", "test")))

	store.On("CreateMessage", mock.Anything, mock.Anything).
		Return(models.Message{ID: "m5", From: "alice", To: "bob", Content: "hello", Status: models.StatusSent}, nil).Once()
	pub.On("PublishJSON", mock.Anything, telemetry.RoutingKeyAudit, mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.UserID == "alice" && env.Payload.Action == "message_post" && env.Payload.Outcome == "sent" && env.Payload.Detail == "m5"
	}), mock.Anything).Return(nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewBufferString(`{"to":"bob","content":"hello"}`))
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	pub.AssertExpectations(t)
}
