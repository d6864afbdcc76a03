package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"presence-service/internal/auth"
	"presence-service/internal/middleware"
	"presence-service/internal/observability"
)

// ChatWebSocketHandler accepts the per-user realtime channel.
type ChatWebSocketHandler struct {
	hub       *Hub
	validator *auth.Validator
	upgrader  websocket.Upgrader
}

// NewChatWebSocketHandler constructs a ChatWebSocketHandler. Browser origins
// outside allowedOrigins are refused; an empty list allows all.
func NewChatWebSocketHandler(hub *Hub, validator *auth.Validator, allowedOrigins []string) *ChatWebSocketHandler {
	return &ChatWebSocketHandler{
		hub:       hub,
		validator: validator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(allowedOrigins, r.Header.Get("Origin"))
			},
		},
	}
}

// Handle upgrades GET /ws?userId=<id> and registers the client.
func (h *ChatWebSocketHandler) Handle(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing userId"})
		return
	}

	ctx, span := tracer.Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))
	c.Request = c.Request.WithContext(ctx)

	if h.validator.Enabled() {
		tokenUser, err := h.validator.ValidateToken(middleware.TokenFromRequest(c))
		if err != nil || tokenUser != userID {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		observability.IncWSEvent("ws_upgrade_error")
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	client := newClient(h.hub, conn, info, h.hub.opts.SendBuffer)
	h.hub.Connect(client)

	go client.writePump()
	go client.readPump(context.Background())
}
