package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/xaenox/memo-assistant/internal/chat"
	"github.com/xaenox/memo-assistant/internal/memory"
	"github.com/xaenox/memo-assistant/internal/metrics"
	"github.com/xaenox/memo-assistant/internal/models"
	"go.uber.org/zap"
)

type Handler struct {
	session  *chat.Session
	deriver  *metrics.Deriver
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

type HandlerOption func(*Handler)

// WithAllowedOrigins lets browsers on the given origins open the metrics
// websocket. "*" allows any origin. Without it only same-origin pages
// (and non-browser clients, which send no Origin) may connect.
func WithAllowedOrigins(origins ...string) HandlerOption {
	return func(h *Handler) {
		if len(origins) == 0 {
			return
		}
		allowed := make(map[string]struct{}, len(origins))
		for _, o := range origins {
			allowed[strings.TrimSuffix(o, "/")] = struct{}{}
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if _, ok := allowed["*"]; ok {
				return true
			}
			_, ok := allowed[origin]
			return ok
		}
	}
}

func NewHandler(session *chat.Session, deriver *metrics.Deriver, logger *zap.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		session: session,
		deriver: deriver,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(h.logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/chat", h.HandleChat)
	r.POST("/chat/feedback", h.HandleFeedback)
	r.GET("/chat/conversations", h.GetConversations)
	r.GET("/chat/transcript", h.GetTranscript)

	r.GET("/knowledge", h.GetKnowledge)
	r.GET("/metrics", h.GetMetrics)
	r.GET("/metrics/ws", h.StreamMetrics)

	return r
}

type chatRequest struct {
	Message string `json:"message" binding:"required"`
}

type chatResponse struct {
	Reply     string `json:"reply"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Failed    bool   `json:"failed"`
	Warning   string `json:"warning,omitempty"`
}

func (h *Handler) HandleChat(c *gin.Context) {
	var request chatRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	// the turn outlives a client that hangs up mid-reply
	turn, err := h.session.Send(context.WithoutCancel(c.Request.Context()), request.Message)
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, chat.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("Chat turn failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "chat turn failed"})
		return
	}

	resp := chatResponse{
		Reply:     turn.Reply,
		ID:        turn.Entry.ID,
		Timestamp: turn.Entry.Timestamp.Format(time.RFC3339),
		Failed:    turn.Failed,
	}
	if turn.Warning != nil {
		resp.Warning = turn.Warning.Error()
	}
	c.JSON(http.StatusOK, resp)
}

type feedbackRequest struct {
	ConversationID string          `json:"conversation_id" binding:"required"`
	Feedback       models.Feedback `json:"feedback" binding:"required"`
}

func (h *Handler) HandleFeedback(c *gin.Context) {
	var request feedbackRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.session.Feedback(context.WithoutCancel(c.Request.Context()), request.ConversationID, request.Feedback)
	switch {
	case errors.Is(err, memory.ErrInvalidFeedback):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, memory.ErrPersistence):
		c.JSON(http.StatusOK, gin.H{"message": "feedback recorded", "warning": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record feedback"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "feedback recorded"})
}

func (h *Handler) GetConversations(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Memory().Conversations())
}

func (h *Handler) GetTranscript(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Transcript())
}

func (h *Handler) GetKnowledge(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Memory().Knowledge())
}

func (h *Handler) GetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.deriver.Refresh(c.Request.Context()))
}
