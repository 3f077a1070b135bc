package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"prashikshan/internal/database"
)

const maxMessageLength = 2000

// MessagePublisher 推送私信事件，*redis.Client 满足该接口。
type MessagePublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// MessageHandler 负责私信。客户端每 3 秒轮询会话，也可以通过 /api/ws 接收推送。
type MessageHandler struct {
	db        *gorm.DB
	publisher MessagePublisher
	logger    *slog.Logger
}

// NewMessageHandler 构造 MessageHandler，publisher 可以为 nil。
func NewMessageHandler(db *gorm.DB, publisher MessagePublisher, logger *slog.Logger) *MessageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageHandler{db: db, publisher: publisher, logger: logger}
}

// dmEvent 是推送到 dm:<receiver> 频道的消息体。
type dmEvent struct {
	Type    string           `json:"type"`
	Message database.Message `json:"message"`
}

// Conversation 返回调用者与另一位用户的完整会话，按服务端时间正序。
func (h *MessageHandler) Conversation(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	user1 := strings.TrimSpace(c.Query("user1"))
	user2 := strings.TrimSpace(c.Query("user2"))
	if user1 == "" || user2 == "" {
		BadRequest(c, "user1 and user2 are required")
		return
	}
	var other string
	switch userID {
	case user1:
		other = user2
	case user2:
		other = user1
	default:
		Forbidden(c, "access denied")
		return
	}

	ctx := c.Request.Context()
	var messages []database.Message
	if err := h.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", userID, other, other, userID).
		Order("created_at ASC").
		Find(&messages).Error; err != nil {
		h.logger.Error("load conversation", slog.Any("error", err))
		Internal(c, "failed to load messages")
		return
	}

	now := time.Now().UTC()
	if err := h.db.WithContext(ctx).Model(&database.Message{}).
		Where("sender_id = ? AND receiver_id = ? AND read_at IS NULL", other, userID).
		UpdateColumn("read_at", now).Error; err != nil {
		h.logger.Warn("mark messages read", slog.Any("error", err))
	}

	Success(c, http.StatusOK, messages)
}

type sendMessageRequest struct {
	ReceiverID string `json:"receiver_id" binding:"required"`
	Content    string `json:"content"`
}

// Send 保存私信并推送给接收者。
func (h *MessageHandler) Send(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "receiver_id is required")
		return
	}
	if req.ReceiverID == userID {
		BadRequest(c, "Cannot message yourself")
		return
	}
	content := sanitizeText(req.Content)
	if content == "" {
		BadRequest(c, "content is required")
		return
	}
	if len(content) > maxMessageLength {
		BadRequest(c, "content is too long")
		return
	}

	ctx := c.Request.Context()
	var exists int64
	if err := h.db.WithContext(ctx).Model(&database.Profile{}).Where("id = ?", req.ReceiverID).Count(&exists).Error; err != nil {
		Internal(c, "failed to load receiver")
		return
	}
	if exists == 0 {
		NotFound(c, "Receiver not found")
		return
	}

	msg := database.Message{SenderID: userID, ReceiverID: req.ReceiverID, Content: content}
	if err := h.db.WithContext(ctx).Create(&msg).Error; err != nil {
		h.logger.Error("create message", slog.Any("error", err))
		Internal(c, "failed to send message")
		return
	}

	h.push(ctx, msg)
	Success(c, http.StatusCreated, msg)
}

// push 失败只记日志，接收者仍可通过轮询拿到消息。
func (h *MessageHandler) push(ctx context.Context, msg database.Message) {
	if h.publisher == nil {
		return
	}
	payload, err := json.Marshal(dmEvent{Type: "message", Message: msg})
	if err != nil {
		h.logger.Error("marshal dm event", slog.Any("error", err))
		return
	}
	if err := h.publisher.Publish(ctx, dmChannel(msg.ReceiverID), payload).Err(); err != nil {
		h.logger.Warn("publish dm event", slog.String("receiver_id", msg.ReceiverID), slog.Any("error", err))
	}
}
