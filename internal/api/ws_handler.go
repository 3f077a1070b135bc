package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"prashikshan/internal/auth"
)

const (
	wsAuthTimeout   = 10 * time.Second
	wsPingInterval  = 30 * time.Second
	wsControlWindow = 5 * time.Second
)

var errDMStreamClosed = errors.New("dm stream closed")

// DMSource 为某个用户提供私信事件流。release 用于退订。
type DMSource interface {
	Messages(ctx context.Context, userID string) (events <-chan string, release func(), err error)
}

// RedisDMSource 通过订阅 dm:<user> 频道获取私信事件。
type RedisDMSource struct {
	Client *redis.Client
}

func (s RedisDMSource) Messages(ctx context.Context, userID string) (<-chan string, func(), error) {
	pubsub := s.Client.Subscribe(ctx, dmChannel(userID))
	// 等待订阅确认，连接失败时尽早返回。
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", dmChannel(userID), err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() { _ = pubsub.Close() }, nil
}

// WsHandler 是私信推送通道。客户端首帧发送 {"type":"auth","token":...}，
// 之后服务端转发该用户的私信事件；客户端仍可每 3 秒轮询 /api/messages。
type WsHandler struct {
	source   DMSource
	verifier *auth.TokenVerifier
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewWsHandler 构造 WsHandler；source 为 nil 时连接在鉴权后立即关闭。
func NewWsHandler(source DMSource, verifier *auth.TokenVerifier, logger *slog.Logger, allowedOrigins []string) *WsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WsHandler{
		source:   source,
		verifier: verifier,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return originAllowed(r, allowedOrigins) },
		},
	}
}

// originAllowed 未配置白名单时只允许同源。
func originAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(allowed) == 0 {
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
	for _, candidate := range allowed {
		if candidate == "*" || strings.EqualFold(candidate, origin) {
			return true
		}
	}
	return false
}

// wsFrame 是客户端发来的帧。
type wsFrame struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

// wsCloseError 携带要回给客户端的关闭码。
type wsCloseError struct {
	code   int
	reason string
	err    error
}

func (e *wsCloseError) Error() string {
	if e.err != nil {
		return e.reason + ": " + e.err.Error()
	}
	return e.reason
}

func (e *wsCloseError) Unwrap() error { return e.err }

func policyViolation(reason string, err error) error {
	return &wsCloseError{code: websocket.ClosePolicyViolation, reason: reason, err: err}
}

// HandleConnection 升级连接，完成首帧鉴权后开始推送。
func (h *WsHandler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("upgrade websocket failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	log := h.logger.With(slog.String("client_ip", c.ClientIP()))

	userID, err := h.authenticate(conn)
	if err != nil {
		closeWith(conn, err)
		log.Warn("websocket authentication failed", slog.Any("error", err))
		return
	}
	log = log.With(slog.String("user_id", userID))

	if h.source == nil {
		closeWith(conn, &wsCloseError{code: websocket.CloseTryAgainLater, reason: "push unavailable"})
		return
	}

	err = h.serve(c.Request.Context(), conn, userID, log)
	closeWith(conn, err)
	if err != nil && !clientClosed(err) {
		log.Info("websocket connection closed", slog.Any("error", err))
		return
	}
	log.Debug("websocket connection closed")
}

func clientClosed(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce) && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway)
}

// authenticate 读取首帧并校验令牌，超时未收到首帧视为失败。
func (h *WsHandler) authenticate(conn *websocket.Conn) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(wsAuthTimeout))
	defer conn.SetReadDeadline(time.Time{})

	var frame wsFrame
	if err := conn.ReadJSON(&frame); err != nil {
		return "", policyViolation("invalid auth payload", err)
	}
	if frame.Type != "auth" || frame.Token == "" {
		return "", policyViolation("auth required", nil)
	}
	if h.verifier == nil {
		return "", policyViolation("unauthorized", errors.New("token verifier not configured"))
	}
	claims, err := h.verifier.ValidateToken(frame.Token)
	if err != nil {
		return "", policyViolation("unauthorized", err)
	}
	if err := conn.WriteJSON(gin.H{"type": "ready"}); err != nil {
		return "", fmt.Errorf("write ready: %w", err)
	}
	return claims.UserID(), nil
}

// serve 并发运行读循环与推送循环，任一方结束即整体结束。
// gorilla/websocket 只允许一个并发写者，所有写操作都在推送循环里完成。
func (h *WsHandler) serve(ctx context.Context, conn *websocket.Conn, userID string, log *slog.Logger) error {
	events, release, err := h.source.Messages(ctx, userID)
	if err != nil {
		return &wsCloseError{code: websocket.CloseInternalServerErr, reason: "subscribe failed", err: err}
	}
	defer release()

	g, gctx := errgroup.WithContext(ctx)
	pongs := make(chan struct{}, 1)

	g.Go(func() error {
		for {
			var frame wsFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return fmt.Errorf("read frame: %w", err)
			}
			if frame.Type == "ping" {
				select {
				case pongs <- struct{}{}:
				default:
				}
			}
		}
	})

	g.Go(func() error {
		// 读循环阻塞在 ReadJSON 上，推送循环退出时用读超时唤醒它。
		defer conn.SetReadDeadline(time.Now())
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case payload, ok := <-events:
				if !ok {
					return errDMStreamClosed
				}
				log.Debug("forwarding dm event")
				if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
					return fmt.Errorf("write event: %w", err)
				}
			case <-pongs:
				if err := conn.WriteJSON(gin.H{"type": "pong"}); err != nil {
					return fmt.Errorf("write pong: %w", err)
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsControlWindow)); err != nil {
					return fmt.Errorf("write ping: %w", err)
				}
			}
		}
	})

	return g.Wait()
}

func closeWith(conn *websocket.Conn, err error) {
	code, reason := websocket.CloseNormalClosure, ""
	var closeErr *wsCloseError
	if errors.As(err, &closeErr) {
		code, reason = closeErr.code, closeErr.reason
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsControlWindow))
}

// dmChannel 是接收者私信推送的 Redis 频道。
func dmChannel(userID string) string {
	return "dm:" + userID
}
