package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/comunidad-segura/realtime-api/internal/auth"
	"github.com/comunidad-segura/realtime-api/internal/hub"
	"github.com/comunidad-segura/realtime-api/internal/metrics"
)

const (
	writeWait            = 10 * time.Second // 1フレームの書き込み期限
	defaultMaxFrameBytes = 64 << 10         // 受信フレームの上限
	defaultSendBuffer    = 256
)

// Authenticator はハンドシェイク前にリクエストのユーザーIDを解決します
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// FrameHandler は受信フレームと切断を処理します
type FrameHandler interface {
	Handle(ctx context.Context, conn hub.Conn, data []byte)
	Disconnect(conn hub.Conn)
}

// WebSocketOptions はWebSocketHandlerの設定です
type WebSocketOptions struct {
	AllowedOrigins []string // 空、または "*" を含む場合は全て許可
	SendBuffer     int      // 接続ごとの送信キュー長
	MaxFrameBytes  int64
}

// WebSocketHandler はWebSocket接続を処理するハンドラー
// 本人確認はアップグレード前に行い、失敗した接続はレジストリに入りません
type WebSocketHandler struct {
	auth       Authenticator
	reg        *hub.Registry
	frames     FrameHandler
	logger     *slog.Logger
	metrics    *metrics.Metrics
	upgrader   websocket.Upgrader
	sendBuffer int
	maxFrame   int64
}

// NewWebSocketHandler は新しいWebSocketHandlerを作成します
func NewWebSocketHandler(a Authenticator, reg *hub.Registry, frames FrameHandler, logger *slog.Logger, m *metrics.Metrics, opts WebSocketOptions) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &WebSocketHandler{
		auth:       a,
		reg:        reg,
		frames:     frames,
		logger:     logger,
		metrics:    m,
		sendBuffer: opts.SendBuffer,
		maxFrame:   opts.MaxFrameBytes,
	}
	if h.sendBuffer <= 0 {
		h.sendBuffer = defaultSendBuffer
	}
	if h.maxFrame <= 0 {
		h.maxFrame = defaultMaxFrameBytes
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

// HandleWebSocket はWebSocket接続を処理します
// 1. 資格情報からユーザーIDを解決（失敗時は401）
// 2. WebSocketへアップグレードし、未参加状態で登録
// 3. 受信ループで各フレームを順に処理
// 4. 切断時にレジストリから削除し、参加中のグループへ退出を通知
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userId, err := h.auth.Authenticate(r)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			respondError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		h.logger.Error("identity lookup failed", "remote", r.RemoteAddr, "error", err)
		respondError(w, http.StatusServiceUnavailable, "identity service unavailable")
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade が既にエラーレスポンスを書いている
		h.logger.Warn("websocket upgrade failed", "userId", userId, "error", err)
		return
	}

	client := newWSClient(uuid.NewString(), ws, h.sendBuffer, h.logger)
	if err := h.reg.Register(client, userId); err != nil {
		h.logger.Error("failed to register connection", "connId", client.ID(), "userId", userId, "error", err)
		_ = client.Close()
		return
	}
	h.metrics.ConnectionOpened()
	h.logger.Info("websocket connected", "connId", client.ID(), "userId", userId)

	defer func() {
		h.frames.Disconnect(client)
		_ = client.Close()
		h.metrics.ConnectionClosed()
		h.logger.Info("websocket disconnected", "connId", client.ID(), "userId", userId)
	}()

	go client.writePump()
	client.readPump(r.Context(), h.maxFrame, h.reg, h.frames)
}

// originChecker は許可リストに基づくOriginチェックを返します
// Originヘッダーのないリクエスト（ブラウザ以外）は許可します
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[u.Scheme+"://"+u.Host]
		return ok
	}
}

// wsClient は1本のWebSocket接続です
// 書き込みはwritePumpのみが行い、Sendはキューに積むだけでブロックしません
type wsClient struct {
	id        string
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

func newWSClient(id string, ws *websocket.Conn, buffer int, logger *slog.Logger) *wsClient {
	return &wsClient{
		id:     id,
		ws:     ws,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (c *wsClient) ID() string { return c.id }

// Send は送信キューに積みます。キューが満杯の受信者はそのフレームを取りこぼします
func (c *wsClient) Send(data []byte) error {
	select {
	case <-c.done:
		return hub.ErrConnClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return hub.ErrSendBufferFull
	}
}

// Ping は死活確認のpingを送ります
// WriteControl はwritePumpの書き込みと並行して呼び出せます
func (c *wsClient) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close は何度呼んでも安全です。読み込みループとwritePumpの両方が終了します
func (c *wsClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

func (c *wsClient) readPump(ctx context.Context, limit int64, reg *hub.Registry, frames FrameHandler) {
	c.ws.SetReadLimit(limit)
	c.ws.SetPongHandler(func(string) error {
		reg.Touch(c)
		return nil
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Debug("websocket read error", "connId", c.id, "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			reg.Touch(c)
			continue
		}
		frames.Handle(ctx, c, data)
	}
}

func (c *wsClient) writePump() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("websocket write failed", "connId", c.id, "error", err)
				_ = c.Close()
				return
			}
		}
	}
}
