package fanout

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"hemis-telemetry/internal/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 8192
	sendBuffer     = 64
)

type wsClient struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *wsClient) ID() string { return c.id }

// Send queues a frame for the writer goroutine without blocking.
func (c *wsClient) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrSubscriberClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrSubscriberClosed
	default:
		return ErrSlowSubscriber
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// writePump is the only writer on the connection, so frames leave in queue order.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// WSHandler serves the websocket subscriber endpoint.
type WSHandler struct {
	hub         *Hub
	access      auth.AccessChecker
	secret      []byte
	messageRate rate.Limit
	burst       int
	upgrader    websocket.Upgrader
	now         func() time.Time
	logger      *zap.Logger
}

// WSOption configures the websocket handler.
type WSOption func(*WSHandler)

// WithAccessChecker consults checker before honoring room joins.
func WithAccessChecker(checker auth.AccessChecker) WSOption {
	return func(h *WSHandler) {
		h.access = checker
	}
}

// WithJWTSecret requires a valid token on authenticate.
func WithJWTSecret(secret []byte) WSOption {
	return func(h *WSHandler) {
		h.secret = secret
	}
}

// WithMessageRate limits inbound frames per connection.
func WithMessageRate(perSecond float64) WSOption {
	return func(h *WSHandler) {
		if perSecond > 0 {
			h.messageRate = rate.Limit(perSecond)
			h.burst = int(perSecond)
			if h.burst < 1 {
				h.burst = 1
			}
		}
	}
}

// WithCheckOrigin overrides the upgrader origin check.
func WithCheckOrigin(check func(r *http.Request) bool) WSOption {
	return func(h *WSHandler) {
		if check != nil {
			h.upgrader.CheckOrigin = check
		}
	}
}

// NewWSHandler constructs a websocket handler bound to hub.
func NewWSHandler(hub *Hub, logger *zap.Logger, opts ...WSOption) (*WSHandler, error) {
	if hub == nil {
		return nil, errors.New("fanout ws: nil hub")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &WSHandler{
		hub:         hub,
		messageRate: rate.Limit(20),
		burst:       20,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.Named("fanout.ws"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// ServeHTTP upgrades the connection and runs the subscriber session.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := newWSClient(conn)
	if err := h.hub.Register(client); err != nil {
		client.close()
		return
	}
	defer func() {
		h.hub.Disconnect(client.id)
		client.close()
	}()
	go client.writePump()

	h.reply(client, EventConnected, map[string]any{"client_id": client.id, "timestamp": h.now()})
	h.logger.Info("subscriber connected", zap.String("client_id", client.id))

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := rate.NewLimiter(h.messageRate, h.burst)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			h.logger.Info("subscriber disconnected", zap.String("client_id", client.id))
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if !limiter.Allow() {
			_ = client.Send(errorFrame("Rate limit exceeded"))
			continue
		}
		h.handleFrame(client, data)
	}
}

type authenticateRequest struct {
	UserID   any    `json:"user_id"`
	Role     string `json:"role"`
	UserRole string `json:"user_role"`
	Token    string `json:"token"`
}

type roomRequest struct {
	RoomType string `json:"room_type"`
	RoomID   any    `json:"room_id"`
}

func (h *WSHandler) handleFrame(client *wsClient, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil || msg.Event == "" {
		_ = client.Send(errorFrame("Invalid message"))
		return
	}
	switch msg.Event {
	case EventAuthenticate:
		h.authenticate(client, msg.Data)
	case EventJoinRoom:
		h.join(client, msg.Data)
	case EventLeaveRoom:
		h.leave(client, msg.Data)
	default:
		_ = client.Send(errorFrame("Unknown event"))
	}
}

func (h *WSHandler) authenticate(client *wsClient, data json.RawMessage) {
	var req authenticateRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			_ = client.Send(errorFrame("Invalid authentication payload"))
			return
		}
	}

	userID := idString(req.UserID)
	roleName := req.Role
	if roleName == "" {
		roleName = req.UserRole
	}
	if len(h.secret) > 0 {
		claims, err := auth.ParseJWT(req.Token, h.secret)
		if err != nil {
			_ = client.Send(errorFrame("Authentication failed"))
			return
		}
		userID = claims.Subject
		roleName = claims.Role
	}
	role, ok := auth.NormalizeRole(roleName)
	if !ok {
		_ = client.Send(errorFrame("Invalid role"))
		return
	}
	if err := h.hub.Authenticate(client.id, userID, role); err != nil {
		_ = client.Send(errorFrame("Client not found"))
		return
	}
	h.logger.Info("subscriber authenticated",
		zap.String("client_id", client.id),
		zap.String("user_id", userID),
		zap.String("role", string(role)),
	)
	h.reply(client, EventAuthenticated, map[string]any{"status": "success", "user_role": role})
}

func (h *WSHandler) join(client *wsClient, data json.RawMessage) {
	ref, req, ok := h.resolve(client, data)
	if !ok {
		return
	}
	if h.access != nil {
		identity, _ := h.hub.Identity(client.id)
		if !h.access.CanAccess(identity.Role, ref.Kind, ref.ID) {
			_ = client.Send(errorFrame("Access denied"))
			return
		}
	}
	if err := h.hub.Join(client.id, ref.Name); err != nil {
		_ = client.Send(errorFrame("Client not found"))
		return
	}
	h.reply(client, EventRoomJoined, map[string]any{
		"room_name": ref.Name,
		"room_data": req,
		"timestamp": h.now(),
	})
}

func (h *WSHandler) leave(client *wsClient, data json.RawMessage) {
	ref, _, ok := h.resolve(client, data)
	if !ok {
		return
	}
	if err := h.hub.Leave(client.id, ref.Name); err != nil {
		_ = client.Send(errorFrame("Client not found"))
		return
	}
	h.reply(client, EventRoomLeft, map[string]any{"room_name": ref.Name, "timestamp": h.now()})
}

func (h *WSHandler) resolve(client *wsClient, data json.RawMessage) (RoomRef, roomRequest, bool) {
	var req roomRequest
	if len(data) == 0 || json.Unmarshal(data, &req) != nil {
		_ = client.Send(errorFrame("Invalid room parameters"))
		return RoomRef{}, req, false
	}
	ref, err := ResolveRoom(req.RoomType, idString(req.RoomID))
	if err != nil {
		_ = client.Send(errorFrame("Invalid room parameters"))
		return RoomRef{}, req, false
	}
	return ref, req, true
}

func (h *WSHandler) reply(client *wsClient, event string, data any) {
	frame, err := Encode(event, data)
	if err != nil {
		h.logger.Warn("encode reply failed", zap.String("event", event), zap.Error(err))
		return
	}
	_ = client.Send(frame)
}

func idString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
