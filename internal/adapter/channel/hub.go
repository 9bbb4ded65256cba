package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/helpdesk/internal/domain"
	"github.com/xiaot623/gogo/helpdesk/pkg/log"
)

const (
	writeTimeout   = 10 * time.Second
	readTimeout    = 60 * time.Second
	pingInterval   = (readTimeout * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
)

// ErrBufferFull is returned when a connection cannot keep up with pushes.
var ErrBufferFull = errors.New("send buffer full")

// WidgetReply is the frame pushed to widget connections.
type WidgetReply struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Ts        int64  `json:"ts"`
}

// Connection is one widget websocket bound to a session.
type Connection struct {
	ID        string
	SessionID string

	conn *websocket.Conn
	send chan []byte
	once sync.Once
	mu   sync.Mutex
}

func (c *Connection) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}

func (c *Connection) closeSend() {
	c.once.Do(func() { close(c.send) })
}

// Hub tracks widget connections by session id and pushes replies to them.
type Hub struct {
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	connections map[string]*Connection
	sessions    map[string]map[string]*Connection
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Widgets are embedded on customer sites.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		connections: make(map[string]*Connection),
		sessions:    make(map[string]map[string]*Connection),
	}
}

func (h *Hub) register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[conn.ID] = conn
	if h.sessions[conn.SessionID] == nil {
		h.sessions[conn.SessionID] = make(map[string]*Connection)
	}
	h.sessions[conn.SessionID][conn.ID] = conn
}

func (h *Hub) unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[conn.ID]; !ok {
		return
	}
	delete(h.connections, conn.ID)
	if set := h.sessions[conn.SessionID]; set != nil {
		delete(set, conn.ID)
		if len(set) == 0 {
			delete(h.sessions, conn.SessionID)
		}
	}
	conn.closeSend()
}

// Serve upgrades the request and streams pushes for sessionID until the
// client goes away or ctx ends.
func (h *Hub) Serve(ctx context.Context, w http.ResponseWriter, r *http.Request, sessionID string) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	conn := &Connection{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		conn:      ws,
		send:      make(chan []byte, sendBuffer),
	}
	h.register(conn)

	logger := log.FromCtx(ctx).With().Str("session_id", sessionID).Str("conn_id", conn.ID).Logger()
	logger.Debug().Msg("widget connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(conn)
	}()

	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	h.readPump(conn)
	stop()

	h.unregister(conn)
	<-done
	_ = ws.Close()
	logger.Debug().Msg("widget disconnected")
	return nil
}

// readPump drains client frames so pongs and close frames are processed.
func (h *Hub) readPump(conn *Connection) {
	conn.conn.SetReadLimit(maxMessageSize)
	_ = conn.conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		if _, _, err := conn.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *Connection) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-conn.send:
			if !ok {
				_ = conn.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.write(websocket.TextMessage, msg); err != nil {
				_ = conn.conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.write(websocket.PingMessage, nil); err != nil {
				_ = conn.conn.Close()
				return
			}
		}
	}
}

// Push sends v as JSON to every connection of sessionID and reports how
// many connections accepted it. Slow connections are dropped.
func (h *Hub) Push(sessionID string, v any) (int, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}

	h.mu.RLock()
	var delivered int
	var slow []*Connection
	for _, conn := range h.sessions[sessionID] {
		select {
		case conn.send <- data:
			delivered++
		default:
			slow = append(slow, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range slow {
		h.unregister(conn)
	}
	if delivered == 0 && len(slow) > 0 {
		return 0, ErrBufferFull
	}
	return delivered, nil
}

// Close asks every widget connection to close.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		h.unregister(c)
	}
}

// ConnectionCount returns the number of open widget connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// HasActiveConnections reports whether sessionID has a live widget.
func (h *Hub) HasActiveConnections(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID]) > 0
}

// Send implements Sender by pushing the reply to the widget session. A
// session without a live widget is not an error; the reply stays in the
// conversation history.
func (h *Hub) Send(ctx context.Context, target domain.ReplyTarget, text string) error {
	n, err := h.Push(target.SessionID, WidgetReply{
		Type:      "reply",
		SessionID: target.SessionID,
		Message:   text,
		Ts:        time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	if n == 0 {
		log.FromCtx(ctx).Debug().Str("session_id", target.SessionID).Msg("no widget connected, reply kept in history")
	}
	return nil
}
