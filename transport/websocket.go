package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/n-car/rpckit"
)

const (
	writeWait = 10 * time.Second
	closeWait = 5 * time.Second
)

// WebSocketHandler serves JSON-RPC over WebSocket. Every text message is one
// payload, single or batch; replies are written in arrival order.
type WebSocketHandler struct {
	handler  Handler
	opts     options
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*wsConn
}

type wsConn struct {
	id     string
	ws     *websocket.Conn
	remote string
	header http.Header
	token  string
	cancel context.CancelFunc
	// writes are serialised; gorilla connections support one concurrent writer
	writeMu sync.Mutex
}

func NewWebSocketHandler(handler Handler, opts ...Option) *WebSocketHandler {
	h := &WebSocketHandler{
		handler: handler,
		opts:    buildOptions(opts),
		conns:   make(map[string]*wsConn),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: h.opts.originAllowed,
	}
	return h
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.opts.logger.WithErr(err).Warn("WebSocket upgrade failed")
		return
	}
	ws.SetReadLimit(h.opts.maxRequestSize)

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	conn := &wsConn{
		id:     uuid.NewString(),
		ws:     ws,
		remote: remoteAddr(r, h.opts.trustProxy),
		header: r.Header.Clone(),
		token:  BearerToken(r.Header.Get("Authorization")),
		cancel: cancel,
	}

	h.mu.Lock()
	h.conns[conn.id] = conn
	h.mu.Unlock()

	h.opts.logger.WithFields(map[string]interface{}{
		"connectionID": conn.id,
		"remoteAddr":   conn.remote,
	}).Info("WebSocket client connected")

	go h.readLoop(ctx, conn)
}

func (h *WebSocketHandler) readLoop(ctx context.Context, conn *wsConn) {
	defer h.remove(conn)

	for {
		msgType, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.opts.logger.WithErr(err).WithFields(map[string]interface{}{
					"connectionID": conn.id,
				}).Warn("WebSocket read failed")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		rc := rpckit.NewRequestContext()
		rc.RemoteAddr = conn.remote
		rc.Headers = conn.header.Clone()
		rc.Token = conn.token
		rc.Set(ConnectionIDKey, conn.id)

		out := h.handler.Handle(ctx, data, rc)
		if out == nil {
			continue
		}
		if err := conn.write(out); err != nil {
			h.opts.logger.WithErr(err).WithFields(map[string]interface{}{
				"connectionID": conn.id,
			}).Warn("WebSocket write failed")
			return
		}
	}
}

// ConnectionIDKey holds the WebSocket connection id on the request context.
const ConnectionIDKey = "transport.connectionID"

func (c *wsConn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (h *WebSocketHandler) remove(conn *wsConn) {
	h.mu.Lock()
	_, ok := h.conns[conn.id]
	delete(h.conns, conn.id)
	h.mu.Unlock()

	conn.cancel()
	_ = conn.ws.Close()
	if ok {
		h.opts.logger.WithFields(map[string]interface{}{
			"connectionID": conn.id,
		}).Info("WebSocket client disconnected")
	}
}

// ConnectionCount returns the number of open connections.
func (h *WebSocketHandler) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close sends a going-away frame to every client and closes the connections.
func (h *WebSocketHandler) Close() {
	h.mu.RLock()
	conns := make([]*wsConn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(closeWait),
		)
		c.writeMu.Unlock()
		h.remove(c)
	}
}
