package bus

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeDeadline bounds a single websocket write.
const writeDeadline = 5 * time.Second

// readDeadline is extended on every pong; three missed pings drop the peer.
const readDeadline = 90 * time.Second

const pingInterval = 30 * time.Second

// maxReadMessageSize limits incoming frames.
const maxReadMessageSize = 64 * 1024

// sendQueueSize is the per-client outbound buffer. A client that falls this
// far behind is disconnected.
const sendQueueSize = 64

var wsUpgrader = websocket.Upgrader{
	// Bound to loopback by default; peers are local skills and tools.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
}

// HubOptions configures the hub listener.
type HubOptions struct {
	// Addr is the listen address. "127.0.0.1:0" picks a free port.
	Addr string
	// Path is the websocket endpoint, "/core" by default.
	Path string
}

// Hub hosts the message bus: every frame published locally or sent by a
// client is delivered to all connected clients whose filter accepts it.
//
// Lock ordering: Hub.mu -> hubClient.mu.
type Hub struct {
	opts HubOptions

	mu      sync.RWMutex
	clients map[*hubClient]struct{}

	listener  net.Listener
	server    *http.Server
	url       string
	closeOnce sync.Once
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte

	mu    sync.Mutex
	types map[string]bool // empty: everything

	closeOnce sync.Once
	done      chan struct{}
}

// NewHub creates a hub. It does not listen until Start.
func NewHub(opts HubOptions) *Hub {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:0"
	}
	if opts.Path == "" {
		opts.Path = "/core"
	}
	return &Hub{
		opts:    opts,
		clients: make(map[*hubClient]struct{}),
	}
}

// Start listens and serves. ctx becomes the base context of handlers; the
// server itself is stopped with Stop.
func (h *Hub) Start(ctx context.Context) error {
	if h.server != nil {
		return fmt.Errorf("bus: hub already started")
	}

	ln, err := net.Listen("tcp", h.opts.Addr)
	if err != nil {
		return fmt.Errorf("bus: listen: %w", err)
	}
	h.listener = ln
	h.url = fmt.Sprintf("ws://%s%s", ln.Addr().String(), h.opts.Path)

	mux := http.NewServeMux()
	mux.HandleFunc(h.opts.Path, h.handleWS)

	h.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if serveErr := h.server.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("[DEBUG-BUS] hub server error", "error", serveErr)
		}
	}()

	slog.Info("[DEBUG-BUS] hub started", "url", h.url)
	return nil
}

// Stop disconnects every client and shuts the server down. Idempotent.
func (h *Hub) Stop() error {
	var stopErr error
	h.closeOnce.Do(func() {
		h.mu.Lock()
		clients := make([]*hubClient, 0, len(h.clients))
		for c := range h.clients {
			clients = append(clients, c)
		}
		h.clients = make(map[*hubClient]struct{})
		h.mu.Unlock()

		for _, c := range clients {
			c.close("hub stopping")
		}

		if h.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.server.Shutdown(shutdownCtx); err != nil {
				stopErr = fmt.Errorf("bus: shutdown: %w", err)
			}
		}
		slog.Info("[DEBUG-BUS] hub stopped")
	})
	return stopErr
}

// URL returns the websocket URL, or "" before Start.
func (h *Hub) URL() string {
	return h.url
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish broadcasts the notification id. Never blocks.
func (h *Hub) Publish(id string) {
	h.Broadcast(NewMessage(id, nil))
}

// Broadcast delivers msg to every client whose filter accepts msg.Type.
func (h *Hub) Broadcast(msg Message) {
	payload, err := msg.Encode()
	if err != nil {
		slog.Warn("[DEBUG-BUS] failed to encode message", "type", msg.Type, "error", err)
		return
	}
	h.broadcastRaw(msg.Type, payload)
}

func (h *Hub) broadcastRaw(msgType string, payload []byte) {
	h.mu.RLock()
	targets := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		if c.wants(msgType) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		slog.Debug("[DEBUG-BUS] no subscribers", "type", msgType)
		return
	}
	for _, c := range targets {
		if !c.enqueue(payload) {
			slog.Warn("[DEBUG-BUS] client send queue full, disconnecting", "remoteAddr", c.conn.RemoteAddr())
			h.remove(c)
			c.close("send queue full")
		}
	}
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (c *hubClient) wants(msgType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.types) == 0 || c.types[msgType]
}

func (c *hubClient) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *hubClient) close(reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if err := c.conn.Close(); err != nil {
			slog.Debug("[DEBUG-BUS] connection close", "reason", reason, "error", err)
		}
	})
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[DEBUG-BUS] upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxReadMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		slog.Warn("[DEBUG-BUS] SetReadDeadline failed on new connection", "error", err)
		_ = conn.Close()
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	c := &hubClient{
		conn:  conn,
		send:  make(chan []byte, sendQueueSize),
		types: make(map[string]bool),
		done:  make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	slog.Info("[DEBUG-BUS] client connected", "remoteAddr", conn.RemoteAddr(), "clients", h.ClientCount())

	go h.writePump(c)

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[DEBUG-PANIC] bus handleWS recovered",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
		h.remove(c)
		c.close("read pump exit")
		slog.Info("[DEBUG-BUS] client disconnected", "remoteAddr", conn.RemoteAddr(), "clients", h.ClientCount())
	}()

	for {
		msgType, raw, readErr := conn.ReadMessage()
		if readErr != nil {
			if websocket.IsUnexpectedCloseError(readErr, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("[DEBUG-BUS] read error", "error", readErr)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		msg, decErr := Decode(raw)
		if decErr != nil {
			slog.Debug("[DEBUG-BUS] invalid frame from client", "error", decErr)
			h.reply(c, NewMessage(ErrorType, map[string]any{"message": decErr.Error()}))
			continue
		}
		if msg.IsControl() {
			h.handleControl(c, msg)
			continue
		}
		h.broadcastRaw(msg.Type, raw)
	}
}

func (h *Hub) handleControl(c *hubClient, msg Message) {
	types, err := typesOf(msg)
	if err != nil && (msg.Type == SubscribeType || msg.Type == UnsubscribeType) {
		h.reply(c, NewMessage(ErrorType, map[string]any{"message": err.Error()}))
		return
	}

	c.mu.Lock()
	switch msg.Type {
	case SubscribeType:
		for _, t := range types {
			c.types[t] = true
		}
	case UnsubscribeType:
		for _, t := range types {
			delete(c.types, t)
		}
	default:
		c.mu.Unlock()
		slog.Debug("[DEBUG-BUS] unknown control message", "type", msg.Type)
		h.reply(c, NewMessage(ErrorType, map[string]any{"message": "unknown control message " + msg.Type}))
		return
	}
	current := make([]string, 0, len(c.types))
	for t := range c.types {
		current = append(current, t)
	}
	c.mu.Unlock()

	slices.Sort(current)
	slog.Debug("[DEBUG-BUS] subscription updated", "remoteAddr", c.conn.RemoteAddr(), "types", current)
	h.reply(c, NewMessage(SubscribedType, map[string]any{"types": toAny(current)}))
}

func (h *Hub) reply(c *hubClient, msg Message) {
	payload, err := msg.Encode()
	if err != nil {
		slog.Debug("[DEBUG-BUS] failed to encode reply", "error", err)
		return
	}
	if !c.enqueue(payload) {
		h.remove(c)
		c.close("send queue full")
	}
}

// writePump owns all writes to c.conn.
func (h *Hub) writePump(c *hubClient) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[DEBUG-PANIC] bus writePump recovered",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
		h.remove(c)
		c.close("write pump exit")
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			if err := writeFrame(c.conn, websocket.TextMessage, payload); err != nil {
				slog.Warn("[DEBUG-BUS] write failed, closing connection", "remoteAddr", c.conn.RemoteAddr(), "error", err)
				return
			}
		case <-ticker.C:
			if err := writeFrame(c.conn, websocket.PingMessage, nil); err != nil {
				slog.Debug("[DEBUG-BUS] ping failed, connection likely dead", "error", err)
				return
			}
		}
	}
}

// writeFrame writes one frame under a deadline. Callers serialize writes.
func writeFrame(conn *websocket.Conn, messageType int, payload []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return err
	}
	if err := conn.WriteMessage(messageType, payload); err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Time{}); err != nil {
		slog.Debug("[DEBUG-BUS] clearing write deadline failed", "error", err)
	}
	return nil
}
