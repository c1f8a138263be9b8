package livetail

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"diaglog/internal/entry"
	"diaglog/internal/failsafe"
)

const (
	// writeDeadline bounds a single WebSocket write.
	writeDeadline = 5 * time.Second
	// readDeadline allows ~3 missed pings before the client is considered dead.
	readDeadline = 90 * time.Second
	pingInterval = 30 * time.Second
	// maxReadMessageSize limits incoming subscribe payloads.
	maxReadMessageSize = 32 * 1024
	// outboxSize bounds fragments waiting for the sender. Publish never blocks
	// the log writer; fragments beyond this are dropped and counted.
	outboxSize = 1024
)

var wsUpgrader = websocket.Upgrader{
	// The server binds to loopback only.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 32 * 1024,
}

// HubOptions configures the live tail server.
type HubOptions struct {
	// Addr is the listen address. Use "127.0.0.1:0" for an OS-assigned port.
	Addr   string
	Logger *slog.Logger
}

type outFrame struct {
	class entry.Class
	data  []byte
}

// Hub serves a single WebSocket client. A new connection replaces the
// existing one.
//
// Lock ordering (never acquire in reverse):
//
//	writeMu -> mu
type Hub struct {
	opts   HubOptions
	logger *slog.Logger

	mu         sync.RWMutex
	conn       *websocket.Conn
	subscribed map[entry.Class]bool

	// writeMu serializes WriteMessage calls; gorilla/websocket does not
	// support concurrent writers.
	writeMu sync.Mutex

	outbox  chan outFrame
	dropped atomic.Int64

	listener net.Listener
	server   *http.Server
	url      string
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	closeOnce sync.Once
}

type subscribeMsg struct {
	Action  string   `json:"action"`
	Classes []string `json:"classes"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

const (
	subscribeAction   = "subscribe"
	unsubscribeAction = "unsubscribe"
)

// NewHub creates a Hub. It does not listen until Start.
func NewHub(opts HubOptions) *Hub {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:0"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Hub{
		opts:       opts,
		logger:     opts.Logger,
		subscribed: make(map[entry.Class]bool),
		outbox:     make(chan outFrame, outboxSize),
	}
}

// Start listens on the configured address and serves /ws.
func (h *Hub) Start(ctx context.Context) error {
	if h.server != nil {
		return fmt.Errorf("livetail: already started")
	}

	ln, err := net.Listen("tcp", h.opts.Addr)
	if err != nil {
		return fmt.Errorf("livetail: listen: %w", err)
	}
	h.listener = ln
	h.url = fmt.Sprintf("ws://%s/ws", ln.Addr().String())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)
	h.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	senderCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	failsafe.RunWithPanicRecovery(senderCtx, "livetail-sender", &h.wg, h.sendLoop, failsafe.RecoveryOptions{Logger: h.logger})

	go func() {
		if serveErr := h.server.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			h.logger.Error("[ERROR-TAIL] server error", "error", serveErr)
		}
	}()

	h.logger.Info("[DEBUG-TAIL] live tail started", "url", h.url)
	return nil
}

// Stop shuts down the server and closes the active connection. A stopped Hub
// cannot be restarted.
func (h *Hub) Stop() error {
	var stopErr error
	h.closeOnce.Do(func() {
		h.mu.Lock()
		conn := h.conn
		h.conn = nil
		h.subscribed = make(map[entry.Class]bool)
		h.mu.Unlock()

		if conn != nil {
			h.closeConn(conn, "hub stop")
		}
		if h.cancel != nil {
			h.cancel()
		}
		h.wg.Wait()

		if h.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.server.Shutdown(shutdownCtx); err != nil {
				stopErr = fmt.Errorf("livetail: shutdown: %w", err)
			}
		}
		h.logger.Info("[DEBUG-TAIL] live tail stopped")
	})
	return stopErr
}

// URL returns the WebSocket URL, or "" before Start.
func (h *Hub) URL() string { return h.url }

// HasActiveConnection reports whether a client is connected.
func (h *Hub) HasActiveConnection() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conn != nil
}

// Subscribed reports whether the current client receives class.
func (h *Hub) Subscribed(class entry.Class) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conn != nil && h.subscribed[class]
}

// Dropped returns how many fragments were discarded because the outbox was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Publish queues frag for the connected client if it subscribed to the
// fragment's class. It never blocks.
func (h *Hub) Publish(frag entry.Fragment) {
	if frag.Text == "" || !h.Subscribed(frag.Class) {
		return
	}
	select {
	case h.outbox <- outFrame{class: frag.Class, data: frag.Bytes()}:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hub) sendLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-h.outbox:
			h.send(f)
		}
	}
}

func (h *Hub) send(f outFrame) {
	h.mu.RLock()
	conn := h.conn
	subscribed := h.subscribed[f.class]
	h.mu.RUnlock()
	// The client may have been replaced or unsubscribed since Publish.
	if conn == nil || !subscribed {
		return
	}

	frame, err := EncodeFragment(f.class, f.data)
	if err != nil {
		h.logger.Warn("[WARN-TAIL] failed to encode fragment", "error", err)
		return
	}
	h.writeMu.Lock()
	if !h.setWriteDeadlineOrClose(conn, writeDeadline) {
		h.writeMu.Unlock()
		return
	}
	err = conn.WriteMessage(websocket.BinaryMessage, frame)
	h.clearWriteDeadline(conn)
	h.writeMu.Unlock()

	if err != nil {
		h.logger.Warn("[WARN-TAIL] write failed, closing connection", "error", err)
		h.clearIfCurrent(conn)
		h.closeConn(conn, "write error in send")
	}
}

func (h *Hub) clearIfCurrent(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != conn {
		return false
	}
	h.conn = nil
	h.subscribed = make(map[entry.Class]bool)
	return true
}

// closeConn tolerates double close; gorilla/websocket only returns an error.
func (h *Hub) closeConn(conn *websocket.Conn, reason string) {
	if err := conn.Close(); err != nil {
		h.logger.Debug("[DEBUG-TAIL] connection close", "reason", reason, "error", err)
	}
}

func (h *Hub) setWriteDeadlineOrClose(conn *websocket.Conn, d time.Duration) bool {
	if err := conn.SetWriteDeadline(time.Now().Add(d)); err != nil {
		h.logger.Warn("[WARN-TAIL] SetWriteDeadline failed, closing connection", "error", err)
		h.clearIfCurrent(conn)
		h.closeConn(conn, "SetWriteDeadline failure")
		return false
	}
	return true
}

func (h *Hub) clearWriteDeadline(conn *websocket.Conn) {
	if err := conn.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("[DEBUG-TAIL] clearWriteDeadline failed", "error", err)
	}
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("[WARN-TAIL] upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxReadMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		h.closeConn(conn, "initial SetReadDeadline failure")
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	h.mu.Lock()
	oldConn := h.conn
	h.conn = conn
	h.subscribed = make(map[entry.Class]bool)
	h.mu.Unlock()
	if oldConn != nil {
		h.closeConn(oldConn, "replaced by new connection")
	}
	h.logger.Info("[DEBUG-TAIL] client connected", "remoteAddr", conn.RemoteAddr())

	pingDone := make(chan struct{})
	go h.pingLoop(conn, pingDone)

	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("[ERROR-PANIC] livetail handleWS recovered",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
		close(pingDone)
		h.clearIfCurrent(conn)
		h.closeConn(conn, "read pump exit")
		h.logger.Info("[DEBUG-TAIL] client disconnected")
	}()

	for {
		msgType, msg, readErr := conn.ReadMessage()
		if readErr != nil {
			if websocket.IsUnexpectedCloseError(readErr, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("[WARN-TAIL] read error", "error", readErr)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var sub subscribeMsg
		if jsonErr := json.Unmarshal(msg, &sub); jsonErr != nil {
			h.sendError(conn, fmt.Sprintf("invalid JSON: %s", jsonErr))
			continue
		}
		if msgErr := h.handleSubscription(conn, sub); msgErr != "" {
			h.sendError(conn, msgErr)
		}
	}
}

func (h *Hub) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("[ERROR-PANIC] livetail pingLoop recovered",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			h.clearIfCurrent(conn)
			h.closeConn(conn, "pingLoop panic recovery")
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			h.writeMu.Lock()
			if !h.setWriteDeadlineOrClose(conn, writeDeadline) {
				h.writeMu.Unlock()
				return
			}
			pingErr := conn.WriteMessage(websocket.PingMessage, nil)
			h.clearWriteDeadline(conn)
			h.writeMu.Unlock()
			if pingErr != nil {
				h.clearIfCurrent(conn)
				h.closeConn(conn, "ping failure")
				return
			}
		}
	}
}

// handleSubscription applies msg and returns a client-facing error message,
// or "" on success.
func (h *Hub) handleSubscription(conn *websocket.Conn, msg subscribeMsg) string {
	var classes []entry.Class
	for _, name := range msg.Classes {
		class, err := entry.ParseClass(name)
		if err != nil {
			return err.Error()
		}
		classes = append(classes, class)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != conn {
		return ""
	}
	switch msg.Action {
	case subscribeAction:
		for _, c := range classes {
			h.subscribed[c] = true
		}
	case unsubscribeAction:
		for _, c := range classes {
			delete(h.subscribed, c)
		}
	default:
		return fmt.Sprintf("unknown action %q", msg.Action)
	}
	h.logger.Debug("[DEBUG-TAIL] subscription updated", "action", msg.Action, "classes", msg.Classes)
	return ""
}

func (h *Hub) sendError(conn *websocket.Conn, message string) {
	payload, err := json.Marshal(errorMsg{Type: "error", Message: message})
	if err != nil {
		return
	}
	h.writeMu.Lock()
	if !h.setWriteDeadlineOrClose(conn, writeDeadline) {
		h.writeMu.Unlock()
		return
	}
	writeErr := conn.WriteMessage(websocket.TextMessage, payload)
	h.clearWriteDeadline(conn)
	h.writeMu.Unlock()

	if writeErr != nil {
		h.clearIfCurrent(conn)
		h.closeConn(conn, "write error in sendError")
	}
}
