package arena

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"blobarena/server/internal/logging"
)

const (
	// DefaultPingInterval is the keepalive cadence for idle sockets.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes bounds a single inbound frame.
	DefaultMaxPayloadBytes int64 = 64 << 10

	writeWait = 10 * time.Second
)

// SocketOptions configures the websocket endpoint.
type SocketOptions struct {
	AllowedOrigins  []string
	MaxPayloadBytes int64
	PingInterval    time.Duration
}

// Handler upgrades HTTP requests and attaches the resulting sockets to a hub.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	maxBytes int64
	ping     time.Duration
	log      *logging.Logger
}

// NewHandler builds the /ws endpoint for hub.
func NewHandler(hub *Hub, opts SocketOptions) *Handler {
	maxBytes := opts.MaxPayloadBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxPayloadBytes
	}
	h := &Handler{
		hub:      hub,
		maxBytes: maxBytes,
		ping:     positiveDuration(opts.PingInterval, DefaultPingInterval),
		log:      hub.log.With(logging.String("component", "websocket")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	//1.- Refuse before upgrading so the client receives a plain HTTP status.
	if h.hub.maxClients > 0 && h.hub.ConnectionCount() >= h.hub.maxClients {
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", logging.String("remote", r.RemoteAddr), logging.Error(err))
		return
	}
	conn, err := h.hub.Connect(r.RemoteAddr, ws)
	if err != nil {
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()), time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}
	h.log.Debug("websocket connected", logging.String("conn_id", conn.ID()), logging.String("remote", conn.Remote()))
	//2.- One goroutine drains the send queue, the request goroutine reads.
	go h.writePump(conn)
	h.readPump(conn)
}

func (h *Handler) readPump(conn *Connection) {
	ws := conn.ws
	defer func() {
		h.hub.Close(conn)
		_ = ws.Close()
	}()
	ws.SetReadLimit(h.maxBytes)
	_ = ws.SetReadDeadline(time.Now().Add(2 * h.ping))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(2 * h.ping))
	})
	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, websocket.ErrCloseSent) {
				h.log.Debug("websocket read ended", logging.String("conn_id", conn.ID()), logging.Error(err))
			}
			return
		}
		if kind != websocket.BinaryMessage && kind != websocket.TextMessage {
			continue
		}
		_ = h.hub.HandleFrame(conn, data)
	}
}

func (h *Handler) writePump(conn *Connection) {
	ws := conn.ws
	ticker := time.NewTicker(h.ping)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()
	for {
		select {
		case payload, ok := <-conn.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := ws.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				h.log.Debug("websocket write failed", logging.String("conn_id", conn.ID()), logging.Error(err))
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// originChecker allows every origin when the list is empty; otherwise the request's
// Origin host must match an entry (scheme and host, or host alone).
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if trimmed := strings.ToLower(strings.TrimSpace(origin)); trimmed != "" {
			set[strings.TrimRight(trimmed, "/")] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		if _, ok := set["*"]; ok {
			return true
		}
		parsed, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if _, ok := set[strings.ToLower(parsed.Scheme+"://"+parsed.Host)]; ok {
			return true
		}
		_, ok := set[strings.ToLower(parsed.Host)]
		return ok
	}
}
