// Package feed streams newly tracked journey events to websocket clients.
package feed

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thebridgeproject/bridge/internal/filter"
	"github.com/thebridgeproject/bridge/internal/journey"
	"github.com/thebridgeproject/bridge/internal/metrics"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Options tune a Hub.
type Options struct {
	// ClientBuffer is the per-client queue; events beyond it are dropped for
	// that client.
	ClientBuffer int
	// AllowedOrigins restricts browser origins. Empty allows all.
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Hub fans store events out to connected clients. Each client gets one
// writer goroutine and may narrow its stream with a ?filter= expression.
type Hub struct {
	store    *journey.Store
	opts     Options
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn  *websocket.Conn
	send  chan journey.Event
	match filter.Expr
}

// NewHub creates a Hub over store. Call Start before serving.
func NewHub(store *journey.Store, opts Options) *Hub {
	if opts.ClientBuffer <= 0 {
		opts.ClientBuffer = 100
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &Hub{
		store:   store,
		opts:    opts,
		log:     opts.Logger,
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

// Start subscribes to the store and broadcasts until ctx is done, then
// disconnects every client.
func (h *Hub) Start(ctx context.Context) {
	events, cancel := h.store.Subscribe(h.opts.ClientBuffer)
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				h.closeAll()
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				h.broadcast(ev)
			}
		}
	}()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var match filter.Expr
	if src := r.URL.Query().Get("filter"); src != "" {
		expr, err := filter.Parse(src)
		if err != nil {
			http.Error(w, "invalid filter: "+err.Error(), http.StatusBadRequest)
			return
		}
		match = expr
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied.
		h.log.Debug("feed upgrade failed", "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan journey.Event, h.opts.ClientBuffer), match: match}
	if !h.register(c) {
		_ = conn.Close()
		return
	}
	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.opts.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	metrics.FeedClients.Set(float64(len(h.clients)))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.FeedClients.Set(float64(len(h.clients)))
}

func (h *Hub) broadcast(ev journey.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.match != nil && !filter.Match(c.match, &ev) {
			continue
		}
		select {
		case c.send <- ev:
		default:
			h.log.Debug("feed client slow, event dropped", "remote", c.conn.RemoteAddr().String())
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.unregister(c)
	}
}

// writeLoop is the only goroutine writing to c.conn.
func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				h.unregister(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(c)
				return
			}
		}
	}
}

// readLoop discards client messages and notices disconnects.
func (h *Hub) readLoop(c *client) {
	defer h.unregister(c)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
