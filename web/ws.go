package web

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"go.viam.com/rdk/logging"

	"github.com/viamrobotics/scavenger-hunt/hunt"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	clientQueueLen = 32
)

// hub pushes game events to every connected websocket.
type hub struct {
	app      *hunt.App
	logger   logging.Logger
	upgrader websocket.Upgrader
	ctx      context.Context
	cancel   func()
	unsub    func()

	mu      sync.Mutex
	clients map[*client]struct{}
	wg      sync.WaitGroup
}

type client struct {
	conn *websocket.Conn
	send chan hunt.Event
}

func newHub(ctx context.Context, app *hunt.App, allowedOrigins []string, logger logging.Logger) *hub {
	ctx, cancel := context.WithCancel(ctx)
	h := &hub{
		app:     app,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		clients: map[*client]struct{}{},
	}
	if len(allowedOrigins) > 0 {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || lo.Contains(allowedOrigins, "*") || lo.Contains(allowedOrigins, origin) {
				return true
			}
			u, err := url.Parse(origin)
			return err == nil && u.Host == r.Host
		}
	}
	h.unsub = app.Subscribe(h.broadcast)
	return h
}

// ServeHTTP upgrades the request and streams events until either side goes away.
func (h *hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debugw("websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan hunt.Event, clientQueueLen)}
	st := h.app.State()
	c.send <- hunt.Event{Type: hunt.EventState, State: &st}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debugw("client connected", "clients", count)

	h.wg.Add(1)
	defer h.wg.Done()
	done := make(chan struct{})
	go h.readPump(c, done)
	h.writePump(c, done)

	h.mu.Lock()
	delete(h.clients, c)
	count = len(h.clients)
	h.mu.Unlock()
	//nolint:errcheck
	conn.Close()
	h.logger.Debugw("client disconnected", "clients", count)
}

// readPump only handles control frames; the page never sends data.
func (h *hub) readPump(c *client, done chan<- struct{}) {
	defer close(done)
	c.conn.SetReadLimit(512)
	//nolint:errcheck
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *hub) writePump(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-h.ctx.Done():
			//nolint:errcheck
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		case <-done:
			return
		case ev := <-c.send:
			//nolint:errcheck
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				h.logger.Debugw("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			//nolint:errcheck
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// broadcast queues ev for every client. A client whose queue is full misses the event.
func (h *hub) broadcast(ev hunt.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.logger.Debugw("dropping event for slow client", "type", ev.Type)
		}
	}
}

// Close disconnects every client and waits for their handlers to return.
func (h *hub) Close() {
	h.unsub()
	h.cancel()
	h.wg.Wait()
}
