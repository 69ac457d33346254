package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/gorilla/websocket"

	"github.com/abhishek-72-cmd/LuckyFive-server/protocol"
)

const (
	// writeWait bounds a single websocket write.
	writeWait = 10 * time.Second

	// pongWait is the read deadline, refreshed by pongs and inbound frames.
	pongWait = 120 * time.Second

	// pingPeriod must stay comfortably below pongWait.
	pingPeriod = 30 * time.Second

	maxMessageSize = 4096

	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn is one client connection. All writes go through the send channel so
// the websocket never sees concurrent writers; done tears the write pump down
// without racing in-flight sends.
type wsConn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// hub tracks live connections and implements fivegame.Notifier.
type hub struct {
	sync.RWMutex
	log     slog.Logger
	metrics *serverMetrics
	conns   map[string]*wsConn
}

func newHub(log slog.Logger, metrics *serverMetrics) *hub {
	return &hub{
		log:     log,
		metrics: metrics,
		conns:   make(map[string]*wsConn),
	}
}

func (h *hub) add(c *wsConn) {
	h.Lock()
	h.conns[c.id] = c
	h.Unlock()
	h.metrics.connections.Inc()
}

// remove drops the connection and stops its write pump. Safe to call twice.
func (h *hub) remove(id string) {
	h.Lock()
	c, ok := h.conns[id]
	if ok {
		delete(h.conns, id)
	}
	h.Unlock()
	if ok {
		c.close()
		h.metrics.connections.Dec()
	}
}

// closeAll tears down every connection, for shutdown.
func (h *hub) closeAll() {
	h.Lock()
	conns := make([]*wsConn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]*wsConn)
	h.Unlock()
	for _, c := range conns {
		c.close()
		h.metrics.connections.Dec()
	}
}

// SendTo queues an event for one connection. Unknown connections are ignored.
func (h *hub) SendTo(connID string, event protocol.Event) {
	h.RLock()
	c := h.conns[connID]
	h.RUnlock()
	if c == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Errorf("Failed to marshal %s event: %v", event.Type, err)
		return
	}
	h.enqueue(c, event.Type, payload)
}

// Broadcast queues an event for every connection. The payload is marshaled
// once and fanned out over a snapshot of the connection map.
func (h *hub) Broadcast(event protocol.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Errorf("Failed to marshal %s broadcast: %v", event.Type, err)
		return
	}
	h.RLock()
	conns := make([]*wsConn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.RUnlock()
	for _, c := range conns {
		h.enqueue(c, event.Type, payload)
	}
}

// enqueue hands the payload to the write pump. A client that cannot keep up
// loses events instead of blocking the round loop.
func (h *hub) enqueue(c *wsConn, eventType string, payload []byte) {
	select {
	case c.send <- payload:
		h.metrics.eventsSent.WithLabelValues(eventType).Inc()
	default:
		h.metrics.eventsDropped.Inc()
		h.log.Warnf("Dropping %s event for slow connection %s", eventType, c.id)
	}
}
