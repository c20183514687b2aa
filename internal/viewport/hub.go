package viewport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait     = 5 * time.Second
	maxMessageLen = 4096
)

// Hub is a Source fed by pages connected over websocket. It also pushes
// messages (scroll_to, live state) back to every connected page.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger
	samples  chan Sample

	mu     sync.Mutex
	conns  map[*hubConn]struct{}
	closed bool
}

type hubConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// NewHub creates a Hub that buffers up to buffer unread samples.
// Samples arriving while the buffer is full are dropped.
func NewHub(logger *zap.Logger, buffer int) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:  logger,
		samples: make(chan Sample, buffer),
		conns:   make(map[*hubConn]struct{}),
	}
}

// ServeHTTP upgrades the request and reads viewport samples until the page
// goes away or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("viewport upgrade failed", zap.Error(err))
		return
	}
	ws.SetReadLimit(maxMessageLen)

	c := &hubConn{ws: ws}
	if !h.register(c) {
		ws.Close()
		return
	}
	defer h.unregister(c)

	h.logger.Debug("viewport attached", zap.String("remote", r.RemoteAddr))
	for {
		var msg inbound
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("viewport read failed", zap.Error(err))
			}
			return
		}
		if msg.Type != "viewport" {
			continue
		}
		h.push(msg.Sample)
	}
}

// Samples returns the channel samples arrive on.
func (h *Hub) Samples() <-chan Sample {
	return h.samples
}

// ScrollTo asks every connected page to scroll to top.
func (h *Hub) ScrollTo(top float64) error {
	return h.Broadcast(Message{Type: "scroll_to", Top: &top})
}

// Broadcast sends msg to every connected page. Pages that fail to receive
// it are disconnected.
func (h *Hub) Broadcast(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type, err)
	}

	h.mu.Lock()
	conns := make([]*hubConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.write(data); err != nil {
			errs = append(errs, err)
			h.logger.Debug("viewport write failed, dropping page", zap.Error(err))
			c.ws.Close()
		}
	}
	return errors.Join(errs...)
}

// ClientCount returns the number of connected pages.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects every page and closes the samples channel.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for c := range h.conns {
		c.ws.Close()
	}
	close(h.samples)
	return nil
}

func (h *Hub) register(c *hubConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *hubConn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	c.ws.Close()
}

func (h *Hub) push(s Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	select {
	case h.samples <- s:
	default:
		h.logger.Debug("viewport buffer full, dropping sample")
	}
}

func (c *hubConn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}
