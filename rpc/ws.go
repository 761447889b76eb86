package rpc

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tradepost-labs/tradepost/events"
)

const (
	clientBuffer = 256
	writeWait    = 10 * time.Second
)

// EventStream fans node events out to websocket subscribers. Event delivery
// from the emitter is synchronous, so a slow client never stalls execution:
// its buffer fills and further events are dropped for that client only.
type EventStream struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

type wsClient struct {
	conn *websocket.Conn
	send chan events.Event
}

// NewEventStream creates an EventStream subscribed to every event emitter
// publishes.
func NewEventStream(emitter *events.Emitter) *EventStream {
	s := &EventStream{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 4 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		clients: make(map[*wsClient]struct{}),
	}
	emitter.SubscribeAll(s.broadcast)
	return s
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (s *EventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &wsClient{conn: conn, send: make(chan events.Event, clientBuffer)}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	go s.writeLoop(c)

	// Drain (and discard) client frames so pings are answered and closes
	// are noticed.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.drop(c)
}

// Close disconnects every subscriber and rejects new ones.
func (s *EventStream) Close() {
	s.mu.Lock()
	s.closed = true
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[*wsClient]struct{})
	s.mu.Unlock()

	for _, c := range clients {
		close(c.send)
	}
}

func (s *EventStream) broadcast(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- ev:
		default:
			// Buffer full; this client misses the event.
		}
	}
}

func (s *EventStream) writeLoop(c *wsClient) {
	defer c.conn.Close()
	for ev := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(ev); err != nil {
			log.Printf("[rpc] event stream write: %v", err)
			s.drop(c)
			return
		}
	}
	// Channel closed by Close().
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
}

func (s *EventStream) drop(c *wsClient) {
	s.mu.Lock()
	_, ok := s.clients[c]
	if ok {
		delete(s.clients, c)
	}
	s.mu.Unlock()
	if ok {
		close(c.send)
	}
	c.conn.Close()
}
