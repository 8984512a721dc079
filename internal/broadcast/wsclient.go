package broadcast

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 50 * time.Second
	maxMessageSize = 4096
)

// WSClient is a websocket subscriber. Outbound messages are queued on a
// bounded channel drained by writePump; inbound frames are read and ignored.
type WSClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func NewWSClient(conn *websocket.Conn, buffer int) *WSClient {
	if buffer <= 0 {
		buffer = 256
	}
	return &WSClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (c *WSClient) ID() string { return c.id }

// Send queues msg without blocking. A full queue means the peer is not
// keeping up and the caller should drop it.
func (c *WSClient) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSubscriberClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSubscriberSlow
	}
}

// Close stops the write pump, which sends a close frame and releases the
// connection. Safe to call more than once.
func (c *WSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Done is closed once the connection has been torn down.
func (c *WSClient) Done() <-chan struct{} { return c.done }

// Run registers the client, starts the write pump and reads until the peer
// disconnects. It blocks for the lifetime of the connection.
func (c *WSClient) Run(b *Broadcaster) {
	b.Register(c)
	go c.writePump()
	c.readPump()
	b.Unregister(c)
	<-c.done
}

func (c *WSClient) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithField("subscriber", c.id).WithError(err).Debug("websocket read error")
			}
			return
		}
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.WithField("subscriber", c.id).WithError(err).Debug("websocket write error")
				c.Close()
				c.drain()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				c.drain()
				return
			}
		}
	}
}

func (c *WSClient) drain() {
	for range c.send {
	}
}
