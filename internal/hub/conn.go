package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talkiebox/talkie/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 90 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Voice clips are short but uncompressed WAV adds up.
	maxMessageSize = 10 * 1024 * 1024

	sendBufferSize = 64
)

// deviceConn is one live websocket connection. deviceID stays empty until
// the device registers.
type deviceConn struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	deviceID string

	closeOnce sync.Once
}

func newDeviceConn(h *Hub, conn *websocket.Conn) *deviceConn {
	return &deviceConn{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

// enqueue marshals and queues an envelope for the write pump. A device
// that cannot drain its buffer loses frames rather than stalling the hub.
// Safe to call concurrently with close.
func (c *deviceConn) enqueue(env *protocol.Envelope) {
	data, err := protocol.Encode(env)
	if err != nil {
		c.hub.log.Error("encode envelope", "type", env.Type, "error", err)
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.hub.log.Warn("send buffer full, dropping frame", "device", c.deviceID, "type", env.Type)
	}
}

func (c *deviceConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump reads frames until the connection drops, then unregisters.
func (c *deviceConn) readPump() {
	defer c.hub.disconnect(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Warn("read error", "device", c.deviceID, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		env, err := protocol.Parse(data)
		if err != nil {
			// Malformed frame: drop it, keep the connection.
			c.hub.log.Warn("dropping malformed frame", "device", c.deviceID, "error", err)
			continue
		}
		c.handle(env)
	}
}

// writePump drains the send queue and keeps the connection alive with
// control pings.
func (c *deviceConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *deviceConn) handle(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeRegister:
		c.hub.register(c, env)
		return
	case protocol.TypePing:
		c.enqueue(&protocol.Envelope{Type: protocol.TypePong})
		return
	}

	if c.deviceID == "" {
		c.enqueue(&protocol.Envelope{Type: protocol.TypeError, Message: "not registered"})
		return
	}

	switch env.Type {
	case protocol.TypeVoiceMessage:
		c.hub.forwardVoiceMessage(c, env)
	case protocol.TypeMessageHeard:
		c.hub.forwardHeard(c, env)
	case protocol.TypeRecordingStarted, protocol.TypeRecordingStopped:
		c.hub.forwardRecordingStatus(c, env)
	default:
		c.hub.log.Warn("dropping unknown message type", "device", c.deviceID, "type", env.Type)
	}
}
