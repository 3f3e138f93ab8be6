// Package transport owns the device's long-lived connection to the relay
// hub: registration, reconnection, and translation between the wire
// protocol and typed local events.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talkiebox/talkie/internal/protocol"
)

const (
	defaultRetryDelay = 5 * time.Second
	pingInterval      = 30 * time.Second
	readIdleLimit     = 90 * time.Second
	writeWait         = 10 * time.Second
	maxMessageSize    = 10 * 1024 * 1024
	sendBufferSize    = 64
	eventBufferSize   = 128
)

var (
	// ErrNotRegistered is returned for sends attempted before the hub has
	// confirmed registration. Such sends are never queued.
	ErrNotRegistered = errors.New("transport: not registered with hub")

	// ErrSendBufferFull is returned when the outbound queue is saturated;
	// the frame is dropped rather than blocking the caller.
	ErrSendBufferFull = errors.New("transport: send buffer full")
)

// Config identifies this device to the hub.
type Config struct {
	HubURL     string
	DeviceID   string
	DeviceName string
	// FriendIDs returns the remote device ids to register interest in.
	// Called at every (re)registration so config reloads take effect on
	// the next reconnect.
	FriendIDs func() []string
}

// Client is the relay transport. All sends are fire-and-forget from the
// caller's point of view; outcomes come back as Events.
type Client struct {
	cfg    Config
	log    *slog.Logger
	events chan Event

	// retryDelay is fixed at 5s in production; tests shrink it.
	retryDelay time.Duration

	mu         sync.Mutex
	out        chan []byte
	registered bool
	started    bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// New creates a transport client. Call Start to bring the connection up.
func New(cfg Config) *Client {
	return &Client{
		cfg:        cfg,
		log:        slog.Default().With("component", "transport"),
		events:     make(chan Event, eventBufferSize),
		retryDelay: defaultRetryDelay,
		done:       make(chan struct{}),
	}
}

// Events is the stream of typed inbound notifications.
func (c *Client) Events() <-chan Event { return c.events }

// Start brings up the connection loop. Idempotent: a second call while the
// client is running is a no-op. The loop retries forever on failure; it
// never gives up while the context is live.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	go c.run(ctx)
}

// Close tears the connection down and stops the reconnect loop.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-c.done
	}
}

// IsRegistered reports whether the hub has confirmed our registration on
// the current connection.
func (c *Client) IsRegistered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

// SendVoiceMessage ships a voice clip to a remote device. Fire-and-forget:
// delivery confirmation or a recipient-offline report arrives later as an
// Event, never as a return value.
func (c *Client) SendVoiceMessage(remoteID, messageID string, audio []byte, timestamp int64) error {
	return c.send(&protocol.Envelope{
		Type:        protocol.TypeVoiceMessage,
		RecipientID: remoteID,
		MessageID:   messageID,
		AudioData:   audio,
		Timestamp:   timestamp,
	})
}

// NotifyHeard tells a message's sender it has been played.
func (c *Client) NotifyHeard(remoteID, messageID string) error {
	return c.send(&protocol.Envelope{
		Type:      protocol.TypeMessageHeard,
		SenderID:  remoteID,
		MessageID: messageID,
	})
}

// NotifyRecordingStarted tells a peer we began recording for them.
func (c *Client) NotifyRecordingStarted(remoteID string) error {
	return c.send(&protocol.Envelope{Type: protocol.TypeRecordingStarted, RecipientID: remoteID})
}

// NotifyRecordingStopped tells a peer we stopped recording.
func (c *Client) NotifyRecordingStopped(remoteID string) error {
	return c.send(&protocol.Envelope{Type: protocol.TypeRecordingStopped, RecipientID: remoteID})
}

func (c *Client) send(env *protocol.Envelope) error {
	c.mu.Lock()
	out := c.out
	registered := c.registered
	c.mu.Unlock()

	if !registered || out == nil {
		return ErrNotRegistered
	}

	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}

	select {
	case out <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// run is the connection loop: dial, register, pump until the connection
// drops, then retry after a fixed delay. Forever.
func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	attempt := 0
	for {
		attempt++
		err := c.runConn(ctx)

		c.mu.Lock()
		c.registered = false
		c.out = nil
		c.mu.Unlock()

		if ctx.Err() != nil {
			return
		}

		c.log.Warn("connection lost, retrying", "attempt", attempt, "delay", c.retryDelay, "error", err)
		c.emit(Disconnected{})

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.retryDelay):
		}
	}
}

// runConn handles a single connection: the registration frame is the very
// first write, and nothing else goes out until the hub confirms it.
func (c *Client) runConn(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.HubURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	regFrame, err := protocol.Encode(&protocol.Envelope{
		Type:       protocol.TypeRegister,
		DeviceID:   c.cfg.DeviceID,
		DeviceName: c.cfg.DeviceName,
		Friends:    c.cfg.FriendIDs(),
	})
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, regFrame); err != nil {
		return err
	}

	out := make(chan []byte, sendBufferSize)
	c.mu.Lock()
	c.out = out
	c.mu.Unlock()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.writePump(connCtx, conn, out)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(readIdleLimit))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readIdleLimit))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readIdleLimit))

		env, err := protocol.Parse(data)
		if err != nil {
			// Malformed frame: log and drop, keep the connection.
			c.log.Warn("dropping malformed frame", "error", err)
			continue
		}
		c.handle(env)
	}
}

// writePump serializes outbound writes and keeps the application-level
// ping going.
func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, out chan []byte) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	ping, _ := protocol.Encode(&protocol.Envelope{Type: protocol.TypePing})

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			// Unblocks the read loop so shutdown doesn't wait out the
			// read deadline.
			conn.Close()
			return
		case data := <-out:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
				return
			}
		}
	}
}

func (c *Client) handle(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeRegistered:
		c.mu.Lock()
		c.registered = true
		c.mu.Unlock()
		c.log.Info("registered with hub", "device", env.DeviceID)
		c.emit(Registered{DeviceID: env.DeviceID, ServerTime: env.ServerTime})

	case protocol.TypeFriendsOnline:
		c.emit(PresenceSnapshot{OnlineIDs: env.Friends})

	case protocol.TypeFriendOnline:
		c.emit(PeerOnline{DeviceID: env.FriendID})

	case protocol.TypeFriendOffline:
		c.emit(PeerOffline{DeviceID: env.FriendID})

	case protocol.TypeVoiceMessage:
		c.emit(VoiceMessageReceived{
			SenderID:  env.SenderID,
			MessageID: env.MessageID,
			Audio:     env.AudioData,
			Timestamp: env.Timestamp,
		})

	case protocol.TypeMessageHeard:
		c.emit(MessageHeardAck{ListenerID: env.ListenerID, MessageID: env.MessageID})

	case protocol.TypeRecordingStarted:
		c.emit(RecordingStarted{SenderID: env.SenderID})

	case protocol.TypeRecordingStopped:
		c.emit(RecordingStopped{SenderID: env.SenderID})

	case protocol.TypeMessageDelivered:
		c.emit(Delivered{RecipientID: env.RecipientID, MessageID: env.MessageID})

	case protocol.TypeRecipientOffline:
		c.emit(RecipientOffline{RecipientID: env.RecipientID, MessageID: env.MessageID})

	case protocol.TypeError:
		c.log.Warn("hub error", "message", env.Message)

	case protocol.TypePong:
		// Keepalive reply; the read deadline reset already happened.

	default:
		c.log.Debug("unhandled message type", "type", env.Type)
	}
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Warn("event buffer full, dropping event")
	}
}
