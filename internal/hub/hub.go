// Package hub implements the relay hub: it forwards voice messages and
// status notifications between currently connected devices and keeps a
// durable directory of every device that ever registered. The hub has no
// session state; all forwarding is a single hop, best-effort.
package hub

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talkiebox/talkie/internal/db"
	"github.com/talkiebox/talkie/internal/protocol"
)

// deviceMeta is what the hub retains about a device between its
// registration and the next sweep: enough to route presence notifications.
type deviceMeta struct {
	Name     string
	Friends  []string
	LastSeen time.Time
}

// Hub manages device connections and routes messages between them.
type Hub struct {
	log      *slog.Logger
	registry *db.Store
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*deviceConn // device_id -> live connection
	meta  map[string]*deviceMeta // retained per-device metadata
}

// New creates a hub backed by the given device registry.
func New(registry *db.Store) *Hub {
	return &Hub{
		log:      slog.Default().With("component", "hub"),
		registry: registry,
		conns:    make(map[string]*deviceConn),
		meta:     make(map[string]*deviceMeta),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Devices dial from anywhere on the open internet.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWebSocket upgrades an HTTP request and serves the device connection
// until it drops. Runs on the HTTP handler goroutine.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newDeviceConn(h, conn)
	h.log.Info("new connection", "remote", conn.RemoteAddr())

	go c.writePump()
	c.readPump()
}

// register records a freshly registered device, updates the durable
// directory, and sends the registration replies plus presence broadcasts.
func (h *Hub) register(c *deviceConn, env *protocol.Envelope) {
	deviceID := env.DeviceID
	if deviceID == "" {
		c.enqueue(&protocol.Envelope{Type: protocol.TypeError, Message: "device_id required"})
		return
	}

	now := time.Now()

	h.mu.Lock()
	if existing, ok := h.conns[deviceID]; ok && existing != c {
		// A reconnect raced its own stale connection; drop the old one.
		existing.close()
	}
	h.conns[deviceID] = c
	h.meta[deviceID] = &deviceMeta{Name: env.DeviceName, Friends: env.Friends, LastSeen: now}
	connected := len(h.conns)
	h.mu.Unlock()

	c.deviceID = deviceID

	// Durable directory update happens synchronously on every registration.
	if err := h.registry.Upsert(context.Background(), deviceID, env.DeviceName, now); err != nil {
		h.log.Error("registry update failed", "device", deviceID, "error", err)
	}

	h.log.Info("device registered", "device", deviceID, "name", env.DeviceName, "online", connected)

	c.enqueue(&protocol.Envelope{
		Type:       protocol.TypeRegistered,
		DeviceID:   deviceID,
		ServerTime: now.UTC().Format(time.RFC3339),
	})

	if online := h.onlineSubset(env.Friends); len(online) > 0 {
		c.enqueue(&protocol.Envelope{Type: protocol.TypeFriendsOnline, Friends: online})
	}

	h.notifyPresence(deviceID, true)
}

// disconnect removes a connection from the table and broadcasts the offline
// notification. Retained metadata stays until the sweep collects it.
func (h *Hub) disconnect(c *deviceConn) {
	deviceID := c.deviceID

	h.mu.Lock()
	removed := false
	if deviceID != "" && h.conns[deviceID] == c {
		delete(h.conns, deviceID)
		removed = true
	}
	connected := len(h.conns)
	h.mu.Unlock()

	c.close()

	if removed {
		h.log.Info("device disconnected", "device", deviceID, "online", connected)
		h.notifyPresence(deviceID, false)
	}
}

// notifyPresence tells every connected device that lists deviceID as a
// friend about the status change. Directional: listing is not required to
// be mutual.
func (h *Hub) notifyPresence(deviceID string, online bool) {
	msgType := protocol.TypeFriendOffline
	if online {
		msgType = protocol.TypeFriendOnline
	}

	h.mu.Lock()
	var targets []*deviceConn
	for otherID, other := range h.conns {
		if otherID == deviceID {
			continue
		}
		m := h.meta[otherID]
		if m == nil {
			continue
		}
		for _, fid := range m.Friends {
			if fid == deviceID {
				targets = append(targets, other)
				break
			}
		}
	}
	h.mu.Unlock()

	for _, other := range targets {
		other.enqueue(&protocol.Envelope{Type: msgType, FriendID: deviceID})
	}
}

// onlineSubset filters a friend list down to the currently connected ids.
func (h *Hub) onlineSubset(friends []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var online []string
	for _, fid := range friends {
		if _, ok := h.conns[fid]; ok {
			online = append(online, fid)
		}
	}
	return online
}

// forwardVoiceMessage relays a voice clip to its recipient, or reports the
// recipient offline to the sender. The payload is never stored.
func (h *Hub) forwardVoiceMessage(c *deviceConn, env *protocol.Envelope) {
	if env.RecipientID == "" || env.MessageID == "" || len(env.AudioData) == 0 {
		h.log.Warn("invalid voice message", "from", c.deviceID)
		return
	}

	target := h.connFor(env.RecipientID)
	if target == nil {
		h.log.Info("recipient offline, dropping payload",
			"from", c.deviceID, "to", env.RecipientID, "message_id", env.MessageID)
		c.enqueue(&protocol.Envelope{
			Type:        protocol.TypeRecipientOffline,
			RecipientID: env.RecipientID,
			MessageID:   env.MessageID,
		})
		return
	}

	target.enqueue(&protocol.Envelope{
		Type:      protocol.TypeVoiceMessage,
		SenderID:  c.deviceID,
		MessageID: env.MessageID,
		AudioData: env.AudioData,
		Timestamp: env.Timestamp,
	})
	h.log.Info("voice message forwarded",
		"from", c.deviceID, "to", env.RecipientID, "bytes", len(env.AudioData))

	c.enqueue(&protocol.Envelope{
		Type:        protocol.TypeMessageDelivered,
		RecipientID: env.RecipientID,
		MessageID:   env.MessageID,
	})
}

// forwardHeard relays a heard notification to the original sender.
// Silently dropped if the sender is offline.
func (h *Hub) forwardHeard(c *deviceConn, env *protocol.Envelope) {
	if env.SenderID == "" || env.MessageID == "" {
		h.log.Warn("invalid message_heard", "from", c.deviceID)
		return
	}
	target := h.connFor(env.SenderID)
	if target == nil {
		return
	}
	target.enqueue(&protocol.Envelope{
		Type:       protocol.TypeMessageHeard,
		ListenerID: c.deviceID,
		MessageID:  env.MessageID,
	})
}

// forwardRecordingStatus relays recording_started/stopped to the recipient.
// Silently dropped if the recipient is offline.
func (h *Hub) forwardRecordingStatus(c *deviceConn, env *protocol.Envelope) {
	if env.RecipientID == "" {
		h.log.Warn("invalid recording status", "type", env.Type, "from", c.deviceID)
		return
	}
	target := h.connFor(env.RecipientID)
	if target == nil {
		return
	}
	target.enqueue(&protocol.Envelope{Type: env.Type, SenderID: c.deviceID})
}

func (h *Hub) connFor(deviceID string) *deviceConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[deviceID]
}

// IsConnected reports whether a device currently holds a live connection.
func (h *Hub) IsConnected(deviceID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.conns[deviceID]
	return ok
}

// ConnectedCount returns the number of live device connections.
func (h *Hub) ConnectedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Sweep periodically drops retained metadata for devices that are no longer
// connected. Housekeeping only; the durable registry is never pruned.
func (h *Hub) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweepOnce()
		}
	}
}

func (h *Hub) sweepOnce() {
	h.mu.Lock()
	var stale []string
	for id := range h.meta {
		if _, ok := h.conns[id]; !ok {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(h.meta, id)
	}
	h.mu.Unlock()

	if len(stale) > 0 {
		h.log.Info("swept stale device metadata", "count", len(stale))
	}
}
