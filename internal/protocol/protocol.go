// Package protocol defines the wire format spoken between devices and the
// relay hub: one JSON object per logical message over a persistent
// websocket, with the "type" field selecting the schema.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message types sent by devices.
const (
	TypeRegister         = "register"
	TypeVoiceMessage     = "voice_message"
	TypeMessageHeard     = "message_heard"
	TypeRecordingStarted = "recording_started"
	TypeRecordingStopped = "recording_stopped"
	TypePing             = "ping"
)

// Message types sent by the hub.
const (
	TypeRegistered       = "registered"
	TypeFriendsOnline    = "friends_online"
	TypeMessageDelivered = "message_delivered"
	TypeRecipientOffline = "recipient_offline"
	TypeFriendOnline     = "friend_online"
	TypeFriendOffline    = "friend_offline"
	TypeError            = "error"
	TypePong             = "pong"
)

// Envelope is the single frame shape for every message on the wire.
// Fields not used by a given type are omitted. AudioData rides as base64
// through encoding/json's []byte handling.
type Envelope struct {
	Type string `json:"type"`

	DeviceID   string   `json:"device_id,omitempty"`
	DeviceName string   `json:"device_name,omitempty"`
	Friends    []string `json:"friends,omitempty"`
	ServerTime string   `json:"server_time,omitempty"`

	SenderID    string `json:"sender_id,omitempty"`
	RecipientID string `json:"recipient_id,omitempty"`
	ListenerID  string `json:"listener_id,omitempty"`
	FriendID    string `json:"friend_id,omitempty"`

	MessageID string `json:"message_id,omitempty"`
	AudioData []byte `json:"audio_data,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`

	// Error text, only on TypeError.
	Message string `json:"message,omitempty"`
}

// Parse decodes a raw frame into an Envelope. An empty type is rejected so
// callers can drop junk frames without a second check.
func Parse(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("envelope missing type")
	}
	return &env, nil
}

// Encode marshals an envelope for the wire.
func Encode(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}
