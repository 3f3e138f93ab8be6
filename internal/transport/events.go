package transport

// Event is a typed notification surfaced by the transport. Everything the
// hub pushes down the wire, plus connection lifecycle, arrives on the
// client's Events channel as one of these.
type Event interface{ transportEvent() }

// Registered fires once per successful connection, after the hub confirms
// the registration frame.
type Registered struct {
	DeviceID   string
	ServerTime string
}

// Disconnected fires when the connection drops; the client is already
// scheduling a reconnect when the consumer sees it.
type Disconnected struct{}

// PresenceSnapshot lists the friends that were online at registration time.
type PresenceSnapshot struct{ OnlineIDs []string }

// PeerOnline and PeerOffline report hub-observed presence changes.
type PeerOnline struct{ DeviceID string }
type PeerOffline struct{ DeviceID string }

// VoiceMessageReceived carries a relayed voice clip.
type VoiceMessageReceived struct {
	SenderID  string
	MessageID string
	Audio     []byte
	Timestamp int64
}

// MessageHeardAck reports that a recipient finished playing our message.
type MessageHeardAck struct {
	ListenerID string
	MessageID  string
}

// RecordingStarted and RecordingStopped relay a peer's live recording state.
type RecordingStarted struct{ SenderID string }
type RecordingStopped struct{ SenderID string }

// Delivered confirms the hub handed a message to its recipient.
type Delivered struct {
	RecipientID string
	MessageID   string
}

// RecipientOffline reports that a send was dropped because the recipient
// was not connected. The message is not retried.
type RecipientOffline struct {
	RecipientID string
	MessageID   string
}

func (Registered) transportEvent()           {}
func (Disconnected) transportEvent()         {}
func (PresenceSnapshot) transportEvent()     {}
func (PeerOnline) transportEvent()           {}
func (PeerOffline) transportEvent()          {}
func (VoiceMessageReceived) transportEvent() {}
func (MessageHeardAck) transportEvent()      {}
func (RecordingStarted) transportEvent()     {}
func (RecordingStopped) transportEvent()     {}
func (Delivered) transportEvent()            {}
func (RecipientOffline) transportEvent()     {}
