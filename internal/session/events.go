package session

// Event is anything the coordinator reacts to. Hardware callbacks, audio
// completion timers, and transport notifications all enqueue events; only
// the coordinator's run loop applies them.
type Event interface{ sessionEvent() }

// FriendButtonPressed is the physical friend-slot button.
type FriendButtonPressed struct{ FriendID string }

// RecordButtonPressed is the record toggle button.
type RecordButtonPressed struct{}

// DialogButtonPressed toggles conversation mode.
type DialogButtonPressed struct{}

// MessageArrived carries a received voice message whose audio has already
// been written to local storage.
type MessageArrived struct {
	FriendID  string
	MessageID string
	AudioRef  string
	Timestamp int64
}

// MessageHeardAck reports that the friend played our message.
type MessageHeardAck struct {
	FriendID  string
	MessageID string
}

// PeerRecordingStarted and PeerRecordingStopped track a friend's live
// recording state. Presentation only; no state transition.
type PeerRecordingStarted struct{ FriendID string }
type PeerRecordingStopped struct{ FriendID string }

// PlaybackSegmentFinished fires when the playback-duration timer for the
// current segment elapses. Gen guards against stale timers.
type PlaybackSegmentFinished struct{ Gen uint64 }

// ConversationTimeoutFired ends conversation mode after inactivity.
type ConversationTimeoutFired struct{ Gen uint64 }

// FriendPresenceChanged is a hub-observed online/offline flip for one friend.
type FriendPresenceChanged struct {
	FriendID string
	Online   bool
}

// PresenceSnapshot lists the friends online at registration time; every
// friend not named is offline.
type PresenceSnapshot struct{ OnlineFriendIDs []string }

// ConnectionLost means the relay connection dropped; all presence becomes
// unknown until the transport re-registers.
type ConnectionLost struct{}

// DeliveryConfirmed and DeliveryFailed report the async outcome of a send.
// Neither changes session state: the awaiting-heard indicator only clears
// on a heard-ack.
type DeliveryConfirmed struct {
	FriendID  string
	MessageID string
}
type DeliveryFailed struct {
	FriendID  string
	MessageID string
}

// FriendsReloaded carries a new friend set from the config watcher.
type FriendsReloaded struct{ Friends []Friend }

func (FriendButtonPressed) sessionEvent()     {}
func (RecordButtonPressed) sessionEvent()     {}
func (DialogButtonPressed) sessionEvent()     {}
func (MessageArrived) sessionEvent()          {}
func (MessageHeardAck) sessionEvent()         {}
func (PeerRecordingStarted) sessionEvent()    {}
func (PeerRecordingStopped) sessionEvent()    {}
func (PlaybackSegmentFinished) sessionEvent() {}
func (ConversationTimeoutFired) sessionEvent() {}
func (FriendPresenceChanged) sessionEvent()   {}
func (PresenceSnapshot) sessionEvent()        {}
func (ConnectionLost) sessionEvent()          {}
func (DeliveryConfirmed) sessionEvent()       {}
func (DeliveryFailed) sessionEvent()          {}
func (FriendsReloaded) sessionEvent()         {}
