// Package session implements the device's session coordinator: a single
// state machine that reconciles button presses, audio completion, timers,
// and relay notifications into one consistent view of what the device is
// doing and what each friend's status is.
package session

import "time"

// State is what the device is doing right now.
type State int

const (
	StateIdle State = iota
	StateRecording
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// Presence is the hub-reported status of a friend's device. It is never
// inferred from message traffic.
type Presence int

const (
	PresenceUnknown Presence = iota
	PresenceOffline
	PresenceOnline
)

// Friend is a statically configured peer.
type Friend struct {
	ID       string // local friend key
	Name     string
	RemoteID string // device id at the hub
}

// Direction of a message relative to this device.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Message is one voice clip in a friend's conversation history. Histories
// are ordered newest-first; insertion is always at index 0.
type Message struct {
	ID        string    `json:"id"`
	AudioRef  string    `json:"file"`
	Timestamp int64     `json:"timestamp"`
	Heard     bool      `json:"heard"`
	Direction Direction `json:"direction"`
}

// IndicatorState is the per-friend LED state, one of six levels computed
// by priority from session state. Lower constants win.
type IndicatorState int

const (
	// IndicatorSelfRecording: this device is recording for the friend.
	IndicatorSelfRecording IndicatorState = iota
	// IndicatorPeerRecording: the friend is recording for us.
	IndicatorPeerRecording
	// IndicatorUnheard: the friend has sent us a message we haven't played.
	IndicatorUnheard
	// IndicatorAwaitingHeard: we sent a message the friend hasn't played.
	IndicatorAwaitingHeard
	// IndicatorOnline: the friend's device is connected to the hub.
	IndicatorOnline
	// IndicatorOff: nothing to show.
	IndicatorOff
)

func (s IndicatorState) String() string {
	switch s {
	case IndicatorSelfRecording:
		return "self-recording"
	case IndicatorPeerRecording:
		return "peer-recording"
	case IndicatorUnheard:
		return "unheard"
	case IndicatorAwaitingHeard:
		return "awaiting-heard"
	case IndicatorOnline:
		return "online"
	default:
		return "off"
	}
}

// Audio is the capture/playback collaborator contract.
type Audio interface {
	StartCapture()
	// StopCapture returns a reference to the captured clip, or ok=false
	// when nothing usable was recorded.
	StopCapture() (ref string, ok bool)
	// Play starts playback and returns the clip duration.
	Play(ref string) time.Duration
	// StopPlayback is a no-op when nothing is playing.
	StopPlayback()
}

// Transport is the slice of the relay transport the coordinator uses.
// All calls are non-blocking; outcomes arrive later as events.
type Transport interface {
	SendVoiceMessage(remoteID, messageID string, audio []byte, timestamp int64) error
	NotifyHeard(remoteID, messageID string) error
	NotifyRecordingStarted(remoteID string) error
	NotifyRecordingStopped(remoteID string) error
}

// Indicators is the LED collaborator contract.
type Indicators interface {
	SetIndicator(friendID string, state IndicatorState)
	// FlashError signals a rejected action (recording at an offline friend).
	FlashError()
}
