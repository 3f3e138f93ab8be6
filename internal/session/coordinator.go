package session

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultConversationTimeout is how long conversation mode survives
	// without a qualifying message arrival.
	DefaultConversationTimeout = 300 * time.Second

	eventBufferSize = 256
)

// Options configures a Coordinator.
type Options struct {
	Friends             []Friend
	Audio               Audio
	Transport           Transport
	Indicators          Indicators
	StatePath           string        // empty disables persistence
	ConversationTimeout time.Duration // defaults to DefaultConversationTimeout
}

type pendingAutoplay struct {
	friendID  string
	messageID string
}

// Coordinator owns all session state. Every field below the events channel
// is touched only by the run loop (or, before Run starts, by New): producers
// enqueue through Dispatch and never mutate state directly.
type Coordinator struct {
	log        *slog.Logger
	audio      Audio
	transport  Transport
	indicators Indicators
	statePath  string

	events chan Event

	state    State
	friends  []Friend
	byID     map[string]*Friend
	selected string

	// Conversation histories, newest-first, keyed by friend id.
	messages   map[string][]*Message
	sentStatus map[string]bool
	recording  map[string]bool // friend id -> peer is recording for us
	presence   map[string]Presence

	conversationMode    bool
	conversationTimeout time.Duration
	conversationGen     uint64
	conversationTimer   *time.Timer

	pending *pendingAutoplay

	playbackFriend string
	playbackIndex  int
	playbackGen    uint64
	playbackTimer  *time.Timer
}

// New builds a coordinator, loads any persisted state, and auto-selects the
// first configured friend. Call Run to start consuming events.
func New(opts Options) *Coordinator {
	c := &Coordinator{
		log:                 slog.Default().With("component", "session"),
		audio:               opts.Audio,
		transport:           opts.Transport,
		indicators:          opts.Indicators,
		statePath:           opts.StatePath,
		events:              make(chan Event, eventBufferSize),
		state:               StateIdle,
		messages:            make(map[string][]*Message),
		sentStatus:          make(map[string]bool),
		recording:           make(map[string]bool),
		presence:            make(map[string]Presence),
		conversationTimeout: opts.ConversationTimeout,
		playbackIndex:       -1,
	}
	if c.conversationTimeout <= 0 {
		c.conversationTimeout = DefaultConversationTimeout
	}

	c.setFriends(opts.Friends)
	c.loadState()

	if len(c.friends) > 0 {
		c.selected = c.friends[0].ID
	}
	return c
}

// Dispatch enqueues an event for the run loop. Safe from any goroutine.
func (c *Coordinator) Dispatch(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Warn("event queue full, dropping event")
	}
}

// Run consumes events until the context is cancelled, then shuts down:
// timers cancelled, playback stopped, state saved.
func (c *Coordinator) Run(ctx context.Context) {
	c.refreshIndicators()
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

func (c *Coordinator) shutdown() {
	c.cancelPlaybackTimer()
	c.cancelConversationTimer()
	if c.state == StateRecording {
		c.audio.StopCapture()
	}
	c.audio.StopPlayback()
	c.saveState()
	c.log.Info("session coordinator stopped")
}

// handle applies one event. All transition rules live here and in the
// helpers it calls; nothing else mutates session state.
func (c *Coordinator) handle(ev Event) {
	switch ev := ev.(type) {
	case FriendButtonPressed:
		c.onFriendButton(ev.FriendID)
	case RecordButtonPressed:
		c.onRecordButton()
	case DialogButtonPressed:
		c.onDialogButton()
	case MessageArrived:
		c.onMessageArrived(ev)
	case MessageHeardAck:
		c.onHeardAck(ev)
	case PeerRecordingStarted:
		c.onPeerRecording(ev.FriendID, true)
	case PeerRecordingStopped:
		c.onPeerRecording(ev.FriendID, false)
	case PlaybackSegmentFinished:
		if ev.Gen == c.playbackGen {
			c.playbackTimer = nil
			c.segmentFinished()
		}
	case ConversationTimeoutFired:
		if ev.Gen == c.conversationGen {
			c.conversationTimer = nil
			c.conversationMode = false
			c.log.Info("conversation mode timed out")
		}
	case FriendPresenceChanged:
		c.setPresence(ev.FriendID, presenceFrom(ev.Online))
	case PresenceSnapshot:
		c.onPresenceSnapshot(ev.OnlineFriendIDs)
	case ConnectionLost:
		for id := range c.presence {
			c.presence[id] = PresenceUnknown
		}
		c.refreshIndicators()
	case DeliveryConfirmed:
		c.log.Info("message delivered", "friend", ev.FriendID, "message_id", ev.MessageID)
	case DeliveryFailed:
		c.log.Warn("recipient offline, message dropped", "friend", ev.FriendID, "message_id", ev.MessageID)
	case FriendsReloaded:
		c.onFriendsReloaded(ev.Friends)
	}
}

// --- Button handling ---

func (c *Coordinator) onFriendButton(friendID string) {
	if _, ok := c.byID[friendID]; !ok {
		return
	}

	switch c.state {
	case StateRecording:
		// Any friend button while recording cancels without sending.
		c.cancelRecording()

	case StatePlaying:
		if friendID == c.playbackFriend {
			c.playOlder()
		} else {
			c.stopPlayback()
			c.selectFriend(friendID)
		}

	case StateIdle:
		if friendID == c.selected {
			c.startPlayback(friendID)
		} else {
			c.selectFriend(friendID)
		}
	}
}

func (c *Coordinator) onRecordButton() {
	switch c.state {
	case StateRecording:
		c.stopRecordingAndSend()

	case StatePlaying:
		c.stopPlayback()

	case StateIdle:
		if c.selected == "" {
			c.log.Info("record pressed with no friend selected")
			return
		}
		if c.presence[c.selected] != PresenceOnline {
			c.log.Info("friend offline, refusing to record", "friend", c.selected)
			c.indicators.FlashError()
			c.refreshIndicators()
			return
		}
		c.startRecording()
	}
}

func (c *Coordinator) onDialogButton() {
	switch c.state {
	case StatePlaying:
		c.stopPlayback()
	case StateRecording:
		c.cancelRecording()
	}

	c.conversationMode = !c.conversationMode
	c.log.Info("conversation mode toggled", "on", c.conversationMode)

	if c.conversationMode {
		c.resetConversationTimer()
	} else {
		c.cancelConversationTimer()
	}
}

// --- Recording ---

func (c *Coordinator) startRecording() {
	c.setState(StateRecording)
	if err := c.transport.NotifyRecordingStarted(c.remoteID(c.selected)); err != nil {
		c.log.Warn("recording-started notify failed", "error", err)
	}
	c.audio.StartCapture()
}

func (c *Coordinator) stopRecordingAndSend() {
	friendID := c.selected

	if err := c.transport.NotifyRecordingStopped(c.remoteID(friendID)); err != nil {
		c.log.Warn("recording-stopped notify failed", "error", err)
	}

	ref, ok := c.audio.StopCapture()
	if ok {
		msg := &Message{
			ID:        uuid.NewString(),
			AudioRef:  ref,
			Timestamp: time.Now().Unix(),
			Heard:     true, // we heard our own message
			Direction: DirectionSent,
		}
		c.messages[friendID] = append([]*Message{msg}, c.messages[friendID]...)
		c.sentStatus[friendID] = true
		c.saveState()
		c.sendMessage(friendID, msg)
	}

	c.setState(StateIdle)

	if c.pending != nil {
		p := *c.pending
		c.pending = nil
		c.autoplay(p.friendID, p.messageID)
	}
}

func (c *Coordinator) cancelRecording() {
	if err := c.transport.NotifyRecordingStopped(c.remoteID(c.selected)); err != nil {
		c.log.Warn("recording-stopped notify failed", "error", err)
	}
	c.audio.StopCapture()
	c.log.Info("recording cancelled")
	c.setState(StateIdle)
	c.pending = nil
}

// sendMessage reads the captured clip and hands it to the transport.
// Failures degrade to a log line: the awaiting-heard indicator stays set
// and the user can resend manually.
func (c *Coordinator) sendMessage(friendID string, msg *Message) {
	data, err := os.ReadFile(msg.AudioRef)
	if err != nil {
		c.log.Error("captured audio unreadable, not sending", "file", msg.AudioRef, "error", err)
		return
	}
	if err := c.transport.SendVoiceMessage(c.remoteID(friendID), msg.ID, data, msg.Timestamp); err != nil {
		c.log.Warn("voice message send failed", "friend", friendID, "error", err)
	}
}

// --- Playback ---

func (c *Coordinator) selectFriend(friendID string) {
	c.selected = friendID
	c.log.Info("friend selected", "friend", friendID)
	c.refreshIndicators()
}

func (c *Coordinator) startPlayback(friendID string) {
	if len(c.messages[friendID]) == 0 {
		c.log.Info("no messages to play", "friend", friendID)
		return
	}
	c.playbackFriend = friendID
	c.playbackIndex = 0
	c.playCurrent()
}

// playOlder advances the cursor to the next older message, wrapping to the
// most recent past the end.
func (c *Coordinator) playOlder() {
	c.cancelPlaybackTimer()
	c.audio.StopPlayback()

	c.playbackIndex++
	if c.playbackIndex >= len(c.messages[c.playbackFriend]) {
		c.playbackIndex = 0
	}
	c.playCurrent()
}

func (c *Coordinator) playCurrent() {
	msgs := c.messages[c.playbackFriend]
	if c.playbackIndex < 0 || c.playbackIndex >= len(msgs) {
		c.stopPlayback()
		return
	}

	c.setState(StatePlaying)

	msg := msgs[c.playbackIndex]
	if !fileExists(msg.AudioRef) {
		// Vanished clip: same path as a finished segment, which skips it
		// without marking heard.
		c.log.Warn("audio file missing, skipping", "file", msg.AudioRef)
		c.segmentFinished()
		return
	}

	c.log.Info("playing message",
		"friend", c.playbackFriend,
		"position", c.playbackIndex+1,
		"total", len(msgs),
		"direction", msg.Direction)

	duration := c.audio.Play(msg.AudioRef)
	c.startPlaybackTimer(duration)
}

// segmentFinished ends the current segment. A received message whose file
// is still present is marked heard exactly once, triggering the heard-ack.
// There is no automatic advance; navigation is button-driven.
func (c *Coordinator) segmentFinished() {
	if c.state != StatePlaying {
		return
	}

	msgs := c.messages[c.playbackFriend]
	if c.playbackIndex >= 0 && c.playbackIndex < len(msgs) {
		msg := msgs[c.playbackIndex]
		if msg.Direction == DirectionReceived && !msg.Heard && fileExists(msg.AudioRef) {
			msg.Heard = true
			c.saveState()
			if err := c.transport.NotifyHeard(c.remoteID(c.playbackFriend), msg.ID); err != nil {
				c.log.Warn("heard notify failed", "error", err)
			}
		}
	}

	c.stopPlayback()
}

func (c *Coordinator) stopPlayback() {
	c.cancelPlaybackTimer()
	c.audio.StopPlayback()
	c.playbackFriend = ""
	c.playbackIndex = -1
	if c.state == StatePlaying {
		c.setState(StateIdle)
	}
}

// autoplay begins playing a specific arrived message (conversation mode).
// Only valid from idle. The cursor lands on the named message so clips
// prepended since it was queued don't steal the slot.
func (c *Coordinator) autoplay(friendID, messageID string) {
	if c.state != StateIdle {
		return
	}
	if c.selected != friendID {
		c.selectFriend(friendID)
	}
	idx := 0
	for i, m := range c.messages[friendID] {
		if m.ID == messageID {
			idx = i
			break
		}
	}
	c.playbackFriend = friendID
	c.playbackIndex = idx
	c.playCurrent()
}

// --- Inbound notifications ---

func (c *Coordinator) onMessageArrived(ev MessageArrived) {
	if _, ok := c.byID[ev.FriendID]; !ok {
		c.log.Warn("message from unconfigured friend", "friend", ev.FriendID)
		return
	}

	msg := &Message{
		ID:        ev.MessageID,
		AudioRef:  ev.AudioRef,
		Timestamp: ev.Timestamp,
		Heard:     false,
		Direction: DirectionReceived,
	}
	c.messages[ev.FriendID] = append([]*Message{msg}, c.messages[ev.FriendID]...)
	c.saveState()
	c.log.Info("message arrived", "friend", ev.FriendID, "message_id", ev.MessageID)

	if c.conversationMode {
		c.resetConversationTimer()
		switch c.state {
		case StateRecording:
			// Queue for after the recording finishes; last arrival wins.
			c.pending = &pendingAutoplay{friendID: ev.FriendID, messageID: ev.MessageID}
		case StateIdle:
			c.autoplay(ev.FriendID, ev.MessageID)
		case StatePlaying:
			// Leave it queued visually; the indicator shows unheard.
		}
	}

	c.refreshIndicators()
}

// onHeardAck clears the friend's sent indicator. The message id is accepted
// but not matched: there is at most one meaningful outstanding send per
// friend, so any ack clears it.
func (c *Coordinator) onHeardAck(ev MessageHeardAck) {
	if _, ok := c.byID[ev.FriendID]; !ok {
		return
	}
	c.log.Info("message heard by friend", "friend", ev.FriendID)
	c.sentStatus[ev.FriendID] = false
	c.saveState()
	c.refreshIndicators()
}

func (c *Coordinator) onPeerRecording(friendID string, active bool) {
	if _, ok := c.byID[friendID]; !ok {
		return
	}
	c.recording[friendID] = active
	c.refreshIndicators()
}

func (c *Coordinator) onPresenceSnapshot(onlineIDs []string) {
	online := make(map[string]bool, len(onlineIDs))
	for _, id := range onlineIDs {
		online[id] = true
	}
	for _, f := range c.friends {
		if online[f.ID] {
			c.presence[f.ID] = PresenceOnline
		} else {
			c.presence[f.ID] = PresenceOffline
		}
	}
	c.refreshIndicators()
}

func (c *Coordinator) setPresence(friendID string, p Presence) {
	if _, ok := c.byID[friendID]; !ok {
		return
	}
	c.presence[friendID] = p
	c.refreshIndicators()
}

func (c *Coordinator) onFriendsReloaded(friends []Friend) {
	c.setFriends(friends)

	if _, ok := c.byID[c.selected]; !ok {
		c.selected = ""
		if len(c.friends) > 0 {
			c.selected = c.friends[0].ID
		}
	}
	if c.playbackFriend != "" {
		if _, ok := c.byID[c.playbackFriend]; !ok {
			c.stopPlayback()
		}
	}
	c.log.Info("friend list reloaded", "count", len(friends))
	c.refreshIndicators()
}

// setFriends installs a friend set, keeping history for friends that
// survive and dropping state for removed ones.
func (c *Coordinator) setFriends(friends []Friend) {
	c.friends = make([]Friend, len(friends))
	copy(c.friends, friends)

	c.byID = make(map[string]*Friend, len(friends))
	keep := make(map[string]bool, len(friends))
	for i := range c.friends {
		f := &c.friends[i]
		c.byID[f.ID] = f
		keep[f.ID] = true
		if _, ok := c.messages[f.ID]; !ok {
			c.messages[f.ID] = nil
		}
	}
	for id := range c.messages {
		if !keep[id] {
			delete(c.messages, id)
			delete(c.sentStatus, id)
			delete(c.recording, id)
			delete(c.presence, id)
		}
	}
}

// --- Timers ---

func (c *Coordinator) startPlaybackTimer(d time.Duration) {
	c.playbackGen++
	gen := c.playbackGen
	c.playbackTimer = time.AfterFunc(d, func() {
		c.Dispatch(PlaybackSegmentFinished{Gen: gen})
	})
}

// cancelPlaybackTimer is idempotent: cancelling an already-fired or
// already-cancelled timer is a no-op. Bumping the generation makes any
// in-flight fire stale.
func (c *Coordinator) cancelPlaybackTimer() {
	if c.playbackTimer != nil {
		c.playbackTimer.Stop()
		c.playbackTimer = nil
	}
	c.playbackGen++
}

func (c *Coordinator) resetConversationTimer() {
	c.cancelConversationTimer()
	gen := c.conversationGen
	c.conversationTimer = time.AfterFunc(c.conversationTimeout, func() {
		c.Dispatch(ConversationTimeoutFired{Gen: gen})
	})
}

func (c *Coordinator) cancelConversationTimer() {
	if c.conversationTimer != nil {
		c.conversationTimer.Stop()
		c.conversationTimer = nil
	}
	c.conversationGen++
}

// --- Indicators ---

func (c *Coordinator) setState(s State) {
	if c.state != s {
		c.log.Info("state change", "from", c.state, "to", s)
	}
	c.state = s
	c.refreshIndicators()
}

// refreshIndicators recomputes every friend's indicator after a transition.
func (c *Coordinator) refreshIndicators() {
	for _, f := range c.friends {
		c.indicators.SetIndicator(f.ID, c.indicatorFor(f.ID))
	}
}

// indicatorFor is the priority computation: highest priority wins.
func (c *Coordinator) indicatorFor(friendID string) IndicatorState {
	if c.state == StateRecording && c.selected == friendID {
		return IndicatorSelfRecording
	}
	if c.recording[friendID] {
		return IndicatorPeerRecording
	}
	for _, m := range c.messages[friendID] {
		if m.Direction == DirectionReceived && !m.Heard {
			return IndicatorUnheard
		}
	}
	if c.sentStatus[friendID] {
		return IndicatorAwaitingHeard
	}
	if c.presence[friendID] == PresenceOnline {
		return IndicatorOnline
	}
	return IndicatorOff
}

// --- helpers ---

func (c *Coordinator) remoteID(friendID string) string {
	if f, ok := c.byID[friendID]; ok {
		return f.RemoteID
	}
	return ""
}

func presenceFrom(online bool) Presence {
	if online {
		return PresenceOnline
	}
	return PresenceOffline
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
