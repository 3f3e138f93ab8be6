package session

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAudio struct {
	t   *testing.T
	dir string

	capturing  bool
	captureOK  bool
	captures   int
	stopCalls  int
	played     []string
	stopsPlay  int
	clipLength time.Duration
}

func newFakeAudio(t *testing.T) *fakeAudio {
	return &fakeAudio{t: t, dir: t.TempDir(), captureOK: true, clipLength: 50 * time.Millisecond}
}

func (a *fakeAudio) StartCapture() { a.capturing = true }

func (a *fakeAudio) StopCapture() (string, bool) {
	a.stopCalls++
	if !a.capturing {
		return "", false
	}
	a.capturing = false
	if !a.captureOK {
		return "", false
	}
	a.captures++
	path := filepath.Join(a.dir, fmt.Sprintf("capture-%d.wav", a.captures))
	require.NoError(a.t, os.WriteFile(path, []byte("fake-pcm"), 0o644))
	return path, true
}

func (a *fakeAudio) Play(ref string) time.Duration {
	a.played = append(a.played, ref)
	return a.clipLength
}

func (a *fakeAudio) StopPlayback() { a.stopsPlay++ }

type sentClip struct {
	remoteID  string
	messageID string
	audio     []byte
}

type fakeTransport struct {
	sent       []sentClip
	heard      []string // remote ids
	recStarted []string
	recStopped []string
	sendErr    error
}

func (tr *fakeTransport) SendVoiceMessage(remoteID, messageID string, audio []byte, _ int64) error {
	if tr.sendErr != nil {
		return tr.sendErr
	}
	tr.sent = append(tr.sent, sentClip{remoteID: remoteID, messageID: messageID, audio: audio})
	return nil
}

func (tr *fakeTransport) NotifyHeard(remoteID, messageID string) error {
	tr.heard = append(tr.heard, remoteID)
	return nil
}

func (tr *fakeTransport) NotifyRecordingStarted(remoteID string) error {
	tr.recStarted = append(tr.recStarted, remoteID)
	return nil
}

func (tr *fakeTransport) NotifyRecordingStopped(remoteID string) error {
	tr.recStopped = append(tr.recStopped, remoteID)
	return nil
}

type fakeIndicators struct {
	states  map[string]IndicatorState
	flashes int
}

func newFakeIndicators() *fakeIndicators {
	return &fakeIndicators{states: make(map[string]IndicatorState)}
}

func (i *fakeIndicators) SetIndicator(friendID string, state IndicatorState) {
	i.states[friendID] = state
}

func (i *fakeIndicators) FlashError() { i.flashes++ }

type fixture struct {
	coord      *Coordinator
	audio      *fakeAudio
	transport  *fakeTransport
	indicators *fakeIndicators
}

func testFriends() []Friend {
	return []Friend{
		{ID: "alice", Name: "Alice", RemoteID: "device-alice"},
		{ID: "bob", Name: "Bob", RemoteID: "device-bob"},
	}
}

func newFixture(t *testing.T, opts ...func(*Options)) *fixture {
	f := &fixture{
		audio:      newFakeAudio(t),
		transport:  &fakeTransport{},
		indicators: newFakeIndicators(),
	}
	o := Options{
		Friends:    testFriends(),
		Audio:      f.audio,
		Transport:  f.transport,
		Indicators: f.indicators,
	}
	for _, fn := range opts {
		fn(&o)
	}
	f.coord = New(o)
	return f
}

// writeClip creates an audio file and delivers it as an arrived message.
func (f *fixture) arrive(t *testing.T, friendID, messageID string) string {
	path := filepath.Join(f.audio.dir, messageID+".wav")
	require.NoError(t, os.WriteFile(path, []byte("clip"), 0o644))
	f.coord.handle(MessageArrived{
		FriendID:  friendID,
		MessageID: messageID,
		AudioRef:  path,
		Timestamp: time.Now().Unix(),
	})
	return path
}

func (f *fixture) setOnline(friendID string) {
	f.coord.handle(FriendPresenceChanged{FriendID: friendID, Online: true})
}

func (f *fixture) finishSegment() {
	f.coord.handle(PlaybackSegmentFinished{Gen: f.coord.playbackGen})
}

func TestInitialSelection(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "alice", f.coord.selected)
	assert.Equal(t, StateIdle, f.coord.state)
}

func TestRecordAndSendFlow(t *testing.T) {
	f := newFixture(t)
	f.setOnline("alice")

	f.coord.handle(RecordButtonPressed{})
	require.Equal(t, StateRecording, f.coord.state)
	assert.Equal(t, []string{"device-alice"}, f.transport.recStarted)
	assert.Equal(t, IndicatorSelfRecording, f.indicators.states["alice"])

	f.coord.handle(RecordButtonPressed{})
	require.Equal(t, StateIdle, f.coord.state)
	assert.Equal(t, []string{"device-alice"}, f.transport.recStopped)

	require.Len(t, f.transport.sent, 1)
	assert.Equal(t, "device-alice", f.transport.sent[0].remoteID)
	assert.Equal(t, []byte("fake-pcm"), f.transport.sent[0].audio)

	msgs := f.coord.messages["alice"]
	require.Len(t, msgs, 1)
	assert.Equal(t, DirectionSent, msgs[0].Direction)
	assert.True(t, msgs[0].Heard)
	assert.True(t, f.coord.sentStatus["alice"])
	assert.Equal(t, IndicatorAwaitingHeard, f.indicators.states["alice"])
}

func TestRecordRefusedWhenOffline(t *testing.T) {
	f := newFixture(t)

	f.coord.handle(RecordButtonPressed{})
	assert.Equal(t, StateIdle, f.coord.state)
	assert.Equal(t, 1, f.indicators.flashes)
	assert.False(t, f.audio.capturing)
	assert.Empty(t, f.transport.recStarted)
}

func TestRecordIgnoredWithoutSelection(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Friends = nil })

	f.coord.handle(RecordButtonPressed{})
	assert.Equal(t, StateIdle, f.coord.state)
	assert.Zero(t, f.indicators.flashes)
}

func TestEmptyCaptureSendsNothing(t *testing.T) {
	f := newFixture(t)
	f.setOnline("alice")
	f.audio.captureOK = false

	f.coord.handle(RecordButtonPressed{})
	f.coord.handle(RecordButtonPressed{})

	assert.Equal(t, StateIdle, f.coord.state)
	assert.Empty(t, f.transport.sent)
	assert.Empty(t, f.coord.messages["alice"])
	assert.False(t, f.coord.sentStatus["alice"])
}

func TestFriendButtonCancelsRecording(t *testing.T) {
	f := newFixture(t)
	f.setOnline("alice")

	f.coord.handle(RecordButtonPressed{})
	require.Equal(t, StateRecording, f.coord.state)

	f.coord.handle(FriendButtonPressed{FriendID: "bob"})
	assert.Equal(t, StateIdle, f.coord.state)
	assert.Empty(t, f.transport.sent)
	assert.Equal(t, []string{"device-alice"}, f.transport.recStopped)
	// Selection survives a cancel.
	assert.Equal(t, "alice", f.coord.selected)
}

func TestPlaybackMarksHeardExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.arrive(t, "alice", "m1")
	assert.Equal(t, IndicatorUnheard, f.indicators.states["alice"])

	f.coord.handle(FriendButtonPressed{FriendID: "alice"})
	require.Equal(t, StatePlaying, f.coord.state)
	require.Len(t, f.audio.played, 1)

	f.finishSegment()
	assert.Equal(t, StateIdle, f.coord.state)
	assert.True(t, f.coord.messages["alice"][0].Heard)
	assert.Equal(t, []string{"device-alice"}, f.transport.heard)

	// Replaying an already-heard message does not re-notify.
	f.coord.handle(FriendButtonPressed{FriendID: "alice"})
	f.finishSegment()
	assert.Len(t, f.transport.heard, 1)
}

func TestPlaybackWrapNavigation(t *testing.T) {
	f := newFixture(t)
	p1 := f.arrive(t, "alice", "m1")
	p2 := f.arrive(t, "alice", "m2")
	p3 := f.arrive(t, "alice", "m3")

	// Histories are newest-first: playback starts at m3.
	f.coord.handle(FriendButtonPressed{FriendID: "alice"})
	f.coord.handle(FriendButtonPressed{FriendID: "alice"})
	f.coord.handle(FriendButtonPressed{FriendID: "alice"})
	f.coord.handle(FriendButtonPressed{FriendID: "alice"})

	assert.Equal(t, []string{p3, p2, p1, p3}, f.audio.played)
	assert.Equal(t, StatePlaying, f.coord.state)
}

func TestFriendSwitchDuringPlayback(t *testing.T) {
	f := newFixture(t)
	f.arrive(t, "alice", "m1")

	f.coord.handle(FriendButtonPressed{FriendID: "alice"})
	require.Equal(t, StatePlaying, f.coord.state)

	f.coord.handle(FriendButtonPressed{FriendID: "bob"})
	assert.Equal(t, StateIdle, f.coord.state)
	assert.Equal(t, "bob", f.coord.selected)
	// Interrupted playback does not mark the message heard.
	assert.False(t, f.coord.messages["alice"][0].Heard)
	assert.Empty(t, f.transport.heard)
}

func TestRecordButtonStopsPlayback(t *testing.T) {
	f := newFixture(t)
	f.arrive(t, "alice", "m1")

	f.coord.handle(FriendButtonPressed{FriendID: "alice"})
	require.Equal(t, StatePlaying, f.coord.state)

	f.coord.handle(RecordButtonPressed{})
	assert.Equal(t, StateIdle, f.coord.state)
	assert.Empty(t, f.transport.sent)
}

func TestMissingFileSkippedWithoutHeard(t *testing.T) {
	f := newFixture(t)
	path := f.arrive(t, "alice", "m1")
	require.NoError(t, os.Remove(path))

	f.coord.handle(FriendButtonPressed{FriendID: "alice"})
	assert.Equal(t, StateIdle, f.coord.state)
	assert.Empty(t, f.audio.played)
	assert.False(t, f.coord.messages["alice"][0].Heard)
	assert.Empty(t, f.transport.heard)
}

func TestConversationModeAutoplay(t *testing.T) {
	f := newFixture(t)

	f.coord.handle(DialogButtonPressed{})
	require.True(t, f.coord.conversationMode)

	path := f.arrive(t, "bob", "m1")
	assert.Equal(t, StatePlaying, f.coord.state)
	assert.Equal(t, "bob", f.coord.selected)
	assert.Equal(t, []string{path}, f.audio.played)
}

func TestNoAutoplayOutsideConversationMode(t *testing.T) {
	f := newFixture(t)
	f.arrive(t, "bob", "m1")
	assert.Equal(t, StateIdle, f.coord.state)
	assert.Empty(t, f.audio.played)
	assert.Equal(t, IndicatorUnheard, f.indicators.states["bob"])
}

func TestPendingAutoplayLastWins(t *testing.T) {
	f := newFixture(t)
	f.setOnline("alice")
	f.coord.handle(DialogButtonPressed{})

	f.coord.handle(RecordButtonPressed{})
	require.Equal(t, StateRecording, f.coord.state)

	f.arrive(t, "bob", "m1")
	pathAlice := f.arrive(t, "alice", "m2")
	require.Equal(t, StateRecording, f.coord.state)

	f.coord.handle(RecordButtonPressed{})
	assert.Equal(t, StatePlaying, f.coord.state)
	assert.Equal(t, "alice", f.coord.playbackFriend)
	require.NotEmpty(t, f.audio.played)
	assert.Equal(t, pathAlice, f.audio.played[len(f.audio.played)-1])
}

func TestCancelledRecordingDropsPendingAutoplay(t *testing.T) {
	f := newFixture(t)
	f.setOnline("alice")
	f.coord.handle(DialogButtonPressed{})

	f.coord.handle(RecordButtonPressed{})
	f.arrive(t, "bob", "m1")

	f.coord.handle(FriendButtonPressed{FriendID: "alice"})
	assert.Equal(t, StateIdle, f.coord.state)
	assert.Nil(t, f.coord.pending)
	assert.Empty(t, f.audio.played)
}

func TestConversationTimeout(t *testing.T) {
	f := newFixture(t)
	f.coord.handle(DialogButtonPressed{})
	require.True(t, f.coord.conversationMode)

	// Stale generation is ignored.
	f.coord.handle(ConversationTimeoutFired{Gen: f.coord.conversationGen - 1})
	assert.True(t, f.coord.conversationMode)

	f.coord.handle(ConversationTimeoutFired{Gen: f.coord.conversationGen})
	assert.False(t, f.coord.conversationMode)
}

func TestDialogToggleOffCancelsMode(t *testing.T) {
	f := newFixture(t)
	f.coord.handle(DialogButtonPressed{})
	f.coord.handle(DialogButtonPressed{})
	assert.False(t, f.coord.conversationMode)
	assert.Nil(t, f.coord.conversationTimer)
}

func TestStalePlaybackTimerIgnored(t *testing.T) {
	f := newFixture(t)
	f.arrive(t, "alice", "m1")

	f.coord.handle(FriendButtonPressed{FriendID: "alice"})
	staleGen := f.coord.playbackGen

	// Advancing re-arms the timer; the old generation must not end the
	// new segment.
	f.arrive(t, "alice", "m2")
	f.coord.handle(FriendButtonPressed{FriendID: "alice"})
	f.coord.handle(PlaybackSegmentFinished{Gen: staleGen})
	assert.Equal(t, StatePlaying, f.coord.state)
}

func TestHeardAckClearsAwaiting(t *testing.T) {
	f := newFixture(t)
	f.setOnline("alice")
	f.coord.handle(RecordButtonPressed{})
	f.coord.handle(RecordButtonPressed{})
	require.True(t, f.coord.sentStatus["alice"])

	f.coord.handle(MessageHeardAck{FriendID: "alice", MessageID: "whatever"})
	assert.False(t, f.coord.sentStatus["alice"])
	assert.Equal(t, IndicatorOnline, f.indicators.states["alice"])
}

func TestPresenceSnapshot(t *testing.T) {
	f := newFixture(t)
	f.coord.handle(PresenceSnapshot{OnlineFriendIDs: []string{"bob"}})
	assert.Equal(t, PresenceOffline, f.coord.presence["alice"])
	assert.Equal(t, PresenceOnline, f.coord.presence["bob"])
	assert.Equal(t, IndicatorOnline, f.indicators.states["bob"])
	assert.Equal(t, IndicatorOff, f.indicators.states["alice"])
}

func TestConnectionLostResetsPresence(t *testing.T) {
	f := newFixture(t)
	f.setOnline("alice")
	f.setOnline("bob")

	f.coord.handle(ConnectionLost{})
	assert.Equal(t, PresenceUnknown, f.coord.presence["alice"])
	assert.Equal(t, PresenceUnknown, f.coord.presence["bob"])
	assert.Equal(t, IndicatorOff, f.indicators.states["alice"])
}

func TestPeerRecordingIndicator(t *testing.T) {
	f := newFixture(t)
	f.setOnline("bob")

	f.coord.handle(PeerRecordingStarted{FriendID: "bob"})
	assert.Equal(t, IndicatorPeerRecording, f.indicators.states["bob"])

	f.coord.handle(PeerRecordingStopped{FriendID: "bob"})
	assert.Equal(t, IndicatorOnline, f.indicators.states["bob"])
}

func TestIndicatorPriorityOrder(t *testing.T) {
	f := newFixture(t)
	f.setOnline("alice")
	f.arrive(t, "alice", "m1") // unheard
	f.coord.sentStatus["alice"] = true
	f.coord.recording["alice"] = true

	// Peer recording outranks unheard, awaiting-heard, and online.
	assert.Equal(t, IndicatorPeerRecording, f.coord.indicatorFor("alice"))

	f.coord.recording["alice"] = false
	assert.Equal(t, IndicatorUnheard, f.coord.indicatorFor("alice"))

	f.coord.messages["alice"][0].Heard = true
	assert.Equal(t, IndicatorAwaitingHeard, f.coord.indicatorFor("alice"))

	f.coord.sentStatus["alice"] = false
	assert.Equal(t, IndicatorOnline, f.coord.indicatorFor("alice"))

	f.coord.presence["alice"] = PresenceOffline
	assert.Equal(t, IndicatorOff, f.coord.indicatorFor("alice"))
}

func TestMessageFromUnknownFriendDropped(t *testing.T) {
	f := newFixture(t)
	f.coord.handle(MessageArrived{FriendID: "mallory", MessageID: "m1", AudioRef: "x"})
	assert.Empty(t, f.coord.messages["mallory"])
}

func TestFriendsReloaded(t *testing.T) {
	f := newFixture(t)
	f.arrive(t, "alice", "m1")

	f.coord.handle(FriendsReloaded{Friends: []Friend{
		{ID: "bob", Name: "Bob", RemoteID: "device-bob"},
		{ID: "carol", Name: "Carol", RemoteID: "device-carol"},
	}})

	// Removed friend loses history; selection falls back to the first entry.
	assert.Empty(t, f.coord.messages["alice"])
	assert.Equal(t, "bob", f.coord.selected)
	assert.Contains(t, f.coord.byID, "carol")
}

func TestStatePersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")

	f := newFixture(t, func(o *Options) { o.StatePath = statePath })
	kept := f.arrive(t, "alice", "m1")
	gone := f.arrive(t, "alice", "m2")
	f.setOnline("alice")
	f.coord.handle(RecordButtonPressed{})
	f.coord.handle(RecordButtonPressed{})

	// A received clip whose file vanished is dropped on the next load.
	require.NoError(t, os.Remove(gone))

	f2 := newFixture(t, func(o *Options) { o.StatePath = statePath })
	msgs := f2.coord.messages["alice"]
	require.Len(t, msgs, 2)
	assert.Equal(t, DirectionSent, msgs[0].Direction)
	assert.Equal(t, kept, msgs[1].AudioRef)
	assert.True(t, f2.coord.sentStatus["alice"])
}

func TestCorruptStateFileStartsFresh(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(statePath, []byte("{not json"), 0o644))

	f := newFixture(t, func(o *Options) { o.StatePath = statePath })
	assert.Empty(t, f.coord.messages["alice"])
	assert.Equal(t, StateIdle, f.coord.state)
}
