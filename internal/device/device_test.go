package device

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/talkiebox/talkie/internal/config"
	"github.com/talkiebox/talkie/internal/session"
)

func TestEstimateDuration(t *testing.T) {
	// One second of 16 kHz 16-bit mono plus the WAV header.
	oneSecond := int64(wavHeaderSize + sampleRate*bytesPerSample)
	assert.Equal(t, time.Second, estimateDuration(oneSecond))

	// Tiny and oversized clips clamp.
	assert.Equal(t, minPlayDuration, estimateDuration(10))
	assert.Equal(t, maxPlayDuration, estimateDuration(1<<30))
}

func TestFileAudioCaptureRoundTrip(t *testing.T) {
	a := NewFileAudio(t.TempDir())

	if _, ok := a.StopCapture(); ok {
		t.Fatal("stop without start must not produce a clip")
	}

	a.StartCapture()
	time.Sleep(20 * time.Millisecond)
	ref, ok := a.StopCapture()
	if !ok {
		t.Fatal("expected a captured clip")
	}
	if d := a.Play(ref); d < minPlayDuration {
		t.Fatalf("clip duration too short: %v", d)
	}
}

func TestFriendResolution(t *testing.T) {
	a := &App{}
	a.setFriends([]config.Friend{
		{ID: "alice", Name: "Alice", DeviceID: "box-2"},
		{ID: "bob", Name: "Bob", DeviceID: "box-3"},
	})

	id, ok := a.friendFor("box-3")
	assert.True(t, ok)
	assert.Equal(t, "bob", id)

	_, ok = a.friendFor("box-99")
	assert.False(t, ok)

	assert.Equal(t, []string{"box-2", "box-3"}, a.remoteIDs())
}

type recordingDispatcher struct {
	events []session.Event
}

func (d *recordingDispatcher) Dispatch(ev session.Event) {
	d.events = append(d.events, ev)
}

func TestReadKeysMapping(t *testing.T) {
	d := &recordingDispatcher{}
	input := strings.NewReader("r\nd\nalice\n\n")
	ReadKeys(context.Background(), input, d)

	if len(d.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(d.events))
	}
	assert.IsType(t, session.RecordButtonPressed{}, d.events[0])
	assert.IsType(t, session.DialogButtonPressed{}, d.events[1])
	assert.Equal(t, session.FriendButtonPressed{FriendID: "alice"}, d.events[2])
}
