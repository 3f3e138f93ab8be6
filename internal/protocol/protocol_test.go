package protocol

import (
	"bytes"
	"testing"
)

func TestParseRejectsJunk(t *testing.T) {
	if _, err := Parse([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid json")
	}
	if _, err := Parse([]byte(`{"device_id":"x"}`)); err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestAudioSurvivesTheWire(t *testing.T) {
	clip := []byte{0x00, 0xFF, 0x7F, 0x80, 0x01}
	data, err := Encode(&Envelope{
		Type:        TypeVoiceMessage,
		RecipientID: "box-2",
		MessageID:   "m1",
		AudioData:   clip,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Binary payloads ride as base64 inside the JSON frame.
	if bytes.Contains(data, clip) {
		t.Fatal("audio bytes leaked into the frame unencoded")
	}

	env, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !bytes.Equal(env.AudioData, clip) {
		t.Fatalf("payload corrupted: %v", env.AudioData)
	}
}

func TestUnusedFieldsOmitted(t *testing.T) {
	data, err := Encode(&Envelope{Type: TypePing})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(data) != `{"type":"ping"}` {
		t.Fatalf("ping frame should be minimal, got %s", data)
	}
}
