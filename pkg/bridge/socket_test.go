package bridge

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMediaMessageWireShape(t *testing.T) {
	msg := NewMediaMessage("ms-1", []byte{0xFF, 0xFF, 0x7F})

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "media", decoded["event"])
	assert.Equal(t, "ms-1", decoded["stream_id"])

	media, ok := decoded["media"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0xFF, 0xFF, 0x7F}), media["payload"])
}

func TestDecodePayload(t *testing.T) {
	frame := []byte{1, 2, 3, 4}
	msg := StreamMessage{
		Event: EventMedia,
		Media: &MediaPayload{Payload: base64.StdEncoding.EncodeToString(frame)},
	}

	got, err := msg.DecodePayload()
	require.NoError(t, err)
	assert.Equal(t, frame, got)
}

func TestDecodePayloadMissingMedia(t *testing.T) {
	msg := StreamMessage{Event: EventMedia}
	got, err := msg.DecodePayload()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDecodePayloadBadBase64(t *testing.T) {
	msg := StreamMessage{
		Event: EventMedia,
		Media: &MediaPayload{Payload: "%%% not base64 %%%"},
	}
	_, err := msg.DecodePayload()
	require.Error(t, err)
}

func TestInboundEventParsing(t *testing.T) {
	var msg StreamMessage
	require.NoError(t, json.Unmarshal([]byte(`{"event":"start","stream_id":"ms-42"}`), &msg))
	assert.Equal(t, EventStart, msg.Event)
	assert.Equal(t, "ms-42", msg.StreamID)

	require.NoError(t, json.Unmarshal([]byte(`{"event":"connected"}`), &msg))
	assert.Equal(t, EventConnected, msg.Event)
}
