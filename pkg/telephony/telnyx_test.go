package telephony

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*TelnyxClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewTelnyxClient("test-api-key")
	require.NoError(t, err)
	c.SetBaseURL(srv.URL)
	return c, srv
}

func TestNewTelnyxClientRequiresKey(t *testing.T) {
	_, err := NewTelnyxClient("")
	require.Error(t, err)
}

func TestDialWithStream(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/calls", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "conn-1", payload["connection_id"])
		assert.Equal(t, "+15551234567", payload["to"])
		assert.Equal(t, "+15557654321", payload["from"])
		assert.Equal(t, "wss://gw.example.com/api/voice/stream/abc", payload["stream_url"])
		assert.Equal(t, "both_tracks", payload["stream_track"])
		assert.Equal(t, "rtp", payload["stream_bidirectional_mode"])
		assert.Equal(t, "PCMA", payload["stream_bidirectional_codec"])

		w.Write([]byte(`{"data": {"call_control_id": "cc-123"}}`))
	})

	callID, err := c.Dial(context.Background(), DialParams{
		To:           " +15551234567 ",
		From:         "+15557654321",
		ConnectionID: "conn-1",
		StreamURL:    "wss://gw.example.com/api/voice/stream/abc",
		Codec:        "PCMA",
	})
	require.NoError(t, err)
	assert.Equal(t, "cc-123", callID)
}

func TestDialWithoutStreamOmitsStreamFields(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.NotContains(t, payload, "stream_url")
		assert.NotContains(t, payload, "stream_track")

		w.Write([]byte(`{"data": {"call_control_id": "cc-456"}}`))
	})

	callID, err := c.Dial(context.Background(), DialParams{
		To: "+15551234567", From: "+15557654321", ConnectionID: "conn-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "cc-456", callID)
}

func TestDialAPIError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors": [{"detail": "invalid destination"}]}`, http.StatusUnprocessableEntity)
	})

	_, err := c.Dial(context.Background(), DialParams{To: "bad", From: "+1", ConnectionID: "c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}

func TestDialMissingCallControlID(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": {}}`))
	})

	_, err := c.Dial(context.Background(), DialParams{To: "+1", From: "+2", ConnectionID: "c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "call_control_id")
}

func TestAnswer(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/calls/cc-123/actions/answer", r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "wss://gw.example.com/s/x", payload["stream_url"])
		assert.Equal(t, "rtp", payload["stream_bidirectional_mode"])

		w.Write([]byte(`{"data": {"result": "ok"}}`))
	})

	err := c.Answer(context.Background(), "cc-123", AnswerParams{
		StreamURL: "wss://gw.example.com/s/x",
		Codec:     "PCMU",
	})
	require.NoError(t, err)
}

func TestHangup(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/calls/cc-123/actions/hangup", r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "hangup_command", payload["command_id"])

		w.Write([]byte(`{"data": {"result": "ok"}}`))
	})

	require.NoError(t, c.Hangup(context.Background(), "cc-123"))
}

func TestHangupAlreadyEnded(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors": [{"detail": "call has already ended"}]}`, http.StatusUnprocessableEntity)
	})

	err := c.Hangup(context.Background(), "cc-123")
	require.Error(t, err)
}

func TestCreateApplication(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/outbound_voice_profiles":
			if r.Method == http.MethodGet {
				w.Write([]byte(`{"data": [{"id": "ovp-1"}]}`))
				return
			}
			t.Errorf("unexpected POST to voice profiles when one exists")
		case "/v2/call_control_applications":
			var payload map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "My Gateway", payload["application_name"])
			assert.Equal(t, "https://gw.example.com/api/voice/webhook", payload["webhook_event_url"])
			assert.Equal(t, true, payload["active"])
			outbound, ok := payload["outbound"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, "ovp-1", outbound["outbound_voice_profile_id"])

			w.Write([]byte(`{"data": {"id": "app-1"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	appID, err := c.CreateApplication(context.Background(), "My Gateway", "https://gw.example.com/api/voice/webhook")
	require.NoError(t, err)
	assert.Equal(t, "app-1", appID)
}

func TestCreateApplicationCreatesProfile(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/outbound_voice_profiles":
			if r.Method == http.MethodGet {
				w.Write([]byte(`{"data": []}`))
				return
			}
			w.Write([]byte(`{"data": {"id": "ovp-new"}}`))
		case "/v2/call_control_applications":
			var payload map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			outbound, ok := payload["outbound"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, "ovp-new", outbound["outbound_voice_profile_id"])
			w.Write([]byte(`{"data": {"id": "app-2"}}`))
		}
	})

	appID, err := c.CreateApplication(context.Background(), "GW", "https://example.com/hook")
	require.NoError(t, err)
	assert.Equal(t, "app-2", appID)
}

func TestUpdateApplication(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/call_control_applications/app-1", r.URL.Path)
		require.Equal(t, http.MethodPatch, r.Method)

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "https://new.example.com/hook", payload["webhook_event_url"])

		w.Write([]byte(`{"data": {"id": "app-1"}}`))
	})

	require.NoError(t, c.UpdateApplication(context.Background(), "app-1", "https://new.example.com/hook"))
}

func TestSendSMS(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/messages", r.URL.Path)

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "+15551234567", payload["to"])
		assert.Equal(t, "+15557654321", payload["from"])
		assert.Equal(t, "hello", payload["text"])

		w.Write([]byte(`{"data": {"id": "msg-1"}}`))
	})

	id, err := c.SendSMS(context.Background(), "+15551234567", "+15557654321", "hello")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
}
