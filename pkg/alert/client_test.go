package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ther3zz/llm-communications-gateway/pkg/bridge"
)

type memoryCache struct {
	mu       sync.Mutex
	channels map[string]string
	saves    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{channels: make(map[string]string)}
}

func (m *memoryCache) ChannelFor(ctx context.Context, userID, channelName string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.channels[userID+"/"+channelName]
	return id, ok, nil
}

func (m *memoryCache) SaveChannel(ctx context.Context, userID, channelName, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[userID+"/"+channelName] = channelID
	m.saves++
	return nil
}

func TestFindChannelMatchesNameAndMembership(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/channels/", r.URL.Path)
		require.Equal(t, "Bearer admin-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode([]channelInfo{
			{ID: "other", Name: "General", UserIDs: []string{"user-1"}},
			{ID: "wrong-user", Name: DefaultChannelName, UserIDs: []string{"user-2"}},
			{ID: "match", Name: "llm-communications-gateway alerts", UserIDs: []string{"user-1"}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "admin-token", "", nil)
	id, err := c.FindChannel(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "match", id, "name match is case-insensitive")
}

func TestFindChannelMatchesOwner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]channelInfo{
			{ID: "owned", Name: DefaultChannelName, UserID: "user-1"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "admin-token", "", nil)
	id, err := c.FindChannel(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "owned", id)
}

func TestCreateChannelPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/channels/create", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, DefaultChannelName, payload["name"])
		assert.Equal(t, true, payload["is_private"])
		assert.Equal(t, []any{"user-1"}, payload["user_ids"])

		json.NewEncoder(w).Encode(channelInfo{ID: "new-channel"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "admin-token", "", nil)
	id, err := c.CreateChannel(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "new-channel", id)
}

func TestPostMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/channels/chan-1/messages/post", r.URL.Path)
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "hello", payload["content"])
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "admin-token", "", nil)
	require.NoError(t, c.PostMessage(context.Background(), "chan-1", "hello"))
}

func TestPostMessageRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "admin-token", "", nil)
	err := c.PostMessage(context.Background(), "chan-1", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestNotifyCreatesChannelAndCaches(t *testing.T) {
	var posted string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/channels/":
			json.NewEncoder(w).Encode([]channelInfo{})
		case "/api/v1/channels/create":
			json.NewEncoder(w).Encode(channelInfo{ID: "chan-9"})
		case "/api/v1/channels/chan-9/messages/post":
			var payload map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			posted = payload["content"]
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	cache := newMemoryCache()
	c := NewClient(srv.URL, "admin-token", "", cache)

	call := bridge.CallContext{
		To:      "+15551230001",
		From:    "+15551230002",
		Inbound: true,
		UserID:  "user-1",
	}
	result := bridge.CallResult{
		Status:     "completed",
		Duration:   95 * time.Second,
		Transcript: "User: hi\nAssistant: hello",
	}
	c.NotifyCallEnded(context.Background(), call, result)

	assert.Contains(t, posted, "**From:** +15551230002")
	assert.Contains(t, posted, "**To:** +15551230001")
	assert.Contains(t, posted, "**Duration:** 95s")
	assert.Contains(t, posted, "User: hi")

	id, ok, err := cache.ChannelFor(context.Background(), "user-1", DefaultChannelName)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "chan-9", id)
}

func TestNotifyUsesCacheWithoutLookup(t *testing.T) {
	var listed bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/channels/":
			listed = true
			json.NewEncoder(w).Encode([]channelInfo{})
		case "/api/v1/channels/cached/messages/post":
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	cache := newMemoryCache()
	require.NoError(t, cache.SaveChannel(context.Background(), "user-1", DefaultChannelName, "cached"))

	c := NewClient(srv.URL, "admin-token", "", cache)
	c.NotifyCallEnded(context.Background(), bridge.CallContext{UserID: "user-1", Inbound: true}, bridge.CallResult{Status: "completed"})

	assert.False(t, listed, "cached channel skips the lookup round trip")
}

func TestFormatCallSummaryEmptyTranscript(t *testing.T) {
	out := FormatCallSummary(bridge.CallContext{From: "+1", To: "+2"}, bridge.CallResult{Status: "completed"})
	assert.Contains(t, out, "(No transcription available)")
}
