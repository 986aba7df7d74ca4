// Package alert posts call summaries to a user's private channel on an
// Open WebUI-style channels API. Delivery is best effort; every failure is
// logged and swallowed so alerting can never take a call down with it.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/ther3zz/llm-communications-gateway/pkg/bridge"
)

// DefaultChannelName is the per-user alert channel created when none exists.
const DefaultChannelName = "LLM-Communications-Gateway Alerts"

// ChannelCache avoids a channel lookup round trip per alert. The store
// provides the durable implementation.
type ChannelCache interface {
	ChannelFor(ctx context.Context, userID, channelName string) (string, bool, error)
	SaveChannel(ctx context.Context, userID, channelName, channelID string) error
}

// Client talks to the channels API with an admin token.
type Client struct {
	baseURL     string
	token       string
	channelName string
	cache       ChannelCache
	httpClient  *http.Client
}

var _ bridge.Notifier = (*Client)(nil)

// NewClient creates a client. channelName falls back to DefaultChannelName;
// cache may be nil.
func NewClient(baseURL, token, channelName string, cache ChannelCache) *Client {
	if channelName == "" {
		channelName = DefaultChannelName
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		channelName: channelName,
		cache:       cache,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

type channelInfo struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	UserID  string   `json:"user_id"`
	UserIDs []string `json:"user_ids"`
}

// FindChannel looks for an existing channel with our name that the user is
// a member or owner of. Returns "" when none matches.
func (c *Client) FindChannel(ctx context.Context, userID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/channels/", nil)
	if err != nil {
		return "", fmt.Errorf("build channel list request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("list channels: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("list channels: status %d: %s", resp.StatusCode, string(body))
	}

	var channels []channelInfo
	if err := json.NewDecoder(resp.Body).Decode(&channels); err != nil {
		return "", fmt.Errorf("decode channel list: %w", err)
	}

	for _, ch := range channels {
		if !strings.EqualFold(ch.Name, c.channelName) {
			continue
		}
		if ch.UserID == userID {
			return ch.ID, nil
		}
		for _, id := range ch.UserIDs {
			if id == userID {
				return ch.ID, nil
			}
		}
	}
	return "", nil
}

// CreateChannel makes a private channel holding only the target user.
func (c *Client) CreateChannel(ctx context.Context, userID string) (string, error) {
	payload := map[string]any{
		"name":           c.channelName,
		"description":    "Communications Alerts from LLM Communications Gateway",
		"is_private":     true,
		"user_ids":       []string{userID},
		"access_control": map[string]any{},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal channel payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/channels/create", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build channel create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("create channel: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("create channel: status %d: %s", resp.StatusCode, string(raw))
	}

	var created channelInfo
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode created channel: %w", err)
	}
	return created.ID, nil
}

// PostMessage posts markdown content to a channel.
func (c *Client) PostMessage(ctx context.Context, channelID, content string) error {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("marshal message payload: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/channels/%s/messages/post", c.baseURL, channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build message request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("post message: status %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}

// NotifyCallEnded resolves the user's alert channel (cache, then lookup,
// then create) and posts the call summary.
func (c *Client) NotifyCallEnded(ctx context.Context, call bridge.CallContext, result bridge.CallResult) {
	channelID, err := c.resolveChannel(ctx, call.UserID)
	if err != nil {
		log.Printf("[Alert] channel resolution failed for user %s: %v", call.UserID, err)
		return
	}
	if channelID == "" {
		log.Printf("[Alert] no channel available for user %s", call.UserID)
		return
	}

	if err := c.PostMessage(ctx, channelID, FormatCallSummary(call, result)); err != nil {
		log.Printf("[Alert] failed to post summary to channel %s: %v", channelID, err)
		return
	}
	log.Printf("[Alert] summary posted to channel %s for user %s", channelID, call.UserID)
}

func (c *Client) resolveChannel(ctx context.Context, userID string) (string, error) {
	if c.cache != nil {
		if id, ok, err := c.cache.ChannelFor(ctx, userID, c.channelName); err != nil {
			log.Printf("[Alert] channel cache read failed: %v", err)
		} else if ok {
			return id, nil
		}
	}

	channelID, err := c.FindChannel(ctx, userID)
	if err != nil {
		return "", err
	}
	if channelID == "" {
		channelID, err = c.CreateChannel(ctx, userID)
		if err != nil {
			return "", err
		}
	}

	if channelID != "" && c.cache != nil {
		if err := c.cache.SaveChannel(ctx, userID, c.channelName, channelID); err != nil {
			log.Printf("[Alert] channel cache write failed: %v", err)
		}
	}
	return channelID, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
}

// FormatCallSummary renders the markdown alert body.
func FormatCallSummary(call bridge.CallContext, result bridge.CallResult) string {
	transcript := result.Transcript
	if transcript == "" {
		transcript = "(No transcription available)"
	}
	return fmt.Sprintf("**Inbound Call Alert**\n\n"+
		"**From:** %s\n"+
		"**To:** %s\n"+
		"**Duration:** %ds\n"+
		"**Status:** %s\n\n"+
		"**Transcription:**\n%s",
		call.From, call.To, int(result.Duration.Seconds()), result.Status, transcript)
}
