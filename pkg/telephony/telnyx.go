package telephony

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
)

const telnyxDefaultBaseURL = "https://api.telnyx.com"

// TelnyxClient implements CallController against the Telnyx v2 REST API.
type TelnyxClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewTelnyxClient creates a Telnyx call-control client.
func NewTelnyxClient(apiKey string) (*TelnyxClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("telnyx API key is required")
	}
	return &TelnyxClient{
		apiKey:     apiKey,
		baseURL:    telnyxDefaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// SetBaseURL overrides the API endpoint. Used in tests.
func (c *TelnyxClient) SetBaseURL(u string) {
	c.baseURL = strings.TrimRight(u, "/")
}

type telnyxEnvelope struct {
	Data json.RawMessage `json:"data"`
}

func (c *TelnyxClient) post(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telnyx request %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("telnyx %s returned %d: %s", path, resp.StatusCode, raw)
	}

	var env telnyxEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode telnyx response: %w", err)
	}
	return env.Data, nil
}

type dialPayload struct {
	ConnectionID  string `json:"connection_id"`
	To            string `json:"to"`
	From          string `json:"from"`
	StreamURL     string `json:"stream_url,omitempty"`
	StreamTrack   string `json:"stream_track,omitempty"`
	StreamBidiMod string `json:"stream_bidirectional_mode,omitempty"`
	StreamCodec   string `json:"stream_bidirectional_codec,omitempty"`
}

// Dial starts an outbound call via POST /v2/calls. When a stream URL is
// given, bidirectional RTP streaming for both tracks is requested so the
// bridge hears and speaks on the same socket.
func (c *TelnyxClient) Dial(ctx context.Context, p DialParams) (string, error) {
	payload := dialPayload{
		ConnectionID: p.ConnectionID,
		To:           strings.TrimSpace(p.To),
		From:         strings.TrimSpace(p.From),
	}
	if p.StreamURL != "" {
		payload.StreamURL = p.StreamURL
		payload.StreamTrack = "both_tracks"
		payload.StreamBidiMod = "rtp"
		payload.StreamCodec = p.Codec
	}

	data, err := c.post(ctx, "/v2/calls", payload)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", p.To, err)
	}

	var parsed struct {
		CallControlID string `json:"call_control_id"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode dial response: %w", err)
	}
	if parsed.CallControlID == "" {
		return "", fmt.Errorf("dial response missing call_control_id")
	}

	log.Printf("[Telnyx] dialed %s, call %s", p.To, parsed.CallControlID)
	return parsed.CallControlID, nil
}

type answerPayload struct {
	StreamURL     string `json:"stream_url,omitempty"`
	StreamTrack   string `json:"stream_track,omitempty"`
	StreamBidiMod string `json:"stream_bidirectional_mode,omitempty"`
	StreamCodec   string `json:"stream_bidirectional_codec,omitempty"`
}

// Answer accepts an inbound call with media streaming attached.
func (c *TelnyxClient) Answer(ctx context.Context, callID string, p AnswerParams) error {
	payload := answerPayload{}
	if p.StreamURL != "" {
		payload.StreamURL = p.StreamURL
		payload.StreamTrack = "both_tracks"
		payload.StreamBidiMod = "rtp"
		payload.StreamCodec = p.Codec
	}

	if _, err := c.post(ctx, "/v2/calls/"+callID+"/actions/answer", payload); err != nil {
		return fmt.Errorf("answer call %s: %w", callID, err)
	}
	log.Printf("[Telnyx] answered call %s", callID)
	return nil
}

type hangupPayload struct {
	CommandID string `json:"command_id"`
}

// Hangup ends a call. Telnyx rejects hangups on calls that already ended;
// that error surfaces to the caller, who treats it as best-effort.
func (c *TelnyxClient) Hangup(ctx context.Context, callID string) error {
	payload := hangupPayload{CommandID: "hangup_command"}
	if _, err := c.post(ctx, "/v2/calls/"+callID+"/actions/hangup", payload); err != nil {
		return fmt.Errorf("hangup call %s: %w", callID, err)
	}
	log.Printf("[Telnyx] hung up call %s", callID)
	return nil
}

// Application settings for call-control application management.
type Application struct {
	ID   string
	Name string
}

type createAppPayload struct {
	ApplicationName    string       `json:"application_name"`
	WebhookEventURL    string       `json:"webhook_event_url"`
	WebhookFailoverURL string       `json:"webhook_event_failover_url"`
	Active             bool         `json:"active"`
	AnchorsiteOverride string       `json:"anchorsite_override"`
	Outbound           *appOutbound `json:"outbound,omitempty"`
}

type appOutbound struct {
	OutboundVoiceProfileID string `json:"outbound_voice_profile_id"`
}

// CreateApplication creates a call-control application pointing its
// webhooks at this gateway, resolving or creating an outbound voice
// profile first.
func (c *TelnyxClient) CreateApplication(ctx context.Context, name, webhookURL string) (string, error) {
	profileID, err := c.ensureVoiceProfile(ctx)
	if err != nil {
		log.Printf("[Telnyx] voice profile lookup failed, creating app without one: %v", err)
	}

	payload := createAppPayload{
		ApplicationName:    name,
		WebhookEventURL:    webhookURL,
		Active:             true,
		AnchorsiteOverride: "Latency",
	}
	if profileID != "" {
		payload.Outbound = &appOutbound{OutboundVoiceProfileID: profileID}
	}

	data, err := c.post(ctx, "/v2/call_control_applications", payload)
	if err != nil {
		return "", fmt.Errorf("create application: %w", err)
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode application response: %w", err)
	}
	return parsed.ID, nil
}

// UpdateApplication repoints an application's webhook URL.
func (c *TelnyxClient) UpdateApplication(ctx context.Context, appID, webhookURL string) error {
	payload := map[string]string{"webhook_event_url": webhookURL}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+"/v2/call_control_applications/"+appID, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("update application %s: %w", appID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("update application %s returned %d: %s", appID, resp.StatusCode, raw)
	}
	return nil
}

func (c *TelnyxClient) ensureVoiceProfile(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/outbound_voice_profiles", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var parsed struct {
			Data []struct {
				ID string `json:"id"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err == nil && len(parsed.Data) > 0 {
			return parsed.Data[0].ID, nil
		}
	}

	data, err := c.post(ctx, "/v2/outbound_voice_profiles", map[string]string{"name": "LLM Gateway Outbound"})
	if err != nil {
		return "", err
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

type smsPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
}

// SendSMS sends a text message and returns the message id.
func (c *TelnyxClient) SendSMS(ctx context.Context, to, from, text string) (string, error) {
	data, err := c.post(ctx, "/v2/messages", smsPayload{
		From: strings.TrimSpace(from),
		To:   strings.TrimSpace(to),
		Text: text,
	})
	if err != nil {
		return "", fmt.Errorf("send SMS to %s: %w", to, err)
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode SMS response: %w", err)
	}
	return parsed.ID, nil
}

var _ CallController = (*TelnyxClient)(nil)
