// Package tts wraps the speech-synthesis backend. Audio is consumed as a
// chunked HTTP stream so playback can begin before synthesis finishes.
package tts

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

const streamChunkSize = 4096

// Client talks to the synthesis service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a synthesis client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

type speechRequest struct {
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

// StreamSynthesize streams synthesized WAV audio for the given text.
// Chunks arrive on the first channel in order; the error channel delivers
// at most one error. Both channels close when the stream ends. The timeout
// bounds the whole stream including the request.
func (c *Client) StreamSynthesize(ctx context.Context, text, voiceID string, timeout time.Duration) (<-chan []byte, <-chan error) {
	audioChan := make(chan []byte, 16)
	errChan := make(chan error, 1)

	go func() {
		defer close(audioChan)
		defer close(errChan)

		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		if voiceID == "" {
			voiceID = "default"
		}
		payload, err := json.Marshal(speechRequest{
			Input:          text,
			Voice:          voiceID,
			ResponseFormat: "wav",
		})
		if err != nil {
			errChan <- fmt.Errorf("marshal speech request: %w", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/audio/speech/stream", bytes.NewReader(payload))
		if err != nil {
			errChan <- fmt.Errorf("create speech request: %w", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			errChan <- fmt.Errorf("speech request: %w", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			errChan <- fmt.Errorf("speech stream returned %d: %s", resp.StatusCode, msg)
			return
		}

		total := 0
		for {
			buf := make([]byte, streamChunkSize)
			n, err := resp.Body.Read(buf)
			if n > 0 {
				total += n
				select {
				case audioChan <- buf[:n]:
				case <-ctx.Done():
					errChan <- ctx.Err()
					return
				}
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				errChan <- fmt.Errorf("speech stream read: %w", err)
				return
			}
		}
		log.Printf("[TTS] streamed %d bytes for %d chars", total, len(text))
	}()

	return audioChan, errChan
}

// Voice describes one available voice.
type Voice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type voicesResponse struct {
	Voices []Voice `json:"voices"`
}

// Voices lists the voices the backend offers. Errors degrade to an empty
// list; the caller shows no voices rather than failing.
func (c *Client) Voices(ctx context.Context) []Voice {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/voices", nil)
	if err != nil {
		return nil
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[TTS] voice listing failed: %v", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[TTS] voice listing returned %d", resp.StatusCode)
		return nil
	}

	var parsed voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		log.Printf("[TTS] voice listing decode failed: %v", err)
		return nil
	}
	return parsed.Voices
}
