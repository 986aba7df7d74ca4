// Package telephony holds the call-control surface consumed by the bridge
// and its Telnyx implementation.
package telephony

import "context"

// DialParams configures an outbound call.
type DialParams struct {
	To           string
	From         string
	ConnectionID string
	// StreamURL is where the provider should open the media socket.
	// Empty means no media streaming.
	StreamURL string
	// Codec for the bidirectional stream, e.g. "PCMU". Empty takes the
	// provider default.
	Codec string
}

// AnswerParams configures answering an inbound call.
type AnswerParams struct {
	StreamURL string
	Codec     string
}

// CallController is the narrow call-control surface the bridge depends on.
// The session supervisor and conversation turns use nothing beyond this.
type CallController interface {
	// Dial starts an outbound call and returns the provider call id.
	Dial(ctx context.Context, p DialParams) (string, error)
	// Answer accepts an inbound call, attaching the media stream.
	Answer(ctx context.Context, callID string, p AnswerParams) error
	// Hangup ends a call. Must be safe to call on already-ended calls.
	Hangup(ctx context.Context, callID string) error
}
