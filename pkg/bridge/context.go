// Package bridge runs the live leg of a call: it owns the media socket
// session, the per-call context registry and the preload broker that hands
// pre-generated audio to a session once it attaches.
package bridge

import "time"

// CallContext is everything a media session needs to know about its call,
// registered under the public stream id before the provider connects.
type CallContext struct {
	// ProviderCallID is the provider's call control id, used for hangup
	// actions and as the preload queue key.
	ProviderCallID string
	// RecordID is the persisted call record, zero when persistence
	// failed at dial time.
	RecordID int64
	// To and From are the phone numbers of the call legs, carried for
	// record creation and alert summaries.
	To   string
	From string
	// Prompt is the per-call goal. Set on inbound calls too, where it
	// doubles as the greeting prompt.
	Prompt string
	// Inbound marks calls the provider initiated towards us.
	Inbound bool
	// Delay is extra silence played before any greeting.
	Delay time.Duration
	// MaxDuration is the hard call length limit.
	MaxDuration time.Duration
	// LimitMessage is spoken when MaxDuration is reached.
	LimitMessage string
	// UserID and ChatID tie the call to a chat account, when assigned.
	UserID string
	ChatID string
}
