package trace

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys used throughout the application
const (
	// Call attributes
	AttrCallID        = "call.id"
	AttrCallDirection = "call.direction"
	AttrCallRecordID  = "call.record_id"
	AttrStreamID      = "stream.id"
	AttrMediaSession  = "media.session_id"

	// Audio attributes
	AttrAudioCodec    = "audio.codec"
	AttrAudioDataSize = "audio.data_size"

	// Turn attributes
	AttrTurnReason = "turn.reason"

	// AI/LLM attributes
	AttrLLMModel = "llm.model"
	AttrTTSVoice = "tts.voice"

	// Error attributes
	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)

// Helper functions to create common attributes

// CallAttrs creates attributes for call lifecycle operations
func CallAttrs(callID, direction string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCallID, callID),
		attribute.String(AttrCallDirection, direction),
	}
}

// StreamAttrs creates attributes for media stream operations
func StreamAttrs(streamID, codec string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrStreamID, streamID),
		attribute.String(AttrAudioCodec, codec),
	}
}

// TurnAttrs creates attributes for one conversation turn
func TurnAttrs(callID, reason string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCallID, callID),
		attribute.String(AttrTurnReason, reason),
	}
}

// ErrorAttrs creates attributes for errors
func ErrorAttrs(errType, errMsg string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrErrorType, errType),
		attribute.String(AttrErrorMessage, errMsg),
	}
}
